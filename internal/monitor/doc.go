// Package monitor watches backend reachability and gates the transport.
//
// HTTPProber issues GET <backend>/ and treats any response below 500 as
// reachable. Monitor probes at Start and then every interval (30s by
// default). When the backend becomes reachable it enables the transport
// and connects; when it becomes unreachable it disables the transport.
package monitor
