// Package config handles configuration loading for chorus.
//
// # Configuration File
//
// Location, in order:
//
//  1. The --config flag
//  2. Path from the CHORUS_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/chorus/config.yaml
//
// A missing file means defaults. Files ending in .toml are TOML; anything
// else is YAML. Both use the same keys.
//
// # Environment Variable Expansion
//
//	auth:
//	  jwt_secret: "${CHORUS_JWT_SECRET}"
//
// # Duration Parsing
//
// Durations use time.ParseDuration syntax ("500ms", "30s", "2m").
//
// # Configuration Sections
//
//	backend:
//	  url: "http://localhost:8000"
//	  websocket_path: "/ws"
//
//	transport:
//	  reconnect_base: "1s"     # delay before attempt 1, x1.5 per attempt
//	  max_delay: "30s"
//	  max_attempts: 5
//	  dial_timeout: "15s"
//	  ping_interval: "25s"     # "0s" disables keepalive pings
//
//	monitor:
//	  interval: "30s"
//	  probe_timeout: "5s"
//
//	orchestration:
//	  auto_interval: "5s"
//	  settle_delay: "500ms"
//	  turn_timeout: "2m"       # "0s" disables
//	  completion_threshold: 10
//	  context_messages: 10
//
//	database:
//	  path: "~/.local/share/chorus/chorus.db"
//
//	auth:
//	  jwt_secret: "${CHORUS_JWT_SECRET}"   # empty disables bearer auth
//	  client_id: "chorus"
//	  token_ttl: "24h"
//
//	logging:
//	  level: "info"    # debug, info, warn, error
//	  format: "text"   # text, json
//	  file: ""         # optional JSON log file
//
//	metrics:
//	  enabled: false
//	  addr: "127.0.0.1:9464"
//	  path: "/metrics"
package config
