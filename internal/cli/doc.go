// Package cli provides the command-line interface for chorus.
//
// The root command is built by NewRootCommand; Execute runs it with
// explicit arguments and output so tests can drive it. Subcommands:
//
//	run                      interactive multi-agent session
//	health                   probe the backend once
//	export <id>              write a stored conversation
//	persona add|list|delete  manage personas
//	model add|list|delete    manage model connections
//	token                    mint a bearer token
//
// Every subcommand reads the config named by -c, $CHORUS_CONFIG or the
// default location, falling back to defaults when the file is absent.
package cli
