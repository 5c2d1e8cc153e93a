/*
Package log provides structured logging for Paddock using zerolog.

A single package-level zerolog.Logger is configured once at startup with Init
and shared by every component. Components derive child loggers that carry
their identity:

	transferLog := log.WithComponent("transfer")
	transferLog.Info().
		Str("server_uuid", server.UUID).
		Str("target_node", req.TargetNodeID).
		Msg("Transfer initiated")

Node daemons are noisy peers; errors they return are logged here in full and
only summarized in API responses.

# Output

Console output (default) is human readable with RFC3339 timestamps. JSON
output is intended for log shippers:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
*/
package log
