/*
Package daemon is the HTTP client for the node daemon API.

Every node runs a daemon that owns the game-server containers on that
machine. The control plane drives it with authenticated JSON requests:

	Authorization: Bearer <tokenId>.<token>
	Accept: application/json

The base URL is "<scheme>://<fqdn>:<daemonListen>/api". Each call is bounded
by a deadline (15s by default, 5s for resource polling) and is never retried
here; callers decide whether to retry.

# Errors

A transport failure or an expired deadline returns an errdefs error of kind
daemon_unreachable. A non-2xx response returns kind daemon_rpc carrying the
status code and the daemon's message, which is read from either

	{"error": "..."}
	{"errors": [{"code": "...", "detail": "..."}]}

The raw body is logged, never returned to API callers.

# Usage

	client, err := daemon.New(daemon.Config{
		Scheme:       "https",
		FQDN:         "node1.example.com",
		DaemonListen: 8080,
		TokenID:      tokenID,
		Token:        token,
	})
	if err != nil {
		return err
	}
	err = client.SendPowerAction(ctx, server.UUID, daemon.PowerRestart)
*/
package daemon
