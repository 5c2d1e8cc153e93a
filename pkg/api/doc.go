/*
Package api implements the admin HTTP API of the Paddock control plane.

The admin API is how operators and the paddock CLI manage nodes, eggs and
game servers. It sits in front of the store and the node daemons: reads come
from the store, while actions that touch a running server are forwarded to
the daemon on the server's node through the daemon registry.

# Architecture

	┌───────────────── OPERATOR (paddock CLI) ─────────────────┐
	│  pkg/client  ──  Authorization: Bearer <api key>          │
	└──────────────────────────┬───────────────────────────────┘
	                           │ HTTP /api/admin
	┌──────────────────────────▼──────── CONTROL PLANE ────────┐
	│  RequireAPIKey ─► Instrument ─► ServeMux                  │
	│                                   │                       │
	│      ┌──────────────┬─────────────┼──────────────┐        │
	│      ▼              ▼             ▼              ▼        │
	│   storage      provision      transfer       registry     │
	│  (BoltDB)    (install queue)  (orchestrator) (daemons)    │
	└───────────────────────────────────────────────────────────┘

# Routes

Servers:
  - GET/POST /servers, GET /servers/{id}
  - POST /servers/{id}/transfer, reinstall, suspend, unsuspend
  - POST /servers/{id}/power, command
  - GET /servers/{id}/resources, websocket
  - GET/POST /servers/{id}/backups, POST /servers/{id}/backups/{backup}/restore

Nodes and eggs:
  - GET/POST /nodes, GET /nodes/{id}/system
  - GET/POST /nodes/{id}/allocations
  - GET/POST /eggs

Cluster and audit:
  - POST /cluster/voters, DELETE /cluster/voters/{id}
  - GET /audit

Server routes accept either the internal id or the server UUID.

# Errors

Handlers return errors through httpapi.Error, which maps errdefs kinds to
status codes. Daemon failures become 502 without leaking the daemon's
response body. Read paths that only report live state (resources, system)
degrade to an offline answer instead of failing when the daemon is down.

# Health

HealthServer serves /health, /ready and /metrics. Readiness requires a known
Raft leader and a store that answers.

# Usage

	srv := api.NewServer(api.Config{
		Store:       store,
		Clients:     registry,
		Trigger:     trigger,
		Provisioner: runner,
		Transfers:   orchestrator,
		Cluster:     mgr,
		Codec:       codec,
		Recorder:    recorder,
		APIKey:      cfg.APIKey,
	})
	mux.Handle(api.Prefix+"/", srv)
*/
package api
