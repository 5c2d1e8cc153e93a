/*
Package types defines the core data structures used throughout Paddock.

These types are the desired-state model the control plane keeps about its
fleet of node daemons: nodes, the IP:port allocations they expose, the game
servers placed on them, the backups and transfers of those servers, the eggs
servers are installed from, and the audit trail of everything that happened.

# Core Types

Fleet:
  - Node: a machine running the node daemon, with capacity and credentials
  - Allocation: an IP:port pair owned by a node, optionally bound to a server

Workloads:
  - Server: desired state of a game server (node, primary allocation, limits)
  - ServerStatus: healthy, or one of the transitional/failed states
  - Limits: memory, swap, disk, io and cpu limits enforced by the daemon
  - Egg: install script and startup template for a server image

Operations:
  - Backup: archive of a server's files, finalized by a daemon callback
  - Transfer: move of a server between nodes (pending, succeeded, failed)
  - AuditEvent: append-only activity record

# Server Status

The status of a server is never empty. A server that is not in the middle of
an operation is ServerStatusHealthy; the remaining values mark in-flight work
(installing, restoring_backup), the result of failed work (install_failed,
reinstall_failed, restore_failed) or a terminal state (archived). Whether a
control-plane operation is legal is decided from this stored status only,
never from the runtime state the daemon reports.

# Transfer Status

Transfers start as TransferStatusPending and are resolved exactly once to
succeeded or failed. At most one pending transfer exists per server; the
storage layer enforces this with a conditional write.

# Units

Memory, swap and disk are MiB. Overallocation is a percentage added on top of
the configured capacity; Unlimited (-1) removes the bound entirely.
*/
package types
