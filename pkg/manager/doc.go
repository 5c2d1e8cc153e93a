/*
Package manager implements the Paddock control plane node with Raft consensus.

A Manager replicates every state change through Raft and applies it to a
local BoltStore, so any number of control plane processes share one totally
ordered view of nodes, allocations, servers, backups, transfers, eggs and
the audit log. Manager satisfies storage.Store; the rest of the control
plane depends on that interface and never talks to Raft directly.

# Architecture

	┌─────────────────────── MANAGER NODE ───────────────────────┐
	│                                                              │
	│  ┌──────────────────────────────────────────────┐          │
	│  │   admin / remote HTTP APIs (storage.Store)    │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │              Manager                          │          │
	│  │  - Writes: marshal Command, raft.Apply        │          │
	│  │  - Reads: local BoltStore                     │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │         PaddockFSM                            │          │
	│  │  - Apply(): run the store method for the op   │          │
	│  │  - Snapshot() / Restore()                     │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │   BoltStore (paddock.db) + raft-boltdb logs   │          │
	│  └────────────────────────────────────────────────┘         │
	└──────────────────────────────────────────────────────────┘

# Commands

Each write on the Store interface maps to one Command op. Conditional store
methods (ReserveAllocations, CreateTransfer, CommitTransfer, FailTransfer,
CompleteBackup, ResetStuckServers) run inside the FSM, so the check and the
write happen at the same log index on every replica. The FSM returns either
an error or the operation's result; Manager.Apply surfaces both.

Commands never read the wall clock or generate random values inside the
FSM. Timestamps travel in the payload and new IDs come from bucket
sequences, which advance identically on every replica.

# Startup

The local paddock.db is discarded when a Manager is created and rebuilt by
Raft from the latest snapshot plus the log.

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   "cp-1",
		BindAddr: "10.0.0.10:7946",
		DataDir:  "/var/lib/paddock",
	})
	if err != nil {
		return err
	}
	if err := mgr.Bootstrap(); err != nil {
		return err
	}

Additional managers call Join with the leader's admin URL; the leader adds
them with AddVoter.

# Monitoring

MetricsCollector periodically exports node, server and transfer counts and
Raft leadership to Prometheus (see package metrics).
*/
package manager
