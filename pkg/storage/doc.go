/*
Package storage provides BoltDB-backed state persistence for the Paddock
control plane.

The storage package implements the Store interface using BoltDB as the
underlying database. Nodes, allocations, servers, backups, transfers, eggs
and the audit log each live in their own bucket, serialized as JSON.

# Architecture

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <dataDir>/paddock.db               │          │
	│  │  - Transactions: ACID with fsync            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  nodes          (Node ID)                   │          │
	│  │  allocations    (Allocation ID)             │          │
	│  │  servers        (Server ID)                 │          │
	│  │  backups        (Backup ID)                 │          │
	│  │  transfers      (Transfer ID)               │          │
	│  │  eggs           (Egg ID)                    │          │
	│  │  audit_events   (big-endian sequence)       │          │
	│  └────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────┘

# Conditional Writes

Several operations must hold up under concurrent callers: two transfers
racing for the same destination allocation, a daemon retrying a backup
callback, or a reboot reset running alongside an install callback. These
are expressed as single methods that read, check and write inside one
db.Update() transaction:

  - ReserveAllocations: every allocation must belong to the node and be
    unassigned, otherwise nothing is written
  - ReleaseAllocations: only allocations still held by the server are freed
  - CreateTransfer: rejected if the server already has a pending transfer
  - CommitTransfer / FailTransfer: only a pending transfer can be resolved
  - CompleteBackup: only a backup without a result can be completed
  - ResetStuckServers: status is cleared only for the listed statuses

BoltDB serializes write transactions, so the check and the write can never
interleave with another writer. When the store sits behind the Raft FSM
(see package manager) the same methods are applied in log order on every
replica.

# Identifiers

Records created without an ID get the next bucket sequence number. Callers
that need deterministic IDs across replicas leave ID empty and let the FSM
assign it. Timestamps are always supplied by the caller.

# Usage

	store, err := storage.NewBoltStore("/var/lib/paddock")
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.ReserveAllocations(nodeID, serverID, []string{"12", "13"})
	if errors.Is(err, errdefs.ErrAllocationConflict) {
		// another server got there first
	}
*/
package storage
