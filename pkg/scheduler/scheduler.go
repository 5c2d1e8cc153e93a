package scheduler

import (
	"fmt"
	"sort"

	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/types"
)

// Usage is an amount of node memory and disk, in MiB
type Usage struct {
	Memory int64
	Disk   int64
}

// Add returns u + o
func (u Usage) Add(o Usage) Usage {
	return Usage{Memory: u.Memory + o.Memory, Disk: u.Disk + o.Disk}
}

// UsageOf returns what a server's limits commit on its node
func UsageOf(server *types.Server) Usage {
	return Usage{Memory: server.Limits.Memory, Disk: server.Limits.Disk}
}

// effectiveLimit applies an overallocation percentage to a capacity.
// Unlimited returns false.
func effectiveLimit(capacity, overallocate int64) (int64, bool) {
	if overallocate == types.Unlimited {
		return 0, false
	}
	return capacity + capacity*overallocate/100, true
}

// CheckCapacity fails with InsufficientCapacity if adding required to
// committed would exceed the node's memory or disk limit
func CheckCapacity(node *types.Node, committed, required Usage) error {
	total := committed.Add(required)

	if limit, bounded := effectiveLimit(node.Memory, node.MemoryOverallocate); bounded && total.Memory > limit {
		return errdefs.InsufficientCapacity(
			"node %s memory: %d MiB committed + %d MiB required exceeds %d MiB",
			node.ID, committed.Memory, required.Memory, limit)
	}
	if limit, bounded := effectiveLimit(node.Disk, node.DiskOverallocate); bounded && total.Disk > limit {
		return errdefs.InsufficientCapacity(
			"node %s disk: %d MiB committed + %d MiB required exceeds %d MiB",
			node.ID, committed.Disk, required.Disk, limit)
	}
	return nil
}

// Scheduler places servers on nodes
type Scheduler struct {
	store storage.Store
}

// NewScheduler creates a new scheduler
func NewScheduler(store storage.Store) *Scheduler {
	return &Scheduler{store: store}
}

// Committed sums the limits of every server on nodeID. exclude is left out
// of the sum so a server is never counted against itself.
func (s *Scheduler) Committed(nodeID, exclude string) (Usage, error) {
	servers, err := s.store.ListServersByNode(nodeID)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to list servers on node %s: %w", nodeID, err)
	}

	var used Usage
	for _, server := range servers {
		if server.ID == exclude {
			continue
		}
		used = used.Add(UsageOf(server))
	}
	return used, nil
}

// CheckNode checks that nodeID can take required on top of what it runs
func (s *Scheduler) CheckNode(node *types.Node, required Usage, exclude string) error {
	used, err := s.Committed(node.ID, exclude)
	if err != nil {
		return err
	}
	return CheckCapacity(node, used, required)
}

// Placement is where a new server goes
type Placement struct {
	Node       *types.Node
	Allocation *types.Allocation
}

// SelectNode picks the node with the fewest servers that has room for
// required and at least one free allocation
func (s *Scheduler) SelectNode(required Usage) (*Placement, error) {
	nodes, err := s.store.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	type candidate struct {
		placement Placement
		servers   int
	}
	var candidates []candidate

	for _, node := range nodes {
		servers, err := s.store.ListServersByNode(node.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list servers on node %s: %w", node.ID, err)
		}
		var used Usage
		for _, server := range servers {
			used = used.Add(UsageOf(server))
		}
		if CheckCapacity(node, used, required) != nil {
			continue
		}

		free, err := s.freeAllocation(node.ID)
		if err != nil {
			return nil, err
		}
		if free == nil {
			continue
		}

		candidates = append(candidates, candidate{
			placement: Placement{Node: node, Allocation: free},
			servers:   len(servers),
		})
	}

	if len(candidates) == 0 {
		return nil, errdefs.InsufficientCapacity("no node has room for %d MiB memory and %d MiB disk", required.Memory, required.Disk)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].servers < candidates[j].servers
	})
	return &candidates[0].placement, nil
}

func (s *Scheduler) freeAllocation(nodeID string) (*types.Allocation, error) {
	allocations, err := s.store.ListAllocationsByNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations on node %s: %w", nodeID, err)
	}
	for _, a := range allocations {
		if !a.IsAssigned() {
			return a, nil
		}
	}
	return nil, nil
}
