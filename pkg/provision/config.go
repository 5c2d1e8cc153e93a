package provision

import (
	"errors"
	"fmt"

	"github.com/cuemby/paddock/pkg/daemon"
	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/types"
)

// BuildServerConfig assembles what a daemon needs to create or boot server
func BuildServerConfig(store storage.Store, server *types.Server) (*daemon.ServerConfig, error) {
	image := server.Image
	startup := server.Startup
	if server.EggID != "" {
		egg, err := store.GetEgg(server.EggID)
		if err != nil && !errors.Is(err, errdefs.ErrNotFound) {
			return nil, fmt.Errorf("failed to load egg %s: %w", server.EggID, err)
		}
		if egg != nil {
			if image == "" {
				image = egg.DockerImage
			}
			if startup == "" {
				startup = egg.Startup
			}
		}
	}

	mapping, err := AllocationMapping(store, server)
	if err != nil {
		return nil, err
	}

	return &daemon.ServerConfig{
		UUID:        server.UUID,
		Meta:        daemon.ServerMeta{Name: server.Name},
		Suspended:   server.Suspended,
		Invocation:  startup,
		Environment: server.Environment,
		Build: daemon.BuildLimits{
			MemoryLimit: server.Limits.Memory,
			Swap:        server.Limits.Swap,
			IOWeight:    server.Limits.IO,
			CPULimit:    server.Limits.CPU,
			Threads:     server.Limits.Threads,
			DiskSpace:   server.Limits.Disk,
		},
		Container:   daemon.ContainerSpec{Image: image},
		Allocations: *mapping,
		Egg:         daemon.EggSpec{ID: server.EggID},
	}, nil
}

// AllocationMapping describes every allocation held by server, with its
// primary allocation as the default
func AllocationMapping(store storage.Store, server *types.Server) (*daemon.AllocationMapping, error) {
	allocations, err := store.ListAllocationsByServer(server.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations for server %s: %w", server.ID, err)
	}

	primary, err := store.GetAllocation(server.AllocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load primary allocation for server %s: %w", server.ID, err)
	}

	// During a transfer the server also holds its destination allocations;
	// the mapping only describes the node it currently lives on
	var onNode []*types.Allocation
	for _, a := range allocations {
		if a.NodeID == primary.NodeID {
			onNode = append(onNode, a)
		}
	}
	return MappingFor(primary, onNode), nil
}

// MappingFor builds a mapping from a primary allocation and a set of
// allocations on the same node
func MappingFor(primary *types.Allocation, allocations []*types.Allocation) *daemon.AllocationMapping {
	mapping := &daemon.AllocationMapping{Mappings: make(map[string][]int)}
	mapping.Default.IP = primary.IP
	mapping.Default.Port = primary.Port

	seen := false
	for _, a := range allocations {
		if a.ID == primary.ID {
			seen = true
		}
		mapping.Mappings[a.IP] = append(mapping.Mappings[a.IP], a.Port)
	}
	if !seen {
		mapping.Mappings[primary.IP] = append(mapping.Mappings[primary.IP], primary.Port)
	}
	return mapping
}
