package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/paddock/pkg/audit"
	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/cuemby/paddock/pkg/types"
)

// ActivityItem is one entry of a daemon activity log
type ActivityItem struct {
	Event     string                 `json:"event"`
	Timestamp string                 `json:"timestamp"`
	User      string                 `json:"user,omitempty"`
	Server    string                 `json:"server,omitempty"`
	IP        string                 `json:"ip,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ActivityBatch is a batch of activity posted by a daemon
type ActivityBatch struct {
	Data []ActivityItem `json:"data"`
}

// ActivityResult counts what happened to a batch
type ActivityResult struct {
	Received  int `json:"received"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// IngestActivity writes each item of batch to the audit log. Items are
// independent: a bad item is logged and counted, never fatal to the batch.
func (s *Service) IngestActivity(ctx context.Context, node *types.Node, batch ActivityBatch) ActivityResult {
	result := ActivityResult{Received: len(batch.Data)}
	servers := make(map[string]*types.Server)

	for i, item := range batch.Data {
		if err := s.ingest(ctx, node, item, servers); err != nil {
			result.Failed++
			metrics.ActivityEvents.WithLabelValues("failed").Inc()
			s.logger.Warn().Err(err).Str("node_id", node.ID).Int("index", i).Str("event", item.Event).Msg("Skipping activity item")
			continue
		}
		result.Processed++
		metrics.ActivityEvents.WithLabelValues("processed").Inc()
	}
	return result
}

func (s *Service) ingest(ctx context.Context, node *types.Node, item ActivityItem, servers map[string]*types.Server) error {
	if item.Event == "" {
		return fmt.Errorf("activity item has no event")
	}
	at, err := time.Parse(time.RFC3339, item.Timestamp)
	if err != nil {
		return fmt.Errorf("invalid activity timestamp %q: %w", item.Timestamp, err)
	}

	event := &types.AuditEvent{
		Actor:     node.ID,
		ActorType: types.ActorDaemon,
		Event:     item.Event,
		IP:        item.IP,
		Timestamp: at.UTC(),
	}
	if item.User != "" {
		event.Actor = item.User
		event.ActorType = types.ActorUser
	}

	if item.Server != "" {
		server, ok := servers[item.Server]
		if !ok {
			server, err = s.ownedServer(node, item.Server)
			if err != nil {
				return err
			}
			servers[item.Server] = server
		}
		subject := audit.ServerSubject(server)
		event.SubjectType = subject.Type
		event.SubjectID = subject.ID
	}

	if len(item.Metadata) > 0 {
		event.Metadata = make(map[string]string, len(item.Metadata))
		for k, v := range item.Metadata {
			event.Metadata[k] = fmt.Sprint(v)
		}
	}

	return s.recorder.RecordEvent(ctx, event)
}
