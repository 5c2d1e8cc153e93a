package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/paddock/pkg/clock"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/cuemby/paddock/pkg/storage"
	"github.com/cuemby/paddock/pkg/types"
)

// Sink persists audit events
type Sink interface {
	Record(ctx context.Context, event *types.AuditEvent) error
}

// Subject is the object an event is about
type Subject struct {
	Type string
	ID   string
}

// ServerSubject returns the subject for a server
func ServerSubject(server *types.Server) Subject {
	return Subject{Type: "server", ID: server.UUID}
}

// Recorder stamps events with the context actor and the current time
// before handing them to a sink
type Recorder struct {
	sink   Sink
	clock  clock.Clock
	logger zerolog.Logger
}

// NewRecorder creates a recorder. A nil clock uses the real clock.
func NewRecorder(sink Sink, clk clock.Clock) *Recorder {
	if clk == nil {
		clk = clock.Real()
	}
	return &Recorder{
		sink:   sink,
		clock:  clk,
		logger: log.WithComponent("audit"),
	}
}

// Record writes one event. Write failures are logged and returned; most
// callers ignore them because the audited change has already happened.
// A nil recorder discards events.
func (r *Recorder) Record(ctx context.Context, name string, subject Subject, metadata map[string]string) error {
	if r == nil {
		return nil
	}
	actor := ActorFrom(ctx)
	return r.RecordEvent(ctx, &types.AuditEvent{
		Actor:       actor.ID,
		ActorType:   actor.Type,
		IP:          actor.IP,
		Event:       name,
		SubjectType: subject.Type,
		SubjectID:   subject.ID,
		Metadata:    metadata,
		Timestamp:   r.clock.Now().UTC(),
	})
}

// RecordEvent writes a prepared event, filling the timestamp if unset
func (r *Recorder) RecordEvent(ctx context.Context, event *types.AuditEvent) error {
	if r == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.clock.Now().UTC()
	}
	if err := r.sink.Record(ctx, event); err != nil {
		r.logger.Warn().Err(err).Str("event", event.Event).Msg("Failed to write audit event")
		return err
	}
	return nil
}

// StoreSink writes events to the replicated store
type StoreSink struct {
	store storage.Store
}

// NewStoreSink creates a sink backed by store
func NewStoreSink(store storage.Store) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Record(_ context.Context, event *types.AuditEvent) error {
	if err := s.store.AppendAuditEvent(event); err != nil {
		metrics.AuditWriteFailures.WithLabelValues("store").Inc()
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// MultiSink writes every event to all of its sinks. An event counts as
// recorded if the first sink accepts it; later sinks are mirrors and their
// failures are only logged.
type MultiSink struct {
	primary Sink
	mirrors []Sink
	logger  zerolog.Logger
}

// NewMultiSink creates a fan-out sink
func NewMultiSink(primary Sink, mirrors ...Sink) *MultiSink {
	return &MultiSink{
		primary: primary,
		mirrors: mirrors,
		logger:  log.WithComponent("audit"),
	}
}

func (m *MultiSink) Record(ctx context.Context, event *types.AuditEvent) error {
	if err := m.primary.Record(ctx, event); err != nil {
		return err
	}

	var errs []error
	for _, mirror := range m.mirrors {
		if err := mirror.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		m.logger.Warn().Err(err).Str("event", event.Event).Msg("Audit mirror write failed")
	}
	return nil
}
