package provision

import (
	"context"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/cuemby/paddock/pkg/errdefs"
	"github.com/cuemby/paddock/pkg/events"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/metrics"
)

// Provisioner is the work a Runner retries
type Provisioner interface {
	Provision(ctx context.Context, serverID string) error
}

// RunnerConfig tunes a Runner. Zero values select the defaults.
type RunnerConfig struct {
	Workers   int
	Attempts  uint
	Delay     time.Duration
	QueueSize int
}

// Runner provisions servers in the background, retrying daemon failures
type Runner struct {
	provisioner Provisioner
	broker      *events.Broker
	workers     int
	attempts    uint
	delay       time.Duration

	jobs   chan string
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	logger zerolog.Logger
}

// NewRunner creates a runner; call Start to begin processing
func NewRunner(p Provisioner, broker *events.Broker, cfg RunnerConfig) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Runner{
		provisioner: p,
		broker:      broker,
		workers:     cfg.Workers,
		attempts:    cfg.Attempts,
		delay:       cfg.Delay,
		jobs:        make(chan string, cfg.QueueSize),
		stopCh:      make(chan struct{}),
		logger:      log.WithComponent("provision-runner"),
	}
}

// Start launches the workers
func (r *Runner) Start() {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
}

// Stop stops accepting jobs and waits for in-flight ones to finish.
// Queued jobs that have not started are dropped.
func (r *Runner) Stop() {
	r.once.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Enqueue schedules serverID for provisioning
func (r *Runner) Enqueue(serverID string) error {
	select {
	case <-r.stopCh:
		return errdefs.InvalidState("provisioning runner is stopped")
	default:
	}

	select {
	case r.jobs <- serverID:
		return nil
	default:
		return errdefs.InvalidState("provisioning queue is full")
	}
}

func (r *Runner) work() {
	defer r.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.stopCh
		cancel()
	}()

	for {
		select {
		case <-r.stopCh:
			return
		case serverID := <-r.jobs:
			r.run(ctx, serverID)
		}
	}
}

func (r *Runner) run(ctx context.Context, serverID string) {
	err := retry.Do(
		func() error {
			return r.provisioner.Provision(ctx, serverID)
		},
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.Context(ctx),
		retry.RetryIf(errdefs.IsDaemonFailure),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn().Err(err).Str("server_id", serverID).Uint("attempt", n+1).Msg("Provisioning attempt failed")
		}),
	)

	metrics.ProvisionJobs.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		r.logger.Error().Err(err).Str("server_id", serverID).Msg("Provisioning abandoned")
		event := events.NewEvent(events.EventProvisionJobAbandoned, "", err.Error())
		event.Metadata = map[string]string{"server_id": serverID}
		r.broker.Publish(event)
	}
}
