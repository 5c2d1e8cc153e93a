package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/paddock/pkg/clock"
)

// ProbeFunc asks a daemon for something cheap, usually its system information
type ProbeFunc func(ctx context.Context) error

// DaemonChecker probes a node daemon over its API
type DaemonChecker struct {
	// Probe is called once per check
	Probe ProbeFunc

	// Timeout bounds one probe
	Timeout time.Duration

	// Clock stamps results
	Clock clock.Clock
}

// NewDaemonChecker creates a checker around probe
func NewDaemonChecker(probe ProbeFunc, timeout time.Duration) *DaemonChecker {
	return &DaemonChecker{
		Probe:   probe,
		Timeout: timeout,
		Clock:   clock.Real(),
	}
}

// Check runs the probe once
func (d *DaemonChecker) Check(ctx context.Context) Result {
	start := d.Clock.Now()

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	if err := d.Probe(ctx); err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("probe failed: %v", err),
			CheckedAt: start,
			Duration:  d.Clock.Now().Sub(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   "daemon answered",
		CheckedAt: start,
		Duration:  d.Clock.Now().Sub(start),
	}
}

// Type returns the health check type
func (d *DaemonChecker) Type() CheckType {
	return CheckTypeDaemon
}
