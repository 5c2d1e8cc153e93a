/*
Package health tracks whether node daemons answer.

A Checker runs one probe and returns a Result. Status folds successive
results together: a target goes unhealthy only after Config.Retries
consecutive failures and comes back on the first success, so one dropped
request does not flap a node offline.

# Usage

	checker := health.NewDaemonChecker(func(ctx context.Context) error {
		_, err := client.GetSystemInformation(ctx)
		return err
	}, 5*time.Second)

	status := health.NewStatus()
	if status.Update(checker.Check(ctx), health.DefaultConfig()) {
		// Healthy flipped
	}

The reconciler keeps one Status per node and publishes node.online and
node.offline events on each flip.
*/
package health
