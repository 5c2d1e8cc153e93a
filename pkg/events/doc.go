/*
Package events is the in-process event bus of the control plane.

Core packages publish an Event when a server finishes installing, a backup
completes, a transfer starts or resolves, and so on. Subscribers read from
buffered channels; a subscriber whose buffer is full misses events rather
than blocking the publisher.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

NATSForwarder subscribes to the broker and republishes every event as JSON
on "<prefix>.<type>", e.g. "paddock.events.transfer.completed", so systems
outside the control plane can react without polling.

Delivery is best effort. The audit log, not the event stream, is the record
of what happened.
*/
package events
