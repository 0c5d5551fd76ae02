/*
Package events provides an in-memory event broker for task-lifecycle
notifications: a lightweight pub/sub bus so the coordinator's feedback loop
can fan a task's progress and outcome out to any number of interested
subscribers (a CLI watch command, metrics, audit logging) without coupling
the Worker or Coordinator to any one of them.

# Architecture

	Worker --FeedbackMessage--> Coordinator.feedbackLoop --Event--> Broker --> Subscribers

Publish is non-blocking: events are pushed onto a buffered channel and
broadcast to every Subscriber's own buffered channel, skipping any
subscriber whose buffer is full rather than blocking the broadcast loop.

# Event Types

Task events: queued, started, progress, completed, failed, canceled.
Plugin instance events: started, stopped, failed.
Resource events: allocated, released.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	go func() {
		for event := range sub {
			fmt.Printf("%s: %s\n", event.Type, event.Message)
		}
	}()

	broker.Publish(&events.Event{Type: events.EventTaskCompleted, Message: "task 42 completed"})

# Limitations

In-memory only: no persistence, no replay, no guaranteed delivery. A slow
subscriber drops events rather than blocking the broker.
*/
package events
