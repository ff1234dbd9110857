/*
Package event provides the pub/sub bus that reports what the gate is doing.

Components publish on an explicitly constructed *Bus; there is no process-wide
instance. In-process subscribers receive events with their typed data, while
stream consumers (the HTTP event stream) receive the JSON encoding through a
watermill gochannel.

# Event Types

Permission Events:
  - permission.asked: an approval request is pending
  - permission.replied: an approval request was resolved

Sandbox Events:
  - sandbox.started: a command was spawned
  - sandbox.finished: a command reached a terminal outcome

Policy Events:
  - policy.reloaded: the watched policy file was reloaded or failed to load

# Basic Usage

	bus := event.NewBus()
	defer bus.Close()

	unsubscribe := bus.Subscribe(event.SandboxFinished, func(e event.Event) {
		data := e.Data.(event.SandboxFinishedData)
		logger.Info().Str("outcome", data.Outcome).Msg("sandbox finished")
	})
	defer unsubscribe()

# Subscriber Safety Guidelines

When using PublishSync, subscribers are called synchronously in the publisher's
goroutine. Subscribers must return quickly and must not publish from within
the callback.
*/
package event
