package session

import "time"

// Stage marks a boundary in the connect sequence
type Stage string

const (
	StageResolved  Stage = "resolved"
	StageProbed    Stage = "probed"
	StageTrusted   Stage = "trusted"
	StageActivated Stage = "activated"
)

// Notification is a progress event for a caller (CLI or GUI) to render
type Notification struct {
	Stage     Stage
	Message   string
	Timestamp time.Time
}

// Subscriber is a channel receiving progress notifications
type Subscriber chan Notification

// Subscribe registers a notification channel. The channel is buffered;
// delivery is best-effort and never blocks the connect sequence.
func (c *Coordinator) Subscribe() Subscriber {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	subscriber := make(Subscriber, 16)
	c.subscribers[subscriber] = true
	return subscriber
}

// Unsubscribe removes a subscriber and closes its channel
func (c *Coordinator) Unsubscribe(subscriber Subscriber) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if _, exists := c.subscribers[subscriber]; exists {
		delete(c.subscribers, subscriber)
		close(subscriber)
	}
}

// notify publishes a progress event to all subscribers. A subscriber that
// has fallen behind loses the event rather than stalling the operation.
func (c *Coordinator) notify(stage Stage, message string) {
	event := Notification{
		Stage:     stage,
		Message:   message,
		Timestamp: time.Now(),
	}

	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for subscriber := range c.subscribers {
		select {
		case subscriber <- event:
		default:
			// Slow subscriber, drop the event
		}
	}
}
