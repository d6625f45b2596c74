package task

import (
	"context"
	"sync"

	"github.com/phrazzld/dispatch-api/internal/notify"
)

// memSink records published events so tests can assert on notifications.
type memSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (s *memSink) Publish(_ context.Context, event notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memSink) eventTypes() []notify.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]notify.EventType, 0, len(s.events))
	for _, e := range s.events {
		types = append(types, e.Type)
	}
	return types
}

func (s *memSink) hasEvent(eventType notify.EventType) bool {
	for _, t := range s.eventTypes() {
		if t == eventType {
			return true
		}
	}
	return false
}
