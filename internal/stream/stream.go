package stream

import (
	"context"
	"sync"
	"time"
)

// EventType names what happened to an appointment.
type EventType string

const (
	AppointmentCreated    EventType = "appointment.created"
	AppointmentReassigned EventType = "appointment.reassigned"
	AppointmentDeleted    EventType = "appointment.deleted"
)

// AppointmentEvent is pushed to administrators watching the appointment feed.
type AppointmentEvent struct {
	Type          EventType `json:"type"`
	AppointmentID int64     `json:"appointment_id"`
	DoctorID      int64     `json:"doctor_id"`
	PatientID     int64     `json:"patient_id"`
	At            time.Time `json:"at"`
}

const subscriberBuffer = 16

// Stream fan-outs appointment events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan AppointmentEvent
	next int
}

func New() *Stream {
	return &Stream{subs: make(map[int]chan AppointmentEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan AppointmentEvent {
	ch := make(chan AppointmentEvent, subscriberBuffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt AppointmentEvent) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers reports the number of active subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
