package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventWaitlistJoined   = "waitlist_joined"
	EventWaitlistOffered  = "waitlist_offered"
	EventWaitlistBooked   = "waitlist_booked"
	EventWaitlistDeclined = "waitlist_declined"
	EventWaitlistExpired  = "waitlist_expired"
	EventWaitlistRequeued = "waitlist_requeued"
	EventWaitlistLeft     = "waitlist_left"
	EventOfferVacated     = "offer_vacated"
	EventBookingCanceled  = "booking_canceled"
)

// WaitlistEventPayload describes a waitlist entry at the moment of a transition.
type WaitlistEventPayload struct {
	EntryID    string     `json:"entry_id"`
	BarberID   string     `json:"barber_id"`
	Date       string     `json:"date"`
	CustomerID string     `json:"customer_id,omitempty"`
	Status     string     `json:"status"`
	Position   int        `json:"position,omitempty"`
	Time       string     `json:"time,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// OfferVacatedPayload is emitted when an offered slot goes back to the line.
type OfferVacatedPayload struct {
	BarberID string `json:"barber_id"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	EntryID  string `json:"entry_id,omitempty"`
	Reason   string `json:"reason"`
}

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID  string `json:"booking_id"`
	BarberID   string `json:"barber_id"`
	Date       string `json:"date"`
	Time       string `json:"time"`
	CustomerID string `json:"customer_id"`
	Status     string `json:"status"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	onError     func(event *Event, err error)
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// OnError installs a callback for handler failures; they are dropped otherwise.
func (b *EventBus) OnError(fn func(event *Event, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers one handler for several event types.
func (b *EventBus) SubscribeAll(handler EventHandler, eventTypes ...string) {
	for _, t := range eventTypes {
		b.Subscribe(t, handler)
	}
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	onError := b.onError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
