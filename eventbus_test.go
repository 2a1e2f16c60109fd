package x402

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_PublishDeliversToTypedAndAnyListeners(t *testing.T) {
	bus := NewEventBus(16)

	var typedCount, anyCount int
	bus.On(EventPaymentVerified, func(e Event) { typedCount++ })
	bus.OnAny(func(e Event) { anyCount++ })

	bus.Publish(Event{Type: EventPaymentVerified})
	bus.Publish(Event{Type: EventPaymentSettled})

	assert.Equal(t, 1, typedCount)
	assert.Equal(t, 2, anyCount)
}

func TestEventBus_RecentReturnsNewestLast(t *testing.T) {
	bus := NewEventBus(3)

	bus.Publish(Event{Type: EventPaymentInitiated, Resource: "a"})
	bus.Publish(Event{Type: EventPaymentSigned, Resource: "b"})
	bus.Publish(Event{Type: EventPaymentVerified, Resource: "c"})
	bus.Publish(Event{Type: EventPaymentSettled, Resource: "d"})

	recent := bus.Recent(10)
	assert.Len(t, recent, 3)
	assert.Equal(t, "b", recent[0].Resource)
	assert.Equal(t, "d", recent[2].Resource)
}

func TestEventBus_RecentBeforeFull(t *testing.T) {
	bus := NewEventBus(5)
	bus.Publish(Event{Type: EventPaymentInitiated})
	recent := bus.Recent(10)
	assert.Len(t, recent, 1)
}
