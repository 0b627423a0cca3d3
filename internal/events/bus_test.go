package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishFansOutInOrder(t *testing.T) {
	bus := NewBus()
	var got []string

	bus.Subscribe(func(e Event) { got = append(got, "first:"+e.Sender) })
	bus.Subscribe(func(e Event) { got = append(got, "second:"+e.Sender) })

	bus.Publish(Event{Type: IdentityChanged, Sender: "coordinator"})

	assert.Equal(t, []string{"first:coordinator", "second:coordinator"}, got)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	count := 0

	unsubscribe := bus.Subscribe(func(Event) { count++ })
	bus.Publish(Event{Type: IdentityChanged})
	unsubscribe()
	unsubscribe()
	bus.Publish(Event{Type: IdentityChanged})

	assert.Equal(t, 1, count)
}

func TestBus_PublishStampsTime(t *testing.T) {
	bus := NewBus()
	var received Event

	bus.Subscribe(func(e Event) { received = e })
	bus.Publish(Event{Type: IdentityChanged})

	require.False(t, received.At.IsZero())
}
