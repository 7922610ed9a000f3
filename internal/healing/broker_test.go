package healing

import (
	"sync/atomic"
	"testing"

	"github.com/automesh/meshheal/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker(4, nil)
	a, unsubA := b.Subscribe()
	c, unsubC := b.Subscribe()
	defer unsubC()
	assert.Equal(t, 2, b.Len())

	b.Publish(domain.Event{Kind: domain.EventFailure, NodeID: "R-A"})
	assert.Equal(t, "R-A", (<-a).NodeID)
	assert.Equal(t, "R-A", (<-c).NodeID)

	unsubA()
	unsubA()
	_, open := <-a
	assert.False(t, open, "unsubscribe closes the channel")
	assert.Equal(t, 1, b.Len())
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	var dropped atomic.Int32
	b := NewBroker(2, func() { dropped.Add(1) })
	ch, unsub := b.Subscribe()
	defer unsub()

	for i := 0; i < 5; i++ {
		b.Publish(domain.Event{Kind: domain.EventStep})
	}
	assert.Len(t, ch, 2)
	assert.Equal(t, int32(3), dropped.Load())
}

func TestBrokerShutdown(t *testing.T) {
	b := NewBroker(0, nil)
	ch, unsub := b.Subscribe()
	b.Shutdown()

	_, open := <-ch
	assert.False(t, open)
	unsub()

	late, _ := b.Subscribe()
	_, open = <-late
	assert.False(t, open, "subscribing after shutdown yields a closed channel")
	b.Publish(domain.Event{Kind: domain.EventReset})
}
