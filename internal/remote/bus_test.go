package remote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixrelay/pixrelay/internal/pixmsg"
)

func TestBus_PublishReachesSubscriber(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(8)
	defer cancel()

	bus.Publish(pixmsg.NewProgress("att-1", 10, 100))

	select {
	case got := <-ch:
		assert.Equal(t, "att-1", got.AttemptID)
		assert.Equal(t, uint64(10), got.Done)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestBus_CancelStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(8)

	cancel()
	assert.Equal(t, 0, bus.Subscribers())

	// channel is closed after cancel
	_, open := <-ch
	assert.False(t, open)

	// publishing after cancel must not panic
	bus.Publish(pixmsg.NewProgress("att-1", 1, 2))

	// cancel is idempotent
	cancel()
}

func TestBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			bus.Publish(pixmsg.NewProgress("att-1", uint64(i), 10))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	require.GreaterOrEqual(t, bus.Dropped(), uint64(1))
}

func TestBus_MultipleSubscribersEachReceive(t *testing.T) {
	bus := NewBus()
	ch1, cancel1 := bus.Subscribe(4)
	ch2, cancel2 := bus.Subscribe(4)
	defer cancel1()
	defer cancel2()

	bus.Publish(pixmsg.NewProgress("att-9", 5, 10))

	for _, ch := range []<-chan pixmsg.Progress{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, "att-9", got.AttemptID)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed event")
		}
	}
}
