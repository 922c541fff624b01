package remote

import (
	"sync"
	"sync/atomic"

	"github.com/pixrelay/pixrelay/internal/pixmsg"
)

const DefaultSubscriberBuffer = 64

// Bus is the shared progress event channel. Hosts publish attempt-tagged
// progress; each upload attempt subscribes and filters by attempt id.
// Publish never blocks: events for a full subscriber buffer are dropped and
// counted, a stalled consumer must not stall an upload.
type Bus struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]chan pixmsg.Progress
	dropped atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[uint64]chan pixmsg.Progress),
	}
}

// Subscribe registers a new subscriber and returns its receive channel plus a
// cancel func. Cancel is idempotent and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan pixmsg.Progress, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan pixmsg.Progress, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Publish fans the event out to all subscribers, dropping on full buffers.
func (b *Bus) Publish(p pixmsg.Progress) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- p:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns the number of events discarded due to full buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
