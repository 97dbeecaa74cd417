package service

import (
	"sync"

	"github.com/noah-isme/jobby-messaging/internal/dto"
	"github.com/noah-isme/jobby-messaging/internal/observability"
)

const changeBufferSize = 16

// changeBroker fans store changes out to stream subscribers. Slow subscribers miss events.
type changeBroker struct {
	mu          sync.RWMutex
	subscribers map[chan dto.ChangeEvent]struct{}
}

func newChangeBroker() *changeBroker {
	return &changeBroker{subscribers: make(map[chan dto.ChangeEvent]struct{})}
}

func (b *changeBroker) subscribe() (<-chan dto.ChangeEvent, func()) {
	channel := make(chan dto.ChangeEvent, changeBufferSize)

	b.mu.Lock()
	b.subscribers[channel] = struct{}{}
	b.mu.Unlock()
	observability.StreamClientsActive().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subscribers[channel]; ok {
				delete(b.subscribers, channel)
				close(channel)
			}
			observability.StreamClientsActive().Dec()
		})
	}

	return channel, cleanup
}

func (b *changeBroker) broadcast(event dto.ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
