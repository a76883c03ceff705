package sse

import (
	"sync"

	"github.com/samber/lo"
)

// TopicAll receives every broadcast.
const TopicAll = "*"

type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan []byte]struct{})}
}

func (h *Hub) Subscribe(topic string) (chan []byte, func()) {
	ch := make(chan []byte, 8)
	h.mu.Lock()
	if _, ok := h.subs[topic]; !ok {
		h.subs[topic] = make(map[chan []byte]struct{})
	}
	h.subs[topic][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if subscribers, ok := h.subs[topic]; ok {
				delete(subscribers, ch)
				if len(subscribers) == 0 {
					delete(h.subs, topic)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Broadcast delivers payload once per subscriber of each distinct topic.
// Slow subscribers miss frames rather than block the sender.
func (h *Hub) Broadcast(topics []string, payload []byte) {
	unique := lo.Uniq(lo.Compact(topics))
	if len(unique) == 0 {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, topic := range unique {
		for ch := range h.subs[topic] {
			select {
			case ch <- payload:
			default:
			}
		}
	}
}
