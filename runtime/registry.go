package runtime

import (
	"chat-sync/contract"
	"sort"
	"sync"
)

type subscription struct {
	sink     contract.EventSink
	afterSeq uint64
	order    uint64
}

// Registry holds the dynamic subscribers of an engine.
// It outlives session instantiations: a subscriber keeps receiving the
// events of the following generations until it unsubscribes.
type Registry struct {
	mu          sync.RWMutex
	subscribers map[string]subscription
	next        uint64
}

func NewRegistry() *Registry {
	return &Registry{subscribers: make(map[string]subscription)}
}

// Subscribe registers a sink interested in the events strictly after afterSeq.
// Subscribing again with the same id replaces the previous sink.
func (r *Registry) Subscribe(subscriberID string, sink contract.EventSink, afterSeq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	r.subscribers[subscriberID] = subscription{sink: sink, afterSeq: afterSeq, order: r.next}
}

func (r *Registry) Unsubscribe(subscriberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.subscribers, subscriberID)
}

// SinksFor returns, in subscription order, the sinks that must receive the event numbered seq.
func (r *Registry) SinksFor(seq uint64) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []subscription
	for _, sub := range r.subscribers {
		if seq > sub.afterSeq {
			active = append(active, sub)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].order < active[j].order })

	sinks := make([]contract.EventSink, 0, len(active))
	for _, sub := range active {
		sinks = append(sinks, sub.sink)
	}
	return sinks
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}
