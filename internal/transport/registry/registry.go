// Package registry holds the pending reply waiters and event listener lists
// shared by the receiver and the client facade. Two independent mappings are
// guarded by a single read-write lock: reads happen on the dispatch path,
// writes happen on subscribe/unsubscribe.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/skywa04885/arm-v5/internal/armerr"
	"github.com/skywa04885/arm-v5/internal/wire"
)

// SubscriberID is a process-local, monotonically increasing identifier
// handed out to every event subscription. It is a package-level counter
// (not per-Registry) so identifiers stay unique across reconnects within one
// process, per spec §9.
type SubscriberID uint64

var nextSubscriberID uint64

func allocateSubscriberID() SubscriberID {
	return SubscriberID(atomic.AddUint64(&nextSubscriberID, 1))
}

// ReplySink receives the payload of a Reply matching the tag it was
// registered under. It is invoked at most once.
type ReplySink func(payload []byte)

// EventSink receives the payload of every Event matching the code it was
// registered under, until unsubscribed.
type EventSink func(payload []byte)

type eventEntry struct {
	id   SubscriberID
	sink EventSink
}

// Registry holds reply waiters (by Tag) and event listener lists (by
// EventCode) for one connection.
type Registry struct {
	mu             sync.RWMutex
	replyWaiters   map[wire.Tag]ReplySink
	eventListeners map[wire.EventCode][]eventEntry
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{
		replyWaiters:   make(map[wire.Tag]ReplySink),
		eventListeners: make(map[wire.EventCode][]eventEntry),
	}
}

// SubscribeReply inserts sink as the waiter for tag. It returns an error if a
// waiter is already registered for that tag, enforcing the invariant that at
// most one waiter exists per tag.
func (r *Registry) SubscribeReply(tag wire.Tag, sink ReplySink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.replyWaiters[tag]; exists {
		return armerr.Wrapf(armerr.ErrProtocol, "tag %d already has a pending reply waiter", tag)
	}
	r.replyWaiters[tag] = sink
	return nil
}

// TakeReply removes and returns the waiter for tag, if any, so a matching
// Reply is delivered to it at most once. Dropping a waiter without delivery
// on cancellation goes through DiscardReply.
func (r *Registry) TakeReply(tag wire.Tag) (ReplySink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sink, ok := r.replyWaiters[tag]
	if ok {
		delete(r.replyWaiters, tag)
	}
	return sink, ok
}

// SubscribeEvent appends sink to the listener list for code and returns its
// fresh SubscriberID.
func (r *Registry) SubscribeEvent(code wire.EventCode, sink EventSink) SubscriberID {
	id := allocateSubscriberID()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eventListeners[code] = append(r.eventListeners[code], eventEntry{id: id, sink: sink})
	return id
}

// UnsubscribeEvent removes the listener with id from code's list. It returns
// an error if no such listener is present.
func (r *Registry) UnsubscribeEvent(code wire.EventCode, id SubscriberID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.eventListeners[code]
	for i, entry := range entries {
		if entry.id == id {
			//1.- Remove while preserving registration order, which is the order dispatch invokes listeners in.
			r.eventListeners[code] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return armerr.Wrapf(armerr.ErrProtocol, "no listener %d registered for event code %d", id, code)
}

// SnapshotEvent clones the current listener list for code so dispatch can
// invoke user code without holding the registry lock. A subscriber removed
// during dispatch of an in-flight event is still notified for that event;
// a subscriber added during dispatch is not part of this snapshot.
func (r *Registry) SnapshotEvent(code wire.EventCode) []EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.eventListeners[code]
	if len(entries) == 0 {
		return nil
	}
	sinks := make([]EventSink, len(entries))
	for i, entry := range entries {
		sinks[i] = entry.sink
	}
	return sinks
}

// DiscardReply drops the waiter for tag without delivering to it, used when a
// submit is cancelled before its reply arrives.
func (r *Registry) DiscardReply(tag wire.Tag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.replyWaiters, tag)
}
