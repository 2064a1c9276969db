// Copyright (c) 2024 The AUTHORS
//
// Use of this source code is governed by The MIT License
// that can be found in the LICENSE file.

// Package mapcache is the shared, read-mostly view of the active mapping
// set (spec §3, §4.3, §5). Snapshots are immutable; Reload swaps the whole
// thing atomically so a reader never sees a blend of old and new rules
// (spec invariant 5).
//
// The per-source index is built with a patricia trie the way the teacher's
// event bus keyed its per-event-kind sequence counters (trie.Get/Insert used
// as a byte-keyed map rather than for prefix search) -- here the trie keys
// are EndpointRef.Key() and the stored item is the slice of mappings whose
// source is that endpoint, which is exactly the fan-out the Router needs.
package mapcache

import (
	"sync/atomic"

	"github.com/tchap/go-patricia/v2/patricia"

	"github.com/cider/zeromqtt-bridge/internal/model"
)

// Snapshot is one immutable view of the active mapping set.
type Snapshot struct {
	all      []model.TopicMapping
	bySource *patricia.Trie
}

// All returns every mapping in the snapshot, enabled or not.
func (s *Snapshot) All() []model.TopicMapping {
	return s.all
}

// BySource returns the mappings whose source is ref, in insertion order.
// Disabled mappings are included; callers filter on Enabled (spec §4.3
// step 3 checks m.enabled explicitly, so the cache does not pre-filter).
func (s *Snapshot) BySource(ref model.EndpointRef) []model.TopicMapping {
	item := s.bySource.Get(ref.Key())
	if item == nil {
		return nil
	}
	return item.([]model.TopicMapping)
}

func newSnapshot(mappings []model.TopicMapping) *Snapshot {
	trie := patricia.NewTrie()
	bySource := make(map[string][]model.TopicMapping)
	order := make([]string, 0, len(mappings))

	for _, m := range mappings {
		key := string(m.SourceRef().Key())
		if _, ok := bySource[key]; !ok {
			order = append(order, key)
		}
		bySource[key] = append(bySource[key], m)
	}

	for _, key := range order {
		trie.Insert(patricia.Prefix(key), bySource[key])
	}

	return &Snapshot{all: mappings, bySource: trie}
}

// Cache is the process-wide mapping cache. The zero value is not usable;
// construct with New.
type Cache struct {
	current atomic.Value // *Snapshot
}

// New builds a Cache already holding an (possibly empty) initial snapshot.
func New(initial []model.TopicMapping) *Cache {
	c := &Cache{}
	c.current.Store(newSnapshot(initial))
	return c
}

// Load returns the currently active snapshot. The Router never holds this
// across a channel-send suspension point; it reads what it needs and lets
// the snapshot go (spec §9 "no long-lived read guard").
func (c *Cache) Load() *Snapshot {
	return c.current.Load().(*Snapshot)
}

// Reload atomically replaces the active snapshot. Readers already holding
// the previous *Snapshot keep seeing it; the next Load call sees mappings
// (spec invariant 5).
func (c *Cache) Reload(mappings []model.TopicMapping) {
	c.current.Store(newSnapshot(mappings))
}

// SubscriptionSet computes T(id) from spec §4.2.3: the set of source
// topics of every enabled MQTT mapping whose source is this endpoint.
func (s *Snapshot) SubscriptionSet(ref model.EndpointRef) map[string]struct{} {
	topics := make(map[string]struct{})
	for _, m := range s.BySource(ref) {
		if !m.Enabled {
			continue
		}
		topics[m.SourceTopic] = struct{}{}
	}
	return topics
}
