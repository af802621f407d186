package core

import (
	"container/list"
	"fmt"
)

// RequestDeduper implements two-tier at-most-once intake for mutating
// operations: a hot in-memory LRU backed by a cold Postgres lookup against
// the event log's request_id column.
type RequestDeduper struct {
	lru       *requestLRU
	dbChecker DBRequestChecker
}

// DBRequestChecker is the interface for the Postgres dedup lookup
type DBRequestChecker interface {
	IsDuplicate(op string, requestID string) (bool, error)
}

func NewRequestDeduper(capacity int, dbChecker DBRequestChecker) *RequestDeduper {
	return &RequestDeduper{
		lru:       newRequestLRU(capacity),
		dbChecker: dbChecker,
	}
}

// IsDuplicate checks whether a request has already been applied.
func (rd *RequestDeduper) IsDuplicate(op string, requestID string) bool {
	compositeKey := fmt.Sprintf("%s:%s", op, requestID)

	if rd.lru.Contains(compositeKey) {
		return true
	}

	if rd.dbChecker != nil {
		isDup, err := rd.dbChecker.IsDuplicate(op, requestID)
		if err != nil {
			// Conservative: a DB issue must not block the ledger; the event
			// log's unique request_id constraint is the final backstop.
			return false
		}
		if isDup {
			rd.lru.Add(compositeKey)
			return true
		}
	}

	return false
}

// MarkApplied adds the key to the LRU after a successful mutation.
func (rd *RequestDeduper) MarkApplied(op string, requestID string) {
	rd.lru.Add(fmt.Sprintf("%s:%s", op, requestID))
}

// WarmFromKeys loads recent composite keys (from a snapshot) into the LRU.
func (rd *RequestDeduper) WarmFromKeys(keys []string) {
	rd.lru.WarmFromKeys(keys)
}

// Keys returns all resident composite keys (for snapshots).
func (rd *RequestDeduper) Keys() []string {
	return rd.lru.Keys()
}

// Size returns current LRU occupancy.
func (rd *RequestDeduper) Size() int {
	return rd.lru.Len()
}

// --- LRU Implementation ---

// requestLRU is an LRU cache for request keys.
// Not thread-safe — only accessed from the single-threaded operation core.
type requestLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List
}

type lruEntry struct {
	key string
}

func newRequestLRU(capacity int) *requestLRU {
	return &requestLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *requestLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (lru *requestLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	entry := &lruEntry{key: key}
	elem := lru.lruList.PushFront(entry)
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *requestLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(lru.cache, entry.key)
	}
}

// WarmFromKeys loads a batch of composite keys into the LRU.
func (lru *requestLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		if _, exists := lru.cache[key]; exists {
			continue
		}
		entry := &lruEntry{key: key}
		elem := lru.lruList.PushFront(entry)
		lru.cache[key] = elem

		if lru.lruList.Len() > lru.capacity {
			lru.evictOldest()
		}
	}
}

// Keys returns every resident key, most recently used first.
func (lru *requestLRU) Keys() []string {
	keys := make([]string, 0, lru.lruList.Len())
	for elem := lru.lruList.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*lruEntry).key)
	}
	return keys
}

func (lru *requestLRU) Len() int {
	return lru.lruList.Len()
}
