package session

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// EvictReason says why the memory tracker dropped an entry.
type EvictReason string

const (
	EvictExpired  EvictReason = "expired"
	EvictCapacity EvictReason = "capacity"
)

const (
	defaultTTL        = 24 * time.Hour
	defaultMaxEntries = 100_000
)

type memoryEntry struct {
	id       string
	lastSeen time.Time
}

// MemoryTracker is an in-process Tracker bounded by TTL and entry count. The
// least recently touched entry is evicted first when the tracker is full.
type MemoryTracker struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	ttl        time.Duration
	maxEntries int
	onEvict    func(id string, reason EvictReason)
	now        func() time.Time
}

func NewMemoryTracker(ttl time.Duration, maxEntries int) *MemoryTracker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &MemoryTracker{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// SetEvictHook registers a callback run outside the lock for every dropped entry.
func (m *MemoryTracker) SetEvictHook(hook func(id string, reason EvictReason)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvict = hook
}

func (m *MemoryTracker) HasSeenFirstTurn(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	seen, evicted := m.lookupLocked(sessionID)
	hook := m.onEvict
	m.mu.Unlock()

	m.runHook(hook, evicted)
	return seen, nil
}

func (m *MemoryTracker) MarkSeen(ctx context.Context, sessionID string) error {
	_, err := m.CheckAndMark(ctx, sessionID)
	return err
}

func (m *MemoryTracker) CheckAndMark(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	seen, evicted := m.lookupLocked(sessionID)
	if !seen {
		evicted = append(evicted, m.insertLocked(sessionID)...)
	}
	hook := m.onEvict
	m.mu.Unlock()

	m.runHook(hook, evicted)
	return !seen, nil
}

// Len reports the number of tracked sessions, including ones not yet swept.
func (m *MemoryTracker) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *MemoryTracker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*list.Element)
	m.order.Init()
	return nil
}

// StartJanitor sweeps expired entries until ctx is done.
func (m *MemoryTracker) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireIdle()
			}
		}
	}()
}

func (m *MemoryTracker) expireIdle() {
	m.mu.Lock()
	now := m.now()
	var expired []string
	// The back of the list is the least recently touched entry.
	for e := m.order.Back(); e != nil; {
		entry := e.Value.(*memoryEntry)
		if now.Sub(entry.lastSeen) < m.ttl {
			break
		}
		prev := e.Prev()
		m.order.Remove(e)
		delete(m.entries, entry.id)
		expired = append(expired, entry.id)
		e = prev
	}
	hook := m.onEvict
	m.mu.Unlock()

	if hook != nil {
		for _, id := range expired {
			hook(id, EvictExpired)
		}
	}
}

type eviction struct {
	id     string
	reason EvictReason
}

// lookupLocked reports whether sessionID is live and refreshes it if so.
// An expired entry is dropped and reported as unseen.
func (m *MemoryTracker) lookupLocked(sessionID string) (bool, []eviction) {
	e, ok := m.entries[sessionID]
	if !ok {
		return false, nil
	}
	entry := e.Value.(*memoryEntry)
	now := m.now()
	if now.Sub(entry.lastSeen) >= m.ttl {
		m.order.Remove(e)
		delete(m.entries, sessionID)
		return false, []eviction{{id: sessionID, reason: EvictExpired}}
	}
	entry.lastSeen = now
	m.order.MoveToFront(e)
	return true, nil
}

func (m *MemoryTracker) insertLocked(sessionID string) []eviction {
	var evicted []eviction
	for m.order.Len() >= m.maxEntries {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		entry := oldest.Value.(*memoryEntry)
		m.order.Remove(oldest)
		delete(m.entries, entry.id)
		evicted = append(evicted, eviction{id: entry.id, reason: EvictCapacity})
	}
	m.entries[sessionID] = m.order.PushFront(&memoryEntry{id: sessionID, lastSeen: m.now()})
	return evicted
}

func (m *MemoryTracker) runHook(hook func(string, EvictReason), evicted []eviction) {
	if hook == nil {
		return
	}
	for _, ev := range evicted {
		hook(ev.id, ev.reason)
	}
}
