// Package store implements the shared in-memory key/value database: the
// key map with per-entry TTL expiration, and the pub/sub channel
// registry. All of it sits behind a single exclusive lock; critical
// sections are pure in-memory operations with no I/O, so the lock is
// never held across a suspension point.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/real-staging-ai/miniredis/internal/logging"
)

type mapEntry struct {
	value    []byte
	expireAt time.Time // zero Time means no expiration
	version  uint64
}

func (e mapEntry) expiredAt(now time.Time) bool {
	return !e.expireAt.IsZero() && !e.expireAt.After(now)
}

// DB is the process-wide key/value store and pub/sub registry. It owns a
// background expiration worker goroutine started by New and stopped by
// Close; the worker's lifetime is tied to the DB handle exactly as long
// as Close is called once the last connection referencing it has
// drained, mirroring the "last living reference" lifecycle in the design
// without reaching for a GC finalizer.
type DB struct {
	mu       sync.Mutex
	entries  map[string]mapEntry
	versions map[string]uint64 // monotonic per-key counter, survives Del
	expires  *expHeap
	channels map[string]*channel
	nextSub  uint64

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	log logging.Logger
}

// New constructs a DB and starts its expiration worker.
func New(log logging.Logger) *DB {
	if log == nil {
		log = logging.Default()
	}
	db := &DB{
		entries:  make(map[string]mapEntry),
		versions: make(map[string]uint64),
		expires:  newExpHeap(),
		channels: make(map[string]*channel),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		log:      log,
	}
	db.wg.Add(1)
	go db.expireWorker()
	return db
}

// Close signals the expiration worker to exit and waits for it to finish
// any in-flight wakeup. Safe to call once, after every connection that
// might still touch the DB has stopped.
func (db *DB) Close() {
	close(db.done)
	db.wg.Wait()
}

func (db *DB) notifyWorker() {
	select {
	case db.wake <- struct{}{}:
	default:
	}
}

// Set inserts or replaces key's value. Any prior expiration is cleared
// first; if expire > 0, the new absolute instant is indexed. A plain SET
// (expire == 0) leaves the key with no TTL even if one was set before.
func (db *DB) Set(key, value []byte, expire time.Duration) {
	db.mu.Lock()
	k := string(key)
	db.versions[k]++
	version := db.versions[k]
	e := mapEntry{value: append([]byte(nil), value...), version: version}
	var wakeEarlier bool
	if expire > 0 {
		e.expireAt = time.Now().Add(expire)
		earliest, ok := db.expires.peek()
		wakeEarlier = !ok || e.expireAt.Before(earliest.at)
		db.expires.push(expItem{at: e.expireAt, key: k, version: version})
	}
	db.entries[k] = e
	db.mu.Unlock()
	if wakeEarlier {
		db.notifyWorker()
	}
}

// Get returns key's value if present and not expired. A key whose
// expiration instant has passed is treated as absent even if the
// background worker has not yet reaped it.
func (db *DB) Get(key []byte) ([]byte, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	e, ok := db.entries[string(key)]
	if !ok || e.expiredAt(time.Now()) {
		return nil, false
	}
	return e.value, true
}

// Del removes each key and reports how many were present (and
// unexpired) immediately before the call. The key's version is bumped
// even though its map entry is gone, so a stale expiration-index entry
// from before this Del can never match a version a later Set assigns to
// the same key (see expItem).
func (db *DB) Del(keys [][]byte) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	now := time.Now()
	count := 0
	for _, key := range keys {
		k := string(key)
		e, ok := db.entries[k]
		if !ok {
			continue
		}
		if !e.expiredAt(now) {
			count++
		}
		delete(db.entries, k)
		db.versions[k]++
	}
	return count
}

// Publish delivers payload to every current subscriber of channel and
// returns how many receivers it reached. Publishing to a channel with no
// subscribers returns 0 and never allocates a channel entry.
func (db *DB) Publish(channelName, payload []byte) int {
	db.mu.Lock()
	c, ok := db.channels[string(channelName)]
	if !ok {
		db.mu.Unlock()
		return 0
	}
	delivered, lagged := c.publish(payload)
	db.mu.Unlock()
	for range lagged {
		db.log.Warn(context.Background(), "subscriber lagged, message dropped", "channel", string(channelName))
	}
	return delivered
}

// Subscription is a connection's handle to one channel's fan-out. Msgs
// delivers published payloads in publish order; Close removes the
// subscription and, if it was the channel's last subscriber, evicts the
// channel from the registry.
type Subscription struct {
	Channel string
	Msgs    <-chan []byte

	db *DB
	id uint64
}

// Close unsubscribes. Safe to call once.
func (s *Subscription) Close() {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.channels[s.Channel]
	if !ok {
		return
	}
	delete(c.subs, s.id)
	if len(c.subs) == 0 {
		delete(s.db.channels, s.Channel)
	}
}

// Subscribe creates (or joins) the named channel and returns a new
// Subscription. Each call returns an independent receive handle, even
// for a channel name the same connection already subscribes to under a
// different handle; deduplication across a connection's own subscription
// set is the handler's responsibility (§4.4).
func (db *DB) Subscribe(channelName string) *Subscription {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.channels[channelName]
	if !ok {
		c = newChannel(channelName)
		db.channels[channelName] = c
	}
	db.nextSub++
	id := db.nextSub
	ch := make(chan []byte, channelCapacity)
	c.subs[id] = ch
	return &Subscription{Channel: channelName, Msgs: ch, db: db, id: id}
}

// SubscriberCount reports how many subscribers channelName currently
// has, or 0 if the channel does not exist.
func (db *DB) SubscriberCount(channelName string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.channels[channelName]
	if !ok {
		return 0
	}
	return c.subscriberCount()
}

// Stats is a point-in-time snapshot used by diagnostics and the admin
// HTTP endpoint.
type Stats struct {
	Keys     int
	Channels int
}

// Stats returns a snapshot of store size.
func (db *DB) Stats() Stats {
	db.mu.Lock()
	defer db.mu.Unlock()
	return Stats{Keys: len(db.entries), Channels: len(db.channels)}
}

// expireWorker sleeps until the earliest indexed expiration, reaps every
// entry due at or before "now" in instant order, and otherwise waits on
// the wake channel so no notification fired while it was already awake
// is lost. It exits once done is closed, after finishing any wakeup it
// was already processing.
func (db *DB) expireWorker() {
	defer db.wg.Done()
	for {
		db.mu.Lock()
		db.reapDueLocked(time.Now())
		next, ok := db.expires.peek()
		db.mu.Unlock()

		if !ok {
			select {
			case <-db.wake:
				continue
			case <-db.done:
				return
			}
		}

		wait := time.Until(next.at)
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-db.wake:
			timer.Stop()
		case <-db.done:
			timer.Stop()
			return
		}
	}
}

// reapDueLocked removes every expiration-index entry at or before now,
// discarding stale entries (superseded by a later Set or a Del) along
// the way, and deletes the corresponding map entries for the ones still
// live. Caller must hold db.mu.
func (db *DB) reapDueLocked(now time.Time) {
	for {
		item, ok := db.expires.peek()
		if !ok || item.at.After(now) {
			return
		}
		db.expires.pop()
		e, ok := db.entries[item.key]
		if !ok || e.version != item.version {
			continue // superseded or already deleted
		}
		delete(db.entries, item.key)
	}
}
