package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	db := New(nil)
	defer db.Close()

	db.Set([]byte("foo"), []byte("bar"), 0)
	v, ok := db.Get([]byte("foo"))
	require.True(t, ok)
	assert.Equal(t, "bar", string(v))

	_, ok = db.Get([]byte("missing"))
	assert.False(t, ok)
}

func TestTTLReap(t *testing.T) {
	db := New(nil)
	defer db.Close()

	db.Set([]byte("k"), []byte("v"), 50*time.Millisecond)
	v, ok := db.Get([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, "v", string(v))

	time.Sleep(150 * time.Millisecond)
	_, ok = db.Get([]byte("k"))
	assert.False(t, ok)

	// give the background worker a chance to physically reap the key
	assert.Eventually(t, func() bool {
		return db.Stats().Keys == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSetClearsTTL(t *testing.T) {
	db := New(nil)
	defer db.Close()

	db.Set([]byte("k"), []byte("v"), 50*time.Millisecond)
	db.Set([]byte("k"), []byte("v2"), 0)
	time.Sleep(100 * time.Millisecond)

	v, ok := db.Get([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, "v2", string(v))
}

func TestDelCountsRealDeletions(t *testing.T) {
	db := New(nil)
	defer db.Close()

	db.Set([]byte("a"), []byte("1"), 0)
	db.Set([]byte("c"), []byte("3"), 0)

	n := db.Del([][]byte{[]byte("a"), []byte("b"), []byte("c")})
	assert.Equal(t, 2, n)

	_, ok := db.Get([]byte("a"))
	assert.False(t, ok)
}

func TestDelDoesNotCountExpiredKey(t *testing.T) {
	db := New(nil)
	defer db.Close()

	db.Set([]byte("k"), []byte("v"), 20*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	n := db.Del([][]byte{[]byte("k")})
	assert.Equal(t, 0, n)
}

func TestDelThenSetSurvivesOldTTL(t *testing.T) {
	db := New(nil)
	defer db.Close()

	db.Set([]byte("k"), []byte("v1"), 80*time.Millisecond)
	n := db.Del([][]byte{[]byte("k")})
	assert.Equal(t, 1, n)

	db.Set([]byte("k"), []byte("v2"), 0)

	time.Sleep(150 * time.Millisecond)
	v, ok := db.Get([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, "v2", string(v))
}

func TestPublishNoSubscribersReturnsZeroAndNoChannel(t *testing.T) {
	db := New(nil)
	defer db.Close()

	n := db.Publish([]byte("news"), []byte("hi"))
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, db.Stats().Channels)
}

func TestPublishDeliversToAllSubscribersExactlyOnce(t *testing.T) {
	db := New(nil)
	defer db.Close()

	const subs = 5
	subscriptions := make([]*Subscription, subs)
	for i := range subscriptions {
		subscriptions[i] = db.Subscribe("news")
	}
	assert.Equal(t, subs, db.SubscriberCount("news"))

	n := db.Publish([]byte("news"), []byte("hi"))
	assert.Equal(t, subs, n)

	var wg sync.WaitGroup
	wg.Add(subs)
	for _, sub := range subscriptions {
		sub := sub
		go func() {
			defer wg.Done()
			select {
			case msg := <-sub.Msgs:
				assert.Equal(t, "hi", string(msg))
			case <-time.After(time.Second):
				t.Error("timed out waiting for message")
			}
		}()
	}
	wg.Wait()
}

func TestSubscriptionCloseEvictsEmptyChannel(t *testing.T) {
	db := New(nil)
	defer db.Close()

	sub := db.Subscribe("news")
	assert.Equal(t, 1, db.Stats().Channels)
	sub.Close()
	assert.Equal(t, 0, db.Stats().Channels)
	assert.Equal(t, 0, db.SubscriberCount("news"))
}

func TestPublishOrderPerChannel(t *testing.T) {
	db := New(nil)
	defer db.Close()

	sub := db.Subscribe("ordered")
	for i := 0; i < 10; i++ {
		db.Publish([]byte("ordered"), []byte{byte(i)})
	}
	for i := 0; i < 10; i++ {
		msg := <-sub.Msgs
		assert.Equal(t, byte(i), msg[0])
	}
}
