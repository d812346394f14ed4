package amqp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billtrack/internal/log"
	"billtrack/internal/storage"
)

// memoryBus is an in-process fanout exchange.
type memoryBus struct {
	mu        sync.Mutex
	handlers  []func(*StorageChangeMessage) error
	published []*StorageChangeMessage
}

func (b *memoryBus) Publish(_ context.Context, msg *StorageChangeMessage) error {
	b.mu.Lock()
	b.published = append(b.published, msg)
	handlers := append([]func(*StorageChangeMessage) error(nil), b.handlers...)
	b.mu.Unlock()
	for _, h := range handlers {
		_ = h(msg)
	}
	return nil
}

func (b *memoryBus) Consume(ctx context.Context, handler func(*StorageChangeMessage) error) error {
	b.mu.Lock()
	b.handlers = append(b.handlers, handler)
	b.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (b *memoryBus) consumers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

func (b *memoryBus) publishedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

type changeLog struct {
	mu      sync.Mutex
	changes []storage.Change
}

func (l *changeLog) record(c storage.Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, c)
}

func (l *changeLog) remote() []storage.Change {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []storage.Change
	for _, c := range l.changes {
		if c.Remote {
			out = append(out, c)
		}
	}
	return out
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRelayForwardsLocalWritesToOtherProcesses(t *testing.T) {
	bus := &memoryBus{}
	storeA, storeB := openStore(t), openStore(t)
	relayA := NewRelay(bus, storeA, log.Discard())
	relayB := NewRelay(bus, storeB, log.Discard())
	require.NotEqual(t, relayA.Origin(), relayB.Origin())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	for _, r := range []*Relay{relayA, relayB} {
		wg.Add(1)
		go func(r *Relay) {
			defer wg.Done()
			_ = r.Run(ctx)
		}(r)
	}
	require.Eventually(t, func() bool { return bus.consumers() == 2 }, time.Second, 5*time.Millisecond)

	var seenA, seenB changeLog
	storeA.Subscribe(seenA.record)
	storeB.Subscribe(seenB.record)

	require.NoError(t, storeA.Set(context.Background(), map[string]string{storage.KeyUsername: "alice"}))

	require.Eventually(t, func() bool { return len(seenB.remote()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, storage.Change{Key: storage.KeyUsername, Remote: true}, seenB.remote()[0])

	// Give the relays a moment to misbehave: no echo, no re-publish.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, seenA.remote())
	assert.Equal(t, 1, bus.publishedCount())

	cancel()
	wg.Wait()
}

func TestRelayIgnoresOwnMessages(t *testing.T) {
	store := openStore(t)
	r := NewRelay(&memoryBus{}, store, log.Discard())
	var seen changeLog
	store.Subscribe(seen.record)

	require.NoError(t, r.handle(NewStorageChangeMessage(storage.KeyAccessToken, r.Origin())))
	require.NoError(t, r.handle(NewStorageChangeMessage(storage.KeyAccessToken, "other")))

	assert.Equal(t, []storage.Change{{Key: storage.KeyAccessToken, Remote: true}}, seen.remote())
}
