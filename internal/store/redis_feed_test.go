package store

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism/pkg"
)

type feedReply struct {
	reply interface{}
	err   error
}

// scriptedFeed replays replies one per Receive call.  Each reply waits for
// a step from the test; the feed reports a closed client once exhausted.
type scriptedFeed struct {
	steps chan feedReply
}

func (f *scriptedFeed) Receive(ctx context.Context) (interface{}, error) {
	select {
	case r, ok := <-f.steps:
		if !ok {
			return nil, redis.ErrClosed
		}
		return r.reply, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// mutableLoader serves whatever conversation the test last set.
type mutableLoader struct {
	mu   sync.Mutex
	msgs []pkg.Message
}

func (l *mutableLoader) set(msgs []pkg.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = msgs
}

func (l *mutableLoader) load(context.Context, string) ([]pkg.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]pkg.Message(nil), l.msgs...), nil
}

func newFeedTestStore(load loader) *RedisStore {
	return &RedisStore{
		hub:     newHub(load, zerolog.Nop()),
		log:     zerolog.Nop(),
		backoff: time.Millisecond,
	}
}

func TestRedisFeedReloadsAfterResubscribe(t *testing.T) {
	var conv mutableLoader
	s := newFeedTestStore(conv.load)

	var rec recorder
	sub := s.hub.subscribe("p1", rec.onSnapshot, rec.onError)
	defer sub.Cancel()
	require.Eventually(t, func() bool {
		_, n := rec.last()
		return n == 1
	}, time.Second, 5*time.Millisecond)

	feed := &scriptedFeed{steps: make(chan feedReply)}
	done := make(chan error, 1)
	go func() { done <- s.consume(context.Background(), feed) }()

	feed.steps <- feedReply{reply: &redis.Subscription{Kind: "subscribe", Channel: ChangesChannel, Count: 1}}
	feed.steps <- feedReply{err: &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}}
	require.Eventually(t, func() bool { return len(rec.errors()) == 1 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, rec.errors()[0], ErrUnavailable)

	// Another instance appends while the feed is down; its announcement is
	// lost and the channel stays quiet after the client resubscribes.
	conv.set(confirmed(2))
	feed.steps <- feedReply{reply: &redis.Subscription{Kind: "subscribe", Channel: ChangesChannel, Count: 1}}

	require.Eventually(t, func() bool {
		snap, _ := rec.last()
		return snap.Version == 2
	}, time.Second, 5*time.Millisecond)

	close(feed.steps)
	require.NoError(t, <-done)
}

func TestRedisFeedRefreshesAnnouncedConversation(t *testing.T) {
	var conv mutableLoader
	s := newFeedTestStore(conv.load)

	var rec recorder
	sub := s.hub.subscribe("p1", rec.onSnapshot, rec.onError)
	defer sub.Cancel()
	require.Eventually(t, func() bool {
		_, n := rec.last()
		return n == 1
	}, time.Second, 5*time.Millisecond)

	feed := &scriptedFeed{steps: make(chan feedReply)}
	done := make(chan error, 1)
	go func() { done <- s.consume(context.Background(), feed) }()

	conv.set(confirmed(1))
	feed.steps <- feedReply{reply: &redis.Pong{}}
	feed.steps <- feedReply{reply: &redis.Message{Channel: ChangesChannel, Payload: "p1"}}
	require.Eventually(t, func() bool {
		snap, _ := rec.last()
		return snap.Version == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.errors())

	close(feed.steps)
	require.NoError(t, <-done)
}
