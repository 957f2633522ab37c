package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"prism/internal/metrics"
	"prism/pkg"
)

const (
	backendRedis = "redis"

	// ChangesChannel carries the patient id of every changed conversation.
	ChangesChannel = "prism:messages"

	resubscribeBackoff = time.Second
)

// appendScript assigns the sequence and the server time, stores the message
// and announces the change in one atomic step.
//
// KEYS[1] messages zset, KEYS[2] sequence counter
// ARGV[1] changes channel, ARGV[2] encoded body, ARGV[3] patient id
var appendScript = redis.NewScript(`
local seq = redis.call('INCR', KEYS[2])
local now = redis.call('TIME')
redis.call('ZADD', KEYS[1], seq, seq .. ':' .. now[1] .. ':' .. now[2] .. ':' .. ARGV[2])
redis.call('PUBLISH', ARGV[1], ARGV[3])
return {seq, now[1], now[2]}
`)

// redisBody is the JSON part of a stored member.
type redisBody struct {
	ID     string     `json:"id"`
	Sender pkg.Sender `json:"sender"`
	Text   string     `json:"text"`
}

// RedisStore keeps every conversation in a sorted set scored by sequence
// and fans changes out over pub/sub.
type RedisStore struct {
	client  *redis.Client
	hub     *hub
	log     zerolog.Logger
	backoff time.Duration
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string, log zerolog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, classifyRedis(err)
	}

	s := &RedisStore{
		client:  client,
		log:     log.With().Str("component", "redis_store").Logger(),
		backoff: resubscribeBackoff,
	}
	s.hub = newHub(s.load, s.log)
	return s, nil
}

// Close closes the Redis connection.  Subscribers receive ErrUnavailable.
func (s *RedisStore) Close() error {
	err := s.client.Close()
	s.hub.failAll(ErrUnavailable)
	return err
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return classifyRedis(s.client.Ping(ctx).Err())
}

// messagesKey returns the key for a patient's message sorted set.
func messagesKey(patientID string) string {
	return fmt.Sprintf("prism:patient:%s:messages", patientID)
}

// seqKey returns the key for a patient's sequence counter.
func seqKey(patientID string) string {
	return fmt.Sprintf("prism:patient:%s:seq", patientID)
}

// Append implements Store.
func (s *RedisStore) Append(ctx context.Context, patientID string, sender pkg.Sender, text string) (*pkg.Message, error) {
	if err := validateAppend(patientID, sender, text); err != nil {
		return nil, err
	}

	body := redisBody{ID: ulid.Make().String(), Sender: sender, Text: strings.TrimSpace(text)}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	res, err := appendScript.Run(ctx, s.client,
		[]string{messagesKey(patientID), seqKey(patientID)},
		ChangesChannel, string(data), patientID,
	).Slice()
	if err != nil {
		err = classifyRedis(err)
		metrics.AppendErrors.WithLabelValues(backendRedis, reason(err)).Inc()
		return nil, err
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("append script returned %d values", len(res))
	}
	seq, err := toInt64(res[0])
	if err != nil {
		return nil, err
	}
	ts, err := redisTime(res[1], res[2])
	if err != nil {
		return nil, err
	}

	metrics.MessagesAppended.WithLabelValues(backendRedis, string(sender)).Inc()
	m := pkg.NewConfirmed(body.ID, patientID, sender, body.Text, ts, seq)
	go s.hub.refresh(context.Background(), patientID)
	return &m, nil
}

// Snapshot implements Store.
func (s *RedisStore) Snapshot(ctx context.Context, patientID string) (pkg.Snapshot, error) {
	msgs, err := s.load(ctx, patientID)
	if err != nil {
		return pkg.Snapshot{}, err
	}
	return pkg.NewSnapshot(patientID, msgs), nil
}

// Subscribe implements Store.
func (s *RedisStore) Subscribe(patientID string, onSnapshot func(pkg.Snapshot), onError func(error)) Subscription {
	return s.hub.subscribe(patientID, onSnapshot, onError)
}

// Run consumes change announcements until ctx is cancelled.  While the
// pub/sub connection is down subscribers are told the store is unavailable;
// once it is back every subscribed conversation is reloaded.
func (s *RedisStore) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, ChangesChannel)
	defer pubsub.Close()
	return s.consume(ctx, pubsub)
}

// changeFeed is the receiving side of a pub/sub connection.
type changeFeed interface {
	Receive(ctx context.Context) (interface{}, error)
}

// consume handles feed replies.  The client resubscribes on its own after a
// connection loss, and the subscribe confirmation that follows marks the
// feed as restored even if no change is published afterwards.
func (s *RedisStore) consume(ctx context.Context, feed changeFeed) error {
	down := false
	for {
		reply, err := feed.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return nil
			}
			if !down {
				s.log.Warn().Err(err).Msg("change feed lost")
				s.hub.failAll(classifyRedis(err))
				down = true
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.backoff):
			}
			continue
		}

		switch reply := reply.(type) {
		case *redis.Subscription:
			if down && reply.Kind == "subscribe" {
				s.restored(ctx, &down)
			}
		case *redis.Message:
			if down {
				s.restored(ctx, &down)
			}
			s.hub.refresh(ctx, reply.Payload)
		}
	}
}

func (s *RedisStore) restored(ctx context.Context, down *bool) {
	s.log.Info().Msg("change feed restored")
	*down = false
	s.hub.refreshAll(ctx)
}

func (s *RedisStore) load(ctx context.Context, patientID string) ([]pkg.Message, error) {
	members, err := s.client.ZRange(ctx, messagesKey(patientID), 0, -1).Result()
	if err != nil {
		return nil, classifyRedis(err)
	}
	msgs := make([]pkg.Message, 0, len(members))
	for _, member := range members {
		m, err := decodeMember(patientID, member)
		if err != nil {
			s.log.Error().Err(err).Str("patient_id", patientID).Msg("skipping malformed message")
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// decodeMember parses "seq:seconds:microseconds:json".
func decodeMember(patientID, member string) (pkg.Message, error) {
	parts := strings.SplitN(member, ":", 4)
	if len(parts) != 4 {
		return pkg.Message{}, fmt.Errorf("malformed member %q", member)
	}
	seq, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return pkg.Message{}, fmt.Errorf("parse seq: %w", err)
	}
	ts, err := redisTime(parts[1], parts[2])
	if err != nil {
		return pkg.Message{}, err
	}
	var body redisBody
	if err := json.Unmarshal([]byte(parts[3]), &body); err != nil {
		return pkg.Message{}, fmt.Errorf("decode body: %w", err)
	}
	return pkg.NewConfirmed(body.ID, patientID, body.Sender, body.Text, ts, seq), nil
}

func redisTime(sec, usec any) (time.Time, error) {
	s, err := toInt64(sec)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse seconds: %w", err)
	}
	us, err := toInt64(usec)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse microseconds: %w", err)
	}
	return time.Unix(s, us*int64(time.Microsecond)).UTC(), nil
}

func toInt64(v any) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected value %T", v)
	}
}

// classifyRedis maps client errors onto ErrUnavailable and
// ErrPermissionDenied.  Other errors are returned unchanged.
func classifyRedis(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, prefix := range []string{"NOPERM", "NOAUTH", "WRONGPASS"} {
		if strings.HasPrefix(msg, prefix) {
			return permissionDenied(err)
		}
	}
	if strings.HasPrefix(msg, "LOADING") || errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return unavailable(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return unavailable(err)
	}
	return err
}
