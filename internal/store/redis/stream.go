// Package redis publishes processed-record and alert events onto Redis
// Streams so downstream consumers (dashboards, notification workers) can run
// out of process. An in-memory transport stands in when Redis is not
// configured.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const payloadField = "payload"

// MessageTransport is the stream abstraction the ingest service publishes
// through. ReadJSON blocks until a message after lastID arrives and returns
// the ID to resume from.
type MessageTransport interface {
	PublishJSON(ctx context.Context, stream string, v any) (string, error)
	ReadJSON(ctx context.Context, stream string, lastID string, v any) (string, error)
	Close() error
}

// Stream is the Redis Streams implementation of MessageTransport.
type Stream struct {
	client *redis.Client
}

var _ MessageTransport = (*Stream)(nil)

func NewStream(url string) (*Stream, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Stream{client: client}, nil
}

func (s *Stream) Close() error {
	return s.client.Close()
}

func (s *Stream) Client() *redis.Client {
	return s.client
}

// PublishJSON appends v as a JSON payload to the stream and returns the
// assigned stream ID.
func (s *Stream) PublishJSON(ctx context.Context, stream string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal stream payload: %w", err)
	}
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{payloadField: string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// ReadJSON blocks for the next entry after lastID and unmarshals it into v.
func (s *Stream) ReadJSON(ctx context.Context, stream string, lastID string, v any) (string, error) {
	if lastID == "" {
		lastID = "0"
	}
	res, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   1,
		Block:   0,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xread %s: %w", stream, err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return "", fmt.Errorf("xread %s: empty result", stream)
	}
	msg := res[0].Messages[0]
	payload, ok := msg.Values[payloadField].(string)
	if !ok {
		return "", fmt.Errorf("xread %s: message %s has no %s field", stream, msg.ID, payloadField)
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return "", fmt.Errorf("unmarshal stream payload: %w", err)
	}
	return msg.ID, nil
}

// ValidateStreamOffset checks that s is usable as a Redis stream ID ("" and
// "0" mean from-the-beginning).
func ValidateStreamOffset(s string) error {
	_, err := parseStreamOffset(s)
	return err
}

func parseStreamOffset(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	ms := s
	if i := strings.Index(s, "-"); i >= 0 {
		ms = s[:i]
		if s[i+1:] == "" {
			return 0, fmt.Errorf("invalid stream offset %q", s)
		}
		if _, err := strconv.ParseInt(s[i+1:], 10, 64); err != nil {
			return 0, fmt.Errorf("invalid stream offset %q", s)
		}
	}
	v, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid stream offset %q", s)
	}
	if v < 0 {
		if strings.Contains(s, "-") && !strings.HasPrefix(s, "-") {
			return 0, fmt.Errorf("invalid stream offset %q", s)
		}
		return 0, nil
	}
	return v, nil
}

// InMemoryTransport is a process-local MessageTransport for tests and for
// running without Redis. Messages are retained for the life of the process.
type InMemoryTransport struct {
	mu      sync.Mutex
	cond    *sync.Cond
	streams map[string][]inMemoryMessage
	closed  bool
}

type inMemoryMessage struct {
	id      int64
	payload []byte
}

var _ MessageTransport = (*InMemoryTransport)(nil)

func NewInMemoryTransport() *InMemoryTransport {
	t := &InMemoryTransport{streams: make(map[string][]inMemoryMessage)}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *InMemoryTransport) PublishJSON(_ context.Context, stream string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal stream payload: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", fmt.Errorf("transport closed")
	}
	id := int64(len(t.streams[stream]) + 1)
	t.streams[stream] = append(t.streams[stream], inMemoryMessage{id: id, payload: data})
	t.cond.Broadcast()
	return strconv.FormatInt(id, 10), nil
}

func (t *InMemoryTransport) ReadJSON(ctx context.Context, stream string, lastID string, v any) (string, error) {
	after, err := parseStreamOffset(lastID)
	if err != nil {
		return "", err
	}

	// Wake blocked readers when the context ends.
	stop := context.AfterFunc(ctx, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.cond.Broadcast()
	})
	defer stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		if t.closed {
			return "", fmt.Errorf("transport closed")
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		for _, msg := range t.streams[stream] {
			if msg.id <= after {
				continue
			}
			if err := json.Unmarshal(msg.payload, v); err != nil {
				return "", fmt.Errorf("unmarshal stream payload: %w", err)
			}
			return strconv.FormatInt(msg.id, 10), nil
		}
		t.cond.Wait()
	}
}

// Close wakes all blocked readers.
func (t *InMemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.cond.Broadcast()
	return nil
}

// Len reports the number of messages published to stream.
func (t *InMemoryTransport) Len(stream string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams[stream])
}
