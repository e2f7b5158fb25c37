package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ChangeNotifier carries store change notifications to observers. Publish
// must not block on slow subscribers.
type ChangeNotifier interface {
	Publish(ctx context.Context, ch Change) error
	// Subscribe returns a channel of changes and a stop function that must be
	// called before process exit to tear the subscription down.
	Subscribe(ctx context.Context) (<-chan Change, func(), error)
}

// RedisNotifier distributes changes over a Redis pub/sub channel so every
// process observing the collection sees writes from every other process.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = "license_codes.changes"
	}
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Publish(ctx context.Context, ch Change) error {
	body, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, body).Err()
}

func (n *RedisNotifier) Subscribe(ctx context.Context) (<-chan Change, func(), error) {
	sub := n.client.Subscribe(ctx, n.channel)
	// Force the subscription before returning so no change published after
	// Subscribe is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan Change, 64)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var ch Change
			if err := json.Unmarshal([]byte(msg.Payload), &ch); err != nil {
				slog.Error("malformed change notification", "payload", msg.Payload, "error", err)
				continue
			}
			select {
			case out <- ch:
			default:
				slog.Warn("change subscriber lagging, dropping notification", "code", ch.Code)
			}
		}
	}()

	return out, func() { _ = sub.Close() }, nil
}

// MemoryNotifier is an in-process ChangeNotifier for single-process
// deployments and tests.
type MemoryNotifier struct {
	mu   sync.Mutex
	subs map[chan Change]struct{}
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{subs: make(map[chan Change]struct{})}
}

func (n *MemoryNotifier) Publish(_ context.Context, ch Change) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for sub := range n.subs {
		select {
		case sub <- ch:
		default:
			slog.Warn("change subscriber lagging, dropping notification", "code", ch.Code)
		}
	}
	return nil
}

func (n *MemoryNotifier) Subscribe(_ context.Context) (<-chan Change, func(), error) {
	sub := make(chan Change, 64)
	n.mu.Lock()
	n.subs[sub] = struct{}{}
	n.mu.Unlock()

	stop := func() {
		n.mu.Lock()
		if _, ok := n.subs[sub]; ok {
			delete(n.subs, sub)
			close(sub)
		}
		n.mu.Unlock()
	}
	return sub, stop, nil
}
