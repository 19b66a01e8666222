package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go-social/internal/user"

	"github.com/redis/go-redis/v9"
)

// ConnCounter counts live connections per user so a user only goes offline
// when their last connection closes.
type ConnCounter interface {
	Incr(ctx context.Context, userID string) (int64, error)
	Decr(ctx context.Context, userID string) (int64, error)
}

type localCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewLocalCounter counts connections of this process only.
func NewLocalCounter() ConnCounter {
	return &localCounter{counts: make(map[string]int64)}
}

func (l *localCounter) Incr(_ context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[userID]++
	return l.counts[userID], nil
}

func (l *localCounter) Decr(_ context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, ok := l.counts[userID]
	if !ok || n <= 1 {
		delete(l.counts, userID)
		return 0, nil
	}
	l.counts[userID] = n - 1
	return n - 1, nil
}

// decrScript decrements and deletes the field at zero in one step, so a
// concurrent Incr cannot be wiped out.
var decrScript = redis.NewScript(`
	local n = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
	if n <= 0 then
		redis.call('HDEL', KEYS[1], ARGV[1])
		return 0
	end
	return n
`)

// RedisCounter shares connection counts between instances in a Redis hash.
type RedisCounter struct {
	client *redis.Client
	key    string
}

func NewRedisCounter(client *redis.Client, key string) *RedisCounter {
	if key == "" {
		key = "presence:conns"
	}
	return &RedisCounter{client: client, key: key}
}

func (r *RedisCounter) Incr(ctx context.Context, userID string) (int64, error) {
	return r.client.HIncrBy(ctx, r.key, userID, 1).Result()
}

func (r *RedisCounter) Decr(ctx context.Context, userID string) (int64, error) {
	return decrScript.Run(ctx, r.client, []string{r.key}, userID).Int64()
}

// Presence derives online/offline state from connection lifecycle and
// announces every transition to all connected clients.
type Presence struct {
	hub     *Hub
	users   UserStore
	counter ConnCounter
	logger  *slog.Logger
}

func NewPresence(hub *Hub, users UserStore, counter ConnCounter, logger *slog.Logger) *Presence {
	if counter == nil {
		counter = NewLocalCounter()
	}
	return &Presence{hub: hub, users: users, counter: counter, logger: logger}
}

// Join binds c to userID's room, counts the connection, marks the user online
// and announces it. A failed write suppresses the announcement. Joining on a
// connection that has already disconnected changes nothing.
//
// The count is taken before the bind: once c carries userID, Disconnect is
// responsible for releasing it.
func (p *Presence) Join(ctx context.Context, c *Conn, userID string) error {
	counted := true
	if _, err := p.counter.Incr(ctx, userID); err != nil {
		p.logger.Error("failed to count connection", "userID", userID, "error", err)
		counted = false
	}

	prev, ok := p.hub.BindUser(c, userID)
	if !ok {
		if counted {
			p.uncount(ctx, userID)
		}
		p.logger.Debug("join on closed connection", "connID", c.id, "userID", userID)
		return nil
	}
	switch {
	case prev == userID:
		// Already counted by the earlier join on this connection.
		if counted {
			p.uncount(ctx, userID)
		}
	case prev != "":
		p.release(ctx, prev)
	}

	if err := p.users.SetOnline(ctx, userID, true); err != nil {
		p.logger.Error("failed to mark user online", "userID", userID, "error", err)
		return err
	}

	if !p.hub.Registered(c) {
		// Disconnect ran before the write and may have marked the user offline
		// first; settle the flag against the current count.
		p.settle(ctx, userID)
		return nil
	}

	p.hub.EmitAll(ctx, EventUserOnlineStatus, presenceStatus{UserID: userID, Online: true})
	return nil
}

func (p *Presence) uncount(ctx context.Context, userID string) {
	if _, err := p.counter.Decr(ctx, userID); err != nil {
		p.logger.Error("failed to uncount connection", "userID", userID, "error", err)
	}
}

// settle marks userID offline if none of their connections are counted.
func (p *Presence) settle(ctx context.Context, userID string) {
	if _, err := p.counter.Incr(ctx, userID); err != nil {
		p.logger.Error("failed to count connection", "userID", userID, "error", err)
		return
	}
	p.release(ctx, userID)
}

// Disconnect is the hub cleanup callback. Connections that never joined are ignored.
func (p *Presence) Disconnect(ctx context.Context, c *Conn) {
	if userID := c.UserID(); userID != "" {
		p.release(ctx, userID)
	}
}

func (p *Presence) release(ctx context.Context, userID string) {
	remaining, err := p.counter.Decr(ctx, userID)
	if err != nil {
		p.logger.Error("failed to uncount connection", "userID", userID, "error", err)
		return
	}
	if remaining > 0 {
		return
	}

	if err := p.users.SetOnline(ctx, userID, false); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			p.logger.Debug("offline user not found", "userID", userID)
		} else {
			p.logger.Error("failed to mark user offline", "userID", userID, "error", err)
		}
		return
	}

	p.hub.EmitAll(ctx, EventUserOnlineStatus, presenceStatus{UserID: userID, Online: false})
}
