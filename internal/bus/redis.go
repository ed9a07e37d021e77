// Package bus fans relayed events out across relay instances over Redis
// pub/sub. Events in flight are never persisted; a room still lives entirely
// in each instance's memory.
package bus

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Message is the envelope published per relayed event. Origin identifies the
// publishing instance so it can skip its own messages on the way back in.
type Message struct {
	Origin string          `json:"origin"`
	RoomID string          `json:"roomId"`
	Event  json.RawMessage `json:"event"`
}

type Redis struct {
	rdb    *redis.Client
	log    *slog.Logger
	prefix string
	origin string
}

// NewRedis connects to Redis and verifies connectivity.
func NewRedis(ctx context.Context, addr string, db int, prefix string, log *slog.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Redis{
		rdb:    rdb,
		log:    log,
		prefix: prefix,
		origin: newOrigin(),
	}, nil
}

// Publish sends one encoded event to the room's channel.
func (b *Redis) Publish(ctx context.Context, roomID string, event []byte) error {
	raw, err := json.Marshal(Message{Origin: b.origin, RoomID: roomID, Event: event})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel(roomID), raw).Err()
}

// Subscribe listens on all room channels and invokes fn for every event
// published by another instance. It blocks until ctx is done.
func (b *Redis) Subscribe(ctx context.Context, fn func(roomID string, event []byte)) {
	pubsub := b.rdb.PSubscribe(ctx, b.channel("*"))
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			_ = pubsub.Close()
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var m Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				b.log.Warn("bus message unmarshal failed", "err", err)
				continue
			}
			if !b.Accept(m) {
				continue
			}
			fn(m.RoomID, m.Event)
		}
	}
}

// Accept reports whether a received message should be delivered locally.
func (b *Redis) Accept(m Message) bool {
	return m.RoomID != "" && m.Origin != b.origin
}

func (b *Redis) Close() { _ = b.rdb.Close() }

func (b *Redis) channel(roomID string) string { return b.prefix + roomID }

func newOrigin() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("bus: generate origin id: " + err.Error())
	}
	return hex.EncodeToString(buf[:])
}
