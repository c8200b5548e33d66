package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"blueprint/api/internal/cache"

	"github.com/redis/go-redis/v9"
)

// Invalidator is the slice of the cache the bridge needs.
type Invalidator interface {
	Invalidate(ctx context.Context, ownerID string, scopes ...string) error
}

// Bridge owns one change-feed subscription bound to the current authenticated
// identity. Arm establishes the subscription for an owner, tearing down any
// previous one first, so an identity switch never leaves a stale listener
// processing another owner's events. Disarm tears it down on sign-out.
type Bridge struct {
	rdb   *redis.Client
	cache Invalidator

	mu      sync.Mutex
	ownerID string
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewBridge(rdb *redis.Client, inv Invalidator) *Bridge {
	return &Bridge{rdb: rdb, cache: inv}
}

// Arm subscribes to the change feed for ownerID. Re-arming with the same
// owner is a no-op; a different owner replaces the subscription.
func (b *Bridge) Arm(ctx context.Context, ownerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ownerID == ownerID && b.cancel != nil {
		return nil
	}
	b.disarmLocked()
	if ownerID == "" {
		return nil
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	pubsub := b.rdb.Subscribe(subCtx, ChangesChannel(ownerID))

	// Force the SUBSCRIBE onto the wire before we report armed, so events
	// published immediately after Arm returns are not missed.
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return err
	}

	done := make(chan struct{})
	b.ownerID = ownerID
	b.cancel = cancel
	b.done = done

	go b.consume(subCtx, pubsub, ownerID, done)
	return nil
}

// Disarm tears down the current subscription, if any. Safe to call multiple
// times.
func (b *Bridge) Disarm() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disarmLocked()
}

func (b *Bridge) disarmLocked() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done
	b.ownerID = ""
	b.cancel = nil
	b.done = nil
}

// Owner reports the identity the bridge is currently armed for.
func (b *Bridge) Owner() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ownerID
}

func (b *Bridge) consume(ctx context.Context, pubsub *redis.PubSub, ownerID string, done chan struct{}) {
	defer close(done)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("realtime: skipping malformed change event: %v", err)
				continue
			}
			if ev.OwnerID != ownerID {
				continue
			}
			b.handle(ctx, ev)
		}
	}
}

// handle maps one notification onto cache invalidations. Notifications may
// arrive out of write order; invalidation is idempotent, so the worst case
// is an extra refetch.
func (b *Bridge) handle(ctx context.Context, ev Event) {
	scopes := []string{cache.ScopeAll}
	if ev.Table == TableArtifacts {
		if ev.ToolType != "" {
			scopes = append(scopes, cache.ScopeType(ev.ToolType))
		}
		if ev.RecordID != "" {
			scopes = append(scopes, cache.ScopeID(ev.RecordID))
		}
	}
	if err := b.cache.Invalidate(ctx, ev.OwnerID, scopes...); err != nil {
		log.Printf("realtime: invalidate after change event: %v", err)
	}
}
