// Package realtime carries change notifications between sessions. Every
// successful write publishes an event on an owner-scoped Pub/Sub channel;
// the Bridge in each session invalidates the matching cache keys so other
// devices converge without polling.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Tables covered by the change feed.
const (
	TableArtifacts  = "artifacts"
	TableMilestones = "milestones"
)

// Operations reported by the change feed.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Event is one change-feed notification. ToolType is only set for artifact
// events; consumers must tolerate its absence.
type Event struct {
	Table    string `json:"table"`
	Op       string `json:"op"`
	OwnerID  string `json:"ownerId"`
	RecordID string `json:"recordId,omitempty"`
	ToolType string `json:"toolType,omitempty"`
}

// ChangesChannel is the owner-scoped Pub/Sub channel for both tables.
func ChangesChannel(ownerID string) string {
	return "bp:" + ownerID + ":changes"
}

// Publisher pushes change events onto the owner's channel.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// Publish sends one event. Delivery is at-most-once: a subscriber that is
// not listening simply misses the event and refetches on its next read.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if ev.OwnerID == "" {
		return fmt.Errorf("event owner cannot be empty")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	if err := p.rdb.Publish(ctx, ChangesChannel(ev.OwnerID), payload).Err(); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}
