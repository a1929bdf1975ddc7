package models

import (
	"encoding/json"
	"time"
)

// RecordSnapshot is one committed state of a student document as delivered by the feed.
type RecordSnapshot struct {
	ID          string          `json:"id"`
	Version     int64           `json:"version"`
	Data        json.RawMessage `json:"data"`
	CommittedAt time.Time       `json:"committed_at"`
}

// Decode returns the canonical record for the snapshot.
func (s RecordSnapshot) Decode() (StudentRecord, error) {
	return DecodeStudentDocument(s.ID, s.Version, s.Data)
}

// FeedEventKind distinguishes snapshot deliveries from subscription state changes.
type FeedEventKind string

const (
	FeedSnapshot FeedEventKind = "snapshot"
	// FeedLost means the subscription dropped; later snapshots may have been missed.
	FeedLost FeedEventKind = "lost"
	// FeedResumed means the subscription is live again and the subscriber should resynchronise.
	FeedResumed FeedEventKind = "resumed"
)

// FeedEvent is delivered to a record subscriber.
type FeedEvent struct {
	Kind     FeedEventKind
	Snapshot *RecordSnapshot
	Err      error
}

// FeedSubscription is a live subscription to one document's snapshots.
type FeedSubscription interface {
	Events() <-chan FeedEvent
	Close() error
}
