package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/enrollease/enrollease-api/internal/models"
)

// RedisRecordFeed delivers committed student document snapshots over one Redis pub/sub
// channel per document.
type RedisRecordFeed struct {
	client      *redis.Client
	prefix      string
	healthCheck time.Duration
	logger      *zap.Logger
}

const defaultFeedHealthCheck = 30 * time.Second

// NewRedisRecordFeed constructs a feed publishing on prefix+documentID.
func NewRedisRecordFeed(client *redis.Client, prefix string, logger *zap.Logger) *RedisRecordFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "enrollease:students:"
	}
	return &RedisRecordFeed{client: client, prefix: prefix, healthCheck: defaultFeedHealthCheck, logger: logger}
}

func (f *RedisRecordFeed) channel(id string) string {
	return f.prefix + id
}

// Publish broadcasts a snapshot to the document's subscribers.
func (f *RedisRecordFeed) Publish(ctx context.Context, snap models.RecordSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", snap.ID, err)
	}
	if err := f.client.Publish(ctx, f.channel(snap.ID), payload).Err(); err != nil {
		return fmt.Errorf("publish snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// Subscribe opens a subscription for one document. ctx bounds only the confirmation
// round trip; the subscription lives until Close.
func (f *RedisRecordFeed) Subscribe(ctx context.Context, id string) (models.FeedSubscription, error) {
	ps := f.client.Subscribe(ctx, f.channel(id))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", id, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &RedisSubscription{
		pubsub:      ps,
		events:      make(chan models.FeedEvent, 16),
		done:        make(chan struct{}),
		ctx:         subCtx,
		cancel:      cancel,
		healthCheck: f.healthCheck,
	}
	go sub.run(f.logger.With(zap.String("document_id", id)))
	return sub, nil
}

// RedisSubscription is a live document subscription.
type RedisSubscription struct {
	pubsub      *redis.PubSub
	events      chan models.FeedEvent
	done        chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc
	healthCheck time.Duration
	once        sync.Once
}

// Events delivers feed events in arrival order. The channel closes after a FeedLost event or
// on Close.
func (s *RedisSubscription) Events() <-chan models.FeedEvent {
	return s.events
}

// Close releases the subscription. Safe to call more than once.
func (s *RedisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.cancel()
		err = s.pubsub.Close()
	})
	return err
}

// run reads the pub/sub connection directly so that a broken connection surfaces as FeedLost
// instead of being repaired underneath the subscriber. An idle connection is pinged once per
// health check interval; a missing pong by the next interval counts as lost.
func (s *RedisSubscription) run(logger *zap.Logger) {
	defer close(s.events)
	awaitingPong := false
	for {
		msg, err := s.pubsub.ReceiveTimeout(s.ctx, s.healthCheck)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if isTimeout(err) && !awaitingPong {
				if err := s.pubsub.Ping(s.ctx); err == nil {
					awaitingPong = true
					continue
				}
			}
			logger.Warn("record feed lost", zap.Error(err))
			s.emit(models.FeedEvent{Kind: models.FeedLost, Err: err})
			_ = s.Close()
			return
		}
		awaitingPong = false
		event, ok := translateFeedMessage(msg)
		if !ok {
			if _, pong := msg.(*redis.Pong); !pong {
				logger.Warn("dropping malformed feed message")
			}
			continue
		}
		if !s.emit(event) {
			return
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (s *RedisSubscription) emit(event models.FeedEvent) bool {
	select {
	case s.events <- event:
		return true
	case <-s.done:
		return false
	}
}

// translateFeedMessage converts a pub/sub delivery into a feed event.
func translateFeedMessage(msg interface{}) (models.FeedEvent, bool) {
	switch m := msg.(type) {
	case *redis.Subscription:
		if m.Kind == "subscribe" {
			return models.FeedEvent{Kind: models.FeedResumed}, true
		}
		return models.FeedEvent{}, false
	case *redis.Message:
		var snap models.RecordSnapshot
		if err := json.Unmarshal([]byte(m.Payload), &snap); err != nil || snap.ID == "" {
			return models.FeedEvent{}, false
		}
		return models.FeedEvent{Kind: models.FeedSnapshot, Snapshot: &snap}, true
	default:
		return models.FeedEvent{}, false
	}
}
