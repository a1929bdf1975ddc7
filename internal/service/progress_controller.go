package service

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/enrollease/enrollease-api/internal/enrollment"
	"github.com/enrollease/enrollease-api/internal/models"
)

// Calendar supplies the enrollment windows and the clock to guards.
type Calendar struct {
	Windows enrollment.Windows
	Now     func() time.Time
}

func (c Calendar) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// ProgressView is what the presentation layer renders for a student.
type ProgressView struct {
	DocumentID     string                       `json:"document_id"`
	Version        int64                        `json:"version"`
	Stage          enrollment.Stage             `json:"stage"`
	StageRank      int                          `json:"stage_rank"`
	EnabledActions []enrollment.Action          `json:"enabled_actions"`
	Blocked        map[enrollment.Action]string `json:"blocked,omitempty"`
	Pending        []enrollment.Action          `json:"pending_confirmation,omitempty"`
	Stale          bool                         `json:"stale"`
	UpdatedAt      time.Time                    `json:"updated_at"`
}

// BuildProgressView derives the view of a confirmed record.
func BuildProgressView(record models.StudentRecord, cal Calendar) ProgressView {
	now := cal.now()
	stage := enrollment.DeriveStage(record)
	enabled, blocked := enrollment.EnabledActions(record, cal.Windows, now)
	return ProgressView{
		DocumentID:     record.ID,
		Version:        record.Version,
		Stage:          stage,
		StageRank:      stage.Rank(),
		EnabledActions: enabled,
		Blocked:        blocked,
		UpdatedAt:      now.UTC(),
	}
}

type recordSource interface {
	Snapshot(ctx context.Context, id string) (models.RecordSnapshot, error)
	Subscribe(ctx context.Context, id string) (models.FeedSubscription, error)
}

// ProgressControllerOptions tunes resubscription.
type ProgressControllerOptions struct {
	ResubscribeInitial time.Duration
	ResubscribeMax     time.Duration
}

// ProgressController follows one student document and republishes its progress view after
// every confirmed snapshot. Snapshots are applied by a single goroutine in arrival order.
type ProgressController struct {
	id       string
	source   recordSource
	calendar Calendar
	metrics  *MetricsService
	logger   *zap.Logger
	opts     ProgressControllerOptions

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	record      models.StudentRecord
	loaded      bool
	view        ProgressView
	pending     map[enrollment.Action]int64
	boundary    *time.Timer
	watchers    map[int]chan ProgressView
	nextWatcher int
	started     bool
	closed      bool
	closeOnce   sync.Once
}

// NewProgressController constructs an idle controller. Call Start to begin following the
// document.
func NewProgressController(id string, source recordSource, cal Calendar, metrics *MetricsService, logger *zap.Logger, opts ProgressControllerOptions) *ProgressController {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ResubscribeInitial <= 0 {
		opts.ResubscribeInitial = 250 * time.Millisecond
	}
	if opts.ResubscribeMax <= 0 {
		opts.ResubscribeMax = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ProgressController{
		id:       id,
		source:   source,
		calendar: cal,
		metrics:  metrics,
		logger:   logger.With(zap.String("document_id", id)),
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		pending:  make(map[enrollment.Action]int64),
		watchers: make(map[int]chan ProgressView),
	}
}

// Start subscribes to the document and loads its current state. The subscription is opened
// before the read so no committed write falls between them.
func (c *ProgressController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	sub, err := c.source.Subscribe(ctx, c.id)
	if err != nil {
		close(c.done)
		return err
	}
	c.metrics.SubscriptionOpened()

	snap, err := c.source.Snapshot(ctx, c.id)
	if err != nil {
		_ = sub.Close()
		c.metrics.SubscriptionClosed()
		close(c.done)
		return err
	}
	c.apply(snap)

	go c.run(sub)
	return nil
}

// View returns the current view and whether a snapshot has been applied.
func (c *ProgressController) View() (ProgressView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyView(), c.loaded
}

// Watch returns a channel that always holds the latest view, and a release func. The channel
// is closed on release or when the controller closes.
func (c *ProgressController) Watch() (<-chan ProgressView, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan ProgressView, 1)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextWatcher
	c.nextWatcher++
	c.watchers[id] = ch
	if c.loaded {
		ch <- c.copyView()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if w, ok := c.watchers[id]; ok {
				delete(c.watchers, id)
				close(w)
			}
		})
	}
	return ch, release
}

// ExpectConfirmation marks action as awaiting a snapshot with at least version.
func (c *ProgressController) ExpectConfirmation(action enrollment.Action, version int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || (c.loaded && c.record.Version >= version) {
		return
	}
	c.pending[action] = version
	c.view.Pending = c.pendingActions()
	c.broadcast()
}

// Close releases the subscription and all watchers. It is safe to call more than once.
func (c *ProgressController) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		started := c.started
		c.mu.Unlock()
		if started {
			<-c.done
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		c.closed = true
		if c.boundary != nil {
			c.boundary.Stop()
			c.boundary = nil
		}
		for id, w := range c.watchers {
			delete(c.watchers, id)
			close(w)
		}
	})
}

func (c *ProgressController) run(sub models.FeedSubscription) {
	defer close(c.done)
	defer func() {
		if sub != nil {
			_ = sub.Close()
			c.metrics.SubscriptionClosed()
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				event = models.FeedEvent{Kind: models.FeedLost}
			}
			switch event.Kind {
			case models.FeedSnapshot:
				if event.Snapshot != nil {
					c.apply(*event.Snapshot)
				}
			case models.FeedResumed:
				c.resync()
			case models.FeedLost:
				c.markStale(event.Err)
				_ = sub.Close()
				c.metrics.SubscriptionClosed()
				sub = c.resubscribe()
				if sub == nil {
					return
				}
				c.metrics.SubscriptionOpened()
				c.resync()
			}
		}
	}
}

func (c *ProgressController) resubscribe() models.FeedSubscription {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.ResubscribeInitial
	policy.MaxInterval = c.opts.ResubscribeMax
	policy.MaxElapsedTime = 0

	var sub models.FeedSubscription
	err := backoff.RetryNotify(func() error {
		s, err := c.source.Subscribe(c.ctx, c.id)
		if err != nil {
			return err
		}
		sub = s
		return nil
	}, backoff.WithContext(policy, c.ctx), func(err error, wait time.Duration) {
		c.logger.Warn("resubscribe failed", zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		return nil
	}
	c.logger.Info("record subscription resumed")
	return sub
}

func (c *ProgressController) resync() {
	snap, err := c.source.Snapshot(c.ctx, c.id)
	if err != nil {
		c.logger.Warn("resync student record failed", zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded && snap.Version <= c.record.Version {
		if c.view.Stale {
			c.view.Stale = false
			c.broadcast()
		}
		return
	}
	c.applyLocked(snap)
}

func (c *ProgressController) apply(snap models.RecordSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyLocked(snap)
}

func (c *ProgressController) applyLocked(snap models.RecordSnapshot) {
	if c.closed {
		return
	}
	if c.loaded && snap.Version <= c.record.Version {
		c.logger.Debug("dropping out-of-order snapshot", zap.Int64("version", snap.Version), zap.Int64("current", c.record.Version))
		return
	}
	record, err := snap.Decode()
	if err != nil {
		c.logger.Warn("undecodable snapshot ignored", zap.Int64("version", snap.Version), zap.Error(err))
		return
	}

	previous := c.view.Stage
	wasLoaded := c.loaded
	c.record = record
	c.loaded = true
	for action, version := range c.pending {
		if record.Version >= version {
			delete(c.pending, action)
		}
	}

	view := BuildProgressView(record, c.calendar)
	view.Pending = c.pendingActions()
	c.view = view
	if wasLoaded {
		c.metrics.ObserveStageTransition(previous, view.Stage)
	}
	c.armBoundaryLocked()
	c.broadcast()
}

// armBoundaryLocked schedules a rebuild at the next window opening or closing, replacing any
// earlier schedule. Callers hold c.mu.
func (c *ProgressController) armBoundaryLocked() {
	if c.boundary != nil {
		c.boundary.Stop()
		c.boundary = nil
	}
	now := c.calendar.now()
	next, ok := c.calendar.Windows.NextBoundary(now)
	if !ok {
		return
	}
	c.boundary = time.AfterFunc(next.Sub(now), c.refreshWindows)
}

// refreshWindows recomputes the enabled actions of the current record against the clock.
func (c *ProgressController) refreshWindows() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.loaded {
		return
	}
	c.armBoundaryLocked()
	view := BuildProgressView(c.record, c.calendar)
	if reflect.DeepEqual(view.EnabledActions, c.view.EnabledActions) && reflect.DeepEqual(view.Blocked, c.view.Blocked) {
		return
	}
	view.Pending = c.pendingActions()
	view.Stale = c.view.Stale
	c.view = view
	c.broadcast()
}

func (c *ProgressController) markStale(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Warn("record subscription lost", zap.Error(cause))
	if !c.loaded || c.view.Stale {
		return
	}
	c.view.Stale = true
	c.broadcast()
}

func (c *ProgressController) pendingActions() []enrollment.Action {
	if len(c.pending) == 0 {
		return nil
	}
	actions := make([]enrollment.Action, 0, len(c.pending))
	for action := range c.pending {
		actions = append(actions, action)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}

// broadcast replaces whatever view a watcher has not consumed yet. Callers hold c.mu.
func (c *ProgressController) broadcast() {
	view := c.copyView()
	for _, w := range c.watchers {
		select {
		case <-w:
		default:
		}
		w <- view
	}
}

func (c *ProgressController) copyView() ProgressView {
	view := c.view
	view.EnabledActions = append([]enrollment.Action(nil), c.view.EnabledActions...)
	view.Pending = append([]enrollment.Action(nil), c.view.Pending...)
	if c.view.Blocked != nil {
		view.Blocked = make(map[enrollment.Action]string, len(c.view.Blocked))
		for k, v := range c.view.Blocked {
			view.Blocked[k] = v
		}
	}
	return view
}
