package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/enrollease/enrollease-api/internal/enrollment"
)

type hubEntry struct {
	controller *ProgressController
	refs       int
	ready      chan struct{}
	err        error
}

// ProgressHub shares one controller per student among all current viewers and closes it when
// the last viewer releases.
type ProgressHub struct {
	source   recordSource
	calendar Calendar
	metrics  *MetricsService
	logger   *zap.Logger
	opts     ProgressControllerOptions

	mu      sync.Mutex
	entries map[string]*hubEntry
}

// NewProgressHub constructs a hub.
func NewProgressHub(source recordSource, cal Calendar, metrics *MetricsService, logger *zap.Logger, opts ProgressControllerOptions) *ProgressHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHub{
		source:   source,
		calendar: cal,
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
		entries:  make(map[string]*hubEntry),
	}
}

// Acquire returns the started controller for a document and a release func. Every successful
// Acquire must be paired with exactly one release; extra calls to release are ignored.
func (h *ProgressHub) Acquire(ctx context.Context, id string) (*ProgressController, func(), error) {
	h.mu.Lock()
	entry, ok := h.entries[id]
	if ok {
		entry.refs++
		h.mu.Unlock()
		select {
		case <-entry.ready:
		case <-ctx.Done():
			h.release(id, entry)
			return nil, nil, ctx.Err()
		}
		if entry.err != nil {
			h.release(id, entry)
			return nil, nil, entry.err
		}
		return entry.controller, h.releaser(id, entry), nil
	}

	entry = &hubEntry{
		controller: NewProgressController(id, h.source, h.calendar, h.metrics, h.logger, h.opts),
		refs:       1,
		ready:      make(chan struct{}),
	}
	h.entries[id] = entry
	h.mu.Unlock()

	entry.err = entry.controller.Start(ctx)
	close(entry.ready)
	if entry.err != nil {
		h.release(id, entry)
		return nil, nil, entry.err
	}
	return entry.controller, h.releaser(id, entry), nil
}

// Active returns the number of documents currently followed.
func (h *ProgressHub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// ExpectConfirmation forwards a pending write to the document's controller when one is live.
func (h *ProgressHub) ExpectConfirmation(id string, action enrollment.Action, version int64) {
	if h == nil {
		return
	}
	h.mu.Lock()
	entry, ok := h.entries[id]
	h.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-entry.ready:
		if entry.err == nil {
			entry.controller.ExpectConfirmation(action, version)
		}
	default:
	}
}

// Close shuts down every controller.
func (h *ProgressHub) Close() {
	h.mu.Lock()
	entries := h.entries
	h.entries = make(map[string]*hubEntry)
	h.mu.Unlock()

	for _, entry := range entries {
		entry.controller.Close()
	}
}

func (h *ProgressHub) releaser(id string, entry *hubEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() { h.release(id, entry) })
	}
}

func (h *ProgressHub) release(id string, entry *hubEntry) {
	h.mu.Lock()
	entry.refs--
	last := entry.refs <= 0
	if last && h.entries[id] == entry {
		delete(h.entries, id)
	}
	h.mu.Unlock()

	if last {
		entry.controller.Close()
	}
}
