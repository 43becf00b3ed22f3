// Package docs tracks the uploaded knowledge base and reconciles the
// asynchronous server-side indexing through a polling loop. The poller is an
// explicit idle/running state machine owning a single timer; it runs only
// while at least one document is pending or processing.
package docs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"kbchat/internal/api"
)

const (
	defaultPollInterval = 2 * time.Second

	previewTTL = 5 * time.Minute
)

// Manager owns the local view of the document list and the status poller.
type Manager struct {
	client   *api.Client
	logger   *zap.Logger
	interval time.Duration
	previews *gocache.Cache

	mu      sync.Mutex
	docs    []api.Document
	polling bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithPollInterval overrides the status poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// NewManager creates a document manager. Call Close when done to stop any
// running poller.
func NewManager(client *api.Client, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		client:   client,
		logger:   logger,
		interval: defaultPollInterval,
		// Cleanup interval 0 runs no janitor goroutine; Get enforces expiry.
		previews: gocache.New(previewTTL, 0),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Refresh replaces the document list from the server and reconciles the
// poller against the new pending count.
func (m *Manager) Refresh(ctx context.Context) error {
	docs, err := m.client.ListDocuments(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.docs = docs
	m.reconcileLocked()
	m.mu.Unlock()
	return nil
}

// Documents returns a snapshot of the known document list.
func (m *Manager) Documents() []api.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]api.Document, len(m.docs))
	copy(out, m.docs)
	return out
}

// Upload sends the file at path to the server. The returned document starts
// pending, so the poller is (re)started as needed.
func (m *Manager) Upload(ctx context.Context, path string) (*api.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := m.client.UploadDocument(ctx, filepath.Base(path), f)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.docs = append(m.docs, *doc)
	m.reconcileLocked()
	m.mu.Unlock()

	m.logger.Info("document uploaded",
		zap.Int64("document_id", doc.ID),
		zap.String("filename", doc.Filename))
	return doc, nil
}

// Delete removes a document and refreshes the list.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	if err := m.client.DeleteDocument(ctx, id); err != nil {
		return err
	}
	m.previews.Delete(previewKey(id))
	return m.Refresh(ctx)
}

// Preview returns the document's preview bytes, served from a short-lived
// cache when available.
func (m *Manager) Preview(ctx context.Context, id int64) ([]byte, error) {
	if cached, ok := m.previews.Get(previewKey(id)); ok {
		return cached.([]byte), nil
	}
	data, err := m.client.DocumentPreview(ctx, id)
	if err != nil {
		return nil, err
	}
	m.previews.Set(previewKey(id), data, gocache.DefaultExpiration)
	return data, nil
}

// Reset wipes the entire knowledge base server-side. Irreversible.
func (m *Manager) Reset(ctx context.Context) error {
	if err := m.client.ResetKnowledgeBase(ctx); err != nil {
		return err
	}
	m.previews.Flush()
	return m.Refresh(ctx)
}

// Polling reports whether the status poller is running.
func (m *Manager) Polling() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polling
}

// Close stops the poller and waits for it to exit. Safe to call more than
// once and while idle.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.polling = false
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// reconcileLocked drives the poller state machine: a pending-count
// transition 0→>0 starts it, >0→0 stops it. Start while running and stop
// while idle are no-ops, so retriggers never stack timers.
func (m *Manager) reconcileLocked() {
	indexing := 0
	for i := range m.docs {
		if m.docs[i].Indexing() {
			indexing++
		}
	}

	switch {
	case indexing > 0 && !m.polling:
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		// A previous poller may still be draining its final tick; the new
		// one waits for it so only one loop ever runs.
		prev := m.done
		m.polling = true
		m.cancel = cancel
		m.done = done
		m.logger.Debug("status poller started", zap.Int("indexing", indexing))
		go m.poll(ctx, done, prev)
	case indexing == 0 && m.polling:
		m.polling = false
		m.cancel()
		m.cancel = nil
		// done is left for Close to wait on; the loop exits on its own.
		m.logger.Debug("status poller stopped")
	}
}

func (m *Manager) poll(ctx context.Context, done, prev chan struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick queries status for every document still indexing. The first observed
// change triggers one full list refetch and ends the tick; remaining
// documents wait for the next round.
func (m *Manager) tick(ctx context.Context) {
	m.mu.Lock()
	watch := make([]api.Document, 0, len(m.docs))
	for _, d := range m.docs {
		if d.Indexing() {
			watch = append(watch, d)
		}
	}
	m.mu.Unlock()

	for _, d := range watch {
		status, err := m.client.DocumentStatus(ctx, d.ID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("document status poll failed",
				zap.Int64("document_id", d.ID), zap.Error(err))
			continue
		}
		if status.IndexStatus != d.IndexStatus {
			m.logger.Debug("document status changed",
				zap.Int64("document_id", d.ID),
				zap.String("from", d.IndexStatus),
				zap.String("to", status.IndexStatus))
			if err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn("document list refetch failed", zap.Error(err))
			}
			return
		}
	}
}

func previewKey(id int64) string {
	return fmt.Sprintf("preview:%d", id)
}
