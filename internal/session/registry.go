package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"uploaddesk/internal/journal"
	"uploaddesk/internal/surface"
	"uploaddesk/internal/upload"
)

const defaultMaxSessions = 100

type Options struct {
	MaxSessions int
	// Upload is the template for every session's manager. Its callbacks are
	// replaced by the session's own.
	Upload  upload.Options
	Journal journal.Journal
	TempDir string
}

// Registry holds the live sessions. Each session owns an independent
// manager; the transport in Options.Upload is shared between them.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxSessions int
	template    upload.Options
	journal     journal.Journal
	tempDir     string
	baseCtx     context.Context
	drainWG     sync.WaitGroup
}

func NewRegistry(opts Options) *Registry {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = defaultMaxSessions
	}
	if opts.Journal == nil {
		opts.Journal = journal.Nop{}
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		maxSessions: opts.MaxSessions,
		template:    opts.Upload,
		journal:     opts.Journal,
		tempDir:     opts.TempDir,
		baseCtx:     context.Background(),
	}
}

// SetBaseContext sets the parent context of transfers in existing and future
// sessions. Intended to be set at process startup and cancelled during shutdown.
func (r *Registry) SetBaseContext(ctx context.Context) {
	r.mu.Lock()
	r.baseCtx = ctx
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		s.Manager().SetBaseContext(ctx)
	}
}

// IsFull reports whether Create would be refused.
func (r *Registry) IsFull() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions) >= r.maxSessions
}

// busyReporter is implemented by transports with bounded concurrency.
type busyReporter interface {
	IsBusy() bool
}

// TransportBusy reports whether the shared transport has no free slot.
// Unbounded transports are never busy.
func (r *Registry) TransportBusy() bool {
	b, ok := r.template.Transport.(busyReporter)
	return ok && b.IsBusy()
}

// Create starts a new session with an empty manager.
func (r *Registry) Create() (*Session, error) {
	sess := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		journal:   r.journal,
	}
	opts := r.template
	opts.OnUploadComplete = sess.onUploadComplete
	opts.OnUploadError = sess.onUploadError
	manager := upload.NewManager(opts)
	sess.surface = surface.New(manager, r.tempDir)
	sess.unsubscribe = manager.Subscribe(sess.record)

	r.mu.Lock()
	if len(r.sessions) >= r.maxSessions {
		r.mu.Unlock()
		sess.unsubscribe()
		return nil, ErrTooManySessions
	}
	manager.SetBaseContext(r.baseCtx)
	r.sessions[sess.ID] = sess
	count := len(r.sessions)
	r.mu.Unlock()

	log.Info().Str("session_id", sess.ID).Int("sessions", count).Msg("session created")
	return sess, nil
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	return sess, ok
}

// List returns sessions ordered by creation time.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Delete drops a session, discards its files and forgets its history.
// Transfers still running finish in the background and are covered by WaitAll.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	sess.Manager().ClearAllFiles()
	sess.unsubscribe()
	r.drainWG.Add(1)
	go func() {
		defer r.drainWG.Done()
		sess.Manager().Wait(context.Background())
	}()

	if err := r.journal.Forget(ctx, id); err != nil {
		log.Warn().Str("session_id", id).Err(err).Msg("forget history failed")
	}
	log.Info().Str("session_id", id).Msg("session deleted")
	return nil
}

// WaitAll blocks until every session's transfers finish or the context is done.
// Returns true if all finished, false if timed out.
func (r *Registry) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		for _, s := range r.List() {
			s.Manager().Wait(context.Background())
		}
		r.drainWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
