package upload

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Manager tracks submitted files and drives one transfer per accepted file.
// A Manager belongs to a single upload session; construct one per form or page.
type Manager struct {
	mu    sync.RWMutex
	files map[string]*TrackedFile
	order []string

	maxFileSizeMB int
	maxFiles      int
	accepted      map[string]struct{}
	extensions    []string
	transport     Transport
	timeout       time.Duration
	onComplete    func(batch []TrackedFile)
	onError       func(msg string)
	baseCtx       context.Context

	// nextSeq is guarded by mu. Events are numbered while the transition is
	// applied and delivered strictly in that order, with no lock held.
	nextSeq     uint64
	emitMu      sync.Mutex
	emitCond    *sync.Cond
	delivered   uint64
	subsMu      sync.Mutex
	subscribers map[int]func(Event)
	nextSubID   int

	workersWG sync.WaitGroup
}

// NewManager creates a manager, filling zero options with defaults. A nil
// Transport falls back to the in-process Simulator.
func NewManager(opts Options) *Manager {
	if opts.MaxFileSizeMB <= 0 {
		opts.MaxFileSizeMB = DefaultMaxFileSizeMB
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = DefaultMaxFiles
	}
	extensions := NormalizeExtensions(opts.AcceptedExtensions)
	if len(extensions) == 0 {
		extensions = NormalizeExtensions(DefaultAcceptedExtensions)
	}
	accepted := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		accepted[ext] = struct{}{}
	}
	if opts.Transport == nil {
		opts.Transport = NewSimulator(SimulatorOptions{})
	}
	m := &Manager{
		files:         make(map[string]*TrackedFile),
		maxFileSizeMB: opts.MaxFileSizeMB,
		maxFiles:      opts.MaxFiles,
		accepted:      accepted,
		extensions:    extensions,
		transport:     opts.Transport,
		timeout:       opts.TransferTimeout,
		onComplete:    opts.OnUploadComplete,
		onError:       opts.OnUploadError,
		baseCtx:       context.Background(),
		subscribers:   make(map[int]func(Event)),
	}
	m.emitCond = sync.NewCond(&m.emitMu)
	return m
}

// SetBaseContext sets the parent context of every transfer started afterwards.
// Cancelling it fails in-flight transfers; intended for process shutdown.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// MaxFiles returns the configured capacity.
func (m *Manager) MaxFiles() int { return m.maxFiles }

// MaxFileSizeMB returns the configured per-file size limit.
func (m *Manager) MaxFileSizeMB() int { return m.maxFileSizeMB }

// AcceptedExtensions returns the normalized extension set in configuration order.
func (m *Manager) AcceptedExtensions() []string {
	return append([]string(nil), m.extensions...)
}

// Submit accepts a batch of handles. The batch is rejected as a whole when it
// would push the tracked count above MaxFiles. Otherwise each handle is
// validated on its own; valid ones are tracked and start transferring before
// Submit returns, invalid ones are reported once through OnUploadError and
// returned as a *ValidationError alongside the accepted files.
func (m *Manager) Submit(handles []Handle) ([]TrackedFile, error) {
	if len(handles) == 0 {
		return nil, ErrNoFiles
	}

	candidates := make([]*TrackedFile, 0, len(handles))
	var failures []string
	for _, h := range handles {
		if err := m.Validate(h); err != nil {
			failures = append(failures, h.Name()+": "+err.Error())
			continue
		}
		candidates = append(candidates, m.newTrackedFile(h))
	}

	m.mu.Lock()
	if len(m.order)+len(handles) > m.maxFiles {
		m.mu.Unlock()
		capErr := &CapacityError{Max: m.maxFiles}
		log.Warn().Int("tracked", m.Count()).Int("batch", len(handles)).Int("max_files", m.maxFiles).Msg("submission rejected: capacity")
		m.reportError(capErr.Error())
		return nil, capErr
	}
	batch := make([]TrackedFile, 0, len(candidates))
	for _, f := range candidates {
		m.files[f.ID] = f
		m.order = append(m.order, f.ID)
		batch = append(batch, *f)
	}
	ctx := m.baseCtx
	seq := m.reserve(len(batch))
	m.mu.Unlock()
	added := make([]Event, 0, len(batch))
	for _, f := range batch {
		added = append(added, Event{Type: EventAdded, File: f})
	}
	m.publish(seq, added...)

	var err error
	if len(failures) > 0 {
		validationErr := &ValidationError{Failures: failures}
		log.Warn().Int("rejected", len(failures)).Int("accepted", len(batch)).Msg("files failed validation")
		m.reportError(validationErr.Error())
		err = validationErr
	}

	if len(batch) > 0 {
		m.startBatch(ctx, batch)
	}
	return batch, err
}

func (m *Manager) newTrackedFile(h Handle) *TrackedFile {
	f := &TrackedFile{
		ID:          uuid.NewString(),
		Name:        h.Name(),
		Size:        h.Size(),
		MediaType:   h.MediaType(),
		SubmittedAt: time.Now(),
		Status:      StatusUploading,
		payload:     h,
	}
	if IsImage(h.MediaType()) {
		preview, err := DataURI(h)
		if err != nil {
			log.Warn().Str("file", h.Name()).Err(err).Msg("image preview failed")
		}
		f.Preview = preview
	}
	return f
}

// startBatch launches one transfer per file without waiting on each other and
// a join that fires OnUploadComplete once all of them settle.
func (m *Manager) startBatch(ctx context.Context, batch []TrackedFile) {
	results := make([]TrackedFile, len(batch))
	var batchWG sync.WaitGroup
	batchWG.Add(len(batch))
	m.workersWG.Add(len(batch) + 1)
	for i, f := range batch {
		go func() {
			defer m.workersWG.Done()
			defer batchWG.Done()
			results[i] = m.transfer(ctx, f)
		}()
	}
	go func() {
		defer m.workersWG.Done()
		batchWG.Wait()
		log.Info().Int("files", len(results)).Msg("upload batch settled")
		if m.onComplete != nil {
			m.onComplete(results)
		}
	}()
}

// transfer runs a single attempt and returns the file as it settled. The
// returned descriptor is valid even if the file was removed meanwhile.
func (m *Manager) transfer(parent context.Context, f TrackedFile) TrackedFile {
	ctx, cancel := parent, context.CancelFunc(func() {})
	if m.timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, m.timeout)
	}
	defer cancel()

	report := func(percent int) { m.setProgress(f.ID, f.attempt, percent) }

	done := make(chan error, 1)
	go func() { done <- m.transport.Upload(ctx, f.ID, f.payload, report) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	return m.settle(f, err)
}

func (m *Manager) setProgress(id string, attempt, percent int) {
	if percent > 99 {
		percent = 99
	}
	m.mu.Lock()
	f, ok := m.files[id]
	if !ok || f.attempt != attempt || f.Status != StatusUploading || percent <= f.Progress {
		m.mu.Unlock()
		return
	}
	f.Progress = percent
	snapshot := *f
	seq := m.reserve(1)
	m.mu.Unlock()
	m.publish(seq, Event{Type: EventProgress, File: snapshot})
}

// settle records the single terminal outcome of an attempt. Updates for
// removed files or superseded attempts are dropped.
func (m *Manager) settle(f TrackedFile, err error) TrackedFile {
	outcome := f
	event := EventCompleted
	if err == nil {
		outcome.Status = StatusCompleted
		outcome.Progress = 100
		outcome.Error = ""
	} else {
		event = EventFailed
		outcome.Status = StatusError
		outcome.Error = msgTransferFailed
		if errors.Is(err, context.DeadlineExceeded) {
			outcome.Error = msgTransferTimeout
		}
		log.Warn().Str("file_id", f.ID).Str("file", f.Name).Err(err).Msg("upload failed")
	}

	m.mu.Lock()
	current, ok := m.files[f.ID]
	if !ok || current.attempt != f.attempt || current.Status != StatusUploading {
		m.mu.Unlock()
		log.Debug().Str("file_id", f.ID).Msg("dropping outcome for removed or superseded upload")
		return outcome
	}
	if err == nil {
		current.Progress = 100
	}
	current.Status = outcome.Status
	current.Error = outcome.Error
	outcome = *current
	seq := m.reserve(1)
	m.mu.Unlock()
	m.publish(seq, Event{Type: event, File: outcome})

	if err == nil {
		log.Info().Str("file_id", f.ID).Str("file", f.Name).Msg("upload completed")
	}
	return outcome
}

// RemoveFile drops a file from the tracked set. Unknown ids are ignored and an
// in-flight transfer for the id keeps running with its result discarded.
func (m *Manager) RemoveFile(id string) {
	m.mu.Lock()
	f, ok := m.files[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.files, id)
	for i, fid := range m.order {
		if fid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	snapshot := *f
	seq := m.reserve(1)
	m.mu.Unlock()
	m.publish(seq, Event{Type: EventRemoved, File: snapshot})
}

// RetryUpload restarts the transfer of a file in error state. The retry runs
// on its own and does not trigger OnUploadComplete.
func (m *Manager) RetryUpload(id string) error {
	m.mu.Lock()
	f, ok := m.files[id]
	if !ok {
		m.mu.Unlock()
		return ErrFileNotFound
	}
	if f.Status != StatusError {
		m.mu.Unlock()
		return ErrNotRetryable
	}
	f.Status = StatusUploading
	f.Progress = 0
	f.Error = ""
	f.attempt++
	snapshot := *f
	ctx := m.baseCtx
	seq := m.reserve(1)
	m.mu.Unlock()
	m.publish(seq, Event{Type: EventRetried, File: snapshot})

	log.Info().Str("file_id", id).Int("attempt", snapshot.attempt).Msg("retrying upload")
	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		m.transfer(ctx, snapshot)
	}()
	return nil
}

// ClearAllFiles empties the tracked set without stopping in-flight transfers.
func (m *Manager) ClearAllFiles() {
	m.mu.Lock()
	clear(m.files)
	m.order = nil
	seq := m.reserve(1)
	m.mu.Unlock()
	m.publish(seq, Event{Type: EventCleared})
}

// Files returns a copy of the tracked files in insertion order.
func (m *Manager) Files() []TrackedFile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TrackedFile, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.files[id])
	}
	return out
}

// File returns a copy of a single tracked file.
func (m *Manager) File(id string) (TrackedFile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[id]
	if !ok {
		return TrackedFile{}, false
	}
	return *f, true
}

// Count returns the number of tracked files.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{Total: len(m.order)}
	for _, f := range m.files {
		switch f.Status {
		case StatusCompleted:
			s.Completed++
		case StatusUploading:
			s.Uploading++
		case StatusError:
			s.Errored++
		}
	}
	return s
}

// Subscribe registers fn for every state transition. Events reach fn in the
// order transitions were applied, on the goroutine that applied them, and
// before the mutating call returns. fn may read the manager (Files, Stats,
// File) but must not call Submit, RemoveFile, RetryUpload or ClearAllFiles.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.subsMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	m.subsMu.Unlock()
	return func() {
		m.subsMu.Lock()
		delete(m.subscribers, id)
		m.subsMu.Unlock()
	}
}

// Wait blocks until every in-flight transfer and batch join has finished or
// the context is done. Returns true if everything finished.
func (m *Manager) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// reserve hands out n consecutive sequence numbers. Callers hold mu.
func (m *Manager) reserve(n int) uint64 {
	first := m.nextSeq
	m.nextSeq += uint64(n)
	return first
}

// publish waits until every event numbered before first has been delivered,
// then delivers events. No manager lock is held while subscribers run.
func (m *Manager) publish(first uint64, events ...Event) {
	if len(events) == 0 {
		return
	}
	m.emitMu.Lock()
	for m.delivered != first {
		m.emitCond.Wait()
	}
	m.emitMu.Unlock()
	defer func() {
		m.emitMu.Lock()
		m.delivered += uint64(len(events))
		m.emitCond.Broadcast()
		m.emitMu.Unlock()
	}()
	for _, evt := range events {
		m.deliver(evt)
	}
}

func (m *Manager) deliver(evt Event) {
	m.subsMu.Lock()
	fns := make([]func(Event), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}
	m.subsMu.Unlock()
	for _, fn := range fns {
		fn(evt)
	}
}

func (m *Manager) reportError(msg string) {
	if m.onError != nil {
		m.onError(msg)
	}
}
