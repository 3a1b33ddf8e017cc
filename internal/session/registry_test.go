package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"uploaddesk/internal/journal"
	"uploaddesk/internal/surface"
	"uploaddesk/internal/transport"
	"uploaddesk/internal/upload"
)

func newTestRegistry(t *testing.T, maxSessions int, transport upload.Transport) (*Registry, journal.Journal) {
	t.Helper()
	j := journal.NewFile(t.TempDir())
	r := NewRegistry(Options{
		MaxSessions: maxSessions,
		Upload:      upload.Options{MaxFiles: 2, Transport: transport},
		Journal:     j,
		TempDir:     t.TempDir(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		r.WaitAll(ctx)
	})
	return r, j
}

func okTransport() upload.Transport {
	return upload.TransportFunc(func(context.Context, string, upload.Handle, func(int)) error { return nil })
}

func pdf(name string) upload.Handle {
	return surface.FromBytes(name, "application/pdf", []byte("%PDF-1.4"))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for condition")
}

func TestCreateGetListDelete(t *testing.T) {
	r, _ := newTestRegistry(t, 3, okTransport())
	first, err := r.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := r.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("session ids must differ")
	}
	if got, ok := r.Get(first.ID); !ok || got != first {
		t.Fatalf("expected to find first session")
	}
	if list := r.List(); len(list) != 2 || list[0] != first {
		t.Fatalf("expected sessions in creation order, got %d", len(list))
	}

	if err := r.Delete(context.Background(), first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := r.Get(first.ID); ok {
		t.Fatalf("deleted session still present")
	}
	if err := r.Delete(context.Background(), first.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMaxSessionsGate(t *testing.T) {
	r, _ := newTestRegistry(t, 1, okTransport())
	if _, err := r.Create(); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !r.IsFull() {
		t.Fatalf("expected registry to be full")
	}
	if _, err := r.Create(); !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("expected ErrTooManySessions, got %v", err)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	r, _ := newTestRegistry(t, 2, okTransport())
	a, _ := r.Create()
	b, _ := r.Create()

	if _, err := a.Submit([]upload.Handle{pdf("a1.pdf"), pdf("a2.pdf")}, false); err != nil {
		t.Fatalf("submit a: %v", err)
	}
	if _, err := b.Submit([]upload.Handle{pdf("b1.pdf")}, true); err != nil {
		t.Fatalf("submit b: %v", err)
	}
	if got := a.View().Stats.Total; got != 2 {
		t.Fatalf("expected 2 files in a, got %d", got)
	}
	if got := b.View().Stats.Total; got != 1 {
		t.Fatalf("expected 1 file in b, got %d", got)
	}
}

func TestLastErrorAndBatch(t *testing.T) {
	r, _ := newTestRegistry(t, 1, okTransport())
	s, _ := r.Create()

	_, err := s.Submit([]upload.Handle{pdf("a.pdf"), pdf("b.pdf"), pdf("c.pdf")}, false)
	if !errors.Is(err, upload.ErrTooManyFiles) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if s.LastError() != "Maximum 2 files allowed" {
		t.Fatalf("unexpected last error %q", s.LastError())
	}

	if _, err := s.Submit([]upload.Handle{pdf("a.pdf")}, false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if s.LastError() != "" {
		t.Fatalf("expected error banner cleared, got %q", s.LastError())
	}
	waitFor(t, func() bool { return len(s.LastBatch()) == 1 })
	if got := s.LastBatch()[0]; got.Status != upload.StatusCompleted || got.Name != "a.pdf" {
		t.Fatalf("unexpected batch outcome: %+v", got)
	}
}

func TestTerminalOutcomesAreJournaled(t *testing.T) {
	failing := upload.TransportFunc(func(_ context.Context, _ string, h upload.Handle, _ func(int)) error {
		if h.Name() == "bad.pdf" {
			return errors.New("network down")
		}
		return nil
	})
	r, j := newTestRegistry(t, 1, failing)
	s, _ := r.Create()
	if _, err := s.Submit([]upload.Handle{pdf("good.pdf"), pdf("bad.pdf")}, false); err != nil {
		t.Fatalf("submit: %v", err)
	}

	var history []journal.Entry
	waitFor(t, func() bool {
		history, _ = s.History(context.Background())
		return len(history) == 2
	})
	byName := map[string]journal.Entry{}
	for _, e := range history {
		byName[e.Name] = e
	}
	if byName["good.pdf"].Status != upload.StatusCompleted {
		t.Fatalf("expected good.pdf completed, got %+v", byName["good.pdf"])
	}
	if byName["bad.pdf"].Status != upload.StatusError || byName["bad.pdf"].Error != "Upload failed. Please try again." {
		t.Fatalf("expected bad.pdf failed, got %+v", byName["bad.pdf"])
	}

	if err := r.Delete(context.Background(), s.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if h, _ := j.History(context.Background(), s.ID); len(h) != 0 {
		t.Fatalf("expected history forgotten, got %d entries", len(h))
	}
}

func TestWaitAllCoversDeletedSessions(t *testing.T) {
	release := make(chan struct{})
	blocking := upload.TransportFunc(func(ctx context.Context, _ string, _ upload.Handle, _ func(int)) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	r, _ := newTestRegistry(t, 1, blocking)
	s, _ := r.Create()
	if _, err := s.Submit([]upload.Handle{pdf("a.pdf")}, false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := r.Delete(context.Background(), s.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if r.WaitAll(ctx) {
		t.Fatalf("expected WaitAll to time out while transfer is blocked")
	}

	close(release)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	if !r.WaitAll(ctx2) {
		t.Fatalf("expected WaitAll to finish after release")
	}
}

func TestSetBaseContextCancelsTransfers(t *testing.T) {
	blocking := upload.TransportFunc(func(ctx context.Context, _ string, _ upload.Handle, _ func(int)) error {
		<-ctx.Done()
		return ctx.Err()
	})
	r, _ := newTestRegistry(t, 1, blocking)
	ctx, cancel := context.WithCancel(context.Background())
	r.SetBaseContext(ctx)
	s, _ := r.Create()
	accepted, err := s.Submit([]upload.Handle{pdf("a.pdf")}, false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	cancel()
	waitFor(t, func() bool {
		f, ok := s.Manager().File(accepted[0].ID)
		return ok && f.Status == upload.StatusError
	})
}

func TestTransportBusyFollowsSharedLimit(t *testing.T) {
	release := make(chan struct{})
	gated := upload.TransportFunc(func(ctx context.Context, _ string, _ upload.Handle, _ func(int)) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	r, _ := newTestRegistry(t, 2, transport.Limit(gated, 1))
	if r.TransportBusy() {
		t.Fatalf("expected idle transport before any upload")
	}
	sess, err := r.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := sess.Submit([]upload.Handle{pdf("a.pdf")}, false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, r.TransportBusy)
	close(release)
	waitFor(t, func() bool { return !r.TransportBusy() })

	unbounded, _ := newTestRegistry(t, 1, okTransport())
	if unbounded.TransportBusy() {
		t.Fatalf("unbounded transport must never be busy")
	}
}

func TestViewCarriesDragState(t *testing.T) {
	r, _ := newTestRegistry(t, 1, okTransport())
	sess, err := r.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sess.Surface().DragEnter()
	if got := sess.View().DragState; got != surface.DragActive {
		t.Fatalf("expected %q, got %q", surface.DragActive, got)
	}
	if _, err := sess.Submit([]upload.Handle{pdf("a.pdf")}, true); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := sess.View().DragState; got != surface.DragIdle {
		t.Fatalf("expected %q after drop, got %q", surface.DragIdle, got)
	}
}
