package transport

import (
	"context"

	"uploaddesk/internal/upload"
)

// Limited bounds how many uploads run at once. Uploads waiting for a slot
// still count against their own timeout.
type Limited struct {
	next  upload.Transport
	slots chan struct{}
}

// Limit wraps next with a semaphore of n slots. n <= 0 returns next unchanged.
func Limit(next upload.Transport, n int) upload.Transport {
	if n <= 0 {
		return next
	}
	return &Limited{next: next, slots: make(chan struct{}, n)}
}

// IsBusy reports whether every slot is taken.
func (l *Limited) IsBusy() bool {
	return len(l.slots) >= cap(l.slots)
}

func (l *Limited) Upload(ctx context.Context, id string, h upload.Handle, report func(int)) error {
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.slots }()
	return l.next.Upload(ctx, id, h, report)
}
