package transport

import (
	"context"
	"io"
)

// progressReader reports the percentage of total consumed so far. Reports are
// only emitted when the integer percentage changes.
type progressReader struct {
	ctx    context.Context
	r      io.Reader
	total  int64
	read   int64
	last   int
	report func(percent int)
}

func newProgressReader(ctx context.Context, r io.Reader, total int64, report func(int)) *progressReader {
	return &progressReader{ctx: ctx, r: r, total: total, last: -1, report: report}
}

func (p *progressReader) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 && p.report != nil {
		pct := int(p.read * 100 / p.total)
		if pct > 100 {
			pct = 100
		}
		if pct != p.last {
			p.last = pct
			p.report(pct)
		}
	}
	return n, err
}
