package main

import (
	"io"
	"time"

	"github.com/ajitpratap0/tabular/internal/pipeline"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// progress renders transfer batch events as a row-count bar.
type progress struct {
	p    *mpb.Progress
	bar  *mpb.Bar
	last time.Time
}

func newProgress(out io.Writer, name string) *progress {
	p := mpb.New(mpb.WithOutput(out), mpb.WithRefreshRate(200*time.Millisecond))
	bar := p.New(0,
		mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding(" ").Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DidentRight}),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WC{W: 5}),
			decor.Name(" ETA "),
			decor.EwmaETA(decor.ET_STYLE_GO, 30),
		),
	)
	return &progress{p: p, bar: bar, last: time.Now()}
}

// observe is a pipeline.Options.OnBatch callback.
func (pr *progress) observe(e pipeline.BatchEvent) {
	now := time.Now()
	pr.bar.SetTotal(e.Total, false)
	pr.bar.EwmaSetCurrent(e.RowsScanned, now.Sub(pr.last))
	pr.last = now
}

// done completes the bar, or aborts it when the transfer failed.
func (pr *progress) done(failed bool) {
	if failed {
		pr.bar.Abort(false)
	} else {
		pr.bar.SetTotal(-1, true)
	}
	pr.p.Wait()
}
