package browser

import (
	"context"
	"dropcarter/lib/htmlutil"
	"errors"
	"log/slog"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var ErrWaitTimeout = errors.New("browser: timed out waiting for page marker")
var ErrElementNotFound = errors.New("browser: element not found")

// Page is the subset of a browser tab the bot drives. selectors are CSS
// selectors understood by document.querySelector.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Document returns a parsed snapshot of the current DOM.
	Document(ctx context.Context) (*goquery.Document, error)
	Click(ctx context.Context, selector string) error
	Submit(ctx context.Context, selector string) error
	SendKeys(ctx context.Context, selector, text string) error
	SetValue(ctx context.Context, selector, value string) error
	SelectIndex(ctx context.Context, selector string, index int) error
	Screenshot(ctx context.Context) ([]byte, error)
}

// Marker identifies an element whose presence signals page state.
type Marker struct {
	Name     string
	Selector string
	// if set, only elements whose visible text equals Text match
	Text string
}

func (m Marker) Find(doc *goquery.Document) *goquery.Selection {
	sel := doc.Find(m.Selector)
	if m.Text == "" {
		return sel
	}
	return sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return htmlutil.Text(s) == m.Text
	})
}

func (m Marker) Present(doc *goquery.Document) bool {
	return m.Find(doc).Length() > 0
}

type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

func (o WaitOptions) withDefaults() WaitOptions {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Interval <= 0 {
		o.Interval = 100 * time.Millisecond
	}
	return o
}

// WaitFor polls the page until any of the markers is present and returns the
// snapshot it resolved on. it fails with ErrWaitTimeout once opts.Timeout
// elapses, or with ctx's error if ctx is done first.
func WaitFor(ctx context.Context, page Page, opts WaitOptions, markers ...Marker) (*goquery.Document, error) {
	ctx, span := tracer.Start(ctx, "WaitFor")
	defer span.End()

	opts = opts.withDefaults()
	deadline := time.Now().Add(opts.Timeout)

	for {
		doc, err := page.Document(ctx)
		if err != nil {
			slog.DebugContext(ctx, "failed to snapshot page while waiting", "err", err)
		} else {
			for _, m := range markers {
				if m.Present(doc) {
					return doc, nil
				}
			}
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !time.Now().Before(deadline) {
			span.RecordError(ErrWaitTimeout)
			return nil, ErrWaitTimeout
		}

		timer := time.NewTimer(opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
