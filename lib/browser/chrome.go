package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Options struct {
	Headless bool
	// when set, the chrome profile (and so the login session) is kept here
	UserDataDir string
	UserAgent   string
	// bounds every single browser action, defaults to 10 seconds
	ActionTimeout time.Duration
}

// Chrome is a Page backed by a chromedp controlled chrome tab.
type Chrome struct {
	ctx           context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
	actionTimeout time.Duration
}

func Launch(ctx context.Context, opts Options) (*Chrome, error) {
	ctx, span := tracer.Start(ctx, "Launch")
	defer span.End()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	actionTimeout := opts.ActionTimeout
	if actionTimeout <= 0 {
		actionTimeout = 10 * time.Second
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	err := chromedp.Run(browserCtx)
	if err != nil {
		browserCancel()
		allocCancel()
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start chrome")
		return nil, err
	}

	return &Chrome{
		ctx:           browserCtx,
		allocCancel:   allocCancel,
		browserCancel: browserCancel,
		actionTimeout: actionTimeout,
	}, nil
}

func (c *Chrome) Close() {
	c.browserCancel()
	c.allocCancel()
}

// run executes actions on the tab, bounded by the action timeout and by the
// caller's ctx.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	actionCtx, cancel := context.WithTimeout(c.ctx, c.actionTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(actionCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	ctx, span := tracer.Start(ctx, "chrome:Navigate")
	defer span.End()
	span.SetAttributes(attribute.String("url", url))

	err := c.run(ctx, chromedp.Navigate(url))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to navigate")
	}
	return err
}

func (c *Chrome) Document(ctx context.Context) (*goquery.Document, error) {
	var contents string
	err := c.run(ctx, chromedp.OuterHTML("html", &contents, chromedp.ByQuery))
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(contents))
}

func (c *Chrome) Click(ctx context.Context, selector string) error {
	return c.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (c *Chrome) Submit(ctx context.Context, selector string) error {
	return c.run(ctx, chromedp.Submit(selector, chromedp.ByQuery))
}

func (c *Chrome) SendKeys(ctx context.Context, selector, text string) error {
	return c.run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (c *Chrome) SetValue(ctx context.Context, selector, value string) error {
	return c.run(ctx, chromedp.SetValue(selector, value, chromedp.ByQuery))
}

const selectIndexScript = `(function(sel, index) {
	const el = document.querySelector(sel);
	if (!el) {
		return false;
	}
	el.selectedIndex = index;
	el.dispatchEvent(new Event("change", { bubbles: true }));
	return true;
})(%s, %d)`

func (c *Chrome) SelectIndex(ctx context.Context, selector string, index int) error {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return err
	}
	var found bool
	err = c.run(ctx, chromedp.Evaluate(fmt.Sprintf(selectIndexScript, quoted, index), &found))
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return nil
}

func (c *Chrome) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := c.run(ctx, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

// Cookies returns every cookie visible to the current tab.
func (c *Chrome) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	ctx, span := tracer.Start(ctx, "chrome:Cookies")
	defer span.End()

	var cookies []*network.Cookie
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read cookies")
		return nil, err
	}

	out := make([]*http.Cookie, len(cookies))
	for i, cookie := range cookies {
		out[i] = &http.Cookie{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Domain:   cookie.Domain,
			Path:     cookie.Path,
			Secure:   cookie.Secure,
			HttpOnly: cookie.HTTPOnly,
		}
		if cookie.Expires > 0 {
			out[i].Expires = time.Unix(int64(cookie.Expires), 0)
		}
	}
	return out, nil
}
