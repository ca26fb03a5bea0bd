package carter

import (
	"bufio"
	"context"
	"dropcarter/lib/browser"
	"dropcarter/lib/restyutil"
	"dropcarter/lib/storeapi"
	"dropcarter/lib/timeutil"
	"dropcarter/services/carter/catalog"
	"dropcarter/services/carter/checkout"
	"dropcarter/services/carter/poller"
	"dropcarter/services/carter/reserve"
	"dropcarter/services/carter/session"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ErrNoItems = errors.New("carter: the selected item list is empty")

// Browser is the browser tab the driver logs in with and checks out in.
type Browser interface {
	browser.Page
	session.CookieSource
}

// StoreAPI is the storefront's json api.
type StoreAPI interface {
	poller.ItemStatusAPI
	reserve.CartAPI
}

var (
	loginMarker = browser.Marker{Name: "login_prompt", Selector: ".btn-submit"}
	// only rendered once logged in
	searchMarker = browser.Marker{Name: "search_button", Selector: ".search-box__button"}
	cartMarker   = browser.Marker{
		Name:     "cart_heading",
		Selector: "#__layout > div > div:nth-of-type(1) > div:nth-of-type(2) > div > div > div:nth-of-type(1) > section > h2",
	}
)

// Summary describes what a run did.
type Summary struct {
	RunID   string
	Secured []string
	Orders  int
	DryRun  bool
}

type Driver struct {
	cfg     Config
	catalog catalog.Catalog
	browser Browser
	hooks   []checkout.PlacementHook
	runID   string

	// overridable in tests
	newAPI       func(sess *session.Context) (StoreAPI, error)
	operator     io.Reader
	loginSettle  time.Duration
	cookieSettle time.Duration
	pageSettle   time.Duration
}

func NewRunID() (string, error) {
	return random.String(8)
}

func NewDriver(cfg Config, cat catalog.Catalog, b Browser, runID string, hooks ...checkout.PlacementHook) *Driver {
	d := &Driver{
		cfg:          cfg,
		catalog:      cat,
		browser:      b,
		hooks:        hooks,
		runID:        runID,
		operator:     os.Stdin,
		loginSettle:  2 * time.Second,
		cookieSettle: time.Second,
		pageSettle:   time.Second,
	}
	d.newAPI = d.defaultAPI
	return d
}

func (d *Driver) RunID() string {
	return d.runID
}

// NewStoreClient builds the api client for a session, sharing the browser's
// cookies.
func NewStoreClient(cfg Config, sess *session.Context, debug bool) (*storeapi.Client, error) {
	jar, err := sess.Jar(cfg.Urls.ItemInfoApi, cfg.Urls.CartApi)
	if err != nil {
		return nil, err
	}
	var output restyutil.InstrumentOutput
	if debug && cfg.HttpDumpDir != "" {
		fsOutput, err := restyutil.NewFilesystemOutput(cfg.HttpDumpDir)
		if err != nil {
			return nil, err
		}
		output = fsOutput
	}
	return storeapi.NewClient(storeapi.Options{
		ItemInfoUrl:      cfg.Urls.ItemInfoApi,
		CartUrl:          cfg.Urls.CartApi,
		Headers:          sess.Headers(),
		Jar:              jar,
		InstrumentOutput: output,
	}), nil
}

func (d *Driver) defaultAPI(sess *session.Context) (StoreAPI, error) {
	return NewStoreClient(d.cfg, sess, slog.Default().Enabled(context.Background(), slog.LevelDebug))
}

// Login opens the account page, logging in when auto_login is set, and
// builds the session out of the resulting cookies.
func (d *Driver) Login(ctx context.Context) (*session.Context, error) {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	err := d.browser.Navigate(ctx, d.cfg.Urls.UserInfo)
	if err != nil {
		return nil, fmt.Errorf("open account page: %w", err)
	}

	if d.cfg.AutoLogin {
		err = d.accountLogin(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to log in")
			return nil, err
		}
	} else {
		// the page must have loaded once for the session cookies to exist
		err = timeutil.Sleep(ctx, d.loginSettle)
		if err != nil {
			return nil, err
		}
	}

	sess, err := session.Load(ctx, d.browser, d.catalog.Headers, d.catalog.BaseRequestData)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load session")
		return nil, err
	}
	return sess, nil
}

func (d *Driver) accountLogin(ctx context.Context) error {
	waitOpts := browser.WaitOptions{Timeout: time.Duration(d.cfg.MarkerTimeoutMs) * time.Millisecond}

	_, err := browser.WaitFor(ctx, d.browser, waitOpts, loginMarker)
	if err != nil {
		return fmt.Errorf("wait for login prompt: %w", err)
	}
	markers := checkout.DefaultMarkers
	err = d.browser.SendKeys(ctx, markers.EmailInput, d.cfg.Credentials.Email)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	err = d.browser.SendKeys(ctx, markers.PasswordInput, d.cfg.Credentials.Password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	err = d.browser.Submit(ctx, markers.SubmitButton)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	_, err = browser.WaitFor(ctx, d.browser, waitOpts, searchMarker)
	if err != nil {
		return fmt.Errorf("wait for login to complete: %w", err)
	}
	slog.InfoContext(ctx, "account logged in")
	return timeutil.Sleep(ctx, d.cookieSettle)
}

func (d *Driver) loadCartPage(ctx context.Context) error {
	err := d.browser.Navigate(ctx, d.cfg.Urls.CartPage)
	if err != nil {
		return fmt.Errorf("open cart page: %w", err)
	}
	_, err = browser.WaitFor(ctx, d.browser, browser.WaitOptions{
		Timeout: time.Duration(d.cfg.MarkerTimeoutMs) * time.Millisecond,
	}, cartMarker)
	if errors.Is(err, browser.ErrWaitTimeout) {
		slog.WarnContext(ctx, "cart page did not finish loading, continuing")
		return nil
	}
	return err
}

func (d *Driver) waitForOperator(ctx context.Context) error {
	fmt.Fprintln(os.Stderr, "Press enter to continue to the next step.")
	done := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(d.operator).ReadString('\n')
		if errors.Is(err, io.EOF) {
			err = nil
		}
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Run logs in and keeps reserving and checking out until every selected
// item has gone through checkout.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", d.runID))

	summary := Summary{RunID: d.runID, DryRun: !d.cfg.ShouldFinishOrder()}

	items := d.catalog.Select(d.cfg.TestMode)
	if len(items) == 0 {
		return summary, ErrNoItems
	}
	slog.InfoContext(
		ctx, "starting run",
		"run_id", d.runID,
		"items", len(items),
		"test_mode", d.cfg.TestMode,
		"finish_order", d.cfg.ShouldFinishOrder(),
	)

	sess, err := d.Login(ctx)
	if err != nil {
		return summary, err
	}

	err = d.loadCartPage(ctx)
	if err != nil {
		return summary, err
	}
	slog.InfoContext(ctx, "initial setup complete")
	err = timeutil.Sleep(ctx, d.pageSettle)
	if err != nil {
		return summary, err
	}

	if d.cfg.WaitForUser {
		err = d.waitForOperator(ctx)
		if err != nil {
			return summary, err
		}
	}

	api, err := d.newAPI(sess)
	if err != nil {
		return summary, fmt.Errorf("create api client: %w", err)
	}

	if d.cfg.WaitForItems {
		p := poller.New(api, sess, d.cfg.PollerOptions())
		item, err := p.Wait(ctx, items)
		switch {
		case errors.Is(err, poller.ErrThrottled):
			slog.WarnContext(ctx, "throttled while waiting for items, reserving anyway")
		case err != nil:
			return summary, err
		default:
			slog.InfoContext(ctx, "item is open for orders", "code", item.Code, "desc", item.Desc)
		}
	}

	coordinator := reserve.NewCoordinator(api, d.cfg.ReserveOptions(len(d.catalog.Items)))
	machine := checkout.NewMachine(d.browser, d.cfg.CheckoutOptions(), d.hooks...)

	pending := catalog.NewReservationRequests(items, sess)
	for len(pending) > 0 {
		res, err := coordinator.Reserve(ctx, pending)
		if err != nil {
			return summary, err
		}
		pending = res.Unsecured
		secured := make([]string, len(res.Secured))
		for i, req := range res.Secured {
			secured[i] = req.Code()
		}
		summary.Secured = append(summary.Secured, secured...)

		if d.cfg.CartOnly {
			slog.InfoContext(ctx, "cart only mode, stopping before checkout", "secured", secured)
			<-ctx.Done()
			return summary, ctx.Err()
		}
		if len(secured) == 0 {
			slog.WarnContext(ctx, "nothing was added to the cart, retrying", "pending", len(pending))
			continue
		}

		out, err := machine.Run(ctx, secured)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "checkout failed")
			return summary, err
		}
		summary.Orders = machine.Counter()
		slog.InfoContext(
			ctx, "checkout finished",
			"phase", out.Phase,
			"restarts", out.Restarts,
			"remaining", len(pending),
		)
	}

	return summary, nil
}
