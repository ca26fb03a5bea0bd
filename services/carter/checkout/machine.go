package checkout

import (
	"context"
	"dropcarter/lib/browser"
	"dropcarter/lib/htmlutil"
	"dropcarter/lib/timeutil"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var ErrTooManyRestarts = errors.New("checkout: too many restarts")

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Card struct {
	Owner        string `json:"owner"`
	Number       string `json:"number"`
	SecurityCode string `json:"security_code"`
	// index in the card type dropdown, visa is 0 and mastercard 1
	Type            int    `json:"type"`
	ExpirationYear  string `json:"expiration_year"`
	ExpirationMonth string `json:"expiration_month"`
}

// Placement describes an order the machine just placed.
type Placement struct {
	Number       int
	Time         time.Time
	Cart         []string
	Snapshot     []byte
	SnapshotPath string
}

// PlacementHook is told about every placed order, its errors are logged and
// otherwise ignored since the order already exists.
type PlacementHook interface {
	OrderPlaced(ctx context.Context, placement Placement) error
}

type Options struct {
	CheckoutUrl string
	Credentials Credentials
	Card        Card
	// DHL when set, surface parcel otherwise
	DHL bool
	// without it the machine stops right before placing the order
	FinishOrder        bool
	UnclassifiedPolicy UnclassifiedPolicy
	// 0 means restart forever
	MaxRestarts        int
	MarkerTimeout      time.Duration
	MarkerPollInterval time.Duration
	// wait after the place order click before taking the snapshot
	PlacementSettle time.Duration
	SnapshotDir     string

	Classifier Classifier
	// nil means DefaultMarkers
	Markers *Markers
	OnPhase func(Phase)
}

func (o Options) withDefaults() Options {
	if o.UnclassifiedPolicy == "" {
		o.UnclassifiedPolicy = UnclassifiedContinue
	}
	if o.MarkerTimeout <= 0 {
		o.MarkerTimeout = 30 * time.Second
	}
	if o.MarkerPollInterval <= 0 {
		o.MarkerPollInterval = 100 * time.Millisecond
	}
	if o.PlacementSettle <= 0 {
		o.PlacementSettle = 5 * time.Second
	}
	if o.SnapshotDir == "" {
		o.SnapshotDir = "."
	}
	if o.Classifier == nil {
		o.Classifier = DefaultClassifier
	}
	if o.Markers == nil {
		markers := DefaultMarkers
		o.Markers = &markers
	}
	return o
}

type Result struct {
	Phase    Phase
	Restarts int
	// set when the flow stopped before placing the order
	DryRun bool
	// the order counter value of the placed order
	OrderNumber  int
	SnapshotPath string
}

// Machine drives the storefront's checkout flow in a browser page. it
// purchases whatever is in the cart at the time Run is called.
type Machine struct {
	page    browser.Page
	opts    Options
	hooks   []PlacementHook
	phase   Phase
	counter int
}

func NewMachine(page browser.Page, opts Options, hooks ...PlacementHook) *Machine {
	return &Machine{
		page:  page,
		opts:  opts.withDefaults(),
		hooks: hooks,
	}
}

// Counter returns how many orders this machine has placed.
func (m *Machine) Counter() int {
	return m.counter
}

func (m *Machine) Phase() Phase {
	return m.phase
}

func (m *Machine) enter(ctx context.Context, phase Phase) {
	m.phase = phase
	slog.InfoContext(ctx, "checkout phase", "phase", phase)
	if m.opts.OnPhase != nil {
		m.opts.OnPhase(phase)
	}
}

// step outcomes
type outcome int

const (
	advance outcome = iota
	restart
)

// Run loops over the checkout flow until the order is placed, the dry run
// reaches the confirmation step or MaxRestarts is exceeded. `cart` lists the
// item codes believed to be in the cart and is only passed on to the hooks.
func (m *Machine) Run(ctx context.Context, cart []string) (Result, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	err := m.page.Navigate(ctx, m.opts.CheckoutUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open checkout page")
		return Result{Phase: m.phase}, fmt.Errorf("open checkout: %w", err)
	}

	restarts := 0
	for {
		res, out, err := m.attempt(ctx, cart)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "checkout failed")
			res.Phase = m.phase
			res.Restarts = restarts
			return res, err
		}
		if out == advance {
			res.Restarts = restarts
			span.SetAttributes(
				attribute.String("phase", res.Phase.String()),
				attribute.Int("restarts", restarts),
			)
			return res, nil
		}

		restarts++
		if m.opts.MaxRestarts > 0 && restarts > m.opts.MaxRestarts {
			m.enter(ctx, Aborted)
			span.SetStatus(codes.Error, "too many restarts")
			return Result{Phase: Aborted, Restarts: restarts}, ErrTooManyRestarts
		}
	}
}

// attempt runs the flow once from the login prompt.
func (m *Machine) attempt(ctx context.Context, cart []string) (Result, outcome, error) {
	markers := m.opts.Markers

	m.enter(ctx, AwaitingLoginPrompt)
	out, err := m.checkpoint(ctx, markers.LoginPrompt)
	if err != nil || out == restart {
		return Result{}, out, err
	}

	m.enter(ctx, LoggingIn)
	err = m.login(ctx)
	if err != nil {
		return Result{}, advance, err
	}

	m.enter(ctx, RearrangementStep)
	out, err = m.checkpoint(ctx, markers.Rearrangement)
	if err != nil || out == restart {
		return Result{}, out, err
	}
	err = m.page.Click(ctx, markers.SubmitButton)
	if err != nil {
		return Result{}, advance, fmt.Errorf("confirm rearrangement: %w", err)
	}

	m.enter(ctx, PaymentAndShippingStep)
	out, err = m.checkpoint(ctx, markers.Payment)
	if err != nil || out == restart {
		return Result{}, out, err
	}
	err = m.paymentAndShipping(ctx)
	if err != nil {
		return Result{}, advance, err
	}

	m.enter(ctx, ConfirmationStep)
	out, err = m.checkpoint(ctx, markers.Confirmation)
	if err != nil || out == restart {
		return Result{}, out, err
	}
	if !m.opts.FinishOrder {
		slog.InfoContext(ctx, "finish_order is off, stopping before placing the order")
		return Result{Phase: ConfirmationStep, DryRun: true}, advance, nil
	}

	res, err := m.place(ctx, cart)
	return res, advance, err
}

// checkpoint waits until the expected marker or an error marker shows up and
// performs the recovery the classified signal calls for.
func (m *Machine) checkpoint(ctx context.Context, expected browser.Marker) (outcome, error) {
	ctx, span := tracer.Start(ctx, "checkpoint")
	defer span.End()
	span.SetAttributes(attribute.String("marker", expected.Name))

	markers := m.opts.Markers
	waitFor := append([]browser.Marker{}, markers.Errors...)
	waitFor = append(waitFor, expected)

	doc, err := browser.WaitFor(ctx, m.page, browser.WaitOptions{
		Timeout:  m.opts.MarkerTimeout,
		Interval: m.opts.MarkerPollInterval,
	}, waitFor...)
	if errors.Is(err, browser.ErrWaitTimeout) {
		slog.WarnContext(ctx, "timed out waiting for page, reloading checkout", "phase", m.phase, "marker", expected.Name)
		return m.restartFrom(ctx, "timeout", m.reload)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to wait for page")
		return restart, err
	}

	text, errorPresent := m.inspect(doc, expected)
	signal := m.opts.Classifier.Classify(text, errorPresent)
	span.SetAttributes(attribute.String("signal", signal.String()))
	slog.InfoContext(ctx, "page resolved", "phase", m.phase, "text", text, "signal", signal)

	switch signal {
	case SignalCartConflict:
		return m.restartFrom(ctx, signal.String(), m.back)
	case SignalOverload:
		return m.restartFrom(ctx, signal.String(), m.reload)
	case SignalUnclassified:
		if m.opts.UnclassifiedPolicy == UnclassifiedRestart {
			return m.restartFrom(ctx, signal.String(), m.reload)
		}
		slog.WarnContext(ctx, "unclassified page error, continuing anyway", "phase", m.phase, "text", text)
	}
	return advance, nil
}

// inspect returns the text that decides the signal, read from the error
// titles first and the expected element last.
func (m *Machine) inspect(doc *goquery.Document, expected browser.Marker) (string, bool) {
	errorPresent := false
	for _, marker := range m.opts.Markers.Errors {
		if marker.Present(doc) {
			errorPresent = true
			break
		}
	}
	for _, selector := range m.opts.Markers.ErrorTitles {
		sel := doc.Find(selector)
		if sel.Length() > 0 {
			return htmlutil.Text(sel), errorPresent
		}
	}
	return htmlutil.Text(expected.Find(doc)), errorPresent
}

func (m *Machine) restartFrom(ctx context.Context, reason string, action func(ctx context.Context) error) (outcome, error) {
	restartCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	err := action(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return restart, ctx.Err()
		}
		slog.WarnContext(ctx, "checkout recovery action failed", "reason", reason, "err", err)
	}
	return restart, nil
}

func (m *Machine) back(ctx context.Context) error {
	return m.page.Click(ctx, m.opts.Markers.BackButton)
}

func (m *Machine) reload(ctx context.Context) error {
	return m.page.Navigate(ctx, m.opts.CheckoutUrl)
}

func (m *Machine) login(ctx context.Context) error {
	markers := m.opts.Markers
	err := m.page.SendKeys(ctx, markers.EmailInput, m.opts.Credentials.Email)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	err = m.page.SendKeys(ctx, markers.PasswordInput, m.opts.Credentials.Password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	err = m.page.Submit(ctx, markers.SubmitButton)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

func (m *Machine) paymentAndShipping(ctx context.Context) error {
	markers := m.opts.Markers

	shipping := markers.SurfaceShipping
	if m.opts.DHL {
		shipping = markers.DhlShipping
	}
	err := m.page.Click(ctx, shipping)
	if err != nil {
		return fmt.Errorf("select shipping: %w", err)
	}

	err = m.page.Click(ctx, markers.CreditCard)
	if err != nil {
		return fmt.Errorf("select payment method: %w", err)
	}
	err = m.fillCard(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.WarnContext(ctx, "failed to fill card fields, submitting anyway", "err", err)
	}

	err = m.page.Click(ctx, markers.SubmitButton)
	if err != nil {
		return fmt.Errorf("submit payment: %w", err)
	}
	return nil
}

// fillCard fills the card fields found on a snapshot of the page. a field
// that is not on the page is skipped without waiting for it, the form leaves
// them out when a card is on file.
func (m *Machine) fillCard(ctx context.Context) error {
	doc, err := m.page.Document(ctx)
	if err != nil {
		return err
	}

	markers := m.opts.Markers
	card := m.opts.Card
	fields := []struct {
		selector string
		fill     func() error
	}{
		{markers.CardNumber, func() error { return m.page.SendKeys(ctx, markers.CardNumber, card.Number) }},
		{markers.CardOwner, func() error { return m.page.SendKeys(ctx, markers.CardOwner, card.Owner) }},
		{markers.SecurityCode, func() error { return m.page.SendKeys(ctx, markers.SecurityCode, card.SecurityCode) }},
		{markers.CardType, func() error { return m.page.SelectIndex(ctx, markers.CardType, card.Type) }},
		{markers.ExpirationYear, func() error { return m.page.SetValue(ctx, markers.ExpirationYear, card.ExpirationYear) }},
		{markers.ExpirationMonth, func() error { return m.page.SetValue(ctx, markers.ExpirationMonth, card.ExpirationMonth) }},
	}

	skipped := 0
	for _, field := range fields {
		if doc.Find(field.selector).Length() == 0 {
			skipped++
			continue
		}
		err = field.fill()
		if err != nil {
			return err
		}
	}
	if skipped > 0 {
		slog.InfoContext(ctx, "card fields not on the page, assuming the card is on file", "skipped", skipped)
	}
	return nil
}

func (m *Machine) place(ctx context.Context, cart []string) (Result, error) {
	ctx, span := tracer.Start(ctx, "place")
	defer span.End()

	err := m.page.Click(ctx, m.opts.Markers.SubmitButton)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to click place order")
		return Result{}, fmt.Errorf("place order: %w", err)
	}
	err = timeutil.Sleep(ctx, m.opts.PlacementSettle)
	if err != nil {
		return Result{}, err
	}

	m.counter++
	m.enter(ctx, Placed)
	placedCounter.Add(ctx, 1)

	placement := Placement{
		Number: m.counter,
		Time:   time.Now(),
		Cart:   append([]string(nil), cart...),
	}
	snapshot, err := m.page.Screenshot(ctx)
	if err != nil {
		span.RecordError(err)
		slog.WarnContext(ctx, "failed to capture order snapshot", "order", m.counter, "err", err)
	} else {
		placement.Snapshot = snapshot
		path := filepath.Join(m.opts.SnapshotDir, fmt.Sprintf("proof_of_order_%d.png", m.counter))
		err = os.WriteFile(path, snapshot, 0644)
		if err != nil {
			span.RecordError(err)
			slog.WarnContext(ctx, "failed to save order snapshot", "path", path, "err", err)
		} else {
			placement.SnapshotPath = path
		}
	}
	slog.InfoContext(ctx, "order placed", "order", m.counter, "snapshot", placement.SnapshotPath, "cart", cart)

	for _, hook := range m.hooks {
		err := hook.OrderPlaced(ctx, placement)
		if err != nil {
			slog.WarnContext(ctx, "order placement hook failed", "order", m.counter, "err", err)
		}
	}

	return Result{
		Phase:        Placed,
		OrderNumber:  m.counter,
		SnapshotPath: placement.SnapshotPath,
	}, nil
}
