package checkout

import (
	"context"
	"dropcarter/lib/browser"
	"dropcarter/lib/browser/browsertest"
	"dropcarter/lib/telemetry"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

const checkoutUrl = "https://secure.test.com/checkoutcart/"

const (
	loginPage = `<form>
		<input name="email"><input name="password">
		<button class="btn-submit">Sign in</button>
	</form>`
	rearrangementPage = `<section>
		<button>Return</button>
		<button class="btn-submit">Next</button>
	</section>`
	paymentPage = `<div id="__layout"><div><div><div><div>
		<div></div>
		<div>
			<section></section>
			<section><div>
				<div></div>
				<div>
					<div><label>Credit card</label></div>
					<div>
						<div></div>
						<div><input name="card_number"></div>
						<div>
							<div><select name="expiration_year"></select></div>
							<div><select name="expiration_month"></select></div>
						</div>
						<div><input name="card_owner"></div>
						<div><input name="security_code"></div>
						<select id="selectCardType"></select>
					</div>
				</div>
			</div></section>
			<section>
				<div><input type="radio" class="form-radio"></div>
				<div>
					<div><span><label>DHL</label></span></div>
					<div><span><label>Surface parcel</label></span></div>
				</div>
			</section>
			<button class="btn-submit">Next</button>
		</div>
	</div></div></div></div></div>`
	// the payment step once a card is on file
	cardOnFilePage = `<div id="__layout"><div><div><div><div>
		<div></div>
		<div>
			<section></section>
			<section><div>
				<div></div>
				<div><div><label>Credit card</label></div></div>
			</div></section>
			<section>
				<div><input type="radio" class="form-radio"></div>
				<div>
					<div><span><label>DHL</label></span></div>
					<div><span><label>Surface parcel</label></span></div>
				</div>
			</section>
			<button class="btn-submit">Next</button>
		</div>
	</div></div></div></div></div>`
	confirmationPage = `<div id="__layout"><div><div><div><div>
		<div></div>
		<div><section>
			<div></div><div></div>
			<div><form><button class="btn-submit">Place order</button></form></div>
		</section></div>
	</div></div></div></div></div>`
	placedPage   = `<h1>Thank you for your order</h1>`
	conflictPage = `<div>
		<p class="item-detail__error-title">There was problem.</p>
		<button class="btn-back">Back</button>
	</div>`
	overloadPage = `<div>
		<h2 class="alert-area__title">Access Restriction Notice</h2>
		<p class="alert-area__text">Please wait a moment and try again.</p>
	</div>`
	blankPage = `<p>loading</p>`
)

// site plays the checkout flow. inject replaces the next page the flow
// would show at a given step with an error page, once per entry.
type site struct {
	lock   sync.Mutex
	step   string
	inject map[string][]string
	// how long a field action on an element that is not on the page hangs
	// before failing, like a browser waiting for the element to appear
	stall time.Duration
}

func (s *site) fieldPresent(p *browsertest.Page, selector string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.HTML()))
	if err != nil {
		return false
	}
	return doc.Find(selector).Length() > 0
}

func (s *site) next(step, page string) string {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.step = step
	if pages := s.inject[step]; len(pages) > 0 {
		s.inject[step] = pages[1:]
		return pages[0]
	}
	return page
}

func newSite(inject map[string][]string) (*browsertest.Page, *site) {
	s := &site{inject: inject}
	page := browsertest.New(blankPage)
	page.Snapshot = []byte("png")
	page.OnAction = func(p *browsertest.Page, a browsertest.Action) error {
		switch a.Kind {
		case "keys", "value", "select":
			if !s.fieldPresent(p, a.Selector) {
				time.Sleep(s.stall)
				return fmt.Errorf("%w: %s", browser.ErrElementNotFound, a.Selector)
			}
			return nil
		}
		switch {
		case a.Kind == "navigate" && a.Value == checkoutUrl:
			p.SetHTML(s.next("login", loginPage))
		case a.Kind == "click" && a.Selector == ".btn-back":
			p.SetHTML(s.next("login", loginPage))
		case a.Kind == "submit" && a.Selector == ".btn-submit":
			p.SetHTML(s.next("rearrangement", rearrangementPage))
		case a.Kind == "click" && a.Selector == ".btn-submit":
			s.lock.Lock()
			step := s.step
			s.lock.Unlock()
			switch step {
			case "rearrangement":
				p.SetHTML(s.next("payment", paymentPage))
			case "payment":
				p.SetHTML(s.next("confirmation", confirmationPage))
			case "confirmation":
				p.SetHTML(s.next("placed", placedPage))
			}
		}
		return nil
	}
	return page, s
}

func testOptions(t testing.TB) Options {
	return Options{
		CheckoutUrl:        checkoutUrl,
		Credentials:        Credentials{Email: "reimu@test.com", Password: "hunter2"},
		Card:               Card{Number: "4111111111111111", Owner: "Reimu Hakurei", SecurityCode: "123", ExpirationYear: "2030", ExpirationMonth: "7"},
		DHL:                true,
		FinishOrder:        true,
		MarkerTimeout:      500 * time.Millisecond,
		MarkerPollInterval: time.Millisecond,
		PlacementSettle:    time.Millisecond,
		SnapshotDir:        t.TempDir(),
	}
}

type recordingHook struct {
	placements []Placement
}

func (h *recordingHook) OrderPlaced(ctx context.Context, placement Placement) error {
	h.placements = append(h.placements, placement)
	return nil
}

func countActions(page *browsertest.Page, kind, selectorOrValue string) int {
	count := 0
	for _, a := range page.Actions() {
		if a.Kind == kind && (a.Selector == selectorOrValue || a.Value == selectorOrValue) {
			count++
		}
	}
	return count
}

func TestCheckoutPlacesOrder(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:checkout")
	defer cleanup()

	page, _ := newSite(nil)
	opts := testOptions(t)
	var phases []Phase
	opts.OnPhase = func(p Phase) {
		phases = append(phases, p)
	}
	hook := &recordingHook{}
	machine := NewMachine(page, opts, hook)

	res, err := machine.Run(context.Background(), []string{"GOODS-0001"})
	require.NoError(t, err)
	require.Equal(t, Placed, res.Phase)
	require.Equal(t, 0, res.Restarts)
	require.Equal(t, 1, res.OrderNumber)
	require.Equal(t, 1, machine.Counter())
	require.Equal(t, []Phase{
		AwaitingLoginPrompt,
		LoggingIn,
		RearrangementStep,
		PaymentAndShippingStep,
		ConfirmationStep,
		Placed,
	}, phases)

	expectedPath := filepath.Join(opts.SnapshotDir, "proof_of_order_1.png")
	require.Equal(t, expectedPath, res.SnapshotPath)
	contents, err := os.ReadFile(expectedPath)
	require.NoError(t, err)
	require.Equal(t, "png", string(contents))

	require.Len(t, hook.placements, 1)
	require.Equal(t, 1, hook.placements[0].Number)
	require.Equal(t, []string{"GOODS-0001"}, hook.placements[0].Cart)

	require.Equal(t, 1, countActions(page, "keys", "reimu@test.com"))
	require.Equal(t, 1, countActions(page, "keys", DefaultMarkers.CardNumber))
	require.Equal(t, 1, countActions(page, "click", DefaultMarkers.DhlShipping))
	require.Equal(t, 0, countActions(page, "click", DefaultMarkers.SurfaceShipping))
	require.Equal(t, 1, countActions(page, "select", DefaultMarkers.CardType))
	require.Equal(t, 1, countActions(page, "keys", DefaultMarkers.SecurityCode))
	require.Equal(t, 1, countActions(page, "value", DefaultMarkers.ExpirationMonth))
}

func TestCheckoutDryRun(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:checkout")
	defer cleanup()

	page, _ := newSite(nil)
	opts := testOptions(t)
	opts.FinishOrder = false
	opts.DHL = false
	hook := &recordingHook{}
	machine := NewMachine(page, opts, hook)

	res, err := machine.Run(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, res.DryRun)
	require.Equal(t, ConfirmationStep, res.Phase)
	require.Equal(t, 0, machine.Counter())
	require.Empty(t, hook.placements)
	require.Equal(t, 0, countActions(page, "screenshot", ""))
	require.Equal(t, 1, countActions(page, "click", DefaultMarkers.SurfaceShipping))
	// place order is never clicked, the page stays on confirmation
	require.Equal(t, confirmationPage, page.HTML())
}

func TestCheckoutCartConflictRestarts(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:checkout")
	defer cleanup()

	for _, step := range []string{"login", "rearrangement", "payment", "confirmation"} {
		t.Run(step, func(t *testing.T) {
			page, _ := newSite(map[string][]string{step: {conflictPage}})
			opts := testOptions(t)
			var phases []Phase
			opts.OnPhase = func(p Phase) {
				phases = append(phases, p)
			}
			machine := NewMachine(page, opts)

			res, err := machine.Run(context.Background(), nil)
			require.NoError(t, err)
			require.Equal(t, Placed, res.Phase)
			require.Equal(t, 1, res.Restarts)
			require.Equal(t, 1, machine.Counter())
			require.Equal(t, 1, countActions(page, "click", ".btn-back"))

			// the phase observed right after the conflict is always the
			// login prompt
			first := slices.Index(phases, AwaitingLoginPrompt)
			second := first + 1 + slices.Index(phases[first+1:], AwaitingLoginPrompt)
			require.Greater(t, second, first)
			require.NotContains(t, phases[:second], Placed)
			require.Equal(t, Placed, phases[len(phases)-1])
			require.Equal(t, 1, countPhase(phases, Placed))
		})
	}
}

func countPhase(phases []Phase, target Phase) int {
	count := 0
	for _, p := range phases {
		if p == target {
			count++
		}
	}
	return count
}

func TestCheckoutOverloadReloads(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:checkout")
	defer cleanup()

	page, _ := newSite(map[string][]string{
		"login":   {overloadPage},
		"payment": {overloadPage},
	})
	machine := NewMachine(page, testOptions(t))

	res, err := machine.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, Placed, res.Phase)
	require.Equal(t, 2, res.Restarts)
	require.Equal(t, 3, countActions(page, "navigate", checkoutUrl))
	require.Equal(t, 0, countActions(page, "click", ".btn-back"))
}

func TestCheckoutMaxRestarts(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:checkout")
	defer cleanup()

	page, _ := newSite(map[string][]string{
		"rearrangement": {conflictPage, conflictPage, conflictPage, conflictPage},
	})
	opts := testOptions(t)
	opts.MaxRestarts = 2
	machine := NewMachine(page, opts)

	res, err := machine.Run(context.Background(), nil)
	require.ErrorIs(t, err, ErrTooManyRestarts)
	require.Equal(t, Aborted, res.Phase)
	require.Equal(t, Aborted, machine.Phase())
	require.Equal(t, 3, res.Restarts)
	require.Equal(t, 0, machine.Counter())
}

func TestCheckoutMarkerTimeout(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:checkout")
	defer cleanup()

	page := browsertest.New(blankPage)
	page.Routes[checkoutUrl] = blankPage
	opts := testOptions(t)
	opts.MarkerTimeout = 10 * time.Millisecond
	opts.MaxRestarts = 2
	machine := NewMachine(page, opts)

	res, err := machine.Run(context.Background(), nil)
	require.ErrorIs(t, err, ErrTooManyRestarts)
	require.Equal(t, 3, res.Restarts)
	require.Equal(t, 4, countActions(page, "navigate", checkoutUrl))
}

func TestCheckoutUnclassified(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:checkout")
	defer cleanup()

	oddPage := `<div>
		<h2 class="alert-area__title">Something unexpected happened</h2>
		<p class="alert-area__text">???</p>
		<input type="radio" class="form-radio">
	</div>`

	page, _ := newSite(map[string][]string{"payment": {oddPage}})
	machine := NewMachine(page, testOptions(t))
	res, err := machine.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 0, res.Restarts)
	require.Equal(t, Placed, res.Phase)

	page, _ = newSite(map[string][]string{"payment": {oddPage}})
	opts := testOptions(t)
	opts.UnclassifiedPolicy = UnclassifiedRestart
	machine = NewMachine(page, opts)
	res, err = machine.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Restarts)
	require.Equal(t, Placed, res.Phase)
}

func TestCheckoutPrefilledCard(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:checkout")
	defer cleanup()

	page, _ := newSite(nil)
	page.Missing[DefaultMarkers.CardNumber] = true
	machine := NewMachine(page, testOptions(t))

	res, err := machine.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, Placed, res.Phase)
	require.Equal(t, 0, countActions(page, "keys", DefaultMarkers.CardOwner))
}

func TestCheckoutCardOnFile(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:checkout")
	defer cleanup()

	page, s := newSite(map[string][]string{"payment": {cardOnFilePage}})
	opts := testOptions(t)
	opts.MarkerTimeout = 2 * time.Second
	s.stall = opts.MarkerTimeout
	machine := NewMachine(page, opts)

	start := time.Now()
	res, err := machine.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Less(t, time.Since(start), opts.MarkerTimeout/2)
	require.Equal(t, Placed, res.Phase)
	require.Equal(t, 0, res.Restarts)

	for _, selector := range []string{
		DefaultMarkers.CardNumber,
		DefaultMarkers.CardOwner,
		DefaultMarkers.SecurityCode,
		DefaultMarkers.CardType,
		DefaultMarkers.ExpirationYear,
		DefaultMarkers.ExpirationMonth,
	} {
		require.Equal(t, 0, countActions(page, "keys", selector)+countActions(page, "value", selector)+countActions(page, "select", selector), selector)
	}
	require.Equal(t, 1, countActions(page, "click", DefaultMarkers.CreditCard))
}

func TestCheckoutNoticeWithoutError(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:checkout")
	defer cleanup()

	// a title alone is an informational banner, not an error
	noticePage := `<section>
		<h2 class="alert-area__title">Notice</h2>
		<button>Return</button>
		<button class="btn-submit">Next</button>
	</section>`

	page, _ := newSite(map[string][]string{"rearrangement": {noticePage}})
	opts := testOptions(t)
	opts.UnclassifiedPolicy = UnclassifiedRestart
	machine := NewMachine(page, opts)

	res, err := machine.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, Placed, res.Phase)
	require.Equal(t, 0, res.Restarts)
	require.Equal(t, 1, countActions(page, "navigate", checkoutUrl))
}

func TestCheckoutCounterAcrossRuns(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:checkout")
	defer cleanup()

	page, _ := newSite(map[string][]string{"confirmation": {conflictPage}})
	opts := testOptions(t)
	machine := NewMachine(page, opts)

	res, err := machine.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.OrderNumber)

	res, err = machine.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 2, res.OrderNumber)
	require.Equal(t, 2, machine.Counter())

	_, err = os.Stat(filepath.Join(opts.SnapshotDir, "proof_of_order_2.png"))
	require.NoError(t, err)
}

func TestCheckoutCancelled(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:checkout")
	defer cleanup()

	page := browsertest.New(blankPage)
	opts := testOptions(t)
	opts.MarkerTimeout = time.Hour
	machine := NewMachine(page, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := machine.Run(ctx, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
