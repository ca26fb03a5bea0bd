package carter

import (
	"context"
	"dropcarter/lib/browser/browsertest"
	"dropcarter/lib/storeapi"
	"dropcarter/lib/telemetry"
	"dropcarter/services/carter/catalog"
	"dropcarter/services/carter/checkout"
	"dropcarter/services/carter/session"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	userInfoUrl = "https://secure.test.com/"
	cartPageUrl = "https://www.test.com/cart/"
	checkoutUrl = "https://secure.test.com/checkoutcart/"
)

const (
	cartPage = `<div id="__layout"><div>
		<div><div></div><div><div><div>
			<div><section><h2>Shopping cart</h2></section></div>
		</div></div></div></div>
	</div></div>`
	loginPage         = `<form><input name="email"><button class="btn-submit">Sign in</button></form>`
	rearrangementPage = `<button>Return</button><button class="btn-submit">Next</button>`
	paymentPage       = `<input class="form-radio"><button class="btn-submit">Next</button>`
	confirmationPage  = `<div id="__layout"><div><div><div><div>
		<div></div>
		<div><section>
			<div></div><div></div>
			<div><form><button class="btn-submit">Place order</button></form></div>
		</section></div>
	</div></div></div></div></div>`
	placedPage = `<h1>Thank you</h1>`
)

type fakeBrowser struct {
	*browsertest.Page
	cookies []*http.Cookie
}

func (b *fakeBrowser) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	return b.cookies, nil
}

func newFakeBrowser() *fakeBrowser {
	page := browsertest.New(`<p>blank</p>`)
	page.Snapshot = []byte("png")
	page.Routes[userInfoUrl] = `<div class="search-box__button"></div>`
	page.Routes[cartPageUrl] = cartPage

	var lock sync.Mutex
	step := ""
	page.OnAction = func(p *browsertest.Page, a browsertest.Action) error {
		lock.Lock()
		defer lock.Unlock()
		switch {
		case a.Kind == "navigate" && a.Value == checkoutUrl:
			step = "login"
			p.SetHTML(loginPage)
		case a.Kind == "submit" && step == "login":
			step = "rearrangement"
			p.SetHTML(rearrangementPage)
		case a.Kind == "click" && a.Selector == ".btn-submit":
			switch step {
			case "rearrangement":
				step = "payment"
				p.SetHTML(paymentPage)
			case "payment":
				step = "confirmation"
				p.SetHTML(confirmationPage)
			case "confirmation":
				step = "placed"
				p.SetHTML(placedPage)
			}
		}
		return nil
	}

	return &fakeBrowser{
		Page: page,
		cookies: []*http.Cookie{
			{Name: "ransu", Value: "ransu-token", Domain: ".test.com"},
			{Name: "mcode", Value: "mcode-token", Domain: ".test.com"},
		},
	}
}

type storefront struct {
	lock     sync.Mutex
	cartType int
	itemCode int
	carts    map[string]int
	bodies   []map[string]any
}

func (s *storefront) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /item", func(w http.ResponseWriter, r *http.Request) {
		s.lock.Lock()
		defer s.lock.Unlock()
		if s.itemCode != http.StatusOK {
			w.WriteHeader(s.itemCode)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"item": map[string]any{"cart_type": s.cartType, "gname": r.URL.Query().Get("gcode")},
		})
	})
	mux.HandleFunc("POST /cart", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		err := json.NewDecoder(r.Body).Decode(&body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.lock.Lock()
		defer s.lock.Unlock()
		s.bodies = append(s.bodies, body)
		s.carts[body["scode"].(string)]++
	})
	return mux
}

func (s *storefront) Carts() map[string]int {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := map[string]int{}
	for k, v := range s.carts {
		out[k] = v
	}
	return out
}

type recordingHook struct {
	lock       sync.Mutex
	placements []checkout.Placement
}

func (h *recordingHook) OrderPlaced(ctx context.Context, placement checkout.Placement) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.placements = append(h.placements, placement)
	return nil
}

var testCatalog = catalog.Catalog{
	Headers:         map[string]string{"x-site": "eng"},
	BaseRequestData: map[string]any{"site": "eng"},
	Items: []catalog.Item{
		{Code: "GOODS-0001", Desc: "Reimu", MaxCartinCount: 1},
		{Code: "GOODS-0002", Desc: "Marisa", MaxCartinCount: 1},
	},
	TestItems: []catalog.Item{
		{Code: "TEST-0001", Desc: "Keychain", MaxCartinCount: 2, Amount: 5},
		{Code: "TEST-0002", Desc: "Badge", MaxCartinCount: 1},
	},
}

func testConfig(t testing.TB, server *httptest.Server) Config {
	finish := true
	cfg := Defaults()
	cfg.FinishOrder = &finish
	cfg.PollIntervalMs = 1
	cfg.RequestorWaitMs = 1
	cfg.SuccessCooldownMs = 1
	cfg.MarkerTimeoutMs = 1000
	cfg.PlacementSettleMs = 1
	cfg.Urls = UrlConfig{
		UserInfo:    userInfoUrl,
		CartPage:    cartPageUrl,
		Checkout:    checkoutUrl,
		ItemInfoApi: server.URL + "/item",
		CartApi:     server.URL + "/cart",
	}
	cfg.SnapshotDir = t.TempDir()
	return cfg
}

func newTestDriver(cfg Config, b Browser, hooks ...checkout.PlacementHook) *Driver {
	d := NewDriver(cfg, testCatalog, b, "test-run", hooks...)
	d.loginSettle = 0
	d.cookieSettle = 0
	d.pageSettle = 0
	d.newAPI = func(sess *session.Context) (StoreAPI, error) {
		jar, err := sess.Jar(cfg.Urls.ItemInfoApi, cfg.Urls.CartApi)
		if err != nil {
			return nil, err
		}
		return storeapi.NewClient(storeapi.Options{
			ItemInfoUrl:    cfg.Urls.ItemInfoApi,
			CartUrl:        cfg.Urls.CartApi,
			Headers:        sess.Headers(),
			Jar:            jar,
			PlainTransport: true,
		}), nil
	}
	return d
}

func TestDriverRun(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:carter")
	defer cleanup()

	front := &storefront{cartType: int(catalog.CartTypePreOrder), itemCode: http.StatusOK, carts: map[string]int{}}
	server := httptest.NewServer(front.handler())
	defer server.Close()

	hook := &recordingHook{}
	b := newFakeBrowser()
	d := newTestDriver(testConfig(t, server), b, hook)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	summary, err := d.Run(ctx)
	require.NoError(t, err)

	// stop-the-pack: each reservation round secures one item
	require.Equal(t, "test-run", summary.RunID)
	require.Equal(t, 2, summary.Orders)
	require.False(t, summary.DryRun)
	require.ElementsMatch(t, []string{"TEST-0001", "TEST-0002"}, summary.Secured)
	require.Equal(t, map[string]int{"TEST-0001": 1, "TEST-0002": 1}, front.Carts())

	require.Len(t, hook.placements, 2)
	require.Len(t, hook.placements[0].Cart, 1)
	require.Equal(t, 2, hook.placements[1].Number)

	front.lock.Lock()
	body := front.bodies[0]
	front.lock.Unlock()
	require.Equal(t, "ransu-token", body["ransu"])
	require.Equal(t, "mcode-token", body["mcode"])
	require.Equal(t, "eng", body["site"])
}

func TestDriverProceedsWhenThrottled(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:carter")
	defer cleanup()

	front := &storefront{itemCode: http.StatusTooManyRequests, carts: map[string]int{}}
	server := httptest.NewServer(front.handler())
	defer server.Close()

	cfg := testConfig(t, server)
	cfg.OrderAllAtOnce = true
	cfg.CartOnly = true
	d := newTestDriver(cfg, newFakeBrowser())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	summary, err := d.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ElementsMatch(t, []string{"TEST-0001", "TEST-0002"}, summary.Secured)
	require.Equal(t, 0, summary.Orders)
}

func TestDriverMissingToken(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:carter")
	defer cleanup()

	front := &storefront{carts: map[string]int{}}
	server := httptest.NewServer(front.handler())
	defer server.Close()

	b := newFakeBrowser()
	b.cookies = []*http.Cookie{{Name: "ransu", Value: "ransu-token"}}
	d := newTestDriver(testConfig(t, server), b)

	_, err := d.Run(context.Background())
	require.ErrorIs(t, err, session.ErrMissingToken)
	require.Empty(t, front.Carts())
}

func TestDriverAutoLogin(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:carter")
	defer cleanup()

	front := &storefront{carts: map[string]int{}}
	server := httptest.NewServer(front.handler())
	defer server.Close()

	b := newFakeBrowser()
	b.Routes[userInfoUrl] = loginPage
	onAction := b.OnAction
	b.OnAction = func(p *browsertest.Page, a browsertest.Action) error {
		if a.Kind == "submit" && p.HTML() == loginPage {
			p.SetHTML(`<div class="search-box__button"></div>`)
			return nil
		}
		return onAction(p, a)
	}
	cfg := testConfig(t, server)
	cfg.AutoLogin = true
	cfg.Credentials = checkout.Credentials{Email: "reimu@test.com", Password: "hunter2"}
	d := newTestDriver(cfg, b)

	sess, err := d.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, "mcode-token", sess.Mcode())

	var keys []string
	for _, a := range b.Actions() {
		if a.Kind == "keys" {
			keys = append(keys, a.Value)
		}
	}
	require.Equal(t, []string{"reimu@test.com", "hunter2"}, keys)
}

func TestDriverEmptyCatalog(t *testing.T) {
	d := NewDriver(Defaults(), catalog.Catalog{}, newFakeBrowser(), "run")
	_, err := d.Run(context.Background())
	require.ErrorIs(t, err, ErrNoItems)
}
