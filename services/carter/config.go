package carter

import (
	configlibsql "dropcarter/lib/configuration/libsql"
	"dropcarter/lib/configutil"
	"dropcarter/services/carter/checkout"
	"dropcarter/services/carter/notify"
	"dropcarter/services/carter/poller"
	"dropcarter/services/carter/reserve"
	"fmt"
	"time"
)

type UrlConfig struct {
	// account page, prompts for login when the session is not logged in
	UserInfo    string `json:"user_info"`
	CartPage    string `json:"cart_page"`
	Checkout    string `json:"checkout"`
	ItemInfoApi string `json:"item_info_api"`
	CartApi     string `json:"cart_api"`
}

// Config is read once at startup and never changes during a run.
type Config struct {
	TestMode bool `json:"test_mode"`
	// defaults to !test_mode when unset
	FinishOrder    *bool `json:"finish_order"`
	DHL            bool  `json:"dhl"`
	OrderAllAtOnce bool  `json:"order_all_at_once"`
	CartOnly       bool  `json:"cart_only"`
	AutoLogin      bool  `json:"auto_login"`
	WaitForItems   bool  `json:"wait_for_items"`
	StopOnThrottle bool  `json:"stop_on_throttle"`
	WaitForUser    bool  `json:"wait_for_user"`
	PersistSession bool  `json:"persist_session"`
	Headless       bool  `json:"headless"`

	PollIntervalMs     int    `json:"poll_interval_ms"`
	RequestorWaitMs    int    `json:"requestor_wait_ms"`
	SuccessCooldownMs  int    `json:"success_cooldown_ms"`
	PoolSize           int    `json:"pool_size"`
	MaxAttempts        int    `json:"max_attempts"`
	MaxRestarts        int    `json:"max_restarts"`
	UnclassifiedPolicy string `json:"unclassified_policy"`
	MarkerTimeoutMs    int    `json:"marker_timeout_ms"`
	PlacementSettleMs  int    `json:"placement_settle_ms"`

	Urls    UrlConfig `json:"urls"`
	Catalog string    `json:"catalog"`

	Credentials checkout.Credentials `json:"credentials"`
	Card        checkout.Card        `json:"card"`

	Ledger   configlibsql.Struct `json:"ledger"`
	Smtp     notify.SmtpConfig   `json:"smtp"`
	NotifyTo []string            `json:"notify_to"`

	SnapshotDir   string `json:"snapshot_dir"`
	SamplesFile   string `json:"samples_file"`
	ChromeDataDir string `json:"chrome_data_dir"`
	// request/response dumps, only written with --debug
	HttpDumpDir string `json:"http_dump_dir"`
}

func Defaults() Config {
	return Config{
		TestMode:           true,
		DHL:                true,
		WaitForItems:       true,
		StopOnThrottle:     true,
		PersistSession:     true,
		PollIntervalMs:     250,
		RequestorWaitMs:    600,
		SuccessCooldownMs:  5000,
		PoolSize:           10,
		UnclassifiedPolicy: string(checkout.UnclassifiedContinue),
		MarkerTimeoutMs:    30000,
		PlacementSettleMs:  5000,
		Urls: UrlConfig{
			UserInfo:    "https://secure.test.com/",
			CartPage:    "https://www.test.com/cart/",
			Checkout:    "https://secure.test.com/checkoutcart/",
			ItemInfoApi: "https://api.test.com/api/v1.0/item",
			CartApi:     "https://api.test.com/api/v1.0/cart",
		},
		Catalog:       "fumo_data.json",
		Ledger:        configlibsql.Struct{File: "orders.db"},
		SnapshotDir:   ".",
		SamplesFile:   "requests_results.csv",
		ChromeDataDir: "chrome_data",
		HttpDumpDir:   ".dev/resty",
	}
}

// LoadConfig reads `path` and its local override on top of Defaults.
func LoadConfig(path string) (Config, error) {
	cfg, err := configutil.ReadConfigWithDefaults(path, Defaults())
	if err != nil {
		return Config{}, err
	}
	err = cfg.Validate()
	if err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.PollIntervalMs < 0 || c.RequestorWaitMs < 0 || c.SuccessCooldownMs < 0 || c.MarkerTimeoutMs < 0 || c.PlacementSettleMs < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.PoolSize < 0 || c.MaxAttempts < 0 || c.MaxRestarts < 0 {
		return fmt.Errorf("pool_size, max_attempts and max_restarts must not be negative")
	}
	_, err := checkout.ParseUnclassifiedPolicy(c.UnclassifiedPolicy)
	if err != nil {
		return err
	}
	if c.Urls.Checkout == "" || c.Urls.ItemInfoApi == "" || c.Urls.CartApi == "" {
		return fmt.Errorf("urls.checkout, urls.item_info_api and urls.cart_api are required")
	}
	return nil
}

func (c Config) ShouldFinishOrder() bool {
	if c.FinishOrder != nil {
		return *c.FinishOrder
	}
	return !c.TestMode
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c Config) PollerOptions() poller.Options {
	return poller.Options{
		PollInterval:   c.PollInterval(),
		StopOnThrottle: c.StopOnThrottle,
	}
}

// ReserveOptions scales the unavailable backoff by the size of the
// production catalog, in test mode too.
func (c Config) ReserveOptions(catalogSize int) reserve.Options {
	return reserve.Options{
		PoolSize:        c.PoolSize,
		SuccessCooldown: time.Duration(c.SuccessCooldownMs) * time.Millisecond,
		BackoffUnit:     4 * c.PollInterval(),
		CatalogSize:     catalogSize,
		RetryCooldown:   time.Duration(c.RequestorWaitMs) * time.Millisecond,
		OrderAllAtOnce:  c.OrderAllAtOnce,
		MaxAttempts:     c.MaxAttempts,
	}
}

func (c Config) CheckoutOptions() checkout.Options {
	policy, _ := checkout.ParseUnclassifiedPolicy(c.UnclassifiedPolicy)
	return checkout.Options{
		CheckoutUrl:        c.Urls.Checkout,
		Credentials:        c.Credentials,
		Card:               c.Card,
		DHL:                c.DHL,
		FinishOrder:        c.ShouldFinishOrder(),
		UnclassifiedPolicy: policy,
		MaxRestarts:        c.MaxRestarts,
		MarkerTimeout:      time.Duration(c.MarkerTimeoutMs) * time.Millisecond,
		PlacementSettle:    time.Duration(c.PlacementSettleMs) * time.Millisecond,
		SnapshotDir:        c.SnapshotDir,
	}
}
