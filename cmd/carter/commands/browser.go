package commands

import (
	"context"
	"dropcarter/lib/browser"
	"dropcarter/lib/storeapi"
	"dropcarter/services/carter"
	"dropcarter/services/carter/catalog"
	"dropcarter/services/carter/session"
	"fmt"
	"path/filepath"
	"time"
)

func launchBrowser(ctx context.Context, cfg carter.Config) (*browser.Chrome, error) {
	opts := browser.Options{
		Headless:      cfg.Headless,
		ActionTimeout: time.Duration(cfg.MarkerTimeoutMs) * time.Millisecond,
	}
	if cfg.PersistSession && cfg.ChromeDataDir != "" {
		dir, err := filepath.Abs(cfg.ChromeDataDir)
		if err != nil {
			return nil, err
		}
		opts.UserDataDir = dir
	}
	return browser.Launch(ctx, opts)
}

// storeSession logs in through chrome and returns an api client carrying the
// browser's session. the returned func closes chrome.
func storeSession(ctx context.Context, cfg carter.Config, cat catalog.Catalog) (*storeapi.Client, *session.Context, func(), error) {
	chrome, err := launchBrowser(ctx, cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to launch chrome: %w", err)
	}

	driver := carter.NewDriver(cfg, cat, chrome, "session")
	sess, err := driver.Login(ctx)
	if err != nil {
		chrome.Close()
		return nil, nil, nil, err
	}
	client, err := carter.NewStoreClient(cfg, sess, *debug)
	if err != nil {
		chrome.Close()
		return nil, nil, nil, err
	}
	return client, sess, chrome.Close, nil
}
