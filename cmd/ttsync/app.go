package main

import (
	"errors"
	"fmt"

	"github.com/pders01/ttsync/internal/debuglog"
	"github.com/pders01/ttsync/internal/feed"
	"github.com/pders01/ttsync/internal/search"
	"github.com/pders01/ttsync/internal/storage"
	"github.com/pders01/ttsync/internal/ttrss"
	"github.com/pders01/ttsync/internal/validation"
)

// app bundles what one command invocation needs. client and manager are
// nil for commands that only read the cache.
type app struct {
	store   *storage.Store
	state   *storage.StateStore
	index   *search.BleveSearcher
	client  *ttrss.Client
	manager *feed.Manager
}

// openLocal opens the cache, the sync state and the search index. A search
// index that cannot be opened is logged and replaced by scanning.
func openLocal() (*app, error) {
	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	state, err := storage.OpenState(cfg.Database.StatePath, cfg.Database.Timeout)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening sync state: %w", err)
	}

	a := &app{store: store, state: state}
	if idx, err := search.NewBleveSearcher(store, cfg.Database.SearchIndex); err != nil {
		debuglog.Warnf("search index unavailable, falling back to scanning: %v", err)
	} else {
		a.index = idx
	}
	return a, nil
}

// openApp opens the local side and wires a manager to the configured server.
func openApp() (*app, error) {
	validator := validation.NewURLValidator()
	if cfg.Server.AllowInsecure {
		validator = validation.NewPermissiveURLValidator()
	}
	base, err := validator.ServerURL(cfg.Server.URL)
	if err != nil {
		return nil, fmt.Errorf("server.url: %w", err)
	}
	cfg.Server.URL = base

	a, err := openLocal()
	if err != nil {
		return nil, err
	}

	client, err := ttrss.New(feed.ClientConfig(cfg))
	if err != nil {
		a.Close()
		return nil, err
	}

	m := feed.NewManager(a.store, a.state, client, cfg)
	probe := feed.NewProbe(client.BaseURL(), client.HTTPClient(), client.SetBasicAuth)
	probe.SetWorkOffline(offline)
	m.SetConnectivity(probe)
	if a.index != nil {
		m.SetIndexer(a.index)
	}

	a.client = client
	a.manager = m
	return a, nil
}

func (a *app) searcher() search.Searcher {
	if a.index != nil {
		return a.index
	}
	return search.NewEngine(a.store)
}

func (a *app) Close() error {
	if a.manager != nil {
		a.manager.Close()
	}
	var errs []error
	if a.index != nil {
		errs = append(errs, a.index.Close())
	}
	errs = append(errs, a.state.Close(), a.store.Close())
	return errors.Join(errs...)
}
