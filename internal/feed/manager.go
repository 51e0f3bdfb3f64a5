package feed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pders01/ttsync/internal/config"
	"github.com/pders01/ttsync/internal/debuglog"
	"github.com/pders01/ttsync/internal/pending"
	"github.com/pders01/ttsync/internal/storage"
	"github.com/pders01/ttsync/internal/ttrss"
	"github.com/pders01/ttsync/internal/validation"
)

// prefFreshMaxAge is the server preference holding the fresh window in hours.
const prefFreshMaxAge = "FRESH_ARTICLE_MAX_AGE"

// Indexer receives every committed article batch and every deletion.
type Indexer interface {
	IndexArticles(ctx context.Context, articles []storage.Article) error
	DeleteArticles(ctx context.Context, ids []int) error
}

// SyncOptions modify the gates in front of a fetch cycle.
type SyncOptions struct {
	// OverrideOffline probes the server instead of trusting the cached
	// connectivity state.
	OverrideOffline bool
	// OverrideDelay runs the cycle even when the scope is fresh.
	OverrideDelay bool
}

// Forced runs regardless of freshness and probes connectivity.
var Forced = SyncOptions{OverrideOffline: true, OverrideDelay: true}

// Manager drives sync cycles between the server and the local cache. One
// Manager serves the whole process and is safe for concurrent use. Cycles
// on different scopes run in parallel; concurrent requests for the same
// scope share one cycle.
type Manager struct {
	store  *storage.Store
	state  *storage.StateStore
	client *ttrss.Client
	queue  *pending.Queue
	config *config.Config

	conn         Connectivity
	indexer      Indexer
	notifier     *Notifier
	clock        *scopeClock
	flights      singleflight.Group
	icons        *IconFetcher
	prober       *Prober
	urlValidator *validation.URLValidator
	now          func() time.Time
}

// ClientConfig maps the server and sync sections onto the remote client.
func ClientConfig(cfg *config.Config) ttrss.Config {
	return ttrss.Config{
		URL:                  cfg.Server.URL,
		Username:             cfg.Server.Username,
		Password:             cfg.Server.Password,
		HTTPAuth:             cfg.Server.HTTPAuth,
		HTTPUsername:         cfg.Server.HTTPUsername,
		HTTPPassword:         cfg.Server.HTTPPassword,
		LazyServer:           cfg.Server.LazyServer,
		HousekeepingInterval: cfg.Sync.HousekeepingInterval,
		ConnectTimeout:       cfg.Server.ConnectTimeout,
		ReadTimeout:          cfg.Server.ReadTimeout,
		LazyReadTimeout:      cfg.Server.LazyReadTimeout,
		MaxIDListLength:      cfg.Sync.MaxIDListLength,
		MaxPageSize:          cfg.Sync.MaxPageSize,
		DecodeBudget:         cfg.Sync.DecodeBudget,
		UserAgent:            cfg.Server.UserAgent,
	}
}

func NewManager(store *storage.Store, state *storage.StateStore, client *ttrss.Client, cfg *config.Config) *Manager {
	urlValidator := validation.NewURLValidator()
	if cfg.Server.AllowInsecure {
		urlValidator = validation.NewPermissiveURLValidator()
	}

	m := &Manager{
		store:        store,
		state:        state,
		client:       client,
		queue:        pending.New(store, client),
		config:       cfg,
		conn:         NewProbe(client.BaseURL(), client.HTTPClient(), client.SetBasicAuth),
		notifier:     NewNotifier(),
		clock:        newScopeClock(cfg.Sync.UpdateInterval, time.Now),
		icons:        NewIconFetcher(client.HTTPClient(), client.BaseURL(), cfg.Server.UserAgent, client.SetBasicAuth),
		prober:       NewProber(client.HTTPClient(), cfg.Server.UserAgent),
		urlValidator: urlValidator,
		now:          time.Now,
	}
	m.loadFreshMaxAge()
	return m
}

func (m *Manager) SetConnectivity(c Connectivity) {
	m.conn = c
}

func (m *Manager) SetIndexer(idx Indexer) {
	m.indexer = idx
}

// SetPermissiveValidation allows subscription URLs on localhost and private
// networks.
func (m *Manager) SetPermissiveValidation(permissive bool) {
	if permissive {
		m.urlValidator = validation.NewPermissiveURLValidator()
	} else {
		m.urlValidator = validation.NewURLValidator()
	}
}

// OnChange registers fn to run after local data changed. Bursts of changes
// are delivered as one call.
func (m *Manager) OnChange(fn func()) {
	m.notifier.Subscribe(fn)
}

// Queue exposes the pending mutations.
func (m *Manager) Queue() *pending.Queue {
	return m.queue
}

// PullLastError returns and clears the last remote failure, including the
// transient ones cycles swallow.
func (m *Manager) PullLastError() error {
	return m.client.PullLastError()
}

// LastSync reports when a scope last completed, if it did in this process.
func (m *Manager) LastSync(key string) (time.Time, bool) {
	return m.clock.lastSync(key)
}

// Invalidate makes every scope stale.
func (m *Manager) Invalidate() {
	m.clock.invalidate("")
}

func (m *Manager) Close() {
	m.notifier.Close()
}

func (m *Manager) online(ctx context.Context, override bool) bool {
	if override {
		return m.conn.CheckConnected(ctx)
	}
	return m.conn.IsConnected()
}

// run executes fn for the scope key unless the scope is fresh or the server
// is unreachable, both of which are silent no-ops. The scope is stamped and
// observers notified only when fn succeeds.
func (m *Manager) run(ctx context.Context, key string, opts SyncOptions, fn func(ctx context.Context) error) error {
	if !opts.OverrideDelay && !m.clock.stale(key) {
		debuglog.Debugf("sync: %s is fresh", key)
		return nil
	}
	if !m.online(ctx, opts.OverrideOffline) {
		debuglog.Debugf("sync: %s skipped, offline", key)
		return nil
	}

	start := m.now()
	_, err, shared := m.flights.Do(key, func() (any, error) {
		if err := fn(ctx); err != nil {
			return nil, err
		}
		m.clock.touch(key)
		return nil, nil
	})
	if err != nil {
		return m.settle(ctx, key, err)
	}
	if !shared {
		debuglog.WithFields(map[string]any{"scope": key, "took": m.now().Sub(start)}).Debugf("sync: cycle done")
	}
	m.notifier.Notify()
	return nil
}

// settle applies the error policy of a cycle: transient failures end it
// quietly and leave the scope stale, everything else reaches the caller.
func (m *Manager) settle(ctx context.Context, key string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, ttrss.ErrTransientIO) {
		debuglog.WithFields(map[string]any{"scope": key}).Warnf("sync: cycle aborted: %v", err)
		return nil
	}
	// A joined caller whose cycle was started by a caller that gave up.
	if errors.Is(err, context.Canceled) {
		debuglog.Debugf("sync: %s abandoned by the caller that started it", key)
		return nil
	}
	return fmt.Errorf("syncing %s: %w", key, err)
}

// UpdateCategories replaces the real categories with the server's list and
// refreshes the fresh window preference.
func (m *Manager) UpdateCategories(ctx context.Context, opts SyncOptions) error {
	return m.run(ctx, scopeCategories, opts, func(ctx context.Context) error {
		cats, err := m.client.GetCategories(ctx)
		if err != nil {
			return err
		}
		if err := m.store.ReplaceCategories(ctx, cats); err != nil {
			return fmt.Errorf("saving categories: %w", err)
		}
		m.refreshFreshMaxAge(ctx)
		return m.store.CalculateCounters(ctx)
	})
}

// UpdateFeeds replaces the feeds of one category, or every feed and label
// for storage.CategoryAll.
func (m *Manager) UpdateFeeds(ctx context.Context, categoryID int, opts SyncOptions) error {
	return m.run(ctx, feedsScope(categoryID), opts, func(ctx context.Context) error {
		feeds, err := m.client.GetFeeds(ctx, categoryID)
		if err != nil {
			return err
		}
		if categoryID == storage.CategoryAll {
			err = m.store.ReplaceFeeds(ctx, feeds)
		} else {
			err = m.store.ReplaceCategoryFeeds(ctx, categoryID, feeds)
		}
		if err != nil {
			return fmt.Errorf("saving feeds: %w", err)
		}
		return m.store.CalculateCounters(ctx)
	})
}

// UpdateVirtualCategories recomputes the virtual categories from local
// counts. It needs no connectivity.
func (m *Manager) UpdateVirtualCategories(ctx context.Context, opts SyncOptions) error {
	if !opts.OverrideDelay && !m.clock.stale(scopeVirtual) {
		return nil
	}
	cats, err := m.store.VirtualCategories(ctx)
	if err != nil {
		return fmt.Errorf("computing virtual categories: %w", err)
	}
	if err := m.store.UpsertCategories(ctx, cats); err != nil {
		return fmt.Errorf("saving virtual categories: %w", err)
	}
	m.clock.touch(scopeVirtual)
	m.notifier.Notify()
	return nil
}

// CalculateCounters recomputes every unread counter from the cached
// articles.
func (m *Manager) CalculateCounters(ctx context.Context) error {
	if err := m.store.CalculateCounters(ctx); err != nil {
		return fmt.Errorf("calculating counters: %w", err)
	}
	m.notifier.Notify()
	return nil
}

func (m *Manager) loadFreshMaxAge() {
	hours, ok, err := m.state.Pref(prefFreshMaxAge)
	if err != nil || !ok {
		m.store.SetFreshMaxAge(m.config.Sync.FreshMaxAge)
		return
	}
	m.applyFreshMaxAge(hours)
}

// refreshFreshMaxAge is best effort. Older servers do not know getPref.
func (m *Manager) refreshFreshMaxAge(ctx context.Context) {
	hours, err := m.client.GetPref(ctx, prefFreshMaxAge)
	if err != nil {
		debuglog.Debugf("sync: reading %s: %v", prefFreshMaxAge, err)
		m.client.PullLastError()
		return
	}
	if !m.applyFreshMaxAge(hours) {
		return
	}
	if err := m.state.SetPref(prefFreshMaxAge, hours); err != nil {
		debuglog.Warnf("sync: saving %s: %v", prefFreshMaxAge, err)
	}
}

func (m *Manager) applyFreshMaxAge(hours string) bool {
	n, err := strconv.Atoi(hours)
	if err != nil || n <= 0 {
		return false
	}
	m.store.SetFreshMaxAge(time.Duration(n) * time.Hour)
	return true
}
