package feed

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pders01/ttsync/internal/debuglog"
)

// Connectivity tells the manager whether the server can be reached.
// IsConnected may answer from a cache. CheckConnected always probes.
type Connectivity interface {
	IsConnected() bool
	CheckConnected(ctx context.Context) bool
}

// StaticConnectivity reports a fixed state that can be flipped at runtime.
type StaticConnectivity struct {
	online atomic.Bool
}

func NewStaticConnectivity(online bool) *StaticConnectivity {
	c := &StaticConnectivity{}
	c.online.Store(online)
	return c
}

func (c *StaticConnectivity) Set(online bool) { c.online.Store(online) }

func (c *StaticConnectivity) IsConnected() bool { return c.online.Load() }

func (c *StaticConnectivity) CheckConnected(context.Context) bool { return c.online.Load() }

const defaultProbeTTL = time.Minute

// Probe checks connectivity by sending HEAD to the server root. A result is
// reused for TTL. WorkOffline makes IsConnected report false without
// probing; CheckConnected still probes.
type Probe struct {
	url    string
	client *http.Client
	auth   func(*http.Request)
	TTL    time.Duration

	workOffline atomic.Bool

	mu      sync.Mutex
	online  bool
	checked time.Time
}

// NewProbe probes url with client. auth may add credentials and may be nil.
func NewProbe(url string, client *http.Client, auth func(*http.Request)) *Probe {
	return &Probe{url: url, client: client, auth: auth, TTL: defaultProbeTTL}
}

func (p *Probe) SetWorkOffline(offline bool) {
	p.workOffline.Store(offline)
}

func (p *Probe) IsConnected() bool {
	if p.workOffline.Load() {
		return false
	}
	p.mu.Lock()
	online, fresh := p.online, time.Since(p.checked) < p.TTL
	p.mu.Unlock()
	if fresh {
		return online
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.CheckConnected(ctx)
}

// CheckConnected reports true for any HTTP answer below 500.
func (p *Probe) CheckConnected(ctx context.Context) bool {
	online := p.probe(ctx)

	p.mu.Lock()
	changed := online != p.online || p.checked.IsZero()
	p.online = online
	p.checked = time.Now()
	p.mu.Unlock()

	if changed {
		debuglog.Infof("connectivity: %s reachable=%t", p.url, online)
	}
	return online
}

func (p *Probe) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}
	if p.auth != nil {
		p.auth(req)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		debuglog.Debugf("connectivity: probing %s: %v", p.url, err)
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
