// Package ttrss talks to a Tiny Tiny RSS compatible server through its JSON
// API. Responses are decoded as a stream so large headline lists never sit
// in memory as a whole tree.
package ttrss

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/pders01/ttsync/internal/debuglog"
)

const (
	defaultConnectTimeout  = 8 * time.Second
	defaultReadTimeout     = 10 * time.Second
	defaultLazyReadTimeout = 15 * time.Minute

	// DefaultMaxIDListLength caps the ids sent in one updateArticle call.
	DefaultMaxIDListLength = 100

	pageSizeLegacy = 60
	pageSizeMax    = 200

	defaultUserAgent = "ttsync/1.0 (github.com/pders01/ttsync)"
)

// Config holds what the client needs to reach and authenticate with the
// server.
type Config struct {
	URL          string
	Username     string
	Password     string
	HTTPAuth     bool
	HTTPUsername string
	HTTPPassword string

	// LazyServer makes the client ask the server to update feeds itself
	// before reading them. That call gets LazyReadTimeout.
	LazyServer           bool
	HousekeepingInterval time.Duration

	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	LazyReadTimeout time.Duration

	MaxIDListLength int
	MaxPageSize     int
	// DecodeBudget bounds the article content bytes kept per headline
	// fetch. Zero disables the check.
	DecodeBudget int64
	UserAgent    string
}

// Client executes remote operations. It is safe for concurrent use. The
// session token and the last-error slot share one mutex. Concurrent callers
// that find the session expired trigger a single login.
type Client struct {
	cfg      Config
	endpoint string
	http     *http.Client
	lazyHTTP *http.Client

	mu       sync.Mutex
	sid      string
	apiLevel int
	lastErr  error
	loginErr error // sticky until PullLastError or Login

	logins       singleflight.Group
	housekeeping *rate.Limiter
	lowMemory    atomic.Bool
}

// New builds a client. No request is made until the first operation.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("server URL is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.LazyReadTimeout <= 0 {
		cfg.LazyReadTimeout = defaultLazyReadTimeout
	}
	if cfg.MaxIDListLength <= 0 {
		cfg.MaxIDListLength = DefaultMaxIDListLength
	}
	if cfg.MaxPageSize <= 0 || cfg.MaxPageSize > pageSizeMax {
		cfg.MaxPageSize = pageSizeMax
	}
	if cfg.HousekeepingInterval <= 0 {
		cfg.HousekeepingInterval = 10 * time.Minute
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	base := cfg.URL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	cfg.URL = base

	return &Client{
		cfg:          cfg,
		endpoint:     base + "api/",
		http:         newHTTPClient(cfg.ConnectTimeout, cfg.ReadTimeout),
		lazyHTTP:     newHTTPClient(cfg.ConnectTimeout, cfg.LazyReadTimeout),
		apiLevel:     -1,
		housekeeping: rate.NewLimiter(rate.Every(cfg.HousekeepingInterval), 1),
	}, nil
}

func newHTTPClient(connect, read time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = connect
	transport.ResponseHeaderTimeout = read
	return &http.Client{Transport: transport}
}

// BaseURL returns the server root, always ending in a slash.
func (c *Client) BaseURL() string {
	return c.cfg.URL
}

// HTTPClient returns the client used for ordinary requests, for callers
// fetching auxiliary resources such as feed icons from the same server.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// SetBasicAuth adds the configured HTTP credentials to req, if any.
func (c *Client) SetBasicAuth(req *http.Request) {
	if c.cfg.HTTPAuth {
		req.SetBasicAuth(c.cfg.HTTPUsername, c.cfg.HTTPPassword)
	}
}

// LowMemory reports whether a decode ran out of budget. Callers shrink
// their fetch limits while it is set.
func (c *Client) LowMemory() bool {
	return c.lowMemory.Load()
}

// ResetLowMemory clears the low-memory flag.
func (c *Client) ResetLowMemory() {
	c.lowMemory.Store(false)
}

// PullLastError returns the error of the last failed call and clears it,
// together with any sticky login failure.
func (c *Client) PullLastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.lastErr
	c.lastErr = nil
	c.loginErr = nil
	return err
}

// HasLastError reports whether a failed call left an unpulled error.
func (c *Client) HasLastError() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr != nil
}

func (c *Client) fail(err error) error {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	return err
}

// request is one API call: an op name plus flat string parameters.
type request struct {
	op     string
	params map[string]string
	lazy   bool
}

// contentHandler receives the envelope's content. Arrays are handed over
// as a live iterator. Objects are small and arrive decoded.
type contentHandler struct {
	array  func(iter *jsoniter.Iterator) error
	object func(obj map[string]any) error
}

// errStopDecode ends envelope decoding early without an error.
var errStopDecode = errors.New("stop decoding")

// call runs req with the current session. A session rejected by the server
// is renewed once and the request repeated. A second rejection is returned.
func (c *Client) call(ctx context.Context, req request, h contentHandler) error {
	start := time.Now()
	defer func() {
		debuglog.Debugf("ttrss: %s took %s", req.op, time.Since(start))
	}()

	sid, err := c.session(ctx)
	if err != nil {
		return c.fail(err)
	}

	err = c.roundTrip(ctx, req, sid, h)
	if isSessionError(err) {
		debuglog.Infof("ttrss: %s: session rejected, logging in again", req.op)
		c.invalidate(sid)
		if sid, err = c.session(ctx); err == nil {
			err = c.roundTrip(ctx, req, sid, h)
		}
	}
	if err != nil {
		return c.fail(err)
	}
	return nil
}

func isSessionError(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == codeNotLoggedIn || apiErr.Code == codeLoginError
}

// roundTrip sends one request and decodes the envelope. The read timeout
// bounds the wait for headers and every wait for more body.
func (c *Client) roundTrip(ctx context.Context, req request, sid string, h contentHandler) error {
	timeout := c.cfg.ReadTimeout
	if req.lazy {
		timeout = c.cfg.LazyReadTimeout
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resp, err := c.post(ctx, req, sid)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body := newIdleReader(resp.Body, timeout, cancel)
	defer body.stop()

	err = decodeEnvelope(req.op, body, h)
	if errors.Is(err, errStopDecode) {
		return nil
	}
	return err
}

// idleReader cancels the request when a single Read waits longer than
// timeout.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
	expired atomic.Bool
}

func newIdleReader(r io.Reader, timeout time.Duration, cancel context.CancelFunc) *idleReader {
	ir := &idleReader{r: r, timeout: timeout}
	if timeout > 0 {
		ir.timer = time.AfterFunc(timeout, func() {
			ir.expired.Store(true)
			cancel()
		})
	}
	return ir
}

func (ir *idleReader) Read(p []byte) (int, error) {
	if ir.timer == nil {
		return ir.r.Read(p)
	}
	ir.timer.Reset(ir.timeout)
	n, err := ir.r.Read(p)
	if err != nil && err != io.EOF && ir.expired.Load() {
		err = fmt.Errorf("no data for %s: %w", ir.timeout, context.DeadlineExceeded)
	}
	return n, err
}

func (ir *idleReader) stop() {
	if ir.timer != nil {
		ir.timer.Stop()
	}
}

func (c *Client) post(ctx context.Context, req request, sid string) (*http.Response, error) {
	body := make(map[string]string, len(req.params)+2)
	for k, v := range req.params {
		body[k] = v
	}
	body["op"] = req.op
	if sid != "" {
		body["sid"] = sid
	}
	payload, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: encoding request: %w", req.op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", req.op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	c.SetBasicAuth(httpReq)

	client := c.http
	if req.lazy {
		client = c.lazyHTTP
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, transportError(req.op, err)
	}

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, statusError(req.op, resp.StatusCode)
	}
	return resp, nil
}

func statusError(op string, code int) *Error {
	msg := fmt.Sprintf("server returned status %d (%s)", code, http.StatusText(code))
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		// HTTP auth failures carry no session code, so call does not log in
		// again for them.
		return &Error{Op: op, Kind: ErrNotAuthenticated, Message: msg}
	case code == http.StatusTooManyRequests || code >= 500:
		return &Error{Op: op, Kind: ErrTransientIO, Message: msg}
	default:
		return &Error{Op: op, Kind: ErrServerRejected, Message: msg}
	}
}

// expectOK runs a mutating call whose answer is a status object.
func (c *Client) expectOK(ctx context.Context, req request) error {
	return c.call(ctx, req, contentHandler{
		object: func(obj map[string]any) error {
			status, ok := obj["status"]
			if !ok {
				return nil
			}
			if s := asString(status); s != "" && s != "OK" {
				return &Error{Op: req.op, Kind: ErrServerRejected, Message: s}
			}
			return nil
		},
	})
}
