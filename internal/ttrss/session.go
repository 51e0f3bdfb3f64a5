package ttrss

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/pders01/ttsync/internal/debuglog"
)

// session returns the current session id, logging in when there is none.
func (c *Client) session(ctx context.Context) (string, error) {
	c.mu.Lock()
	sid, sticky := c.sid, c.loginErr
	c.mu.Unlock()
	if sid != "" {
		return sid, nil
	}
	if sticky != nil {
		return "", sticky
	}

	// The login is shared, so it must outlive the caller that started it.
	// The client timeouts still bound it.
	ch := c.logins.DoChan("login", func() (any, error) {
		return c.login(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", transportError("login", ctx.Err())
	case res := <-ch:
		if res.Shared {
			debuglog.Debugf("ttrss: joined login in flight")
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// invalidate drops sid if it is still the current session.
func (c *Client) invalidate(sid string) {
	c.mu.Lock()
	if c.sid == sid {
		c.sid = ""
	}
	c.mu.Unlock()
}

// singleUser is a guess: HTTP auth on and no API credentials.
func (c *Client) singleUser() bool {
	return c.cfg.HTTPAuth && c.cfg.Username == "" && c.cfg.Password == ""
}

type loginResult struct {
	sid      string
	apiLevel int
}

// login authenticates with the plaintext password and falls back to the
// base64 form older servers expect. An authentication or API failure is
// kept as a sticky error so later calls fail fast until it is pulled.
func (c *Client) login(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.sid != "" {
		sid := c.sid
		c.mu.Unlock()
		return sid, nil
	}
	c.mu.Unlock()

	params := map[string]string{}
	if !c.singleUser() {
		params["user"] = c.cfg.Username
		params["password"] = c.cfg.Password
	}

	res, err := c.loginWith(ctx, params)
	if errors.Is(err, ErrNotAuthenticated) && !c.singleUser() {
		debuglog.Infof("ttrss: plaintext login rejected, retrying with encoded password")
		params["password"] = base64.StdEncoding.EncodeToString([]byte(c.cfg.Password))
		res, err = c.loginWith(ctx, params)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if IsFatal(err) {
			c.loginErr = err
		}
		return "", err
	}
	c.sid = res.sid
	if res.apiLevel > 0 {
		c.apiLevel = res.apiLevel
	}
	return res.sid, nil
}

func (c *Client) loginWith(ctx context.Context, params map[string]string) (loginResult, error) {
	var res loginResult
	err := c.roundTrip(ctx, request{op: "login", params: params}, "", contentHandler{
		object: func(obj map[string]any) error {
			res.sid = asString(obj["session_id"])
			res.apiLevel = asInt(obj["api_level"])
			return nil
		},
	})
	if err != nil {
		return res, err
	}
	if res.sid == "" {
		return res, &Error{Op: "login", Kind: ErrNotAuthenticated, Message: "no session id in response"}
	}
	return res, nil
}

// Login drops any session and sticky error and authenticates again.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	c.sid = ""
	c.loginErr = nil
	c.mu.Unlock()

	_, err := c.session(ctx)
	if err != nil {
		return c.fail(err)
	}
	return nil
}

// Logout ends the server session.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	sid := c.sid
	c.sid = ""
	c.mu.Unlock()
	if sid == "" {
		return nil
	}
	return c.roundTrip(ctx, request{op: "logout"}, sid, contentHandler{})
}

// LoggedIn reports whether the client holds a session id.
func (c *Client) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid != ""
}
