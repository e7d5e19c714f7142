/*
Copyright 2025 StoneGate, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package client implements the authenticated session against the
// management API.
//
// A Client owns at most one live session. Login negotiates the API version,
// discovers the entry point directory and binds a cookie-carrying transport;
// every other package issues requests through the Client's authenticated
// verbs, addressed by hrefs resolved from the directory. An HTTP 401 on an
// authenticated request triggers one transparent re-authentication with the
// stored settings before the request is retried.
package client

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"

	"github.com/stonegate/smc-go"
	"github.com/stonegate/smc-go/defaults"
	"github.com/stonegate/smc-go/entrypoint"
	"github.com/stonegate/smc-go/profile"
)

var log = slog.With(smc.ComponentKey, smc.ComponentClient)

// Config holds the settings for a management server session.
type Config struct {
	// Address is the base URL of the management server, e.g.
	// "https://smc.example.com:8082". When empty, Login falls back to the
	// stored connection profile.
	Address string

	// APIKey is the authentication key of the API client. When empty,
	// Login falls back to the stored connection profile.
	APIKey string

	// Version pins the API version. When empty the highest version
	// advertised by the server is negotiated at login.
	Version string

	// Timeout bounds the discovery and login requests.
	Timeout time.Duration

	// Insecure skips TLS certificate verification. Common for appliances
	// running self-signed certificates.
	Insecure bool

	// Pool is the certificate pool used to verify the server.
	Pool *x509.CertPool

	// HTTPClient overrides the transport entirely. Mostly for tests.
	HTTPClient *http.Client

	// ProfileDir overrides the directory the connection profile is read
	// from when Address or APIKey are not set.
	ProfileDir string

	// RetainAuthFailures keeps the consecutive authorization failure
	// counter across successful authenticated calls, so isolated 401s
	// accumulate for the lifetime of the session. The default resets the
	// counter on any success, which suits long-running clients.
	RetainAuthFailures bool
}

// CheckAndSetDefaults validates the configuration.
func (c *Config) CheckAndSetDefaults() error {
	if c.Timeout == 0 {
		c.Timeout = defaults.LoginTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = defaults.HTTPClient(c.Insecure, c.Pool, c.Timeout)
	}
	return nil
}

// Client manages a single authenticated session. All session state is
// guarded by one mutex: login, logout and re-authentication are serialized,
// and in-flight requests pick up the current transport under the same lock.
type Client struct {
	cfg Config

	mu           sync.Mutex
	clt          *roundtrip.Client
	directory    entrypoint.Directory
	version      string
	authFailures int
}

// New returns an unauthenticated client. Call Login before issuing
// requests.
func New(cfg Config) (*Client, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Client{cfg: cfg}, nil
}

// loginRequest is the credential payload posted to the login entry point.
type loginRequest struct {
	AuthenticationKey string `json:"authenticationkey"`
}

// Login establishes the session: it resolves connection settings (falling
// back to the stored profile), negotiates the API version, fetches the
// entry point directory and posts the credential to the login relation.
// Only an HTTP 200 authenticates; anything else fails with a connection
// problem carrying the status code.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginLocked(ctx)
}

func (c *Client) loginLocked(ctx context.Context) error {
	if c.cfg.Address == "" || c.cfg.APIKey == "" {
		p, err := profile.Load(c.cfg.ProfileDir)
		if err != nil {
			return trace.Wrap(err)
		}
		c.cfg.Address = p.Address
		c.cfg.APIKey = p.APIKey
		if c.cfg.Version == "" {
			c.cfg.Version = p.Version
		}
	}

	// An already negotiated version is reused on re-authentication so the
	// renewed session cannot silently switch API versions.
	version := c.cfg.Version
	if version == "" {
		version = c.version
	}
	if version == "" {
		negotiated, err := negotiateVersion(ctx, c.cfg.HTTPClient, c.cfg.Address)
		if err != nil {
			return trace.Wrap(err)
		}
		version = negotiated
	}
	log.DebugContext(ctx, "Using management API version.", "version", version)

	directory, err := fetchEntryPoints(ctx, c.cfg.HTTPClient, c.cfg.Address, version)
	if err != nil {
		return trace.Wrap(err)
	}

	loginHref, err := directory.Resolve("login")
	if err != nil {
		return trace.Wrap(err)
	}

	// A fresh cookie jar per login: the server binds the session to a
	// cookie returned by the login endpoint.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return trace.Wrap(err)
	}
	clt, err := roundtrip.NewClient(c.cfg.Address, version,
		roundtrip.HTTPClient(c.cfg.HTTPClient),
		roundtrip.CookieJar(jar),
	)
	if err != nil {
		return trace.Wrap(err)
	}

	resp, err := clt.PostJSON(ctx, loginHref, loginRequest{AuthenticationKey: c.cfg.APIKey})
	if err != nil {
		return trace.ConnectionProblem(err, "failed to reach the login endpoint at %v", loginHref)
	}
	if resp.Code() != http.StatusOK {
		return trace.ConnectionProblem(nil, "login failed, HTTP status code: %v", resp.Code())
	}

	c.clt = clt
	c.directory = directory
	c.version = version
	log.DebugContext(ctx, "Login succeeded and session retrieved.", "address", c.cfg.Address)
	return nil
}

// Logout removes the session from the management server. It is idempotent:
// a non-204 response (for example a 401 from an already expired session) is
// logged, not returned. The local session is discarded either way.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.clt == nil {
		return nil
	}
	logoutHref, err := c.directory.Resolve("logout")
	if err != nil {
		return trace.Wrap(err)
	}
	resp, err := c.roundTrip(ctx, c.clt, http.MethodPut, logoutHref, nil, nil)
	switch {
	case err != nil:
		log.ErrorContext(ctx, "Logout request failed.", "error", err)
	case resp.Code() == http.StatusNoContent:
		log.InfoContext(ctx, "Logged out successfully.")
	case resp.Code() == http.StatusUnauthorized:
		log.ErrorContext(ctx, "Logout failed, session has already expired.", "code", resp.Code())
	default:
		log.ErrorContext(ctx, "Logout failed.", "code", resp.Code())
	}

	c.clt = nil
	c.authFailures = 0
	return nil
}

// Reauthenticate recovers an expired session after an authorization
// failure. It re-runs login with the previously stored settings. Two
// consecutive failures without an intervening successful call are
// tolerated; the next attempt fails to prevent retry loops against
// credentials that no longer work.
func (c *Client) Reauthenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reauthenticateLocked(ctx)
}

func (c *Client) reauthenticateLocked(ctx context.Context) error {
	if c.clt == nil {
		return trace.ConnectionProblem(nil,
			"no previous session found, a new login attempt is required")
	}
	if c.authFailures >= defaults.MaxAuthFailures {
		return trace.ConnectionProblem(nil,
			"unauthorized: too many HTTP 401 responses received")
	}
	c.authFailures++
	log.InfoContext(ctx, "Received an HTTP 401 unauthorized, re-authenticating.",
		"consecutive_failures", c.authFailures)
	return c.loginLocked(ctx)
}

// requestSucceeded resets the consecutive authorization failure counter
// after a 2xx response, unless configured to retain it. Without the reset
// a long-running client would eventually exhaust the threshold on
// unrelated, well-spaced 401s. Server errors leave the counter alone.
func (c *Client) requestSucceeded(code int) {
	if c.cfg.RetainAuthFailures || code < http.StatusOK || code >= http.StatusMultipleChoices {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authFailures = 0
}

// session returns the current authenticated transport.
func (c *Client) session() (*roundtrip.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clt == nil {
		return nil, trace.ConnectionProblem(nil, "no valid login session, call Login first")
	}
	return c.clt, nil
}

// do issues one authenticated request. On a 401 it re-authenticates once
// and retries the request against the renewed session; requests are never
// retried more than once on the caller's behalf.
func (c *Client) do(ctx context.Context, method, href string, body []byte, headers http.Header) (*roundtrip.Response, error) {
	clt, err := c.session()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	resp, err := c.roundTrip(ctx, clt, method, href, body, headers)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if resp.Code() != http.StatusUnauthorized {
		c.requestSucceeded(resp.Code())
		return resp, nil
	}

	if err := c.Reauthenticate(ctx); err != nil {
		return nil, trace.Wrap(err)
	}
	clt, err = c.session()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	resp, err = c.roundTrip(ctx, clt, method, href, body, headers)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if resp.Code() == http.StatusUnauthorized {
		return nil, trace.AccessDenied("request to %v is still unauthorized after re-authentication", href)
	}
	c.requestSucceeded(resp.Code())
	return resp, nil
}

// roundTrip performs a single request with full header control on the
// given transport snapshot.
func (c *Client) roundTrip(ctx context.Context, clt *roundtrip.Client, method, href string, body []byte, headers http.Header) (*roundtrip.Response, error) {
	return clt.RoundTrip(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, href, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", smc.ContentTypeJSON)
		req.Header.Set("Accept", smc.ContentTypeJSON)
		for key, values := range headers {
			for _, value := range values {
				req.Header.Set(key, value)
			}
		}
		return clt.HTTPClient().Do(req)
	})
}

// Get issues an authenticated GET against the given href.
func (c *Client) Get(ctx context.Context, href string, params url.Values) (*roundtrip.Response, error) {
	if len(params) != 0 {
		u, err := url.Parse(href)
		if err != nil {
			return nil, trace.BadParameter("invalid href %q: %v", href, err)
		}
		u.RawQuery = params.Encode()
		href = u.String()
	}
	resp, err := c.do(ctx, http.MethodGet, href, nil, nil)
	return resp, trace.Wrap(err)
}

// PostJSON issues an authenticated POST with a JSON body.
func (c *Client) PostJSON(ctx context.Context, href string, data interface{}) (*roundtrip.Response, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	resp, err := c.do(ctx, http.MethodPost, href, body, nil)
	return resp, trace.Wrap(err)
}

// PutJSON issues an authenticated PUT with a JSON body and optional extra
// headers, used by element commits to supply the concurrency token.
func (c *Client) PutJSON(ctx context.Context, href string, data interface{}, headers http.Header) (*roundtrip.Response, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	resp, err := c.do(ctx, http.MethodPut, href, body, headers)
	return resp, trace.Wrap(err)
}

// Delete issues an authenticated DELETE with optional extra headers.
func (c *Client) Delete(ctx context.Context, href string, headers http.Header) (*roundtrip.Response, error) {
	resp, err := c.do(ctx, http.MethodDelete, href, nil, headers)
	return resp, trace.Wrap(err)
}

// EntryPoint resolves a top-level relation to its address.
func (c *Client) EntryPoint(rel string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	href, err := c.directory.Resolve(rel)
	return href, trace.Wrap(err)
}

// FilterContexts enumerates the element search filter contexts published
// under the "elements" entry point.
func (c *Client) FilterContexts() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	contexts, err := c.directory.FilterContexts("elements")
	return contexts, trace.Wrap(err)
}

// EntryPoints returns the full discovered directory.
func (c *Client) EntryPoints() []entrypoint.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.directory.Entries()
}

// Version returns the negotiated API version, empty before login.
func (c *Client) Version() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Address returns the management server base URL.
func (c *Client) Address() string {
	return c.cfg.Address
}

// ConvertResponse turns a non-2xx response into a typed error based on its
// status code and body, passing transport errors through.
func ConvertResponse(resp *roundtrip.Response, err error) (*roundtrip.Response, error) {
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return resp, trace.ReadError(resp.Code(), resp.Bytes())
}
