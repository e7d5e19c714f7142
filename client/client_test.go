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

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/stonegate/smc-go/defaults"
)

const testAPIKey = "s3cr3t"

// testServer fakes the management API: version discovery, entry point
// discovery, cookie-based login and logout, plus whatever extra handlers a
// test registers on its mux.
type testServer struct {
	*httptest.Server
	mux *http.ServeMux

	mu       sync.Mutex
	logins   int
	logouts  int
	rootHits int
	expired  bool
}

func newTestServer(t *testing.T) *testServer {
	s := &testServer{mux: http.NewServeMux()}
	s.Server = httptest.NewServer(s.mux)
	t.Cleanup(s.Close)

	s.mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.rootHits++
		s.mu.Unlock()
		writeJSON(t, w, map[string]interface{}{
			"version": []map[string]string{
				{"rel": "6.1", "href": s.URL + "/6.1/api"},
				{"rel": "6.5", "href": s.URL + "/6.5/api"},
				{"rel": "6.2", "href": s.URL + "/6.2/api"},
			},
		})
	})
	s.mux.HandleFunc("/6.5/api", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{
			"entry_point": []map[string]string{
				{"rel": "login", "href": s.URL + "/6.5/login"},
				{"rel": "logout", "href": s.URL + "/6.5/logout"},
				{"rel": "elements", "href": s.URL + "/6.5/elements"},
				{"rel": "elements/host", "href": s.URL + "/6.5/elements/host"},
				{"rel": "elements/network", "href": s.URL + "/6.5/elements/network"},
			},
		})
	})
	s.mux.HandleFunc("/6.5/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Key string `json:"authenticationkey"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Key != testAPIKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.mu.Lock()
		s.logins++
		s.expired = false
		s.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "session", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})
	s.mux.HandleFunc("/6.5/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.mu.Lock()
		s.logouts++
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return s
}

// authorized checks the session cookie and the simulated server-side
// expiry.
func (s *testServer) authorized(r *http.Request) bool {
	if _, err := r.Cookie("JSESSIONID"); err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.expired
}

// expire invalidates the current session server-side; the next login
// restores it.
func (s *testServer) expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired = true
}

func (s *testServer) loginCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

func (s *testServer) logoutCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logouts
}

func writeJSON(t *testing.T, w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func mustLogin(t *testing.T, s *testServer, cfg Config) *Client {
	if cfg.Address == "" {
		cfg.Address = s.URL
	}
	if cfg.APIKey == "" {
		cfg.APIKey = testAPIKey
	}
	cfg.HTTPClient = s.Client()
	clt, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, clt.Login(context.Background()))
	return clt
}

func TestLoginNegotiatesHighestVersion(t *testing.T) {
	s := newTestServer(t)
	clt := mustLogin(t, s, Config{})

	require.Equal(t, "6.5", clt.Version())
	require.Equal(t, 1, s.loginCount())

	href, err := clt.EntryPoint("elements")
	require.NoError(t, err)
	require.Equal(t, s.URL+"/6.5/elements", href)
}

func TestLoginPinnedVersionSkipsNegotiation(t *testing.T) {
	s := newTestServer(t)
	clt := mustLogin(t, s, Config{Version: "6.5"})

	require.Equal(t, "6.5", clt.Version())
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Zero(t, s.rootHits)
}

func TestLoginRejectedKey(t *testing.T) {
	s := newTestServer(t)
	clt, err := New(Config{Address: s.URL, APIKey: "wrong", HTTPClient: s.Client()})
	require.NoError(t, err)

	err = clt.Login(context.Background())
	require.True(t, trace.IsConnectionProblem(err))
	require.ErrorContains(t, err, "401")
}

func TestLoginFromEnvProfile(t *testing.T) {
	s := newTestServer(t)
	t.Setenv(defaults.AddressEnvar, s.URL)
	t.Setenv(defaults.APIKeyEnvar, testAPIKey)

	clt, err := New(Config{HTTPClient: s.Client()})
	require.NoError(t, err)
	require.NoError(t, clt.Login(context.Background()))
	require.Equal(t, s.URL, clt.Address())
}

func TestEntryPointUnknownRelation(t *testing.T) {
	s := newTestServer(t)
	clt := mustLogin(t, s, Config{})

	_, err := clt.EntryPoint("vpn")
	require.True(t, trace.IsNotImplemented(err))
	require.ErrorContains(t, err, "vpn")
}

func TestFilterContexts(t *testing.T) {
	s := newTestServer(t)
	clt := mustLogin(t, s, Config{})

	contexts, err := clt.FilterContexts()
	require.NoError(t, err)
	require.Equal(t, []string{"host", "network"}, contexts)
}

func TestLogoutIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	clt := mustLogin(t, s, Config{})

	require.NoError(t, clt.Logout(context.Background()))
	require.NoError(t, clt.Logout(context.Background()))
	require.Equal(t, 1, s.logoutCount())

	_, err := clt.Get(context.Background(), s.URL+"/6.5/elements", nil)
	require.True(t, trace.IsConnectionProblem(err))
}

func TestGetRequiresLogin(t *testing.T) {
	s := newTestServer(t)
	clt, err := New(Config{Address: s.URL, APIKey: testAPIKey, HTTPClient: s.Client()})
	require.NoError(t, err)

	_, err = clt.Get(context.Background(), s.URL+"/6.5/elements", nil)
	require.True(t, trace.IsConnectionProblem(err))
}

func TestReauthenticatesOn401(t *testing.T) {
	s := newTestServer(t)
	s.mux.HandleFunc("/6.5/elements/host/1", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(t, w, map[string]interface{}{"name": "web-server"})
	})
	clt := mustLogin(t, s, Config{})

	// Three expire-then-request cycles in a row: each 401 triggers one
	// transparent re-login, and each success resets the failure counter,
	// so the cycles never accumulate towards the give-up threshold.
	for i := 0; i < 3; i++ {
		s.expire()
		resp, err := clt.Get(context.Background(), s.URL+"/6.5/elements/host/1", nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.Code())
	}
	require.Equal(t, 4, s.loginCount())
}

func TestReauthReusesNegotiatedVersion(t *testing.T) {
	s := newTestServer(t)
	s.mux.HandleFunc("/6.5/elements/host/1", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(t, w, map[string]interface{}{"name": "web-server"})
	})
	clt := mustLogin(t, s, Config{})

	s.mu.Lock()
	require.Equal(t, 1, s.rootHits)
	s.mu.Unlock()

	// The transparent re-login keeps the version negotiated at the first
	// login instead of running discovery again.
	s.expire()
	resp, err := clt.Get(context.Background(), s.URL+"/6.5/elements/host/1", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Code())
	require.Equal(t, "6.5", clt.Version())

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Equal(t, 1, s.rootHits)
}

func TestServerErrorKeepsFailureCounter(t *testing.T) {
	s := newTestServer(t)
	s.mux.HandleFunc("/6.5/elements/host/1", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})
	clt := mustLogin(t, s, Config{})

	// Only a 2xx resets the failure counter. With the endpoint answering
	// 500 after every recovered 401, the failures accumulate and the third
	// cycle gives up.
	for i := 0; i < 2; i++ {
		s.expire()
		resp, err := clt.Get(context.Background(), s.URL+"/6.5/elements/host/1", nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusInternalServerError, resp.Code())
	}
	s.expire()
	_, err := clt.Get(context.Background(), s.URL+"/6.5/elements/host/1", nil)
	require.True(t, trace.IsConnectionProblem(err))
	require.ErrorContains(t, err, "too many")
}

func TestRetainedFailuresHitThreshold(t *testing.T) {
	s := newTestServer(t)
	s.mux.HandleFunc("/6.5/elements/host/1", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(t, w, map[string]interface{}{"name": "web-server"})
	})
	clt := mustLogin(t, s, Config{RetainAuthFailures: true})

	// With the counter retained across successes, two recovered 401s are
	// tolerated and the third attempt gives up instead of re-logging in.
	for i := 0; i < 2; i++ {
		s.expire()
		_, err := clt.Get(context.Background(), s.URL+"/6.5/elements/host/1", nil)
		require.NoError(t, err)
	}
	s.expire()
	_, err := clt.Get(context.Background(), s.URL+"/6.5/elements/host/1", nil)
	require.True(t, trace.IsConnectionProblem(err))
	require.ErrorContains(t, err, "too many")
}

func TestStillUnauthorizedAfterReauth(t *testing.T) {
	s := newTestServer(t)
	s.mux.HandleFunc("/6.5/elements/host/1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	clt := mustLogin(t, s, Config{})

	_, err := clt.Get(context.Background(), s.URL+"/6.5/elements/host/1", nil)
	require.True(t, trace.IsAccessDenied(err))
	require.Equal(t, 2, s.loginCount())
}

func TestConvertResponse(t *testing.T) {
	s := newTestServer(t)
	s.mux.HandleFunc("/6.5/elements/host/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	s.mux.HandleFunc("/6.5/elements/host/conflict", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	})
	clt := mustLogin(t, s, Config{})

	_, err := ConvertResponse(clt.Get(context.Background(), s.URL+"/6.5/elements/host/missing", nil))
	require.True(t, trace.IsNotFound(err))

	_, err = ConvertResponse(clt.Get(context.Background(), s.URL+"/6.5/elements/host/conflict", nil))
	require.True(t, trace.IsCompareFailed(err))
}
