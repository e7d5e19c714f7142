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

package element

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/stonegate/smc-go/client"
)

// startServer fakes enough of the management API to log in with a pinned
// version, and returns the mux for tests to register element handlers on.
func startServer(t *testing.T) (*http.ServeMux, *client.Client, string) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/6.5/api", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{
			"entry_point": []map[string]string{
				{"rel": "login", "href": srv.URL + "/6.5/login"},
				{"rel": "logout", "href": srv.URL + "/6.5/logout"},
				{"rel": "elements", "href": srv.URL + "/6.5/elements"},
				{"rel": "elements/host", "href": srv.URL + "/6.5/elements/host"},
			},
		})
	})
	mux.HandleFunc("/6.5/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "session", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})

	clt, err := client.New(client.Config{
		Address:    srv.URL,
		APIKey:     "key",
		Version:    "6.5",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	require.NoError(t, clt.Login(context.Background()))
	return mux, clt, srv.URL
}

func writeJSON(t *testing.T, w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestLoadIsLazy(t *testing.T) {
	mux, clt, url := startServer(t)
	hits := 0
	mux.HandleFunc("/6.5/elements/host/1", func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("ETag", "etag-1")
		writeJSON(t, w, map[string]interface{}{
			"name":    "web-server",
			"address": "10.0.0.1",
			"link": []map[string]string{
				{"rel": "self", "href": url + "/6.5/elements/host/1"},
				{"rel": "history", "href": url + "/6.5/elements/host/1/history"},
			},
		})
	})

	e := FromHref(clt, url+"/6.5/elements/host/1")
	require.Zero(t, hits)

	address, err := e.GetString(context.Background(), "address")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", address)
	require.Equal(t, 1, hits)

	// Further reads are served from the cache.
	name, err := e.GetString(context.Background(), "name")
	require.NoError(t, err)
	require.Equal(t, "web-server", name)
	require.Equal(t, 1, hits)

	etag, err := e.ETag(context.Background())
	require.NoError(t, err)
	require.Equal(t, "etag-1", etag)

	href, err := e.Relation(context.Background(), "history")
	require.NoError(t, err)
	require.Equal(t, url+"/6.5/elements/host/1/history", href)

	_, err = e.Relation(context.Background(), "routing")
	require.True(t, trace.IsNotFound(err))
}

func TestLoadMissingElement(t *testing.T) {
	mux, clt, url := startServer(t)
	mux.HandleFunc("/6.5/elements/host/404", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	e := FromHref(clt, url+"/6.5/elements/host/404")
	err := e.Load(context.Background())
	require.True(t, trace.IsNotFound(err))
}

func TestCommitSendsConcurrencyToken(t *testing.T) {
	mux, clt, url := startServer(t)
	served := map[string]interface{}{"name": "web-server", "address": "10.0.0.1"}
	var received map[string]interface{}
	mux.HandleFunc("/6.5/elements/host/1", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("ETag", "etag-1")
			writeJSON(t, w, served)
		case http.MethodPut:
			require.Equal(t, "etag-1", r.Header.Get("If-Match"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			w.Header().Set("ETag", "etag-2")
			w.WriteHeader(http.StatusOK)
		}
	})

	e := FromHref(clt, url+"/6.5/elements/host/1")
	require.NoError(t, e.SetField(context.Background(), "address", "10.0.0.2"))
	require.NoError(t, e.Update(context.Background(), map[string]interface{}{
		"comment": "moved",
	}))
	require.NoError(t, e.Commit(context.Background()))

	want := map[string]interface{}{
		"name":    "web-server",
		"address": "10.0.0.2",
		"comment": "moved",
	}
	require.Empty(t, cmp.Diff(want, received))

	// The token is refreshed from the commit response.
	etag, err := e.ETag(context.Background())
	require.NoError(t, err)
	require.Equal(t, "etag-2", etag)
}

func TestNoopCommitRoundtrips(t *testing.T) {
	mux, clt, url := startServer(t)
	served := map[string]interface{}{"name": "web-server", "address": "10.0.0.1"}
	var received map[string]interface{}
	mux.HandleFunc("/6.5/elements/host/1", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("ETag", "etag-1")
			writeJSON(t, w, served)
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			w.WriteHeader(http.StatusOK)
		}
	})

	e := FromHref(clt, url+"/6.5/elements/host/1")
	require.NoError(t, e.Load(context.Background()))
	require.NoError(t, e.Commit(context.Background()))
	require.Empty(t, cmp.Diff(served, received))
}

func TestCommitConflict(t *testing.T) {
	mux, clt, url := startServer(t)
	mux.HandleFunc("/6.5/elements/host/1", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("ETag", "etag-1")
			writeJSON(t, w, map[string]interface{}{"name": "web-server"})
		case http.MethodPut:
			w.WriteHeader(http.StatusPreconditionFailed)
		}
	})

	e := FromHref(clt, url+"/6.5/elements/host/1")
	require.NoError(t, e.SetField(context.Background(), "name", "renamed"))
	err := e.Commit(context.Background())
	require.True(t, trace.IsCompareFailed(err))

	// A failed commit keeps the buffered change for the caller to decide.
	name, err := e.GetString(context.Background(), "name")
	require.NoError(t, err)
	require.Equal(t, "renamed", name)
}

func TestAutoCommit(t *testing.T) {
	mux, clt, url := startServer(t)
	puts := 0
	mux.HandleFunc("/6.5/elements/host/1", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("ETag", "etag-1")
			writeJSON(t, w, map[string]interface{}{"name": "web-server"})
		case http.MethodPut:
			puts++
			w.WriteHeader(http.StatusOK)
		}
	})

	e := FromHref(clt, url+"/6.5/elements/host/1")
	e.SetAutoCommit(true)
	require.NoError(t, e.SetField(context.Background(), "comment", "first"))
	require.Equal(t, 1, puts)
	require.NoError(t, e.SetField(context.Background(), "comment", "second"))
	require.Equal(t, 2, puts)
}

func TestHrefResolvedBySearch(t *testing.T) {
	mux, clt, url := startServer(t)
	mux.HandleFunc("/6.5/elements", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "web-server", r.URL.Query().Get("filter"))
		require.Equal(t, "host", r.URL.Query().Get("filter_context"))
		require.Equal(t, "true", r.URL.Query().Get("exact_match"))
		writeJSON(t, w, map[string]interface{}{
			"result": []map[string]string{
				{"name": "web-server", "href": url + "/6.5/elements/host/1", "type": "host"},
			},
		})
	})

	e := New(clt, "web-server", "host")
	href, err := e.Href(context.Background())
	require.NoError(t, err)
	require.Equal(t, url+"/6.5/elements/host/1", href)
}

func TestHrefSearchMiss(t *testing.T) {
	mux, clt, _ := startServer(t)
	mux.HandleFunc("/6.5/elements", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{"result": []map[string]string{}})
	})

	e := New(clt, "nonexistent", "host")
	_, err := e.Href(context.Background())
	require.True(t, trace.IsNotFound(err))

	// A name without a type cannot be searched at all.
	_, err = New(clt, "nonexistent", "").Href(context.Background())
	require.True(t, trace.IsNotFound(err))
}

func TestCreateReturnsLocation(t *testing.T) {
	mux, clt, url := startServer(t)
	mux.HandleFunc("/6.5/elements/host", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var fields map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&fields))
		require.Equal(t, "web-server", fields["name"])
		w.Header().Set("Location", url+"/6.5/elements/host/1")
		w.WriteHeader(http.StatusCreated)
	})

	created, err := Create(context.Background(), clt, "host", map[string]interface{}{
		"name":    "web-server",
		"address": "10.0.0.1",
	})
	require.NoError(t, err)
	href, err := created.Href(context.Background())
	require.NoError(t, err)
	require.Equal(t, url+"/6.5/elements/host/1", href)
	require.Equal(t, "web-server", created.Name())
}

func TestDeleteSendsConcurrencyToken(t *testing.T) {
	mux, clt, url := startServer(t)
	deleted := false
	mux.HandleFunc("/6.5/elements/host/1", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("ETag", "etag-1")
			writeJSON(t, w, map[string]interface{}{"name": "web-server"})
		case http.MethodDelete:
			require.Equal(t, "etag-1", r.Header.Get("If-Match"))
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		}
	})

	e := FromHref(clt, url+"/6.5/elements/host/1")
	require.NoError(t, e.Delete(context.Background()))
	require.True(t, deleted)
}

func TestRefs(t *testing.T) {
	mux, clt, url := startServer(t)
	mux.HandleFunc("/6.5/elements/group/1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{
			"name": "servers",
			"element": []string{
				url + "/6.5/elements/host/1",
				url + "/6.5/elements/host/2",
			},
		})
	})

	e := FromHref(clt, url+"/6.5/elements/group/1")
	members, err := e.Refs(context.Background(), "element")
	require.NoError(t, err)
	require.Len(t, members, 2)

	memberHref, err := members[0].Href(context.Background())
	require.NoError(t, err)
	require.Equal(t, url+"/6.5/elements/host/1", memberHref)
}
