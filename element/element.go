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

// Package element implements the local proxy for server-side configuration
// objects.
//
// An Element is addressed by its href and loaded lazily: constructing one
// costs nothing, the first access of its data performs a single GET that
// populates the field cache, the resource-scoped link directory and the
// concurrency token. Field mutations are buffered locally and written back
// in one Commit carrying the token, so the server rejects the write if the
// resource changed since it was loaded.
//
// An Element holds no lock of its own: a proxy and the session it borrows
// are meant to be driven from one goroutine, or serialized by the caller.
package element

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gravitational/trace"

	"github.com/stonegate/smc-go"
	"github.com/stonegate/smc-go/client"
	"github.com/stonegate/smc-go/entrypoint"
)

var log = slog.With(smc.ComponentKey, smc.ComponentElement)

// Meta is the descriptive triple returned by element searches: enough to
// reference an element without loading it.
type Meta struct {
	Name string `json:"name"`
	Href string `json:"href"`
	Type string `json:"type"`
}

// cache holds one loaded snapshot of an element: its fields, its embedded
// link directory and the concurrency token captured from the response. It
// is replaced wholesale on every load.
type cache struct {
	fields map[string]interface{}
	links  entrypoint.Directory
	etag   string
}

// Element is a lazily resolved proxy for one remote configuration object.
type Element struct {
	clt    *client.Client
	meta   Meta
	typeof string
	data   *cache

	// autoCommit makes every SetField write through immediately instead
	// of buffering until Commit.
	autoCommit bool
}

// New returns a named proxy whose address is resolved on demand by
// searching the given filter context (the element type, e.g. "host").
func New(clt *client.Client, name, typeof string) *Element {
	return &Element{clt: clt, meta: Meta{Name: name}, typeof: typeof}
}

// FromHref returns a proxy for a known address.
func FromHref(clt *client.Client, href string) *Element {
	return &Element{clt: clt, meta: Meta{Href: href}}
}

// FromMeta returns a proxy from search metadata.
func FromMeta(clt *client.Client, meta Meta) *Element {
	return &Element{clt: clt, meta: meta, typeof: meta.Type}
}

// SetAutoCommit toggles write-through mode: when enabled each SetField
// commits in the same call, when disabled (the default) changes accumulate
// until an explicit Commit.
func (e *Element) SetAutoCommit(enabled bool) {
	e.autoCommit = enabled
}

// Name returns the element name, if known.
func (e *Element) Name() string {
	return e.meta.Name
}

// Type returns the element type, if known.
func (e *Element) Type() string {
	return e.typeof
}

// Href returns the element address, searching for it by name on first use
// when the proxy was created with New.
func (e *Element) Href(ctx context.Context) (string, error) {
	if e.meta.Href != "" {
		return e.meta.Href, nil
	}
	if e.typeof == "" {
		return "", trace.NotFound(
			"element %q has no address and no type to search, it cannot be referenced directly", e.meta.Name)
	}
	metas, err := Search(ctx, e.clt, e.meta.Name, e.typeof, true)
	if err != nil {
		return "", trace.Wrap(err)
	}
	if len(metas) == 0 {
		return "", trace.NotFound("cannot find element %q of type %v", e.meta.Name, e.typeof)
	}
	e.meta = metas[0]
	return e.meta.Href, nil
}

// Load fetches the element and replaces the local snapshot wholesale: the
// field cache, the embedded link directory and the concurrency token.
func (e *Element) Load(ctx context.Context) error {
	href, err := e.Href(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	resp, err := client.ConvertResponse(e.clt.Get(ctx, href, nil))
	if err != nil {
		return trace.Wrap(err)
	}
	if len(resp.Bytes()) == 0 {
		return trace.NotFound("element at %v returned no data, it may no longer exist", href)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(resp.Bytes(), &fields); err != nil {
		return trace.BadParameter("failed to decode element at %v: %v", href, err)
	}
	e.data = &cache{
		fields: fields,
		links:  parseLinks(fields, e.clt.Version()),
		etag:   resp.Headers().Get(smc.ETagHeader),
	}
	if name, ok := fields["name"].(string); ok {
		e.meta.Name = name
	}
	log.DebugContext(ctx, "Loaded element.", "name", e.meta.Name, "href", href)
	return nil
}

// parseLinks extracts the resource-scoped link directory from the "link"
// array embedded in the element body.
func parseLinks(fields map[string]interface{}, version string) entrypoint.Directory {
	raw, ok := fields["link"].([]interface{})
	if !ok {
		return entrypoint.NewDirectory(nil, version)
	}
	var entries []entrypoint.Entry
	for _, item := range raw {
		link, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		rel, _ := link["rel"].(string)
		href, _ := link["href"].(string)
		typ, _ := link["type"].(string)
		if rel != "" && href != "" {
			entries = append(entries, entrypoint.Entry{Rel: rel, Href: href, Type: typ})
		}
	}
	return entrypoint.NewDirectory(entries, version)
}

// load returns the cached snapshot, fetching it on first use.
func (e *Element) load(ctx context.Context) (*cache, error) {
	if e.data != nil {
		return e.data, nil
	}
	if err := e.Load(ctx); err != nil {
		return nil, trace.Wrap(err)
	}
	return e.data, nil
}

// Get returns the raw value of a field, nil when the field is absent.
func (e *Element) Get(ctx context.Context, field string) (interface{}, error) {
	data, err := e.load(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return data.fields[field], nil
}

// GetString returns a string field, empty when absent or not a string.
func (e *Element) GetString(ctx context.Context, field string) (string, error) {
	value, err := e.Get(ctx, field)
	if err != nil {
		return "", trace.Wrap(err)
	}
	s, _ := value.(string)
	return s, nil
}

// GetBool returns a boolean field, false when absent.
func (e *Element) GetBool(ctx context.Context, field string) (bool, error) {
	value, err := e.Get(ctx, field)
	if err != nil {
		return false, trace.Wrap(err)
	}
	b, _ := value.(bool)
	return b, nil
}

// SetField buffers a single field change. In write-through mode the change
// is committed in the same call.
func (e *Element) SetField(ctx context.Context, field string, value interface{}) error {
	data, err := e.load(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	data.fields[field] = value
	if e.autoCommit {
		return trace.Wrap(e.Commit(ctx))
	}
	return nil
}

// Update buffers multiple field changes at once. Nothing is written until
// Commit: batching many logical changes under a single write is the point.
func (e *Element) Update(ctx context.Context, fields map[string]interface{}) error {
	data, err := e.load(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	for field, value := range fields {
		data.fields[field] = value
	}
	return nil
}

// RawData exposes the live buffered field mapping. Mutations through the
// returned map are part of the next Commit; packages wrapping nested
// settings blocks build their views on top of it.
func (e *Element) RawData(ctx context.Context) (map[string]interface{}, error) {
	data, err := e.load(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return data.fields, nil
}

// ETag returns the concurrency token, fetching it from the server when the
// snapshot was populated without one (nested subset data).
func (e *Element) ETag(ctx context.Context) (string, error) {
	data, err := e.load(ctx)
	if err != nil {
		return "", trace.Wrap(err)
	}
	if data.etag != "" {
		return data.etag, nil
	}
	href, err := e.Href(ctx)
	if err != nil {
		return "", trace.Wrap(err)
	}
	resp, err := client.ConvertResponse(e.clt.Get(ctx, href, nil))
	if err != nil {
		return "", trace.Wrap(err)
	}
	data.etag = resp.Headers().Get(smc.ETagHeader)
	return data.etag, nil
}

// Commit writes the full buffered field mapping back to the element's own
// address, supplying the concurrency token so a concurrent modification
// fails the write with a compare-failed error instead of clobbering it.
// The token is refreshed from the response on success. A failed commit
// leaves the buffered fields as they are: the caller decides whether to
// retry, discard or reload.
func (e *Element) Commit(ctx context.Context) error {
	data, err := e.load(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	etag, err := e.ETag(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	href, err := e.Href(ctx)
	if err != nil {
		return trace.Wrap(err)
	}

	headers := http.Header{}
	headers.Set(smc.IfMatchHeader, etag)
	resp, err := client.ConvertResponse(e.clt.PutJSON(ctx, href, data.fields, headers))
	if err != nil {
		return trace.Wrap(err)
	}
	if etag := resp.Headers().Get(smc.ETagHeader); etag != "" {
		data.etag = etag
	}
	if name, ok := data.fields["name"].(string); ok {
		e.meta.Name = name
	}
	log.DebugContext(ctx, "Committed element.", "name", e.meta.Name, "href", href)
	return nil
}

// Delete removes the element from the server, conditioned on the
// concurrency token.
func (e *Element) Delete(ctx context.Context) error {
	etag, err := e.ETag(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	href, err := e.Href(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	headers := http.Header{}
	headers.Set(smc.IfMatchHeader, etag)
	if _, err := client.ConvertResponse(e.clt.Delete(ctx, href, headers)); err != nil {
		return trace.Wrap(err)
	}
	e.data = nil
	return nil
}

// Relation resolves a resource-scoped link of the loaded element.
func (e *Element) Relation(ctx context.Context, rel string) (string, error) {
	data, err := e.load(ctx)
	if err != nil {
		return "", trace.Wrap(err)
	}
	href, err := data.links.Resolve(rel)
	if err != nil {
		return "", trace.NotFound("resource %q is not available on element %v", rel, e.meta.Name)
	}
	return href, nil
}

// Ref returns an unresolved proxy for a field holding another element's
// address. No network call happens until the returned proxy is used.
func (e *Element) Ref(ctx context.Context, field string) (*Element, error) {
	value, err := e.Get(ctx, field)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	href, ok := value.(string)
	if !ok || href == "" {
		return nil, trace.NotFound("field %q of element %v holds no reference", field, e.meta.Name)
	}
	return FromHref(e.clt, href), nil
}

// Refs returns unresolved proxies for a field holding a list of element
// addresses.
func (e *Element) Refs(ctx context.Context, field string) ([]*Element, error) {
	value, err := e.Get(ctx, field)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	raw, ok := value.([]interface{})
	if !ok {
		return nil, nil
	}
	var out []*Element
	for _, item := range raw {
		if href, ok := item.(string); ok && href != "" {
			out = append(out, FromHref(e.clt, href))
		}
	}
	return out, nil
}

// Client returns the session the proxy issues requests through.
func (e *Element) Client() *client.Client {
	return e.clt
}

// String implements fmt.Stringer.
func (e *Element) String() string {
	return fmt.Sprintf("Element(name=%v)", e.meta.Name)
}
