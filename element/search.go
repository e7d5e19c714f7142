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
	"net/url"

	"github.com/gravitational/trace"

	"github.com/stonegate/smc-go/client"
)

// searchResponse is the envelope returned by filtered element queries.
type searchResponse struct {
	Result []Meta `json:"result"`
}

// Search queries the element collection by name. A non-empty filterContext
// narrows the search to one element type (e.g. "host"); exact requires a
// full name match instead of a substring one.
func Search(ctx context.Context, clt *client.Client, name, filterContext string, exact bool) ([]Meta, error) {
	href, err := clt.EntryPoint("elements")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	params := url.Values{}
	params.Set("filter", name)
	if filterContext != "" {
		params.Set("filter_context", filterContext)
	}
	if exact {
		params.Set("exact_match", "true")
	}
	resp, err := client.ConvertResponse(clt.Get(ctx, href, params))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var body searchResponse
	if err := json.Unmarshal(resp.Bytes(), &body); err != nil {
		return nil, trace.BadParameter("failed to decode search results: %v", err)
	}
	return body.Result, nil
}

// Create posts a new element of the given type and returns a proxy for the
// address the server assigned to it.
func Create(ctx context.Context, clt *client.Client, typeof string, fields map[string]interface{}) (*Element, error) {
	href, err := clt.EntryPoint(typeof)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	resp, err := client.ConvertResponse(clt.PostJSON(ctx, href, fields))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	location := resp.Headers().Get("Location")
	if location == "" {
		return nil, trace.BadParameter("server accepted the new %v but returned no location", typeof)
	}
	created := FromHref(clt, location)
	created.typeof = typeof
	if name, ok := fields["name"].(string); ok {
		created.meta.Name = name
	}
	return created, nil
}

// Referencer is anything that can produce an element address: proxies
// implement it, and rule fields accept either a Referencer or a raw href.
type Referencer interface {
	Href(ctx context.Context) (string, error)
}

// ResolveHref turns a reference into an address: a string passes through
// unchanged, a Referencer is resolved.
func ResolveHref(ctx context.Context, ref interface{}) (string, error) {
	switch v := ref.(type) {
	case string:
		return v, nil
	case Referencer:
		href, err := v.Href(ctx)
		return href, trace.Wrap(err)
	default:
		return "", trace.BadParameter("cannot reference %T, expected an element or an href", ref)
	}
}
