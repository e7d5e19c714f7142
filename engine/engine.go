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

// Package engine works with managed firewall engines: their buffered
// settings blocks and the long-running policy operations they expose.
package engine

import (
	"context"
	"net/url"

	"github.com/gravitational/trace"

	"github.com/stonegate/smc-go/client"
	"github.com/stonegate/smc-go/element"
	"github.com/stonegate/smc-go/task"
)

// EngineType is the element type of a single firewall engine.
const EngineType = "single_fw"

// Engine is a proxy for one managed engine. Settings edits are buffered
// and written by Commit; policy operations run server-side and are
// followed through the task package.
type Engine struct {
	*element.Element
}

// New returns a lazily resolved proxy for a named engine.
func New(clt *client.Client, name string) *Engine {
	return &Engine{Element: element.New(clt, name, EngineType)}
}

// FromMeta returns an engine proxy from search metadata.
func FromMeta(clt *client.Client, meta element.Meta) *Engine {
	return &Engine{Element: element.FromMeta(clt, meta)}
}

// Refresh pushes the engine's current policy to the nodes and returns a
// task following the operation.
func (e *Engine) Refresh(ctx context.Context) (*task.Task, error) {
	return e.startTask(ctx, "refresh")
}

// Upload installs a named policy on the engine and returns a task
// following the operation.
func (e *Engine) Upload(ctx context.Context, policy string) (*task.Task, error) {
	href, err := e.Relation(ctx, "upload")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if policy != "" {
		params := url.Values{}
		params.Set("filter", policy)
		href = href + "?" + params.Encode()
	}
	t, err := task.Start(ctx, task.Config{Client: e.Client(), Href: href})
	return t, trace.Wrap(err)
}

func (e *Engine) startTask(ctx context.Context, rel string) (*task.Task, error) {
	href, err := e.Relation(ctx, rel)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	t, err := task.Start(ctx, task.Config{Client: e.Client(), Href: href})
	return t, trace.Wrap(err)
}

// AntiVirus returns the engine's antivirus settings block.
func (e *Engine) AntiVirus(ctx context.Context) (AntiVirus, error) {
	view, err := e.NestedField(ctx, "antivirus")
	if err != nil {
		return AntiVirus{}, trace.Wrap(err)
	}
	return AntiVirus{view}, nil
}

// Sandbox returns the engine's sandbox settings block.
func (e *Engine) Sandbox(ctx context.Context) (Sandbox, error) {
	view, err := e.NestedField(ctx, "sandbox")
	if err != nil {
		return Sandbox{}, trace.Wrap(err)
	}
	return Sandbox{view}, nil
}

// URLFiltering returns the engine's URL filtering settings block.
func (e *Engine) URLFiltering(ctx context.Context) (URLFiltering, error) {
	view, err := e.NestedField(ctx, "ts_settings")
	if err != nil {
		return URLFiltering{}, trace.Wrap(err)
	}
	return URLFiltering{view}, nil
}

// AntiVirus is the view over an engine's antivirus settings.
type AntiVirus struct {
	element.NestedMap
}

// Enabled reports whether antivirus scanning is on.
func (a AntiVirus) Enabled() bool {
	return a.GetBool("antivirus_enabled")
}

// SetEnabled buffers the antivirus toggle.
func (a AntiVirus) SetEnabled(enabled bool) {
	a.Set("antivirus_enabled", enabled)
}

// UpdateURL returns the signature update address.
func (a AntiVirus) UpdateURL() string {
	return a.GetString("antivirus_update_url")
}

// SetUpdateURL buffers a new signature update address.
func (a AntiVirus) SetUpdateURL(url string) {
	a.Set("antivirus_update_url", url)
}

// Sandbox is the view over an engine's sandbox settings.
type Sandbox struct {
	element.NestedMap
}

// Enabled reports whether file reputation lookups are on.
func (s Sandbox) Enabled() bool {
	return s.GetBool("sandbox_enabled")
}

// SetEnabled buffers the sandbox toggle.
func (s Sandbox) SetEnabled(enabled bool) {
	s.Set("sandbox_enabled", enabled)
}

// URLFiltering is the view over an engine's URL filtering settings.
type URLFiltering struct {
	element.NestedMap
}

// Enabled reports whether category-based URL filtering is on.
func (u URLFiltering) Enabled() bool {
	return u.GetBool("ts_enabled")
}

// SetEnabled buffers the URL filtering toggle.
func (u URLFiltering) SetEnabled(enabled bool) {
	u.Set("ts_enabled", enabled)
}
