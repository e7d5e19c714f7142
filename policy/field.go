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

package policy

import (
	"context"

	"github.com/gravitational/trace"

	"github.com/stonegate/smc-go/client"
	"github.com/stonegate/smc-go/element"
)

// ResolveMode controls what happens when a rule field is handed a named
// element that cannot be found.
type ResolveMode int

const (
	// ResolveBestEffort silently drops references that fail to resolve,
	// keeping the ones that did. This is the default.
	ResolveBestEffort ResolveMode = iota
	// ResolveStrict fails the whole operation on the first reference
	// that cannot be resolved.
	ResolveStrict
)

// RuleField is a tri-state match field of a rule: it holds either the
// "any" marker, the "none" marker, or an explicit list of element
// addresses under the field's wire key ("src", "dst" or "service"). The
// three states are mutually exclusive; entering one leaves the others.
//
// A field that was never set reads as none: a rule matches nothing until
// told otherwise.
//
// All mutations are buffered in the owning rule and written by its Save.
type RuleField struct {
	clt  *client.Client
	view element.NestedMap
	key  string
	mode ResolveMode
}

// newRuleField wraps one match field of a rule's buffered data.
func newRuleField(clt *client.Client, view element.NestedMap, key string, mode ResolveMode) *RuleField {
	return &RuleField{clt: clt, view: view, key: key, mode: mode}
}

// IsAny reports whether the field matches everything.
func (f *RuleField) IsAny() bool {
	return f.view.GetBool("any")
}

// IsNone reports whether the field matches nothing, either through the
// explicit marker or by never having been set.
func (f *RuleField) IsNone() bool {
	if f.view.GetBool("none") {
		return true
	}
	return !f.view.Has("any") && !f.view.Has(f.key)
}

// SetAny makes the field match everything, discarding any element list.
func (f *RuleField) SetAny() {
	f.clear()
	f.view.Set("any", true)
}

// SetNone makes the field match nothing, discarding any element list.
func (f *RuleField) SetNone() {
	f.clear()
	f.view.Set("none", true)
}

// Add appends one reference to the element list. Adding to a field in a
// marker state discards the marker and starts a fresh list, so the first
// explicit element always ends up as a single-element list. Duplicate
// addresses are kept out.
func (f *RuleField) Add(ctx context.Context, ref interface{}) error {
	href, err := element.ResolveHref(ctx, ref)
	if err != nil {
		if f.mode == ResolveStrict {
			return trace.Wrap(err)
		}
		return nil
	}
	if f.IsAny() || f.IsNone() {
		f.clear()
	}
	hrefs := f.Hrefs()
	for _, existing := range hrefs {
		if existing == href {
			return nil
		}
	}
	f.view.Set(f.key, append(toAnySlice(hrefs), href))
	return nil
}

// AddMany replaces the field wholesale with the given references: markers
// are discarded and the resolved addresses become the new list. An empty
// input yields an explicit empty list, not the none marker. Under
// best-effort resolution, references that fail to resolve are dropped.
func (f *RuleField) AddMany(ctx context.Context, refs []interface{}) error {
	hrefs := make([]interface{}, 0, len(refs))
	for _, ref := range refs {
		href, err := element.ResolveHref(ctx, ref)
		if err != nil {
			if f.mode == ResolveStrict {
				return trace.Wrap(err)
			}
			continue
		}
		hrefs = append(hrefs, href)
	}
	f.clear()
	f.view.Set(f.key, hrefs)
	return nil
}

// Hrefs returns the explicit element addresses, empty in a marker state.
func (f *RuleField) Hrefs() []string {
	raw, ok := f.view.Get(f.key).([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		if href, ok := item.(string); ok {
			out = append(out, href)
		}
	}
	return out
}

// All returns unresolved proxies for the explicit element addresses,
// empty in a marker state.
func (f *RuleField) All() []*element.Element {
	hrefs := f.Hrefs()
	out := make([]*element.Element, 0, len(hrefs))
	for _, href := range hrefs {
		out = append(out, element.FromHref(f.clt, href))
	}
	return out
}

// clear drops the markers and the element list, leaving the field unset.
func (f *RuleField) clear() {
	f.view.Delete("any")
	f.view.Delete("none")
	f.view.Delete(f.key)
}

func toAnySlice(hrefs []string) []interface{} {
	out := make([]interface{}, 0, len(hrefs))
	for _, href := range hrefs {
		out = append(out, href)
	}
	return out
}
