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

// Package entrypoint implements the link directory discovered from the
// management API. The API is hypermedia-styled: capabilities are advertised
// as {rel, href} pairs, either globally at the versioned API root or
// embedded in each loaded resource. Everything else in this module resolves
// relations through a Directory instead of hardcoding URLs.
package entrypoint

import (
	"strings"

	"github.com/gravitational/trace"
)

// Entry is a single relation to address mapping.
type Entry struct {
	// Rel names the capability, e.g. "login" or "elements/host".
	Rel string `json:"rel"`
	// Href is the address the capability is served at.
	Href string `json:"href"`
	// Type optionally carries the element type of the target.
	Type string `json:"type,omitempty"`
}

// Directory is an ordered, immutable collection of entries scoped either to
// the whole API (the entry point table fetched at login) or to a single
// loaded resource (its embedded "link" array). Relations are not guaranteed
// unique: the server may publish the same rel more than once, and the last
// occurrence wins on lookup.
type Directory struct {
	entries []Entry
	version string
}

// NewDirectory builds a directory from discovered entries. The negotiated
// API version is retained only to produce useful resolution errors.
func NewDirectory(entries []Entry, version string) Directory {
	return Directory{entries: entries, version: version}
}

// Resolve returns the address of the given relation. When duplicates exist
// the address of the last matching entry is returned.
func (d Directory) Resolve(rel string) (string, error) {
	var href string
	for _, entry := range d.entries {
		if entry.Rel == rel {
			href = entry.Href
		}
	}
	if href == "" {
		return "", trace.NotImplemented(
			"entry point %q was not found in version %v of the management API, "+
				"the capability may require a different api version", rel, d.version)
	}
	return href, nil
}

// FilterContexts enumerates the sub-relations published under the base
// relation, i.e. the distinct suffixes of entries whose address extends the
// base address by one path. These are the valid filter contexts for element
// searches; the set grows across server versions, so it is derived rather
// than hardcoded.
func (d Directory) FilterContexts(base string) ([]string, error) {
	baseHref, err := d.Resolve(base)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	prefix := baseHref + "/"
	seen := make(map[string]struct{})
	var contexts []string
	for _, entry := range d.entries {
		suffix, ok := strings.CutPrefix(entry.Href, prefix)
		if !ok || suffix == "" {
			continue
		}
		if _, dup := seen[suffix]; dup {
			continue
		}
		seen[suffix] = struct{}{}
		contexts = append(contexts, suffix)
	}
	return contexts, nil
}

// Entries returns a copy of the raw directory in discovery order.
func (d Directory) Entries() []Entry {
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Version returns the API version the directory was discovered from.
func (d Directory) Version() string {
	return d.version
}

// Len returns the number of entries.
func (d Directory) Len() int {
	return len(d.entries)
}
