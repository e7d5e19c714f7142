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

	"github.com/gravitational/trace"
)

// NestedMap is a view over one nested settings block inside an element's
// buffered data. Mutations go straight to the underlying map, so they ride
// along with the owning element's next Commit.
type NestedMap struct {
	data map[string]interface{}
}

// NestedField returns a view over the named settings block, creating an
// empty block in the buffer when the element has none yet.
func (e *Element) NestedField(ctx context.Context, field string) (NestedMap, error) {
	data, err := e.load(ctx)
	if err != nil {
		return NestedMap{}, trace.Wrap(err)
	}
	block, ok := data.fields[field].(map[string]interface{})
	if !ok {
		block = map[string]interface{}{}
		data.fields[field] = block
	}
	return NestedMap{data: block}, nil
}

// WrapNested returns a view over an existing map, allocating a fresh one
// when nil is given.
func WrapNested(data map[string]interface{}) NestedMap {
	if data == nil {
		data = map[string]interface{}{}
	}
	return NestedMap{data: data}
}

// Get returns the raw value of a key, nil when absent.
func (m NestedMap) Get(key string) interface{} {
	return m.data[key]
}

// GetString returns a string value, empty when absent.
func (m NestedMap) GetString(key string) string {
	s, _ := m.data[key].(string)
	return s
}

// GetBool returns a boolean value, false when absent.
func (m NestedMap) GetBool(key string) bool {
	b, _ := m.data[key].(bool)
	return b
}

// GetInt returns an integer value, zero when absent. Numbers decoded from
// JSON arrive as float64 and are converted.
func (m NestedMap) GetInt(key string) int {
	switch v := m.data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// Set stores a value under a key.
func (m NestedMap) Set(key string, value interface{}) {
	m.data[key] = value
}

// Has reports whether a key is present.
func (m NestedMap) Has(key string) bool {
	_, ok := m.data[key]
	return ok
}

// Delete removes a key.
func (m NestedMap) Delete(key string) {
	delete(m.data, key)
}

// Data returns the underlying map.
func (m NestedMap) Data() map[string]interface{} {
	return m.data
}
