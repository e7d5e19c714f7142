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
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gravitational/trace"

	"github.com/stonegate/smc-go"
	"github.com/stonegate/smc-go/entrypoint"
)

// versionsResponse is the body of the unauthenticated version discovery
// endpoint. Each entry's rel is a numeric version string such as "6.5".
type versionsResponse struct {
	Version []entrypoint.Entry `json:"version"`
}

// entryPointsResponse is the body of the versioned API root.
type entryPointsResponse struct {
	EntryPoint []entrypoint.Entry `json:"entry_point"`
}

// negotiateVersion queries the unauthenticated discovery endpoint and
// selects the numerically highest version the server supports.
func negotiateVersion(ctx context.Context, clt *http.Client, address string) (string, error) {
	var body versionsResponse
	if err := getJSON(ctx, clt, fmt.Sprintf("%v/%v", strings.TrimRight(address, "/"), smc.APIPrefix), &body); err != nil {
		return "", trace.Wrap(err)
	}

	var best string
	var bestValue float64
	for _, entry := range body.Version {
		value, err := strconv.ParseFloat(entry.Rel, 64)
		if err != nil {
			continue
		}
		if best == "" || value > bestValue {
			best, bestValue = entry.Rel, value
		}
	}
	if best == "" {
		return "", trace.ConnectionProblem(nil,
			"version discovery at %v returned no usable versions", address)
	}
	return best, nil
}

// fetchEntryPoints queries the versioned API root and returns the entry
// point directory for that version.
func fetchEntryPoints(ctx context.Context, clt *http.Client, address, version string) (entrypoint.Directory, error) {
	var body entryPointsResponse
	url := fmt.Sprintf("%v/%v/%v", strings.TrimRight(address, "/"), version, smc.APIPrefix)
	if err := getJSON(ctx, clt, url, &body); err != nil {
		return entrypoint.Directory{}, trace.Wrap(err)
	}
	if len(body.EntryPoint) == 0 {
		return entrypoint.Directory{}, trace.ConnectionProblem(nil,
			"the api root at %v returned no entry points", url)
	}
	return entrypoint.NewDirectory(body.EntryPoint, version), nil
}

// getJSON performs one unauthenticated GET and decodes the JSON body.
// Transport and decoding errors are reported as connection problems: they
// happen before any session exists and indicate the server address or
// version is wrong.
func getJSON(ctx context.Context, clt *http.Client, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return trace.Wrap(err)
	}
	resp, err := clt.Do(req)
	if err != nil {
		return trace.ConnectionProblem(err, "failed to reach the management API at %v", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return trace.ConnectionProblem(nil,
			"unexpected response from %v: HTTP status code %v", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return trace.ConnectionProblem(err, "the management API at %v did not return json", url)
	}
	return nil
}
