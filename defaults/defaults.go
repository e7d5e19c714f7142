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

// Package defaults contains default constants used across the SMC client
// packages.
package defaults

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"time"
)

const (
	// ManagementPort is the port the management API listens on unless
	// configured otherwise.
	ManagementPort = 8082

	// LoginTimeout bounds the initial unauthenticated discovery and login
	// requests.
	LoginTimeout = 10 * time.Second

	// PollInterval is the initial delay between two polls of an
	// asynchronous task follower.
	PollInterval = time.Second

	// MaxPollInterval caps the backoff between follower polls.
	MaxPollInterval = 5 * time.Second

	// MaxAuthFailures is the number of consecutive HTTP 401 responses
	// tolerated before re-authentication gives up. It guards against
	// retry loops when stored credentials are no longer valid.
	MaxAuthFailures = 2
)

const (
	// AddressEnvar overrides the stored management server address.
	AddressEnvar = "SMC_ADDRESS"

	// APIKeyEnvar overrides the stored API key.
	APIKeyEnvar = "SMC_API_KEY"

	// VersionEnvar pins the API version instead of negotiating one.
	VersionEnvar = "SMC_API_VERSION"

	// ProfileDirEnvar overrides the directory the connection profile is
	// read from.
	ProfileDirEnvar = "SMC_PROFILE_DIR"
)

// ProfileDir is the directory under the user home where connection
// settings are stored.
const ProfileDir = ".smcrc.d"

// HTTPClient returns an HTTP client for talking to the management server.
// Appliances commonly run self-signed certificates, so callers may opt in
// to skipping verification or supply their own root pool.
func HTTPClient(insecure bool, pool *x509.CertPool, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				RootCAs:            pool,
				InsecureSkipVerify: insecure,
			},
		},
	}
}
