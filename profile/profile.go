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

// Package profile handles persisted management server connection settings.
//
// A profile stores the address, API key and optional version pin used by
// client.Login when the caller does not supply them explicitly. Settings are
// read from environment variables first and fall back to a YAML file in the
// profile directory.
package profile

import (
	"os"
	"path/filepath"
	"time"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v2"

	"github.com/stonegate/smc-go/defaults"
)

// profileName is the file the profile is stored in inside the profile
// directory.
const profileName = "profile.yaml"

// Profile is a saved set of connection settings for one management server.
type Profile struct {
	// Address is the base URL of the management server, e.g.
	// "https://smc.example.com:8082".
	Address string `yaml:"address"`

	// APIKey is the authentication key generated for the API client on
	// the management server.
	APIKey string `yaml:"api_key"`

	// Version optionally pins the API version instead of negotiating the
	// highest supported one at login.
	Version string `yaml:"api_version,omitempty"`

	// Timeout bounds the initial discovery and login requests.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// CheckAndSetDefaults validates the profile.
func (p *Profile) CheckAndSetDefaults() error {
	if p.Address == "" {
		return trace.BadParameter("missing Address")
	}
	if p.APIKey == "" {
		return trace.BadParameter("missing APIKey")
	}
	if p.Timeout == 0 {
		p.Timeout = defaults.LoginTimeout
	}
	return nil
}

// FromEnv reads a profile from environment variables. It returns nil when
// the environment does not carry a complete profile.
func FromEnv() *Profile {
	addr := os.Getenv(defaults.AddressEnvar)
	key := os.Getenv(defaults.APIKeyEnvar)
	if addr == "" || key == "" {
		return nil
	}
	return &Profile{
		Address: addr,
		APIKey:  key,
		Version: os.Getenv(defaults.VersionEnvar),
	}
}

// Load returns the current connection settings: environment variables take
// precedence, then the profile file in dir (or the default profile
// directory when dir is empty). A trace.NotFound error is returned when no
// usable settings exist anywhere.
func Load(dir string) (*Profile, error) {
	if p := FromEnv(); p != nil {
		if err := p.CheckAndSetDefaults(); err != nil {
			return nil, trace.Wrap(err)
		}
		return p, nil
	}

	dir, err := profileDir(dir)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return FromFile(filepath.Join(dir, profileName))
}

// FromFile reads a profile from the given YAML file.
func FromFile(path string) (*Profile, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, trace.NotFound(
				"no stored connection profile at %v, run login with an address and api key first", path)
		}
		return nil, trace.ConvertSystemError(err)
	}
	var p Profile
	if err := yaml.Unmarshal(bytes, &p); err != nil {
		return nil, trace.BadParameter("failed parsing profile %v: %v", path, err)
	}
	if err := p.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &p, nil
}

// Save writes the profile to dir (or the default profile directory when dir
// is empty). The file carries the API key, so it is written 0600.
func Save(p *Profile, dir string) error {
	if err := p.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	dir, err := profileDir(dir)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return trace.ConvertSystemError(err)
	}
	bytes, err := yaml.Marshal(p)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := os.WriteFile(filepath.Join(dir, profileName), bytes, 0o600); err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}

// profileDir resolves the directory profiles are stored in, honoring the
// override environment variable.
func profileDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	if dir := os.Getenv(defaults.ProfileDirEnvar); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", trace.ConvertSystemError(err)
	}
	return filepath.Join(home, defaults.ProfileDir), nil
}
