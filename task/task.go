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

// Package task follows long-running server-side operations.
//
// Triggering an operation returns a follower address; a Task polls that
// address and exposes the progression as a lazy status sequence, so a
// caller can range over it until the operation resolves or give up at any
// point without leaking a poll loop.
package task

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/stonegate/smc-go"
	"github.com/stonegate/smc-go/client"
	"github.com/stonegate/smc-go/defaults"
)

var log = slog.With(smc.ComponentKey, smc.ComponentTask)

// Status is one observation of a running operation.
type Status struct {
	// InProgress is true until the operation resolves.
	InProgress bool `json:"in_progress"`
	// Success is meaningful once InProgress turns false.
	Success bool `json:"success"`
	// LastMessage is the server's progress or failure message.
	LastMessage string `json:"last_message"`
	// Progress is a completion percentage, when the server reports one.
	Progress int `json:"progress"`
	// Resource lists addresses produced by the operation.
	Resource []string `json:"resource"`
	// Follower is the address to keep polling.
	Follower string `json:"follower"`
}

// ResultHref returns the first produced resource address, empty when the
// operation produced none (yet).
func (s Status) ResultHref() string {
	if len(s.Resource) == 0 {
		return ""
	}
	return s.Resource[0]
}

// Config configures a task follower.
type Config struct {
	// Client is the authenticated session to poll through.
	Client *client.Client
	// Href is the follower address.
	Href string
	// PollInterval is the initial delay between polls.
	PollInterval time.Duration
	// MaxPollInterval caps the growing delay between polls.
	MaxPollInterval time.Duration
	// Clock overrides the wall clock in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Client == nil {
		return trace.BadParameter("missing parameter Client")
	}
	if c.Href == "" {
		return trace.BadParameter("missing parameter Href")
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.MaxPollInterval == 0 {
		c.MaxPollInterval = defaults.MaxPollInterval
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Task polls one follower address.
type Task struct {
	cfg Config
}

// Follow returns a task for an already known follower address.
func Follow(cfg Config) (*Task, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Task{cfg: cfg}, nil
}

// Start triggers the operation behind cfg.Href and returns a task
// following it. The trigger response must carry a follower address.
func Start(ctx context.Context, cfg Config) (*Task, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	resp, err := client.ConvertResponse(cfg.Client.PostJSON(ctx, cfg.Href, map[string]interface{}{}))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var status Status
	if err := json.Unmarshal(resp.Bytes(), &status); err != nil {
		return nil, trace.BadParameter("failed to decode task trigger response: %v", err)
	}
	if status.Follower == "" {
		return nil, trace.NotFound("operation at %v did not return a follower to poll", cfg.Href)
	}
	log.DebugContext(ctx, "Started task.", "follower", status.Follower)
	cfg.Href = status.Follower
	return &Task{cfg: cfg}, nil
}

// Href returns the follower address being polled.
func (t *Task) Href() string {
	return t.cfg.Href
}

// Poll fetches the current status once.
func (t *Task) Poll(ctx context.Context) (Status, error) {
	resp, err := client.ConvertResponse(t.cfg.Client.Get(ctx, t.cfg.Href, nil))
	if err != nil {
		return Status{}, trace.Wrap(err)
	}
	var status Status
	if err := json.Unmarshal(resp.Bytes(), &status); err != nil {
		return Status{}, trace.BadParameter("failed to decode task status: %v", err)
	}
	return status, nil
}

// Watch returns a lazy status sequence. With wait false it yields the
// follower address as a single unresolved status, without contacting the
// server, and stops. With wait true it keeps polling with a linearly
// growing delay until the operation resolves: a successful final status is
// yielded with a nil error, a failed one with an error carrying the
// server's last message. Breaking out of the range or cancelling the
// context stops the polling.
func (t *Task) Watch(ctx context.Context, wait bool) iter.Seq2[Status, error] {
	return func(yield func(Status, error) bool) {
		if !wait {
			yield(Status{InProgress: true, Follower: t.cfg.Href}, nil)
			return
		}
		interval := t.cfg.PollInterval
		for {
			status, err := t.Poll(ctx)
			if err != nil {
				yield(Status{}, trace.Wrap(err))
				return
			}
			if !status.InProgress {
				if status.Success {
					yield(status, nil)
				} else {
					yield(status, trace.Errorf("task failed: %v", status.LastMessage))
				}
				return
			}
			if !yield(status, nil) {
				return
			}
			select {
			case <-ctx.Done():
				yield(Status{}, trace.Wrap(ctx.Err()))
				return
			case <-t.cfg.Clock.After(interval):
			}
			if interval < t.cfg.MaxPollInterval {
				interval += t.cfg.PollInterval
				if interval > t.cfg.MaxPollInterval {
					interval = t.cfg.MaxPollInterval
				}
			}
		}
	}
}

// Wait blocks until the operation resolves and returns its final status.
func (t *Task) Wait(ctx context.Context) (Status, error) {
	var last Status
	for status, err := range t.Watch(ctx, true) {
		if err != nil {
			return Status{}, trace.Wrap(err)
		}
		last = status
	}
	return last, nil
}
