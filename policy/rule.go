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

// Rule is a proxy for one access rule of a policy. Its match fields and
// option blocks are views over the same buffered data, so any combination
// of edits lands on the server in a single Save.
type Rule struct {
	*element.Element
	mode ResolveMode
}

// RuleFromHref returns a rule proxy for a known address.
func RuleFromHref(clt *client.Client, href string, mode ResolveMode) *Rule {
	return &Rule{Element: element.FromHref(clt, href), mode: mode}
}

// RuleFromMeta returns a rule proxy from listing metadata.
func RuleFromMeta(clt *client.Client, meta element.Meta, mode ResolveMode) *Rule {
	return &Rule{Element: element.FromMeta(clt, meta), mode: mode}
}

// Sources returns the source match field.
func (r *Rule) Sources(ctx context.Context) (*RuleField, error) {
	return r.field(ctx, "sources", "src")
}

// Destinations returns the destination match field.
func (r *Rule) Destinations(ctx context.Context) (*RuleField, error) {
	return r.field(ctx, "destinations", "dst")
}

// Services returns the service match field.
func (r *Rule) Services(ctx context.Context) (*RuleField, error) {
	return r.field(ctx, "services", "service")
}

func (r *Rule) field(ctx context.Context, field, key string) (*RuleField, error) {
	view, err := r.NestedField(ctx, field)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return newRuleField(r.Client(), view, key, r.mode), nil
}

// Action returns the rule's action block.
func (r *Rule) Action(ctx context.Context) (Action, error) {
	view, err := r.NestedField(ctx, "action")
	if err != nil {
		return Action{}, trace.Wrap(err)
	}
	return Action{view}, nil
}

// Options returns the rule's log options block.
func (r *Rule) Options(ctx context.Context) (LogOptions, error) {
	view, err := r.NestedField(ctx, "options")
	if err != nil {
		return LogOptions{}, trace.Wrap(err)
	}
	return LogOptions{view}, nil
}

// ConnectionTracking returns the connection tracking block nested inside
// the rule's options.
func (r *Rule) ConnectionTracking(ctx context.Context) (ConnectionTracking, error) {
	options, err := r.Options(ctx)
	if err != nil {
		return ConnectionTracking{}, trace.Wrap(err)
	}
	block, ok := options.Get("connection_tracking").(map[string]interface{})
	if !ok {
		block = map[string]interface{}{}
		options.Set("connection_tracking", block)
	}
	return ConnectionTracking{element.WrapNested(block)}, nil
}

// IsDisabled reports whether the rule is switched off.
func (r *Rule) IsDisabled(ctx context.Context) (bool, error) {
	return r.GetBool(ctx, "is_disabled")
}

// SetDisabled buffers the rule's disabled state.
func (r *Rule) SetDisabled(ctx context.Context, disabled bool) error {
	return r.SetField(ctx, "is_disabled", disabled)
}

// Comment returns the rule comment.
func (r *Rule) Comment(ctx context.Context) (string, error) {
	return r.GetString(ctx, "comment")
}

// SetComment buffers a new rule comment.
func (r *Rule) SetComment(ctx context.Context, comment string) error {
	return r.SetField(ctx, "comment", comment)
}

// Save writes all buffered rule edits back in one conditional update.
func (r *Rule) Save(ctx context.Context) error {
	return trace.Wrap(r.Commit(ctx))
}

// Action is the view over a rule's action block.
type Action struct {
	element.NestedMap
}

// Verdict returns the rule verdict ("allow", "discard", "refuse", ...).
func (a Action) Verdict() string {
	return a.GetString("action")
}

// SetVerdict buffers a new rule verdict.
func (a Action) SetVerdict(verdict string) {
	a.Set("action", verdict)
}

// DeepInspection reports whether traffic hitting the rule goes through
// deep inspection.
func (a Action) DeepInspection() bool {
	return a.GetBool("deep_inspection")
}

// SetDeepInspection buffers the deep inspection toggle.
func (a Action) SetDeepInspection(enabled bool) {
	a.Set("deep_inspection", enabled)
}

// LogOptions is the view over a rule's logging options block.
type LogOptions struct {
	element.NestedMap
}

// LogLevel returns the configured log level ("none", "stored", "alert").
func (o LogOptions) LogLevel() string {
	return o.GetString("log_level")
}

// SetLogLevel buffers a new log level.
func (o LogOptions) SetLogLevel(level string) {
	o.Set("log_level", level)
}

// LogAccounting reports whether accounting records are collected on
// connection close.
func (o LogOptions) LogAccounting() bool {
	return o.GetBool("log_accounting_info_mode")
}

// SetLogAccounting buffers the accounting toggle.
func (o LogOptions) SetLogAccounting(enabled bool) {
	o.Set("log_accounting_info_mode", enabled)
}

// ConnectionTracking is the view over a rule's connection tracking block.
type ConnectionTracking struct {
	element.NestedMap
}

// Timeout returns the idle timeout in seconds, zero when the engine
// default applies.
func (c ConnectionTracking) Timeout() int {
	return c.GetInt("timeout")
}

// SetTimeout buffers a new idle timeout in seconds.
func (c ConnectionTracking) SetTimeout(seconds int) {
	c.Set("timeout", seconds)
}

// MSSEnforced reports whether TCP MSS enforcement is on.
func (c ConnectionTracking) MSSEnforced() bool {
	return c.GetBool("mss_enforced")
}

// SetMSSEnforced buffers the MSS enforcement toggle.
func (c ConnectionTracking) SetMSSEnforced(enabled bool) {
	c.Set("mss_enforced", enabled)
}
