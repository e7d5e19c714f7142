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

// Package policy works with firewall policies and their access rules.
//
// Rules expose their match fields through tri-state wrappers that keep the
// "match everything" and "match nothing" markers and the explicit element
// list mutually exclusive, and buffer every edit until the rule is saved.
package policy

import (
	"context"
	"encoding/json"

	"github.com/gravitational/trace"

	"github.com/stonegate/smc-go/client"
	"github.com/stonegate/smc-go/element"
)

// FirewallPolicyType is the element type of a firewall policy.
const FirewallPolicyType = "fw_policy"

// ipv4RulesRel is the resource link listing a policy's IPv4 access rules.
const ipv4RulesRel = "fw_ipv4_access_rules"

// FirewallPolicy is a proxy for one firewall policy and the access rules
// under it.
type FirewallPolicy struct {
	*element.Element

	// Mode controls how the rules of this policy resolve named
	// elements. Zero value is best-effort.
	Mode ResolveMode
}

// NewFirewallPolicy returns a lazily resolved proxy for a named policy.
func NewFirewallPolicy(clt *client.Client, name string) *FirewallPolicy {
	return &FirewallPolicy{Element: element.New(clt, name, FirewallPolicyType)}
}

// CreateFirewallPolicy creates a policy from the given template and
// returns its proxy.
func CreateFirewallPolicy(ctx context.Context, clt *client.Client, name, template string) (*FirewallPolicy, error) {
	fields := map[string]interface{}{"name": name}
	if template != "" {
		templateHref, err := element.ResolveHref(ctx, element.New(clt, template, "fw_template_policy"))
		if err != nil {
			return nil, trace.Wrap(err)
		}
		fields["template"] = templateHref
	}
	created, err := element.Create(ctx, clt, FirewallPolicyType, fields)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &FirewallPolicy{Element: created}, nil
}

// rulesResponse is the envelope returned by a rule listing.
type rulesResponse struct {
	Result []element.Meta `json:"result"`
}

// Rules lists the policy's IPv4 access rules in policy order. The
// returned proxies are unloaded.
func (p *FirewallPolicy) Rules(ctx context.Context) ([]*Rule, error) {
	href, err := p.Relation(ctx, ipv4RulesRel)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	resp, err := client.ConvertResponse(p.Client().Get(ctx, href, nil))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var body rulesResponse
	if err := json.Unmarshal(resp.Bytes(), &body); err != nil {
		return nil, trace.BadParameter("failed to decode rule listing: %v", err)
	}
	rules := make([]*Rule, 0, len(body.Result))
	for _, meta := range body.Result {
		rules = append(rules, RuleFromMeta(p.Client(), meta, p.Mode))
	}
	return rules, nil
}

// AddRule appends a new access rule to the policy. The fields map may
// carry initial match fields and options; omitted match fields match
// nothing until set. The returned proxy points at the created rule.
func (p *FirewallPolicy) AddRule(ctx context.Context, name string, fields map[string]interface{}) (*Rule, error) {
	href, err := p.Relation(ctx, ipv4RulesRel)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	body := map[string]interface{}{"name": name}
	for field, value := range fields {
		body[field] = value
	}
	resp, err := client.ConvertResponse(p.Client().PostJSON(ctx, href, body))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	location := resp.Headers().Get("Location")
	if location == "" {
		return nil, trace.BadParameter("server accepted rule %q but returned no location", name)
	}
	return RuleFromHref(p.Client(), location, p.Mode), nil
}
