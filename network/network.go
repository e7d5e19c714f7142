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

// Package network provides proxies for the common network and service
// elements referenced by rules: hosts, networks, groups and services.
package network

import (
	"context"

	"github.com/gravitational/trace"

	"github.com/stonegate/smc-go/client"
	"github.com/stonegate/smc-go/element"
)

// Element types of the common network and service elements.
const (
	HostType       = "host"
	NetworkType    = "network"
	GroupType      = "group"
	TCPServiceType = "tcp_service"
)

// Host is a proxy for a single-address host element.
type Host struct {
	*element.Element
}

// NewHost returns a lazily resolved proxy for a named host.
func NewHost(clt *client.Client, name string) *Host {
	return &Host{Element: element.New(clt, name, HostType)}
}

// CreateHost creates a host with the given address.
func CreateHost(ctx context.Context, clt *client.Client, name, address string) (*Host, error) {
	created, err := element.Create(ctx, clt, HostType, map[string]interface{}{
		"name":    name,
		"address": address,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Host{Element: created}, nil
}

// Address returns the host's IP address.
func (h *Host) Address(ctx context.Context) (string, error) {
	return h.GetString(ctx, "address")
}

// SetAddress buffers a new IP address.
func (h *Host) SetAddress(ctx context.Context, address string) error {
	return h.SetField(ctx, "address", address)
}

// Network is a proxy for a network element.
type Network struct {
	*element.Element
}

// NewNetwork returns a lazily resolved proxy for a named network.
func NewNetwork(clt *client.Client, name string) *Network {
	return &Network{Element: element.New(clt, name, NetworkType)}
}

// CreateNetwork creates a network element covering the given CIDR range.
func CreateNetwork(ctx context.Context, clt *client.Client, name, cidr string) (*Network, error) {
	created, err := element.Create(ctx, clt, NetworkType, map[string]interface{}{
		"name":         name,
		"ipv4_network": cidr,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Network{Element: created}, nil
}

// CIDR returns the network's IPv4 range.
func (n *Network) CIDR(ctx context.Context) (string, error) {
	return n.GetString(ctx, "ipv4_network")
}

// Group is a proxy for a group element holding references to other
// elements.
type Group struct {
	*element.Element
}

// NewGroup returns a lazily resolved proxy for a named group.
func NewGroup(clt *client.Client, name string) *Group {
	return &Group{Element: element.New(clt, name, GroupType)}
}

// CreateGroup creates a group holding the given members.
func CreateGroup(ctx context.Context, clt *client.Client, name string, members ...interface{}) (*Group, error) {
	hrefs := make([]interface{}, 0, len(members))
	for _, member := range members {
		href, err := element.ResolveHref(ctx, member)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		hrefs = append(hrefs, href)
	}
	created, err := element.Create(ctx, clt, GroupType, map[string]interface{}{
		"name":    name,
		"element": hrefs,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Group{Element: created}, nil
}

// Members returns unresolved proxies for the group's members.
func (g *Group) Members(ctx context.Context) ([]*element.Element, error) {
	return g.Refs(ctx, "element")
}

// TCPService is a proxy for a TCP service element.
type TCPService struct {
	*element.Element
}

// NewTCPService returns a lazily resolved proxy for a named TCP service.
func NewTCPService(clt *client.Client, name string) *TCPService {
	return &TCPService{Element: element.New(clt, name, TCPServiceType)}
}

// CreateTCPService creates a TCP service for the given destination port.
func CreateTCPService(ctx context.Context, clt *client.Client, name string, port int) (*TCPService, error) {
	created, err := element.Create(ctx, clt, TCPServiceType, map[string]interface{}{
		"name":         name,
		"min_dst_port": port,
		"max_dst_port": port,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &TCPService{Element: created}, nil
}

// Port returns the service's destination port.
func (s *TCPService) Port(ctx context.Context) (int, error) {
	value, err := s.Get(ctx, "min_dst_port")
	if err != nil {
		return 0, trace.Wrap(err)
	}
	switch v := value.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, nil
	}
}
