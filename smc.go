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

// Package smc holds constants shared by the SMC client packages.
package smc

const (
	// ComponentKey is the attribute key used to report the component
	// emitting a log entry.
	ComponentKey = "smc_component"

	// ComponentClient is the session manager and its transport.
	ComponentClient = "client"

	// ComponentElement is the remote element proxy machinery.
	ComponentElement = "element"

	// ComponentTask is the asynchronous task follower.
	ComponentTask = "task"
)

const (
	// APIPrefix is the path component shared by the unauthenticated
	// discovery endpoints: "<address>/api" lists supported versions and
	// "<address>/<version>/api" lists the entry points of that version.
	APIPrefix = "api"

	// ContentTypeJSON is the content type spoken by the management API.
	ContentTypeJSON = "application/json"

	// ETagHeader carries the optimistic concurrency token on element
	// reads.
	ETagHeader = "ETag"

	// IfMatchHeader carries the concurrency token back on element writes
	// so the server can reject stale updates.
	IfMatchHeader = "If-Match"
)
