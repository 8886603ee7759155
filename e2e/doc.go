//go:build e2e

// Package e2e provides end-to-end conference tests driven through real
// Chrome browsers.
//
// These tests are isolated from the standard test suite via build tags.
// They require a Chrome browser (auto-downloaded by Rod if not present)
// and are intended for CI pipelines or explicit local testing.
//
// Running E2E tests:
//
//	go test -tags=e2e ./e2e/...
//
// Running against a deployed server instead of the in-process fixture:
//
//	MEETSUITE_BASE_URL=https://meet.example.com go test -tags=e2e ./e2e/...
//
// Running all tests except E2E:
//
//	go test ./...
//
// Test isolation:
// Each test starts its own fixture server on a random port and its own
// orchestrator, so every browser belongs to exactly one test. Failed tests
// leave screenshots under the artifacts directory.
package e2e
