// Package providers contains built-in bank adapter implementations. Real
// deployments implement the provider port against their core banking system
// and register it by provider code; the sandbox adapter ships canned data
// for tests and demos.
package providers
