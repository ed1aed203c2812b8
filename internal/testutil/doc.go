// Package testutil provides shared fixtures for the package tests: a quiet
// logger, a mock clock pinned to a known instant, and a store whose every
// call fails.
package testutil
