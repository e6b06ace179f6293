package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const _testConfig = `
log_level: error
server:
  addr: "127.0.0.1:0"
  shutdown_timeout: 1s
ledger:
  starting_cash:
    currency: USD
    value: 10000
  store_timeout: 1s
store:
  backend: %s
  redis:
    addr: 127.0.0.1:1
    key_prefix: test
quotes:
  provider: static
refresh:
  enabled: true
  schedule: "@every 1h"
  timeout: 1s
`

func writeConfig(t *testing.T, backend string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(_testConfig, backend)), 0o600))
	return path
}

func TestRun_MissingConfig(t *testing.T) {
	err := run(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "can't load service cfg")
}

func TestRun_StoreInitFailureReturns(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := run(ctx, writeConfig(t, "redis"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "can't init redis store")
}

func TestRun_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, writeConfig(t, "memory")) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
