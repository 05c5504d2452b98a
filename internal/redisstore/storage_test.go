package redisstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimode/emailverify/internal/redisstore"
)

var _ fiber.Storage = (*redisstore.Storage)(nil)

// liveStorage connects to the server named by REDIS_TEST_ADDR.
func liveStorage(t *testing.T) *redisstore.Storage {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	s := redisstore.New(redisstore.Config{Addr: addr, Prefix: "emailverify-test:"})
	require.NoError(t, s.Ping(context.Background()))
	t.Cleanup(func() {
		_ = s.Reset()
		_ = s.Close()
	})
	return s
}

func TestStorage_RoundTrip(t *testing.T) {
	s := liveStorage(t)

	val, err := s.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, val)

	require.NoError(t, s.Set("k", []byte("v"), time.Minute))
	val, err = s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, s.Delete("k"))
	val, err = s.Get("k")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestStorage_ResetKeepsOtherPrefixes(t *testing.T) {
	s := liveStorage(t)
	other := s.WithPrefix("emailverify-test-other:")
	t.Cleanup(func() { _ = other.Reset() })

	require.NoError(t, s.Set("a", []byte("1"), time.Minute))
	require.NoError(t, other.Set("a", []byte("2"), time.Minute))
	require.NoError(t, s.Reset())

	val, _ := s.Get("a")
	assert.Nil(t, val)
	val, _ = other.Get("a")
	assert.Equal(t, []byte("2"), val)
}

func TestStorage_WithPrefixSharesClient(t *testing.T) {
	s := redisstore.New(redisstore.Config{Addr: "127.0.0.1:1", Prefix: "app:"})
	defer func() { _ = s.Close() }()

	other := s.WithPrefix("app:limiter:")
	assert.Equal(t, "app:", s.Prefix())
	assert.Equal(t, "app:limiter:", other.Prefix())
}

func TestStorage_EmptyKeyIsNoop(t *testing.T) {
	// No server needed: empty keys never reach the client.
	s := redisstore.New(redisstore.Config{Addr: "127.0.0.1:1"})
	defer func() { _ = s.Close() }()

	val, err := s.Get("")
	assert.NoError(t, err)
	assert.Nil(t, val)
	assert.NoError(t, s.Set("", []byte("x"), 0))
	assert.NoError(t, s.Delete(""))
}

func TestStorage_Unreachable(t *testing.T) {
	s := redisstore.New(redisstore.Config{Addr: "127.0.0.1:1"})
	defer func() { _ = s.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, s.Ping(ctx))
	_, err := s.Get("k")
	assert.Error(t, err)
}
