package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimode/emailverify"
	"github.com/optimode/emailverify/internal/redisstore"
)

// cleanEnv runs the test in an empty directory so no .env is picked up.
func cleanEnv(t *testing.T) {
	t.Helper()
	chdir(t, t.TempDir())
	for _, k := range []string{"PORT", "LOG_LEVEL", "LISTS_FILE", "REDIS_ADDR", "SENTRY_DSN"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeResults(t *testing.T, out string) []emailverify.Result {
	t.Helper()
	dec := json.NewDecoder(bytes.NewBufferString(out))
	var results []emailverify.Result
	for {
		var r emailverify.Result
		err := dec.Decode(&r)
		if errors.Is(err, io.EOF) {
			return results
		}
		require.NoError(t, err)
		results = append(results, r)
	}
}

func TestCheck(t *testing.T) {
	cleanEnv(t)

	// Neither address reaches the network: one fails syntax, the other
	// is on the default deny list.
	out, err := run(t, "check", "not-an-email", "someone@invalid.com")
	require.NoError(t, err)

	results := decodeResults(t, out)
	require.Len(t, results, 2)

	assert.Equal(t, "not-an-email", results[0].Email)
	assert.Equal(t, emailverify.ReasonInvalidFormat, results[0].Reason)
	assert.Equal(t, "Not checked", results[0].Steps.SMTP.Details)

	assert.Equal(t, "someone@invalid.com", results[1].Email)
	assert.Equal(t, emailverify.ReasonNoMailServers, results[1].Reason)
	assert.True(t, results[1].Steps.Syntax.Passed)
}

func TestCheck_RequiresAddress(t *testing.T) {
	cleanEnv(t)
	_, err := run(t, "check")
	assert.Error(t, err)
}

func TestCheck_ListsFileFlag(t *testing.T) {
	cleanEnv(t)
	path := filepath.Join(t.TempDir(), "lists.yaml")
	require.NoError(t, os.WriteFile(path, []byte("deny_domains: [blocked.test]\n"), 0o600))

	out, err := run(t, "--lists-file", path, "check", "a@blocked.test")
	require.NoError(t, err)

	results := decodeResults(t, out)
	require.Len(t, results, 1)
	assert.Equal(t, emailverify.ReasonNoMailServers, results[0].Reason)
	assert.Equal(t, "No mail servers found for blocked.test", results[0].Steps.MXRecord.Details)
}

func TestLoadConfig_Flags(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantPort  string
		wantLevel string
		wantErr   string
	}{
		{
			name:      "environment without flags",
			wantPort:  "4000",
			wantLevel: "info",
		},
		{
			name:      "flags override environment",
			args:      []string{"--port", "9000", "--log-level", "debug"},
			wantPort:  "9000",
			wantLevel: "debug",
		},
		{
			name:    "invalid flag value",
			args:    []string{"--log-level", "loud"},
			wantErr: "LogLevel",
		},
		{
			name:    "missing lists file",
			args:    []string{"--lists-file", "/does/not/exist.yaml"},
			wantErr: "ListsFile",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanEnv(t)
			t.Setenv("PORT", "4000")

			root := newRootCmd()
			require.NoError(t, root.ParseFlags(tt.args))

			cfg, err := loadConfig(root)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPort, cfg.Port)
			assert.Equal(t, tt.wantLevel, cfg.LogLevel)
		})
	}
}

func TestNamespaces(t *testing.T) {
	// go-redis connects lazily, so no server is needed.
	store := redisstore.New(redisstore.Config{Addr: "127.0.0.1:1", Prefix: redisPrefix})
	defer func() { _ = store.Close() }()

	mx, limiter := namespaces(store)
	assert.Equal(t, "emailverify:dns:", mx.Prefix())
	assert.Equal(t, "emailverify:limiter:", limiter.Prefix())
	assert.Equal(t, redisPrefix, store.Prefix())
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
