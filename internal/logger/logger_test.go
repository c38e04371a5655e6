package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestConfigureJSON(t *testing.T) {
	var buf bytes.Buffer
	Configure("debug", "json", &buf)
	t.Cleanup(func() { Configure("", "", nil) })

	With("store").Debug("cache_open_ok", "path", "/tmp/mac.db")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "cache_open_ok", rec["msg"])
	assert.Equal(t, "store", rec["component"])
	assert.Equal(t, "/tmp/mac.db", rec["path"])
}

func TestConfigureFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	Configure("warn", "text", &buf)
	t.Cleanup(func() { Configure("", "", nil) })

	L().Info("hidden")
	assert.Empty(t, buf.String())
	L().Warn("shown")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestTransportLogsFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	l := Configure("debug", "text", &buf)
	t.Cleanup(func() { Configure("", "", nil) })

	client := &http.Client{Transport: Transport(l, srv.Client().Transport)}
	resp, err := client.Get(srv.URL + "/db?token=secret")
	require.NoError(t, err)
	resp.Body.Close()

	out := buf.String()
	assert.Contains(t, out, "msg=http_fetch")
	assert.Contains(t, out, "status=200")
	assert.NotContains(t, out, "secret")
}
