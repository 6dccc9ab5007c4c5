package packager

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruslan-bikkinin/vscode-react-native/internal/fetch"
)

// splitHostPort extracts host and numeric port from an httptest server URL.
func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(rawURL[len("http://"):])
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestIsRunningWithLivePackager(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		w.Write([]byte("packager-status:running"))
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	status := NewStatus(fetch.NewClient())
	assert.True(t, status.IsRunning(context.Background(), host, port))
}

func TestIsRunningWithWrongMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("something else entirely"))
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	status := NewStatus(fetch.NewClient())
	assert.False(t, status.IsRunning(context.Background(), host, port))
}

func TestIsRunningWithDeadPort(t *testing.T) {
	status := NewStatus(fetch.NewClient())
	assert.False(t, status.IsRunning(context.Background(), "127.0.0.1", 1))
}

func TestNotRunningErrorNamesPort(t *testing.T) {
	err := NotRunningError(8081)
	assert.Contains(t, err.Error(), "8081")
}
