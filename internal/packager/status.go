// Package packager provides the reachability check for the Metro debug
// proxy ("packager"). The packager answers GET /status with a well-known
// marker string while it is serving bundles.
package packager

import (
	"context"
	"fmt"
	"strings"

	"github.com/ruslan-bikkinin/vscode-react-native/internal/fetch"
)

// statusMarker is the body substring a live packager reports on /status.
const statusMarker = "packager-status:running"

// Checker reports whether a packager is reachable.
type Checker interface {
	IsRunning(ctx context.Context, host string, port int) bool
}

// Status checks packager reachability over HTTP.
type Status struct {
	client *fetch.Client
}

// NewStatus creates a reachability checker backed by the bridge HTTP client.
func NewStatus(client *fetch.Client) *Status {
	return &Status{client: client}
}

// IsRunning probes http://{host}:{port}/status for the running marker.
// Any transport fault or unexpected body reads as "not running".
func (s *Status) IsRunning(ctx context.Context, host string, port int) bool {
	url := fmt.Sprintf("http://%s:%d/status", host, port)
	body, err := s.client.Request(ctx, url, false)
	if err != nil {
		return false
	}
	return strings.Contains(body, statusMarker)
}

// NotRunningError builds the user-facing error for an unreachable packager.
// The message names the configured port so the user can fix or override it.
func NotRunningError(port int) error {
	return fmt.Errorf(
		"cannot attach to the packager: no packager is responding on port %d; "+
			"start the packager or change the configured packager port", port)
}
