// Package packagertest provides an in-process fake of the Metro packager
// for tests: the /status probe, the /debugger-proxy websocket endpoint, the
// debuggerWorker.js bootstrap, and ETag-aware bundle routes.
package packagertest

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// bundle is one served bundle route.
type bundle struct {
	body string
	etag string
}

// Packager is a fake debug proxy. Zero-value routes answer sensibly; bundles
// are registered per test.
type Packager struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	running  bool
	worker   string
	bundles  map[string]*bundle
	received []map[string]any
	conn     *websocket.Conn
	connCh   chan struct{}
}

// New starts a fake packager. It reports running and serves an empty
// bootstrap script until configured otherwise.
func New(t *testing.T) *Packager {
	t.Helper()
	gin.SetMode(gin.TestMode)

	p := &Packager{
		t:       t,
		running: true,
		worker:  "// bootstrap\n",
		bundles: make(map[string]*bundle),
		connCh:  make(chan struct{}, 1),
	}

	router := gin.New()
	router.GET("/status", p.handleStatus)
	router.GET("/debugger-proxy", p.handleDebuggerProxy)
	router.GET("/debuggerWorker.js", p.handleWorker)
	router.NoRoute(p.handleBundle)

	p.srv = httptest.NewServer(router)
	t.Cleanup(p.Close)
	return p
}

// Close shuts the fake down.
func (p *Packager) Close() {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	p.srv.Close()
}

// Host returns the listen host.
func (p *Packager) Host() string {
	host, _, err := net.SplitHostPort(p.srv.Listener.Addr().String())
	require.NoError(p.t, err)
	return host
}

// Port returns the listen port.
func (p *Packager) Port() int {
	_, portStr, err := net.SplitHostPort(p.srv.Listener.Addr().String())
	require.NoError(p.t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(p.t, err)
	return port
}

// URL returns the fake's base URL.
func (p *Packager) URL() string {
	return p.srv.URL
}

// SetRunning controls the /status answer.
func (p *Packager) SetRunning(running bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = running
}

// SetWorkerScript sets the debuggerWorker.js body.
func (p *Packager) SetWorkerScript(source string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.worker = source
}

// ServeBundle registers a bundle route with an ETag.
func (p *Packager) ServeBundle(path, body, etag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bundles[path] = &bundle{body: body, etag: etag}
}

// Send pushes one message to the connected debugger.
func (p *Packager) Send(msg map[string]any) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	require.NotNil(p.t, conn, "no debugger connected")
	return conn.WriteJSON(msg)
}

// CloseClient closes the debugger connection with a close frame carrying
// reason, simulating a proxy-side drop.
func (p *Packager) CloseClient(reason string) {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()
	require.NotNil(p.t, conn, "no debugger connected")

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second))
	conn.Close()
}

// Received returns a snapshot of the frames the debugger sent.
func (p *Packager) Received() []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]map[string]any, len(p.received))
	copy(out, p.received)
	return out
}

// WaitConnect blocks until a debugger attaches.
func (p *Packager) WaitConnect() <-chan struct{} {
	return p.connCh
}

func (p *Packager) handleStatus(c *gin.Context) {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		c.String(http.StatusServiceUnavailable, "packager-status:stopped")
		return
	}
	c.String(http.StatusOK, "packager-status:running")
}

func (p *Packager) handleDebuggerProxy(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	select {
	case p.connCh <- struct{}{}:
	default:
	}

	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		p.mu.Lock()
		p.received = append(p.received, msg)
		p.mu.Unlock()
	}
}

func (p *Packager) handleWorker(c *gin.Context) {
	p.mu.Lock()
	source := p.worker
	p.mu.Unlock()
	c.String(http.StatusOK, source)
}

func (p *Packager) handleBundle(c *gin.Context) {
	p.mu.Lock()
	b, ok := p.bundles[c.Request.URL.Path]
	p.mu.Unlock()
	if !ok {
		c.String(http.StatusNotFound, "unknown bundle %s", c.Request.URL.Path)
		return
	}
	if b.etag != "" && c.GetHeader("If-None-Match") == b.etag {
		c.Status(http.StatusNotModified)
		return
	}
	if b.etag != "" {
		c.Header("ETag", b.etag)
	}
	c.String(http.StatusOK, b.body)
}
