package debugger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ruslan-bikkinin/vscode-react-native/internal/fetch"
	"github.com/ruslan-bikkinin/vscode-react-native/internal/logging"
	"github.com/ruslan-bikkinin/vscode-react-native/internal/monitoring"
	"github.com/ruslan-bikkinin/vscode-react-native/internal/packager"
)

// debuggerWorkerFilename is the bootstrap script served from the packager
// document root.
const debuggerWorkerFilename = "debuggerWorker.js"

// sourceMapRef matches an embedded sourcemap reference line in a bundle.
// The last occurrence wins.
var sourceMapRef = regexp.MustCompile(`(?m)^//[#@] sourceMappingURL=(\S+)\s*$`)

// cachedScript remembers the last successfully imported bundle.
type cachedScript struct {
	sourceURL string
	localPath string
	etag      string
}

// ScriptImporter downloads the application bundle and its sourcemap from the
// packager, caching by ETag and rewriting references for local use.
type ScriptImporter struct {
	packagerHost string
	packagerPort int
	storagePath  string
	client       *fetch.Client
	checker      packager.Checker
	writer       FileWriter
	logger       *logging.Logger
	metrics      *monitoring.Metrics

	mu     sync.Mutex
	cached *cachedScript
}

// NewScriptImporter creates an importer caching into storagePath.
func NewScriptImporter(host string, port int, storagePath string, client *fetch.Client, checker packager.Checker, writer FileWriter, logger *logging.Logger, metrics *monitoring.Metrics) *ScriptImporter {
	return &ScriptImporter{
		packagerHost: host,
		packagerPort: port,
		storagePath:  storagePath,
		client:       client,
		checker:      checker,
		writer:       writer,
		logger:       logger.Named("importer"),
		metrics:      metrics,
	}
}

// DownloadAppScript fetches the bundle at scriptURL into the local cache and
// returns the local file path. A remembered ETag is revalidated first: on 304
// the cached file is returned without any write. A missing cache file forces
// a full fetch regardless of the remembered ETag.
func (i *ScriptImporter) DownloadAppScript(ctx context.Context, scriptURL string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	fetchURL, err := i.rewriteLocalhostPort(scriptURL)
	if err != nil {
		return "", err
	}

	localPath := filepath.Join(i.storagePath, path.Base(fetchURL.Path))

	etag := ""
	if i.cached != nil && i.cached.sourceURL == scriptURL {
		etag = i.cached.etag
	}
	// A vanished cache file invalidates the remembered ETag: a 304 with no
	// file behind it would serve nothing.
	if !i.writer.Exists(localPath) {
		etag = ""
		i.cached = nil
	}

	result, err := i.client.RequestWithEtag(ctx, fetchURL.String(), etag)
	if err != nil {
		i.countDownload(monitoring.DownloadError)
		return "", err
	}

	if result.NotModified() {
		i.logger.Debug("Bundle unchanged, serving cached copy",
			zap.String("url", scriptURL), zap.String("path", localPath))
		i.countDownload(monitoring.DownloadCached)
		return localPath, nil
	}

	body := i.relocateSourceMap(ctx, fetchURL, result.Body, localPath)

	if err := i.writer.WriteFile(localPath, []byte(body)); err != nil {
		i.countDownload(monitoring.DownloadError)
		return "", err
	}

	i.cached = &cachedScript{
		sourceURL: scriptURL,
		localPath: localPath,
		etag:      result.Etag,
	}
	i.logger.Info("Bundle downloaded",
		zap.String("url", scriptURL),
		zap.String("path", localPath),
		zap.String("etag", result.Etag))
	i.countDownload(monitoring.DownloadFresh)
	return localPath, nil
}

// DownloadDebuggerWorker fetches the bootstrap worker script from the
// packager root and returns its body. Fails with a port-specific error when
// the packager is unreachable.
func (i *ScriptImporter) DownloadDebuggerWorker(ctx context.Context) (string, error) {
	if !i.checker.IsRunning(ctx, i.packagerHost, i.packagerPort) {
		return "", packager.NotRunningError(i.packagerPort)
	}

	workerURL := fmt.Sprintf("http://%s:%d/%s", i.packagerHost, i.packagerPort, debuggerWorkerFilename)
	body, err := i.client.Request(ctx, workerURL, true)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", debuggerWorkerFilename, err)
	}
	return body, nil
}

// rewriteLocalhostPort redirects localhost bundle URLs to the configured
// packager port. Devices report the port they believe the packager runs on;
// the configured port is authoritative. Other hosts pass through unmodified.
func (i *ScriptImporter) rewriteLocalhostPort(scriptURL string) (*url.URL, error) {
	u, err := url.Parse(scriptURL)
	if err != nil {
		return nil, fmt.Errorf("invalid script URL %q: %w", scriptURL, err)
	}
	if u.Hostname() == "localhost" {
		u.Host = "localhost:" + strconv.Itoa(i.packagerPort)
	}
	return u, nil
}

// relocateSourceMap handles the bundle's embedded sourcemap reference: the
// map is fetched and written alongside the bundle (not awaited), and the
// in-body reference is rewritten to the local map filename.
func (i *ScriptImporter) relocateSourceMap(ctx context.Context, bundleURL *url.URL, body, bundlePath string) string {
	matches := sourceMapRef.FindAllStringSubmatchIndex(body, -1)
	if len(matches) == 0 {
		return body
	}
	last := matches[len(matches)-1]
	ref := body[last[2]:last[3]]

	mapURL, err := bundleURL.Parse(ref)
	if err != nil {
		i.logger.Warn("Unparseable sourcemap reference", zap.String("ref", ref))
		return body
	}

	mapName := path.Base(mapURL.Path)
	mapPath := filepath.Join(i.storagePath, mapName)
	bundleName := filepath.Base(bundlePath)

	go i.fetchSourceMap(mapURL.String(), mapPath, bundleName)

	return body[:last[2]] + mapName + body[last[3]:]
}

// fetchSourceMap downloads a sourcemap, points its generated-file name at the
// local bundle, and writes it next to the bundle. Runs detached; failures are
// logged, never surfaced, since the bundle is usable without its map.
func (i *ScriptImporter) fetchSourceMap(mapURL, mapPath, bundleName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	body, err := i.client.Request(ctx, mapURL, true)
	if err != nil {
		i.logger.Warn("Sourcemap download failed", zap.String("url", mapURL), zap.Error(err))
		return
	}

	rewritten := rewriteSourceMapFile(body, bundleName)
	if err := i.writer.WriteFile(mapPath, []byte(rewritten)); err != nil {
		i.logger.Warn("Sourcemap write failed", zap.String("path", mapPath), zap.Error(err))
		return
	}
	i.logger.Debug("Sourcemap cached", zap.String("path", mapPath))
}

// rewriteSourceMapFile sets the map's "file" field to the local bundle name.
// A map that does not decode is written through untouched.
func rewriteSourceMapFile(body, bundleName string) string {
	var m map[string]any
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return body
	}
	m["file"] = bundleName
	out, err := json.Marshal(m)
	if err != nil {
		return body
	}
	return string(out)
}

func (i *ScriptImporter) countDownload(outcome string) {
	if i.metrics != nil {
		i.metrics.Downloads.WithLabelValues(outcome).Inc()
	}
}
