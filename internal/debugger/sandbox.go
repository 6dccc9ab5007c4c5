package debugger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ruslan-bikkinin/vscode-react-native/internal/logging"
	"github.com/ruslan-bikkinin/vscode-react-native/internal/monitoring"
)

// ErrWorkerStopped is returned by PostMessage after the lifetime ended.
var ErrWorkerStopped = errors.New("sandbox worker is stopped")

// MethodReady is the handshake the child sends once its debug port is bound.
const MethodReady = "ready"

// ReplySink receives everything a sandbox lifetime emits: child channel
// messages wrapped as {"data": msg}, and captured stdio lines tagged
// {"stdout": line} / {"stderr": line}. Implementations must be safe for
// concurrent use.
type ReplySink func(WireMessage)

// ScriptSource is the importer surface a sandbox worker depends on.
type ScriptSource interface {
	DownloadAppScript(ctx context.Context, scriptURL string) (string, error)
	DownloadDebuggerWorker(ctx context.Context) (string, error)
}

// Worker is one sandbox lifetime as the connection manager sees it.
type Worker interface {
	// Start spawns the child and resolves with its debug port once the
	// child signals readiness.
	Start(ctx context.Context) (int, error)
	// PostMessage forwards one wire message into the child.
	PostMessage(ctx context.Context, msg WireMessage) error
	// Stop terminates the child. Safe to call repeatedly and after exit.
	Stop()
}

// transport abstracts the spawned child process and its message channel.
// The real implementation re-execs this binary; tests substitute a fake.
type transport interface {
	Start(ctx context.Context) error
	Send(msg WireMessage) error
	Messages() <-chan WireMessage
	Stdout() <-chan string
	Stderr() <-chan string
	// Done delivers the process exit result once, then closes.
	Done() <-chan error
	Kill()
}

// transportFactory builds a transport for a bootstrap script and storage dir.
type transportFactory func(scriptPath, storagePath string, logger *logging.Logger) transport

// SandboxConfig configures one sandbox worker.
type SandboxConfig struct {
	StoragePath  string
	BundleSuffix string
	Sink         ReplySink
	Importer     ScriptSource
	Writer       FileWriter
	Logger       *logging.Logger
	Metrics      *monitoring.Metrics

	// newTransport overrides the child-process transport. Nil means spawn a
	// real OS process.
	newTransport transportFactory
}

// SandboxWorker owns one child-process lifetime: it spawns the process,
// relays messages to and from it, and triggers bundle imports on demand.
type SandboxWorker struct {
	id  string
	cfg SandboxConfig
	log *logging.Logger

	// mu guards transport and debugPort: the Start goroutine writes them
	// while PostMessage and Stop read from the connection's read pump.
	mu        sync.Mutex
	transport transport
	debugPort int
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewSandboxWorker creates a worker for one lifetime. The worker is inert
// until Start.
func NewSandboxWorker(cfg SandboxConfig) *SandboxWorker {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Writer == nil {
		cfg.Writer = DiskWriter{}
	}
	if cfg.newTransport == nil {
		cfg.newTransport = newExecTransport
	}
	id := uuid.NewString()
	return &SandboxWorker{
		id:   id,
		cfg:  cfg,
		log:  cfg.Logger.Named("sandbox").With(zap.String("lifetime", id)),
		stop: make(chan struct{}),
	}
}

// Start downloads the bootstrap worker script, spawns the child process, and
// waits for the ready handshake carrying the child's debug port. It fails if
// the process exits before signaling readiness.
func (w *SandboxWorker) Start(ctx context.Context) (int, error) {
	source, err := w.cfg.Importer.DownloadDebuggerWorker(ctx)
	if err != nil {
		return 0, err
	}

	scriptPath := filepath.Join(w.cfg.StoragePath, debuggerWorkerFilename)
	if err := w.cfg.Writer.WriteFile(scriptPath, []byte(source)); err != nil {
		return 0, err
	}

	t := w.cfg.newTransport(scriptPath, w.cfg.StoragePath, w.log)
	if err := t.Start(ctx); err != nil {
		return 0, fmt.Errorf("failed to spawn sandbox process: %w", err)
	}
	w.mu.Lock()
	w.transport = t
	w.mu.Unlock()

	// A Stop that raced the spawn owns this lifetime: the child must not
	// outlive it.
	if w.isStopped() {
		t.Kill()
		return 0, ErrWorkerStopped
	}

	port, err := w.awaitReady(ctx, t)
	if err != nil {
		t.Kill()
		return 0, err
	}

	w.mu.Lock()
	if w.isStopped() {
		w.mu.Unlock()
		t.Kill()
		return 0, ErrWorkerStopped
	}
	w.debugPort = port
	w.mu.Unlock()

	if w.cfg.Metrics != nil {
		w.cfg.Metrics.LifetimesTotal.Inc()
		w.cfg.Metrics.LifetimesActive.Inc()
	}
	w.log.Info("Sandbox ready",
		zap.Int("debugPort", port),
		zap.String("bundleSuffix", w.cfg.BundleSuffix))

	go w.pump(t)
	return port, nil
}

// awaitReady consumes channel messages until the ready handshake arrives.
// Messages that precede readiness still reach the reply sink.
func (w *SandboxWorker) awaitReady(ctx context.Context, t transport) (int, error) {
	for {
		select {
		case msg, ok := <-t.Messages():
			if !ok {
				return 0, errors.New("sandbox channel closed before readiness")
			}
			if msg.Method() == MethodReady {
				port, ok := msg["debugPort"].(float64)
				if !ok {
					return 0, errors.New("ready handshake is missing a debug port")
				}
				return int(port), nil
			}
			w.deliver(WireMessage{"data": msg})
		case exitErr := <-t.Done():
			return 0, fmt.Errorf("sandbox process exited before signaling readiness: %v", exitErr)
		case <-w.stop:
			return 0, ErrWorkerStopped
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// pump relays child output to the reply sink until the process exits.
// Channel messages are wrapped as {"data": msg}; stdio lines are tagged by
// stream. After Stop the pump keeps draining but discards: the killed child
// may still flush buffered output, and the transport's scanners need a
// consumer until they close their channels.
func (w *SandboxWorker) pump(t transport) {
	msgs, stdout, stderr, done := t.Messages(), t.Stdout(), t.Stderr(), t.Done()
	stop := w.stop
	stopped := false
	for msgs != nil || stdout != nil || stderr != nil || done != nil {
		select {
		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			if !stopped {
				w.deliver(WireMessage{"data": msg})
			}
		case line, ok := <-stdout:
			if !ok {
				stdout = nil
				continue
			}
			if !stopped {
				w.deliver(WireMessage{"stdout": line})
			}
		case line, ok := <-stderr:
			if !ok {
				stderr = nil
				continue
			}
			if !stopped {
				w.deliver(WireMessage{"stderr": line})
			}
		case exitErr, ok := <-done:
			if !ok {
				done = nil
				continue
			}
			if stopped {
				continue
			}
			if exitErr != nil {
				w.log.Warn("Sandbox process exited", zap.Error(exitErr))
			} else {
				w.log.Info("Sandbox process exited")
			}
		case <-stop:
			stop = nil
			stopped = true
		}
	}
}

// PostMessage forwards one message to the child. An executeApplicationScript
// message first resolves its bundle through the importer and has its url
// rewritten to the local file path; all other fields pass through unchanged.
// A failed download fails this call; nothing reaches the child.
func (w *SandboxWorker) PostMessage(ctx context.Context, msg WireMessage) error {
	if w.isStopped() {
		return ErrWorkerStopped
	}
	w.mu.Lock()
	t := w.transport
	w.mu.Unlock()
	if t == nil {
		return errors.New("sandbox worker is not started")
	}

	if msg.Method() == MethodExecuteScript && msg.URL() != "" {
		localPath, err := w.cfg.Importer.DownloadAppScript(ctx, msg.URL())
		if err != nil {
			return fmt.Errorf("failed to import application script: %w", err)
		}
		rewritten := msg.Clone()
		rewritten["url"] = localPath
		msg = rewritten
	}
	return t.Send(msg)
}

// Stop terminates the child process and releases the message channel.
// Idempotent; safe when the process already exited, and safe while Start is
// still in flight: a spawn that completes afterwards is killed by Start.
func (w *SandboxWorker) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		close(w.stop)
		t := w.transport
		port := w.debugPort
		w.mu.Unlock()

		if t != nil {
			t.Kill()
		}
		if w.cfg.Metrics != nil && port != 0 {
			w.cfg.Metrics.LifetimesActive.Dec()
		}
		w.log.Info("Sandbox stopped")
	})
}

// DebugPort returns the port the child runtime reported at readiness.
func (w *SandboxWorker) DebugPort() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.debugPort
}

func (w *SandboxWorker) isStopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// deliver hands a message to the reply sink. Nothing is delivered once the
// lifetime stopped, even when buffered child output is still draining.
func (w *SandboxWorker) deliver(msg WireMessage) {
	if w.isStopped() {
		return
	}
	if w.cfg.Sink != nil {
		w.cfg.Sink(msg)
	}
}
