package sandbox

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ruslan-bikkinin/vscode-react-native/internal/logging"
)

// Channel fds inherited from the parent. Kept distinct from stdio so bundle
// console output never corrupts the protocol stream.
const (
	channelInFd  = 3
	channelOutFd = 4
)

// Options configures one sandbox worker process run.
type Options struct {
	// ScriptPath is the bootstrap worker script to execute.
	ScriptPath string
	// StorageDir is the cached-script directory importScripts resolves in.
	StorageDir string
	Logger     *logging.Logger

	// In and Out override the inherited channel fds. Tests use these; the
	// real process leaves them nil.
	In  io.Reader
	Out io.Writer
}

// Run is the worker process entrypoint: bind the debug port, execute the
// bootstrap script, report readiness, then dispatch channel messages until
// the parent closes the channel.
func Run(opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	log := logger.Named("worker")

	in := opts.In
	if in == nil {
		in = os.NewFile(channelInFd, "channel-in")
	}
	out := opts.Out
	if out == nil {
		outFile := os.NewFile(channelOutFd, "channel-out")
		if outFile == nil {
			return errors.New("channel fd 4 was not inherited")
		}
		out = outFile
	}
	ch := NewChannel(in, out)

	// The debug port stands in for the engine inspector socket. It stays
	// bound for the whole lifetime and is reported in the ready handshake.
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to bind debug port: %w", err)
	}
	defer listener.Close()
	debugPort := listener.Addr().(*net.TCPAddr).Port
	go drainListener(listener)

	runtime, err := NewRuntime(Config{
		StorageDir: opts.StorageDir,
		Post:       ch.Send,
		Modules:    DefaultModules(logger),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	source, err := os.ReadFile(opts.ScriptPath)
	if err != nil {
		return fmt.Errorf("failed to read bootstrap script: %w", err)
	}
	if err := runtime.RunScript(filepath.Base(opts.ScriptPath), string(source)); err != nil {
		return err
	}

	if err := ch.Send(map[string]any{"method": "ready", "debugPort": debugPort}); err != nil {
		return fmt.Errorf("failed to send ready handshake: %w", err)
	}
	log.Info("Sandbox worker ready", zap.Int("debugPort", debugPort))

	for {
		msg, err := ch.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Info("Channel closed, worker exiting")
				return nil
			}
			return fmt.Errorf("channel read failed: %w", err)
		}
		if err := runtime.Dispatch(msg); err != nil {
			// A throwing handler does not kill the lifetime; the script
			// error is reported and the loop continues.
			log.Error("Message dispatch failed", zap.Error(err))
		}
	}
}

// drainListener accepts and drops inspector connections so the backlog never
// fills. Actual inspector traffic is out of scope for the bridge.
func drainListener(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}
}
