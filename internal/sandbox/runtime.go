package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/ruslan-bikkinin/vscode-react-native/internal/logging"
)

// Module builds the value handed to sandboxed code when it requires a module
// by name. The registry passed at spawn time is the only resolution source.
type Module func(vm *goja.Runtime) goja.Value

// Config configures a sandbox runtime.
type Config struct {
	// StorageDir is the only directory importScripts may read from.
	StorageDir string
	// Post emits a message on the process channel.
	Post func(msg map[string]any) error
	// Modules is the explicit require capability registry.
	Modules map[string]Module
	Logger  *logging.Logger
}

// Runtime wraps a goja VM exposing the worker capability surface.
type Runtime struct {
	vm  *goja.Runtime
	cfg Config
	log *logging.Logger
}

// NewRuntime creates a sandboxed JS runtime with the worker globals wired.
func NewRuntime(cfg Config) (*Runtime, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	r := &Runtime{
		vm:  goja.New(),
		cfg: cfg,
		log: cfg.Logger.Named("sandbox-vm"),
	}
	if err := r.setupGlobals(); err != nil {
		return nil, err
	}
	return r, nil
}

// RunScript executes source in the sandbox, typically the bootstrap worker.
func (r *Runtime) RunScript(name, source string) error {
	if _, err := r.vm.RunScript(name, source); err != nil {
		return fmt.Errorf("script %s failed: %w", name, err)
	}
	return nil
}

// Dispatch delivers one channel message to the script's onmessage handler,
// wrapped in a worker-style {data: msg} event. Without a handler the message
// is dropped.
func (r *Runtime) Dispatch(msg map[string]any) error {
	handler := r.vm.GlobalObject().Get("onmessage")
	fn, ok := goja.AssertFunction(handler)
	if !ok {
		r.log.Debug("No onmessage handler, dropping message")
		return nil
	}
	event := r.vm.NewObject()
	if err := event.Set("data", r.vm.ToValue(msg)); err != nil {
		return err
	}
	if _, err := fn(goja.Undefined(), event); err != nil {
		return fmt.Errorf("onmessage handler failed: %w", err)
	}
	return nil
}

// setupGlobals wires the capability surface: postMessage, importScripts,
// require, console, and worker-style self.
func (r *Runtime) setupGlobals() error {
	vm := r.vm

	if err := vm.Set("self", vm.GlobalObject()); err != nil {
		return err
	}

	vm.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Undefined()
		}
		msg, ok := call.Arguments[0].Export().(map[string]any)
		if !ok {
			panic(vm.NewTypeError("postMessage expects an object"))
		}
		if err := r.cfg.Post(msg); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})

	vm.Set("importScripts", func(call goja.FunctionCall) goja.Value {
		for _, arg := range call.Arguments {
			name := arg.String()
			path, err := r.resolveScript(name)
			if err != nil {
				panic(vm.NewGoError(err))
			}
			source, err := os.ReadFile(path)
			if err != nil {
				panic(vm.NewGoError(err))
			}
			if _, err := vm.RunScript(name, string(source)); err != nil {
				panic(vm.NewGoError(err))
			}
		}
		return goja.Undefined()
	})

	vm.Set("require", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(vm.NewTypeError("require expects a module name"))
		}
		name := call.Arguments[0].String()
		mod, ok := r.cfg.Modules[name]
		if !ok {
			panic(vm.NewTypeError("module %q is not provided to the sandbox", name))
		}
		return mod(vm)
	})

	console := vm.NewObject()
	console.Set("log", r.makeConsoleFunc("log"))
	console.Set("info", r.makeConsoleFunc("info"))
	console.Set("warn", r.makeConsoleFunc("warn"))
	console.Set("error", r.makeConsoleFunc("error"))
	return vm.Set("console", console)
}

// resolveScript maps a script name onto the storage dir, rejecting any path
// that would escape it. importScripts loads local cached files only.
func (r *Runtime) resolveScript(name string) (string, error) {
	// Absolute paths are allowed when they already point into storage;
	// executeApplicationScript rewrites urls to absolute local paths.
	candidate := name
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(r.cfg.StorageDir, candidate)
	}
	cleaned := filepath.Clean(candidate)
	root := filepath.Clean(r.cfg.StorageDir)
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
		return "", fmt.Errorf("script %q is outside the sandbox storage directory", name)
	}
	return cleaned, nil
}

// makeConsoleFunc routes a console level into the host logger.
func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		msg := strings.Join(parts, " ")
		switch level {
		case "warn":
			r.log.Warn(msg)
		case "error":
			r.log.Error(msg)
		default:
			r.log.Info(msg)
		}
		return goja.Undefined()
	}
}

// DefaultModules returns the host modules every sandbox receives. The set is
// deliberately tiny; anything else must be registered explicitly.
func DefaultModules(logger *logging.Logger) map[string]Module {
	if logger == nil {
		logger = logging.NewNop()
	}
	return map[string]Module{
		"path": func(vm *goja.Runtime) goja.Value {
			obj := vm.NewObject()
			obj.Set("basename", func(p string) string { return filepath.Base(p) })
			obj.Set("dirname", func(p string) string { return filepath.Dir(p) })
			obj.Set("extname", func(p string) string { return filepath.Ext(p) })
			obj.Set("join", func(parts ...string) string { return filepath.Join(parts...) })
			return obj
		},
		"log": func(vm *goja.Runtime) goja.Value {
			obj := vm.NewObject()
			obj.Set("write", func(msg string) {
				logger.Info(msg, zap.String("source", "sandbox-module"))
			})
			return obj
		},
	}
}
