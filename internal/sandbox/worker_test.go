package sandbox

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// runWorker executes Run against in-memory channel streams and returns the
// decoded frames the worker emitted.
func runWorker(t *testing.T, storage string, input []map[string]any) []map[string]any {
	t.Helper()

	var in bytes.Buffer
	enc := json.NewEncoder(&in)
	for _, msg := range input {
		if err := enc.Encode(msg); err != nil {
			t.Fatal(err)
		}
	}

	var out bytes.Buffer
	err := Run(Options{
		ScriptPath: filepath.Join(storage, "debuggerWorker.js"),
		StorageDir: storage,
		In:         strings.NewReader(in.String()),
		Out:        &out,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var frames []map[string]any
	dec := json.NewDecoder(&out)
	for {
		var frame map[string]any
		if err := dec.Decode(&frame); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("undecodable worker output: %v", err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func writeScript(t *testing.T, storage, name, source string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(storage, name), []byte(source), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWorkerReadyHandshakeCarriesDebugPort(t *testing.T) {
	storage := t.TempDir()
	writeScript(t, storage, "debuggerWorker.js", `onmessage = function () {};`)

	frames := runWorker(t, storage, nil)
	if len(frames) == 0 {
		t.Fatal("worker emitted no frames")
	}

	ready := frames[0]
	if ready["method"] != "ready" {
		t.Fatalf("first frame is not the ready handshake: %v", ready)
	}
	port, ok := ready["debugPort"].(float64)
	if !ok || port <= 0 || port > 65535 {
		t.Errorf("ready handshake has no usable debug port: %v", ready)
	}
}

func TestWorkerExecutesApplicationScript(t *testing.T) {
	storage := t.TempDir()
	writeScript(t, storage, "debuggerWorker.js", `
		onmessage = function (event) {
			if (event.data.method === "executeApplicationScript") {
				importScripts(event.data.url);
				postMessage({replyID: event.data.id});
			}
		};
	`)
	writeScript(t, storage, "app.bundle", `postMessage({method: "appStarted"});`)

	frames := runWorker(t, storage, []map[string]any{
		{"method": "executeApplicationScript", "url": "app.bundle", "id": 5},
	})

	if len(frames) != 3 {
		t.Fatalf("expected ready + appStarted + reply, got %v", frames)
	}
	if frames[1]["method"] != "appStarted" {
		t.Errorf("bundle did not run: %v", frames[1])
	}
	if frames[2]["replyID"] != float64(5) {
		t.Errorf("bootstrap did not acknowledge: %v", frames[2])
	}
}

func TestWorkerSurvivesThrowingHandler(t *testing.T) {
	storage := t.TempDir()
	writeScript(t, storage, "debuggerWorker.js", `
		var calls = 0;
		onmessage = function (event) {
			calls++;
			if (calls === 1) {
				throw new Error("boom");
			}
			postMessage({method: "stillAlive"});
		};
	`)

	frames := runWorker(t, storage, []map[string]any{
		{"method": "first"},
		{"method": "second"},
	})

	if len(frames) != 2 || frames[1]["method"] != "stillAlive" {
		t.Errorf("worker should survive a throwing handler: %v", frames)
	}
}

func TestWorkerFailsWithoutBootstrapScript(t *testing.T) {
	storage := t.TempDir()
	err := Run(Options{
		ScriptPath: filepath.Join(storage, "debuggerWorker.js"),
		StorageDir: storage,
		In:         strings.NewReader(""),
		Out:        io.Discard,
	})
	if err == nil {
		t.Error("Run() should fail when the bootstrap script is missing")
	}
}
