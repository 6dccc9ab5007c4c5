package debugger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/ruslan-bikkinin/vscode-react-native/internal/logging"
)

// execTransport spawns a real sandbox child by re-execing this binary with
// the hidden "worker" command. The message channel is a pair of pipes passed
// as fds 3 (child read) and 4 (child write), kept distinct from the child's
// stdout/stderr, which are captured line by line.
type execTransport struct {
	scriptPath  string
	storagePath string
	log         *logging.Logger

	cmd     *exec.Cmd
	toChild *os.File

	sendMu sync.Mutex
	enc    *json.Encoder

	msgs   chan WireMessage
	stdout chan string
	stderr chan string
	done   chan error

	killOnce sync.Once
}

// newExecTransport is the default transportFactory.
func newExecTransport(scriptPath, storagePath string, logger *logging.Logger) transport {
	return &execTransport{
		scriptPath:  scriptPath,
		storagePath: storagePath,
		log:         logger,
		msgs:        make(chan WireMessage, 16),
		stdout:      make(chan string, 16),
		stderr:      make(chan string, 16),
		done:        make(chan error, 1),
	}
}

// Start spawns the worker process. The context bounds the spawn only; the
// process itself lives until Kill or its own exit.
func (t *execTransport) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot resolve own executable: %w", err)
	}

	// Channel into the child: parent writes, child reads on fd 3.
	childIn, parentOut, err := os.Pipe()
	if err != nil {
		return err
	}
	// Channel out of the child: child writes on fd 4, parent reads.
	parentIn, childOut, err := os.Pipe()
	if err != nil {
		childIn.Close()
		parentOut.Close()
		return err
	}

	cmd := exec.Command(exe, "worker",
		"--script", t.scriptPath,
		"--storage", t.storagePath)
	cmd.ExtraFiles = []*os.File{childIn, childOut} // fds 3 and 4 in the child

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		t.closePipes(childIn, parentOut, parentIn, childOut)
		return err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		t.closePipes(childIn, parentOut, parentIn, childOut)
		return err
	}

	if err := cmd.Start(); err != nil {
		t.closePipes(childIn, parentOut, parentIn, childOut)
		return err
	}

	// The child owns its pipe ends now.
	childIn.Close()
	childOut.Close()

	t.cmd = cmd
	t.toChild = parentOut
	t.enc = json.NewEncoder(parentOut)

	var readers sync.WaitGroup
	readers.Add(2)
	go t.scanLines(stdoutPipe, t.stdout, &readers)
	go t.scanLines(stderrPipe, t.stderr, &readers)
	go t.decodeMessages(parentIn)

	go func() {
		readers.Wait()
		err := cmd.Wait()
		parentIn.Close()
		t.done <- err
		close(t.done)
	}()

	t.log.Debug("Sandbox process spawned", zap.Int("pid", cmd.Process.Pid))
	return nil
}

// Send writes one NDJSON frame onto the child's message channel.
func (t *execTransport) Send(msg WireMessage) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if t.enc == nil {
		return fmt.Errorf("sandbox channel is not open")
	}
	if err := t.enc.Encode(msg); err != nil {
		return fmt.Errorf("failed to write to sandbox channel: %w", err)
	}
	return nil
}

func (t *execTransport) Messages() <-chan WireMessage { return t.msgs }
func (t *execTransport) Stdout() <-chan string        { return t.stdout }
func (t *execTransport) Stderr() <-chan string        { return t.stderr }
func (t *execTransport) Done() <-chan error           { return t.done }

// Kill closes the channel write end so a well-behaved child exits on EOF,
// then terminates the process. Safe when the process already exited.
func (t *execTransport) Kill() {
	t.killOnce.Do(func() {
		t.sendMu.Lock()
		if t.toChild != nil {
			t.toChild.Close()
			t.enc = nil
		}
		t.sendMu.Unlock()
		if t.cmd != nil && t.cmd.Process != nil {
			t.cmd.Process.Kill()
		}
	})
}

// scanLines forwards each line of a stdio stream.
func (t *execTransport) scanLines(r io.Reader, out chan<- string, wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// decodeMessages forwards each NDJSON frame from the child channel.
func (t *execTransport) decodeMessages(r io.Reader) {
	defer close(t.msgs)
	dec := json.NewDecoder(r)
	for {
		var msg WireMessage
		if err := dec.Decode(&msg); err != nil {
			if err != io.EOF {
				t.log.Debug("Sandbox channel closed", zap.Error(err))
			}
			return
		}
		t.msgs <- msg
	}
}

func (t *execTransport) closePipes(files ...*os.File) {
	for _, f := range files {
		f.Close()
	}
}
