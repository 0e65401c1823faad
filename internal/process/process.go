package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/camwatch/internal/logging"
)

// LogParser parses a log line and returns the log level and message.
type LogParser func(line string) (level, msg string)

// ErrAlreadyStarted is returned by Start on a process that was started before.
var ErrAlreadyStarted = errors.New("process already started")

const defaultTailSize = 20

// Process manages the lifecycle of one subprocess.
type Process struct {
	id              string
	args            []string
	logger          logging.Logger
	processLogger   logging.Logger // logger for stderr lines (nil = use logger)
	logParser       LogParser      // parses stderr for log level (nil = info)
	gracefulTimeout time.Duration  // SIGINT to SIGKILL
	killTimeout     time.Duration  // SIGKILL to giving up

	mu        sync.Mutex
	cmd       *exec.Cmd
	state     State
	startedAt time.Time
	exitCode  int
	lastErr   error
	tail      []string
	tailSize  int
	done      chan struct{}
}

// NewProcess creates a process for argv. Nothing runs until Start.
func NewProcess(id string, args []string, logger logging.Logger) *Process {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Process{
		id:              id,
		args:            args,
		logger:          logger,
		gracefulTimeout: 5 * time.Second,
		killTimeout:     5 * time.Second,
		state:           StateIdle,
		tailSize:        defaultTailSize,
		done:            make(chan struct{}),
	}
}

// SetLogParser sets the logger and parser used for stderr lines.
func (p *Process) SetLogParser(logger logging.Logger, parser LogParser) {
	p.processLogger = logger
	p.logParser = parser
}

// SetTimeouts overrides the graceful and kill timeouts used by Stop.
func (p *Process) SetTimeouts(graceful, kill time.Duration) {
	p.gracefulTimeout = graceful
	p.killTimeout = kill
}

// Args returns the argv the process runs.
func (p *Process) Args() []string {
	return p.args
}

// Start launches the subprocess and returns its stdout. The caller owns the
// returned reader and must close it.
func (p *Process) Start() (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		return nil, ErrAlreadyStarted
	}
	if len(p.args) == 0 {
		p.fail(errors.New("empty command"))
		return nil, p.lastErr
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		p.fail(fmt.Errorf("stdout pipe: %w", err))
		return nil, p.lastErr
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		p.fail(fmt.Errorf("stderr pipe: %w", err))
		return nil, p.lastErr
	}

	cmd := exec.Command(p.args[0], p.args[1:]...)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		p.fail(fmt.Errorf("start %s: %w", p.args[0], err))
		p.logger.Error("Failed to start process", "id", p.id, "error", err)
		return nil, p.lastErr
	}

	// Parent copies of the write ends must go so readers see EOF on exit
	stdoutW.Close()
	stderrW.Close()

	p.cmd = cmd
	p.state = StateRunning
	p.startedAt = time.Now()
	p.logger.Debug("Process started", "id", p.id, "pid", cmd.Process.Pid)

	outputDone := make(chan struct{})
	go func() {
		p.streamStderr(stderrR)
		stderrR.Close()
		close(outputDone)
	}()

	go func() {
		waitErr := cmd.Wait()
		<-outputDone
		p.handleExit(waitErr)
	}()

	return stdoutR, nil
}

// fail marks a start failure. Caller holds mu.
func (p *Process) fail(err error) {
	p.state = StateError
	p.lastErr = err
	p.exitCode = 1
	close(p.done)
}

func (p *Process) handleExit(waitErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.exitCode = exitCodeFromError(waitErr)
	if waitErr != nil {
		p.lastErr = waitErr
	}
	if p.state == StateStopping {
		p.logger.Debug("Process stopped", "id", p.id, "exit_code", p.exitCode)
	} else {
		p.logger.Info("Process exited", "id", p.id, "exit_code", p.exitCode)
	}
	p.state = StateExited
	close(p.done)
}

// Done is closed once the process has exited or failed to start.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exits and returns its exit code and the
// last error, if any.
func (p *Process) Wait() (int, error) {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.lastErr
}

// Info returns a snapshot of the process.
func (p *Process) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := Info{
		ID:        p.id,
		State:     p.state,
		StartedAt: p.startedAt,
		ExitCode:  p.exitCode,
		LastError: p.lastErr,
	}
	if p.cmd != nil && p.cmd.Process != nil {
		info.PID = p.cmd.Process.Pid
	}
	return info
}

// Stderr returns the most recent stderr lines, oldest first.
func (p *Process) Stderr() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.tail))
	copy(out, p.tail)
	return out
}

// Stop asks the process to exit with SIGINT and force-kills it after the
// graceful timeout. Safe to call multiple times and before Start.
func (p *Process) Stop() int {
	p.mu.Lock()
	switch p.state {
	case StateIdle:
		p.state = StateExited
		close(p.done)
		p.mu.Unlock()
		return 0
	case StateRunning:
		p.state = StateStopping
		p.sendStopSignal()
	}
	p.mu.Unlock()

	return p.waitForExit()
}

// sendStopSignal sends SIGINT to the subprocess group without waiting.
// Caller holds mu.
func (p *Process) sendStopSignal() {
	if err := p.signalGroup(syscall.SIGINT); err != nil {
		p.logger.Warn("Failed to send SIGINT", "id", p.id, "error", err)
	}
}

// signalGroup signals the whole process group so helpers spawned by the
// child release the output pipes too. Caller holds mu.
func (p *Process) signalGroup(sig syscall.Signal) error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-p.cmd.Process.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// waitForExit waits for the process with a timeout, force-killing if needed.
func (p *Process) waitForExit() int {
	select {
	case <-p.done:
		code, _ := p.Wait()
		return code
	case <-time.After(p.gracefulTimeout):
	}

	p.logger.Warn("Graceful shutdown timeout, forcing kill", "id", p.id, "timeout", p.gracefulTimeout)
	p.mu.Lock()
	if err := p.signalGroup(syscall.SIGKILL); err != nil {
		p.logger.Error("Failed to kill process", "id", p.id, "error", err)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-time.After(p.killTimeout):
		p.logger.Error("Process did not exit after kill signal", "id", p.id)
	}
	return 137
}

// streamStderr logs stderr lines and keeps the most recent ones.
func (p *Process) streamStderr(reader io.Reader) {
	scanner := bufio.NewScanner(reader)

	logger := p.processLogger
	if logger == nil {
		logger = p.logger
	}

	for scanner.Scan() {
		line := scanner.Text()

		p.mu.Lock()
		if len(p.tail) == p.tailSize {
			copy(p.tail, p.tail[1:])
			p.tail = p.tail[:len(p.tail)-1]
		}
		p.tail = append(p.tail, line)
		p.mu.Unlock()

		level, msg := "info", line
		if p.logParser != nil {
			level, msg = p.logParser(line)
		}

		switch level {
		case "fatal", "panic", "error":
			logger.Error(msg, "id", p.id)
		case "warning":
			logger.Warn(msg, "id", p.id)
		case "debug", "trace", "verbose":
			logger.Debug(msg, "id", p.id)
		default:
			logger.Info(msg, "id", p.id)
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		p.logger.Warn("Error reading stderr", "id", p.id, "error", err)
	}
}

// exitCodeFromError extracts the exit code from a Wait error.
// Returns 0 for nil, the exit code for ExitError, or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

// ParseCommand splits a command string into arguments. It handles single and
// double quotes and backslash escapes.
func ParseCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	runes := []rune(strings.TrimSpace(command))

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		args = append(args, current.String())
	}

	if inQuote {
		return nil, errors.New("unclosed quote in command")
	}

	return args, nil
}
