package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"labelctl/pkg/logging"
)

// Command is a tunnel client invocation.
type Command struct {
	Name string
	Args []string
	Env  []string // appended to the inherited environment
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Process is a running tunnel client.
type Process interface {
	PID() int
	// Lines yields combined stdout/stderr lines and is closed when output ends.
	Lines() <-chan string
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Err is the exit error; only meaningful after Done.
	Err() error
	// Terminate sends SIGTERM, then kills after grace.
	Terminate(grace time.Duration) error
}

// Launcher starts tunnel client processes.
type Launcher interface {
	Launch(ctx context.Context, cmd Command) (Process, error)
}

// ExecLauncher runs clients as host processes.
type ExecLauncher struct{}

const lineBufferSize = 256

// Launch starts cmd. The process outlives ctx; ctx only bounds the start itself.
func (ExecLauncher) Launch(ctx context.Context, c Command) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(c.Name, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", c.Name, err)
	}

	p := &execProcess{
		cmd:   cmd,
		name:  c.Name,
		lines: make(chan string, lineBufferSize),
		done:  make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go p.scan(stdoutPipe, &readers)
	go p.scan(stderrPipe, &readers)

	go func() {
		// Wait closes the pipes, so it must run after both readers hit EOF.
		readers.Wait()
		close(p.lines)
		err := cmd.Wait()
		p.mu.Lock()
		if p.stopping {
			err = nil
		}
		p.err = err
		p.mu.Unlock()
		close(p.done)
		if err != nil {
			logging.Warn("Tunnel", "%s (pid %d) exited: %v", p.name, p.PID(), err)
		} else {
			logging.Debug("Tunnel", "%s (pid %d) exited", p.name, p.PID())
		}
	}()

	logging.Debug("Tunnel", "Started %s (pid %d)", c.Name, cmd.Process.Pid)
	return p, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	name  string
	lines chan string
	done  chan struct{}

	mu       sync.Mutex
	err      error
	stopping bool
}

func (p *execProcess) scan(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logging.Debug("Tunnel", "[%s] %s", p.name, line)
		select {
		case p.lines <- line:
		default:
			// Nobody is reading; keep draining so the child never blocks on a full pipe.
		}
	}
}

func (p *execProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Lines() <-chan string  { return p.lines }
func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *execProcess) Terminate(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	p.mu.Lock()
	p.stopping = true
	p.mu.Unlock()

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !gone(err) {
		p.cmd.Process.Kill()
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}
	if err := p.cmd.Process.Kill(); err != nil && !gone(err) {
		return fmt.Errorf("kill %s: %w", p.name, err)
	}
	<-p.done
	return nil
}

func gone(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH)
}
