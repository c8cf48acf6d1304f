package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/loqalabs/voice-proxy/internal/audio"
	"github.com/loqalabs/voice-proxy/internal/execcmd"
)

const readSize = 4096

type execCapturer struct {
	command        string
	devicesCommand string
	device         string
	format         audio.Format
	log            *slog.Logger

	events chan Event

	mu       sync.Mutex
	cmd      *exec.Cmd
	running  bool
	stopping bool
	done     chan struct{}
}

// NewExecCapturer streams raw PCM from the stdout of an external recorder
// (sox by default). command may reference {device}, {rate}, {channels} and
// {bits}; devicesCommand is run for enumeration.
func NewExecCapturer(command, devicesCommand, device string, format audio.Format, log *slog.Logger) (Capturer, error) {
	if _, err := execcmd.Parse(command, nil); err != nil {
		return nil, fmt.Errorf("capture command: %w", err)
	}
	if device == "" {
		device = "default"
	}
	return &execCapturer{
		command:        command,
		devicesCommand: devicesCommand,
		device:         device,
		format:         format,
		log:            log.With(slog.String("component", "capture")),
		events:         make(chan Event, 64),
	}, nil
}

func (c *execCapturer) Events() <-chan Event { return c.events }

func (c *execCapturer) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *execCapturer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		c.log.Warn("capture already running")
		return nil
	}

	args, err := execcmd.Parse(c.command, execcmd.Vars{
		"device":   c.device,
		"rate":     strconv.Itoa(c.format.SampleRate),
		"channels": strconv.Itoa(c.format.Channels),
		"bits":     strconv.Itoa(c.format.BitDepth),
	})
	if err != nil {
		return err
	}

	cmd := exec.Command(args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	c.cmd = cmd
	c.running = true
	c.stopping = false
	c.done = make(chan struct{})
	c.log.Info("capture started", slog.String("device", c.device), slog.Int("pid", cmd.Process.Pid))

	go c.readLoop(cmd, stdout, &stderr, c.done)
	return nil
}

func (c *execCapturer) readLoop(cmd *exec.Cmd, stdout io.Reader, stderr *bytes.Buffer, done chan struct{}) {
	defer close(done)

	buf := make([]byte, readSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			c.events <- Event{Kind: Fragment, Data: append([]byte(nil), buf[:n]...)}
		}
		if err != nil {
			break
		}
	}
	waitErr := cmd.Wait()

	c.mu.Lock()
	deliberate := c.stopping
	c.running = false
	c.cmd = nil
	c.mu.Unlock()

	if waitErr != nil && !deliberate {
		msg := strings.TrimSpace(stderr.String())
		c.log.Warn("capture exited unexpectedly", slog.String("error", waitErr.Error()), slog.String("stderr", msg))
		c.events <- Event{Kind: Failed, Err: fmt.Errorf("capture process exited: %w: %s", waitErr, msg)}
	}
	c.log.Info("capture stopped")
	c.events <- Event{Kind: Stopped}
}

func (c *execCapturer) Stop() error {
	c.mu.Lock()
	if !c.running || c.cmd == nil {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	proc := c.cmd.Process
	done := c.done
	c.mu.Unlock()

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		_ = proc.Kill()
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		_ = proc.Kill()
	}
	return nil
}

func (c *execCapturer) Devices(ctx context.Context) (DeviceList, error) {
	if c.devicesCommand == "" {
		return DeviceList{}, nil
	}
	args, err := execcmd.Parse(c.devicesCommand, nil)
	if err != nil {
		return DeviceList{}, err
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	out, runErr := cmd.CombinedOutput()
	list := parseDeviceListing(out)
	// sox exits non-zero after printing the listing; only fail when nothing was printed
	if runErr != nil && len(list.Input) == 0 && len(list.Output) == 0 {
		return list, fmt.Errorf("list audio devices: %w", runErr)
	}
	return list, nil
}

func parseDeviceListing(out []byte) DeviceList {
	list := DeviceList{Input: []string{}, Output: []string{}}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "input"):
			list.Input = append(list.Input, line)
		case strings.Contains(lower, "output"):
			list.Output = append(list.Output, line)
		}
	}
	return list
}
