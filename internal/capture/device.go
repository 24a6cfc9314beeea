// Package capture owns image acquisition: the camera lifecycle (acquire,
// frame, release) and the file-upload path, both converging on a single
// selected image held by the Controller.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Device is an acquired image source. Start claims the hardware, Frame
// returns the most recent full frame, Stop releases the claim. Stop is
// idempotent and must be safe to call when no stream is active.
type Device interface {
	Start(ctx context.Context) error
	Frame(ctx context.Context) ([]byte, error)
	Stop() error
	Active() bool
}

// ErrDeviceActive is returned by Start when the device is already held.
var ErrDeviceActive = errors.New("capture device already active")

// ExecDevice drives an external capture helper (ffmpeg, gst-launch and
// friends) that writes a stream of JPEG frames to stdout. The helper
// process is the acquired resource: Start launches it, Stop kills it and
// reaps it.
type ExecDevice struct {
	argv   []string
	warmup int
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	done    chan struct{}
	frame   []byte
	seq     int
	readErr error
}

// NewExecDevice builds a device from the configured command line. The
// literal token {device} in the command is replaced with devicePath.
// warmup frames are discarded while the sensor settles.
func NewExecDevice(command, devicePath string, warmup int, logger *slog.Logger) (*ExecDevice, error) {
	expanded := strings.ReplaceAll(command, "{device}", devicePath)
	argv := strings.Fields(expanded)
	if len(argv) == 0 {
		return nil, errors.New("empty capture command")
	}
	return &ExecDevice{argv: argv, warmup: warmup, logger: logger}, nil
}

// Start launches the capture helper and begins collecting frames.
func (d *ExecDevice) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cmd != nil {
		return ErrDeviceActive
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, d.argv[0], d.argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("capture helper stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("starting capture helper: %w", err)
	}

	d.cmd = cmd
	d.cancel = cancel
	d.done = make(chan struct{})
	d.frame = nil
	d.seq = 0
	d.readErr = nil

	d.logger.Info("camera acquired", "command", d.argv[0])
	go d.readFrames(stdout, d.done)
	return nil
}

// readFrames scans the helper's stdout for JPEG frames and keeps the
// latest one, discarding the configured warmup count first.
func (d *ExecDevice) readFrames(stdout io.Reader, done chan struct{}) {
	defer close(done)

	r := bufio.NewReaderSize(stdout, 1<<20)
	skipped := 0
	for {
		frame, err := nextJPEGFrame(r)
		if err != nil {
			d.mu.Lock()
			d.readErr = err
			d.mu.Unlock()
			return
		}
		if skipped < d.warmup {
			skipped++
			continue
		}
		d.mu.Lock()
		d.frame = frame
		d.seq++
		d.mu.Unlock()
	}
}

// Frame returns the most recent post-warmup frame, waiting for one to
// arrive if the stream just started.
func (d *ExecDevice) Frame(ctx context.Context) ([]byte, error) {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		d.mu.Lock()
		if d.seq > 0 {
			out := make([]byte, len(d.frame))
			copy(out, d.frame)
			d.mu.Unlock()
			return out, nil
		}
		readErr := d.readErr
		d.mu.Unlock()

		if readErr != nil {
			return nil, fmt.Errorf("capture stream ended before producing a frame: %w", readErr)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop kills the capture helper and reaps it, releasing the device. It
// is idempotent: stopping an inactive device is a no-op.
func (d *ExecDevice) Stop() error {
	d.mu.Lock()
	cmd, cancel, done := d.cmd, d.cancel, d.done
	d.cmd = nil
	d.cancel = nil
	d.done = nil
	d.frame = nil
	d.seq = 0
	d.mu.Unlock()

	if cmd == nil {
		return nil
	}

	cancel()
	<-done
	// The helper was killed; its exit status is not interesting.
	_ = cmd.Wait()
	d.logger.Info("camera released")
	return nil
}

// Active reports whether the helper process is currently held.
func (d *ExecDevice) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cmd != nil
}

// nextJPEGFrame reads one JPEG image from a concatenated stream: bytes
// are scanned for an SOI marker (FF D8), then copied through the next
// EOI marker (FF D9).
func nextJPEGFrame(r *bufio.Reader) ([]byte, error) {
	var prev byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if prev == 0xFF && b == 0xD8 {
			break
		}
		prev = b
	}

	frame := []byte{0xFF, 0xD8}
	prev = 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		frame = append(frame, b)
		if prev == 0xFF && b == 0xD9 {
			return frame, nil
		}
		prev = b
	}
}
