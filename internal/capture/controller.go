package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// stillQuality is the JPEG quality used when re-encoding a captured
// frame as the final still image.
const stillQuality = 80

// Source records which acquisition path produced an image.
type Source int

const (
	SourceCamera Source = iota + 1
	SourceUpload
)

func (s Source) String() string {
	switch s {
	case SourceCamera:
		return "camera"
	case SourceUpload:
		return "upload"
	default:
		return "unknown"
	}
}

// Image is the single in-flight food photograph awaiting or having
// undergone analysis.
type Image struct {
	Data    []byte
	Source  Source
	Name    string
	TakenAt time.Time
}

// ErrCaptureDiscarded is returned by CapturePhoto when the selection was
// reset while the capture was still in flight.
var ErrCaptureDiscarded = errors.New("capture discarded: selection reset while in flight")

// Controller owns the camera lifecycle and the selected-image slot. At
// most one image is selected at a time, from either acquisition path.
type Controller struct {
	device Device
	logger *slog.Logger

	mu       sync.Mutex
	selected *Image
	gen      uint64 // bumped by Reset; identifies the current selection window
}

// NewController creates a controller over the given device.
func NewController(device Device, logger *slog.Logger) *Controller {
	return &Controller{device: device, logger: logger}
}

// StartCamera acquires the camera stream. On denial or unavailable
// hardware the error is surfaced and no capture surface should open.
func (c *Controller) StartCamera(ctx context.Context) error {
	if err := c.device.Start(ctx); err != nil {
		return fmt.Errorf("camera unavailable: %w", err)
	}
	return nil
}

// CapturePhoto takes a still frame from the live stream at its native
// resolution, re-encodes it as a compressed JPEG, stores it as the
// selected image, and stops the stream. The stream is released on every
// exit path, including capture failure. A capture that outlives a Reset
// (the selection window it was taken for is gone) is discarded rather
// than stored.
func (c *Controller) CapturePhoto(ctx context.Context) (*Image, error) {
	defer c.StopCamera()

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	frame, err := c.device.Frame(ctx)
	if err != nil {
		return nil, fmt.Errorf("capturing photo: %w", err)
	}

	still, err := recompressJPEG(frame, stillQuality)
	if err != nil {
		return nil, fmt.Errorf("encoding still image: %w", err)
	}

	img := &Image{
		Data:    still,
		Source:  SourceCamera,
		Name:    "camera capture",
		TakenAt: time.Now(),
	}
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.logger.Debug("capture discarded", "reason", "selection reset while in flight")
		return nil, ErrCaptureDiscarded
	}
	c.selected = img
	c.mu.Unlock()

	c.logger.Info("photo captured", "bytes", len(still))
	return img, nil
}

// StopCamera releases the camera stream. Safe to call at any time,
// including when no stream is active.
func (c *Controller) StopCamera() {
	if err := c.device.Stop(); err != nil {
		c.logger.Warn("stopping camera", "error", err)
	}
}

// CameraActive reports whether the camera stream is currently held.
func (c *Controller) CameraActive() bool {
	return c.device.Active()
}

// SelectFile stores the chosen file as the selected image. No validation
// beyond what the file picker's type filter already provided.
func (c *Controller) SelectFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading image file: %w", err)
	}

	img := &Image{
		Data:    data,
		Source:  SourceUpload,
		Name:    filepath.Base(path),
		TakenAt: time.Now(),
	}
	c.mu.Lock()
	c.selected = img
	c.mu.Unlock()

	c.logger.Info("image selected", "file", img.Name, "bytes", len(data))
	return img, nil
}

// Selected returns the current selected image, or nil.
func (c *Controller) Selected() *Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Reset clears the selected image, returning the main view to its empty
// choose-image state. The caller resets the analysis workflow alongside.
// A capture still in flight for the old selection will be discarded when
// it lands.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.selected = nil
	c.gen++
	c.mu.Unlock()
}

// recompressJPEG decodes a frame and re-encodes it at the still-image
// quality, preserving its native resolution.
func recompressJPEG(frame []byte, quality int) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return buf.Bytes(), nil
}
