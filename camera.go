package irisview

import (
	"context"
	"errors"
	"image"
	"time"
)

var (
	// ErrNoDevices is returned when no video input device is available.
	ErrNoDevices = errors.New("irisview: no video input devices")
	// ErrCameraAccess wraps every failure to acquire a camera stream.
	ErrCameraAccess = errors.New("irisview: camera access failed")
	// ErrInvalidFrame is returned when a captured frame has no pixels.
	ErrInvalidFrame = errors.New("irisview: invalid frame")
)

// Device describes a video input device.
type Device struct {
	ID    string
	Label string
}

// Constraints are the stream parameters requested from the camera.
// Width and height are preferences; the camera may deliver another size.
type Constraints struct {
	DeviceID    string
	AspectRatio float64
	IdealWidth  int
	IdealHeight int
}

// DefaultConstraints returns the portrait constraints used for capture.
func DefaultConstraints() Constraints {
	return Constraints{
		AspectRatio: 9.0 / 16.0,
		IdealWidth:  1080,
		IdealHeight: 1920,
	}
}

// Frame is a single captured video frame.
type Frame struct {
	Seq       uint64
	Session   string
	Timestamp time.Time
	Image     *image.NRGBA
}

// Valid reports whether the frame holds a non-empty image.
func (f *Frame) Valid() bool {
	if f == nil || f.Image == nil {
		return false
	}
	b := f.Image.Bounds()
	return b.Dx() > 0 && b.Dy() > 0
}

// Camera enumerates video devices and opens streams on them.
type Camera interface {
	Devices(ctx context.Context) ([]Device, error)
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an open camera stream.
type Stream interface {
	// Ready reports whether enough data is buffered to read a current frame.
	Ready() bool
	// Frame returns a copy of the current frame.
	Frame() (*Frame, error)
	// Stop stops every track of the stream. It is safe to call more than once.
	Stop() error
}

// Display is the video sink and the overlay canvas.
type Display interface {
	// Attach binds a stream to the video sink.
	Attach(s Stream)
	// Detach unbinds the current stream.
	Detach()
	// Size returns the displayed video size, which is also the canvas size.
	Size() image.Point
	// Render replaces the canvas content with the overlay.
	Render(o *Overlay)
}

// Refresher paces the frame loop, one call per display refresh.
type Refresher interface {
	NextFrame(ctx context.Context) (time.Time, error)
}

// TickerRefresher paces the frame loop with a fixed rate ticker.
type TickerRefresher struct {
	Interval time.Duration
}

// NewTickerRefresher returns a refresher firing at the given rate.
func NewTickerRefresher(hz int) *TickerRefresher {
	if hz <= 0 {
		hz = 60
	}
	return &TickerRefresher{Interval: time.Second / time.Duration(hz)}
}

// NextFrame blocks until the next refresh or until ctx is done.
func (r *TickerRefresher) NextFrame(ctx context.Context) (time.Time, error) {
	t := time.NewTimer(r.Interval)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	case now := <-t.C:
		return now, nil
	}
}
