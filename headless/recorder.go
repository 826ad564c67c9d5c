package headless

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/esimov/irisview"
	"golang.org/x/image/bmp"
)

// Recorder is a Display writing an annotated snapshot of the stream every
// Interval. Overlays rendered in between are dropped.
type Recorder struct {
	Dir      string
	Format   string
	Interval time.Duration
	Logger   *log.Logger

	now func() time.Time

	mu      sync.Mutex
	stream  irisview.Stream
	last    time.Time
	written int
}

var _ irisview.Display = (*Recorder)(nil)

// NewRecorder returns a recorder writing png or bmp files into dir.
func NewRecorder(dir, format string, interval time.Duration) (*Recorder, error) {
	switch format {
	case "png", "bmp":
	default:
		return nil, fmt.Errorf("unsupported snapshot format %q", format)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create the snapshot directory: %w", err)
	}
	return &Recorder{
		Dir:      dir,
		Format:   format,
		Interval: interval,
		Logger:   log.New(io.Discard, "", 0),
		now:      time.Now,
	}, nil
}

// Attach binds the stream snapshots are taken from.
func (r *Recorder) Attach(s irisview.Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stream = s
}

// Detach unbinds the stream.
func (r *Recorder) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stream = nil
}

// Size returns the size of the current stream frame.
func (r *Recorder) Size() image.Point {
	r.mu.Lock()
	s := r.stream
	r.mu.Unlock()

	if s == nil {
		return image.Point{}
	}
	f, err := s.Frame()
	if err != nil || !f.Valid() {
		return image.Point{}
	}
	return f.Image.Bounds().Size()
}

// Render writes a snapshot unless one was written less than Interval ago.
func (r *Recorder) Render(o *irisview.Overlay) {
	now := r.now()

	r.mu.Lock()
	s := r.stream
	if s == nil || (!r.last.IsZero() && now.Sub(r.last) < r.Interval) {
		r.mu.Unlock()
		return
	}
	r.last = now
	r.written++
	seq := r.written
	r.mu.Unlock()

	f, err := s.Frame()
	if err == nil && !f.Valid() {
		err = irisview.ErrInvalidFrame
	}
	if err != nil {
		r.Logger.Printf("snapshot skipped: %v", err)
		return
	}
	img, err := Annotate(f.Image, o)
	if err != nil {
		r.Logger.Printf("snapshot skipped: %v", err)
		return
	}

	path := filepath.Join(r.Dir, fmt.Sprintf("frame-%06d.%s", seq, r.Format))
	if err := r.write(path, img); err != nil {
		r.Logger.Printf("unable to write snapshot: %v", err)
		return
	}
	r.Logger.Printf("snapshot written to %s", path)
}

// Written returns the number of snapshots taken, failed writes included.
func (r *Recorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.written
}

func (r *Recorder) write(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch r.Format {
	case "bmp":
		err = bmp.Encode(f, img)
	default:
		err = png.Encode(f, img)
	}
	if err != nil {
		return err
	}
	return f.Close()
}
