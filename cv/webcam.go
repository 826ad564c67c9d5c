// Package cv holds the OpenCV backed collaborators: webcam capture and the
// DNN classification graph.
package cv

import (
	"context"
	"fmt"
	"image"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/esimov/irisview"
	"gocv.io/x/gocv"
)

// DevicePattern matches the V4L2 capture devices.
var DevicePattern = "/dev/video*"

// Webcam opens local capture devices through OpenCV.
type Webcam struct {
	Logger *log.Logger
}

var _ irisview.Camera = (*Webcam)(nil)

// NewWebcam returns a webcam camera.
func NewWebcam() *Webcam {
	return &Webcam{Logger: log.New(io.Discard, "", 0)}
}

// Devices lists the video capture devices, ordered by index.
func (w *Webcam) Devices(ctx context.Context) ([]irisview.Device, error) {
	paths, err := filepath.Glob(DevicePattern)
	if err != nil {
		return nil, err
	}

	devices := make([]irisview.Device, 0, len(paths))
	for _, p := range paths {
		idx, ok := deviceIndex(p)
		if !ok {
			continue
		}
		devices = append(devices, irisview.Device{
			ID:    strconv.Itoa(idx),
			Label: deviceLabel(p, idx),
		})
	}
	sort.Slice(devices, func(i, j int) bool {
		a, _ := strconv.Atoi(devices[i].ID)
		b, _ := strconv.Atoi(devices[j].ID)
		return a < b
	})
	return devices, nil
}

// Open starts capturing from the device named in the constraints, or the
// first device when none is named. The ideal size is requested from the
// driver, a missing dimension being derived from the aspect ratio; the
// delivered frames keep whatever size the device picked.
func (w *Webcam) Open(ctx context.Context, c irisview.Constraints) (irisview.Stream, error) {
	idx := 0
	if c.DeviceID != "" {
		i, ok := deviceIndex(c.DeviceID)
		if !ok {
			return nil, fmt.Errorf("invalid device id %q", c.DeviceID)
		}
		idx = i
	}

	capture, err := gocv.OpenVideoCapture(idx)
	if err != nil {
		return nil, fmt.Errorf("error opening video capture device %d: %w", idx, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("video capture device %d is not available", idx)
	}
	if width, height, ok := requestSize(c); ok {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	s := &webcamStream{
		capture: capture,
		logger:  w.Logger,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.readLoop()

	return s, nil
}

// webcamStream keeps the most recent frame read from the device.
type webcamStream struct {
	capture *gocv.VideoCapture
	logger  *log.Logger

	mu     sync.RWMutex
	latest *image.NRGBA
	ready  atomic.Bool

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

func (s *webcamStream) readLoop() {
	defer close(s.stopped)

	mat := gocv.NewMat()
	defer mat.Close()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if ok := s.capture.Read(&mat); !ok || mat.Empty() {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		img, err := mat.ToImage()
		if err != nil {
			s.logger.Printf("unable to convert frame: %v", err)
			continue
		}
		frame := imaging.Clone(img)

		s.mu.Lock()
		s.latest = frame
		s.mu.Unlock()
		s.ready.Store(true)
	}
}

// Ready reports whether a frame has been captured.
func (s *webcamStream) Ready() bool {
	return s.ready.Load()
}

// Frame returns the latest frame. Frames are never modified once published.
func (s *webcamStream) Frame() (*irisview.Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.latest == nil {
		return nil, irisview.ErrInvalidFrame
	}
	return &irisview.Frame{Image: s.latest}, nil
}

// Stop stops the reader and releases the device.
func (s *webcamStream) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		<-s.stopped
		s.ready.Store(false)
		err = s.capture.Close()
	})
	return err
}

// deviceIndex parses a device index from "2" or "/dev/video2".
func deviceIndex(id string) (int, bool) {
	id = strings.TrimPrefix(filepath.Base(id), "video")
	idx, err := strconv.Atoi(id)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

// deviceLabel returns the V4L2 device name, falling back to the device path.
func deviceLabel(path string, idx int) string {
	name, err := os.ReadFile(fmt.Sprintf("/sys/class/video4linux/video%d/name", idx))
	if err != nil {
		return path
	}
	if label := strings.TrimSpace(string(name)); label != "" {
		return label
	}
	return path
}

// requestSize returns the frame size asked from the driver. V4L2 has no
// aspect ratio control, so the ratio (width / height) only completes a
// partial ideal size.
func requestSize(c irisview.Constraints) (width, height int, ok bool) {
	width, height = c.IdealWidth, c.IdealHeight
	switch {
	case width > 0 && height > 0:
	case c.AspectRatio <= 0:
		return 0, 0, false
	case width > 0:
		height = int(math.Round(float64(width) / c.AspectRatio))
	case height > 0:
		width = int(math.Round(float64(height) * c.AspectRatio))
	default:
		return 0, 0, false
	}
	return width, height, true
}
