package irisview

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/esimov/irisview/model"
	"github.com/google/uuid"
)

// State is the capture state of the pipeline.
type State int32

const (
	Idle State = iota
	Initializing
	Ready
	Capturing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Capturing:
		return "capturing"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrClosed is returned by operations on a closed pipeline.
	ErrClosed = errors.New("irisview: pipeline closed")
	// ErrBusy is returned when Initialize is called while capturing or
	// initializing, and when StartCamera is called while initializing.
	ErrBusy = errors.New("irisview: pipeline busy")
)

// Load status messages.
const (
	ModelLoadDoneText  = "Model load Status : Done"
	ModelLoadErrorText = "Error loading model"
)

// Options are the collaborators of a pipeline. Camera and Display are
// required; a nil Landmarks disables tracking and a nil Classifier
// disables classification.
type Options struct {
	Camera     Camera
	Display    Display
	Landmarks  LandmarkModel
	Classifier Classifier
	Refresher  Refresher
	Config     Config
	Logger     *log.Logger
	// Now is the clock used for pacing and throttling.
	Now func() time.Time
}

// session is one capture session: an open stream and the loop reading it.
type session struct {
	id       string
	deviceID string
	stream   Stream
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	seq      uint64
}

// Pipeline runs the capture state machine and the per-frame processing:
// frames are pushed to the landmark model, results are turned into iris
// geometry and an overlay, and the eyewear classifier runs at most once
// per ClassifyInterval.
type Pipeline struct {
	cfg        Config
	camera     Camera
	display    Display
	landmarks  LandmarkModel
	classifier Classifier
	refresher  Refresher
	logger     *log.Logger
	now        func() time.Time

	// startMu serializes the operations that acquire or release streams.
	startMu sync.Mutex

	mu        sync.Mutex
	state     State
	devices   []Device
	deviceID  string
	session   *session
	tracking  bool
	classify  bool
	trackErr  error
	classErr  error
	cls       ClassificationState
	fps       int
	detected  bool
	closed    bool
	bus       *statusBus
	inflight  sync.WaitGroup
	closeOnce sync.Once
}

// New returns an idle pipeline.
func New(opts Options) *Pipeline {
	cfg := opts.Config.withDefaults()

	p := &Pipeline{
		cfg:        cfg,
		camera:     opts.Camera,
		display:    opts.Display,
		landmarks:  opts.Landmarks,
		classifier: opts.Classifier,
		refresher:  opts.Refresher,
		logger:     opts.Logger,
		now:        opts.Now,
		bus:        newStatusBus(),
	}
	if p.refresher == nil {
		p.refresher = NewTickerRefresher(cfg.RefreshRate)
	}
	if p.logger == nil {
		p.logger = log.New(io.Discard, "", 0)
	}
	if p.now == nil {
		p.now = time.Now
	}
	p.cls.Throttle.Interval = cfg.ClassifyInterval

	return p
}

// Initialize enumerates the video devices and loads both models.
// Model failures do not fail the call: they disable tracking or
// classification and are reported in the status. The returned error
// only concerns the device enumeration.
func (p *Pipeline) Initialize(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.state == Initializing || p.state == Capturing {
		p.mu.Unlock()
		return ErrBusy
	}
	p.state = Initializing
	p.mu.Unlock()
	p.publish()

	devices, devErr := p.camera.Devices(ctx)
	if devErr == nil && len(devices) == 0 {
		devErr = ErrNoDevices
	}

	var (
		wg                 sync.WaitGroup
		trackErr, classErr error
	)
	if p.landmarks != nil {
		p.landmarks.OnResults(p.handleResults)

		wg.Add(1)
		go func() {
			defer wg.Done()
			trackErr = p.landmarks.Load(ctx, LandmarkOptions{MaxFaces: 1, RefineLandmarks: true})
		}()
	}
	if p.classifier != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			classErr = p.classifier.Load(ctx)
		}()
	}
	wg.Wait()

	if trackErr != nil {
		p.logger.Printf("landmark model unavailable, tracking disabled: %v", trackErr)
	}
	if classErr != nil {
		p.logger.Printf("%s: %v", ModelLoadErrorText, classErr)
	} else if p.classifier != nil {
		p.logger.Print(ModelLoadDoneText)
	}

	p.mu.Lock()
	p.devices = devices
	if p.deviceID == "" && len(devices) > 0 {
		p.deviceID = devices[0].ID
	}
	p.tracking = p.landmarks != nil && trackErr == nil
	p.classify = p.classifier != nil && classErr == nil
	p.trackErr, p.classErr = trackErr, classErr
	if p.state == Initializing {
		p.state = Ready
	}
	p.mu.Unlock()
	p.publish()

	if devErr != nil {
		if errors.Is(devErr, ErrNoDevices) {
			return devErr
		}
		return fmt.Errorf("irisview: unable to enumerate devices: %w", devErr)
	}
	return nil
}

// Devices returns the available video input devices.
func (p *Pipeline) Devices(ctx context.Context) ([]Device, error) {
	devices, err := p.camera.Devices(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.devices = devices
	p.mu.Unlock()

	return append([]Device(nil), devices...), nil
}

// DeviceID returns the selected device.
func (p *Pipeline) DeviceID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.deviceID
}

// SelectDevice selects the device used for capture. While capturing,
// the old stream is stopped and capture restarts on the new device.
func (p *Pipeline) SelectDevice(ctx context.Context, id string) error {
	p.mu.Lock()
	p.deviceID = id
	capturing := p.state == Capturing
	p.mu.Unlock()

	if capturing {
		return p.StartCamera(ctx)
	}
	p.publish()

	return nil
}

// StartCamera opens a stream on the selected device and starts the frame
// loop. An active session is stopped first. On failure no stream is kept
// and the error wraps ErrCameraAccess. ErrBusy is returned while the
// pipeline is initializing.
func (p *Pipeline) StartCamera(ctx context.Context) error {
	p.startMu.Lock()
	defer p.startMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.state == Initializing {
		p.mu.Unlock()
		return ErrBusy
	}
	active := p.session != nil
	p.mu.Unlock()

	if active {
		p.stop()
	}

	p.mu.Lock()
	prev := p.state
	c := p.cfg.Constraints
	c.DeviceID = p.deviceID
	p.mu.Unlock()

	stream, err := p.camera.Open(ctx, c)
	if err != nil {
		p.mu.Lock()
		p.state = prev
		p.mu.Unlock()
		p.publish()

		return fmt.Errorf("%w: %w", ErrCameraAccess, err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:       uuid.NewString(),
		deviceID: c.DeviceID,
		stream:   stream,
		ctx:      sctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	p.display.Attach(stream)

	p.mu.Lock()
	p.session = s
	p.state = Capturing
	p.fps = 0
	p.detected = false
	p.cls.LastLabel = ""
	p.cls.Throttle.Reset()
	p.inflight.Add(1)
	p.mu.Unlock()

	go p.loop(s)
	p.publish()

	return nil
}

// StopCamera stops the active session, if any. It is safe to call more than once.
func (p *Pipeline) StopCamera() error {
	p.startMu.Lock()
	defer p.startMu.Unlock()

	return p.stop()
}

// stop tears down the active session: the loop is cancelled and awaited,
// every track of the stream is stopped and the display is detached.
func (p *Pipeline) stop() error {
	p.mu.Lock()
	s := p.session
	p.session = nil
	if p.state == Capturing {
		p.state = Idle
	}
	p.detected = false
	p.mu.Unlock()

	if s == nil {
		return nil
	}
	s.cancel()
	<-s.done

	err := s.stream.Stop()
	p.display.Detach()
	p.publish()

	if err != nil {
		return fmt.Errorf("irisview: unable to stop the stream: %w", err)
	}
	return nil
}

// State returns the capture state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// Status returns a snapshot of the pipeline.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.statusLocked()
}

// Subscribe returns a channel receiving every status change and a function
// cancelling the subscription. Updates are dropped while the channel buffer is full.
func (p *Pipeline) Subscribe(buffer int) (<-chan Status, func()) {
	return p.bus.subscribe(buffer)
}

// Close stops capture, waits for in-flight work and releases both models.
func (p *Pipeline) Close() error {
	var errs []error

	p.closeOnce.Do(func() {
		p.startMu.Lock()
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		if err := p.stop(); err != nil {
			errs = append(errs, err)
		}
		p.startMu.Unlock()

		p.inflight.Wait()

		if p.landmarks != nil {
			if err := p.landmarks.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if p.classifier != nil {
			if err := p.classifier.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if n := p.bus.drops(); n > 0 {
			p.logger.Printf("%d status updates dropped by slow subscribers", n)
		}
		p.bus.close()
	})
	return errors.Join(errs...)
}

// loop pushes the frames of a session to the landmark model, one per refresh.
func (p *Pipeline) loop(s *session) {
	defer p.inflight.Done()
	defer close(s.done)

	var last time.Time
	for {
		now, err := p.refresher.NextFrame(s.ctx)
		if err != nil {
			return
		}
		if !p.active(s) {
			return
		}

		// the first tick only seeds the frame rate
		fps, ok := 0, false
		if !last.IsZero() {
			fps, ok = frameRate(now.Sub(last))
		}
		last = now

		p.mu.Lock()
		if ok {
			p.fps = fps
		}
		tracking := p.tracking
		p.mu.Unlock()

		if !s.stream.Ready() {
			continue
		}
		if !tracking {
			p.renderStatus(s)
			continue
		}

		f, err := s.stream.Frame()
		if err == nil && !f.Valid() {
			err = ErrInvalidFrame
		}
		if err != nil {
			p.logger.Printf("skipping frame: %v", err)
			continue
		}
		f.Seq = atomic.AddUint64(&s.seq, 1)
		f.Session = s.id
		f.Timestamp = now

		if err := p.landmarks.Send(s.ctx, f); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			p.logger.Printf("landmark model error: %v", err)
		}
	}
}

// handleResults is the landmark model callback. It draws the overlay for
// the processed frame and schedules the eyewear classification.
func (p *Pipeline) handleResults(res LandmarkResult) {
	p.mu.Lock()
	s := p.session
	if s == nil || res.Frame == nil || res.Frame.Session != s.id {
		p.mu.Unlock()
		return
	}
	fps := p.fps
	p.mu.Unlock()

	size := p.display.Size()
	o := &Overlay{Width: size.X, Height: size.Y, FPS: fps}

	var lm *LandmarkSet
	if len(res.Faces) > 0 {
		lm = res.Faces[0]
	}
	if lm != nil {
		g := Estimate(lm, float64(size.X), float64(size.Y))
		if g.Openness > p.cfg.OpennessThreshold {
			o.Detected = true
			o.drawGeometry(lm, g)
			p.maybeClassify(s, lm)
		}
	}

	p.mu.Lock()
	if p.session != s {
		p.mu.Unlock()
		return
	}
	p.detected = o.Detected
	o.Label = p.cls.LastLabel
	p.mu.Unlock()

	p.display.Render(o)
	p.publish()
}

// maybeClassify runs the classifier on the current stream frame when the
// throttle allows it. The attempt is marked before the prediction is
// dispatched; the prediction itself runs in the background.
func (p *Pipeline) maybeClassify(s *session, lm *LandmarkSet) {
	now := p.now()

	p.mu.Lock()
	if !p.classify || p.session != s || !p.cls.Throttle.Ready(now) {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	f, err := s.stream.Frame()
	if err == nil && !f.Valid() {
		err = ErrInvalidFrame
	}
	if err != nil {
		p.logger.Printf("skipping classification: %v", err)
		return
	}

	var img image.Image = f.Image
	if p.cfg.CropFace {
		img = cropFace(f.Image, lm)
	}

	p.mu.Lock()
	if p.session != s || !p.cls.Throttle.Ready(now) {
		p.mu.Unlock()
		return
	}
	p.cls.Throttle.Mark(now)
	p.inflight.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.inflight.Done()

		label, err := p.classifier.Predict(s.ctx, img)
		if err != nil {
			p.logger.Printf("classification failed: %v", err)
			return
		}

		p.mu.Lock()
		current := p.session == s
		if current {
			p.cls.LastLabel = label
		}
		p.mu.Unlock()

		if current {
			p.publish()
		}
	}()
}

// renderStatus draws an overlay without geometry, used while tracking is disabled.
func (p *Pipeline) renderStatus(s *session) {
	size := p.display.Size()

	p.mu.Lock()
	if p.session != s {
		p.mu.Unlock()
		return
	}
	o := &Overlay{Width: size.X, Height: size.Y, FPS: p.fps, Label: p.cls.LastLabel}
	p.mu.Unlock()

	p.display.Render(o)
}

func (p *Pipeline) active(s *session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.session == s
}

func (p *Pipeline) publish() {
	p.mu.Lock()
	st := p.statusLocked()
	p.mu.Unlock()

	p.bus.publish(st)
}

func (p *Pipeline) statusLocked() Status {
	st := Status{
		State:              p.state,
		DeviceID:           p.deviceID,
		FPS:                p.fps,
		Detected:           p.detected,
		Label:              p.cls.LastLabel,
		LastClassification: p.cls.LastAttempt(),
	}
	if p.session != nil {
		st.Session = p.session.id
	}
	if p.landmarks != nil {
		st.Tracking = p.landmarks.State()
	}
	if p.classifier != nil {
		st.Classification = p.classifier.State()
		switch st.Classification {
		case model.Ready:
			st.Message = ModelLoadDoneText
		case model.Failed:
			st.Message = ModelLoadErrorText
		}
	}
	if p.trackErr != nil {
		st.TrackingError = p.trackErr.Error()
	}
	if p.classErr != nil {
		st.ClassificationError = p.classErr.Error()
	}
	return st
}

// frameRate returns the instantaneous frame rate for the time elapsed
// since the previous frame. ok is false when no time has elapsed.
func frameRate(elapsed time.Duration) (fps int, ok bool) {
	ms := float64(elapsed) / float64(time.Millisecond)
	if ms <= 0 {
		return 0, false
	}
	return int(math.Round(1000 / ms)), true
}

// cropFace crops the frame to the landmark bounding box, enlarged by a
// quarter of its size on every side. The whole frame is returned when the
// landmarks carry no usable points.
func cropFace(img *image.NRGBA, lm *LandmarkSet) image.Image {
	minX, minY, maxX, maxY := lm.Bounds()
	if maxX <= minX || maxY <= minY {
		return img
	}
	w, h := float64(img.Bounds().Dx()), float64(img.Bounds().Dy())
	padX, padY := (maxX-minX)*0.25, (maxY-minY)*0.25

	rect := image.Rect(
		int((minX-padX)*w), int((minY-padY)*h),
		int(math.Ceil((maxX+padX)*w)), int(math.Ceil((maxY+padY)*h)),
	).Add(img.Bounds().Min).Intersect(img.Bounds())
	if rect.Empty() {
		return img
	}
	return imaging.Crop(img, rect)
}
