package irisview

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/esimov/irisview/model"
)

type fakeStream struct {
	mu       sync.Mutex
	ready    bool
	img      *image.NRGBA
	frameErr error
	stops    int
}

func newFakeStream(w, h int) *fakeStream {
	return &fakeStream{ready: true, img: image.NewNRGBA(image.Rect(0, 0, w, h))}
}

func (s *fakeStream) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *fakeStream) Frame() (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frameErr != nil {
		return nil, s.frameErr
	}
	return &Frame{Image: s.img}, nil
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *fakeStream) setFrameErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameErr = err
}

func (s *fakeStream) stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops > 0
}

type fakeCamera struct {
	mu          sync.Mutex
	devices     []Device
	devErr      error
	openErr     error
	opened      []*fakeStream
	constraints []Constraints
}

func (c *fakeCamera) Devices(ctx context.Context) ([]Device, error) {
	return c.devices, c.devErr
}

func (c *fakeCamera) Open(ctx context.Context, cs Constraints) (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return nil, c.openErr
	}
	s := newFakeStream(640, 480)
	c.opened = append(c.opened, s)
	c.constraints = append(c.constraints, cs)
	return s, nil
}

func (c *fakeCamera) streams() []*fakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeStream(nil), c.opened...)
}

func (c *fakeCamera) setOpenErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openErr = err
}

type fakeDisplay struct {
	mu       sync.Mutex
	size     image.Point
	attached Stream
	detaches int
	renders  []*Overlay
}

func (d *fakeDisplay) Attach(s Stream) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attached = s
}

func (d *fakeDisplay) Detach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attached = nil
	d.detaches++
}

func (d *fakeDisplay) Size() image.Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

func (d *fakeDisplay) Render(o *Overlay) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.renders = append(d.renders, o)
}

func (d *fakeDisplay) last() *Overlay {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.renders) == 0 {
		return nil
	}
	return d.renders[len(d.renders)-1]
}

func (d *fakeDisplay) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.renders)
}

func (d *fakeDisplay) stream() Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attached
}

// fakeLandmarks answers every frame synchronously with the configured face.
type fakeLandmarks struct {
	mu      sync.Mutex
	loadErr error
	state   model.State
	handler func(LandmarkResult)
	face    *LandmarkSet
	sent    []*Frame
	closed  bool
}

func (m *fakeLandmarks) Load(ctx context.Context, opts LandmarkOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		m.state = model.Failed
		return m.loadErr
	}
	m.state = model.Ready
	return nil
}

func (m *fakeLandmarks) State() model.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *fakeLandmarks) OnResults(fn func(LandmarkResult)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}

func (m *fakeLandmarks) Send(ctx context.Context, f *Frame) error {
	m.mu.Lock()
	m.sent = append(m.sent, f)
	fn, face := m.handler, m.face
	m.mu.Unlock()

	res := LandmarkResult{Frame: f}
	if face != nil {
		res.Faces = []*LandmarkSet{face}
	}
	if fn != nil {
		fn(res)
	}
	return nil
}

func (m *fakeLandmarks) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *fakeLandmarks) sentFrames() []*Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Frame(nil), m.sent...)
}

type prediction struct {
	label string
	err   error
}

type fakeClassifier struct {
	mu      sync.Mutex
	started chan struct{}
	gate    chan struct{}
	loadErr error
	state   model.State
	results []prediction
	calls   int
	images  []image.Image
	closed  bool
}

func (c *fakeClassifier) Load(ctx context.Context) error {
	if c.started != nil {
		close(c.started)
	}
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loadErr != nil {
		c.state = model.Failed
		return c.loadErr
	}
	c.state = model.Ready
	return nil
}

func (c *fakeClassifier) State() model.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeClassifier) Predict(ctx context.Context, img image.Image) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images = append(c.images, img)
	idx := c.calls
	c.calls++
	if len(c.results) == 0 {
		return "plain", nil
	}
	if idx >= len(c.results) {
		idx = len(c.results) - 1
	}
	r := c.results[idx]
	return r.label, r.err
}

func (c *fakeClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClassifier) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// manualRefresher releases one loop iteration per tick.
type manualRefresher struct {
	ticks chan time.Time
}

func newManualRefresher() *manualRefresher {
	return &manualRefresher{ticks: make(chan time.Time)}
}

func (r *manualRefresher) NextFrame(ctx context.Context) (time.Time, error) {
	select {
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	case t := <-r.ticks:
		return t, nil
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errCamera = errors.New("permission denied")

// testFace returns a landmark set with both iris rings around the given
// centers and the left eyelids the given distance apart.
func testFace(openness float64) *LandmarkSet {
	lm := new(LandmarkSet)
	for i := range lm {
		lm[i] = Point{X: 0.5, Y: 0.5}
	}
	setRing := func(ring [4]int, cx, cy float64) {
		lm[ring[0]] = Point{X: cx, Y: cy}
		lm[ring[1]] = Point{X: cx + 0.02, Y: cy}
		lm[ring[2]] = Point{X: cx, Y: cy - 0.02}
		lm[ring[3]] = Point{X: cx - 0.02, Y: cy}
	}
	setRing(LeftIris, 0.4, 0.4)
	setRing(RightIris, 0.6, 0.4)

	lm[LeftEyelidTop] = Point{X: 0.4, Y: 0.4 - openness/2}
	lm[LeftEyelidBottom] = Point{X: 0.4, Y: 0.4 + openness/2}
	lm[RightEyelidTop] = Point{X: 0.6, Y: 0.4 - openness/2}
	lm[RightEyelidBottom] = Point{X: 0.6, Y: 0.4 + openness/2}

	return lm
}
