package irisview

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/esimov/irisview/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	p       *Pipeline
	camera  *fakeCamera
	display *fakeDisplay
	lm      *fakeLandmarks
	cls     *fakeClassifier
	ref     *manualRefresher
	clock   *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		camera:  &fakeCamera{devices: []Device{{ID: "cam0", Label: "Front"}, {ID: "cam1", Label: "Back"}}},
		display: &fakeDisplay{size: image.Pt(1080, 1920)},
		lm:      &fakeLandmarks{},
		cls:     &fakeClassifier{},
		ref:     newManualRefresher(),
		clock:   newFakeClock(),
	}
	t.Cleanup(func() {
		if h.p != nil {
			h.p.Close()
		}
	})
	return h
}

func (h *harness) build() {
	h.p = New(Options{
		Camera:     h.camera,
		Display:    h.display,
		Landmarks:  h.lm,
		Classifier: h.cls,
		Refresher:  h.ref,
		Config:     DefaultConfig(),
		Now:        h.clock.Now,
	})
}

func (h *harness) start(t *testing.T) {
	t.Helper()

	h.build()
	require.NoError(t, h.p.Initialize(context.Background()))
	require.NoError(t, h.p.StartCamera(context.Background()))
}

func (h *harness) result(face *LandmarkSet) {
	res := LandmarkResult{Frame: &Frame{Session: h.p.Status().Session}}
	if face != nil {
		res.Faces = []*LandmarkSet{face}
	}
	h.p.handleResults(res)
}

func TestPipeline_InitializeSelectsFirstDevice(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	assert.Equal(t, "cam0", h.p.DeviceID())
	assert.Equal(t, Capturing, h.p.State())

	require.Len(t, h.camera.constraints, 1)
	c := h.camera.constraints[0]
	assert.Equal(t, "cam0", c.DeviceID)
	assert.InDelta(t, 9.0/16.0, c.AspectRatio, 1e-9)
	assert.Equal(t, 1080, c.IdealWidth)
	assert.Equal(t, 1920, c.IdealHeight)

	st := h.p.Status()
	assert.NotEmpty(t, st.Session)
	assert.Equal(t, model.Ready, st.Tracking)
	assert.Equal(t, model.Ready, st.Classification)
	assert.Equal(t, ModelLoadDoneText, st.Message)
}

func TestPipeline_InitializeWithoutDevices(t *testing.T) {
	h := newHarness(t)
	h.camera.devices = nil
	h.p = New(Options{Camera: h.camera, Display: h.display, Refresher: h.ref})

	err := h.p.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrNoDevices)
	assert.Equal(t, Ready, h.p.State())
}

func TestPipeline_InitializeReportsModelFailures(t *testing.T) {
	h := newHarness(t)
	h.lm.loadErr = errors.New("wasm backend unavailable")
	h.cls.loadErr = errors.New("404 not found")

	h.p = New(Options{Camera: h.camera, Display: h.display, Landmarks: h.lm, Classifier: h.cls, Refresher: h.ref})
	require.NoError(t, h.p.Initialize(context.Background()))

	st := h.p.Status()
	assert.Equal(t, Ready, st.State)
	assert.Equal(t, model.Failed, st.Tracking)
	assert.Equal(t, model.Failed, st.Classification)
	assert.Contains(t, st.TrackingError, "wasm backend unavailable")
	assert.Contains(t, st.ClassificationError, "404 not found")
	assert.Equal(t, ModelLoadErrorText, st.Message)
}

func TestPipeline_DetectedFrame(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.result(testFace(0.05))

	o := h.display.last()
	require.NotNil(t, o)
	assert.True(t, o.Detected)
	assert.Equal(t, IrisDetectedText, o.Indicator())
	assert.Equal(t, 1080, o.Width)
	assert.Equal(t, 1920, o.Height)
	assert.Len(t, o.Contours, len(LeftEyeContour)+len(RightEyeContour))
	require.Len(t, o.Irises, 2)

	left := o.Irises[0]
	assert.InDelta(t, 0.4*1080, left.X, 1e-6)
	assert.InDelta(t, 0.395*1920, left.Y, 1e-6)
	assert.InDelta(t, 0.02*1080, left.R, 1e-6)

	assert.Eventually(t, func() bool { return h.cls.callCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return h.p.Status().Label == "plain" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, h.clock.Now(), h.p.Status().LastClassification)
}

func TestPipeline_ClosedEyes(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.result(testFace(0.005))

	o := h.display.last()
	require.NotNil(t, o)
	assert.False(t, o.Detected)
	assert.Equal(t, IrisMissingText, o.Indicator())
	assert.Empty(t, o.Contours)
	assert.Empty(t, o.Irises)
	assert.Equal(t, "FPS: 0", o.FPSText())

	assert.True(t, h.p.Status().LastClassification.IsZero())
	assert.Zero(t, h.cls.callCount())
}

func TestPipeline_NoFace(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.result(nil)

	o := h.display.last()
	require.NotNil(t, o)
	assert.False(t, o.Detected)
	assert.Empty(t, o.Irises)
}

func TestPipeline_ClassificationThrottle(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	first := h.clock.Now()

	h.result(testFace(0.05))
	assert.Equal(t, first, h.p.Status().LastClassification)

	h.clock.Advance(900 * time.Millisecond)
	h.result(testFace(0.05))
	assert.Equal(t, first, h.p.Status().LastClassification)

	h.clock.Advance(200 * time.Millisecond)
	h.result(testFace(0.05))
	assert.Equal(t, first.Add(1100*time.Millisecond), h.p.Status().LastClassification)

	assert.Eventually(t, func() bool { return h.cls.callCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestPipeline_ClassificationFailureKeepsLabel(t *testing.T) {
	h := newHarness(t)
	h.cls.results = []prediction{
		{label: "glasses"},
		{err: errors.New("inference failed")},
	}
	h.start(t)

	h.result(testFace(0.05))
	assert.Eventually(t, func() bool { return h.p.Status().Label == "glasses" }, time.Second, 5*time.Millisecond)

	h.clock.Advance(1100 * time.Millisecond)
	h.result(testFace(0.05))
	assert.Eventually(t, func() bool { return h.cls.callCount() == 2 }, time.Second, 5*time.Millisecond)

	st := h.p.Status()
	assert.Equal(t, "glasses", st.Label)
	assert.Equal(t, h.clock.Now(), st.LastClassification)

	h.result(testFace(0.05))
	assert.Equal(t, "Status: glasses", h.display.last().StatusText())
}

func TestPipeline_ClassificationSkippedOnFrameFailure(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	stream := h.camera.streams()[0]
	stream.setFrameErr(errors.New("no frame"))

	h.result(testFace(0.05))
	assert.True(t, h.display.last().Detected)
	assert.True(t, h.p.Status().LastClassification.IsZero())
	assert.Zero(t, h.cls.callCount())

	stream.setFrameErr(nil)
	h.clock.Advance(100 * time.Millisecond)
	h.result(testFace(0.05))
	assert.Equal(t, h.clock.Now(), h.p.Status().LastClassification)
	assert.Eventually(t, func() bool { return h.cls.callCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPipeline_CropFace(t *testing.T) {
	h := newHarness(t)
	cfg := DefaultConfig()
	cfg.CropFace = true

	h.p = New(Options{
		Camera: h.camera, Display: h.display, Landmarks: h.lm, Classifier: h.cls,
		Refresher: h.ref, Config: cfg, Now: h.clock.Now,
	})
	require.NoError(t, h.p.Initialize(context.Background()))
	require.NoError(t, h.p.StartCamera(context.Background()))

	h.result(testFace(0.05))
	assert.Eventually(t, func() bool { return h.cls.callCount() == 1 }, time.Second, 5*time.Millisecond)

	h.cls.mu.Lock()
	img := h.cls.images[0]
	h.cls.mu.Unlock()

	b := img.Bounds()
	assert.Less(t, b.Dx(), 640)
	assert.Less(t, b.Dy(), 480)
	assert.Greater(t, b.Dx(), 0)
}

func TestPipeline_StaleResultsAreDiscarded(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.p.handleResults(LandmarkResult{
		Frame: &Frame{Session: "previous-session"},
		Faces: []*LandmarkSet{testFace(0.05)},
	})
	assert.Zero(t, h.display.count())
	assert.Zero(t, h.cls.callCount())

	require.NoError(t, h.p.StopCamera())
	h.p.handleResults(LandmarkResult{Frame: &Frame{}, Faces: []*LandmarkSet{testFace(0.05)}})
	assert.Zero(t, h.display.count())
}

func TestPipeline_StopCameraIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	require.NoError(t, h.p.StopCamera())
	require.NoError(t, h.p.StopCamera())

	streams := h.camera.streams()
	require.Len(t, streams, 1)
	assert.Equal(t, 1, streams[0].stops)
	assert.Equal(t, Idle, h.p.State())
	assert.Nil(t, h.display.stream())
	assert.Empty(t, h.p.Status().Session)
}

func TestPipeline_RestartKeepsOneStream(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	firstSession := h.p.Status().Session

	require.NoError(t, h.p.StartCamera(context.Background()))

	streams := h.camera.streams()
	require.Len(t, streams, 2)
	assert.True(t, streams[0].stopped())
	assert.False(t, streams[1].stopped())
	assert.Same(t, streams[1], h.display.stream())
	assert.Equal(t, Capturing, h.p.State())
	assert.NotEqual(t, firstSession, h.p.Status().Session)
}

func TestPipeline_StartCameraFailure(t *testing.T) {
	h := newHarness(t)
	h.camera.openErr = errCamera
	h.p = New(Options{Camera: h.camera, Display: h.display, Refresher: h.ref})
	require.NoError(t, h.p.Initialize(context.Background()))

	err := h.p.StartCamera(context.Background())
	assert.ErrorIs(t, err, ErrCameraAccess)
	assert.ErrorIs(t, err, errCamera)
	assert.Equal(t, Ready, h.p.State())
	assert.Nil(t, h.display.stream())
	assert.Empty(t, h.p.Status().Session)
}

func TestPipeline_RestartFailureLeavesIdle(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.camera.setOpenErr(errCamera)
	err := h.p.StartCamera(context.Background())
	assert.ErrorIs(t, err, ErrCameraAccess)

	assert.Equal(t, Idle, h.p.State())
	assert.True(t, h.camera.streams()[0].stopped())
	assert.Nil(t, h.display.stream())
}

func TestPipeline_SelectDeviceWhileCapturing(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	require.NoError(t, h.p.SelectDevice(context.Background(), "cam1"))

	streams := h.camera.streams()
	require.Len(t, streams, 2)
	assert.True(t, streams[0].stopped())
	assert.Equal(t, "cam1", h.camera.constraints[1].DeviceID)
	assert.Equal(t, Capturing, h.p.State())
}

func TestPipeline_StartCameraWhileInitializing(t *testing.T) {
	h := newHarness(t)
	h.cls.started = make(chan struct{})
	h.cls.gate = make(chan struct{})
	h.build()

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- h.p.Initialize(ctx) }()

	<-h.cls.started
	assert.Equal(t, Initializing, h.p.State())
	assert.ErrorIs(t, h.p.StartCamera(ctx), ErrBusy)
	assert.Empty(t, h.camera.streams())

	close(h.cls.gate)
	require.NoError(t, <-done)
	assert.Equal(t, Ready, h.p.State())

	require.NoError(t, h.p.StartCamera(ctx))
	assert.Equal(t, Capturing, h.p.State())

	require.NoError(t, h.p.SelectDevice(ctx, "cam1"))
	streams := h.camera.streams()
	require.Len(t, streams, 2)
	assert.True(t, streams[0].stopped())
	assert.Equal(t, Capturing, h.p.State())

	require.NoError(t, h.p.StopCamera())
	assert.Equal(t, Idle, h.p.State())
}

func TestPipeline_SelectDeviceWhileIdle(t *testing.T) {
	h := newHarness(t)
	h.p = New(Options{Camera: h.camera, Display: h.display, Refresher: h.ref})
	require.NoError(t, h.p.Initialize(context.Background()))

	require.NoError(t, h.p.SelectDevice(context.Background(), "cam1"))
	assert.Equal(t, "cam1", h.p.DeviceID())
	assert.Empty(t, h.camera.streams())
}

func TestPipeline_FrameLoop(t *testing.T) {
	h := newHarness(t)
	h.lm.face = testFace(0.05)
	h.start(t)

	// refresh ticks run on their own clock, unrelated to the pipeline one
	base := time.Date(2030, 6, 1, 8, 0, 0, 0, time.UTC)
	h.ref.ticks <- base

	assert.Eventually(t, func() bool { return h.display.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.display.last().FPS)

	h.ref.ticks <- base.Add(20 * time.Millisecond)

	assert.Eventually(t, func() bool { return h.display.count() == 2 }, time.Second, 5*time.Millisecond)
	o := h.display.last()
	assert.Equal(t, 50, o.FPS)
	assert.True(t, o.Detected)

	sent := h.lm.sentFrames()
	require.Len(t, sent, 2)
	assert.Equal(t, uint64(1), sent[0].Seq)
	assert.Equal(t, uint64(2), sent[1].Seq)
	assert.Equal(t, base.Add(20*time.Millisecond), sent[1].Timestamp)
	assert.Equal(t, h.p.Status().Session, sent[1].Session)
}

func TestPipeline_FrameLoopSkipsUnavailableFrames(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	stream := h.camera.streams()[0]
	stream.setFrameErr(errors.New("device busy"))

	// the second tick is only received once the first iteration completed
	h.ref.ticks <- h.clock.Now().Add(16 * time.Millisecond)
	h.ref.ticks <- h.clock.Now().Add(32 * time.Millisecond)

	assert.Empty(t, h.lm.sentFrames())
	assert.Zero(t, h.display.count())

	stream.setFrameErr(nil)
	stream.mu.Lock()
	stream.ready = false
	stream.mu.Unlock()

	h.ref.ticks <- h.clock.Now().Add(48 * time.Millisecond)
	h.ref.ticks <- h.clock.Now().Add(64 * time.Millisecond)
	assert.Empty(t, h.lm.sentFrames())
}

func TestPipeline_FrameLoopWithoutTracking(t *testing.T) {
	h := newHarness(t)
	h.lm.loadErr = errors.New("no backend")
	h.start(t)

	h.ref.ticks <- h.clock.Now()
	h.ref.ticks <- h.clock.Now().Add(25 * time.Millisecond)

	assert.Eventually(t, func() bool { return h.display.count() == 2 }, time.Second, 5*time.Millisecond)
	o := h.display.last()
	assert.False(t, o.Detected)
	assert.Empty(t, o.Irises)
	assert.Equal(t, 40, o.FPS)
	assert.Empty(t, h.lm.sentFrames())
}

func TestPipeline_Subscribe(t *testing.T) {
	h := newHarness(t)
	h.p = New(Options{Camera: h.camera, Display: h.display, Refresher: h.ref})

	updates, cancel := h.p.Subscribe(16)
	defer cancel()

	require.NoError(t, h.p.Initialize(context.Background()))
	require.NoError(t, h.p.StartCamera(context.Background()))

	var states []State
	for len(updates) > 0 {
		states = append(states, (<-updates).State)
	}
	assert.Equal(t, []State{Initializing, Ready, Capturing}, states)
}

func TestPipeline_Close(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	updates, _ := h.p.Subscribe(1)

	require.NoError(t, h.p.Close())
	require.NoError(t, h.p.Close())

	assert.True(t, h.camera.streams()[0].stopped())
	assert.True(t, h.lm.closed)
	assert.True(t, h.cls.closed)

	assert.ErrorIs(t, h.p.StartCamera(context.Background()), ErrClosed)
	assert.ErrorIs(t, h.p.Initialize(context.Background()), ErrClosed)

	for range updates {
	}
}

func TestFrameRate(t *testing.T) {
	fps, ok := frameRate(16 * time.Millisecond)
	assert.True(t, ok)
	assert.Equal(t, 63, fps)

	fps, ok = frameRate(33 * time.Millisecond)
	assert.True(t, ok)
	assert.Equal(t, 30, fps)

	_, ok = frameRate(0)
	assert.False(t, ok)
}
