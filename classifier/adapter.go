// Package classifier implements the eyewear classifier: model lifecycle,
// image preprocessing and single image inference over a graph model.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/esimov/irisview/model"
)

const (
	// InputSize is the side of the square model input.
	InputSize = 128
	// NoDetection is returned when the model produced no usable score.
	NoDetection = "No detection"
)

// DefaultLabels are the class names of the eyewear model, in output order.
var DefaultLabels = []string{
	"covering",
	"glasses",
	"plain",
	"sunglasses",
	"sunglasses-imagenet",
}

// ErrEmptyImage is returned when the image to classify has no pixels.
var ErrEmptyImage = errors.New("classifier: empty image")

// GraphModel is a loaded classification graph. Execute takes a normalized
// [1, size, size, 3] tensor and returns one score per class.
type GraphModel interface {
	Execute(in *Tensor) ([]float32, error)
	Close() error
}

// Loader fetches and parses a graph model, reporting its progress.
type Loader func(ctx context.Context, progress model.Progress) (GraphModel, error)

// Adapter owns the classification model and turns images into labels.
type Adapter struct {
	Labels     []string
	InputSize  int
	Preprocess Filter
	OnProgress model.Progress
	Logger     *log.Logger

	load    Loader
	handle  model.Handle[GraphModel]
	once    sync.Once
	tensors *tensorPool
}

// New returns an adapter loading its model with load.
func New(load Loader) *Adapter {
	return &Adapter{
		Labels:    DefaultLabels,
		InputSize: InputSize,
		Logger:    log.New(io.Discard, "", 0),
		load:      load,
	}
}

// Load loads the model and runs one warm-up inference on a neutral input,
// so that lazy initialization does not happen on the first real prediction.
func (a *Adapter) Load(ctx context.Context) error {
	if a.load == nil {
		return errors.New("classifier: no model loader")
	}
	err := a.handle.Load(ctx, func(ctx context.Context) (GraphModel, error) {
		a.logf("Starting model load...")
		m, err := a.load(ctx, a.OnProgress)
		if err != nil {
			return nil, fmt.Errorf("classifier: error loading model: %w", err)
		}
		if err := a.warmUp(m); err != nil {
			m.Close()
			return nil, fmt.Errorf("classifier: warm-up inference failed: %w", err)
		}
		return m, nil
	})
	if err != nil {
		a.logf("Error loading model: %v", err)
		return err
	}
	a.logf("Model load Status : Done")

	return nil
}

// State returns the model lifecycle state.
func (a *Adapter) State() model.State {
	return a.handle.State()
}

// Predict classifies a single image of arbitrary size. It fails with
// model.ErrNotLoaded until Load has completed.
func (a *Adapter) Predict(ctx context.Context, img image.Image) (string, error) {
	m, done, err := a.handle.Acquire()
	if err != nil {
		return "", err
	}
	defer done()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if img == nil || img.Bounds().Empty() {
		return "", ErrEmptyImage
	}

	src := ToNRGBA(img)
	if a.Preprocess != nil {
		src = a.Preprocess(src)
	}
	size := a.inputSize()
	resized := imaging.Resize(src, size, size, imaging.Linear)

	tp := a.pool()
	t := tp.get()
	defer tp.put(t)

	normalize(resized, t)

	scores, err := m.Execute(t)
	if err != nil {
		return "", fmt.Errorf("classifier: inference failed: %w", err)
	}
	return a.Label(scores), nil
}

// Label maps model scores to a class name.
func (a *Adapter) Label(scores []float32) string {
	idx := Argmax(scores)
	if idx < 0 || idx >= len(a.Labels) {
		return NoDetection
	}
	return a.Labels[idx]
}

// LiveTensors returns the number of input tensors currently in use.
func (a *Adapter) LiveTensors() int64 {
	return a.pool().outstanding()
}

// Close releases the loaded model once the running predictions returned.
func (a *Adapter) Close() error {
	if m, ok := a.handle.Release(); ok {
		return m.Close()
	}
	return nil
}

// Argmax returns the index of the first maximum score,
// or -1 when scores is empty or contains NaN.
func Argmax(scores []float32) int {
	idx := -1
	var best float32
	for i, s := range scores {
		if math.IsNaN(float64(s)) {
			return -1
		}
		if idx < 0 || s > best {
			idx, best = i, s
		}
	}
	return idx
}

func (a *Adapter) warmUp(m GraphModel) error {
	tp := a.pool()
	t := tp.get()
	defer tp.put(t)

	t.Fill(1)
	_, err := m.Execute(t)

	return err
}

func (a *Adapter) inputSize() int {
	if a.InputSize <= 0 {
		return InputSize
	}
	return a.InputSize
}

func (a *Adapter) pool() *tensorPool {
	a.once.Do(func() {
		size := a.inputSize()
		a.tensors = newTensorPool([4]int{1, size, size, 3})
	})
	return a.tensors
}

func (a *Adapter) logf(format string, v ...any) {
	if a.Logger != nil {
		a.Logger.Printf(format, v...)
	}
}

// normalize writes the RGB channels of img into t, scaled to [0, 1].
func normalize(img *image.NRGBA, t *Tensor) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	i := 0
	for y := 0; y < h; y++ {
		off := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		for x := 0; x < w; x++ {
			t.Data[i+0] = float32(img.Pix[off+0]) / 255
			t.Data[i+1] = float32(img.Pix[off+1]) / 255
			t.Data[i+2] = float32(img.Pix[off+2]) / 255
			i += 3
			off += 4
		}
	}
}
