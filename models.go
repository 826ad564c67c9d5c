package irisview

import (
	"context"
	"image"

	"github.com/esimov/irisview/model"
)

// LandmarkOptions configure the landmark model.
type LandmarkOptions struct {
	MaxFaces        int
	RefineLandmarks bool
}

// LandmarkResult is delivered by the landmark model for each processed frame.
// Faces holds zero or one landmark set.
type LandmarkResult struct {
	Frame *Frame
	Faces []*LandmarkSet
}

// LandmarkModel detects face landmarks. Frames are submitted with Send;
// results arrive on the handler registered with OnResults, which may be
// invoked before or after Send returns.
type LandmarkModel interface {
	Load(ctx context.Context, opts LandmarkOptions) error
	State() model.State
	OnResults(fn func(LandmarkResult))
	Send(ctx context.Context, f *Frame) error
	Close() error
}

// Classifier labels a single image.
type Classifier interface {
	Load(ctx context.Context) error
	State() model.State
	Predict(ctx context.Context, img image.Image) (string, error)
	Close() error
}
