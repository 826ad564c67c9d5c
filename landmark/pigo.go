// Package landmark provides the face landmark models feeding the frame pipeline.
package landmark

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"sync"

	"github.com/esimov/irisview"
	"github.com/esimov/irisview/model"
	pigo "github.com/esimov/pigo/core"
)

// perturbFact is the number of perturbations used by the pupil localization.
const perturbFact = 63

// Iris and eyelid proportions relative to the detected face size.
const (
	irisScale   = 0.045
	eyelidScale = 1.2
	eyeWidth    = 3.0
)

var (
	leftUpperLid  = []int{33, 246, 161, 160, 159, 158, 157, 173, 133}
	leftLowerLid  = []int{33, 7, 163, 144, 145, 153, 154, 155, 133}
	rightUpperLid = []int{263, 466, 388, 387, 386, 385, 384, 398, 362}
	rightLowerLid = []int{263, 249, 390, 373, 374, 380, 381, 382, 362}
)

// Pigo is a landmark model built on the pigo face and pupil cascades.
// It detects the face and both pupils and synthesizes the iris ring,
// the eyelids and the eye contours of a face mesh around them.
type Pigo struct {
	FaceCascade   string
	PuplocCascade string
	MinSize       int
	MaxSize       int
	ShiftFactor   float64
	ScaleFactor   float64
	IoUThreshold  float64
	// MinQuality is the minimum detection score of a face.
	MinQuality float32
	Angle      float64
	OnProgress model.Progress
	Logger     *log.Logger

	handle model.Handle[*cascades]

	mu      sync.Mutex
	handler func(irisview.LandmarkResult)
}

type cascades struct {
	face   *pigo.Pigo
	puploc *pigo.PuplocCascade
}

// NewPigo returns a pigo landmark model reading its cascades from the given
// files or URLs.
func NewPigo(faceCascade, puplocCascade string) *Pigo {
	return &Pigo{
		FaceCascade:   faceCascade,
		PuplocCascade: puplocCascade,
		MinSize:       100,
		MaxSize:       1200,
		ShiftFactor:   0.1,
		ScaleFactor:   1.1,
		IoUThreshold:  0.2,
		MinQuality:    5,
		Logger:        log.New(io.Discard, "", 0),
	}
}

var _ irisview.LandmarkModel = (*Pigo)(nil)

// Load reads and unpacks both cascades. At most one face is ever
// reported, whatever the options ask for.
func (p *Pigo) Load(ctx context.Context, _ irisview.LandmarkOptions) error {
	return p.handle.Load(ctx, func(ctx context.Context) (*cascades, error) {
		faceData, err := model.Fetch(ctx, p.FaceCascade, scaleProgress(p.OnProgress, 0, 0.5))
		if err != nil {
			return nil, fmt.Errorf("error reading the facefinder cascade file: %w", err)
		}
		face, err := pigo.NewPigo().Unpack(faceData)
		if err != nil {
			return nil, fmt.Errorf("error unpacking the facefinder cascade file: %w", err)
		}

		plcData, err := model.Fetch(ctx, p.PuplocCascade, scaleProgress(p.OnProgress, 0.5, 0.5))
		if err != nil {
			return nil, fmt.Errorf("error reading the puploc cascade file: %w", err)
		}
		plc, err := pigo.NewPuplocCascade().UnpackCascade(plcData)
		if err != nil {
			return nil, fmt.Errorf("error unpacking the puploc cascade file: %w", err)
		}
		p.Logger.Printf("pigo cascades unpacked")

		return &cascades{face: face, puploc: plc}, nil
	})
}

// State returns the cascade lifecycle state.
func (p *Pigo) State() model.State {
	return p.handle.State()
}

// OnResults registers the result handler.
func (p *Pigo) OnResults(fn func(irisview.LandmarkResult)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.handler = fn
}

// Send runs the detection over the frame and delivers the result
// before returning.
func (p *Pigo) Send(ctx context.Context, f *irisview.Frame) error {
	c, done, err := p.handle.Acquire()
	if err != nil {
		return err
	}
	defer done()

	if err := ctx.Err(); err != nil {
		return err
	}
	if !f.Valid() {
		return irisview.ErrInvalidFrame
	}

	res := irisview.LandmarkResult{Frame: f}
	if lm := p.detect(c, f); lm != nil {
		res.Faces = []*irisview.LandmarkSet{lm}
	}

	p.mu.Lock()
	fn := p.handler
	p.mu.Unlock()

	if fn != nil {
		fn(res)
	}
	return nil
}

// Close releases the cascades.
func (p *Pigo) Close() error {
	p.handle.Release()
	return nil
}

// detect returns the landmarks of the best scoring face, or nil when no
// face with two visible pupils is found.
func (p *Pigo) detect(c *cascades, f *irisview.Frame) *irisview.LandmarkSet {
	b := f.Image.Bounds()
	cols, rows := b.Dx(), b.Dy()

	imgParams := pigo.ImageParams{
		Pixels: pigo.RgbToGrayscale(f.Image),
		Rows:   rows,
		Cols:   cols,
		Dim:    cols,
	}
	cParams := pigo.CascadeParams{
		MinSize:     p.MinSize,
		MaxSize:     p.MaxSize,
		ShiftFactor: p.ShiftFactor,
		ScaleFactor: p.ScaleFactor,
		ImageParams: imgParams,
	}

	// Run the classifier over the obtained leaf nodes and return the detection results.
	// The result contains quadruplets representing the row, column, scale and detection score.
	faces := c.face.RunCascade(cParams, p.Angle)
	faces = c.face.ClusterDetections(faces, p.IoUThreshold)

	face, ok := bestFace(faces, p.MinQuality)
	if !ok {
		return nil
	}

	left := c.puploc.RunDetector(pupilSeed(face, -1), imgParams, p.Angle, false)
	right := c.puploc.RunDetector(pupilSeed(face, 1), imgParams, p.Angle, false)
	if left == nil || right == nil || left.Row <= 0 || left.Col <= 0 || right.Row <= 0 || right.Col <= 0 {
		return nil
	}

	return synthesize(
		eye{col: float64(left.Col), row: float64(left.Row)},
		eye{col: float64(right.Col), row: float64(right.Row)},
		float64(face.Scale), float64(cols), float64(rows),
	)
}

// bestFace returns the detection with the highest score above the threshold.
func bestFace(dets []pigo.Detection, minQuality float32) (pigo.Detection, bool) {
	var (
		best  pigo.Detection
		found bool
	)
	for _, d := range dets {
		if d.Q < minQuality {
			continue
		}
		if !found || d.Q > best.Q {
			best, found = d, true
		}
	}
	return best, found
}

// pupilSeed returns the search window of the pupil on the given side of
// the face: -1 for the left side of the image, 1 for the right side.
func pupilSeed(face pigo.Detection, side int) pigo.Puploc {
	return pigo.Puploc{
		Row:      face.Row - int(0.085*float32(face.Scale)),
		Col:      face.Col + side*int(0.185*float32(face.Scale)),
		Scale:    float32(face.Scale) * 0.4,
		Perturbs: perturbFact,
	}
}

// eye is a pupil position in pixels.
type eye struct {
	col, row float64
}

// synthesize builds a landmark set around both pupils. Only the iris rings,
// the eyelid points and the eye contours are populated.
func synthesize(left, right eye, faceScale, width, height float64) *irisview.LandmarkSet {
	lm := new(irisview.LandmarkSet)
	r := faceScale * irisScale

	place := func(idx int, x, y float64) {
		lm[idx] = irisview.Point{X: x / width, Y: y / height}
	}

	setEye := func(e eye, ring [4]int, ringEnd int, upper, lower []int, outward float64) {
		place(ring[0], e.col, e.row)
		place(ring[1], e.col+r, e.row)
		place(ring[2], e.col, e.row-r)
		place(ring[3], e.col-r, e.row)
		place(ringEnd, e.col, e.row+r)

		a, b := eyeWidth*r, eyelidScale*r
		n := len(upper) - 1
		for i := range upper {
			// walk from the outer corner to the inner one
			theta := math.Pi * float64(i) / float64(n)
			x := e.col + outward*a*math.Cos(theta)
			dy := b * math.Sin(theta)
			place(upper[i], x, e.row-dy)
			place(lower[i], x, e.row+dy)
		}
	}
	setEye(left, irisview.LeftIris, 472, leftUpperLid, leftLowerLid, -1)
	setEye(right, irisview.RightIris, 477, rightUpperLid, rightLowerLid, 1)

	return lm
}

// scaleProgress maps the progress of one step into [offset, offset+span].
func scaleProgress(fn model.Progress, offset, span float64) model.Progress {
	if fn == nil {
		return nil
	}
	return func(f float64) {
		fn(offset + f*span)
	}
}
