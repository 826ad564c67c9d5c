package irisview

import (
	"errors"
	"fmt"
)

// NumLandmarks is the number of points in a refined face mesh:
// 468 face points followed by two groups of 5 iris points.
const NumLandmarks = 478

// Eyelid landmark indices used for the openness gate.
const (
	LeftEyelidTop     = 159
	LeftEyelidBottom  = 145
	RightEyelidTop    = 386
	RightEyelidBottom = 374
)

// Iris rings: the iris center followed by three points of the iris boundary.
var (
	LeftIris  = [4]int{468, 469, 470, 471}
	RightIris = [4]int{473, 474, 475, 476}
)

// ErrIncompleteLandmarks is returned when a landmark model output
// does not carry the refined iris points.
var ErrIncompleteLandmarks = errors.New("irisview: incomplete landmark set")

// Point is a landmark position in normalized image coordinates.
type Point struct {
	X, Y, Z float64
}

// Edge connects two landmark indices.
type Edge [2]int

// LandmarkSet holds the landmarks of a single face, index-addressed by anatomical meaning.
type LandmarkSet [NumLandmarks]Point

// Eye contours, drawn as connected segments around each eye.
var (
	LeftEyeContour = []Edge{
		{33, 7}, {7, 163}, {163, 144}, {144, 145}, {145, 153}, {153, 154}, {154, 155}, {155, 133},
		{33, 246}, {246, 161}, {161, 160}, {160, 159}, {159, 158}, {158, 157}, {157, 173}, {173, 133},
	}
	RightEyeContour = []Edge{
		{263, 249}, {249, 390}, {390, 373}, {373, 374}, {374, 380}, {380, 381}, {381, 382}, {382, 362},
		{263, 466}, {466, 388}, {388, 387}, {387, 386}, {386, 385}, {385, 384}, {384, 398}, {398, 362},
	}
)

// NewLandmarkSet converts the raw point list produced by a landmark model
// into a fixed-size LandmarkSet. Models running without iris refinement
// produce only 468 points and are rejected.
func NewLandmarkSet(points []Point) (*LandmarkSet, error) {
	if len(points) != NumLandmarks {
		return nil, fmt.Errorf("%w: got %d points, want %d", ErrIncompleteLandmarks, len(points), NumLandmarks)
	}
	lm := new(LandmarkSet)
	copy(lm[:], points)

	return lm, nil
}

// Bounds returns the normalized bounding box enclosing every non-zero landmark.
func (lm *LandmarkSet) Bounds() (minX, minY, maxX, maxY float64) {
	minX, minY = 1, 1
	var found bool
	for _, p := range lm {
		if p.X == 0 && p.Y == 0 {
			continue
		}
		found = true
		if p.X < minX {
			minX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	if !found {
		return 0, 0, 0, 0
	}
	return minX, minY, maxX, maxY
}
