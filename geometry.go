package irisview

import "github.com/esimov/irisview/utils"

// IrisEstimate is the iris center and radius of one eye, in canvas pixels.
type IrisEstimate struct {
	CenterX float64
	CenterY float64
	Radius  float64
}

// Geometry holds the per-frame iris estimates and the eye openness metric.
type Geometry struct {
	Left     IrisEstimate
	Right    IrisEstimate
	Openness float64
}

// EstimateIris computes the iris of one eye from its landmark ring.
// The center is the mean of the four ring points scaled to the canvas.
// The radius is the horizontal distance between the first and second
// ring point (the iris center and its first boundary point). It is not a
// best-fit circle; existing overlays depend on this exact value.
func EstimateIris(lm *LandmarkSet, ring [4]int, width, height float64) IrisEstimate {
	var xSum, ySum float64
	for _, idx := range ring {
		xSum += lm[idx].X * width
		ySum += lm[idx].Y * height
	}
	n := float64(len(ring))

	return IrisEstimate{
		CenterX: xSum / n,
		CenterY: ySum / n,
		Radius:  utils.Abs(lm[ring[0]].X*width - lm[ring[1]].X*width),
	}
}

// EyeOpenness returns the normalized vertical distance between two eyelid landmarks.
func EyeOpenness(lm *LandmarkSet, top, bottom int) float64 {
	return utils.Abs(lm[top].Y - lm[bottom].Y)
}

// Estimate computes both iris estimates for a canvas of the given size.
// The openness metric is taken from the left eye.
func Estimate(lm *LandmarkSet, width, height float64) Geometry {
	return Geometry{
		Left:     EstimateIris(lm, LeftIris, width, height),
		Right:    EstimateIris(lm, RightIris, width, height),
		Openness: EyeOpenness(lm, LeftEyelidTop, LeftEyelidBottom),
	}
}

// contour scales the eye contour edges to canvas pixels.
func contour(lm *LandmarkSet, edges []Edge, width, height float64) []Segment {
	segs := make([]Segment, 0, len(edges))
	for _, e := range edges {
		a, b := lm[e[0]], lm[e[1]]
		segs = append(segs, Segment{
			X0: a.X * width, Y0: a.Y * height,
			X1: b.X * width, Y1: b.Y * height,
		})
	}
	return segs
}
