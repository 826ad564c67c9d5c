package irisview

import (
	"fmt"
	"image/color"
)

// Indicator texts drawn on every frame.
const (
	IrisDetectedText = "Iris Detected"
	IrisMissingText  = "Can't Detect Iris"
)

// Overlay colors.
var (
	EyelidColor = color.NRGBA{R: 0xff, A: 0xff}
	IrisColor   = color.NRGBA{G: 0x80, A: 0xff}
	TextColor   = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// Segment is a line segment in canvas pixels.
type Segment struct {
	X0, Y0, X1, Y1 float64
}

// Circle is a circle in canvas pixels.
type Circle struct {
	X, Y, R float64
}

// Overlay is the scene drawn over the video for one frame.
// Coordinates are relative to a canvas of Width x Height pixels,
// which always matches the displayed video size.
type Overlay struct {
	Width    int
	Height   int
	FPS      int
	Detected bool
	Label    string
	Contours []Segment
	Irises   []Circle
}

// FPSText returns the frame rate counter.
func (o *Overlay) FPSText() string {
	return fmt.Sprintf("FPS: %d", o.FPS)
}

// Indicator returns the iris detection text.
func (o *Overlay) Indicator() string {
	if o.Detected {
		return IrisDetectedText
	}
	return IrisMissingText
}

// StatusText returns the classification status line, or an empty string
// when no prediction has been made yet.
func (o *Overlay) StatusText() string {
	if o.Label == "" {
		return ""
	}
	return "Status: " + o.Label
}

// drawGeometry adds the eye contours and both iris circles to the overlay.
func (o *Overlay) drawGeometry(lm *LandmarkSet, g Geometry) {
	w, h := float64(o.Width), float64(o.Height)

	o.Contours = append(o.Contours, contour(lm, LeftEyeContour, w, h)...)
	o.Contours = append(o.Contours, contour(lm, RightEyeContour, w, h)...)

	for _, iris := range []IrisEstimate{g.Left, g.Right} {
		o.Irises = append(o.Irises, Circle{X: iris.CenterX, Y: iris.CenterY, R: iris.Radius})
	}
}
