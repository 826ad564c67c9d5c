package preview

import (
	"image"
	"image/color"

	"gioui.org/f32"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/unit"
	"gioui.org/widget/material"
	"github.com/esimov/irisview"
	"github.com/esimov/irisview/utils"
)

// strokeWidth is the overlay line width, in screen pixels.
const strokeWidth = 2

// drawShapes draws the eye contours and the iris circles. The ops are
// expected to be transformed into overlay canvas space.
func (w *Window) drawShapes(gtx C, o *irisview.Overlay, scale float32) {
	width := strokeWidth / scale

	for _, s := range o.Contours {
		drawLine(gtx.Ops, f32.Pt(float32(s.X0), float32(s.Y0)), f32.Pt(float32(s.X1), float32(s.Y1)), width, irisview.EyelidColor)
	}
	for _, c := range o.Irises {
		drawCircle(gtx.Ops, float32(c.X), float32(c.Y), float32(c.R), width, irisview.IrisColor)
	}
}

// drawText writes the fps counter, the detection indicator and the
// classification status in the top left corner of the video.
func (w *Window) drawText(gtx C, o *irisview.Overlay, tr transform) {
	lines := []string{o.FPSText(), o.Indicator()}
	if st := o.StatusText(); st != "" {
		lines = append(lines, st)
	}

	defer op.Offset(image.Pt(int(tr.offset.X), int(tr.offset.Y))).Push(gtx.Ops).Pop()

	children := make([]layout.FlexChild, 0, len(lines))
	for _, txt := range lines {
		txt := txt
		children = append(children, layout.Rigid(func(gtx C) D {
			return layout.UniformInset(unit.Dp(4)).Layout(gtx, func(gtx C) D {
				l := material.Label(w.theme, unit.Sp(18), txt)
				l.Color = irisview.TextColor
				return l.Layout(gtx)
			})
		}))
	}
	layout.Flex{Axis: layout.Vertical}.Layout(gtx, children...)
}

// drawLine strokes the segment between p1 and p2.
func drawLine(ops *op.Ops, p1, p2 f32.Point, width float32, col color.NRGBA) {
	var path clip.Path
	path.Begin(ops)
	path.MoveTo(p1)
	path.LineTo(p2)

	defer clip.Stroke{Path: path.End(), Width: width}.Op().Push(ops).Pop()
	paint.ColorOp{Color: col}.Add(ops)
	paint.PaintOp{}.Add(ops)
}

// drawCircle strokes the outline of a circle centered at (x, y).
func drawCircle(ops *op.Ops, x, y, radius, width float32, col color.NRGBA) {
	if radius <= 0 {
		return
	}
	rect := image.Rect(
		int(x-radius), int(y-radius),
		int(x+radius+0.5), int(y+radius+0.5),
	)

	defer clip.Stroke{Path: clip.Ellipse(rect).Path(ops), Width: width}.Op().Push(ops).Pop()
	paint.ColorOp{Color: col}.Add(ops)
	paint.PaintOp{}.Add(ops)
}

// transform maps video pixels into window pixels.
type transform struct {
	scale  float32
	offset f32.Point
}

func (t transform) affine() f32.Affine2D {
	return f32.Affine2D{}.
		Scale(f32.Point{}, f32.Pt(t.scale, t.scale)).
		Offset(t.offset)
}

// fit returns the transform fitting a frame into the window while
// keeping its aspect ratio, centered.
func fit(frame, window image.Point) transform {
	if frame.X <= 0 || frame.Y <= 0 || window.X <= 0 || window.Y <= 0 {
		return transform{scale: 1}
	}
	sx := float32(window.X) / float32(frame.X)
	sy := float32(window.Y) / float32(frame.Y)
	s := utils.Min(sx, sy)

	return transform{
		scale: s,
		offset: f32.Pt(
			(float32(window.X)-float32(frame.X)*s)/2,
			(float32(window.Y)-float32(frame.Y)*s)/2,
		),
	}
}

// displayed returns the size of a frame fitted into the window, or the
// frame size when the window size is not known yet.
func displayed(frame, window image.Point) image.Point {
	if window.X <= 0 || window.Y <= 0 {
		return frame
	}
	tr := fit(frame, window)
	return image.Pt(
		int(float32(frame.X)*tr.scale+0.5),
		int(float32(frame.Y)*tr.scale+0.5),
	)
}

// canvasTransform maps an overlay canvas of the given width onto the
// window, given the transform of the frame it was computed for.
func canvasTransform(tr transform, frame image.Point, canvasWidth int) transform {
	if canvasWidth <= 0 || frame.X <= 0 {
		return tr
	}
	return transform{
		scale:  tr.scale * float32(frame.X) / float32(canvasWidth),
		offset: tr.offset,
	}
}

// windowSize returns the initial window size, shrunk to fit the screen
// while keeping the frame aspect ratio.
func windowSize(w, h float32) (float32, float32) {
	r := getRatio(w, h)
	return w * r, h * r
}

// getRatio returns the scale keeping a w x h frame within the screen.
func getRatio(w, h float32) float32 {
	var r float32 = 1
	if w > maxScreenX || h > maxScreenY {
		wr := maxScreenX / w // width ratio
		hr := maxScreenY / h // height ratio

		r = utils.Min(wr, hr)
	}
	return r
}
