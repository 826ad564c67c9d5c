// Package headless implements a Display writing annotated frames to disk,
// for machines without a window system.
package headless

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"github.com/esimov/irisview"
	"github.com/esimov/irisview/imop"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

const (
	strokeWidth = 2
	lineHeight  = 16
	textMargin  = 8
)

// bandColor darkens the area behind the overlay text.
var bandColor = color.NRGBA{R: 0x40, G: 0x40, B: 0x40, A: 0xc0}

// Annotate returns a copy of frame with the overlay drawn over it.
// The overlay is scaled when its canvas size differs from the frame size.
func Annotate(frame *image.NRGBA, o *irisview.Overlay) (*image.NRGBA, error) {
	out := imaging.Clone(frame)
	if o == nil {
		return out, nil
	}
	b := out.Bounds()

	sx, sy := 1.0, 1.0
	if o.Width > 0 && o.Height > 0 {
		sx = float64(b.Dx()) / float64(o.Width)
		sy = float64(b.Dy()) / float64(o.Height)
	}

	lines := textLines(o)
	band := image.NewNRGBA(b)
	bandRect := image.Rect(0, 0, textWidth(lines)+2*textMargin, len(lines)*lineHeight+textMargin)
	draw.Draw(band, bandRect, &image.Uniform{bandColor}, image.Point{}, draw.Src)
	if err := imop.Composite(out, band, imop.SrcOver, imop.Multiply); err != nil {
		return nil, err
	}

	layer := image.NewNRGBA(b)
	r := vector.NewRasterizer(b.Dx(), b.Dy())
	for _, s := range o.Contours {
		strokeLine(r, s.X0*sx, s.Y0*sy, s.X1*sx, s.Y1*sy, strokeWidth)
	}
	paint(layer, r, irisview.EyelidColor)

	r.Reset(b.Dx(), b.Dy())
	for _, c := range o.Irises {
		strokeCircle(r, c.X*sx, c.Y*sy, c.R*math.Min(sx, sy), strokeWidth)
	}
	paint(layer, r, irisview.IrisColor)

	drawText(layer, lines)

	if err := imop.Composite(out, layer, imop.SrcOver, imop.Normal); err != nil {
		return nil, err
	}
	return out, nil
}

func textLines(o *irisview.Overlay) []string {
	lines := []string{o.FPSText(), o.Indicator()}
	if st := o.StatusText(); st != "" {
		lines = append(lines, st)
	}
	return lines
}

func textWidth(lines []string) int {
	var w fixed.Int26_6
	for _, l := range lines {
		if lw := font.MeasureString(basicfont.Face7x13, l); lw > w {
			w = lw
		}
	}
	return w.Ceil()
}

func drawText(dst draw.Image, lines []string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(irisview.TextColor),
		Face: basicfont.Face7x13,
	}
	for i, l := range lines {
		d.Dot = fixed.P(textMargin, (i+1)*lineHeight)
		d.DrawString(l)
	}
}

func paint(dst draw.Image, r *vector.Rasterizer, c color.NRGBA) {
	r.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{})
}

// strokeLine adds the outline of a line of the given width to the rasterizer.
func strokeLine(r *vector.Rasterizer, x0, y0, x1, y1, width float64) {
	dx, dy := x1-x0, y1-y0
	l := math.Hypot(dx, dy)
	if l == 0 {
		return
	}
	// half width normal
	nx, ny := -dy/l*width/2, dx/l*width/2

	r.MoveTo(float32(x0+nx), float32(y0+ny))
	r.LineTo(float32(x1+nx), float32(y1+ny))
	r.LineTo(float32(x1-nx), float32(y1-ny))
	r.LineTo(float32(x0-nx), float32(y0-ny))
	r.ClosePath()
}

// strokeCircle adds a ring of the given width centered on the circle.
// The inner contour runs in the opposite direction to cut the hole.
func strokeCircle(r *vector.Rasterizer, cx, cy, radius, width float64) {
	if radius <= 0 {
		return
	}
	const steps = 64
	outer, inner := radius+width/2, math.Max(radius-width/2, 0)

	ring := func(rad float64, dir float64) {
		for i := 0; i <= steps; i++ {
			theta := dir * 2 * math.Pi * float64(i) / steps
			x := float32(cx + rad*math.Cos(theta))
			y := float32(cy + rad*math.Sin(theta))
			if i == 0 {
				r.MoveTo(x, y)
				continue
			}
			r.LineTo(x, y)
		}
		r.ClosePath()
	}
	ring(outer, 1)
	if inner > 0 {
		ring(inner, -1)
	}
}
