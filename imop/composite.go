// Package imop implements the Porter-Duff composition operations and the
// separable blend modes used to merge an overlay layer with a video frame.
// The image/draw package only offers source and source-over-destination.
package imop

import (
	"errors"
	"fmt"
	"image"

	"github.com/esimov/irisview/utils"
)

// Op is a Porter-Duff composition operation.
type Op string

const (
	Clear   Op = "clear"
	Copy    Op = "copy"
	Dst     Op = "dst"
	SrcOver Op = "src_over"
	DstOver Op = "dst_over"
	SrcIn   Op = "src_in"
	DstIn   Op = "dst_in"
	SrcOut  Op = "src_out"
	DstOut  Op = "dst_out"
	SrcAtop Op = "src_atop"
	DstAtop Op = "dst_atop"
	Xor     Op = "xor"
)

// ErrUnsupported is returned for unknown operations or blend modes.
var ErrUnsupported = errors.New("imop: unsupported operation")

// ErrSizeMismatch is returned when the source and backdrop sizes differ.
var ErrSizeMismatch = errors.New("imop: source and backdrop sizes differ")

// Composite composes src onto dst in place: dst is the backdrop and
// receives the result. Both images must have the same size.
// When mode is not Normal, the source colors are blended with the backdrop
// before composition.
func Composite(dst, src *image.NRGBA, op Op, mode Mode) error {
	if _, ok := factors[op]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsupported, op)
	}
	blend, ok := modes[mode]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupported, mode)
	}
	if dst.Bounds().Size() != src.Bounds().Size() {
		return ErrSizeMismatch
	}

	fa := factors[op]
	dx, dy := src.Bounds().Dx(), src.Bounds().Dy()
	for y := 0; y < dy; y++ {
		si := src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y)
		di := dst.PixOffset(dst.Rect.Min.X, dst.Rect.Min.Y+y)
		for x := 0; x < dx; x++ {
			s := load(src.Pix[si : si+4])
			b := load(dst.Pix[di : di+4])

			if blend != nil && b.a > 0 {
				// The blended color replaces the source color where the
				// backdrop is opaque.
				mixed := blend(s, b)
				s.r = (1-b.a)*s.r + b.a*mixed.r
				s.g = (1-b.a)*s.g + b.a*mixed.g
				s.b = (1-b.a)*s.b + b.a*mixed.b
			}
			store(dst.Pix[di:di+4], compose(s, b, fa))

			si += 4
			di += 4
		}
	}
	return nil
}

// rgba is a non-premultiplied color with channels in [0, 1].
type rgba struct {
	r, g, b, a float64
}

// factor returns the Porter-Duff fractions (Fa, Fb) of the source and the
// backdrop for the given alphas.
type factor func(as, ab float64) (fa, fb float64)

var factors = map[Op]factor{
	Clear:   func(as, ab float64) (float64, float64) { return 0, 0 },
	Copy:    func(as, ab float64) (float64, float64) { return 1, 0 },
	Dst:     func(as, ab float64) (float64, float64) { return 0, 1 },
	SrcOver: func(as, ab float64) (float64, float64) { return 1, 1 - as },
	DstOver: func(as, ab float64) (float64, float64) { return 1 - ab, 1 },
	SrcIn:   func(as, ab float64) (float64, float64) { return ab, 0 },
	DstIn:   func(as, ab float64) (float64, float64) { return 0, as },
	SrcOut:  func(as, ab float64) (float64, float64) { return 1 - ab, 0 },
	DstOut:  func(as, ab float64) (float64, float64) { return 0, 1 - as },
	SrcAtop: func(as, ab float64) (float64, float64) { return ab, 1 - as },
	DstAtop: func(as, ab float64) (float64, float64) { return 1 - ab, as },
	Xor:     func(as, ab float64) (float64, float64) { return 1 - ab, 1 - as },
}

// compose applies co = as·Fa·Cs + ab·Fb·Cb and ao = as·Fa + ab·Fb.
func compose(s, b rgba, f factor) rgba {
	fa, fb := f(s.a, b.a)
	ao := s.a*fa + b.a*fb
	if ao <= 0 {
		return rgba{}
	}
	return rgba{
		r: (s.a*fa*s.r + b.a*fb*b.r) / ao,
		g: (s.a*fa*s.g + b.a*fb*b.g) / ao,
		b: (s.a*fa*s.b + b.a*fb*b.b) / ao,
		a: ao,
	}
}

func load(p []uint8) rgba {
	return rgba{
		r: float64(p[0]) / 255,
		g: float64(p[1]) / 255,
		b: float64(p[2]) / 255,
		a: float64(p[3]) / 255,
	}
}

func store(p []uint8, c rgba) {
	p[0] = toByte(c.r)
	p[1] = toByte(c.g)
	p[2] = toByte(c.b)
	p[3] = toByte(c.a)
}

func toByte(v float64) uint8 {
	return uint8(utils.Clamp(v, 0, 1)*255 + 0.5)
}
