package imop

import "github.com/esimov/irisview/utils"

// Mode is a separable blend mode.
type Mode string

const (
	Normal   Mode = ""
	Darken   Mode = "darken"
	Lighten  Mode = "lighten"
	Multiply Mode = "multiply"
	Screen   Mode = "screen"
	Overlay  Mode = "overlay"
)

// blendFunc mixes the source and backdrop colors channel by channel.
type blendFunc func(s, b rgba) rgba

var modes = map[Mode]blendFunc{
	Normal:   nil,
	Darken:   separable(utils.Min[float64]),
	Lighten:  separable(utils.Max[float64]),
	Multiply: separable(func(cs, cb float64) float64 { return cs * cb }),
	Screen:   separable(func(cs, cb float64) float64 { return cs + cb - cs*cb }),
	Overlay:  separable(overlay),
}

func separable(fn func(cs, cb float64) float64) blendFunc {
	return func(s, b rgba) rgba {
		return rgba{
			r: fn(s.r, b.r),
			g: fn(s.g, b.g),
			b: fn(s.b, b.b),
			a: s.a,
		}
	}
}

// overlay is hard light with the layers swapped.
func overlay(cs, cb float64) float64 {
	if cb <= 0.5 {
		return 2 * cs * cb
	}
	return 1 - 2*(1-cs)*(1-cb)
}
