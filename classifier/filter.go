package classifier

import (
	"image"

	"github.com/disintegration/imaging"
)

// DefaultBlurSigma matches the spread of a 5x5 Gaussian kernel with derived sigma.
const DefaultBlurSigma = 1.1

// Filter is an interchangeable preprocessing stage applied before resizing.
type Filter func(src *image.NRGBA) *image.NRGBA

// GrayscaleBlur converts the image to grayscale and smooths it.
var GrayscaleBlur = Chain(Grayscale, GaussianBlur(DefaultBlurSigma))

// Chain runs the filters in order.
func Chain(filters ...Filter) Filter {
	return func(src *image.NRGBA) *image.NRGBA {
		for _, f := range filters {
			if f != nil {
				src = f(src)
			}
		}
		return src
	}
}

// Grayscale replaces the R, G and B channels of every pixel with its luminance.
// The alpha channel is left unchanged.
func Grayscale(src *image.NRGBA) *image.NRGBA {
	dst := image.NewNRGBA(src.Bounds())
	dx, dy := src.Bounds().Dx(), src.Bounds().Dy()

	for y := 0; y < dy; y++ {
		si := src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y)
		di := dst.PixOffset(dst.Rect.Min.X, dst.Rect.Min.Y+y)
		for x := 0; x < dx; x++ {
			r, g, b := float64(src.Pix[si]), float64(src.Pix[si+1]), float64(src.Pix[si+2])
			lum := uint8(0.299*r + 0.587*g + 0.114*b)

			dst.Pix[di+0] = lum
			dst.Pix[di+1] = lum
			dst.Pix[di+2] = lum
			dst.Pix[di+3] = src.Pix[si+3]

			si += 4
			di += 4
		}
	}
	return dst
}

// GaussianBlur returns a filter blurring the image with the given sigma.
func GaussianBlur(sigma float64) Filter {
	return func(src *image.NRGBA) *image.NRGBA {
		return imaging.Blur(src, sigma)
	}
}
