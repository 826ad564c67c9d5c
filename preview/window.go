// Package preview shows the camera feed and the iris overlay in a Gio window.
package preview

import (
	"context"
	"image"
	"image/color"
	"sync"

	"gioui.org/app"
	"gioui.org/font/gofont"
	"gioui.org/io/key"
	"gioui.org/io/system"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/op/paint"
	"gioui.org/unit"
	"gioui.org/widget/material"
	"github.com/esimov/irisview"
)

type (
	C = layout.Context
	D = layout.Dimensions
)

const (
	maxScreenX = 1366
	maxScreenY = 768
)

var defaultBkgColor = color.NRGBA{A: 0xff}

// Window is a Display rendering the attached stream and the latest overlay.
// Run must be called to open the window; Attach, Render and Detach may be
// called from any goroutine.
type Window struct {
	Title string

	mu      sync.Mutex
	stream  irisview.Stream
	overlay *irisview.Overlay
	win     *app.Window
	theme   *material.Theme
	width   float32
	height  float32

	// frame and viewport are the sizes of the last drawn frame and window.
	frame    image.Point
	viewport image.Point
}

var _ irisview.Display = (*Window)(nil)

// NewWindow returns a preview window sized for frames of w x h pixels.
func NewWindow(title string, w, h int) *Window {
	win := &Window{
		Title: title,
		theme: material.NewTheme(gofont.Collection()),
	}
	win.width, win.height = windowSize(float32(w), float32(h))

	return win
}

// Attach binds a stream to the video sink.
func (w *Window) Attach(s irisview.Stream) {
	w.mu.Lock()
	w.stream = s
	w.overlay = nil
	w.frame = image.Point{}
	win := w.win
	w.mu.Unlock()

	if win != nil {
		win.Invalidate()
	}
}

// Detach unbinds the current stream and clears the overlay.
func (w *Window) Detach() {
	w.mu.Lock()
	w.stream = nil
	w.overlay = nil
	w.frame = image.Point{}
	win := w.win
	w.mu.Unlock()

	if win != nil {
		win.Invalidate()
	}
}

// Size returns the size the video is displayed at: the frame fitted into
// the window. Until the window is first drawn it is the frame size.
func (w *Window) Size() image.Point {
	w.mu.Lock()
	s, frame, view := w.stream, w.frame, w.viewport
	w.mu.Unlock()

	if s == nil {
		return image.Point{}
	}
	if frame == (image.Point{}) {
		f, err := s.Frame()
		if err != nil || !f.Valid() {
			return image.Point{}
		}
		frame = f.Image.Bounds().Size()

		w.mu.Lock()
		if w.stream == s {
			w.frame = frame
		}
		w.mu.Unlock()
	}
	return displayed(frame, view)
}

// Render replaces the overlay drawn over the video.
func (w *Window) Render(o *irisview.Overlay) {
	w.mu.Lock()
	w.overlay = o
	win := w.win
	w.mu.Unlock()

	if win != nil {
		win.Invalidate()
	}
}

// Run opens the window and processes its events until the window is
// closed or ctx is done.
func (w *Window) Run(ctx context.Context) error {
	win := app.NewWindow(
		app.Title(w.Title),
		app.Size(unit.Dp(w.width), unit.Dp(w.height)),
	)

	w.mu.Lock()
	w.win = win
	w.mu.Unlock()

	go func() {
		<-ctx.Done()
		win.Perform(system.ActionClose)
	}()

	var ops op.Ops
	for e := range win.Events() {
		switch e := e.(type) {
		case system.FrameEvent:
			gtx := layout.NewContext(&ops, e)
			w.draw(gtx)
			e.Frame(gtx.Ops)
		case key.Event:
			switch e.Name {
			case key.NameEscape:
				win.Perform(system.ActionClose)
			}
		case system.DestroyEvent:
			w.mu.Lock()
			w.win = nil
			w.mu.Unlock()

			return e.Err
		}
	}
	return nil
}

// draw paints the current frame fitted into the window, then the overlay.
func (w *Window) draw(gtx C) {
	paint.Fill(gtx.Ops, defaultBkgColor)

	w.mu.Lock()
	s, o := w.stream, w.overlay
	w.mu.Unlock()

	if s == nil {
		return
	}
	// Keep redrawing while a stream is attached.
	op.InvalidateOp{}.Add(gtx.Ops)

	f, err := s.Frame()
	if err != nil || !f.Valid() {
		return
	}
	size := f.Image.Bounds().Size()
	tr := fit(size, gtx.Constraints.Max)

	w.mu.Lock()
	if w.stream == s {
		w.frame, w.viewport = size, gtx.Constraints.Max
	}
	w.mu.Unlock()

	stack := op.Affine(tr.affine()).Push(gtx.Ops)
	src := paint.NewImageOp(f.Image)
	src.Add(gtx.Ops)
	paint.PaintOp{}.Add(gtx.Ops)
	stack.Pop()

	if o == nil {
		return
	}
	// The overlay was computed for the displayed size at render time.
	ot := canvasTransform(tr, size, o.Width)
	stack = op.Affine(ot.affine()).Push(gtx.Ops)
	w.drawShapes(gtx, o, ot.scale)
	stack.Pop()

	w.drawText(gtx, o, tr)
}
