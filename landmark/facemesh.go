package landmark

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/esimov/irisview"
	"github.com/esimov/irisview/model"
)

// Response status bytes of the worker protocol.
const (
	statusOK    = 0
	statusError = 1
)

// FaceMesh is a landmark model backed by a MediaPipe FaceMesh worker process.
// Frames are sent JPEG encoded on the worker's stdin; results come back as
// JSON on a side-channel pipe (fd 3), so that library logs written to
// stdout or stderr never corrupt the protocol.
//
// Protocol, both directions: [uint32 big endian length][payload].
// A response payload starts with a status byte: 0 followed by the JSON
// result, or 1 followed by an error message.
type FaceMesh struct {
	Python  string
	Script  string
	Quality int
	Logger  *log.Logger

	handle model.Handle[*meshWorker]

	mu      sync.Mutex
	handler func(irisview.LandmarkResult)
}

// NewFaceMesh returns a FaceMesh model running the given worker script.
func NewFaceMesh(script string) *FaceMesh {
	return &FaceMesh{
		Python:  "python3",
		Script:  script,
		Quality: 90,
		Logger:  log.New(io.Discard, "", 0),
	}
}

var _ irisview.LandmarkModel = (*FaceMesh)(nil)

// meshResponse is the JSON result of one processed frame.
type meshResponse struct {
	Faces [][][3]float64 `json:"faces"`
}

// Load starts the worker and waits for its handshake.
func (m *FaceMesh) Load(ctx context.Context, opts irisview.LandmarkOptions) error {
	return m.handle.Load(ctx, func(ctx context.Context) (*meshWorker, error) {
		args := []string{"-u", m.Script, "--max-faces", strconv.Itoa(opts.MaxFaces)}
		if opts.RefineLandmarks {
			args = append(args, "--refine")
		}
		w, err := startWorker(m.Python, args...)
		if err != nil {
			return nil, err
		}

		// An empty request is answered once the model is initialized.
		done := make(chan error, 1)
		go func() {
			_, err := w.communicate(nil)
			done <- err
		}()

		select {
		case err := <-done:
			if err != nil {
				w.close()
				return nil, fmt.Errorf("facemesh worker handshake failed: %w%s", err, w.logs())
			}
		case <-ctx.Done():
			w.kill()
			return nil, ctx.Err()
		}
		m.Logger.Printf("facemesh worker started (pid %d)", w.pid())

		return w, nil
	})
}

// State returns the worker lifecycle state.
func (m *FaceMesh) State() model.State {
	return m.handle.State()
}

// OnResults registers the result handler.
func (m *FaceMesh) OnResults(fn func(irisview.LandmarkResult)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handler = fn
}

// Send encodes the frame, waits for the worker's answer and delivers it.
func (m *FaceMesh) Send(ctx context.Context, f *irisview.Frame) error {
	w, done, err := m.handle.Acquire()
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

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: m.Quality}); err != nil {
		return fmt.Errorf("unable to encode frame: %w", err)
	}

	body, err := w.communicate(buf.Bytes())
	if err != nil {
		return err
	}
	faces, err := decodeFaces(body)
	if err != nil {
		return err
	}

	m.mu.Lock()
	fn := m.handler
	m.mu.Unlock()

	if fn != nil {
		fn(irisview.LandmarkResult{Frame: f, Faces: faces})
	}
	return nil
}

// Close stops the worker.
func (m *FaceMesh) Close() error {
	if w, ok := m.handle.Release(); ok {
		return w.close()
	}
	return nil
}

// decodeFaces converts the worker result into landmark sets. Faces without
// the refined iris points are rejected.
func decodeFaces(body []byte) ([]*irisview.LandmarkSet, error) {
	var res meshResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("invalid facemesh response: %w", err)
	}

	faces := make([]*irisview.LandmarkSet, 0, len(res.Faces))
	for _, raw := range res.Faces {
		points := make([]irisview.Point, len(raw))
		for i, p := range raw {
			points[i] = irisview.Point{X: p[0], Y: p[1], Z: p[2]}
		}
		lm, err := irisview.NewLandmarkSet(points)
		if err != nil {
			return nil, err
		}
		faces = append(faces, lm)
	}
	return faces, nil
}

// meshWorker is the running worker process.
type meshWorker struct {
	cmd      *exec.Cmd
	stderr   *bytes.Buffer
	stdin    io.WriteCloser
	dataPipe io.ReadCloser

	mu sync.Mutex
}

func startWorker(name string, args ...string) (*meshWorker, error) {
	cmd := exec.Command(name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	// Side-channel pipe, seen as fd 3 by the child.
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{w}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("facemesh worker failed to start: %w", err)
	}
	// Only the child holds the write end from now on.
	w.Close()

	return &meshWorker{
		cmd:      cmd,
		stderr:   stderr,
		stdin:    stdin,
		dataPipe: r,
	}, nil
}

// communicate sends one request and reads its response.
func (w *meshWorker) communicate(data []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := binary.Write(w.stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.dataPipe, header); err != nil {
		return nil, err
	}
	body := make([]byte, binary.BigEndian.Uint32(header))
	if _, err := io.ReadFull(w.dataPipe, body); err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, errors.New("empty facemesh worker response")
	}

	switch body[0] {
	case statusOK:
		return body[1:], nil
	case statusError:
		return nil, fmt.Errorf("facemesh worker error: %s", body[1:])
	}
	return nil, fmt.Errorf("unknown facemesh worker status %d", body[0])
}

func (w *meshWorker) pid() int {
	if w.cmd == nil || w.cmd.Process == nil {
		return 0
	}
	return w.cmd.Process.Pid
}

// logs returns the captured worker output, if any.
func (w *meshWorker) logs() string {
	if w.stderr == nil || w.stderr.Len() == 0 {
		return ""
	}
	return "\nworker logs:\n" + w.stderr.String()
}

func (w *meshWorker) kill() {
	if w.cmd != nil && w.cmd.Process != nil {
		w.cmd.Process.Kill()
	}
	w.close()
}

func (w *meshWorker) close() error {
	w.stdin.Close()
	w.dataPipe.Close()
	if w.cmd == nil {
		return nil
	}
	if err := w.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return err
	}
	return nil
}
