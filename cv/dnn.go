package cv

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"strings"
	"sync"

	"github.com/esimov/irisview/classifier"
	"github.com/esimov/irisview/model"
	"gocv.io/x/gocv"
)

// Graph is a classification network run by the OpenCV DNN module.
type Graph struct {
	mu  sync.Mutex
	net gocv.Net
}

var _ classifier.GraphModel = (*Graph)(nil)

// Framework returns the OpenCV DNN framework name of a model artifact.
func Framework(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pb", ".pbtxt":
		return "tensorflow"
	case ".onnx":
		return "onnx"
	case ".caffemodel":
		return "caffe"
	case ".t7", ".net":
		return "torch"
	case ".weights":
		return "darknet"
	}
	return ""
}

// LoadGraph returns a loader fetching the model (and its optional config)
// from a local path or URL.
func LoadGraph(src, config string) classifier.Loader {
	return func(ctx context.Context, progress model.Progress) (classifier.GraphModel, error) {
		framework := Framework(src)
		if framework == "" {
			return nil, fmt.Errorf("unsupported model format: %s", src)
		}

		weights, err := model.Fetch(ctx, src, progress)
		if err != nil {
			return nil, err
		}
		var cfg []byte
		if config != "" {
			if cfg, err = model.Fetch(ctx, config, nil); err != nil {
				return nil, err
			}
		}

		net, err := gocv.ReadNetBytes(framework, weights, cfg)
		if err != nil {
			return nil, fmt.Errorf("unable to parse the %s model: %w", framework, err)
		}
		if net.Empty() {
			net.Close()
			return nil, errors.New("the classification network is empty")
		}
		return &Graph{net: net}, nil
	}
}

// Execute runs the network on a [1, h, w, 3] tensor and returns the scores.
func (g *Graph) Execute(in *classifier.Tensor) ([]float32, error) {
	if in.Shape[0] != 1 || in.Shape[3] != 3 {
		return nil, fmt.Errorf("unsupported input shape %v", in.Shape)
	}
	h, w := in.Shape[1], in.Shape[2]

	img, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV32FC3, float32Bytes(in.Data))
	if err != nil {
		return nil, fmt.Errorf("unable to build the input matrix: %w", err)
	}
	defer img.Close()

	blob := gocv.BlobFromImage(img, 1.0, image.Pt(w, h), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.net.SetInput(blob, "")
	out := g.net.Forward("")
	defer out.Close()

	scores, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("unable to read the network output: %w", err)
	}
	return append([]float32(nil), scores...), nil
}

// Close releases the network.
func (g *Graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.net.Close()
}

// float32Bytes encodes the values in the machine (little endian) layout
// expected by OpenCV matrices.
func float32Bytes(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}
