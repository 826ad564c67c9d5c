package classifier

import (
	"sync"
	"sync/atomic"
)

// Tensor is a dense float32 tensor in NHWC layout.
type Tensor struct {
	Shape [4]int
	Data  []float32
}

// Len returns the number of elements described by the shape.
func (t *Tensor) Len() int {
	return t.Shape[0] * t.Shape[1] * t.Shape[2] * t.Shape[3]
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float32) {
	for i := range t.Data {
		t.Data[i] = v
	}
}

// tensorPool recycles the input tensors of one fixed shape.
// live counts the tensors handed out and not yet returned.
type tensorPool struct {
	shape [4]int
	pool  sync.Pool
	live  int64
}

func newTensorPool(shape [4]int) *tensorPool {
	tp := &tensorPool{shape: shape}
	tp.pool.New = func() any {
		t := &Tensor{Shape: shape}
		t.Data = make([]float32, t.Len())
		return t
	}
	return tp
}

func (tp *tensorPool) get() *Tensor {
	atomic.AddInt64(&tp.live, 1)
	return tp.pool.Get().(*Tensor)
}

func (tp *tensorPool) put(t *Tensor) {
	if t == nil {
		return
	}
	atomic.AddInt64(&tp.live, -1)
	tp.pool.Put(t)
}

func (tp *tensorPool) outstanding() int64 {
	return atomic.LoadInt64(&tp.live)
}
