package vector

import (
	"math"
	"testing"
)

func TestInnerProduct(t *testing.T) {
	if got := InnerProduct([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal: %f", got)
	}
	if got := InnerProduct([]float32{1, 2}, []float32{3, 4}); got != 11 {
		t.Errorf("got %f", got)
	}
	if got := InnerProduct([]float32{1}, []float32{1, 2}); got != 0 {
		t.Errorf("length mismatch should score 0, got %f", got)
	}
	if got := InnerProduct(nil, nil); got != 0 {
		t.Errorf("empty: %f", got)
	}
}

func TestL2Norm(t *testing.T) {
	if got := L2Norm([]float32{3, 4}); math.Abs(got-5) > 1e-9 {
		t.Errorf("got %f", got)
	}
	if got := L2Norm(nil); got != 0 {
		t.Errorf("empty: %f", got)
	}
}
