package overflow

import (
	"math"
	"testing"
)

func TestInt32(t *testing.T) {
	tests := []struct {
		name string
		op   func(a, b int32) (int32, bool)
		a, b int32
		want int32
		ok   bool
	}{
		{"add", Add[int32], 1, 2, 3, true},
		{"add overflow", Add[int32], math.MaxInt32, 1, 0, false},
		{"add underflow", Add[int32], math.MinInt32, -1, 0, false},
		{"sub", Sub[int32], 5, 7, -2, true},
		{"sub overflow", Sub[int32], math.MinInt32, 1, 0, false},
		{"mul", Mul[int32], -6, 7, -42, true},
		{"mul zero", Mul[int32], math.MaxInt32, 0, 0, true},
		{"mul overflow", Mul[int32], math.MaxInt32, 2, 0, false},
		{"mul min by -1", Mul[int32], math.MinInt32, -1, 0, false},
		{"div", Div[int32], 7, 2, 3, true},
		{"div negative truncates", Div[int32], -7, 2, -3, true},
		{"div by zero", Div[int32], 1, 0, 0, false},
		{"div min by -1", Div[int32], math.MinInt32, -1, 0, false},
		{"mod", Mod[int32], -7, 3, -1, true},
		{"mod by zero", Mod[int32], 7, 0, 0, false},
		{"mod by -1", Mod[int32], math.MinInt32, -1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.op(tt.a, tt.b)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestInt64(t *testing.T) {
	if _, ok := Add[int64](math.MaxInt32, 1); !ok {
		t.Error("int64 add must not overflow at the int32 boundary")
	}
	if _, ok := Mul[int64](math.MaxInt64, 2); ok {
		t.Error("expected overflow")
	}
	if _, ok := Neg[int64](math.MinInt64); ok {
		t.Error("expected overflow negating MinInt64")
	}
	if v, ok := Neg[int32](5); !ok || v != -5 {
		t.Errorf("Neg(5) = %d, %v", v, ok)
	}
}
