// Package overflow implements integer arithmetic that reports overflow
// instead of wrapping around.
package overflow

import "math"

type Int interface {
	~int32 | ~int64
}

func bounds[T Int]() (lo, hi int64) {
	var bit T = 1
	bit <<= 31
	if bit < 0 {
		return math.MinInt32, math.MaxInt32
	}
	return math.MinInt64, math.MaxInt64
}

// Add returns a+b and whether the result fits into T.
func Add[T Int](a, b T) (T, bool) {
	c := a + b
	if (c > a) == (b > 0) {
		return c, true
	}
	return c, false
}

// Sub returns a-b and whether the result fits into T.
func Sub[T Int](a, b T) (T, bool) {
	c := a - b
	if (c < a) == (b > 0) {
		return c, true
	}
	return c, false
}

// Mul returns a*b and whether the result fits into T.
func Mul[T Int](a, b T) (T, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	c := a * b
	if (c < 0) == ((a < 0) != (b < 0)) && c/b == a {
		return c, true
	}
	return c, false
}

// Div returns the truncated quotient a/b. It reports false for division by
// zero and for the single overflowing case MinInt / -1.
func Div[T Int](a, b T) (T, bool) {
	if b == 0 {
		return 0, false
	}
	lo, _ := bounds[T]()
	if b == -1 && int64(a) == lo {
		return a, false
	}
	return a / b, true
}

// Mod returns the truncated remainder a%b, reporting false for b == 0.
func Mod[T Int](a, b T) (T, bool) {
	if b == 0 {
		return 0, false
	}
	if b == -1 {
		return 0, true
	}
	return a % b, true
}

// Neg returns -a, reporting false for the minimum value.
func Neg[T Int](a T) (T, bool) {
	lo, _ := bounds[T]()
	if int64(a) == lo {
		return a, false
	}
	return -a, true
}
