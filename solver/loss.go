package solver

import "math"

// LossFunction down-weights large residuals. Evaluate receives the squared norm s of a residual
// block and returns rho(s) with its first and second derivatives.
type LossFunction interface {
	Evaluate(s float64) [3]float64
}

// HuberLoss is quadratic for residual norms up to A and linear beyond.
//
//	rho(s) = s               s <= A^2
//	rho(s) = 2 A sqrt(s) - A^2  otherwise
type HuberLoss struct {
	A float64
}

// NewHuberLoss returns a Huber loss with threshold a, in residual units.
func NewHuberLoss(a float64) HuberLoss {
	return HuberLoss{A: a}
}

// Evaluate implements LossFunction.
func (h HuberLoss) Evaluate(s float64) [3]float64 {
	b := h.A * h.A
	if s <= b {
		return [3]float64{s, 1, 0}
	}
	r := math.Sqrt(s)
	return [3]float64{2*h.A*r - b, h.A / r, -h.A / (2 * s * r)}
}

// CauchyLoss grows logarithmically: rho(s) = A^2 log(1 + s/A^2).
type CauchyLoss struct {
	A float64
}

// Evaluate implements LossFunction.
func (c CauchyLoss) Evaluate(s float64) [3]float64 {
	b := c.A * c.A
	inv := 1 / (1 + s/b)
	return [3]float64{b * math.Log1p(s/b), inv, -inv * inv / b}
}
