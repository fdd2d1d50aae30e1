// Package irt implements the item response theory math behind adaptive testing:
// the logistic response function, Fisher information, maximum-likelihood ability
// estimation, maximum-information item selection and stopping rules.
package irt

import "math"

// Params are the calibrated parameters of a single item.
type Params struct {
	A float64 // discrimination
	B float64 // difficulty
	C float64 // guessing (lower asymptote)
	D float64 // slipping (upper asymptote), 1.0 for 3PL items
}

// ThreePL returns parameters with the upper asymptote fixed at 1.
func ThreePL(a, b, c float64) Params {
	return Params{A: a, B: b, C: c, D: 1.0}
}

// upper returns D, treating an unset value as the 3PL default.
func (p Params) upper() float64 {
	if p.D == 0 {
		return 1.0
	}
	return p.D
}

// Probability returns P(correct | theta) = c + (d-c) / (1 + exp(-a(theta-b))).
func Probability(theta float64, p Params) float64 {
	d := p.upper()
	return p.C + (d-p.C)/(1+math.Exp(-p.A*(theta-p.B)))
}

// Information returns the Fisher information of an item at theta:
//
//	a²(P-c)²(d-P)² / ((d-c)² P (1-P))
//
// which reduces to a²(P-c)²(1-P) / ((1-c)² P) when d = 1.
func Information(theta float64, p Params) float64 {
	d := p.upper()
	prob := Probability(theta, p)
	if prob <= 0 || prob >= 1 || d == p.C {
		return 0
	}
	num := p.A * p.A * (prob - p.C) * (prob - p.C) * (d - prob) * (d - prob)
	den := (d - p.C) * (d - p.C) * prob * (1 - prob)
	info := num / den
	if math.IsNaN(info) || math.IsInf(info, 0) {
		return 0
	}
	return info
}

// TestInformation sums item information over the given items.
func TestInformation(theta float64, items []Params) float64 {
	total := 0.0
	for _, p := range items {
		total += Information(theta, p)
	}
	return total
}
