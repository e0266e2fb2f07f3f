// Package treduce tolerance-based verification for floating-point comparisons
package treduce

import (
	"fmt"
	"math"
)

// ToleranceConfig defines tolerance parameters for floating-point comparison.
// Reduction results are compared against sequential folds with these, since a
// tree order is not bit-identical to a left-to-right fold.
type ToleranceConfig struct {
	// AbsTol is the absolute tolerance for values near zero
	AbsTol float64

	// RelTol is the relative tolerance as a fraction of the larger value
	RelTol float64

	// ULPTol is the maximum allowed difference in ULPs (Units in Last Place)
	ULPTol int

	// CheckNaN determines if NaN values should be considered equal
	CheckNaN bool

	// CheckInf determines if Inf values should be considered equal
	CheckInf bool
}

// DefaultTolerance returns default tolerance configuration for float32 data
func DefaultTolerance() ToleranceConfig {
	return ToleranceConfig{
		AbsTol:   1e-7,
		RelTol:   1e-5,
		ULPTol:   4,
		CheckNaN: true,
		CheckInf: true,
	}
}

// Float64Tolerance returns tolerance configuration suited to float64 data
func Float64Tolerance() ToleranceConfig {
	return ToleranceConfig{
		AbsTol:   1e-12,
		RelTol:   1e-10,
		ULPTol:   8,
		CheckNaN: true,
		CheckInf: true,
	}
}

// RelaxedTolerance returns relaxed tolerance for long accumulations
func RelaxedTolerance() ToleranceConfig {
	return ToleranceConfig{
		AbsTol:   1e-5,
		RelTol:   1e-3,
		ULPTol:   16,
		CheckNaN: true,
		CheckInf: true,
	}
}

// Float32NearEqual checks if two float32 values are equal within tolerance
func Float32NearEqual(a, b float32, tol ToleranceConfig) bool {
	if nearEqualSpecial(float64(a), float64(b), tol) {
		return true
	}
	if a == b {
		return true
	}

	diff := math.Abs(float64(a - b))
	if diff <= tol.AbsTol {
		return true
	}

	larger := math.Max(math.Abs(float64(a)), math.Abs(float64(b)))
	if diff <= larger*tol.RelTol {
		return true
	}

	if tol.ULPTol > 0 && Float32ULPDiff(a, b) <= tol.ULPTol {
		return true
	}
	return false
}

// Float64NearEqual checks if two float64 values are equal within tolerance
func Float64NearEqual(a, b float64, tol ToleranceConfig) bool {
	if nearEqualSpecial(a, b, tol) {
		return true
	}
	if a == b {
		return true
	}

	diff := math.Abs(a - b)
	if diff <= tol.AbsTol {
		return true
	}

	larger := math.Max(math.Abs(a), math.Abs(b))
	if diff <= larger*tol.RelTol {
		return true
	}

	if tol.ULPTol > 0 && Float64ULPDiff(a, b) <= tol.ULPTol {
		return true
	}
	return false
}

func nearEqualSpecial(a, b float64, tol ToleranceConfig) bool {
	if tol.CheckNaN && math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	if tol.CheckInf {
		if math.IsInf(a, 1) && math.IsInf(b, 1) {
			return true
		}
		if math.IsInf(a, -1) && math.IsInf(b, -1) {
			return true
		}
	}
	return false
}

// Float32ULPDiff computes the difference in ULPs between two float32 values
func Float32ULPDiff(a, b float32) int {
	aBits := math.Float32bits(a)
	bBits := math.Float32bits(b)

	// Different signs cannot be compared by bit distance
	if (aBits^bBits)&0x80000000 != 0 {
		return math.MaxInt32
	}

	if aBits > bBits {
		return int(aBits - bBits)
	}
	return int(bBits - aBits)
}

// Float64ULPDiff computes the difference in ULPs between two float64 values
func Float64ULPDiff(a, b float64) int {
	aBits := math.Float64bits(a)
	bBits := math.Float64bits(b)

	if (aBits^bBits)&0x8000000000000000 != 0 {
		return math.MaxInt32
	}

	var diff uint64
	if aBits > bBits {
		diff = aBits - bBits
	} else {
		diff = bBits - aBits
	}
	if diff > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(diff)
}

// VerificationResult summarizes an array comparison
type VerificationResult struct {
	MaxAbsError float64
	MaxRelError float64
	MaxULPError int
	NumErrors   int
	TotalItems  int
	FirstError  int // Index of first error, -1 if none
}

// VerifyFloat32Array compares two float32 arrays and returns detailed results
func VerifyFloat32Array(expected, actual []float32, tol ToleranceConfig) VerificationResult {
	result := VerificationResult{
		TotalItems: len(expected),
		FirstError: -1,
	}

	if len(expected) != len(actual) {
		result.NumErrors = len(expected)
		return result
	}

	for i := range expected {
		if !Float32NearEqual(expected[i], actual[i], tol) {
			result.NumErrors++
			if result.FirstError == -1 {
				result.FirstError = i
			}

			absDiff := math.Abs(float64(expected[i] - actual[i]))
			if absDiff > result.MaxAbsError {
				result.MaxAbsError = absDiff
			}
			if expected[i] != 0 {
				relDiff := absDiff / math.Abs(float64(expected[i]))
				if relDiff > result.MaxRelError {
					result.MaxRelError = relDiff
				}
			}
			ulpDiff := Float32ULPDiff(expected[i], actual[i])
			if ulpDiff > result.MaxULPError {
				result.MaxULPError = ulpDiff
			}
		}
	}

	return result
}

// String formats the verification result for display
func (r VerificationResult) String() string {
	if r.NumErrors == 0 {
		return "PASS: All values match within tolerance"
	}

	errorRate := float64(r.NumErrors) / float64(r.TotalItems) * 100
	return fmt.Sprintf("FAIL: %d/%d values differ (%.2f%%)\n"+
		"  Max absolute error: %e\n"+
		"  Max relative error: %e\n"+
		"  Max ULP difference: %d\n"+
		"  First error at index: %d",
		r.NumErrors, r.TotalItems, errorRate,
		r.MaxAbsError, r.MaxRelError, r.MaxULPError,
		r.FirstError)
}
