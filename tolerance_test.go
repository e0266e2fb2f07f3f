package treduce

import (
	"math"
	"testing"
)

func TestFloat32NearEqual(t *testing.T) {
	tests := []struct {
		name     string
		a, b     float32
		tol      ToleranceConfig
		expected bool
	}{
		{
			name:     "Exact_Equal",
			a:        1.0,
			b:        1.0,
			tol:      DefaultTolerance(),
			expected: true,
		},
		{
			name:     "Within_AbsTol",
			a:        1e-8,
			b:        2e-8,
			tol:      DefaultTolerance(),
			expected: true,
		},
		{
			name:     "Within_RelTol",
			a:        1000.0,
			b:        1000.001,
			tol:      DefaultTolerance(),
			expected: true,
		},
		{
			name:     "Outside_All",
			a:        1.0,
			b:        1.0001,
			tol:      DefaultTolerance(),
			expected: false,
		},
		{
			name:     "Both_Zero",
			a:        0.0,
			b:        float32(math.Copysign(0, -1)),
			tol:      DefaultTolerance(),
			expected: true,
		},
		{
			name:     "Both_NaN",
			a:        float32(math.NaN()),
			b:        float32(math.NaN()),
			tol:      DefaultTolerance(),
			expected: true,
		},
		{
			name: "NaN_Not_Checked",
			a:    float32(math.NaN()),
			b:    float32(math.NaN()),
			tol: ToleranceConfig{
				CheckNaN: false,
			},
			expected: false,
		},
		{
			name:     "Both_PosInf",
			a:        float32(math.Inf(1)),
			b:        float32(math.Inf(1)),
			tol:      DefaultTolerance(),
			expected: true,
		},
		{
			name:     "Mixed_Inf",
			a:        float32(math.Inf(1)),
			b:        float32(math.Inf(-1)),
			tol:      DefaultTolerance(),
			expected: false,
		},
		{
			name:     "Within_ULP",
			a:        1.0,
			b:        math.Float32frombits(math.Float32bits(1.0) + 2),
			tol:      ToleranceConfig{ULPTol: 4},
			expected: true,
		},
		{
			name:     "Outside_ULP",
			a:        1.0,
			b:        math.Float32frombits(math.Float32bits(1.0) + 5),
			tol:      ToleranceConfig{ULPTol: 4},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Float32NearEqual(tt.a, tt.b, tt.tol)
			if result != tt.expected {
				t.Errorf("Float32NearEqual(%v, %v) = %v, want %v",
					tt.a, tt.b, result, tt.expected)
			}
		})
	}
}

func TestFloat64NearEqual(t *testing.T) {
	tests := []struct {
		name     string
		a, b     float64
		tol      ToleranceConfig
		expected bool
	}{
		{
			name:     "Exact_Equal",
			a:        math.Pi,
			b:        math.Pi,
			tol:      Float64Tolerance(),
			expected: true,
		},
		{
			name:     "Within_AbsTol",
			a:        1e-13,
			b:        2e-13,
			tol:      Float64Tolerance(),
			expected: true,
		},
		{
			name:     "Within_RelTol",
			a:        1e9,
			b:        1e9 + 0.01,
			tol:      Float64Tolerance(),
			expected: true,
		},
		{
			name:     "Outside_All",
			a:        1.0,
			b:        1.000001,
			tol:      Float64Tolerance(),
			expected: false,
		},
		{
			name:     "Both_NaN",
			a:        math.NaN(),
			b:        math.NaN(),
			tol:      Float64Tolerance(),
			expected: true,
		},
		{
			name:     "Within_ULP",
			a:        1.0,
			b:        math.Float64frombits(math.Float64bits(1.0) + 3),
			tol:      ToleranceConfig{ULPTol: 8},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Float64NearEqual(tt.a, tt.b, tt.tol)
			if result != tt.expected {
				t.Errorf("Float64NearEqual(%v, %v) = %v, want %v",
					tt.a, tt.b, result, tt.expected)
			}
		})
	}
}

func TestULPDiffSignMismatch(t *testing.T) {
	if got := Float32ULPDiff(1.0, -1.0); got != math.MaxInt32 {
		t.Errorf("Float32ULPDiff across signs = %d, want MaxInt32", got)
	}
	if got := Float64ULPDiff(1.0, -1.0); got != math.MaxInt32 {
		t.Errorf("Float64ULPDiff across signs = %d, want MaxInt32", got)
	}
}

func TestVerifyFloat32Array(t *testing.T) {
	expected := []float32{1, 2, 3, 4}
	actual := []float32{1, 2, 3, 4}

	result := VerifyFloat32Array(expected, actual, DefaultTolerance())
	if result.NumErrors != 0 {
		t.Errorf("Identical arrays reported %d errors", result.NumErrors)
	}
	if result.FirstError != -1 {
		t.Errorf("FirstError = %d, want -1", result.FirstError)
	}

	actual[2] = 30
	result = VerifyFloat32Array(expected, actual, DefaultTolerance())
	if result.NumErrors != 1 {
		t.Errorf("Expected 1 error, got %d", result.NumErrors)
	}
	if result.FirstError != 2 {
		t.Errorf("FirstError = %d, want 2", result.FirstError)
	}

	// Length mismatch counts everything as failed
	result = VerifyFloat32Array(expected, actual[:3], DefaultTolerance())
	if result.NumErrors != len(expected) {
		t.Errorf("Length mismatch reported %d errors, want %d", result.NumErrors, len(expected))
	}
}
