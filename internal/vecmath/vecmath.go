// Package vecmath holds the small amount of vector arithmetic the retrieval
// core needs. Vectors are the []float32 embeddings produced by the embedder;
// accumulation happens in float64 to keep rounding error out of rankings.
package vecmath

import "math"

// CosineSimilarity returns dot(a,b) / (|a|·|b|), a value in [-1, 1].
// It returns 0 when either vector has zero magnitude. a and b must have the
// same length; callers filter mismatched pairs before calling, and a
// mismatched pair yields 0 instead of panicking.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		va := float64(a[i])
		vb := float64(b[i])
		dot += va * vb
		normA += va * va
		normB += vb * vb
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp rounding drift so identical vectors never report 1.0000000002.
	return math.Max(-1, math.Min(1, sim))
}
