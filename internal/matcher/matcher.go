// Package matcher classifies detected faces against the known faces and
// summarizes the outcome for one image.
package matcher

import (
	"math"

	"github.com/example/facewatch/internal/faceencoder"
	"github.com/example/facewatch/internal/registry"
)

// DefaultTolerance is the largest distance still accepted as the same person.
const DefaultTolerance = 0.6

// UnknownName labels faces that match nobody.
const UnknownName = "Unknown"

// Match is the classification of one detected face.
type Match struct {
	Name       string  `json:"name"`
	Known      bool    `json:"known"`
	Distance   float64 `json:"-"`
	Confidence float64 `json:"confidence"`
}

// Distance is the Euclidean distance between two encodings. Encodings of
// different lengths come from different models and are infinitely far apart.
func Distance(a, b faceencoder.Encoding) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Classify finds the nearest known face to candidate. The candidate takes that
// name when the distance is within tolerance, with confidence 1 - distance;
// otherwise it is Unknown with confidence 0. Among equidistant known faces the
// first in registry order wins.
func Classify(candidate faceencoder.Encoding, known []registry.KnownFace, tolerance float64) Match {
	unknown := Match{Name: UnknownName, Distance: math.Inf(1)}
	if len(known) == 0 {
		return unknown
	}

	best := -1
	bestDistance := math.Inf(1)
	for i, k := range known {
		if d := Distance(candidate, k.Encoding); d < bestDistance {
			best, bestDistance = i, d
		}
	}
	if best < 0 {
		return unknown
	}
	if bestDistance > tolerance {
		unknown.Distance = bestDistance
		return unknown
	}
	return Match{
		Name:       known[best].Name,
		Known:      true,
		Distance:   bestDistance,
		Confidence: clamp01(1 - bestDistance),
	}
}

// ClassifyAll classifies every face against the same snapshot of known faces.
func ClassifyAll(faces []faceencoder.Face, known []registry.KnownFace, tolerance float64) []Match {
	matches := make([]Match, len(faces))
	for i, f := range faces {
		matches[i] = Classify(f.Encoding, known, tolerance)
	}
	return matches
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
