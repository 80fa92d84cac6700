package matcher

import "fmt"

// UnknownOnlyConfidence is reported for an image whose faces are all Unknown.
// It is kept for compatibility with existing dashboards even though a single
// Unknown face has confidence 0.
const UnknownOnlyConfidence = 0.5

// Summary aggregates the matches of one image.
type Summary struct {
	Text         string  `json:"result"`
	Confidence   float64 `json:"confidence"`
	KnownCount   int     `json:"known_count"`
	UnknownCount int     `json:"unknown_count"`
}

// Summarize builds the per-image result text and confidence.
func Summarize(matches []Match) Summary {
	var s Summary
	for _, m := range matches {
		if m.Known {
			s.KnownCount++
		} else {
			s.UnknownCount++
		}
		s.Confidence = max(s.Confidence, m.Confidence)
	}

	switch n := len(matches); {
	case n == 0:
		return Summary{Text: "No faces detected"}
	case n == 1 && !matches[0].Known:
		s.Text = "1 unknown face detected"
	case n == 1:
		s.Text = "Recognized: " + matches[0].Name
	default:
		s.Text = fmt.Sprintf("%d faces: %d known, %d unknown", n, s.KnownCount, s.UnknownCount)
	}

	if s.KnownCount == 0 {
		s.Confidence = UnknownOnlyConfidence
	}
	return s
}

// Names lists the matched name of every face, Unknown included, in detection order.
func Names(matches []Match) []string {
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.Name
	}
	return names
}
