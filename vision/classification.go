// Package vision classifies captured frames against a platform's configured
// regions: color-range progress bars, image templates, and a motion/blur
// heuristic for active playback. Detection is stateless per call except the
// debounce counter, which the calling state machine owns.
package vision

// Classification is the discrete visual state inferred from a frame.
type Classification int

const (
	Unknown Classification = iota
	VideoPlaying
	VideoComplete
	QuizVisible
	AssignmentVisible
	CertificateVisible
)

var classificationNames = map[Classification]string{
	Unknown:            "unknown",
	VideoPlaying:       "video_playing",
	VideoComplete:      "video_complete",
	QuizVisible:        "quiz_visible",
	AssignmentVisible:  "assignment_visible",
	CertificateVisible: "certificate_visible",
}

func (c Classification) String() string {
	if name, ok := classificationNames[c]; ok {
		return name
	}
	return "unknown"
}

// ParseClassification maps a platform table's classifies value to a
// Classification. Unrecognized values map to Unknown.
func ParseClassification(s string) Classification {
	for c, name := range classificationNames {
		if name == s {
			return c
		}
	}
	return Unknown
}

// DetectionResult is the transient value produced on every polling tick.
// It is never persisted beyond the current decision.
type DetectionResult struct {
	Classification Classification
	Confidence     float64
	RegionID       string
}
