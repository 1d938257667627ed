package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ScrubLevel selects how aggressively retrieved records are reconciled.
type ScrubLevel string

const (
	// ScrubNone passes records through unchanged.
	ScrubNone ScrubLevel = "none"
	// ScrubModerate removes duplicate catalog numbers and redundant observations.
	ScrubModerate ScrubLevel = "moderate"
	// ScrubStrict keeps at most one evidenced record per species.
	ScrubStrict ScrubLevel = "strict"
)

// ParseScrubLevel converts a string into a ScrubLevel. Empty means strict.
func ParseScrubLevel(s string) (ScrubLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return ScrubStrict, nil
	case "moderate":
		return ScrubModerate, nil
	case "none":
		return ScrubNone, nil
	default:
		return "", eris.Errorf("unknown scrub level: %q (valid: strict, moderate, none)", s)
	}
}

// BoundaryKind selects which property boundary dataset is used.
type BoundaryKind string

const (
	// BoundaryAdmin is the administrative (approved) boundary.
	BoundaryAdmin BoundaryKind = "admin"
	// BoundaryAcquisition is the land actually acquired (interest) boundary.
	BoundaryAcquisition BoundaryKind = "acquisition"
)

// ParseBoundaryKind converts a string into a BoundaryKind. Empty means admin.
func ParseBoundaryKind(s string) (BoundaryKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "admin", "approved":
		return BoundaryAdmin, nil
	case "acquisition", "acq", "interest":
		return BoundaryAcquisition, nil
	default:
		return "", eris.Errorf("unknown boundary kind: %q (valid: admin, acquisition)", s)
	}
}
