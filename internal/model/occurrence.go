// Package model defines the record shapes shared by the retrieval,
// reconciliation and export stages.
package model

import (
	"fmt"
	"math"
	"strings"
)

// Occurrence is a single normalized species-occurrence record.
type Occurrence struct {
	SciName       string  `json:"sci_name"`
	Lon           float64 `json:"lon"`
	Lat           float64 `json:"lat"`
	LocUncM       float64 `json:"loc_unc_m,omitempty"` // 0 when unreported
	Year          int     `json:"year,omitempty"`
	Month         int     `json:"month,omitempty"`
	Day           int     `json:"day,omitempty"`
	Evidence      string  `json:"evidence,omitempty"`
	BioRepo       string  `json:"bio_repo"`
	CatalogNumber string  `json:"catalog_number,omitempty"`
	Media         bool    `json:"media"`
	Note          string  `json:"note,omitempty"`
}

// MediaLink is an image or sound file attached to a specimen or observation.
type MediaLink struct {
	BioRepo       string `json:"bio_repo"`
	CatalogNumber string `json:"catalog_number"`
	Evidence      string `json:"evidence"`
	URL           string `json:"url"`
	// Record is the RecordKey of the occurrence the link belongs to.
	Record string `json:"-"`
}

// RecordKey identifies a record within one property's retrieval. Catalog
// numbers and evidence URLs are optional, so the name, position and date
// are part of the key.
func (o Occurrence) RecordKey() string {
	return fmt.Sprintf("%s|%s|%s|%s|%.6f,%.6f|%d",
		o.BioRepo, o.CatalogNumber, o.Evidence, o.SciName, o.Lon, o.Lat, o.DateKey())
}

// ValidCoords reports whether lon/lat are finite, in range and not the
// (0, 0) null-island placeholder.
func ValidCoords(lon, lat float64) bool {
	if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
		return false
	}
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return false
	}
	return lon != 0 || lat != 0
}

// Valid reports whether the record may enter the pipeline: it must name its
// repository and carry usable coordinates.
func (o Occurrence) Valid() bool {
	return strings.TrimSpace(o.BioRepo) != "" && ValidCoords(o.Lon, o.Lat)
}

// HasEvidence reports whether the record links to something that substantiates it.
func (o Occurrence) HasEvidence() bool {
	return strings.TrimSpace(o.Evidence) != ""
}

// HasCatalog reports whether the record carries a catalog or collection number.
func (o Occurrence) HasCatalog() bool {
	return strings.TrimSpace(o.CatalogNumber) != ""
}

// DateKey returns a sortable integer for the observation date; missing parts
// sort as zero.
func (o Occurrence) DateKey() int {
	return o.Year*10000 + o.Month*100 + o.Day
}

// DateString formats the observation date as far as it is known.
func (o Occurrence) DateString() string {
	switch {
	case o.Year == 0:
		return ""
	case o.Month == 0:
		return fmt.Sprintf("%04d", o.Year)
	case o.Day == 0:
		return fmt.Sprintf("%04d-%02d", o.Year, o.Month)
	default:
		return fmt.Sprintf("%04d-%02d-%02d", o.Year, o.Month, o.Day)
	}
}

// WithNote returns a copy of o with note appended to any existing note.
func (o Occurrence) WithNote(note string) Occurrence {
	if note == "" {
		return o
	}
	if o.Note == "" {
		o.Note = note
	} else if !strings.Contains(o.Note, note) {
		o.Note = o.Note + "; " + note
	}
	return o
}
