package models

import "fmt"

// Location is a remote location entity as returned by GET /api/locations.
type Location struct {
	ID                           string  `json:"id"`
	Country                      string  `json:"country"`
	Name                         string  `json:"name"`
	Longitude                    float64 `json:"longitude"`
	Latitude                     float64 `json:"latitude"`
	CreatedAt                    string  `json:"createdAt,omitempty"` // naive ISO-8601 from the backend, kept verbatim
	IsModelReady                 bool    `json:"isModelReady"`
	IsDownloadingPastClimateData bool    `json:"isDownloadingPastClimateData"`
	LastPastClimateDataYear      *int    `json:"lastPastClimateDataYear"`
	LastPastClimateDataMonth     *int    `json:"lastPastClimateDataMonth"`
}

// LastClimateData returns "M/YYYY" for the most recent past climate data, or "never".
func (l Location) LastClimateData() string {
	if l.LastPastClimateDataYear == nil || l.LastPastClimateDataMonth == nil {
		return "never"
	}
	if *l.LastPastClimateDataYear == 0 || *l.LastPastClimateDataMonth == 0 {
		return "never"
	}
	return fmt.Sprintf("%d/%d", *l.LastPastClimateDataMonth, *l.LastPastClimateDataYear)
}

// Clone returns a deep copy so callers can mutate without touching shared snapshots.
func (l Location) Clone() Location {
	out := l
	if l.LastPastClimateDataYear != nil {
		y := *l.LastPastClimateDataYear
		out.LastPastClimateDataYear = &y
	}
	if l.LastPastClimateDataMonth != nil {
		m := *l.LastPastClimateDataMonth
		out.LastPastClimateDataMonth = &m
	}
	return out
}

// NewLocation is the body of POST /api/locations.
type NewLocation struct {
	Country   string  `json:"country"`
	Name      string  `json:"name"`
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}
