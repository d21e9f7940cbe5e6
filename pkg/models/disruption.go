package models

import "time"

// DisruptionSeverity is the public-transport impact of a disruption.
type DisruptionSeverity string

const (
	DisruptionInfo    DisruptionSeverity = "info"
	DisruptionWarning DisruptionSeverity = "warning"
	DisruptionSevere  DisruptionSeverity = "severe"
)

// Disruption is a SIRI-SX situation reduced to what the planner shows.
type Disruption struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	Description   string             `json:"description"`
	Severity      DisruptionSeverity `json:"severity"`
	AffectedLines []string           `json:"affected_lines"`
	AffectedStops []string           `json:"affected_stops"`
	StartTime     *time.Time         `json:"start_time,omitempty"`
	EndTime       *time.Time         `json:"end_time,omitempty"`
	IsActive      bool               `json:"is_active"`
}
