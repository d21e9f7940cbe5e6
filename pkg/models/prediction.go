package models

import "time"

// DelayPrediction is a heuristic delay estimate for a road-based leg.
// It is derived per request and never stored.
type DelayPrediction struct {
	PredictedDelayMinutes int       `json:"predicted_delay_minutes"`
	ConfidenceScore       float64   `json:"confidence_score"`
	Factors               []string  `json:"factors"`
	IsPeakHour            bool      `json:"is_peak_hour"`
	PredictionTime        time.Time `json:"prediction_time"`
}
