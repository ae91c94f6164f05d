package handlers

import (
	"fmt"
	"net/http"
	"time"
)

// TrackingConfig is the set of tunables clients use for capture, sending
// and staleness.
type TrackingConfig struct {
	CaptureIntervalSec   int     `json:"captureIntervalSec"`
	SendIntervalSec      int     `json:"sendIntervalSec"`
	StaleAfterSec        int     `json:"staleAfterSec"`
	ProximityThresholdKm float64 `json:"proximityThresholdKm"`
	AverageSpeedKmh      float64 `json:"averageSpeedKmh"`
	MinutesPerStop       int     `json:"minutesPerStop"`
	ResetTime            string  `json:"resetTime"`
}

// NewTrackingConfig builds the response from durations and the reset clock time.
func NewTrackingConfig(capture, send, stale time.Duration, proximityKm, speedKmh float64, minutesPerStop, resetHour, resetMinute int) TrackingConfig {
	return TrackingConfig{
		CaptureIntervalSec:   int(capture / time.Second),
		SendIntervalSec:      int(send / time.Second),
		StaleAfterSec:        int(stale / time.Second),
		ProximityThresholdKm: proximityKm,
		AverageSpeedKmh:      speedKmh,
		MinutesPerStop:       minutesPerStop,
		ResetTime:            fmt.Sprintf("%02d:%02d", resetHour, resetMinute),
	}
}

// TrackingConfigHandler serves GET /api/tracking/config
type TrackingConfigHandler struct {
	cfg TrackingConfig
}

// NewTrackingConfigHandler creates a new handler
func NewTrackingConfigHandler(cfg TrackingConfig) *TrackingConfigHandler {
	return &TrackingConfigHandler{cfg: cfg}
}

// GetConfig handles GET /api/tracking/config
func (h *TrackingConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, h.cfg)
}
