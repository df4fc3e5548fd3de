package models

import "time"

// AlertType identifies the detection rule that produced an alert.
type AlertType string

const (
	AlertVolumeSpike     AlertType = "volume_spike"
	AlertPriceBreakout   AlertType = "price_breakout"
	AlertForeignAccel    AlertType = "foreign_acceleration"
	AlertBasisDivergence AlertType = "basis_divergence"
)

// AlertSeverity grades an alert.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is a market anomaly signal. Data carries rule-specific context
// (ratios, levels, direction) for the UI.
type Alert struct {
	Type      AlertType      `json:"alert_type"`
	Severity  AlertSeverity  `json:"severity"`
	Symbol    string         `json:"symbol"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}
