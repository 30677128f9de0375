package models

import "time"

// AlertEvent is a discrete, user-actionable security notification.
type AlertEvent struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Location    string    `json:"location"`
	Coordinates *Location `json:"coordinates,omitempty"`
	Description string    `json:"description,omitempty"`
	Severity    string    `json:"severity"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
	RespondedBy string    `json:"respondedBy,omitempty"`
}

func (a AlertEvent) IsResolved() bool {
	return a.Status == AlertStatusResolved
}

// Alert statuses. An alert moves from active to in_progress once a security
// user responds, and to resolved when an admin closes it. "all" is only a
// list filter.
const (
	AlertStatusAll        = "all"
	AlertStatusActive     = "active"
	AlertStatusInProgress = "in_progress"
	AlertStatusResolved   = "resolved"
)

// CreateAlertRequest is the manual "create alert" form.
type CreateAlertRequest struct {
	Title       string `json:"title" validate:"required,max=120"`
	Description string `json:"description" validate:"required,max=2000"`
	Location    string `json:"location" validate:"required"`
	Category    string `json:"category" validate:"omitempty,oneof=security medical crowd facility weather"`
	Severity    string `json:"severity" validate:"omitempty,oneof=low medium high"`
}

// WithDefaults fills the form defaults the dashboard pre-selects.
func (r CreateAlertRequest) WithDefaults() CreateAlertRequest {
	if r.Category == "" {
		r.Category = AlertCategorySecurity
	}
	if r.Severity == "" {
		r.Severity = SeverityMedium
	}
	return r
}
