// Package financial is the read-only financial dashboard of a professional:
// billed appointments as report rows, upstream totals, and a date-range and
// payment-method projection over the rows.
package financial

import "github.com/clinicdash/clinicdash/internal/domain/dashboard"

// ReportRow is one billed appointment.
type ReportRow struct {
	ID            string  `json:"id"`
	AppointmentID string  `json:"appointmentId"`
	PatientID     string  `json:"patientId"`
	PatientName   string  `json:"patientName"`
	Date          string  `json:"date"`
	Type          string  `json:"type"`
	PaymentMethod string  `json:"paymentMethod"`
	PaymentStatus string  `json:"paymentStatus"`
	PaymentDetail string  `json:"paymentDetail,omitempty"`
	Value         float64 `json:"value"`
}

// MethodTotal is the upstream total of one payment method.
type MethodTotal struct {
	Method string  `json:"method"`
	Count  int     `json:"count"`
	Total  float64 `json:"total"`
}

// Summary is computed upstream over every row of the professional.
type Summary struct {
	TotalReceived float64       `json:"totalReceived"`
	TotalPending  float64       `json:"totalPending"`
	Appointments  int           `json:"appointments"`
	ByMethod      []MethodTotal `json:"byMethod"`
}

// Criteria filters the report rows. PaymentMethod accepts the "all"
// sentinel.
type Criteria struct {
	StartDate     string `json:"startDate"`
	EndDate       string `json:"endDate"`
	PaymentMethod string `json:"paymentMethod"`
}

func DefaultCriteria() Criteria {
	return Criteria{PaymentMethod: dashboard.FilterAll}
}

const (
	CollectionRows    dashboard.Collection = "reportRows"
	CollectionSummary dashboard.Collection = "financialSummary"
)
