package dashboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/clinicdash/clinicdash/internal/platform/transport"
)

// FailureKind classifies what went wrong and therefore how it propagates.
type FailureKind string

const (
	// FetchFailure: a collection read failed. Scoped to its section.
	FetchFailure FailureKind = "fetch"
	// MutationFailure: a write failed. Store untouched, form retained.
	MutationFailure FailureKind = "mutation"
	// AuthorizationMismatch: the viewer does not own the dashboard. Redirects.
	AuthorizationMismatch FailureKind = "authorization"
	// MissingIdentity: no authenticated viewer. Redirects to login.
	MissingIdentity FailureKind = "identity"
	// ShapeMismatch: the payload was not the expected collection shape.
	ShapeMismatch FailureKind = "shape"
)

// Failure is the typed error surfaced to the dashboard.
type Failure struct {
	Kind    FailureKind
	Op      string
	Message string
	Status  int
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", f.Kind, f.Op, f.Message, f.Err)
	}
	return fmt.Sprintf("%s %s: %s", f.Kind, f.Op, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// Operation names, also the keys of the default message table.
const (
	OpListPatients          = "list_patients"
	OpListAppointments      = "list_appointments"
	OpListAssistants        = "list_assistants"
	OpListNotes             = "list_notes"
	OpListProgress          = "list_progress"
	OpDiagnosisDistribution = "diagnosis_distribution"
	OpAppointmentTypes      = "appointment_types"
	OpSummary               = "summary"
	OpListNotifications     = "list_notifications"
	OpCreatePatient         = "create_patient"
	OpUpdatePatient         = "update_patient"
	OpTogglePatientStatus   = "toggle_patient_status"
	OpCreateAppointment     = "create_appointment"
	OpAddNote               = "add_note"
	OpAddAssistant          = "add_assistant"
	OpToggleAssistantStatus = "toggle_assistant_status"
	OpListReportRows        = "list_report_rows"
	OpFinancialSummary      = "financial_summary"
)

var defaultMessages = map[string]string{
	OpListPatients:          "Could not load patients.",
	OpListAppointments:      "Could not load appointments.",
	OpListAssistants:        "Could not load assistants.",
	OpListNotes:             "Could not load clinical notes.",
	OpListProgress:          "Could not load progress data.",
	OpDiagnosisDistribution: "Could not load the diagnosis distribution.",
	OpAppointmentTypes:      "Could not load appointment types.",
	OpSummary:               "Could not load the dashboard.",
	OpListNotifications:     "Could not load notifications.",
	OpCreatePatient:         "Could not register the patient.",
	OpUpdatePatient:         "Could not update the patient.",
	OpTogglePatientStatus:   "Could not change the patient status.",
	OpCreateAppointment:     "Could not schedule the appointment.",
	OpAddNote:               "Could not save the note.",
	OpAddAssistant:          "Could not register the assistant.",
	OpToggleAssistantStatus: "Could not change the assistant status.",
	OpListReportRows:        "Could not load the financial report.",
	OpFinancialSummary:      "Could not load the financial summary.",
}

// DefaultMessage is the generic message of an operation.
func DefaultMessage(op string) string {
	if msg, ok := defaultMessages[op]; ok {
		return msg
	}
	return "Something went wrong."
}

// Normalize turns any error from the transport into a *Failure of the given
// kind. The message comes from the transport error's payload when it has
// one, else the operation's default message. A *Failure passes through
// unchanged.
func Normalize(kind FailureKind, op string, err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	out := &Failure{Kind: kind, Op: op, Message: DefaultMessage(op), Err: err}
	var terr *transport.Error
	if errors.As(err, &terr) {
		out.Status = terr.Status
		if msg := terr.Message(); msg != "" {
			out.Message = msg
		}
	}
	return out
}

// IsCanceled reports whether err is the result of the session going away.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
