package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/clinicdash/clinicdash/internal/platform/transport"
)

// Fetcher issues one logical request per entity type against the clinic
// API. It never touches a Store; callers apply what it returns.
type Fetcher struct {
	client transport.Client
	logger zerolog.Logger
}

func NewFetcher(client transport.Client, logger zerolog.Logger) *Fetcher {
	return &Fetcher{client: client, logger: logger.With().Str("component", "fetcher").Logger()}
}

// DecodeList decodes a collection payload. Accepted shapes are a JSON array
// and an object wrapping one under "data". Anything else yields an empty,
// non-nil slice and mismatch=true. Elements that fail to decode or fail
// valid are dropped.
func DecodeList[T any](raw json.RawMessage, valid func(T) bool) (items []T, dropped int, mismatch bool) {
	items = []T{}
	raw = bytes.TrimSpace(raw)

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		var envelope struct {
			Data []json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Data == nil {
			return items, 0, true
		}
		elems = envelope.Data
	}
	if elems == nil {
		// JSON null
		return items, 0, true
	}

	for _, e := range elems {
		var v T
		if err := json.Unmarshal(e, &v); err != nil {
			dropped++
			continue
		}
		if valid != nil && !valid(v) {
			dropped++
			continue
		}
		items = append(items, v)
	}
	return items, dropped, false
}

func fetchList[T any](ctx context.Context, f *Fetcher, op, path string, q url.Values, valid func(T) bool) ([]T, error) {
	raw, err := f.client.Get(ctx, path, q)
	if err != nil {
		return nil, Normalize(FetchFailure, op, err)
	}
	items, dropped, mismatch := DecodeList(raw, valid)
	if mismatch {
		f.logger.Warn().
			Str("op", op).
			Str("kind", string(ShapeMismatch)).
			Msg("payload is not a collection, using empty list")
	}
	if dropped > 0 {
		f.logger.Warn().Str("op", op).Int("dropped", dropped).Msg("invalid records dropped")
	}
	return items, nil
}

func ownerQuery(professionalID string) url.Values {
	q := url.Values{}
	if professionalID != "" {
		q.Set("professionalId", professionalID)
	}
	return q
}

func hasID[T interface{ key() string }](v T) bool { return v.key() != "" }

func (p Patient) key() string      { return p.ID }
func (a Appointment) key() string  { return a.ID }
func (a Assistant) key() string    { return a.ID }
func (n Note) key() string         { return n.ID }
func (n Notification) key() string { return n.ID }

func validObservation(o ProgressObservation) bool { return o.Date != "" && o.Metric != "" }

// -- Reads --

// Patients lists the professional's patients. A non-sentinel status is
// passed to the server as a filter.
func (f *Fetcher) Patients(ctx context.Context, professionalID, status string) ([]Patient, error) {
	q := ownerQuery(professionalID)
	if !IsAll(status) {
		q.Set("status", status)
	}
	return fetchList(ctx, f, OpListPatients, "/patients", q, hasID[Patient])
}

func (f *Fetcher) Appointments(ctx context.Context, professionalID string) ([]Appointment, error) {
	return fetchList(ctx, f, OpListAppointments, "/appointments", ownerQuery(professionalID), hasID[Appointment])
}

func (f *Fetcher) Assistants(ctx context.Context, professionalID string) ([]Assistant, error) {
	return fetchList(ctx, f, OpListAssistants, "/assistants", ownerQuery(professionalID), hasID[Assistant])
}

func (f *Fetcher) Notes(ctx context.Context, patientID string) ([]Note, error) {
	return fetchList(ctx, f, OpListNotes, "/patients/"+url.PathEscape(patientID)+"/notes", nil, hasID[Note])
}

func (f *Fetcher) Progress(ctx context.Context, professionalID string) ([]ProgressObservation, error) {
	return fetchList(ctx, f, OpListProgress, "/reports/progress", ownerQuery(professionalID), validObservation)
}

func (f *Fetcher) DiagnosisDistribution(ctx context.Context, professionalID string) ([]DiagnosisShare, error) {
	return fetchList[DiagnosisShare](ctx, f, OpDiagnosisDistribution, "/reports/diagnosis-distribution", ownerQuery(professionalID), nil)
}

func (f *Fetcher) AppointmentTypes(ctx context.Context, professionalID string) ([]AppointmentTypeShare, error) {
	return fetchList[AppointmentTypeShare](ctx, f, OpAppointmentTypes, "/reports/appointment-types", ownerQuery(professionalID), nil)
}

func (f *Fetcher) Notifications(ctx context.Context, professionalID string) ([]Notification, error) {
	return fetchList(ctx, f, OpListNotifications, "/notifications", ownerQuery(professionalID), hasID[Notification])
}

func (f *Fetcher) Summary(ctx context.Context, professionalID string) (Summary, error) {
	var s Summary
	raw, err := f.client.Get(ctx, "/professionals/"+url.PathEscape(professionalID)+"/summary", nil)
	if err != nil {
		return s, Normalize(FetchFailure, OpSummary, err)
	}
	if err := DecodeRecord(raw, &s); err != nil {
		return Summary{}, Normalize(FetchFailure, OpSummary, err)
	}
	return s, nil
}

// DecodeRecord decodes a single-object payload, unwrapping "data" when the
// server uses an envelope.
func DecodeRecord(raw json.RawMessage, v interface{}) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 && envelope.Data[0] == '{' {
		raw = envelope.Data
	}
	return json.Unmarshal(raw, v)
}

// -- Writes --

type patientPayload struct {
	Name           string `json:"name"`
	BirthDate      string `json:"birthDate"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Diagnosis      string `json:"diagnosis"`
	Notes          string `json:"notes"`
	Status         string `json:"status,omitempty"`
	ProfessionalID string `json:"professionalId,omitempty"`
}

type appointmentPayload struct {
	AppointmentForm
	ProfessionalID string `json:"professionalId"`
}

type assistantPayload struct {
	AssistantForm
	ProfessionalID string `json:"professionalId"`
}

type statusPayload struct {
	Status string `json:"status"`
}

// writeRecord turns a write answer into its record. An answer that cannot
// be decoded is still a successful write: the zero record is returned and
// the mismatch is logged.
func writeRecord[T any](logger zerolog.Logger, op string, raw json.RawMessage, err error) (T, error) {
	var v T
	if err != nil {
		return v, Normalize(MutationFailure, op, err)
	}
	// Writes that answer with no body are still successful.
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return v, nil
	}
	if err := DecodeRecord(raw, &v); err != nil {
		logger.Warn().Err(err).Str("op", op).Int("bytes", len(raw)).Msg("write response could not be decoded")
		var zero T
		return zero, nil
	}
	return v, nil
}

func (f *Fetcher) CreatePatient(ctx context.Context, p patientPayload) (Patient, error) {
	raw, err := f.client.Post(ctx, "/patients", p)
	return writeRecord[Patient](f.logger, OpCreatePatient, raw, err)
}

func (f *Fetcher) UpdatePatient(ctx context.Context, id string, p patientPayload) (Patient, error) {
	raw, err := f.client.Put(ctx, "/patients/"+url.PathEscape(id), p)
	return writeRecord[Patient](f.logger, OpUpdatePatient, raw, err)
}

func (f *Fetcher) SetPatientStatus(ctx context.Context, id, status string) error {
	_, err := f.client.Put(ctx, "/patients/"+url.PathEscape(id)+"/status", statusPayload{Status: status})
	return Normalize(MutationFailure, OpTogglePatientStatus, err).orNil()
}

func (f *Fetcher) CreateAppointment(ctx context.Context, p appointmentPayload) (Appointment, error) {
	raw, err := f.client.Post(ctx, "/appointments", p)
	return writeRecord[Appointment](f.logger, OpCreateAppointment, raw, err)
}

func (f *Fetcher) AddNote(ctx context.Context, patientID string, n NoteForm) (Note, error) {
	raw, err := f.client.Post(ctx, "/patients/"+url.PathEscape(patientID)+"/notes", n)
	return writeRecord[Note](f.logger, OpAddNote, raw, err)
}

func (f *Fetcher) AddAssistant(ctx context.Context, p assistantPayload) (Assistant, error) {
	raw, err := f.client.Post(ctx, "/assistants", p)
	return writeRecord[Assistant](f.logger, OpAddAssistant, raw, err)
}

func (f *Fetcher) SetAssistantStatus(ctx context.Context, id, status string) error {
	_, err := f.client.Put(ctx, "/assistants/"+url.PathEscape(id)+"/status", statusPayload{Status: status})
	return Normalize(MutationFailure, OpToggleAssistantStatus, err).orNil()
}

// orNil keeps a nil *Failure from becoming a non-nil error interface.
func (f *Failure) orNil() error {
	if f == nil {
		return nil
	}
	return f
}
