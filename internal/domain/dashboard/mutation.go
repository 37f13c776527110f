package dashboard

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdash/clinicdash/pkg/datefmt"
)

// Invalidates lists, per write operation, exactly the collections that the
// write makes stale. Nothing else is refetched after it succeeds.
var Invalidates = map[string][]Collection{
	OpCreatePatient:         {CollectionPatients, CollectionSummary},
	OpCreateAppointment:     {CollectionAppointments, CollectionSummary, CollectionAppointmentTypes},
	OpAddNote:               {CollectionNotes},
	OpAddAssistant:          {CollectionAssistants},
	OpUpdatePatient:         {CollectionPatients},
	OpTogglePatientStatus:   {CollectionPatients},
	OpToggleAssistantStatus: {CollectionAssistants},
}

// Synchronizer runs writes for one session. Every mutation is fire, await,
// reconcile: the store is only touched after the write has succeeded, and
// dependent refetches start only then.
type Synchronizer struct {
	fetcher *Fetcher
	store   *Store
	loader  *loader
	ownerID string
	loc     *time.Location
	logger  zerolog.Logger
}

// fail records a write failure as the session's mutation error and returns
// it. The forms and collections are left as they were.
func (s *Synchronizer) fail(op string, err error) error {
	f := Normalize(MutationFailure, op, err)
	s.store.SetError(SectionMutation, f.Message)
	s.logger.Warn().Err(f.Err).Str("op", op).Int("status", f.Status).Msg("mutation failed")
	return f
}

func invalid(op, msg string) *Failure {
	return &Failure{Kind: MutationFailure, Op: op, Message: msg, Status: http.StatusUnprocessableEntity}
}

// reconcile runs after a successful write.
func (s *Synchronizer) reconcile(ctx context.Context, op, form string) {
	s.store.DismissError(SectionMutation)
	if form != "" {
		s.store.ResetForm(form)
	}
	_ = s.loader.refresh(ctx, Invalidates[op]...)
}

func (s *Synchronizer) CreatePatient(ctx context.Context) (Patient, error) {
	form := s.store.Forms().Patient
	if strings.TrimSpace(form.Name) == "" {
		return Patient{}, s.fail(OpCreatePatient, invalid(OpCreatePatient, "Patient name is required."))
	}
	birth, err := datefmt.ToDateOnly(form.BirthDate, s.loc)
	if err != nil {
		return Patient{}, s.fail(OpCreatePatient, invalid(OpCreatePatient, "Invalid birth date."))
	}

	created, err := s.fetcher.CreatePatient(ctx, patientPayload{
		Name:           form.Name,
		BirthDate:      birth,
		Email:          form.Email,
		Phone:          form.Phone,
		Diagnosis:      form.Diagnosis,
		Notes:          form.Notes,
		Status:         StatusActive,
		ProfessionalID: s.ownerID,
	})
	if err != nil {
		return Patient{}, s.fail(OpCreatePatient, err)
	}
	s.reconcile(ctx, OpCreatePatient, FormPatient)
	return created, nil
}

func (s *Synchronizer) CreateAppointment(ctx context.Context) (Appointment, error) {
	form := s.store.Forms().Appointment
	if form.PatientID == "" || form.Date == "" {
		return Appointment{}, s.fail(OpCreateAppointment, invalid(OpCreateAppointment, "Patient and date are required."))
	}
	date, err := datefmt.ToDateOnly(form.Date, s.loc)
	if err != nil {
		return Appointment{}, s.fail(OpCreateAppointment, invalid(OpCreateAppointment, "Invalid appointment date."))
	}
	if PaymentDetailRequired(form.PaymentMethod) && strings.TrimSpace(form.PaymentDetail) == "" {
		return Appointment{}, s.fail(OpCreateAppointment, invalid(OpCreateAppointment, "Payment detail is required for this payment method."))
	}
	if !PaymentDetailRequired(form.PaymentMethod) {
		form.PaymentDetail = ""
	}
	form.Date = date

	created, err := s.fetcher.CreateAppointment(ctx, appointmentPayload{AppointmentForm: form, ProfessionalID: s.ownerID})
	if err != nil {
		return Appointment{}, s.fail(OpCreateAppointment, err)
	}
	s.reconcile(ctx, OpCreateAppointment, FormAppointment)
	return created, nil
}

// AddNote writes a note for the selected patient and reloads that
// patient's notes.
func (s *Synchronizer) AddNote(ctx context.Context) (Note, error) {
	patientID := s.store.SelectedPatientID()
	if patientID == "" {
		return Note{}, s.fail(OpAddNote, invalid(OpAddNote, "Select a patient first."))
	}
	form := s.store.Forms().Note
	if strings.TrimSpace(form.Content) == "" {
		return Note{}, s.fail(OpAddNote, invalid(OpAddNote, "Note content is required."))
	}

	created, err := s.fetcher.AddNote(ctx, patientID, form)
	if err != nil {
		return Note{}, s.fail(OpAddNote, err)
	}
	s.store.DismissError(SectionMutation)
	s.store.ResetForm(FormNote)
	_ = s.loader.loadNotes(ctx, patientID)
	return created, nil
}

func (s *Synchronizer) AddAssistant(ctx context.Context) (Assistant, error) {
	form := s.store.Forms().Assistant
	if strings.TrimSpace(form.Name) == "" || strings.TrimSpace(form.Email) == "" {
		return Assistant{}, s.fail(OpAddAssistant, invalid(OpAddAssistant, "Assistant name and email are required."))
	}

	created, err := s.fetcher.AddAssistant(ctx, assistantPayload{AssistantForm: form, ProfessionalID: s.ownerID})
	if err != nil {
		return Assistant{}, s.fail(OpAddAssistant, err)
	}
	s.reconcile(ctx, OpAddAssistant, FormAssistant)
	return created, nil
}

// UpdatePatient writes the edit buffer. The edited fields are merged into
// the selected patient before the patients list is refetched.
func (s *Synchronizer) UpdatePatient(ctx context.Context) (Patient, error) {
	form := s.store.Forms().EditPatient
	id := form.ID
	if id == "" {
		id = s.store.SelectedPatientID()
	}
	if id == "" {
		return Patient{}, s.fail(OpUpdatePatient, invalid(OpUpdatePatient, "No patient is being edited."))
	}
	birth, err := datefmt.ToDateOnly(form.BirthDate, s.loc)
	if err != nil {
		return Patient{}, s.fail(OpUpdatePatient, invalid(OpUpdatePatient, "Invalid birth date."))
	}

	payload := patientPayload{
		Name:      form.Name,
		BirthDate: birth,
		Email:     form.Email,
		Phone:     form.Phone,
		Diagnosis: form.Diagnosis,
		Notes:     form.Observations,
	}
	updated, err := s.fetcher.UpdatePatient(ctx, id, payload)
	if err != nil {
		return Patient{}, s.fail(OpUpdatePatient, err)
	}

	s.store.MergeSelectedPatient(id, func(p *Patient) {
		p.Name = payload.Name
		p.BirthDate = payload.BirthDate
		p.Email = payload.Email
		p.Phone = payload.Phone
		p.Diagnosis = payload.Diagnosis
		p.Notes = payload.Notes
	})
	s.reconcile(ctx, OpUpdatePatient, "")
	if updated.ID == "" {
		updated, _ = s.store.Patient(id)
	}
	return updated, nil
}

// TogglePatientStatus flips the patient's status within its vocabulary.
func (s *Synchronizer) TogglePatientStatus(ctx context.Context, id string) (string, error) {
	p, ok := s.store.Patient(id)
	if !ok {
		return "", s.fail(OpTogglePatientStatus, &Failure{Kind: MutationFailure, Op: OpTogglePatientStatus, Message: "Patient not found.", Status: http.StatusNotFound})
	}
	if !KnownStatus(p.Status) {
		return "", s.fail(OpTogglePatientStatus, invalid(OpTogglePatientStatus, "Unknown status."))
	}
	next := ToggleStatus(p.Status)
	if err := s.fetcher.SetPatientStatus(ctx, id, next); err != nil {
		return "", s.fail(OpTogglePatientStatus, err)
	}
	s.store.MergeSelectedPatient(id, func(p *Patient) { p.Status = next })
	s.reconcile(ctx, OpTogglePatientStatus, "")
	return next, nil
}

func (s *Synchronizer) ToggleAssistantStatus(ctx context.Context, id string) (string, error) {
	a, ok := s.store.Assistant(id)
	if !ok {
		return "", s.fail(OpToggleAssistantStatus, &Failure{Kind: MutationFailure, Op: OpToggleAssistantStatus, Message: "Assistant not found.", Status: http.StatusNotFound})
	}
	if !KnownStatus(a.Status) {
		return "", s.fail(OpToggleAssistantStatus, invalid(OpToggleAssistantStatus, "Unknown status."))
	}
	next := ToggleStatus(a.Status)
	if err := s.fetcher.SetAssistantStatus(ctx, id, next); err != nil {
		return "", s.fail(OpToggleAssistantStatus, err)
	}
	s.reconcile(ctx, OpToggleAssistantStatus, "")
	return next, nil
}

// EditBufferFor fills an edit buffer from a patient record.
func EditBufferFor(p Patient, loc *time.Location) EditPatientForm {
	birth, err := datefmt.ToDateOnly(p.BirthDate, loc)
	if err != nil {
		birth = p.BirthDate
	}
	return EditPatientForm{
		ID:           p.ID,
		Name:         p.Name,
		BirthDate:    birth,
		Email:        p.Email,
		Phone:        p.Phone,
		Diagnosis:    p.Diagnosis,
		Observations: p.Notes,
	}
}
