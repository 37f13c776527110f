package dashboard

import (
	"errors"
	"net/http"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdash/clinicdash/internal/platform/transport"
)

func sortedCalls(f *fakeClient) []string {
	calls := f.Calls()
	sort.Strings(calls)
	return calls
}

func TestCreatePatient_Success(t *testing.T) {
	client := seededClient()
	s := mountReady(t, client)

	client.onWrite("POST /patients", func(body interface{}) (interface{}, error) {
		p := body.(patientPayload)
		created := Patient{ID: "p3", Name: p.Name, Diagnosis: p.Diagnosis, Status: p.Status, BirthDate: p.BirthDate}
		client.set("/patients", []Patient{
			{ID: "p1", Name: "Ana", Status: StatusAtivo},
			{ID: "p2", Name: "Bia", Status: StatusInativo},
			created,
		})
		return created, nil
	})
	s.Store().UpdateForms(func(f *Forms) {
		f.Patient = PatientForm{Name: "Caio", BirthDate: "2016-07-21T00:00:00Z", Diagnosis: DiagnosisLevel2}
	})
	client.reset()

	created, err := s.Sync().CreatePatient(s.Context())
	require.NoError(t, err)
	assert.Equal(t, "p3", created.ID)

	snap := s.Store().Snapshot()
	assert.Len(t, snap.Patients, 3)
	assert.Equal(t, DefaultPatientForm(), snap.Forms.Patient)
	assert.NotContains(t, snap.Errors, SectionMutation)

	calls := client.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "POST /patients", calls[0], "the write precedes every refetch")
	assert.Equal(t,
		[]string{"GET /patients", "GET /professionals/" + ownerID + "/summary", "POST /patients"},
		sortedCalls(client))

	c, _ := client.lastCall("POST", "/patients")
	payload := c.Body.(patientPayload)
	assert.Equal(t, "2016-07-21", payload.BirthDate)
	assert.Equal(t, ownerID, payload.ProfessionalID)
	assert.Equal(t, StatusActive, payload.Status)
}

func TestCreatePatient_FailureKeepsState(t *testing.T) {
	client := seededClient()
	s := mountReady(t, client)
	client.failWith("POST /patients", &transport.Error{Status: http.StatusConflict, Payload: []byte(`{"message":"Email já cadastrado"}`)})

	entered := PatientForm{Name: "Caio", Email: "caio@example.com", Diagnosis: DiagnosisLevel2}
	s.Store().UpdateForms(func(f *Forms) { f.Patient = entered })
	before := s.Store().Snapshot().Patients
	client.reset()

	_, err := s.Sync().CreatePatient(s.Context())
	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, MutationFailure, f.Kind)

	snap := s.Store().Snapshot()
	assert.Equal(t, before, snap.Patients)
	assert.Equal(t, entered, snap.Forms.Patient)
	assert.Equal(t, "Email já cadastrado", snap.Errors[SectionMutation])
	assert.Equal(t, []string{"POST /patients"}, client.Calls(), "no refetch after a failed write")
}

func TestCreatePatient_Validation(t *testing.T) {
	client := seededClient()
	s := mountReady(t, client)
	client.reset()

	_, err := s.Sync().CreatePatient(s.Context())
	require.Error(t, err)
	assert.Empty(t, client.Calls())
	assert.NotEmpty(t, s.Store().Snapshot().Errors[SectionMutation])
}

func TestCreateAppointment_Invalidation(t *testing.T) {
	client := seededClient()
	s := mountReady(t, client)
	s.Store().UpdateForms(func(f *Forms) {
		f.Appointment.PatientID = "p1"
		f.Appointment.Date = "2024-05-20"
		f.Appointment.Time = "10:00"
		f.Appointment.PaymentDetail = "ignored for pix"
	})
	client.reset()

	_, err := s.Sync().CreateAppointment(s.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"GET /appointments",
		"GET /professionals/" + ownerID + "/summary",
		"GET /reports/appointment-types",
		"POST /appointments",
	}, sortedCalls(client))
	assert.Equal(t, DefaultAppointmentForm(), s.Store().Forms().Appointment)

	c, _ := client.lastCall("POST", "/appointments")
	payload := c.Body.(appointmentPayload)
	assert.Empty(t, payload.PaymentDetail)
	assert.Equal(t, ownerID, payload.ProfessionalID)
}

func TestCreateAppointment_PaymentDetailRequired(t *testing.T) {
	client := seededClient()
	s := mountReady(t, client)
	s.Store().UpdateForms(func(f *Forms) {
		f.Appointment.PatientID = "p1"
		f.Appointment.Date = "2024-05-20"
		f.Appointment.PaymentMethod = PaymentInsurance
	})
	client.reset()

	_, err := s.Sync().CreateAppointment(s.Context())
	require.Error(t, err)
	assert.Empty(t, client.Calls())
	assert.Equal(t, PaymentInsurance, s.Store().Forms().Appointment.PaymentMethod)
}

func TestAddNote_RefetchesScopedNotes(t *testing.T) {
	client := seededClient()
	s := mountReady(t, client)
	require.NoError(t, s.SelectPatient("p1"))

	client.onWrite("POST /patients/p1/notes", func(body interface{}) (interface{}, error) {
		n := body.(NoteForm)
		client.set("/patients/p1/notes", []Note{
			{ID: "note1", PatientID: "p1"},
			{ID: "note2", PatientID: "p1", Title: n.Title, Content: n.Content},
		})
		return Note{ID: "note2", PatientID: "p1", Title: n.Title, Content: n.Content}, nil
	})
	s.Store().UpdateForms(func(f *Forms) { f.Note = NoteForm{Title: "Evolução", Content: "Melhora na fala"} })
	client.reset()

	note, err := s.Sync().AddNote(s.Context())
	require.NoError(t, err)
	assert.Equal(t, "note2", note.ID)
	assert.Equal(t, []string{"POST /patients/p1/notes", "GET /patients/p1/notes"}, client.Calls())

	snap := s.Store().Snapshot()
	assert.Len(t, snap.SelectedPatient.Notes, 2)
	assert.Equal(t, NoteForm{}, snap.Forms.Note)
}

func TestAddNote_RequiresSelection(t *testing.T) {
	client := seededClient()
	s := mountReady(t, client)
	s.Store().UpdateForms(func(f *Forms) { f.Note.Content = "text" })
	client.reset()

	_, err := s.Sync().AddNote(s.Context())
	require.Error(t, err)
	assert.Empty(t, client.Calls())
	assert.Equal(t, "text", s.Store().Forms().Note.Content)
}

func TestAddAssistant(t *testing.T) {
	client := seededClient()
	s := mountReady(t, client)
	s.Store().UpdateForms(func(f *Forms) {
		f.Assistant = AssistantForm{Name: "Lia", Email: "lia@example.com", Password: "s3cret"}
	})
	client.reset()

	_, err := s.Sync().AddAssistant(s.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"GET /assistants", "POST /assistants"}, sortedCalls(client))
	assert.Equal(t, AssistantForm{}, s.Store().Forms().Assistant)
}

func TestUpdatePatient_MergesSelection(t *testing.T) {
	client := seededClient()
	s := mountReady(t, client)
	require.NoError(t, s.SelectPatient("p1"))

	s.Store().UpdateForms(func(f *Forms) {
		f.EditPatient.Name = "Ana Clara"
		f.EditPatient.BirthDate = "2015-03-02T00:00:00"
		f.EditPatient.Observations = "Prefere sessões pela manhã"
	})
	client.reset()

	_, err := s.Sync().UpdatePatient(s.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"PUT /patients/p1", "GET /patients"}, client.Calls())

	c, _ := client.lastCall("PUT", "/patients/p1")
	payload := c.Body.(patientPayload)
	assert.Equal(t, "2015-03-02", payload.BirthDate)
	assert.Equal(t, "Prefere sessões pela manhã", payload.Notes)

	selected := s.Store().Snapshot().SelectedPatient
	require.NotNil(t, selected)
	assert.Equal(t, "Ana Clara", selected.Patient.Name)
	assert.Equal(t, "Prefere sessões pela manhã", selected.Patient.Notes)
}

func TestUpdatePatient_FailureLeavesSelection(t *testing.T) {
	client := seededClient()
	s := mountReady(t, client)
	require.NoError(t, s.SelectPatient("p1"))
	client.failWith("PUT /patients/p1", transport.NewError(http.StatusUnprocessableEntity, "Nome obrigatório"))
	s.Store().UpdateForms(func(f *Forms) { f.EditPatient.Name = "" })

	_, err := s.Sync().UpdatePatient(s.Context())
	require.Error(t, err)
	snap := s.Store().Snapshot()
	assert.Equal(t, "Ana", snap.SelectedPatient.Patient.Name)
	assert.Equal(t, "Nome obrigatório", snap.Errors[SectionMutation])
}

func TestTogglePatientStatus_SelfInverse(t *testing.T) {
	client := seededClient()
	s := mountReady(t, client)
	require.NoError(t, s.SelectPatient("p1"))

	// The fake list follows every status write.
	client.onWrite("PUT /patients/p1/status", func(body interface{}) (interface{}, error) {
		status := body.(statusPayload).Status
		client.set("/patients", []Patient{
			{ID: "p1", Name: "Ana", Diagnosis: DiagnosisLevel1, Status: status},
			{ID: "p2", Name: "Bia", Diagnosis: DiagnosisLevel2, Status: StatusInativo},
		})
		return nil, nil
	})

	next, err := s.Sync().TogglePatientStatus(s.Context(), "p1")
	require.NoError(t, err)
	assert.Equal(t, StatusInativo, next)
	assert.Equal(t, StatusInativo, s.Store().Snapshot().SelectedPatient.Patient.Status)

	next, err = s.Sync().TogglePatientStatus(s.Context(), "p1")
	require.NoError(t, err)
	assert.Equal(t, StatusAtivo, next)

	p, ok := s.Store().Patient("p1")
	require.True(t, ok)
	assert.Equal(t, StatusAtivo, p.Status)
}

func TestTogglePatientStatus_FailureIsNotOptimistic(t *testing.T) {
	client := seededClient()
	s := mountReady(t, client)
	require.NoError(t, s.SelectPatient("p1"))
	client.failWith("PUT /patients/p1/status", errors.New("connection reset"))

	_, err := s.Sync().TogglePatientStatus(s.Context(), "p1")
	require.Error(t, err)

	snap := s.Store().Snapshot()
	assert.Equal(t, StatusAtivo, snap.SelectedPatient.Patient.Status)
	assert.Equal(t, DefaultMessage(OpTogglePatientStatus), snap.Errors[SectionMutation])
}

func TestToggleAssistantStatus(t *testing.T) {
	client := seededClient()
	s := mountReady(t, client)
	client.reset()

	next, err := s.Sync().ToggleAssistantStatus(s.Context(), "as2")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, next)
	assert.Equal(t, []string{"PUT /assistants/as2/status", "GET /assistants"}, client.Calls())

	c, _ := client.lastCall("PUT", "/assistants/as2/status")
	assert.Equal(t, statusPayload{Status: StatusActive}, c.Body)

	_, err = s.Sync().ToggleAssistantStatus(s.Context(), "missing")
	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, http.StatusNotFound, f.Status)
}

func TestToggleStatus_UnknownStatusIsRejected(t *testing.T) {
	client := seededClient()
	client.set("/patients", []Patient{{ID: "p9", Name: "Caio", Diagnosis: DiagnosisLevel1, Status: "pending"}})
	client.set("/assistants", []Assistant{{ID: "as9", Name: "Davi", Email: "davi@example.com", Status: "suspended"}})
	s := mountReady(t, client)
	client.reset()

	_, err := s.Sync().TogglePatientStatus(s.Context(), "p9")
	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, http.StatusUnprocessableEntity, f.Status)

	_, err = s.Sync().ToggleAssistantStatus(s.Context(), "as9")
	require.True(t, errors.As(err, &f))
	assert.Equal(t, http.StatusUnprocessableEntity, f.Status)

	assert.Empty(t, client.Calls())
	p, ok := s.Store().Patient("p9")
	require.True(t, ok)
	assert.Equal(t, "pending", p.Status)
}

func TestInvalidatesTable(t *testing.T) {
	assert.ElementsMatch(t, []Collection{CollectionPatients, CollectionSummary}, Invalidates[OpCreatePatient])
	assert.ElementsMatch(t, []Collection{CollectionAppointments, CollectionSummary, CollectionAppointmentTypes}, Invalidates[OpCreateAppointment])
	assert.Equal(t, []Collection{CollectionNotes}, Invalidates[OpAddNote])
	assert.Equal(t, []Collection{CollectionAssistants}, Invalidates[OpAddAssistant])
	assert.Equal(t, []Collection{CollectionPatients}, Invalidates[OpUpdatePatient])
	assert.Equal(t, []Collection{CollectionPatients}, Invalidates[OpTogglePatientStatus])
	assert.Equal(t, []Collection{CollectionAssistants}, Invalidates[OpToggleAssistantStatus])
}
