package dashboard

import (
	"sync"
)

// Collection names one independently fetched section of the dashboard.
type Collection string

const (
	CollectionPatients         Collection = "patients"
	CollectionAppointments     Collection = "appointments"
	CollectionAssistants       Collection = "assistants"
	CollectionNotes            Collection = "notes"
	CollectionProgress         Collection = "progress"
	CollectionDiagnosis        Collection = "diagnosisDistribution"
	CollectionAppointmentTypes Collection = "appointmentTypes"
	CollectionSummary          Collection = "summary"
	CollectionNotifications    Collection = "notifications"
)

// SectionMutation keys the error raised by the last failed write.
const SectionMutation = "mutation"

// InitialCollections is what a mount loads. Notes are loaded lazily when a
// patient is selected.
var InitialCollections = []Collection{
	CollectionSummary,
	CollectionPatients,
	CollectionAppointments,
	CollectionAssistants,
	CollectionProgress,
	CollectionDiagnosis,
	CollectionAppointmentTypes,
	CollectionNotifications,
}

// Snapshot is a point-in-time copy of a session's view model. Every list is
// non-nil.
type Snapshot struct {
	Patients              []Patient              `json:"patients"`
	Appointments          []Appointment          `json:"appointments"`
	Assistants            []Assistant            `json:"assistants"`
	Notifications         []Notification         `json:"notifications"`
	Progress              ChartSeries            `json:"progress"`
	DiagnosisDistribution []DiagnosisShare       `json:"diagnosisDistribution"`
	AppointmentTypes      []AppointmentTypeShare `json:"appointmentTypes"`
	SelectedPatient       *SelectedPatient       `json:"selectedPatient"`
	Summary               Summary                `json:"summary"`
	Criteria              FilterCriteria         `json:"criteria"`
	Forms                 Forms                  `json:"forms"`
	Loading               map[Collection]bool    `json:"loading"`
	Errors                map[string]string      `json:"errors"`
}

// Store holds the view model of one dashboard session. All updates are
// whole-collection replacements, except the explicit SelectedPatient merges
// used by the Synchronizer. Once closed, every update is a no-op.
type Store struct {
	mu       sync.RWMutex
	s        Snapshot
	inflight map[Collection]int // overlapping loads per collection
	closed   bool
	onChange func()
}

// NewStore returns a store in its empty state.
func NewStore() *Store {
	return &Store{s: Snapshot{
		Patients:              []Patient{},
		Appointments:          []Appointment{},
		Assistants:            []Assistant{},
		Notifications:         []Notification{},
		Progress:              EmptySeries(ProgressMetrics),
		DiagnosisDistribution: []DiagnosisShare{},
		AppointmentTypes:      []AppointmentTypeShare{},
		Criteria:              DefaultCriteria(),
		Forms:                 DefaultForms(),
		Loading:               map[Collection]bool{},
		Errors:                map[string]string{},
	}, inflight: map[Collection]int{}}
}

// OnChange registers fn to run after every applied update, outside the lock.
func (st *Store) OnChange(fn func()) {
	st.mu.Lock()
	st.onChange = fn
	st.mu.Unlock()
}

// update applies fn unless the store is closed. It reports whether fn ran.
func (st *Store) update(fn func(s *Snapshot)) bool {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return false
	}
	fn(&st.s)
	notify := st.onChange
	st.mu.Unlock()

	if notify != nil {
		notify()
	}
	return true
}

// Close suppresses every later update.
func (st *Store) Close() {
	st.mu.Lock()
	st.closed = true
	st.onChange = nil
	st.mu.Unlock()
}

func (st *Store) Closed() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.closed
}

// Snapshot returns a copy that callers may read without holding any lock.
func (st *Store) Snapshot() Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s := st.s
	s.Patients = append([]Patient{}, st.s.Patients...)
	s.Appointments = append([]Appointment{}, st.s.Appointments...)
	s.Assistants = append([]Assistant{}, st.s.Assistants...)
	s.Notifications = append([]Notification{}, st.s.Notifications...)
	s.Progress = st.s.Progress.clone()
	s.DiagnosisDistribution = append([]DiagnosisShare{}, st.s.DiagnosisDistribution...)
	s.AppointmentTypes = append([]AppointmentTypeShare{}, st.s.AppointmentTypes...)
	if sp := st.s.SelectedPatient; sp != nil {
		s.SelectedPatient = &SelectedPatient{Patient: sp.Patient, Notes: append([]Note{}, sp.Notes...)}
	}
	s.Loading = make(map[Collection]bool, len(st.s.Loading))
	for k, v := range st.s.Loading {
		s.Loading[k] = v
	}
	s.Errors = make(map[string]string, len(st.s.Errors))
	for k, v := range st.s.Errors {
		s.Errors[k] = v
	}
	return s
}

// -- Loading flags and section errors --

// BeginLoad raises the loading flag of c. Loads of one collection may
// overlap; the flag stays up until every one of them has ended.
func (st *Store) BeginLoad(c Collection) bool {
	return st.update(func(s *Snapshot) {
		st.inflight[c]++
		s.Loading[c] = true
	})
}

// EndLoad ends one load of c and records or clears its error. The loading
// flag drops with the last load in flight.
func (st *Store) EndLoad(c Collection, errMsg string) bool {
	return st.update(func(s *Snapshot) {
		if st.inflight[c] > 1 {
			st.inflight[c]--
		} else {
			delete(st.inflight, c)
			delete(s.Loading, c)
		}
		if errMsg != "" {
			s.Errors[string(c)] = errMsg
		} else {
			delete(s.Errors, string(c))
		}
	})
}

func (st *Store) SetError(section, msg string) bool {
	return st.update(func(s *Snapshot) { s.Errors[section] = msg })
}

// DismissError removes a section message.
func (st *Store) DismissError(section string) bool {
	return st.update(func(s *Snapshot) { delete(s.Errors, section) })
}

// -- Collection replacement --

func (st *Store) SetPatients(v []Patient) bool {
	return st.update(func(s *Snapshot) { s.Patients = append([]Patient{}, v...) })
}

func (st *Store) SetAppointments(v []Appointment) bool {
	return st.update(func(s *Snapshot) { s.Appointments = append([]Appointment{}, v...) })
}

func (st *Store) SetAssistants(v []Assistant) bool {
	return st.update(func(s *Snapshot) { s.Assistants = append([]Assistant{}, v...) })
}

func (st *Store) SetNotifications(v []Notification) bool {
	return st.update(func(s *Snapshot) { s.Notifications = append([]Notification{}, v...) })
}

func (st *Store) SetProgress(v ChartSeries) bool {
	return st.update(func(s *Snapshot) { s.Progress = v.clone() })
}

func (st *Store) SetDiagnosisDistribution(v []DiagnosisShare) bool {
	return st.update(func(s *Snapshot) { s.DiagnosisDistribution = append([]DiagnosisShare{}, v...) })
}

func (st *Store) SetAppointmentTypes(v []AppointmentTypeShare) bool {
	return st.update(func(s *Snapshot) { s.AppointmentTypes = append([]AppointmentTypeShare{}, v...) })
}

func (st *Store) SetSummary(v Summary) bool {
	return st.update(func(s *Snapshot) { s.Summary = v })
}

func (st *Store) SetCriteria(c FilterCriteria) bool {
	return st.update(func(s *Snapshot) { s.Criteria = c })
}

func (st *Store) Criteria() FilterCriteria {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.Criteria
}

// -- Selected patient --

// SelectPatient opens the detail panel with an empty notes list.
func (st *Store) SelectPatient(p Patient) bool {
	return st.update(func(s *Snapshot) {
		s.SelectedPatient = &SelectedPatient{Patient: p, Notes: []Note{}}
	})
}

func (st *Store) ClearSelection() bool {
	return st.update(func(s *Snapshot) { s.SelectedPatient = nil })
}

// SelectedPatientID returns "" when nothing is selected.
func (st *Store) SelectedPatientID() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.s.SelectedPatient == nil {
		return ""
	}
	return st.s.SelectedPatient.Patient.ID
}

// SetSelectedNotes replaces the notes of the selected patient, but only if
// patientID is still the one selected.
func (st *Store) SetSelectedNotes(patientID string, notes []Note) bool {
	applied := false
	ok := st.update(func(s *Snapshot) {
		if s.SelectedPatient == nil || s.SelectedPatient.Patient.ID != patientID {
			return
		}
		s.SelectedPatient.Notes = append([]Note{}, notes...)
		applied = true
	})
	return ok && applied
}

// MergeSelectedPatient applies fn to the selected patient if it is id.
func (st *Store) MergeSelectedPatient(id string, fn func(p *Patient)) bool {
	applied := false
	ok := st.update(func(s *Snapshot) {
		if s.SelectedPatient == nil || s.SelectedPatient.Patient.ID != id {
			return
		}
		fn(&s.SelectedPatient.Patient)
		applied = true
	})
	return ok && applied
}

// -- Lookups --

func (st *Store) Patient(id string) (Patient, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, p := range st.s.Patients {
		if p.ID == id {
			return p, true
		}
	}
	if sp := st.s.SelectedPatient; sp != nil && sp.Patient.ID == id {
		return sp.Patient, true
	}
	return Patient{}, false
}

func (st *Store) Assistant(id string) (Assistant, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, a := range st.s.Assistants {
		if a.ID == id {
			return a, true
		}
	}
	return Assistant{}, false
}

// -- Forms --

func (st *Store) Forms() Forms {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.Forms
}

func (st *Store) UpdateForms(fn func(f *Forms)) bool {
	return st.update(func(s *Snapshot) { fn(&s.Forms) })
}

// ResetForm puts one form buffer back to its initial value.
func (st *Store) ResetForm(name string) bool {
	return st.update(func(s *Snapshot) {
		def := DefaultForms()
		switch name {
		case FormPatient:
			s.Forms.Patient = def.Patient
		case FormAppointment:
			s.Forms.Appointment = def.Appointment
		case FormAssistant:
			s.Forms.Assistant = def.Assistant
		case FormNote:
			s.Forms.Note = def.Note
		case FormEditPatient:
			s.Forms.EditPatient = def.EditPatient
		}
	})
}
