// Package dashboard keeps the view model of a mounted professional
// dashboard. A Session fetches the clinic collections, reconciles writes
// through its Synchronizer and derives the filtered projections and chart
// series from one Store snapshot.
package dashboard

// Patient and assistant status values. The clinic API speaks either the
// English or the Portuguese vocabulary; toggling stays within the one the
// record already uses.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusAtivo    = "ativo"
	StatusInativo  = "inativo"
)

// FilterAll is the sentinel criterion meaning "no constraint". FilterTodos
// is accepted as its Portuguese spelling.
const (
	FilterAll   = "all"
	FilterTodos = "todos"
)

// IsAll reports whether a criterion value leaves its dimension unconstrained.
func IsAll(v string) bool {
	return v == "" || v == FilterAll || v == FilterTodos
}

// IsActive reports whether status is one of the active spellings.
func IsActive(status string) bool {
	return status == StatusActive || status == StatusAtivo
}

// ToggleStatus returns the logical negation of status. Applying it twice
// returns the original value. A status outside the known spellings has no
// negation and is returned unchanged.
func ToggleStatus(status string) string {
	switch status {
	case StatusActive:
		return StatusInactive
	case StatusInactive:
		return StatusActive
	case StatusAtivo:
		return StatusInativo
	case StatusInativo:
		return StatusAtivo
	default:
		return status
	}
}

// KnownStatus reports whether status is one of the spellings ToggleStatus
// can negate.
func KnownStatus(status string) bool {
	return ToggleStatus(status) != status
}

const (
	DiagnosisLevel1 = "Nível 1"
	DiagnosisLevel2 = "Nível 2"
	DiagnosisLevel3 = "Nível 3"
)

const (
	AppointmentScheduled = "scheduled"
	AppointmentConfirmed = "confirmed"
	AppointmentCompleted = "completed"
	AppointmentCancelled = "cancelled"
	AppointmentNoShow    = "no_show"
)

const (
	AppointmentTypeEvaluation    = "evaluation"
	AppointmentTypeSession       = "session"
	AppointmentTypeReturn        = "return"
	AppointmentTypeParentMeeting = "parent_meeting"
)

const (
	PaymentPix       = "pix"
	PaymentCash      = "cash"
	PaymentCard      = "card"
	PaymentInsurance = "insurance"
	PaymentOther     = "other"
)

const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
)

// PaymentDetailRequired reports whether a payment method needs the free-text
// payment detail.
func PaymentDetailRequired(method string) bool {
	return method == PaymentOther || method == PaymentInsurance
}

// Progress metrics charted on the patient evolution panel.
const (
	MetricCommunication     = "Comunicacao"
	MetricSocialInteraction = "Interacao Social"
	MetricBehavior          = "Comportamento"
)

// ProgressMetrics is the fixed metric set, in chart order.
var ProgressMetrics = []string{MetricCommunication, MetricSocialInteraction, MetricBehavior}

type Patient struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	BirthDate      string `json:"birthDate"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Diagnosis      string `json:"diagnosis"`
	Notes          string `json:"notes"`
	Status         string `json:"status"`
	RegisteredAt   string `json:"registrationDate"`
	ProfessionalID string `json:"professionalId"`
}

type Appointment struct {
	ID            string  `json:"id"`
	PatientID     string  `json:"patientId"`
	PatientName   string  `json:"patientName,omitempty"`
	Date          string  `json:"date"`
	Time          string  `json:"time"`
	Type          string  `json:"type"`
	Status        string  `json:"status"`
	PaymentMethod string  `json:"paymentMethod"`
	PaymentStatus string  `json:"paymentStatus"`
	PaymentDetail string  `json:"paymentDetail,omitempty"`
	Value         float64 `json:"value"`
	Notes         string  `json:"notes"`
}

type Assistant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	TaxID  string `json:"cpf"`
	Phone  string `json:"phone"`
	Email  string `json:"email"`
	Status string `json:"status"`
}

type Note struct {
	ID        string `json:"id"`
	PatientID string `json:"patientId"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

type ProgressObservation struct {
	Date   string  `json:"date"`
	Metric string  `json:"metric"`
	Score  float64 `json:"score"`
}

type DiagnosisShare struct {
	Level string `json:"level"`
	Count int    `json:"count"`
}

type AppointmentTypeShare struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type Notification struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	CreatedAt string `json:"createdAt"`
	Read      bool   `json:"read"`
}

// Summary feeds the header cards. The counts are computed upstream.
type Summary struct {
	Name              string `json:"name"`
	Specialty         string `json:"specialty"`
	TotalPatients     int    `json:"totalPatients"`
	TodayAppointments int    `json:"todayAppointments"`
	WeekAppointments  int    `json:"weekAppointments"`
}

// SelectedPatient is the detail panel. Notes is never nil.
type SelectedPatient struct {
	Patient Patient `json:"patient"`
	Notes   []Note  `json:"notes"`
}

// FilterCriteria is the table filter state of one session.
type FilterCriteria struct {
	Search        string `json:"search"`
	Status        string `json:"status"`
	StartDate     string `json:"startDate,omitempty"`
	EndDate       string `json:"endDate,omitempty"`
	PaymentMethod string `json:"paymentMethod"`
}

// DefaultCriteria leaves every dimension unconstrained.
func DefaultCriteria() FilterCriteria {
	return FilterCriteria{Status: FilterAll, PaymentMethod: FilterAll}
}

// -- Form buffers --

type PatientForm struct {
	Name      string `json:"name"`
	BirthDate string `json:"birthDate"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Diagnosis string `json:"diagnosis"`
	Notes     string `json:"notes"`
}

type AppointmentForm struct {
	PatientID     string  `json:"patientId"`
	Date          string  `json:"date"`
	Time          string  `json:"time"`
	Type          string  `json:"type"`
	Status        string  `json:"status"`
	PaymentMethod string  `json:"paymentMethod"`
	PaymentStatus string  `json:"paymentStatus"`
	PaymentDetail string  `json:"paymentDetail"`
	Value         float64 `json:"value"`
	Notes         string  `json:"notes"`
}

type AssistantForm struct {
	Name     string `json:"name"`
	TaxID    string `json:"cpf"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type NoteForm struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// EditPatientForm is the edit buffer of the detail panel. Observations is
// sent upstream as the patient's notes.
type EditPatientForm struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	BirthDate    string `json:"birthDate"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Diagnosis    string `json:"diagnosis"`
	Observations string `json:"observations"`
}

// Forms holds every create/edit buffer of a session.
type Forms struct {
	Patient     PatientForm     `json:"patient"`
	Appointment AppointmentForm `json:"appointment"`
	Assistant   AssistantForm   `json:"assistant"`
	Note        NoteForm        `json:"note"`
	EditPatient EditPatientForm `json:"editPatient"`
}

// Form names used by the HTTP API.
const (
	FormPatient     = "patient"
	FormAppointment = "appointment"
	FormAssistant   = "assistant"
	FormNote        = "note"
	FormEditPatient = "edit-patient"
)

func DefaultPatientForm() PatientForm {
	return PatientForm{Diagnosis: DiagnosisLevel1}
}

func DefaultAppointmentForm() AppointmentForm {
	return AppointmentForm{
		Type:          AppointmentTypeSession,
		Status:        AppointmentScheduled,
		PaymentMethod: PaymentPix,
		PaymentStatus: PaymentPending,
	}
}

// DefaultForms returns every buffer at its initial value.
func DefaultForms() Forms {
	return Forms{
		Patient:     DefaultPatientForm(),
		Appointment: DefaultAppointmentForm(),
	}
}
