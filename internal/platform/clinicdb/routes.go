package clinicdb

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/clinicdash/clinicdash/internal/platform/transport"
	"github.com/clinicdash/clinicdash/pkg/datefmt"
)

func routes() []route {
	return []route{
		newRoute(http.MethodGet, "/patients", listPatients),
		newRoute(http.MethodPost, "/patients", createPatient),
		newRoute(http.MethodPut, "/patients/:id", updatePatient),
		newRoute(http.MethodPut, "/patients/:id/status", setPatientStatus),
		newRoute(http.MethodGet, "/patients/:id/notes", listNotes),
		newRoute(http.MethodPost, "/patients/:id/notes", addNote),
		newRoute(http.MethodGet, "/appointments", listAppointments),
		newRoute(http.MethodPost, "/appointments", createAppointment),
		newRoute(http.MethodGet, "/assistants", listAssistants),
		newRoute(http.MethodPost, "/assistants", addAssistant),
		newRoute(http.MethodPut, "/assistants/:id/status", setAssistantStatus),
		newRoute(http.MethodGet, "/notifications", listNotifications),
		newRoute(http.MethodGet, "/professionals/:id/summary", professionalSummary),
		newRoute(http.MethodGet, "/reports/progress", progressSeries),
		newRoute(http.MethodGet, "/reports/diagnosis-distribution", diagnosisDistribution),
		newRoute(http.MethodGet, "/reports/appointment-types", appointmentTypes),
		newRoute(http.MethodGet, "/reports/financial", financialRows),
		newRoute(http.MethodGet, "/reports/financial/summary", financialSummary),
	}
}

func one(ctx context.Context, db queryable, sql string, args ...interface{}) (json.RawMessage, error) {
	var out []byte
	if err := db.QueryRow(ctx, sql, args...).Scan(&out); err != nil {
		return nil, err
	}
	return json.RawMessage(out), nil
}

// ownedList runs a json_agg statement whose only parameter is the owner.
func ownedList(sql string) handlerFunc {
	return func(ctx context.Context, db queryable, req request) (json.RawMessage, error) {
		owner, err := req.owner()
		if err != nil {
			return nil, err
		}
		return one(ctx, db, sql, owner)
	}
}

func unprocessable(msg string) error {
	return transport.NewError(http.StatusUnprocessableEntity, msg)
}

func birthDate(s string) (string, error) {
	d, err := datefmt.ToDateOnly(s, time.UTC)
	if err != nil {
		return "", unprocessable("invalid birth date")
	}
	return d, nil
}

// -- Patients --

type patientBody struct {
	Name           string `json:"name"`
	BirthDate      string `json:"birthDate"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Diagnosis      string `json:"diagnosis"`
	Notes          string `json:"notes"`
	Status         string `json:"status"`
	ProfessionalID string `json:"professionalId"`
}

const sqlListPatients = `
	SELECT COALESCE(json_agg(patient_json(p) ORDER BY p.name), '[]'::json)
	FROM patients p
	WHERE p.professional_id = $1 AND ($2::text = '' OR p.status = $2::text)`

func listPatients(ctx context.Context, db queryable, req request) (json.RawMessage, error) {
	owner, err := req.owner()
	if err != nil {
		return nil, err
	}
	return one(ctx, db, sqlListPatients, owner, req.query.Get("status"))
}

const sqlCreatePatient = `
	INSERT INTO patients (professional_id, name, birth_date, email, phone, diagnosis, notes, status)
	VALUES ($1, $2, NULLIF($3::text, '')::date, $4, $5, COALESCE(NULLIF($6::text, ''), 'Nível 1'), $7,
		COALESCE(NULLIF($8::text, ''), 'active'))
	RETURNING patient_json(patients)`

func createPatient(ctx context.Context, db queryable, req request) (json.RawMessage, error) {
	var b patientBody
	if err := req.decode(&b); err != nil {
		return nil, err
	}
	if b.ProfessionalID == "" {
		return nil, unprocessable("professionalId is required")
	}
	born, err := birthDate(b.BirthDate)
	if err != nil {
		return nil, err
	}
	return one(ctx, db, sqlCreatePatient,
		b.ProfessionalID, strings.TrimSpace(b.Name), born, b.Email, b.Phone,
		b.Diagnosis, b.Notes, b.Status)
}

const sqlUpdatePatient = `
	UPDATE patients SET
		name = $2,
		birth_date = NULLIF($3::text, '')::date,
		email = $4,
		phone = $5,
		diagnosis = COALESCE(NULLIF($6::text, ''), diagnosis),
		notes = $7,
		status = COALESCE(NULLIF($8::text, ''), status)
	WHERE id = $1
	RETURNING patient_json(patients)`

func updatePatient(ctx context.Context, db queryable, req request) (json.RawMessage, error) {
	var b patientBody
	if err := req.decode(&b); err != nil {
		return nil, err
	}
	born, err := birthDate(b.BirthDate)
	if err != nil {
		return nil, err
	}
	return one(ctx, db, sqlUpdatePatient,
		req.params["id"], strings.TrimSpace(b.Name), born, b.Email, b.Phone,
		b.Diagnosis, b.Notes, b.Status)
}

type statusBody struct {
	Status string `json:"status"`
}

func statusUpdate(sql string) handlerFunc {
	return func(ctx context.Context, db queryable, req request) (json.RawMessage, error) {
		var b statusBody
		if err := req.decode(&b); err != nil {
			return nil, err
		}
		if b.Status == "" {
			return nil, unprocessable("status is required")
		}
		return one(ctx, db, sql, req.params["id"], b.Status)
	}
}

var setPatientStatus = statusUpdate(`
	UPDATE patients SET status = $2 WHERE id = $1
	RETURNING patient_json(patients)`)

// -- Notes --

type noteBody struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

const sqlListNotes = `
	SELECT COALESCE(json_agg(note_json(n) ORDER BY n.created_at DESC), '[]'::json)
	FROM patient_notes n
	WHERE n.patient_id = $1`

func listNotes(ctx context.Context, db queryable, req request) (json.RawMessage, error) {
	return one(ctx, db, sqlListNotes, req.params["id"])
}

const sqlAddNote = `
	INSERT INTO patient_notes (patient_id, title, content)
	VALUES ($1, $2, $3)
	RETURNING note_json(patient_notes)`

func addNote(ctx context.Context, db queryable, req request) (json.RawMessage, error) {
	var b noteBody
	if err := req.decode(&b); err != nil {
		return nil, err
	}
	return one(ctx, db, sqlAddNote, req.params["id"], b.Title, b.Content)
}

// -- Appointments --

type appointmentBody struct {
	PatientID      string  `json:"patientId"`
	Date           string  `json:"date"`
	Time           string  `json:"time"`
	Type           string  `json:"type"`
	Status         string  `json:"status"`
	PaymentMethod  string  `json:"paymentMethod"`
	PaymentStatus  string  `json:"paymentStatus"`
	PaymentDetail  string  `json:"paymentDetail"`
	Value          float64 `json:"value"`
	Notes          string  `json:"notes"`
	ProfessionalID string  `json:"professionalId"`
}

// startsAt combines the date and the optional "HH:MM" slot into a wall-clock
// timestamp. The date may already carry a time of day.
func (b appointmentBody) startsAt() (time.Time, error) {
	t, err := datefmt.Parse(b.Date, time.UTC)
	if err != nil {
		return time.Time{}, unprocessable("invalid date")
	}
	if b.Time == "" {
		return t, nil
	}
	slot, err := time.Parse("15:04", b.Time)
	if err != nil {
		return time.Time{}, unprocessable("invalid time")
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, slot.Hour(), slot.Minute(), 0, 0, time.UTC), nil
}

const sqlListAppointments = `
	SELECT COALESCE(json_agg(appointment_json(a) ORDER BY a.starts_at), '[]'::json)
	FROM appointments a
	WHERE a.professional_id = $1`

var listAppointments = ownedList(sqlListAppointments)

const sqlCreateAppointment = `
	INSERT INTO appointments (professional_id, patient_id, starts_at, slot, type, status,
		payment_method, payment_status, payment_detail, value, notes)
	VALUES ($1, $2, $3, $4,
		COALESCE(NULLIF($5::text, ''), 'session'),
		COALESCE(NULLIF($6::text, ''), 'scheduled'),
		COALESCE(NULLIF($7::text, ''), 'pix'),
		COALESCE(NULLIF($8::text, ''), 'pending'),
		$9, $10, $11)
	RETURNING appointment_json(appointments)`

func createAppointment(ctx context.Context, db queryable, req request) (json.RawMessage, error) {
	var b appointmentBody
	if err := req.decode(&b); err != nil {
		return nil, err
	}
	if b.ProfessionalID == "" || b.PatientID == "" {
		return nil, unprocessable("professionalId and patientId are required")
	}
	at, err := b.startsAt()
	if err != nil {
		return nil, err
	}
	return one(ctx, db, sqlCreateAppointment,
		b.ProfessionalID, b.PatientID, at, b.Time, b.Type, b.Status,
		b.PaymentMethod, b.PaymentStatus, b.PaymentDetail, b.Value, b.Notes)
}

// -- Assistants --

type assistantBody struct {
	Name           string `json:"name"`
	TaxID          string `json:"cpf"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	ProfessionalID string `json:"professionalId"`
}

const sqlListAssistants = `
	SELECT COALESCE(json_agg(assistant_json(s) ORDER BY s.name), '[]'::json)
	FROM assistants s
	WHERE s.professional_id = $1`

var listAssistants = ownedList(sqlListAssistants)

const sqlAddAssistant = `
	INSERT INTO assistants (professional_id, name, cpf, phone, email, password_hash)
	VALUES ($1, $2, $3, $4, $5,
		CASE WHEN $6::text = '' THEN NULL ELSE crypt($6::text, gen_salt('bf')) END)
	RETURNING assistant_json(assistants)`

func addAssistant(ctx context.Context, db queryable, req request) (json.RawMessage, error) {
	var b assistantBody
	if err := req.decode(&b); err != nil {
		return nil, err
	}
	if b.ProfessionalID == "" {
		return nil, unprocessable("professionalId is required")
	}
	return one(ctx, db, sqlAddAssistant,
		b.ProfessionalID, strings.TrimSpace(b.Name), b.TaxID, b.Phone, strings.TrimSpace(b.Email), b.Password)
}

var setAssistantStatus = statusUpdate(`
	UPDATE assistants SET status = $2 WHERE id = $1
	RETURNING assistant_json(assistants)`)

// -- Notifications and reports --

var listNotifications = ownedList(`
	SELECT COALESCE(json_agg(json_build_object(
		'id', n.id, 'message', n.message, 'createdAt', n.created_at, 'read', n.read
	) ORDER BY n.created_at DESC), '[]'::json)
	FROM notifications n
	WHERE n.professional_id = $1`)

const sqlProfessionalSummary = `
	SELECT json_build_object(
		'name', s.name,
		'specialty', s.specialty,
		'totalPatients', s.total_patients,
		'todayAppointments', s.today_appointments,
		'weekAppointments', s.week_appointments
	)
	FROM professional_summary s
	WHERE s.id = $1`

func professionalSummary(ctx context.Context, db queryable, req request) (json.RawMessage, error) {
	return one(ctx, db, sqlProfessionalSummary, req.params["id"])
}

var progressSeries = ownedList(`
	SELECT COALESCE(json_agg(json_build_object(
		'date', to_char(p.observed_on, 'YYYY-MM-DD'), 'metric', p.metric, 'score', p.score
	) ORDER BY p.observed_on, p.metric), '[]'::json)
	FROM progress_series p
	WHERE p.professional_id = $1`)

var diagnosisDistribution = ownedList(`
	SELECT COALESCE(json_agg(json_build_object('level', d.level, 'count', d.count)
		ORDER BY d.level), '[]'::json)
	FROM diagnosis_distribution d
	WHERE d.professional_id = $1`)

var appointmentTypes = ownedList(`
	SELECT COALESCE(json_agg(json_build_object('type', t.type, 'count', t.count)
		ORDER BY t.type), '[]'::json)
	FROM appointment_type_distribution t
	WHERE t.professional_id = $1`)

var financialRows = ownedList(`
	SELECT COALESCE(json_agg(json_build_object(
		'id', f.id,
		'appointmentId', f.id,
		'patientId', f.patient_id,
		'patientName', f.patient_name,
		'date', to_char(f.starts_at, 'YYYY-MM-DD"T"HH24:MI:SS'),
		'type', f.type,
		'paymentMethod', f.payment_method,
		'paymentStatus', f.payment_status,
		'paymentDetail', f.payment_detail,
		'value', f.value
	) ORDER BY f.starts_at), '[]'::json)
	FROM financial_rows f
	WHERE f.professional_id = $1`)

var financialSummary = ownedList(`
	SELECT json_build_object(
		'totalReceived', COALESCE(s.total_received, 0),
		'totalPending', COALESCE(s.total_pending, 0),
		'appointments', COALESCE(s.appointments, 0),
		'byMethod', COALESCE((
			SELECT json_agg(json_build_object('method', m.method, 'count', m.count, 'total', m.total)
				ORDER BY m.method)
			FROM financial_method_totals m
			WHERE m.professional_id = o.id), '[]'::json)
	)
	FROM (SELECT $1::text AS id) o
	LEFT JOIN financial_summary s ON s.professional_id = o.id`)
