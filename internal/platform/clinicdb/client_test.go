package clinicdb

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/clinicdash/clinicdash/internal/platform/transport"
)

type fakeRow struct {
	out []byte
	err error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.out
	return nil
}

type fakeDB struct {
	sql  string
	args []interface{}
	out  string
	err  error
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...interface{}) pgx.Row {
	f.sql = sql
	f.args = args
	return fakeRow{out: []byte(f.out), err: f.err}
}

func newTestClient(out string, err error) (*Client, *fakeDB) {
	db := &fakeDB{out: out, err: err}
	return New(db, zerolog.Nop()), db
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var te *transport.Error
	if !errors.As(err, &te) {
		t.Fatalf("expected *transport.Error, got %T (%v)", err, err)
	}
	return te.Status
}

func TestRouteMatch(t *testing.T) {
	rt := newRoute(http.MethodGet, "/patients/:id/notes", nil)

	params, ok := rt.match(http.MethodGet, "/patients/"+url.PathEscape("p 1")+"/notes")
	if !ok {
		t.Fatal("expected match")
	}
	if params["id"] != "p 1" {
		t.Errorf("expected unescaped id, got %q", params["id"])
	}

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/patients/p1/notes"},
		{http.MethodGet, "/patients/p1"},
		{http.MethodGet, "/patients/p1/notes/extra"},
		{http.MethodGet, "/patients//notes"},
		{http.MethodGet, "/assistants/p1/notes"},
	} {
		if _, ok := rt.match(tc.method, tc.path); ok {
			t.Errorf("%s %s should not match", tc.method, tc.path)
		}
	}
}

func TestRoutesAreDistinct(t *testing.T) {
	// /reports/financial and /reports/financial/summary must not shadow
	// each other.
	c, db := newTestClient(`{}`, nil)
	if _, err := c.Get(context.Background(), "/reports/financial/summary", url.Values{"professionalId": {"prof-1"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(db.sql, "financial_summary") {
		t.Errorf("summary path ran the wrong statement: %s", db.sql)
	}
	if _, err := c.Get(context.Background(), "/reports/financial", url.Values{"professionalId": {"prof-1"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(db.sql, "FROM financial_rows") {
		t.Errorf("rows path ran the wrong statement: %s", db.sql)
	}
}

func TestGet_Patients(t *testing.T) {
	c, db := newTestClient(`[{"id":"p1"}]`, nil)
	out, err := c.Get(context.Background(), "/patients", url.Values{"professionalId": {"prof-1"}, "status": {"ativo"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `[{"id":"p1"}]` {
		t.Errorf("unexpected payload %s", out)
	}
	if len(db.args) != 2 || db.args[0] != "prof-1" || db.args[1] != "ativo" {
		t.Errorf("unexpected args %v", db.args)
	}
}

func TestGet_RequiresOwner(t *testing.T) {
	c, db := newTestClient(`[]`, nil)
	_, err := c.Get(context.Background(), "/appointments", nil)
	if statusOf(t, err) != http.StatusBadRequest {
		t.Errorf("expected 400")
	}
	if db.sql != "" {
		t.Error("no statement should run without an owner")
	}
}

func TestUnknownRoute(t *testing.T) {
	c, _ := newTestClient(`[]`, nil)
	_, err := c.Get(context.Background(), "/prescriptions", nil)
	if statusOf(t, err) != http.StatusNotFound {
		t.Errorf("expected 404")
	}
}

func TestPost_Appointment(t *testing.T) {
	c, db := newTestClient(`{"id":"a1"}`, nil)
	_, err := c.Post(context.Background(), "/appointments", map[string]interface{}{
		"patientId":      "p1",
		"date":           "2024-05-10",
		"time":           "14:30",
		"paymentMethod":  "pix",
		"value":          150.0,
		"professionalId": "prof-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	at, ok := db.args[2].(time.Time)
	if !ok {
		t.Fatalf("expected time.Time start, got %T", db.args[2])
	}
	if !at.Equal(time.Date(2024, 5, 10, 14, 30, 0, 0, time.UTC)) {
		t.Errorf("unexpected start %v", at)
	}
}

func TestPost_AppointmentValidation(t *testing.T) {
	c, db := newTestClient(`{}`, nil)
	_, err := c.Post(context.Background(), "/appointments", map[string]string{
		"patientId": "p1", "date": "tomorrow", "professionalId": "prof-1",
	})
	if statusOf(t, err) != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for an unparseable date")
	}
	if db.sql != "" {
		t.Error("no statement should run for invalid input")
	}

	_, err = c.Post(context.Background(), "/appointments", map[string]string{"date": "2024-05-10"})
	if statusOf(t, err) != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 without patient and owner")
	}
}

func TestPut_Status(t *testing.T) {
	c, db := newTestClient(`{"id":"p1","status":"inativo"}`, nil)
	if _, err := c.Put(context.Background(), "/patients/p1/status", map[string]string{"status": "inativo"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db.args[0] != "p1" || db.args[1] != "inativo" {
		t.Errorf("unexpected args %v", db.args)
	}
	if !strings.Contains(db.sql, "UPDATE patients") {
		t.Errorf("unexpected statement %s", db.sql)
	}

	_, err := c.Put(context.Background(), "/assistants/as1/status", map[string]string{})
	if statusOf(t, err) != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for a missing status")
	}
}

func TestPost_PatientBirthDate(t *testing.T) {
	c, db := newTestClient(`{"id":"p9"}`, nil)
	_, err := c.Post(context.Background(), "/patients", map[string]string{
		"name": " Caio ", "birthDate": "2019-03-04T00:00:00", "professionalId": "prof-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db.args[1] != "Caio" || db.args[2] != "2019-03-04" {
		t.Errorf("unexpected args %v", db.args)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"no rows", pgx.ErrNoRows, http.StatusNotFound},
		{"unique", &pgconn.PgError{Code: "23505"}, http.StatusConflict},
		{"check", &pgconn.PgError{Code: "23514", ConstraintName: "appointments_payment_detail_check"}, http.StatusUnprocessableEntity},
		{"not null", &pgconn.PgError{Code: "23502", ColumnName: "name"}, http.StatusUnprocessableEntity},
		{"foreign key", &pgconn.PgError{Code: "23503"}, http.StatusUnprocessableEntity},
		{"other", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusOf(t, mapError(tt.err)); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}

	var te *transport.Error
	errors.As(mapError(&pgconn.PgError{Code: "23514", ConstraintName: "appointments_payment_detail_check"}), &te)
	if te.Message() != "payment detail is required for this payment method" {
		t.Errorf("unexpected message %q", te.Message())
	}
	errors.As(mapError(&pgconn.PgError{Code: "23502", ColumnName: "name"}), &te)
	if te.Message() != "name is required" {
		t.Errorf("unexpected message %q", te.Message())
	}
}

func TestMapError_ContextPassesThrough(t *testing.T) {
	if err := mapError(context.Canceled); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDo_MapsStatementErrors(t *testing.T) {
	c, _ := newTestClient("", pgx.ErrNoRows)
	_, err := c.Get(context.Background(), "/professionals/nobody/summary", nil)
	if statusOf(t, err) != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown professional")
	}
}

func TestRequestDecode(t *testing.T) {
	var v noteBody
	if err := (request{}).decode(&v); statusOf(t, err) != http.StatusBadRequest {
		t.Error("empty body should be rejected")
	}
	if err := (request{body: json.RawMessage(`{"content":`)}).decode(&v); statusOf(t, err) != http.StatusBadRequest {
		t.Error("malformed body should be rejected")
	}
}
