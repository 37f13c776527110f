package dashboard

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdash/clinicdash/internal/platform/auth"
	"github.com/clinicdash/clinicdash/internal/platform/transport"
)

const ownerID = "prof-1"

type call struct {
	Method string
	Path   string
	Query  url.Values
	Body   interface{}
	Token  string
}

// fakeClient is an in-memory transport.Client. GET answers come from data,
// keyed by path; writes are answered by the matching entry of writes.
type fakeClient struct {
	mu     sync.Mutex
	data   map[string]interface{}
	raw    map[string]string
	fail   map[string]error
	hooks  map[string]func()
	writes map[string]func(body interface{}) (interface{}, error)
	calls  []call
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		data:   map[string]interface{}{},
		raw:    map[string]string{},
		fail:   map[string]error{},
		hooks:  map[string]func(){},
		writes: map[string]func(body interface{}) (interface{}, error){},
	}
}

func (f *fakeClient) set(path string, v interface{}) {
	f.mu.Lock()
	f.data[path] = v
	f.mu.Unlock()
}

func (f *fakeClient) failWith(key string, err error) {
	f.mu.Lock()
	f.fail[key] = err
	f.mu.Unlock()
}

func (f *fakeClient) clearFailure(key string) {
	f.mu.Lock()
	delete(f.fail, key)
	f.mu.Unlock()
}

func (f *fakeClient) hook(key string, fn func()) {
	f.mu.Lock()
	f.hooks[key] = fn
	f.mu.Unlock()
}

func (f *fakeClient) onWrite(key string, fn func(body interface{}) (interface{}, error)) {
	f.mu.Lock()
	f.writes[key] = fn
	f.mu.Unlock()
}

func (f *fakeClient) record(ctx context.Context, method, path string, q url.Values, body interface{}) (func(), error) {
	key := method + " " + path
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Method: method, Path: path, Query: q, Body: body, Token: transport.TokenFromContext(ctx)})
	return f.hooks[key], f.fail[key]
}

// Calls returns the recorded requests as "METHOD path" strings.
func (f *fakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Method+" "+c.Path)
	}
	return out
}

func (f *fakeClient) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *fakeClient) lastCall(method, path string) (call, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Method == method && f.calls[i].Path == path {
			return f.calls[i], true
		}
	}
	return call{}, false
}

func (f *fakeClient) Get(ctx context.Context, path string, q url.Values) (json.RawMessage, error) {
	hook, err := f.record(ctx, "GET", path, q, nil)
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.raw[path]; ok {
		return json.RawMessage(s), nil
	}
	v, ok := f.data[path]
	if !ok {
		return json.RawMessage("[]"), nil
	}
	return json.Marshal(v)
}

func (f *fakeClient) Post(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	return f.write(ctx, "POST", path, body)
}

func (f *fakeClient) Put(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	return f.write(ctx, "PUT", path, body)
}

func (f *fakeClient) write(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	key := method + " " + path
	hook, err := f.record(ctx, method, path, nil, body)
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	fn := f.writes[key]
	f.mu.Unlock()
	if fn == nil {
		return json.RawMessage("null"), nil
	}
	out, err := fn(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// seededClient answers every initial collection for ownerID.
func seededClient() *fakeClient {
	f := newFakeClient()
	f.set("/professionals/"+ownerID+"/summary", Summary{Name: "Dra. Carla", Specialty: "Psicologia", TotalPatients: 2, TodayAppointments: 1, WeekAppointments: 3})
	f.set("/patients", []Patient{
		{ID: "p1", Name: "Ana", Diagnosis: DiagnosisLevel1, Status: StatusAtivo, BirthDate: "2015-03-02"},
		{ID: "p2", Name: "Bia", Diagnosis: DiagnosisLevel2, Status: StatusInativo},
	})
	f.set("/appointments", []Appointment{
		{ID: "a1", PatientID: "p1", Date: "2024-05-10T14:00:00", Time: "14:00", Type: AppointmentTypeSession},
		{ID: "a2", PatientID: "p2", Date: "2024-05-11", Time: "09:00", Type: AppointmentTypeEvaluation},
	})
	f.set("/assistants", []Assistant{
		{ID: "as1", Name: "Joana", Status: StatusActive},
		{ID: "as2", Name: "Rui", Status: StatusInactive},
	})
	f.set("/reports/progress", []ProgressObservation{
		{Date: "2024-05-01", Metric: MetricCommunication, Score: 3},
		{Date: "2024-05-01", Metric: MetricBehavior, Score: 4},
	})
	f.set("/reports/diagnosis-distribution", []DiagnosisShare{{Level: DiagnosisLevel1, Count: 1}, {Level: DiagnosisLevel2, Count: 1}})
	f.set("/reports/appointment-types", []AppointmentTypeShare{{Type: AppointmentTypeSession, Count: 1}})
	f.set("/notifications", []Notification{{ID: "n1", Message: "Nova consulta"}})
	f.set("/patients/p1/notes", []Note{{ID: "note1", PatientID: "p1", Title: "Sessão", Content: "Boa evolução"}})
	return f
}

type navSpy struct {
	mu    sync.Mutex
	paths []string
}

func (n *navSpy) Redirect(path string) {
	n.mu.Lock()
	n.paths = append(n.paths, path)
	n.mu.Unlock()
}

var testNow = time.Date(2024, 5, 10, 18, 0, 0, 0, time.UTC)

func testOptions(client transport.Client) Options {
	return Options{
		Client:    client,
		Location:  time.UTC,
		LoginPath: "/login",
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return testNow },
	}
}

func professional() *auth.Viewer {
	return &auth.Viewer{ID: ownerID, Role: auth.RoleProfessional, Name: "Dra. Carla"}
}

// mountReady mounts a session for ownerID and waits for the initial load.
func mountReady(t *testing.T, client transport.Client) *Session {
	t.Helper()
	s, err := Mount(professional(), "tok-1", ownerID, &navSpy{}, testOptions(client))
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	t.Cleanup(s.Close)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("initial load did not settle: %v", err)
	}
	return s
}
