package dashboard

import "time"

// View is the read model returned to the browser: the snapshot plus every
// derived projection, recomputed on each call.
type View struct {
	SessionID          string        `json:"session_id"`
	State              State         `json:"state"`
	Error              string        `json:"error,omitempty"`
	Snapshot           Snapshot      `json:"snapshot"`
	FilteredPatients   []Patient     `json:"filteredPatients"`
	FilteredAssistants []Assistant   `json:"filteredAssistants"`
	TodayAppointments  []Appointment `json:"todayAppointments"`
}

// BuildView derives the projections from snap. The assistant password
// buffer is never rendered.
func BuildView(sessionID string, state State, failure *Failure, snap Snapshot, now time.Time, loc *time.Location) View {
	snap.Forms.Assistant.Password = ""
	v := View{
		SessionID:          sessionID,
		State:              state,
		Snapshot:           snap,
		FilteredPatients:   FilterPatients(snap.Patients, snap.Criteria),
		FilteredAssistants: FilterAssistants(snap.Assistants, snap.Criteria),
		TodayAppointments:  TodaysAppointments(snap.Appointments, now, loc),
	}
	if state == StateFailed && failure != nil {
		v.Error = failure.Message
	}
	return v
}
