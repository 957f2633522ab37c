package pkg

import "time"

// Sender describes who authored a message.  A conversation has exactly two
// participants: the clinician and the patient it is scoped to.
type Sender string

const (
	SenderClinician Sender = "Clinician"
	SenderPatient   Sender = "Patient"
)

// Valid reports whether s is one of the known senders.
func (s Sender) Valid() bool {
	return s == SenderClinician || s == SenderPatient
}

// MessageStatus distinguishes messages the store has acknowledged from
// entries that only exist locally while a send is in flight.
type MessageStatus string

const (
	StatusConfirmed MessageStatus = "confirmed"
	StatusPending   MessageStatus = "pending"
)

// Message is one entry of a patient conversation.
//
// A confirmed message carries the store-assigned ID, Timestamp and Seq.  A
// pending message carries only the client-assigned LocalID; its Timestamp
// is nil until the store echoes the write back through a subscription.
type Message struct {
	ID        string        `json:"id,omitempty"`
	LocalID   string        `json:"localId,omitempty"`
	PatientID string        `json:"patientId"`
	Sender    Sender        `json:"sender"`
	Text      string        `json:"text"`
	Timestamp *time.Time    `json:"timestamp"`
	Seq       int64         `json:"seq,omitempty"`
	Status    MessageStatus `json:"status"`
}

// NewConfirmed builds a message as returned by a store.
func NewConfirmed(id, patientID string, sender Sender, text string, ts time.Time, seq int64) Message {
	ts = ts.UTC()
	return Message{
		ID:        id,
		PatientID: patientID,
		Sender:    sender,
		Text:      text,
		Timestamp: &ts,
		Seq:       seq,
		Status:    StatusConfirmed,
	}
}

// NewPending builds an optimistic local entry for a message being sent.
func NewPending(localID, patientID string, sender Sender, text string) Message {
	return Message{
		LocalID:   localID,
		PatientID: patientID,
		Sender:    sender,
		Text:      text,
		Status:    StatusPending,
	}
}

// Pending reports whether the message has not been acknowledged by the store.
func (m Message) Pending() bool {
	return m.Status == StatusPending || m.Timestamp == nil
}

// Snapshot is the complete ordered list of a conversation at one point in
// time.  Version counts the confirmed messages it holds; the log is
// append-only, so a newer snapshot never has a smaller version.
type Snapshot struct {
	PatientID string    `json:"patientId"`
	Messages  []Message `json:"messages"`
	Version   int64     `json:"version"`
}

// Contains reports whether the snapshot holds the confirmed message id.
func (s Snapshot) Contains(id string) bool {
	for _, m := range s.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Patient is a row of the clinician's patient list.
type Patient struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Avatar        string `json:"avatar"`
	Age           int    `json:"age"`
	Gender        string `json:"gender"`
	DischargeDate string `json:"dischargeDate"`
	RiskScore     int    `json:"riskScore"`
	CareManager   string `json:"careManager"`
	Status        string `json:"status"`
}

// Patient statuses used by the dashboard and the video flows.
const (
	PatientAtRisk     = "At Risk"
	PatientOnTrack    = "On Track"
	PatientDischarged = "Discharged"
)

// Task is an item on a patient's to-do list.
type Task struct {
	ID        string `json:"id"`
	PatientID string `json:"patientId"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// HealthData is one day of wearable metrics.
type HealthData struct {
	Date      string  `json:"date"`
	Steps     int     `json:"steps"`
	Sleep     float64 `json:"sleep"`
	HeartRate int     `json:"heartRate"`
}

// RiskHistory is one point of the risk trend chart.
type RiskHistory struct {
	Date      string `json:"date"`
	RiskScore int    `json:"riskScore"`
}

// RiskFactor is one slice of the risk factor breakdown.
type RiskFactor struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// Intervention is a recommended clinical action.
type Intervention struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required"`
	Category    string `json:"category" validate:"required,oneof=Medication Lifestyle Appointment Monitoring"`
}

// PatientData bundles everything the dashboard shows for one patient.
type PatientData struct {
	Patient       Patient        `json:"patient"`
	Tasks         []Task         `json:"tasks"`
	HealthData    []HealthData   `json:"healthData"`
	RiskHistory   []RiskHistory  `json:"riskHistory"`
	RiskFactors   []RiskFactor   `json:"riskFactors"`
	Interventions []Intervention `json:"interventions"`
}

// DashboardTask is an open task listed on the clinician dashboard.
type DashboardTask struct {
	Task
	PatientName string `json:"patientName"`
}

// Dashboard holds the clinician overview counts.
type Dashboard struct {
	TotalPatients  int             `json:"totalPatients"`
	AtRisk         int             `json:"atRisk"`
	OnTrack        int             `json:"onTrack"`
	OpenTasks      int             `json:"openTasks"`
	CompletedTasks int             `json:"completedTasks"`
	RecentTasks    []DashboardTask `json:"recentTasks"`
}
