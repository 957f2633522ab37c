package core

// prompts.go defines the prompts of the generative flows and the helpers
// that flatten directory records into the text the prompts expect.

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"prism/pkg"
)

const (
	riskSystem = "You are an expert healthcare analyst specializing in patient readmission risk assessment."

	tasksSystem = "You are an AI assistant that extracts actionable tasks from a conversation transcript."

	interventionsSystem = "You are an expert clinical decision support system. Your role is to recommend relevant interventions for a patient based on their current health profile."

	summarySystem = "You are a clinical assistant AI. Your task is to provide a quick, easy-to-read summary of a patient's recent progress for a busy clinician."

	videoSystem = "You write short descriptions of symbolic videos for a patient dashboard."
)

var (
	riskPrompt = template.Must(template.New("risk").Parse(
		`You will use the patient data to generate a risk score from 0 to 100, and identify the risk factors contributing to the score.

Patient Data: {{.PatientData}}

Based on the data above, generate a risk score and identify the risk factors.`))

	tasksPrompt = template.Must(template.New("tasks").Parse(
		`Given the following conversation transcript, identify all actionable tasks for the patient.
Return a list of tasks.

Conversation Transcript:
{{.ConversationTranscript}}`))

	interventionsPrompt = template.Must(template.New("interventions").Parse(
		`Analyze the following patient data and suggest 3-4 appropriate interventions. For each intervention, provide a title, a brief (1-2 sentence) description, and categorize it as Medication, Lifestyle, Appointment or Monitoring.

Patient Data:
{{.PatientData}}

Generate a list of targeted interventions based on this data.`))

	summaryPrompt = template.Must(template.New("summary").Parse(
		`Analyze the provided health data and task adherence for the patient, {{.PatientName}}.

Based on the data below, generate a concise summary (2-3 sentences). Highlight key trends (e.g., increasing activity, poor sleep), task adherence, and any potential areas of concern that the clinician should be aware of. Be objective and data-driven in your summary.

Patient Name: {{.PatientName}}

Health Data:
{{.HealthData}}

To-Do List:
{{.Tasks}}
`))

	// videoScene is shared by the description and the video flows.
	videoScene = `{{define "scene"}}
{{- if eq .PatientStatus "At Risk" -}}
The patient is at high risk (score: {{score .RiskScore}}). {{.Lead}} a cinematic, moody scene like a stormy sea, a turbulent sky, or a lone tree in a strong wind to visually represent this risk.
{{- else if eq .PatientStatus "On Track" -}}
The patient is on track with their recovery (risk score: {{score .RiskScore}}). {{.Lead}} a calm and positive scene, like a peaceful sunrise over a meadow, a gentle flowing stream, or a time-lapse of a flower blooming.
{{- else -}}
The patient has been discharged. {{.Lead}} a hopeful and forward-looking scene, such as a person walking down a sunny path, birds flying into a clear sky, or a boat sailing towards the horizon.
{{- end}}{{end}}`

	funcs = template.FuncMap{"score": formatNumber}

	videoDescriptionPrompt = template.Must(template.Must(template.New("video-description").Funcs(funcs).Parse(videoScene)).Parse(
		`Generate a short, one-sentence description of a symbolic video representing the status of a patient named {{.PatientName}}. {{template "scene" .}}`))

	videoPrompt = template.Must(template.Must(template.New("video").Funcs(funcs).Parse(videoScene)).Parse(
		`Generate a short, 5-second, symbolic video representing the status of a patient named {{.PatientName}}. {{template "scene" .}}`))
)

// videoPromptData adds the lead-in phrase that differs between the
// description and the video prompts.
type videoPromptData struct {
	pkg.VideoInput
	Lead string
}

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return b.String(), nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// RiskPatientData describes a patient and their recent wearable data for
// the risk flow.
func RiskPatientData(p pkg.Patient, health []pkg.HealthData) string {
	var b strings.Builder
	b.WriteString("Patient Details:\n")
	fmt.Fprintf(&b, "- Name: %s\n- Age: %d\n- Gender: %s\n- Status: %s\n", p.Name, p.Age, p.Gender, p.Status)
	b.WriteString("\nRecent Health Data (last 7 days):\n")
	for _, d := range health {
		fmt.Fprintf(&b, "- Date: %s, Steps: %d, Sleep: %shrs, Heart Rate: %dbpm\n", d.Date, d.Steps, formatNumber(d.Sleep), d.HeartRate)
	}
	return strings.TrimRight(b.String(), "\n")
}

// InterventionPatientData describes a patient for the interventions flow.
func InterventionPatientData(p pkg.Patient) string {
	return fmt.Sprintf("Patient Details:\n- Name: %s\n- Age: %d\n- Gender: %s\n- Status: %s\n- Current Risk Score: %d%%",
		p.Name, p.Age, p.Gender, p.Status, p.RiskScore)
}

// HealthDataSummary lists wearable data one day per line.
func HealthDataSummary(health []pkg.HealthData) string {
	lines := make([]string, 0, len(health))
	for _, d := range health {
		lines = append(lines, fmt.Sprintf("- %s: %d steps, %sh sleep, %dbpm", d.Date, d.Steps, formatNumber(d.Sleep), d.HeartRate))
	}
	return strings.Join(lines, "\n")
}

// TaskSummary lists tasks with their completion state.
func TaskSummary(tasks []pkg.Task) string {
	lines := make([]string, 0, len(tasks))
	for _, t := range tasks {
		lines = append(lines, fmt.Sprintf("- %s (Completed: %t)", t.Text, t.Completed))
	}
	return strings.Join(lines, "\n")
}

// ConversationTranscript renders the confirmed messages of a conversation
// one per line, prefixed by their sender.
func ConversationTranscript(msgs []pkg.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Pending() {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", m.Sender, m.Text))
	}
	return strings.Join(lines, "\n")
}
