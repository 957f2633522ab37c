package core

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"prism/pkg"
)

var john = pkg.Patient{ID: "1", Name: "John Doe", Age: 68, Gender: "Male", RiskScore: 82, Status: pkg.PatientAtRisk}

var week = []pkg.HealthData{
	{Date: "2024-07-18", Steps: 3500, Sleep: 6.5, HeartRate: 78},
	{Date: "2024-07-19", Steps: 4000, Sleep: 7, HeartRate: 75},
}

func TestRiskPatientData(t *testing.T) {
	got := RiskPatientData(john, week)
	assert.Equal(t, `Patient Details:
- Name: John Doe
- Age: 68
- Gender: Male
- Status: At Risk

Recent Health Data (last 7 days):
- Date: 2024-07-18, Steps: 3500, Sleep: 6.5hrs, Heart Rate: 78bpm
- Date: 2024-07-19, Steps: 4000, Sleep: 7hrs, Heart Rate: 75bpm`, got)
}

func TestInterventionPatientData(t *testing.T) {
	assert.Equal(t, `Patient Details:
- Name: John Doe
- Age: 68
- Gender: Male
- Status: At Risk
- Current Risk Score: 82%`, InterventionPatientData(john))
}

func TestSummaries(t *testing.T) {
	assert.Equal(t, "- 2024-07-18: 3500 steps, 6.5h sleep, 78bpm\n- 2024-07-19: 4000 steps, 7h sleep, 75bpm", HealthDataSummary(week))

	tasks := []pkg.Task{
		{ID: "t1", PatientID: "1", Text: "Take morning medication", Completed: true},
		{ID: "t2", PatientID: "1", Text: "Walk for 15 minutes", Completed: false},
	}
	assert.Equal(t, "- Take morning medication (Completed: true)\n- Walk for 15 minutes (Completed: false)", TaskSummary(tasks))
	assert.Empty(t, TaskSummary(nil))
}

func TestVideoPromptOnTrack(t *testing.T) {
	got, err := render(videoPrompt, videoPromptData{
		VideoInput: pkg.VideoInput{PatientName: "Jane", PatientStatus: pkg.PatientOnTrack, RiskScore: 35.5},
		Lead:       "Create",
	})
	assert.NoError(t, err)
	assert.Equal(t, "Generate a short, 5-second, symbolic video representing the status of a patient named Jane. "+
		"The patient is on track with their recovery (risk score: 35.5). Create a calm and positive scene, like a peaceful sunrise over a meadow, a gentle flowing stream, or a time-lapse of a flower blooming.", got)
}
