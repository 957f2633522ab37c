package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizeFixtures(t *testing.T) {
	repo, err := NewFixtureRepository()
	require.NoError(t, err)

	d := Summarize(repo)
	assert.Equal(t, 4, d.TotalPatients)
	assert.Equal(t, 2, d.AtRisk)
	assert.Equal(t, 2, d.OnTrack)
	assert.Equal(t, 5, d.OpenTasks)
	assert.Equal(t, 2, d.CompletedTasks)

	require.Len(t, d.RecentTasks, 5)
	ids := make([]string, 0, len(d.RecentTasks))
	for _, task := range d.RecentTasks {
		assert.False(t, task.Completed)
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"t1", "t3", "t5", "t6", "t7"}, ids)
	assert.Equal(t, "John Doe", d.RecentTasks[0].PatientName)
}

func TestSummarizeLimitsRecentTasks(t *testing.T) {
	repo, err := LoadFixtures([]byte(`{
		"patients": [
			{"id": "a", "name": "Ann", "status": "Discharged"},
			{"id": "b", "name": "Bo", "status": "On Track"}
		],
		"tasks": [
			{"id": "1", "patientId": "a", "text": "x", "completed": false},
			{"id": "2", "patientId": "b", "text": "x", "completed": false},
			{"id": "3", "patientId": "b", "text": "x", "completed": false},
			{"id": "4", "patientId": "b", "text": "x", "completed": false},
			{"id": "5", "patientId": "b", "text": "x", "completed": false},
			{"id": "6", "patientId": "b", "text": "x", "completed": false},
			{"id": "7", "patientId": "b", "text": "x", "completed": true}
		]
	}`))
	require.NoError(t, err)

	d := Summarize(repo)
	assert.Equal(t, 1, d.TotalPatients)
	assert.Equal(t, 0, d.AtRisk)
	assert.Equal(t, 1, d.OnTrack)
	assert.Equal(t, 6, d.OpenTasks)
	assert.Equal(t, 1, d.CompletedTasks)
	require.Len(t, d.RecentTasks, 5)
	assert.Equal(t, "Ann", d.RecentTasks[0].PatientName)
	assert.Equal(t, "5", d.RecentTasks[4].ID)
}

func TestSummarizeEmptyDirectory(t *testing.T) {
	repo, err := LoadFixtures([]byte(`{}`))
	require.NoError(t, err)

	d := Summarize(repo)
	assert.Zero(t, d.TotalPatients)
	assert.NotNil(t, d.RecentTasks)
	assert.Empty(t, d.RecentTasks)
}
