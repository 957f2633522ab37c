package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixtureRepository(t *testing.T) {
	repo, err := NewFixtureRepository()
	require.NoError(t, err)

	patients := repo.List()
	require.Len(t, patients, 5)
	assert.Equal(t, "John Doe", patients[0].Name)

	data, ok := repo.Get("1")
	require.True(t, ok)
	assert.Equal(t, "At Risk", data.Patient.Status)
	assert.Len(t, data.Tasks, 3)
	assert.Len(t, data.HealthData, 7)
	assert.Len(t, data.RiskHistory, 4)
	assert.Len(t, data.RiskFactors, 4)
	assert.Len(t, data.Interventions, 2)

	data, ok = repo.Get("3")
	require.True(t, ok)
	assert.NotNil(t, data.Tasks)
	assert.Empty(t, data.Tasks)
	assert.NotNil(t, data.HealthData)
	assert.Empty(t, data.Interventions)

	_, ok = repo.Get("99")
	assert.False(t, ok)
}

func TestGetReturnsCopies(t *testing.T) {
	repo, err := NewFixtureRepository()
	require.NoError(t, err)

	data, _ := repo.Get("1")
	data.Tasks[0].Completed = true
	data.Patient.Name = "changed"

	again, _ := repo.Get("1")
	assert.False(t, again.Tasks[0].Completed)
	assert.Equal(t, "John Doe", again.Patient.Name)
}

func TestLoadFixturesRejectsMalformedJSON(t *testing.T) {
	_, err := LoadFixtures([]byte("{"))
	assert.Error(t, err)
}
