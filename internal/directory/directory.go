// Package directory serves the read-only patient records shown on the
// dashboard.
package directory

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"prism/pkg"
)

//go:embed fixtures.json
var fixturesJSON []byte

// Repository looks up patient records by id.
type Repository interface {
	// Get returns everything known about a patient, or false when the id
	// is unknown.
	Get(id string) (*pkg.PatientData, bool)
	// List returns every patient in directory order.
	List() []pkg.Patient
}

type fixtures struct {
	Patients      []pkg.Patient                 `json:"patients"`
	Tasks         []pkg.Task                    `json:"tasks"`
	HealthData    map[string][]pkg.HealthData   `json:"healthData"`
	RiskHistory   map[string][]pkg.RiskHistory  `json:"riskHistory"`
	RiskFactors   map[string][]pkg.RiskFactor   `json:"riskFactors"`
	Interventions map[string][]pkg.Intervention `json:"interventions"`
}

// FixtureRepository is a Repository over a static data set.
type FixtureRepository struct {
	data fixtures
}

// NewFixtureRepository loads the embedded demo data set.
func NewFixtureRepository() (*FixtureRepository, error) {
	return LoadFixtures(fixturesJSON)
}

// LoadFixtures builds a repository from a JSON document shaped like the
// embedded data set.
func LoadFixtures(raw []byte) (*FixtureRepository, error) {
	var data fixtures
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}
	return &FixtureRepository{data: data}, nil
}

// Get implements Repository.  Missing collections are returned empty, never
// nil.
func (r *FixtureRepository) Get(id string) (*pkg.PatientData, bool) {
	var patient *pkg.Patient
	for i := range r.data.Patients {
		if r.data.Patients[i].ID == id {
			patient = &r.data.Patients[i]
			break
		}
	}
	if patient == nil {
		return nil, false
	}

	tasks := []pkg.Task{}
	for _, t := range r.data.Tasks {
		if t.PatientID == id {
			tasks = append(tasks, t)
		}
	}
	return &pkg.PatientData{
		Patient:       *patient,
		Tasks:         tasks,
		HealthData:    orEmpty(r.data.HealthData[id]),
		RiskHistory:   orEmpty(r.data.RiskHistory[id]),
		RiskFactors:   orEmpty(r.data.RiskFactors[id]),
		Interventions: orEmpty(r.data.Interventions[id]),
	}, true
}

// List implements Repository.
func (r *FixtureRepository) List() []pkg.Patient {
	out := make([]pkg.Patient, len(r.data.Patients))
	copy(out, r.data.Patients)
	return out
}

func orEmpty[T any](s []T) []T {
	out := make([]T, len(s))
	copy(out, s)
	return out
}
