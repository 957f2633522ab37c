package pkg

// Request and response shapes of the generative flows.  The validate tags
// are the flow schemas: inputs are checked before a prompt is rendered and
// outputs before a result is returned to the caller.

// RiskScoreInput carries the serialized patient record to score.
type RiskScoreInput struct {
	PatientData string `json:"patientData" validate:"required"`
}

// RiskScoreOutput is the readmission risk score and its explanation.
type RiskScoreOutput struct {
	RiskScore   *float64 `json:"riskScore" validate:"required,min=0,max=100" jsonschema:"description=The risk score of the patient from 0 to 100"`
	RiskFactors string   `json:"riskFactors" validate:"required" jsonschema:"description=The risk factors contributing to the risk score"`
}

// ExtractTasksInput carries the conversation transcript to mine for tasks.
type ExtractTasksInput struct {
	ConversationTranscript string `json:"conversationTranscript" validate:"required"`
}

// ExtractTasksOutput lists the tasks found in a transcript.
type ExtractTasksOutput struct {
	Tasks []string `json:"tasks" validate:"required,dive,required" jsonschema:"description=The actionable tasks extracted from the conversation"`
}

// SuggestInterventionsInput carries the serialized patient record.
type SuggestInterventionsInput struct {
	PatientData string `json:"patientData" validate:"required"`
}

// SuggestInterventionsOutput lists the recommended interventions.
type SuggestInterventionsOutput struct {
	Interventions []Intervention `json:"interventions" validate:"required,dive" jsonschema:"description=A list of recommended clinical interventions"`
}

// ProgressSummaryInput carries the patient name with recent health data and tasks.
type ProgressSummaryInput struct {
	PatientName string `json:"patientName" validate:"required"`
	HealthData  string `json:"healthData"`
	Tasks       string `json:"tasks"`
}

// ProgressSummaryOutput is the narrative progress summary.
type ProgressSummaryOutput struct {
	Summary string `json:"summary" validate:"required" jsonschema:"description=A concise summary of the patient's progress highlighting trends and adherence and concerns"`
}

// VideoInput drives both the symbolic description and the video flows.
type VideoInput struct {
	PatientName   string  `json:"patientName" validate:"required"`
	PatientStatus string  `json:"patientStatus" validate:"required,oneof='At Risk' 'On Track' 'Discharged'"`
	RiskScore     float64 `json:"riskScore" validate:"gte=0,lte=100"`
}

// VideoDescriptionOutput describes the symbolic video in words.
type VideoDescriptionOutput struct {
	Description string `json:"description" validate:"required" jsonschema:"description=A text description of a symbolic video"`
}

// VideoSummaryOutput holds the generated video as a data URL.
type VideoSummaryOutput struct {
	VideoURL string `json:"videoUrl" validate:"required,startswith=data:"`
}
