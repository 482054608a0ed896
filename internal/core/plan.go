package core

type StepType string

const (
	StepKnowledgeRetrieval  StepType = "knowledge_retrieval"
	StepParameterExtraction StepType = "parameter_extraction"
	StepDataRetrieval       StepType = "data_retrieval"
	StepCalculation         StepType = "calculation"
	StepValidation          StepType = "validation"
	StepComparison          StepType = "comparison"
	StepRecommendation      StepType = "recommendation"
	StepFactChecking        StepType = "fact_checking"
	StepGeneric             StepType = "generic"
)

// KnownStepType reports whether t is part of the fixed step catalog.
func KnownStepType(t StepType) bool {
	switch t {
	case StepKnowledgeRetrieval, StepParameterExtraction, StepDataRetrieval, StepCalculation,
		StepValidation, StepComparison, StepRecommendation, StepFactChecking, StepGeneric:
		return true
	}
	return false
}

type Step struct {
	ID                     string         `json:"step_id"`
	Number                 int            `json:"step_number"`
	Description            string         `json:"description"`
	Type                   StepType       `json:"type"`
	DependsOn              []string       `json:"depends_on"`
	Parameters             map[string]any `json:"parameters,omitempty"`
	EstimatedExecutionTime int64          `json:"estimated_execution_time"`
}

type Plan struct {
	QueryID            string  `json:"query_id"`
	OriginalQuery      string  `json:"original_query"`
	Steps              []Step  `json:"steps"`
	TotalSteps         int     `json:"total_steps"`
	EstimatedTotalTime int64   `json:"estimated_total_time"`
	Confidence         float64 `json:"confidence"`
}

// StepIndex returns the position of the step with the given id, or -1.
func (p *Plan) StepIndex(id string) int {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
)

// Terminal reports whether the status can no longer change within a plan execution.
func (s StepStatus) Terminal() bool {
	return s == StepSuccess || s == StepFailed
}

type StepResult struct {
	StepID        string     `json:"step_id"`
	StepNumber    int        `json:"step_number"`
	Type          StepType   `json:"type,omitempty"`
	Status        StepStatus `json:"status"`
	Success       bool       `json:"success"`
	Result        any        `json:"result,omitempty"`
	Error         string     `json:"error,omitempty"`
	ExecutionTime int64      `json:"execution_time"`
	Explanation   string     `json:"explanation,omitempty"`
}

// ReasoningStep is the caller-facing trace of one executed step.
type ReasoningStep struct {
	StepID      string   `json:"step_id"`
	StepNumber  int      `json:"step_number"`
	Type        StepType `json:"type"`
	Description string   `json:"description"`
	Explanation string   `json:"explanation,omitempty"`
	Success     bool     `json:"success"`
}

type FinalResult struct {
	QueryID            string          `json:"query_id"`
	Answer             string          `json:"answer"`
	Confidence         float64         `json:"confidence"`
	ReasoningProcess   []ReasoningStep `json:"reasoning_process"`
	SupportingEvidence []string        `json:"supporting_evidence"`
	KnowledgeSources   []string        `json:"knowledge_sources"`
	FactChecked        bool            `json:"fact_checked"`
	ExecutionTime      int64           `json:"execution_time"`
}
