package verify

type Status string

const (
	StatusSupported    Status = "SUPPORTED"
	StatusContradicted Status = "CONTRADICTED"
	StatusUnsupported  Status = "UNSUPPORTED"
)

func parseStatus(s string) Status {
	switch Status(s) {
	case StatusSupported, StatusContradicted:
		return Status(s)
	}
	return StatusUnsupported
}

type Statement struct {
	Text                string `json:"text"`
	LineNumber          int    `json:"line_number"`
	Accurate            bool   `json:"accurate"`
	Status              Status `json:"status"`
	SuggestedCorrection string `json:"suggested_correction,omitempty"`
}

const (
	MethodLLM       = "llm"
	MethodHeuristic = "heuristic"
)

type Result struct {
	Verified          bool        `json:"verified"`
	Statements        []Statement `json:"statements"`
	CorrectedResponse string      `json:"corrected_response,omitempty"`
	Confidence        float64     `json:"confidence"`
	Method            string      `json:"method"`
}

type Options struct {
	// Retries overrides the verifier's budget for unparseable LLM replies.
	Retries int
	// Heuristic skips the LLM and checks numeric claims locally.
	Heuristic bool
}
