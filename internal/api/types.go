package api

// errorResponse is the JSON body for all error replies.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// HealthResponse is the GET /api/v1/health reply: service liveness plus a
// breakdown of recent report outcomes.
type HealthResponse struct {
	Status       string         `json:"status"`
	ModelCount   int            `json:"model_count"`
	ReportCount  int            `json:"report_count"`
	StatusCounts map[string]int `json:"status_counts"`
}

// ReportSummary is one row of the GET /api/v1/reports listing.
type ReportSummary struct {
	ID            string `json:"id"`
	OverallStatus string `json:"overall_status"`
	ReadingCount  int    `json:"reading_count"`
	ReceivedAt    string `json:"received_at"`
	CompletedAt   string `json:"completed_at"`
}

// ModelInfo describes one registered channel model for GET /api/v1/models.
type ModelInfo struct {
	Channel  string   `json:"channel"`
	Type     string   `json:"type"`
	Output   string   `json:"output"`
	Features []string `json:"features"`
}
