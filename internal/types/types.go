package types

// ── /process-image ───────────────────────────────────────────────────────────

type ExtractResponse struct {
	ExtractedText string `json:"extracted_text"`
}

// ── /send-to-make ────────────────────────────────────────────────────────────

// SummaryRequest is both the inbound body and the payload forwarded to the
// webhook.
type SummaryRequest struct {
	Text string `json:"text"`
}

type SummaryResponse struct {
	Summary string `json:"summary"`
}

// ── shared ───────────────────────────────────────────────────────────────────

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Code    string `json:"code,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Active  int64  `json:"active"`
	Engine  string `json:"engine"`
	Version string `json:"version"`
}

type MetricsResponse struct {
	ActiveRequests int64  `json:"activeRequests"`
	TotalRequests  int64  `json:"totalRequests"`
	FilesProcessed int64  `json:"filesProcessed"`
	Goroutines     int    `json:"goroutines"`
	MemAllocMB     uint64 `json:"memAllocMB"`
	MemSysMB       uint64 `json:"memSysMB"`
}
