package api

// --- Health ---

type HealthCheckOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// --- User ---

// GetUserOutput describes the identity attached to the current request.
type GetUserOutput struct {
	Body struct {
		Authenticated bool     `json:"authenticated"`
		Subject       string   `json:"subject,omitempty"`
		Authorities   []string `json:"authorities"`
	}
}
