package circleci

import "time"

// TriggerRequest is the body of a pipeline trigger
type TriggerRequest struct {
	Branch     string            `json:"branch,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Pipeline represents a pipeline created by a trigger
type Pipeline struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Number    int       `json:"number"`
	CreatedAt time.Time `json:"created_at"`

	// WebURL is not part of the API response.
	WebURL string `json:"-"`
}

// ErrorResponse is the body CircleCI returns with unsuccessful responses
type ErrorResponse struct {
	Message string `json:"message"`
}
