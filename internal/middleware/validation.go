package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/relayloop/chatrelay/internal/model"
)

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateJobID validates a job ID.
func ValidateJobID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid job ID format")
	}
	return nil
}

// ValidateTenantID validates a tenant ID.
func ValidateTenantID(id string) error {
	if len(id) == 0 {
		return errors.New("tenant ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("tenant ID exceeds maximum length")
	}
	return nil
}

// ValidateTitle validates a conversation title.
func ValidateTitle(title string) error {
	if len(title) > 256 {
		return errors.New("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return errors.New("title must be valid UTF-8")
	}
	return nil
}

// ValidateGenerationRequest validates the shared create-job / begin-generation
// payload. A missing or empty history never creates a job.
func ValidateGenerationRequest(req *model.CreateJobRequest) error {
	if req == nil || len(req.Messages) == 0 {
		return errors.New("messages are required")
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != model.RoleUser {
		return errors.New("last message must be a user turn")
	}
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			if p.Type == model.PartTypeText && !utf8.ValidString(p.Text) {
				return errors.New("message text must be valid UTF-8")
			}
		}
	}
	return nil
}
