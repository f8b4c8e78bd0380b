package model

import "fmt"

// RefusalError reports that the model declined to answer. Callers treat it
// as a terminal outcome for the request, not a retryable failure.
type RefusalError struct {
	Model string
}

func (e *RefusalError) Error() string {
	return fmt.Sprintf("model %s refused the request", e.Model)
}

// MaxTokensError reports a response truncated at the output-token limit.
// The partial text is unusable for structured calls.
type MaxTokensError struct {
	Model     string
	MaxTokens int64
}

func (e *MaxTokensError) Error() string {
	return fmt.Sprintf("model %s hit the %d output-token limit", e.Model, e.MaxTokens)
}

// SchemaError reports a structured response that failed schema validation.
type SchemaError struct {
	CallType string
	Cause    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s response failed schema validation: %v", e.CallType, e.Cause)
}

func (e *SchemaError) Unwrap() error { return e.Cause }
