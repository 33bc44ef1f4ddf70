package domain

// AIErrorType classifies what went wrong during an AI-backed stage.
type AIErrorType string

const (
	ErrNetwork             AIErrorType = "network_error"
	ErrAPIKeyMissing       AIErrorType = "api_key_missing"
	ErrAPIKeyInvalid       AIErrorType = "api_key_invalid"
	ErrRateLimit           AIErrorType = "rate_limit"
	ErrTranscriptionFailed AIErrorType = "transcription_failed"
	ErrGenerationFailed    AIErrorType = "generation_failed"
	ErrProcessingFailed    AIErrorType = "processing_failed"
	ErrUnknown             AIErrorType = "unknown"
)

// Retryable reports whether a retry of the failed run can succeed without
// user intervention. Only the API-key variants require configuration first.
func (t AIErrorType) Retryable() bool {
	switch t {
	case ErrAPIKeyMissing, ErrAPIKeyInvalid:
		return false
	default:
		return true
	}
}

// AIError is the classified failure surfaced by the Gateway and the
// pipeline. The original low-level cause is preserved for diagnostics.
type AIError struct {
	Type      AIErrorType    `json:"type"`
	Message   string         `json:"message"`
	Step      ProcessingStep `json:"step,omitempty"`
	Retryable bool           `json:"retryable"`
	Cause     error          `json:"-"`
}

func (e *AIError) Error() string {
	if e.Step != "" {
		return string(e.Step) + ": " + e.Message
	}
	return e.Message
}

func (e *AIError) Unwrap() error {
	return e.Cause
}

// NewAIError builds a classified error with the retryable flag derived
// from the type.
func NewAIError(t AIErrorType, step ProcessingStep, message string, cause error) *AIError {
	return &AIError{
		Type:      t,
		Message:   message,
		Step:      step,
		Retryable: t.Retryable(),
		Cause:     cause,
	}
}
