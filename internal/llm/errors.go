package llm

import "strings"

// ErrorClass categorizes a provider call failure for key-rotation decisions
// (§4.4): a rate-limit error quarantines the key and retries the next one, a
// context-overflow error does not — the prompt is identical on every key.
type ErrorClass string

const (
	ErrorClassAuth            ErrorClass = "AUTH"
	ErrorClassRateLimit       ErrorClass = "RATE_LIMIT"
	ErrorClassTimeout         ErrorClass = "TIMEOUT"
	ErrorClassBilling         ErrorClass = "BILLING"
	ErrorClassContextOverflow ErrorClass = "CONTEXT_OVERFLOW"
	ErrorClassUnknown         ErrorClass = "UNKNOWN"
)

// ClassifyError inspects a provider error's message for known patterns and
// returns the most specific ErrorClass that matches.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "401"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid key"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "403"):
		return ErrorClassAuth
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "too many requests"):
		return ErrorClassRateLimit
	case strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"):
		return ErrorClassTimeout
	case strings.Contains(msg, "billing"),
		strings.Contains(msg, "payment"),
		strings.Contains(msg, "insufficient funds"):
		return ErrorClassBilling
	case strings.Contains(msg, "context_length"),
		strings.Contains(msg, "context length"),
		strings.Contains(msg, "token limit"),
		strings.Contains(msg, "max tokens"),
		strings.Contains(msg, "maximum context"),
		strings.Contains(msg, "context window"):
		return ErrorClassContextOverflow
	default:
		return ErrorClassUnknown
	}
}

// IsKeyQuarantinable reports whether this error class should trip the
// offending key's cooldown rather than simply surfacing to the caller.
func IsKeyQuarantinable(ec ErrorClass) bool {
	return ec == ErrorClassRateLimit || ec == ErrorClassAuth || ec == ErrorClassBilling
}
