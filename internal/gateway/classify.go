package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"signflow/internal/common/errors"
)

// Phrases in a 4xx body that mean the integration itself is misconfigured.
var configurationPhrases = []string{
	"not configured",
	"missing credentials",
	"invalid api key",
}

// errorBody covers the error shapes returned by the backend and the provider
type errorBody struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Errors  json.RawMessage `json:"errors"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// classifyStatus maps a non-2xx response to an AppError. It returns nil for 2xx.
func classifyStatus(status int, body []byte) *errors.AppError {
	if status >= 200 && status < 300 {
		return nil
	}

	parsed := parseErrorBody(body)
	message := parsed.Message
	if message == "" {
		message = parsed.Error
	}
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = http.StatusText(status)
	}

	var appErr *errors.AppError
	switch {
	case status == http.StatusTooManyRequests:
		appErr = errors.RateLimitError("remote service")
		appErr.Message = fmt.Sprintf("HTTP %d: %s", status, message)
	case status == http.StatusRequestTimeout || status >= 500:
		appErr = errors.ServerUnavailableError(fmt.Sprintf("HTTP %d: %s", status, message), status)
	case status == http.StatusUnauthorized || status == http.StatusForbidden || isConfigurationMessage(body):
		appErr = errors.ConfigError(fmt.Sprintf("HTTP %d: %s", status, message))
	case status >= 400:
		appErr = errors.ValidationError(message)
		for field, msg := range parsed.fieldErrors() {
			appErr.WithField(field, msg)
		}
	default:
		appErr = errors.UnknownError(fmt.Sprintf("unexpected HTTP %d", status), nil)
	}

	appErr.StatusCode = status
	if parsed.Code != "" {
		appErr.WithCode(parsed.Code)
	}
	return appErr
}

func isConfigurationMessage(body []byte) bool {
	lower := strings.ToLower(string(body))
	for _, phrase := range configurationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func parseErrorBody(body []byte) errorBody {
	var parsed errorBody
	if len(body) == 0 {
		return parsed
	}
	_ = json.Unmarshal(body, &parsed)
	return parsed
}

// fieldErrors accepts both {"field": "message"} and [{"field","message"}]
func (b errorBody) fieldErrors() map[string]string {
	if len(b.Errors) == 0 {
		return nil
	}

	var asMap map[string]string
	if err := json.Unmarshal(b.Errors, &asMap); err == nil {
		return asMap
	}

	var asList []fieldError
	if err := json.Unmarshal(b.Errors, &asList); err == nil {
		out := make(map[string]string, len(asList))
		for _, fe := range asList {
			if fe.Field != "" {
				out[fe.Field] = fe.Message
			}
		}
		return out
	}

	return nil
}

// classifyTransport wraps an error returned by http.Client.Do
func classifyTransport(err error) *errors.AppError {
	if appErr, ok := errors.As(err); ok {
		return appErr
	}
	return errors.NetworkError("request failed", err)
}
