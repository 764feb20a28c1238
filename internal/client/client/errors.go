package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinels matched by *APIError through errors.Is.
var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrValidation   = errors.New("validation error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrServer       = errors.New("server error")
)

// Kind is the category of a failed backend call.
type Kind int

const (
	KindNetwork Kind = iota + 1
	KindValidation
	KindAuth
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// APIError describes a failed backend call.
type APIError struct {
	Kind    Kind
	Status  int
	Message string
	// Timeout is set for KindNetwork errors caused by the request deadline.
	Timeout bool
	// Fields holds per-field messages of a validation failure, when the
	// backend sends them.
	Fields map[string]string
	// FromBody reports that Message was sent by the backend rather than
	// filled in from the error kind.
	FromBody bool
	Path     string
	Err      error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s error (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnavailable:
		return e.Kind == KindNetwork
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrUnauthorized:
		return e.Kind == KindAuth
	case ErrServer:
		return e.Kind == KindServer
	}
	return false
}

// Message returns the most specific human-readable text carried by err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

// BackendMessage returns the message the backend sent with err, if any.
func BackendMessage(err error) (string, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.FromBody {
		return apiErr.Message, true
	}
	return "", false
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status >= 400 && status < 500:
		return KindValidation
	default:
		return KindServer
	}
}

func defaultMessage(kind Kind, timeout bool) string {
	switch kind {
	case KindNetwork:
		if timeout {
			return "request timed out"
		}
		return "server unreachable"
	case KindValidation:
		return "invalid request"
	case KindAuth:
		return "not authorized"
	default:
		return "server error"
	}
}

func newNetworkError(path string, timeout bool, err error) *APIError {
	return &APIError{
		Kind:    KindNetwork,
		Message: defaultMessage(KindNetwork, timeout),
		Timeout: timeout,
		Path:    path,
		Err:     err,
	}
}

// errorBody lists the shapes backends use to describe a failure.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Detail  string `json:"detail"`
	Errors  any    `json:"errors"`
}

func newStatusError(path string, status int, body []byte) *APIError {
	kind := kindForStatus(status)
	e := &APIError{Kind: kind, Status: status, Path: path}

	var eb errorBody
	if len(body) > 0 && json.Unmarshal(body, &eb) == nil {
		for _, m := range []string{eb.Message, eb.Error, eb.Detail} {
			if strings.TrimSpace(m) != "" {
				e.Message = strings.TrimSpace(m)
				e.FromBody = true
				break
			}
		}
		e.Fields = fieldErrors(eb.Errors)
	}
	if e.Message == "" {
		e.Message = defaultMessage(kind, false)
	}
	return e
}

// fieldErrors accepts {"email": "malformed"} or [{"field": "email", "message": "malformed"}].
func fieldErrors(v any) map[string]string {
	out := map[string]string{}
	switch errs := v.(type) {
	case map[string]any:
		for k, msg := range errs {
			if s, ok := msg.(string); ok {
				out[k] = s
			}
		}
	case []any:
		for _, item := range errs {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			field, _ := m["field"].(string)
			msg, _ := m["message"].(string)
			if field != "" {
				out[field] = msg
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
