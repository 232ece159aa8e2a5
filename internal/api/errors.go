package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAccessDenied = errors.New("access denied")
	ErrNotFound     = errors.New("not found")
)

// APIError is a non-2xx backend response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// Is maps auth failures to ErrAccessDenied and 404 to ErrNotFound.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAccessDenied:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

func newAPIError(resp *http.Response, body []byte) *APIError {
	var apiError struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}

	msg := resp.Status
	if json.Unmarshal(body, &apiError) == nil {
		switch {
		case apiError.Message != "":
			msg = apiError.Message
		case apiError.Error != "":
			msg = apiError.Error
		case apiError.Detail != "":
			msg = apiError.Detail
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
