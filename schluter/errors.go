package schluter

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("schluter: invalid username or password")
	ErrInvalidSessionID   = errors.New("schluter: invalid or expired session id")

	// ErrAPI matches every *APIError through errors.Is.
	ErrAPI = errors.New("schluter: api error")
)

// APIError reports a response the client cannot map to a result: a status
// other than 200/401, or a 200 carrying an unrecognised error code.
type APIError struct {
	StatusCode int
	ErrorCode  int
}

func (e *APIError) Error() string {
	if e.ErrorCode != 0 {
		return fmt.Sprintf("schluter: api error (status %d, error code %d)", e.StatusCode, e.ErrorCode)
	}
	return fmt.Sprintf("schluter: invalid response status %d", e.StatusCode)
}

func (e *APIError) Is(target error) bool {
	return target == ErrAPI
}
