package apperrors

import (
	"fmt"
)

// Body is the JSON error envelope.
type Body struct {
	Success bool       `json:"success"`
	Error   BodyDetail `json:"error"`
}

type BodyDetail struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Stack   string `json:"stack,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Envelope renders err. Stack and details are only included in development.
// Internal error messages are never leaked outside development.
func Envelope(err error, development bool) (int, Body) {
	e := From(err)
	body := Body{
		Success: false,
		Error: BodyDetail{
			Message: e.Message,
			Code:    e.ErrorCode(),
		},
	}
	if development {
		// pkg/errors causes print their stack trace with %+v
		body.Error.Stack = fmt.Sprintf("%+v", err)
		body.Error.Details = e.Details
	}
	return e.Status(), body
}
