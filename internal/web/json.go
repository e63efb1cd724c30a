package web

import "github.com/sweeney/pcf-relay/internal/status"

// ErrorBody is the error detail of an API error.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse is the envelope for every API error.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// PowerRequest is the body of engage and power requests.
type PowerRequest struct {
	Power *int `json:"power"`
}

type ActuatorsResponse struct {
	Actuators []status.ActuatorJSON `json:"actuators"`
}

type RegistersResponse struct {
	Registers map[string]int `json:"registers"`
}
