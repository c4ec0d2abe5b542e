package errors

import (
	"fmt"
	"net/http"
)

// Code maps a business error code to its HTTP status and message
type Code struct {
	Code    int
	Status  int
	Message string
}

const (
	Success = 0

	// Common errors (1000-1999)
	ErrInternalServer  = 1000
	ErrInvalidParams   = 1001
	ErrNotFound        = 1002
	ErrUnauthorized    = 1003
	ErrForbidden       = 1004
	ErrConflict        = 1005
	ErrTooManyRequests = 1006
	ErrBadRequest      = 1007
	ErrServiceUnavail  = 1008

	// Image errors (6000-6999)
	ErrImageInvalidInput         = 6000
	ErrImageNotFound             = 6001
	ErrImageClassificationFailed = 6002
	ErrImageStorageFailed        = 6003
	ErrImageOwnerNotFound        = 6005
)

var codeMap = map[int]Code{
	Success: {Success, http.StatusOK, "Success"},

	ErrInternalServer:  {ErrInternalServer, http.StatusInternalServerError, "Internal server error"},
	ErrInvalidParams:   {ErrInvalidParams, http.StatusBadRequest, "Invalid parameters"},
	ErrNotFound:        {ErrNotFound, http.StatusNotFound, "Resource not found"},
	ErrUnauthorized:    {ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	ErrForbidden:       {ErrForbidden, http.StatusForbidden, "Forbidden"},
	ErrConflict:        {ErrConflict, http.StatusConflict, "Resource conflict"},
	ErrTooManyRequests: {ErrTooManyRequests, http.StatusTooManyRequests, "Too many requests"},
	ErrBadRequest:      {ErrBadRequest, http.StatusBadRequest, "Bad request"},
	ErrServiceUnavail:  {ErrServiceUnavail, http.StatusServiceUnavailable, "Service unavailable"},

	ErrImageInvalidInput:         {ErrImageInvalidInput, http.StatusBadRequest, "Invalid image"},
	ErrImageNotFound:             {ErrImageNotFound, http.StatusNotFound, "Image not found"},
	ErrImageClassificationFailed: {ErrImageClassificationFailed, http.StatusBadGateway, "Image classification failed"},
	ErrImageStorageFailed:        {ErrImageStorageFailed, http.StatusInternalServerError, "Image storage failed"},
	ErrImageOwnerNotFound:        {ErrImageOwnerNotFound, http.StatusNotFound, "Owner not found"},
}

// GetCode returns the Code for code, falling back to ErrInternalServer
func GetCode(code int) Code {
	if c, ok := codeMap[code]; ok {
		return c
	}
	return codeMap[ErrInternalServer]
}

func GetHTTPStatus(code int) int {
	return GetCode(code).Status
}

func GetMessage(code int) string {
	return GetCode(code).Message
}

// IsRetryable reports whether a caller may retry the same request unchanged
func IsRetryable(code int) bool {
	switch code {
	case ErrImageClassificationFailed, ErrServiceUnavail, ErrTooManyRequests:
		return true
	}
	return false
}

// FormatError renders the message for code with optional details
func FormatError(code int, details ...string) string {
	msg := GetMessage(code)
	if d := firstOf(details); d != "" {
		return fmt.Sprintf("%s: %s", msg, d)
	}
	return msg
}
