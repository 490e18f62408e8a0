package http

import "errors"

var (
	ErrInvalidRequest     = errors.New("invalid HTTP request")
	ErrRequestLineTooLong = errors.New("request line too long")
	ErrHeaderTooLarge     = errors.New("header line too long")
	ErrTooManyHeaders     = errors.New("too many header lines")
	ErrBodyTooLarge       = errors.New("request body too large")
	ErrForbiddenPath      = errors.New("path escapes content root")
	ErrNotFound           = errors.New("resource not found")
	ErrUnsatisfiableRange = errors.New("range not satisfiable")
	ErrMethodNotAllowed   = errors.New("method not allowed")
	ErrRequestTimeout     = errors.New("request timeout")
	ErrBufferFull         = errors.New("read buffer full")
)

// StatusForError maps an error to the status code sent to the client.
func StatusForError(err error) int {
	switch {
	case err == nil:
		return 200
	case errors.Is(err, ErrHeaderTooLarge), errors.Is(err, ErrTooManyHeaders), errors.Is(err, ErrBufferFull):
		return 431
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrRequestLineTooLong):
		return 400
	case errors.Is(err, ErrBodyTooLarge):
		return 413
	case errors.Is(err, ErrForbiddenPath):
		return 403
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrUnsatisfiableRange):
		return 416
	case errors.Is(err, ErrMethodNotAllowed):
		return 405
	case errors.Is(err, ErrRequestTimeout):
		return 408
	default:
		return 500
	}
}

// statusText returns the HTTP status text for the given code
func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 206:
		return "Partial Content"
	case 301:
		return "Moved Permanently"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 408:
		return "Request Timeout"
	case 413:
		return "Content Too Large"
	case 416:
		return "Range Not Satisfiable"
	case 431:
		return "Request Header Fields Too Large"
	case 500:
		return "Internal Server Error"
	case 503:
		return "Service Unavailable"
	default:
		return "Unknown"
	}
}

// StatusText is the exported form of statusText.
func StatusText(code int) string {
	return statusText(code)
}
