package core

import "fmt"

// TransportError reports a real-time exchange that did not yield a usable
// payload: the endpoint was unreachable, retries were exhausted, the gateway
// answered non-2xx, or the CORE envelope carried an error code.
type TransportError struct {
	PayloadType string
	StatusCode  int    // HTTP status, 0 when no response was received
	Attempts    int    // HTTP attempts made
	Code        string // CORE ErrorCode or SOAP fault code
	Message     string
	Err         error
}

func (e *TransportError) Error() string {
	msg := "core: " + e.PayloadType
	switch {
	case e.Code != "":
		msg += fmt.Sprintf(": payer error %s", e.Code)
		if e.Message != "" {
			msg += ": " + e.Message
		}
	case e.StatusCode != 0:
		msg += fmt.Sprintf(": http status %d", e.StatusCode)
	case e.Message != "":
		msg += ": " + e.Message
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }
