package x12

import "fmt"

// EncodingError reports a request that cannot be turned into a valid
// interchange, usually because a required field is missing.
type EncodingError struct {
	Transaction string
	Field       string
	Reason      string
}

func (e *EncodingError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("x12: encode %s: %s", e.Transaction, e.Reason)
	}
	return fmt.Sprintf("x12: encode %s: %s: %s", e.Transaction, e.Field, e.Reason)
}

// DecodeError reports a malformed or unexpected payload.
type DecodeError struct {
	Transaction string
	Segment     string
	Reason      string
	Err         error
}

func (e *DecodeError) Error() string {
	msg := "x12: decode"
	if e.Transaction != "" {
		msg += " " + e.Transaction
	}
	if e.Segment != "" {
		msg += " " + e.Segment
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

func missing(tx, field string) error {
	return &EncodingError{Transaction: tx, Field: field, Reason: "is required"}
}
