package sftp

// BatchError wraps any connection or I/O failure of a batch operation. A
// caller holding a BatchError must assume the operation's results are
// incomplete.
type BatchError struct {
	Op   string
	Path string
	Err  error
}

func (e *BatchError) Error() string {
	msg := "sftp: " + e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BatchError) Unwrap() error { return e.Err }
