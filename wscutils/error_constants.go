package wscutils

// Envelope status values.
const (
	ErrorStatus   = "error"
	SuccessStatus = "success"
)
