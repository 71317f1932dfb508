package wscutils

// Error codes returned in response envelopes.
const (
	ErrcodeUnknown          = "unknown"
	ErrcodeInvalidRequest   = "invalid_request"
	ErrcodeInvalidJson      = "invalid_json"
	ErrcodeInvalidImage     = "invalid_image"
	ErrcodeNotFound         = "not_found"
	ErrcodeNotReady         = "not_ready"
	ErrcodeModelUnavailable = "model_unavailable"
	ErrcodeDatabaseError    = "database_error"
	ErrcodeQueueError       = "queue_error"
	ErrcodeRequestTimeout   = "request_timeout"
	ErrcodeInternal         = "internal"
)

// DefaultMsgID is used for error codes missing from the message table.
const DefaultMsgID = 9999
