// Package wscutils defines the standard request and response envelope of the
// web service and helpers to build validation and error messages.
package wscutils

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// errorTypes maps an error code to its message id. Clients use the message
// id to pick a localized template. The built-in table covers every code this
// service emits; LoadErrorTypes can replace it from a deployment-provided
// YAML file.
var errorTypes = map[string]int{
	ErrcodeUnknown:          DefaultMsgID,
	ErrcodeInvalidRequest:   1001,
	ErrcodeInvalidJson:      1002,
	ErrcodeInvalidImage:     1003,
	ErrcodeNotFound:         1004,
	ErrcodeNotReady:         1005,
	ErrcodeModelUnavailable: 1006,
	ErrcodeDatabaseError:    1007,
	ErrcodeQueueError:       1008,
	ErrcodeRequestTimeout:   1009,
	ErrcodeInternal:         1010,
}

// LoadErrorTypes replaces the error code to message id table from YAML.
func LoadErrorTypes(r io.Reader) {
	byteValue, err := io.ReadAll(r)
	if err != nil {
		log.Fatalf("Failed to read error types: %v", err)
	}

	if err := yaml.Unmarshal(byteValue, &errorTypes); err != nil {
		log.Panic(err)
	}
}

// Request represents the standard structure of a request to the web service.
type Request struct {
	Data any `json:"data" binding:"required"`
}

// Response represents the standard structure of a response of the web service.
type Response struct {
	Status   string         `json:"status"`
	Data     any            `json:"data"`
	Messages []ErrorMessage `json:"messages"`
}

// ErrorMessage defines the format of the error part of the standard response
// object.
type ErrorMessage struct {
	MsgID   int      `json:"msgid"`
	ErrCode string   `json:"errcode"`
	Field   *string  `json:"field,omitempty"`
	Vals    []string `json:"vals,omitempty"`
}

// WscValidate validates data according to its struct tags and returns a
// slice of ErrorMessage for the failures. `vals` for each message come from
// getVals because only the caller knows the request-specific values.
func WscValidate[T any](data T, getVals func(err validator.FieldError) []string) []ErrorMessage {
	var validationErrors []ErrorMessage

	validate := validator.New()

	err := validate.Struct(data)
	if err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			for _, err := range validationErrs {
				vals := getVals(err)
				field := err.Field()
				vErr := BuildErrorMessage(err.Tag(), &field, vals...)
				validationErrors = append(validationErrors, vErr)
			}
		}
	}
	return validationErrors
}

// BuildErrorMessage builds an ErrorMessage for errcode, resolving its
// message id from the table. Unrecognized codes get the "unknown" id.
func BuildErrorMessage(errcode string, fieldName *string, vals ...string) ErrorMessage {
	msgid, exists := errorTypes[errcode]
	if !exists {
		log.Printf("Unrecognized errcode: %s", errcode)
		msgid = errorTypes[ErrcodeUnknown]
	}

	return ErrorMessage{
		MsgID:   msgid,
		ErrCode: errcode,
		Field:   fieldName,
		Vals:    vals,
	}
}

// NewResponse creates a new web service response envelope.
func NewResponse(status string, data any, messages []ErrorMessage) *Response {
	return &Response{
		Status:   status,
		Data:     data,
		Messages: messages,
	}
}

// BindJSON binds incoming JSON to data and sends the standard invalid-JSON
// error response on failure.
func BindJSON(c *gin.Context, data any) error {
	req := Request{Data: data}
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidJsonError := BuildErrorMessage(ErrcodeInvalidJson, nil)
		c.JSON(http.StatusBadRequest, NewResponse(ErrorStatus, nil, []ErrorMessage{invalidJsonError}))
		return err
	}
	return nil
}

// NewErrorResponse creates a standard error response with a single message.
func NewErrorResponse(errcode string) *Response {
	return NewResponse(ErrorStatus, nil, []ErrorMessage{BuildErrorMessage(errcode, nil)})
}

// NewSuccessResponse creates a standard success response.
func NewSuccessResponse(data any) *Response {
	return NewResponse(SuccessStatus, data, nil)
}

// SendSuccessResponse sends a JSON response with status 200.
func SendSuccessResponse(c *gin.Context, response *Response) {
	c.JSON(http.StatusOK, response)
}

// SendErrorResponse sends a JSON error response with status 400.
func SendErrorResponse(c *gin.Context, response *Response) {
	c.JSON(http.StatusBadRequest, response)
}
