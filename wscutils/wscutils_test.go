package wscutils

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestBuildErrorMessage(t *testing.T) {
	t.Run("known code resolves its msgid", func(t *testing.T) {
		field := "image"
		msg := BuildErrorMessage(ErrcodeInvalidImage, &field, "scan.png")
		assert.Equal(t, 1003, msg.MsgID)
		assert.Equal(t, ErrcodeInvalidImage, msg.ErrCode)
		assert.Equal(t, "image", *msg.Field)
		assert.Equal(t, []string{"scan.png"}, msg.Vals)
	})

	t.Run("unknown code falls back to the default msgid", func(t *testing.T) {
		msg := BuildErrorMessage("no_such_code", nil)
		assert.Equal(t, DefaultMsgID, msg.MsgID)
		assert.Equal(t, "no_such_code", msg.ErrCode)
	})
}

func TestLoadErrorTypes(t *testing.T) {
	saved := map[string]int{}
	for k, v := range errorTypes {
		saved[k] = v
	}
	t.Cleanup(func() { errorTypes = saved })

	LoadErrorTypes(strings.NewReader("invalid_image: 42\n"))
	assert.Equal(t, 42, BuildErrorMessage(ErrcodeInvalidImage, nil).MsgID)
}

func TestResponseEnvelopes(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		resp := NewSuccessResponse(map[string]int{"job_id": 7})
		assert.Equal(t, SuccessStatus, resp.Status)
		assert.Nil(t, resp.Messages)
	})

	t.Run("error", func(t *testing.T) {
		resp := NewErrorResponse(ErrcodeNotFound)
		assert.Equal(t, ErrorStatus, resp.Status)
		require.Len(t, resp.Messages, 1)
		assert.Equal(t, ErrcodeNotFound, resp.Messages[0].ErrCode)
	})
}

// Field and Vals must disappear from the JSON when unset so clients do not
// see "field": null on envelope-level errors.
func TestErrorMessageOmitsEmptyFields(t *testing.T) {
	out, err := json.Marshal(BuildErrorMessage(ErrcodeInternal, nil))
	require.NoError(t, err)
	assert.NotContains(t, string(out), "field")
	assert.NotContains(t, string(out), "vals")

	field := "device"
	out, err = json.Marshal(BuildErrorMessage(ErrcodeInvalidRequest, &field, "cpu", "cuda"))
	require.NoError(t, err)
	assert.Contains(t, string(out), `"field":"device"`)
	assert.Contains(t, string(out), `"vals":["cpu","cuda"]`)
}

func TestWscValidate(t *testing.T) {
	type createReq struct {
		Name   string `validate:"required"`
		Device string `validate:"oneof=cpu cuda"`
	}

	getVals := func(err validator.FieldError) []string {
		return []string{err.Param()}
	}

	t.Run("valid struct yields no messages", func(t *testing.T) {
		msgs := WscValidate(createReq{Name: "densenet121", Device: "cpu"}, getVals)
		assert.Empty(t, msgs)
	})

	t.Run("each failing field yields a message", func(t *testing.T) {
		msgs := WscValidate(createReq{Device: "tpu"}, getVals)
		require.Len(t, msgs, 2)
		assert.Equal(t, "Name", *msgs[0].Field)
		assert.Equal(t, "required", msgs[0].ErrCode)
		assert.Equal(t, "Device", *msgs[1].Field)
		assert.Equal(t, []string{"cpu cuda"}, msgs[1].Vals)
	})
}

func TestBindJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	bindTarget := func(body string) (*httptest.ResponseRecorder, error) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest("POST", "/", bytes.NewBufferString(body))
		c.Request.Header.Set("Content-Type", "application/json")
		var p payload
		return w, BindJSON(c, &p)
	}

	t.Run("well formed request binds", func(t *testing.T) {
		w, err := bindTarget(`{"data": {"name": "densenet121"}}`)
		assert.NoError(t, err)
		assert.Empty(t, w.Body.String())
	})

	t.Run("malformed JSON sends the standard error response", func(t *testing.T) {
		w, err := bindTarget(`{"data": `)
		require.Error(t, err)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, ErrorStatus, resp.Status)
		require.Len(t, resp.Messages, 1)
		assert.Equal(t, ErrcodeInvalidJson, resp.Messages[0].ErrCode)
	})
}
