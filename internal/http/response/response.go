package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/workspace-core/internal/platform/apierr"
)

// ErrorEnvelope is the body of every failed request:
// {"error":{"message":"...","code":"..."}}.
type ErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

var errInternal = errors.New("internal error")

func RespondError(c *gin.Context, status int, code string, err error) {
	var env ErrorEnvelope
	env.Error.Message = "unknown error"
	if err != nil {
		env.Error.Message = err.Error()
	}
	env.Error.Code = code
	c.JSON(status, env)
}

// RespondAPIError maps a coded error onto the envelope. Internal failures
// are attached to the gin context for the request log and never reach the
// caller.
func RespondAPIError(c *gin.Context, err error) {
	code := apierr.CodeOf(err)
	if code == apierr.CodeInternal {
		_ = c.Error(err)
		err = errInternal
	}
	RespondError(c, apierr.HTTPStatus(code), string(code), err)
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}
