package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"

	"github.com/xxxsen/ctxcache/internal/pkg/errcode"
)

type codeErr struct {
	code uint32
	msg  string
}

func (e codeErr) Error() string {
	return e.msg
}

func (e codeErr) Code() uint32 {
	return e.code
}

func AsCodeErr(code uint32, msg string) error {
	return codeErr{code: code, msg: msg}
}

var statusByCode = map[int]int{
	errcode.ErrNotFound:       http.StatusNotFound,
	errcode.ErrInvalid:        http.StatusBadRequest,
	errcode.ErrConflict:       http.StatusConflict,
	errcode.ErrTooMany:        http.StatusTooManyRequests,
	errcode.ErrCapacity:       http.StatusRequestEntityTooLarge,
	errcode.ErrFallbackDenied: http.StatusForbidden,
	errcode.ErrUpstream:       http.StatusBadGateway,
	errcode.ErrTimeout:        http.StatusGatewayTimeout,
	errcode.ErrAIUnavailable:  http.StatusServiceUnavailable,
}

// StatusOf returns the HTTP status written alongside an error code.
func StatusOf(code int) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

func Error(c *gin.Context, code int, message string) {
	proxyutil.FailJson(c, StatusOf(code), AsCodeErr(uint32(code), message))
}
