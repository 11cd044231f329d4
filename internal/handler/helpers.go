package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ctxcache/internal/ai"
	"github.com/xxxsen/ctxcache/internal/pkg/errcode"
	appErr "github.com/xxxsen/ctxcache/internal/pkg/errors"
	"github.com/xxxsen/ctxcache/internal/pkg/response"
)

// errorCode maps a service error to its wire code. Typed provider errors win over
// the sentinels they may wrap.
func errorCode(err error) (int, string) {
	var capErr *ai.CapacityError
	var denied *ai.FallbackDeniedError
	var upstream *ai.UpstreamError
	switch {
	case errors.As(err, &capErr):
		return errcode.ErrCapacity, err.Error()
	case errors.As(err, &denied):
		return errcode.ErrFallbackDenied, err.Error()
	case errors.Is(err, appErr.ErrTimeout):
		return errcode.ErrTimeout, "provider timed out"
	case errors.As(err, &upstream):
		return errcode.ErrUpstream, err.Error()
	case errors.Is(err, appErr.ErrUnavailable):
		return errcode.ErrAIUnavailable, "provider unavailable"
	case errors.Is(err, appErr.ErrNotFound):
		return errcode.ErrNotFound, "not found"
	case errors.Is(err, appErr.ErrInvalid):
		return errcode.ErrInvalid, err.Error()
	case errors.Is(err, appErr.ErrConflict):
		return errcode.ErrConflict, "conflict"
	case errors.Is(err, appErr.ErrTooMany):
		return errcode.ErrTooMany, "too many requests"
	default:
		return errcode.ErrInternal, "internal error"
	}
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	code, msg := errorCode(err)
	logger := logutil.GetLogger(c.Request.Context()).With(
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("code", code),
	)
	if code == errcode.ErrInternal {
		logger.Error("request failed", zap.Error(err))
	} else {
		logger.Warn("request rejected", zap.Error(err))
	}
	response.Error(c, code, msg)
}

func invalidRequest(c *gin.Context, msg string) {
	response.Error(c, errcode.ErrInvalid, msg)
}
