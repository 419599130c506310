package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/hopper-driver/internal/errors"
)

// Response 统一响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody 错误信息
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Success 返回成功响应
func Success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Fail 按错误码返回失败响应并中止后续处理
func Fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	body := &ErrorBody{
		Code:    int(apperrors.ErrUnknown),
		Message: err.Error(),
	}

	if appErr, ok := apperrors.As(err); ok {
		status = appErr.HTTPStatus()
		body = &ErrorBody{
			Code:    int(appErr.Code),
			Message: appErr.Message,
			Details: appErr.Details,
		}
	}

	c.AbortWithStatusJSON(status, Response{Success: false, Error: body})
}
