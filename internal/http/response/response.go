package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/prdsmith-backend/internal/ingestion/extractor"
	"github.com/yungbote/prdsmith-backend/internal/platform/apierr"
	"github.com/yungbote/prdsmith-backend/internal/platform/sessionfs"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondAPIError maps a service error onto a status and code. Anything not
// classified is reported as 500 internal_error.
func RespondAPIError(c *gin.Context, err error) {
	status, code := Classify(err)
	RespondError(c, status, code, err)
}

func Classify(err error) (int, string) {
	if ae, ok := apierr.As(err); ok {
		status := ae.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		code := ae.Code
		if code == "" {
			code = "internal_error"
		}
		return status, code
	}
	switch {
	case errors.Is(err, sessionfs.ErrInvalidName), errors.Is(err, sessionfs.ErrOutsideBase):
		return http.StatusBadRequest, "invalid_path"
	case errors.Is(err, extractor.ErrUnsupported):
		return http.StatusBadRequest, "unsupported_file_type"
	case errors.Is(err, extractor.ErrEmptyFile):
		return http.StatusBadRequest, "empty_file"
	case errors.Is(err, extractor.ErrFormat):
		return http.StatusBadRequest, "extraction_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
