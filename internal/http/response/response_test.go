package response

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/yungbote/prdsmith-backend/internal/ingestion/extractor"
	"github.com/yungbote/prdsmith-backend/internal/platform/apierr"
	"github.com/yungbote/prdsmith-backend/internal/platform/sessionfs"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apierr.NotFound("task_not_found", errors.New("missing")), http.StatusNotFound, "task_not_found"},
		{fmt.Errorf("wrapped: %w", apierr.Unavailable("chat_unavailable", nil)), http.StatusServiceUnavailable, "chat_unavailable"},
		{fmt.Errorf("resolve: %w", sessionfs.ErrOutsideBase), http.StatusBadRequest, "invalid_path"},
		{extractor.ErrUnsupported, http.StatusBadRequest, "unsupported_file_type"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for i, tc := range cases {
		status, code := Classify(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("case %d: want=%d/%s got=%d/%s", i, tc.status, tc.code, status, code)
		}
	}
}
