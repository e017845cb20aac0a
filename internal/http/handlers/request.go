package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/prdsmith-backend/internal/platform/apierr"
)

const multipartMemory = 32 << 20

var errMissingID = apierr.BadRequest("invalid_id", errors.New("id is required"))

type uploadedFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// readUpload reads the multipart "file" field. maxBytes bounds what is read;
// one extra byte is kept so the service can report the real overflow.
func readUpload(c *gin.Context, maxBytes int64) (*uploadedFile, error) {
	if maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartMemory)
	}
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apierr.BadRequest("file_too_large", err)
		}
		return nil, apierr.BadRequest("invalid_multipart_form", err)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, apierr.BadRequest("file_required", err)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, apierr.BadRequest("invalid_file", err)
	}
	defer f.Close()

	var r io.Reader = f
	if maxBytes > 0 {
		r = io.LimitReader(f, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apierr.BadRequest("invalid_file", err)
	}
	return &uploadedFile{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// parseChunkSize returns 0 for an absent value so the service default applies.
func parseChunkSize(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apierr.BadRequest("invalid_chunk_size", fmt.Errorf("chunk_size %q is not an integer", raw))
	}
	return n, nil
}

func parseInt64(name, raw string) (int64, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, apierr.BadRequest("invalid_"+name, fmt.Errorf("%s %q is not an integer", name, raw))
	}
	return n, true, nil
}

func isJSON(c *gin.Context) bool {
	return strings.HasPrefix(strings.ToLower(c.ContentType()), "application/json")
}
