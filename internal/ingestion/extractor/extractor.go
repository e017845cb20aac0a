package extractor

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

var (
	ErrUnsupported = errors.New("unsupported file type")
	ErrFormat      = errors.New("invalid document format")
	ErrEmptyFile   = errors.New("empty file")
)

type Kind string

const (
	KindText    Kind = "text"
	KindPDF     Kind = "pdf"
	KindDOCX    Kind = "docx"
	KindBinary  Kind = "binary"
	KindUnknown Kind = "unknown"
)

const docxMime = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

var textExts = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".json":     true,
	".log":      true,
}

// Classify picks an extraction strategy from the filename extension and the
// declared content type. First match wins.
func Classify(filename, contentType string) Kind {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	mt := mediaType(contentType)
	switch {
	case textExts[ext] || strings.HasPrefix(mt, "text/"):
		return KindText
	case ext == ".pdf" || mt == "application/pdf":
		return KindPDF
	case ext == ".docx" || mt == docxMime:
		return KindDOCX
	case mt == "" || mt == "application/octet-stream":
		return KindBinary
	default:
		return KindUnknown
	}
}

// ExtractText returns the document text, trimmed. Errors wrap ErrUnsupported,
// ErrFormat or ErrEmptyFile.
func ExtractText(filename, contentType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyFile
	}
	kind := Classify(filename, contentType)
	switch kind {
	case KindText:
		return strings.TrimSpace(DecodeBytes(data)), nil
	case KindPDF:
		text, err := extractPDF(data)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(text), nil
	case KindDOCX:
		text, err := extractDOCX(data)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(text), nil
	case KindBinary:
		if text := strings.TrimSpace(stripControl(DecodeBytes(data))); text != "" {
			return text, nil
		}
	}
	return "", fmt.Errorf("%w: name=%s content_type=%s", ErrUnsupported, filename, contentType)
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

func mediaType(contentType string) string {
	ct := strings.TrimSpace(contentType)
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(ct)
	}
	return strings.ToLower(mt)
}
