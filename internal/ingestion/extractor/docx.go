package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

const docxMainPart = "word/document.xml"

// extractDOCX reads the main document part plus headers and footers, one
// paragraph per line.
func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: docx archive: %v", ErrFormat, err)
	}

	var main *zip.File
	var extras []*zip.File
	for _, f := range zr.File {
		switch {
		case f.Name == docxMainPart:
			main = f
		case isDocxHeaderFooter(f.Name):
			extras = append(extras, f)
		}
	}
	if main == nil {
		return "", fmt.Errorf("%w: docx missing %s", ErrFormat, docxMainPart)
	}
	sort.Slice(extras, func(i, j int) bool { return extras[i].Name < extras[j].Name })

	var lines []string
	for _, f := range append([]*zip.File{main}, extras...) {
		paras, err := readDocxPart(f)
		if err != nil {
			return "", err
		}
		lines = append(lines, paras...)
	}
	return strings.Join(lines, "\n"), nil
}

func isDocxHeaderFooter(name string) bool {
	if !strings.HasPrefix(name, "word/") || !strings.HasSuffix(name, ".xml") {
		return false
	}
	base := strings.TrimPrefix(name, "word/")
	if strings.Contains(base, "/") {
		return false
	}
	return strings.HasPrefix(base, "header") || strings.HasPrefix(base, "footer")
}

func readDocxPart(f *zip.File) ([]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrFormat, f.Name, err)
	}
	defer rc.Close()
	paras, err := docxParagraphs(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrFormat, f.Name, err)
	}
	return paras, nil
}

// docxParagraphs concatenates w:t runs per w:p. Tabs and breaks inside a
// paragraph are kept as \t and \n.
func docxParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var out []string
	var stack []*strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				stack = append(stack, &strings.Builder{})
			case "t":
				inText = true
			case "tab":
				if len(stack) > 0 {
					stack[len(stack)-1].WriteByte('\t')
				}
			case "br", "cr":
				if len(stack) > 0 {
					stack[len(stack)-1].WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				if len(stack) == 0 {
					continue
				}
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				out = append(out, top.String())
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText && len(stack) > 0 {
				stack[len(stack)-1].Write(t)
			}
		}
	}
	return out, nil
}
