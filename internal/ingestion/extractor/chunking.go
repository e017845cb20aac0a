package extractor

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	excessNewlines = regexp.MustCompile(`\n{3,}`)
	paragraphBreak = regexp.MustCompile(`\n{2,}`)
)

// Chunk splits text into pieces of at most maxChars runes, preferring
// paragraph boundaries, then sentence boundaries, then fixed-size slices.
// Paragraphs inside a chunk are joined by a blank line, sentences by a space
// unless the previous one ends in a full-width terminator.
// Callers reject chunk sizes below their minimum; maxChars <= 0 yields nil.
func Chunk(text string, maxChars int) []string {
	if maxChars <= 0 {
		return nil
	}
	normalized := NormalizeText(text)
	if normalized == "" {
		return nil
	}

	var chunks []string
	var buf strings.Builder
	bufLen := 0
	flush := func() {
		if bufLen == 0 {
			return
		}
		if s := strings.TrimSpace(buf.String()); s != "" {
			chunks = append(chunks, s)
		}
		buf.Reset()
		bufLen = 0
	}

	for _, paragraph := range paragraphBreak.Split(normalized, -1) {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		pl := utf8.RuneCountInString(paragraph)
		if pl <= maxChars {
			if bufLen > 0 && bufLen+2+pl > maxChars {
				flush()
			}
			if bufLen > 0 {
				buf.WriteString("\n\n")
				bufLen += 2
			}
			buf.WriteString(paragraph)
			bufLen += pl
			continue
		}

		flush()
		sentences := splitSentences(paragraph)
		if len(sentences) <= 1 {
			chunks = append(chunks, hardSplit(paragraph, maxChars)...)
			continue
		}
		chunks = append(chunks, packSentences(sentences, maxChars)...)
	}
	flush()
	return chunks
}

// NormalizeText unifies line endings, collapses runs of 3+ newlines to a
// single blank line and trims the result.
func NormalizeText(text string) string {
	s := strings.ReplaceAll(text, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = excessNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func packSentences(sentences []string, maxChars int) []string {
	var out []string
	var buf strings.Builder
	bufLen := 0
	sep := ""
	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			out = append(out, s)
		}
		buf.Reset()
		bufLen = 0
	}
	for _, sentence := range sentences {
		sl := utf8.RuneCountInString(sentence)
		if sl > maxChars {
			flush()
			out = append(out, hardSplit(sentence, maxChars)...)
			continue
		}
		if bufLen > 0 && bufLen+len(sep)+sl > maxChars {
			flush()
		}
		if bufLen > 0 {
			buf.WriteString(sep)
			bufLen += len(sep)
		}
		buf.WriteString(sentence)
		bufLen += sl
		sep = sentenceJoiner(sentence)
	}
	flush()
	return out
}

// sentenceJoiner is what goes between sentence and the next one: nothing
// after a full-width terminator, a space otherwise.
func sentenceJoiner(sentence string) string {
	last, _ := utf8.DecodeLastRuneInString(sentence)
	switch last {
	case '。', '！', '？':
		return ""
	}
	return " "
}

// splitSentences cuts after 。！？.!? when followed by whitespace or the end
// of the paragraph. Terminators packed tightly against the next sentence do
// not cut.
func splitSentences(paragraph string) []string {
	runes := []rune(paragraph)
	var out []string
	start := 0
	emit := func(end int) {
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
	}
	for i := 0; i < len(runes); i++ {
		if !isSentenceEnd(runes[i]) {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		emit(i + 1)
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		start = j
		i = j - 1
	}
	if start < len(runes) {
		emit(len(runes))
	}
	return out
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '.', '!', '?':
		return true
	}
	return false
}

func hardSplit(s string, maxChars int) []string {
	runes := []rune(s)
	out := make([]string, 0, len(runes)/maxChars+1)
	for i := 0; i < len(runes); i += maxChars {
		end := i + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		if part := strings.TrimSpace(string(runes[i:end])); part != "" {
			out = append(out, part)
		}
	}
	return out
}
