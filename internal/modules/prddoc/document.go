package prddoc

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	summaryPreviewRunes  = 200
	fallbackExcerptRunes = 300
	FallbackMarker       = "[fallback]"
)

var prdKeywords = []string{
	"背景", "目标", "愿景", "用户故事", "关键模块", "核心流程", "竞品", "需求", "功能",
	"background", "goal", "vision", "user stor", "requirement", "feature", "scope", "competit",
}

// StripCodeFence unwraps a response the model wrapped in a single ``` block.
func StripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") || !strings.HasSuffix(t, "```") || len(t) < 6 {
		return t
	}
	body := strings.TrimSuffix(t, "```")
	nl := strings.IndexByte(body, '\n')
	if nl < 0 {
		return t
	}
	return strings.TrimSpace(body[nl+1:])
}

// LooksLikePRD accepts a model response as a document rather than chatter:
// it opens with a heading, carries several headings, or is long and mentions
// several PRD dimensions.
func LooksLikePRD(doc string) bool {
	d := strings.TrimSpace(doc)
	if d == "" {
		return false
	}
	if strings.HasPrefix(d, "#") {
		return true
	}
	headings := 0
	for _, line := range strings.Split(d, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			headings++
		}
	}
	if headings >= 3 {
		return true
	}
	if utf8.RuneCountInString(d) < summaryPreviewRunes {
		return false
	}
	lower := strings.ToLower(d)
	hits := 0
	for _, kw := range prdKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return hits >= 3
}

// AppendNewPoints keeps previous verbatim and adds a dated section of the
// new summaries after it.
func AppendNewPoints(previous string, items []Summary, now time.Time) string {
	section := "## 新增要点（" + now.Format("2006-01-02 15:04") + "）\n\n" + JoinSummaries(items) + "\n"
	switch {
	case previous == "":
		return section
	case strings.HasSuffix(previous, "\n\n"):
		return previous + section
	case strings.HasSuffix(previous, "\n"):
		return previous + "\n" + section
	default:
		return previous + "\n\n" + section
	}
}

// TemplatePRD is the skeleton used when there is no previous PRD and the
// model produced nothing usable.
func TemplatePRD(sessionID string, items []Summary) string {
	var b strings.Builder
	b.WriteString("# " + DefaultTitle(sessionID) + "\n\n")
	for _, dim := range Dimensions {
		b.WriteString("## " + dim + "\n\n【待澄清】\n\n")
	}
	b.WriteString("## 原始要点\n\n")
	b.WriteString(JoinSummaries(items))
	b.WriteString("\n")
	return b.String()
}

// FallbackPRD is the deterministic document written when generation fails.
func FallbackPRD(sessionID, previous string, items []Summary, now time.Time) string {
	if strings.TrimSpace(previous) == "" {
		return TemplatePRD(sessionID, items)
	}
	return AppendNewPoints(previous, items, now)
}

// FallbackChunkSummary stands in for a chunk summary the model could not
// produce. It is prefixed with FallbackMarker so readers can tell.
func FallbackChunkSummary(chunkIndex int, chunkText, reason string) string {
	excerpt := strings.TrimSpace(chunkText)
	if utf8.RuneCountInString(excerpt) > fallbackExcerptRunes {
		excerpt = string([]rune(excerpt)[:fallbackExcerptRunes]) + "..."
	}
	return fmt.Sprintf("%s 第 %d 块自动总结不可用（%s），原文摘录：\n\n%s\n", FallbackMarker, chunkIndex, reason, excerpt)
}

func DefaultTitle(sessionID string) string {
	return "PRD-" + sessionID
}

// DeriveTitle returns the text of the first markdown heading, or the default
// title for the session.
func DeriveTitle(doc, sessionID string) string {
	for _, line := range strings.Split(doc, "\n") {
		l := strings.TrimSpace(line)
		if !strings.HasPrefix(l, "#") {
			continue
		}
		if title := strings.TrimSpace(strings.TrimLeft(l, "#")); title != "" {
			return title
		}
	}
	return DefaultTitle(sessionID)
}

// DeriveSummary is a single-line preview: the first 200 characters, with an
// ellipsis when the document is longer.
func DeriveSummary(doc string) string {
	d := strings.TrimSpace(doc)
	flat := func(s string) string {
		return strings.ReplaceAll(strings.ReplaceAll(s, "\r", ""), "\n", " ")
	}
	if utf8.RuneCountInString(d) <= summaryPreviewRunes {
		return flat(d)
	}
	return flat(string([]rune(d)[:summaryPreviewRunes])) + "..."
}
