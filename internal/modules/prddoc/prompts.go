package prddoc

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrPromptBudget = errors.New("prompt budget leaves no room for content")

const DefaultMaxInputBytes = 800000

// Dimensions are the sections every generated PRD is expected to cover.
var Dimensions = []string{"背景", "目标&愿景", "用户故事", "关键模块/特征", "核心流程", "竞品分析"}

// Summary is one unit of material folded into the PRD. ChunkIndex is 0 for
// chat digests.
type Summary struct {
	ChunkIndex int
	Content    string
}

// TrimToUTF8Bytes cuts s to at most maxBytes bytes of UTF-8, keeping the head
// or (fromEnd) the tail. A rune split by the cut is dropped.
func TrimToUTF8Bytes(s string, maxBytes int, fromEnd bool) string {
	if s == "" || maxBytes <= 0 {
		return ""
	}
	if len(s) <= maxBytes {
		return s
	}
	var cut string
	if fromEnd {
		cut = s[len(s)-maxBytes:]
	} else {
		cut = s[:maxBytes]
	}
	return strings.ToValidUTF8(cut, "")
}

// BuildChunkSummaryPrompt frames one chunk for the summarizer. The chunk
// keeps its tail when the whole prompt would exceed maxBytes.
func BuildChunkSummaryPrompt(chunkText string, chunkIndex int, filename string, maxBytes int) (string, error) {
	header := fmt.Sprintf(
		"请阅读以下文档片段（文件：%s，第 %d 块），提炼其中与产品需求相关的要点（要点化，不超过10条）。\n"+
			"只输出总结内容，不要输出 PRD。\n\n文档片段:\n",
		filename, chunkIndex,
	)
	footer := "\n"
	budget := maxBytes - len(header) - len(footer)
	if budget <= 0 {
		return "", fmt.Errorf("%w: header alone needs %d bytes, budget is %d", ErrPromptBudget, len(header)+len(footer), maxBytes)
	}
	body := strings.TrimSpace(chunkText)
	if body == "" {
		return "", fmt.Errorf("%w: chunk %d is empty", ErrPromptBudget, chunkIndex)
	}
	body = TrimToUTF8Bytes(body, budget, true)
	if strings.TrimSpace(body) == "" {
		return "", fmt.Errorf("%w: chunk %d does not fit in %d bytes", ErrPromptBudget, chunkIndex, budget)
	}
	return header + body + footer, nil
}

// BuildChatDigestPrompt summarizes a window of chat lines. It returns "" when
// there is nothing to summarize or no room for it.
func BuildChatDigestPrompt(history string, window time.Duration, maxBytes int) string {
	header := fmt.Sprintf(
		"请根据最近 %d 秒内的对话生成简明总结（要点化，不超过10条）。\n只输出总结内容，不要输出 PRD。\n\n对话记录:\n",
		int(window.Seconds()),
	)
	footer := "\n"
	budget := maxBytes - len(header) - len(footer)
	if budget <= 0 {
		return ""
	}
	body := strings.TrimSpace(history)
	if body == "" {
		return ""
	}
	body = TrimToUTF8Bytes(body, budget, true)
	if strings.TrimSpace(body) == "" {
		return ""
	}
	return header + body + footer
}

// BuildPRDPrompt asks for a regenerated PRD. Summaries win the budget: when
// they alone do not fit, their tail is kept and the previous PRD is dropped;
// otherwise the previous PRD keeps its tail within what is left.
func BuildPRDPrompt(previousPRD string, summaries string, maxBytes int) (string, error) {
	header := "你是PRD文档生成专家，请输出完整 PRD markdown 文档。\n" +
		"PRD应包含：" + strings.Join(Dimensions, "、") + "。\n\n" +
		"上一版PRD（可能为空）:\n"
	mid := "\n\n新增分段总结:\n"
	tail := "\n\n要求：\n" +
		"1) 在上一版PRD基础上融合新增信息，生成完整PRD。\n" +
		"2) 对不明确/待澄清事项，请在条目前加前缀：【待澄清】。\n" +
		"3) 输出完整PRD markdown，以一级标题开头，不要解释说明。\n"

	summaries = strings.TrimSpace(summaries)
	if summaries == "" {
		return "", fmt.Errorf("%w: no summaries to fold", ErrPromptBudget)
	}
	budget := maxBytes - len(header) - len(mid) - len(tail)
	if budget <= 0 {
		return "", fmt.Errorf("%w: prd frame needs %d bytes, budget is %d", ErrPromptBudget, len(header)+len(mid)+len(tail), maxBytes)
	}
	previousPRD = strings.TrimSpace(previousPRD)

	var keptSummaries, keptPRD string
	if len(summaries) >= budget {
		keptSummaries = TrimToUTF8Bytes(summaries, budget, true)
	} else {
		keptSummaries = summaries
		if remaining := budget - len(keptSummaries); remaining > 0 {
			keptPRD = TrimToUTF8Bytes(previousPRD, remaining, true)
		}
	}
	if strings.TrimSpace(keptSummaries) == "" {
		return "", fmt.Errorf("%w: summaries do not fit in %d bytes", ErrPromptBudget, budget)
	}
	return header + keptPRD + mid + keptSummaries + tail, nil
}

// JoinSummaries renders summaries as labelled blocks in the given order.
func JoinSummaries(items []Summary) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		body := strings.TrimSpace(it.Content)
		if body == "" {
			continue
		}
		parts = append(parts, summaryLabel(it)+"\n"+body)
	}
	return strings.Join(parts, "\n\n")
}

func summaryLabel(it Summary) string {
	if it.ChunkIndex <= 0 {
		return "### 对话纪要"
	}
	return fmt.Sprintf("### 第 %d 块", it.ChunkIndex)
}
