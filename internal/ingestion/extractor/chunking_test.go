package extractor

import (
	"math/rand"
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"
)

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func TestChunkEmptyAndInvalidSize(t *testing.T) {
	if got := Chunk("", 500); len(got) != 0 {
		t.Fatalf("empty input: want no chunks got=%d", len(got))
	}
	if got := Chunk("   \n\n\t ", 500); len(got) != 0 {
		t.Fatalf("whitespace input: want no chunks got=%d", len(got))
	}
	if got := Chunk("hello", 0); got != nil {
		t.Fatalf("zero size: want nil got=%v", got)
	}
}

func TestChunkPacksParagraphs(t *testing.T) {
	p := strings.Repeat("x", 999)
	text := strings.Join([]string{p, p, p, p, p}, "\n\n\n\n")
	chunks := Chunk(text, 2000)
	if len(chunks) != 3 {
		t.Fatalf("paragraph packing: want=3 got=%d", len(chunks))
	}
	if chunks[0] != p+"\n\n"+p {
		t.Fatalf("first chunk should hold two paragraphs joined by a blank line")
	}
}

func TestChunkHardSplitsSingleSentence(t *testing.T) {
	chunks := Chunk(strings.Repeat("a", 5000), 2000)
	if len(chunks) != 3 {
		t.Fatalf("hard split: want=3 got=%d", len(chunks))
	}
	for i, want := range []int{2000, 2000, 1000} {
		if got := utf8.RuneCountInString(chunks[i]); got != want {
			t.Fatalf("chunk %d: want len=%d got=%d", i, want, got)
		}
	}
}

func TestChunkSplitsSentences(t *testing.T) {
	text := "First sentence here. Second one is longer! Third? Fourth."
	chunks := Chunk(text, 25)
	want := []string{"First sentence here.", "Second one is longer!", "Third? Fourth."}
	if len(chunks) != len(want) {
		t.Fatalf("sentence split: want=%v got=%v", want, chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Fatalf("chunk %d: want=%q got=%q", i, want[i], chunks[i])
		}
	}
}

func TestChunkCJKSentences(t *testing.T) {
	text := strings.Repeat("这是一个测试句子。\n", 30)
	chunks := Chunk(text, 200)
	if len(chunks) < 2 {
		t.Fatalf("cjk split: want multiple chunks got=%d", len(chunks))
	}
	for i, c := range chunks {
		if !strings.HasSuffix(c, "。") {
			t.Fatalf("chunk %d should end on a sentence boundary: %q", i, c)
		}
		if strings.ContainsAny(c, " \n") {
			t.Fatalf("chunk %d: cjk sentences must be joined without spaces: %q", i, c)
		}
	}
}

func TestChunkCJKTerminatorNeedsWhitespace(t *testing.T) {
	cases := []struct {
		text string
		max  int
		want []string
	}{
		{"甲乙丙丁。戊己庚辛。壬癸子丑。", 10, []string{"甲乙丙丁。戊己庚辛。", "壬癸子丑。"}},
		{"甲乙丙。 丁戊己。 庚辛壬。", 8, []string{"甲乙丙。丁戊己。", "庚辛壬。"}},
		{"好的！真的吗？ 是的。", 7, []string{"好的！真的吗？", "是的。"}},
	}
	for _, tc := range cases {
		got := Chunk(tc.text, tc.max)
		if len(got) != len(tc.want) {
			t.Fatalf("Chunk(%q, %d): want=%q got=%q", tc.text, tc.max, tc.want, got)
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Fatalf("Chunk(%q, %d) chunk %d: want=%q got=%q", tc.text, tc.max, i, tc.want[i], got[i])
			}
		}
	}
}

func TestSplitSentencesOnlyBeforeWhitespace(t *testing.T) {
	got := splitSentences("一。二。 三！四? five.six. seven")
	want := []string{"一。二。", "三！四?", "five.six.", "seven"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("splitSentences: want=%q got=%q", want, got)
	}
}

func TestChunkProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []rune("abcdefg hij。klm.nop!qr?s  \n\n\n中文字符\r\n")
	for iter := 0; iter < 200; iter++ {
		n := rng.Intn(4000)
		var b strings.Builder
		for i := 0; i < n; i++ {
			b.WriteRune(alphabet[rng.Intn(len(alphabet))])
		}
		text := b.String()
		max := 1 + rng.Intn(400)

		chunks := Chunk(text, max)
		for i, c := range chunks {
			if strings.TrimSpace(c) == "" {
				t.Fatalf("iter %d: chunk %d is empty", iter, i)
			}
			if l := utf8.RuneCountInString(c); l > max {
				t.Fatalf("iter %d: chunk %d has %d runes, max %d", iter, i, l, max)
			}
		}
		if got, want := stripSpace(strings.Join(chunks, "")), stripSpace(NormalizeText(text)); got != want {
			t.Fatalf("iter %d: content changed across chunking", iter)
		}
	}
}

func TestNormalizeText(t *testing.T) {
	got := NormalizeText("  a\r\nb\r\r\r\rc  ")
	if got != "a\nb\n\nc" {
		t.Fatalf("NormalizeText: got=%q", got)
	}
}
