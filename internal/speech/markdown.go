// Package speech prepares assistant text for text-to-speech synthesis.
package speech

import (
	"regexp"
	"strings"
)

// Markdown decoration reads badly when spoken aloud, so it is stripped or
// rewritten as natural phrases before the text reaches a synthesizer.
var (
	reCodeBlock  = regexp.MustCompile("(?s)```.*?```")
	reInlineCode = regexp.MustCompile("`([^`]+)`")
	reBold       = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	reItalic     = regexp.MustCompile(`\*([^*]+)\*`)
	reBoldUnder  = regexp.MustCompile(`__([^_]+)__`)
	reItalUnder  = regexp.MustCompile(`_([^_]+)_`)
	reStrike     = regexp.MustCompile(`~~([^~]+)~~`)
	reH1         = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	reH2         = regexp.MustCompile(`(?m)^##\s+(.+)$`)
	reHN         = regexp.MustCompile(`(?m)^#{3,}\s+(.+)$`)
	reImage      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	reLink       = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	reBullet     = regexp.MustCompile(`(?m)^\s*[-*+]\s+(.+)$`)
	reOrdered    = regexp.MustCompile(`(?m)^\s*\d+\.\s+(.+)$`)
	reQuote      = regexp.MustCompile(`(?m)^>\s+(.+)$`)
	reRule       = regexp.MustCompile(`(?m)^[-*_]{3,}$`)
	reTableSep   = regexp.MustCompile(`\|[-: ]+\|`)
	reTableCell  = regexp.MustCompile(`\|([^|\n]+)\|?`)
	reHTMLTag    = regexp.MustCompile(`<[^>]*>`)
	reParagraph  = regexp.MustCompile(`\n{2,}`)
	reSpaces     = regexp.MustCompile(`\s{2,}`)
)

var symbolWords = []struct {
	from string
	to   string
}{
	{"&", " và "},
	{"@", " at "},
	{"%", " phần trăm "},
	{"$", " đô la "},
}

// Sanitize converts markdown-decorated assistant text into plain speakable
// text. Empty input stays empty.
func Sanitize(markdown string) string {
	if markdown == "" {
		return ""
	}
	text := markdown

	text = reCodeBlock.ReplaceAllString(text, " [khối mã] ")
	text = reInlineCode.ReplaceAllString(text, " $1 ")
	text = reBold.ReplaceAllString(text, "$1")
	text = reItalic.ReplaceAllString(text, "$1")
	text = reBoldUnder.ReplaceAllString(text, "$1")
	text = reItalUnder.ReplaceAllString(text, "$1")
	text = reStrike.ReplaceAllString(text, "$1")

	text = reH1.ReplaceAllString(text, "Tiêu đề chính: $1.")
	text = reH2.ReplaceAllString(text, "Tiêu đề phụ: $1.")
	text = reHN.ReplaceAllString(text, "Mục: $1.")

	// Images before links: both share the bracket syntax.
	text = reImage.ReplaceAllStringFunc(text, func(m string) string {
		alt := reImage.FindStringSubmatch(m)[1]
		if alt == "" {
			return "hình ảnh"
		}
		return "hình ảnh " + alt
	})
	text = reLink.ReplaceAllString(text, "liên kết $1")

	text = reBullet.ReplaceAllString(text, "Mục danh sách: $1.")
	text = reOrdered.ReplaceAllString(text, "Mục số: $1.")
	text = reQuote.ReplaceAllString(text, "Trích dẫn: $1.")
	text = reRule.ReplaceAllString(text, "Đường phân cách.")

	text = reTableSep.ReplaceAllString(text, "")
	text = reTableCell.ReplaceAllString(text, "$1 ")

	text = reHTMLTag.ReplaceAllString(text, "")

	text = reParagraph.ReplaceAllString(text, ". ")
	text = strings.ReplaceAll(text, "\n", " ")

	for _, s := range symbolWords {
		text = strings.ReplaceAll(text, s.from, s.to)
	}

	text = reSpaces.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
