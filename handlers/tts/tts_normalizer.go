package tts

import (
	"regexp"
	"strings"
)

// normalizeTextForTTS turns rendered markdown into plain speakable text.
func normalizeTextForTTS(text string) string {
	text = codeFenceRegex.ReplaceAllString(text, " ")
	text = linkRegex.ReplaceAllString(text, "$1")
	text = headingRegex.ReplaceAllString(text, "")
	text = listMarkerRegex.ReplaceAllString(text, "")
	text = markdownReplacer.Replace(text)
	text = emojiRegex.ReplaceAllString(text, "")
	text = multipleSpacesRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

var markdownReplacer = strings.NewReplacer(
	"**", "", // bold
	"__", "", // underline
	"~~", "", // strikethrough
	"`", "", // inline code
	"*", "", // italic
)

// Combining marks (\p{M}) must survive: Devanagari vowel signs are marks.
var (
	codeFenceRegex      = regexp.MustCompile("(?s)```.*?```")
	linkRegex           = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)
	headingRegex        = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`)
	listMarkerRegex     = regexp.MustCompile(`(?m)^\s*(?:[-+]|\d+\.)\s+`)
	emojiRegex          = regexp.MustCompile(`[\p{So}\p{Cs}\x{FE0F}\x{200D}]`)
	multipleSpacesRegex = regexp.MustCompile(`\s+`)
)
