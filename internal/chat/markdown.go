package chat

import (
	"strings"
	"unicode/utf8"
)

const MaxErrorLen = 200

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
	"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`,
	"=", `\=`, "|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
)

var linkEscaper = strings.NewReplacer(`\`, `\\`, ")", `\)`)

// Escape makes s safe to embed in a MarkdownV2 message.
func Escape(s string) string {
	return markdownEscaper.Replace(s)
}

// EscapeURL escapes a link target for MarkdownV2 "[label](url)".
func EscapeURL(u string) string {
	return linkEscaper.Replace(u)
}

// Link renders a MarkdownV2 inline link. label must already be escaped.
func Link(label, u string) string {
	return "[" + label + "](" + EscapeURL(u) + ")"
}

// Truncate cuts s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

// ErrorText prepares an error string for display: bounded then escaped.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	return Escape(Truncate(err.Error(), MaxErrorLen))
}
