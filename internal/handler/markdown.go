package handler

import (
	"bytes"
	htmlstd "html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	markdownEngine = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	notesSanitizer = bluemonday.UGCPolicy()
	textSanitizer  = bluemonday.StrictPolicy()
)

// sanitizeText 去除用户输入中的全部标签，保留普通文本字符
func sanitizeText(value string) string {
	return strings.TrimSpace(htmlstd.UnescapeString(textSanitizer.Sanitize(value)))
}

// renderNotes 将备注 Markdown 渲染为安全的 HTML
func renderNotes(notes string) (string, error) {
	if strings.TrimSpace(notes) == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := markdownEngine.Convert([]byte(notes), &buf); err != nil {
		return "", err
	}
	return string(notesSanitizer.SanitizeBytes(buf.Bytes())), nil
}
