package bodyextract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPlainTextNoQuote(t *testing.T) {
	raw := "Subject: Hi\r\nContent-Type: text/plain\r\n\r\nJust a short note."
	res, err := Extract([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "Just a short note.", res.NewText)
	assert.Empty(t, res.QuotedText)
}

func TestExtractPlainTextWithOriginalMessageSeparator(t *testing.T) {
	body := "My reply here.\n\n-----Original Message-----\nFrom: bob@x.com\nHi there"
	raw := "Content-Type: text/plain\r\n\r\n" + strings.ReplaceAll(body, "\n", "\r\n")
	res, err := Extract([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "My reply here.", res.NewText)
	assert.Contains(t, res.QuotedText, "Original Message")
}

func TestExtractPlainTextTrailingAngleQuotes(t *testing.T) {
	body := "Sounds good.\r\n> previous line one\r\n> previous line two"
	raw := "Content-Type: text/plain\r\n\r\n" + body
	res, err := Extract([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "Sounds good.", res.NewText)
	assert.True(t, strings.HasPrefix(res.QuotedText, ">"))
}

func TestExtractHTMLFallbackSplitsBlockquote(t *testing.T) {
	raw := "Content-Type: text/html\r\n\r\n<p>Hello there</p><blockquote>old stuff</blockquote>"
	res, err := Extract([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "Hello there", res.NewText)
	assert.Equal(t, "old stuff", res.QuotedText)
}

func TestExtractAttachmentsCollected(t *testing.T) {
	raw := strings.Join([]string{
		"Content-Type: multipart/mixed; boundary=B",
		"",
		"--B",
		"Content-Type: text/plain",
		"",
		"body",
		"--B",
		"Content-Type: application/pdf; name=x.pdf",
		"Content-Disposition: attachment; filename=x.pdf",
		"",
		"fakepdf",
		"--B--",
		"",
	}, "\r\n")
	res, err := Extract([]byte(raw))
	require.NoError(t, err)
	require.Len(t, res.Attachments, 1)
	assert.Equal(t, "x.pdf", res.Attachments[0].Filename())
}
