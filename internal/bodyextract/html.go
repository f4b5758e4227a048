package bodyextract

import (
	"strings"

	"golang.org/x/net/html"
)

var skipElements = map[string]bool{
	"script": true, "style": true, "head": true, "noscript": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "li": true, "blockquote": true,
	"pre": true, "table": true, "tr": true, "td": true, "th": true,
	"section": true, "article": true, "header": true, "footer": true,
}

// quotedIDs/quotedClasses select the DOM nodes spec.md section 4.3 treats
// as quoted/forwarded context when splitting HTML bodies.
var quotedClasses = map[string]bool{
	"gmail_quote": true, "yahoo_quoted": true,
}

var quotedIDs = map[string]bool{
	"divRplyFwdMsg": true,
}

// PlainTextFromHTML extracts the full plain-text content of an HTML
// document, new and quoted regions concatenated, for contexts (e.g.
// attachment text extraction) where the new/quoted split is not
// meaningful.
func PlainTextFromHTML(htmlBody string) string {
	newText, quotedText := htmlSplit(htmlBody)
	if quotedText == "" {
		return newText
	}
	if newText == "" {
		return quotedText
	}
	return newText + "\n\n" + quotedText
}

// htmlSplit tokenizes HTML and emits two plain-text buffers: text outside
// any quoted-region selector, and text inside one (spec.md section 4.3:
// "Split HTML by selecting blockquote, .gmail_quote, .yahoo_quoted,
// #divRplyFwdMsg nodes as quoted and the remainder as new").
func htmlSplit(htmlBody string) (newText, quotedText string) {
	tokenizer := html.NewTokenizer(strings.NewReader(htmlBody))

	var newBuf, quotedBuf strings.Builder
	var skipDepth int
	var quoteDepth int
	quoteStack := make([]bool, 0, 8)
	var lastSpaceNew, lastSpaceQuoted bool
	var hasOutputNew, hasOutputQuoted bool

	writeSpace := func() {
		if quoteDepth > 0 {
			if hasOutputQuoted && !lastSpaceQuoted {
				quotedBuf.WriteByte(' ')
				lastSpaceQuoted = true
			}
			return
		}
		if hasOutputNew && !lastSpaceNew {
			newBuf.WriteByte(' ')
			lastSpaceNew = true
		}
	}

	writeText := func(text []byte) {
		for _, b := range text {
			isSpace := b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f'
			if isSpace {
				writeSpace()
				continue
			}
			if quoteDepth > 0 {
				quotedBuf.WriteByte(b)
				lastSpaceQuoted = false
				hasOutputQuoted = true
			} else {
				newBuf.WriteByte(b)
				lastSpaceNew = false
				hasOutputNew = true
			}
		}
	}

	isQuotedNode := func(tagName string, z *html.Tokenizer, hasAttr bool) bool {
		if tagName == "blockquote" {
			return true
		}
		if !hasAttr {
			return false
		}
		for {
			key, val, more := z.TagAttr()
			switch string(key) {
			case "class":
				for _, c := range strings.Fields(string(val)) {
					if quotedClasses[c] {
						return true
					}
				}
			case "id":
				if quotedIDs[string(val)] {
					return true
				}
			}
			if !more {
				break
			}
		}
		return false
	}

loop:
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			break loop

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			quoted := isQuotedNode(tagName, tokenizer, hasAttr)
			quoteStack = append(quoteStack, quoted)
			if quoted {
				quoteDepth++
			}

			if skipElements[tagName] {
				skipDepth++
			}
			if tagName == "br" {
				writeSpace()
			}
			if blockElements[tagName] {
				writeSpace()
			}
			// Void elements (<br>, <img>, ...) never get an end tag, so they
			// are popped right away just like self-closing tags.
			isVoid := tagName == "br" || tagName == "img" || tagName == "hr" ||
				tagName == "wbr" || tagName == "input" || tagName == "meta" || tagName == "link"
			if tt == html.SelfClosingTagToken || isVoid {
				if len(quoteStack) > 0 {
					last := quoteStack[len(quoteStack)-1]
					quoteStack = quoteStack[:len(quoteStack)-1]
					if last {
						quoteDepth--
					}
				}
				if skipElements[tagName] && skipDepth > 0 {
					skipDepth--
				}
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			tagName := string(tn)

			if blockElements[tagName] {
				writeSpace()
			}
			if skipElements[tagName] && skipDepth > 0 {
				skipDepth--
			}
			if len(quoteStack) > 0 {
				last := quoteStack[len(quoteStack)-1]
				quoteStack = quoteStack[:len(quoteStack)-1]
				if last && quoteDepth > 0 {
					quoteDepth--
				}
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			writeText(tokenizer.Text())
		}
	}

	return strings.TrimSpace(newBuf.String()), strings.TrimSpace(quotedBuf.String())
}
