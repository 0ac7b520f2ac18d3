package connectors

import (
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultChunkSize is the maximum characters of page text per extraction call.
const DefaultChunkSize = 6000

// Elements whose content is never article text.
var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Iframe:   true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Form:     true,
}

// Elements that end a line of text.
var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Article: true, atom.Section: true, atom.Blockquote: true, atom.Pre: true,
	atom.Table: true, atom.Ul: true, atom.Ol: true, atom.Dd: true, atom.Dt: true,
}

// HTMLToText strips markup from an HTML document and returns its visible
// text, one block per line.
func HTMLToText(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var b strings.Builder
	skipDepth := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return normalizeLines(b.String()), nil
			}
			return "", z.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := atom.Lookup(name)
			if skippedElements[tag] && tt == html.StartTagToken {
				skipDepth++
			}
			if blockElements[tag] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := atom.Lookup(name)
			if skippedElements[tag] && skipDepth > 0 {
				skipDepth--
			}
			if blockElements[tag] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}

// normalizeLines collapses whitespace within lines and drops blank lines.
func normalizeLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if l := strings.Join(strings.Fields(line), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// ChunkText splits text into pieces of at most size characters, breaking at
// line boundaries where possible and at word boundaries otherwise.
func ChunkText(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	add := func(piece string, sep string) {
		n := utf8.RuneCountInString(piece)
		if curLen > 0 && curLen+len(sep)+n > size {
			flush()
		}
		if curLen > 0 {
			cur.WriteString(sep)
			curLen += len(sep)
		}
		cur.WriteString(piece)
		curLen += n
	}

	for _, line := range strings.Split(text, "\n") {
		if utf8.RuneCountInString(line) <= size {
			add(line, "\n")
			continue
		}
		flush()
		for _, word := range strings.Fields(line) {
			for utf8.RuneCountInString(word) > size {
				r := []rune(word)
				add(string(r[:size]), " ")
				word = string(r[size:])
			}
			add(word, " ")
		}
		flush()
	}
	flush()
	return chunks
}
