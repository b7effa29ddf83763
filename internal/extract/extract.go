package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"github.com/lotas/threadsum/internal/applog"
)

// Strategy locates message body blocks with a CSS selector.
type Strategy struct {
	Name     string
	Selector string
}

// DefaultStrategies are tried in order; the first one with a match wins.
var DefaultStrategies = []Strategy{
	{Name: "body", Selector: ".a3s.aiL"},
	{Name: "collapsed-body", Selector: ".a3s"},
	{Name: "legacy-body", Selector: "div[role=listitem] .ii.gt"},
}

// Extractor maps a document to the concatenated text of its message blocks.
type Extractor struct {
	Strategies []Strategy
	// ReadabilityFallback runs go-readability over the whole document when
	// no strategy matches.
	ReadabilityFallback bool
}

// Default returns an Extractor with DefaultStrategies.
func Default() Extractor {
	return Extractor{Strategies: DefaultStrategies}
}

// Extract returns the labelled text of every block matched by the first
// matching strategy, or "" when nothing matches.
func (e Extractor) Extract(doc *goquery.Document) string {
	if doc == nil {
		return ""
	}
	for _, s := range e.Strategies {
		sel := doc.Find(s.Selector)
		if sel.Length() == 0 {
			continue
		}
		var blocks []string
		sel.Each(func(_ int, block *goquery.Selection) {
			if text := Text(block); text != "" {
				blocks = append(blocks, text)
			}
		})
		if len(blocks) == 0 {
			continue
		}
		applog.Debug("extract.match", "strategy", s.Name, "blocks", len(blocks))
		return Join(blocks)
	}
	if e.ReadabilityFallback {
		return readable(doc)
	}
	return ""
}

// Join labels blocks in order: "Block 1:\n<a>\n\nBlock 2:\n<b>".
func Join(blocks []string) string {
	var b strings.Builder
	for i, text := range blocks {
		fmt.Fprintf(&b, "Block %d:\n%s\n\n", i+1, text)
	}
	return strings.TrimSpace(b.String())
}

func readable(doc *goquery.Document) string {
	raw, err := doc.Html()
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(strings.NewReader(raw), nil)
	if err != nil {
		applog.Debug("extract.readability", "err", err.Error())
		return ""
	}
	text := collapse(article.TextContent)
	if text == "" {
		return ""
	}
	return Join([]string{text})
}

var blockElements = map[string]bool{
	"address": true, "article": true, "blockquote": true, "div": true,
	"dl": true, "dt": true, "dd": true, "footer": true, "h1": true,
	"h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "ol": true, "p": true,
	"pre": true, "section": true, "table": true, "tr": true, "ul": true,
}

// Text approximates innerText: block elements and <br> break lines,
// whitespace runs within a line collapse, blank lines fold to one.
func Text(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		walk(&b, n)
	}
	return collapse(b.String())
}

func walk(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "template":
			return
		case "br":
			b.WriteByte('\n')
			return
		}
	}
	block := n.Type == html.ElementNode && blockElements[n.Data]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(b, c)
	}
	if block {
		b.WriteByte('\n')
	}
}

func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
