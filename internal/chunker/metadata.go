package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// ExtractDocumentMetadata inspects markdown structure and returns descriptive
// metadata: title (first H1), heading counts per level, code block and list
// presence, word/character counts, and a section outline. Pure function — no
// side effects, no network calls.
func ExtractDocumentMetadata(content string) map[string]any {
	source := []byte(Normalize(content))

	md := goldmark.New(goldmark.WithParserOptions(parser.WithAutoHeadingID()))
	doc := md.Parser().Parse(text.NewReader(source))

	headers := map[string]int{}
	title := ""
	codeBlocks := 0
	hasBullets := false
	hasNumbered := false

	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindHeading:
			h := n.(*ast.Heading)
			headers[fmt.Sprintf("h%d", h.Level)]++
			if h.Level == 1 && title == "" {
				title = strings.TrimSpace(string(n.Text(source)))
			}
		case ast.KindFencedCodeBlock, ast.KindCodeBlock:
			codeBlocks++
		case ast.KindList:
			if n.(*ast.List).IsOrdered() {
				hasNumbered = true
			} else {
				hasBullets = true
			}
		}
		return ast.WalkContinue, nil
	})

	return map[string]any{
		"title":              title,
		"headers":            headers,
		"has_code_blocks":    codeBlocks > 0,
		"code_block_count":   codeBlocks,
		"has_bullet_lists":   hasBullets,
		"has_numbered_lists": hasNumbered,
		"word_count":         len(strings.Fields(string(source))),
		"char_count":         utf8.RuneCountInString(string(source)),
		"outline":            sectionOutline(doc, source),
	}
}

// sectionOutline flattens the document's heading hierarchy into ordered
// section titles (H1-H3).
func sectionOutline(doc ast.Node, source []byte) []string {
	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(3),
		toc.Compact(true),
	)
	if err != nil || tree == nil {
		return []string{}
	}
	outline := []string{}
	var walk func(items toc.Items)
	walk = func(items toc.Items) {
		for _, item := range items {
			outline = append(outline, string(item.Title))
			walk(item.Items)
		}
	}
	walk(tree.Items)
	return outline
}
