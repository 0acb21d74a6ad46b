package index

import (
	"strings"
	"unicode"

	gm "github.com/yuin/goldmark"
	gmAst "github.com/yuin/goldmark/ast"
	gmText "github.com/yuin/goldmark/text"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// PlainText reduces a Markdown note body to its visible text.
func PlainText(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	source := []byte(src)
	doc := gm.DefaultParser().Parse(gmText.NewReader(source))

	var buf strings.Builder
	_ = gmAst.Walk(doc, func(n gmAst.Node, entering bool) (gmAst.WalkStatus, error) {
		if !entering {
			if n.Type() == gmAst.TypeBlock {
				buf.WriteByte('\n')
			}
			return gmAst.WalkContinue, nil
		}
		switch n := n.(type) {
		case *gmAst.Text:
			buf.Write(n.Segment.Value(source))
			if n.SoftLineBreak() || n.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *gmAst.String:
			buf.Write(n.Value)
		case *gmAst.AutoLink:
			buf.Write(n.Label(source))
		case *gmAst.RawHTML:
			return gmAst.WalkSkipChildren, nil
		case *gmAst.CodeBlock, *gmAst.FencedCodeBlock, *gmAst.HTMLBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(source))
			}
			return gmAst.WalkSkipChildren, nil
		}
		return gmAst.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String())
}

// Normalize folds s for matching: compatibility decomposition, combining
// marks dropped, case folded, and runs of non-alphanumerics collapsed to
// one space.
func Normalize(s string) string {
	s = cases.Fold().String(norm.NFKD.String(s))
	result := make([]rune, 0, len(s))
	addSpace := false
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Mn, r):
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			if addSpace && len(result) > 0 {
				result = append(result, ' ')
			}
			result = append(result, r)
			addSpace = false
		default:
			addSpace = true
		}
	}
	return string(result)
}

// Terms splits a query into normalized search terms.
func Terms(query string) []string {
	return strings.Fields(Normalize(query))
}

// Key folds a category or tag for lookup.
func Key(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}
