// Package review holds helpers for code review conversations: pulling code
// out of markdown replies, guessing languages, building file prompts and
// diffing suggested code against the original.
package review

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// CodeBlock is one fenced or indented code block found in markdown.
type CodeBlock struct {
	Language string
	Code     string
}

var parser = goldmark.New().Parser()

// ExtractCodeBlocks returns the code blocks of src in document order.
func ExtractCodeBlocks(src string) []CodeBlock {
	source := []byte(src)
	doc := parser.Parse(text.NewReader(source))

	var blocks []CodeBlock
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.FencedCodeBlock:
			blocks = append(blocks, CodeBlock{
				Language: strings.ToLower(string(node.Language(source))),
				Code:     linesOf(node, source),
			})
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			blocks = append(blocks, CodeBlock{Code: linesOf(node, source)})
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return blocks
}

func linesOf(n ast.Node, source []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return b.String()
}
