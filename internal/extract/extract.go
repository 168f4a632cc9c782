// Package extract turns uploaded files into the plain text the pipeline chunks.
package extract

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"

	"github.com/cloo-solutions/docintel/internal/domain"
)

// Result is the text extracted from one upload.
type Result struct {
	Text string
	// Title is the first top-level heading, if the file has one.
	Title string
	// Outline lists heading titles in document order.
	Outline []string
}

type Extractor struct {
	md goldmark.Markdown
}

func New() *Extractor {
	return &Extractor{
		md: goldmark.New(
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
		),
	}
}

// Extract returns the plain text of src according to its file type.
func (e *Extractor) Extract(fileType domain.FileType, src []byte) (*Result, error) {
	if !utf8.Valid(src) {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "file is not valid UTF-8 text")
	}
	src = bytes.TrimPrefix(src, []byte("\xef\xbb\xbf"))

	var res *Result
	switch fileType {
	case domain.FileTypeText:
		res = &Result{Text: normalizeNewlines(string(src))}
	case domain.FileTypeMarkdown:
		var err error
		res, err = e.markdown(src)
		if err != nil {
			return nil, err
		}
	default:
		return nil, domain.ErrUnsupportedFileType
	}

	if strings.TrimSpace(res.Text) == "" {
		return nil, domain.ErrEmptyInput
	}
	return res, nil
}

func (e *Extractor) markdown(src []byte) (*Result, error) {
	doc := e.md.Parser().Parse(text.NewReader(src))

	tree, err := toc.Inspect(doc, src, toc.Compact(true))
	if err != nil {
		return nil, fmt.Errorf("inspect headings: %w", err)
	}

	res := &Result{}
	collectOutline(tree.Items, &res.Outline)
	if len(tree.Items) > 0 {
		res.Title = string(tree.Items[0].Title)
	}

	var buf bytes.Buffer
	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				writeLines(&buf, node, src)
			}
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			if entering {
				buf.Write(node.Label(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				buf.Write(node.Value)
			}
		}

		if !entering && n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
			endBlock(&buf, n)
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk markdown: %w", err)
	}

	res.Text = strings.TrimSpace(buf.String())
	return res, nil
}

// endBlock separates blocks. Headings get a full stop so they do not run
// into the following sentence.
func endBlock(buf *bytes.Buffer, n ast.Node) {
	if n.Kind() == ast.KindList || n.Kind() == ast.KindListItem {
		if !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
			buf.WriteByte('\n')
		}
		return
	}
	if n.Kind() == ast.KindHeading {
		trimmed := bytes.TrimRight(buf.Bytes(), " ")
		if len(trimmed) > 0 && !bytes.ContainsAny(trimmed[len(trimmed)-1:], ".!?:") {
			buf.WriteByte('.')
		}
	}
	buf.WriteString("\n\n")
}

func writeLines(buf *bytes.Buffer, n ast.Node, src []byte) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(src))
	}
	buf.WriteString("\n\n")
}

func collectOutline(items toc.Items, out *[]string) {
	for _, item := range items {
		if len(item.Title) > 0 {
			*out = append(*out, string(item.Title))
		}
		collectOutline(item.Items, out)
	}
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\r", "\n")
}
