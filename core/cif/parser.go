// Package cif parses Crystallographic Information Files and derives powder
// patterns from the data they carry.
package cif

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// fileGrammar is the participle grammar for a CIF 1.1 document.
//
//nolint:govet // participle grammar tags are not standard struct tags
type fileGrammar struct {
	Blocks []*blockGrammar `parser:"@@*"`
}

type blockGrammar struct {
	Header string         `parser:"@DataHeader"`
	Items  []*itemGrammar `parser:"@@*"`
}

type itemGrammar struct {
	Loop *loopGrammar `parser:"  @@"`
	Pair *pairGrammar `parser:"| @@"`
}

type pairGrammar struct {
	Tag   string `parser:"@Tag"`
	Value string `parser:"@(TextField | Quoted | Value)"`
}

type loopGrammar struct {
	Tags   []string `parser:"Loop @Tag+"`
	Values []string `parser:"@(TextField | Quoted | Value)*"`
}

// cifLexer tokenizes CIF. A text field is a semicolon in the first column up
// to the next line that starts with a semicolon, so it is tried before the
// newline rule can consume the line break in front of it.
var cifLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "TextField", Pattern: `\n;(?:[^\n]|\n[^;])*\n;`},
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "Whitespace", Pattern: `[ \t\r]+|\n`},
	{Name: "DataHeader", Pattern: `[dD][aA][tT][aA]_[^ \t\r\n]*`},
	{Name: "Loop", Pattern: `[lL][oO][oO][pP]_`},
	{Name: "Tag", Pattern: `_[^ \t\r\n]+`},
	{Name: "Quoted", Pattern: `'[^'\n]*'|"[^"\n]*"`},
	{Name: "Value", Pattern: `[^ \t\r\n]+`},
})

var cifParser = participle.MustBuild[fileGrammar](
	participle.Lexer(cifLexer),
	participle.Elide("Comment", "Whitespace"),
)

// ParseError reports text that does not follow the CIF syntax, or loop
// values that cannot be read as the numbers a tag requires.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "cif: " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

// Document is a parsed CIF file.
type Document struct {
	Blocks []*Block
}

// Block is one data_ block. Tag names are stored lower-cased.
type Block struct {
	Name  string
	items map[string]string
	Loops []*Loop
}

// Loop is a loop_ table with one column per tag.
type Loop struct {
	Tags []string
	Rows [][]string
}

// Parse decodes CIF text.
func Parse(text string) (*Document, error) {
	// The text-field rule needs a line break in front of the opening semicolon.
	if strings.HasPrefix(text, ";") {
		text = "\n" + text
	}
	parsed, err := cifParser.ParseString("", text)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	doc := &Document{}
	for _, bg := range parsed.Blocks {
		b := &Block{Name: bg.Header[len("data_"):], items: map[string]string{}}
		for _, it := range bg.Items {
			switch {
			case it.Pair != nil:
				b.items[strings.ToLower(it.Pair.Tag)] = unquote(it.Pair.Value)
			case it.Loop != nil:
				l, err := newLoop(it.Loop)
				if err != nil {
					return nil, &ParseError{Err: fmt.Errorf("data_%s: %w", b.Name, err)}
				}
				b.Loops = append(b.Loops, l)
			}
		}
		doc.Blocks = append(doc.Blocks, b)
	}
	if len(doc.Blocks) == 0 {
		return nil, &ParseError{Err: fmt.Errorf("no data_ block found")}
	}
	return doc, nil
}

// ParseFile reads and parses a CIF file.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(data))
}

func newLoop(g *loopGrammar) (*Loop, error) {
	n := len(g.Tags)
	if len(g.Values)%n != 0 {
		return nil, fmt.Errorf("loop over %s has %d values, not a multiple of its %d tags", g.Tags[0], len(g.Values), n)
	}
	l := &Loop{Tags: make([]string, n)}
	for i, t := range g.Tags {
		l.Tags[i] = strings.ToLower(t)
	}
	for i := 0; i < len(g.Values); i += n {
		row := make([]string, n)
		for j := range row {
			row[j] = unquote(g.Values[i+j])
		}
		l.Rows = append(l.Rows, row)
	}
	return l, nil
}

func unquote(v string) string {
	switch {
	case strings.HasPrefix(v, "\n;"):
		return strings.TrimSpace(v[2 : len(v)-2])
	case len(v) >= 2 && (v[0] == '\'' || v[0] == '"') && v[len(v)-1] == v[0]:
		return v[1 : len(v)-1]
	}
	return v
}

// Value returns the value of a non-looped tag.
func (b *Block) Value(tag string) (string, bool) {
	v, ok := b.items[strings.ToLower(tag)]
	return v, ok
}

// Float returns a numeric tag value, ignoring a trailing standard uncertainty
// such as the "(2)" in "5.4307(2)".
func (b *Block) Float(tag string) (float64, bool) {
	v, ok := b.Value(tag)
	if !ok {
		return 0, false
	}
	f := Number(v)
	return f, !math.IsNaN(f)
}

// Loop returns the loop that contains tag, or nil.
func (b *Block) Loop(tag string) *Loop {
	tag = strings.ToLower(tag)
	for _, l := range b.Loops {
		if l.index(tag) >= 0 {
			return l
		}
	}
	return nil
}

func (l *Loop) index(tag string) int {
	for i, t := range l.Tags {
		if t == tag {
			return i
		}
	}
	return -1
}

// Has reports whether every tag is a column of the loop.
func (l *Loop) Has(tags ...string) bool {
	for _, t := range tags {
		if l.index(strings.ToLower(t)) < 0 {
			return false
		}
	}
	return true
}

// Floats returns a column as numbers. Unknown (?) and inapplicable (.)
// entries become NaN.
func (l *Loop) Floats(tag string) ([]float64, error) {
	i := l.index(strings.ToLower(tag))
	if i < 0 {
		return nil, &ParseError{Err: fmt.Errorf("loop has no column %s", tag)}
	}
	out := make([]float64, len(l.Rows))
	for r, row := range l.Rows {
		v := row[i]
		out[r] = Number(v)
		if math.IsNaN(out[r]) && v != "?" && v != "." {
			return nil, &ParseError{Err: fmt.Errorf("%s row %d: %q is not a number", tag, r+1, v)}
		}
	}
	return out, nil
}

// Number parses a CIF numeric value. It returns NaN when v is not a number.
func Number(v string) float64 {
	if i := strings.IndexByte(v, '('); i > 0 && strings.HasSuffix(v, ")") {
		v = v[:i]
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
