// Package mediaquery evaluates CSS media queries against a viewport reported by
// a dashboard client.
package mediaquery

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// remPx is the root font size em and rem lengths resolve against.
const remPx = 16

var (
	queryLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Whitespace", Pattern: `\s+`},
		{Name: "Number", Pattern: `\d*\.\d+|\d+`},
		{Name: "Ident", Pattern: `[a-zA-Z][a-zA-Z0-9-]*`},
		{Name: "Punct", Pattern: `[(),:/]`},
	})

	queryParser = participle.MustBuild[queryListNode](
		participle.Lexer(queryLexer),
		participle.Elide("Whitespace"),
		participle.UseLookahead(2),
	)
)

type queryListNode struct {
	Queries []*queryNode `parser:"@@ ( ',' @@ )*"`
}

type queryNode struct {
	Modifier  string         `parser:"@( 'not' | 'only' )?"`
	MediaType string         `parser:"@Ident?"`
	Features  []*featureNode `parser:"( 'and'? @@ )*"`
}

type featureNode struct {
	Name  string     `parser:"'(' @Ident"`
	Value *valueNode `parser:"( ':' @@ )? ')'"`
}

type valueNode struct {
	Number  *numberNode `parser:"  @@"`
	Keyword *string     `parser:"| @Ident"`
}

type numberNode struct {
	Value float64  `parser:"@Number"`
	Unit  string   `parser:"@Ident?"`
	Denom *float64 `parser:"( '/' @Number )?"`
}

// Viewport is the rendering surface a client reports.
type Viewport struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ColorScheme string `json:"color_scheme,omitempty"`
	Hover       bool   `json:"hover"`
}

// Orientation returns "portrait" when the viewport is at least as tall as it is
// wide, "landscape" otherwise.
func (v Viewport) Orientation() string {
	if v.Height >= v.Width {
		return "portrait"
	}
	return "landscape"
}

func (v Viewport) colorScheme() string {
	if v.ColorScheme == "" {
		return "light"
	}
	return v.ColorScheme
}

// Query is a compiled media query list.
type Query struct {
	raw   string
	parts []mediaQuery
}

type mediaQuery struct {
	negate    bool
	mediaType string
	features  []feature
}

type feature struct {
	name string
	// hasValue is false for the boolean form, e.g. "(hover)".
	hasValue bool
	number   float64
	keyword  string
}

// Parse compiles a comma-separated media query list. Keywords are case
// insensitive.
func Parse(query string) (*Query, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, fmt.Errorf("empty media query")
	}

	ast, err := queryParser.ParseString("", strings.ToLower(trimmed))
	if err != nil {
		return nil, fmt.Errorf("invalid media query %q: %w", query, err)
	}

	q := &Query{raw: query}
	for _, node := range ast.Queries {
		mq, err := compileQuery(node)
		if err != nil {
			return nil, fmt.Errorf("invalid media query %q: %w", query, err)
		}
		q.parts = append(q.parts, mq)
	}
	return q, nil
}

func compileQuery(node *queryNode) (mediaQuery, error) {
	mq := mediaQuery{negate: node.Modifier == "not", mediaType: node.MediaType}
	if node.MediaType == "and" {
		return mq, fmt.Errorf("unexpected 'and'")
	}
	if node.MediaType == "" && len(node.Features) == 0 {
		return mq, fmt.Errorf("expected a media type or a feature")
	}
	for _, fn := range node.Features {
		f, err := compileFeature(fn)
		if err != nil {
			return mq, err
		}
		mq.features = append(mq.features, f)
	}
	return mq, nil
}

func compileFeature(node *featureNode) (feature, error) {
	f := feature{name: node.Name}
	base := strings.TrimPrefix(strings.TrimPrefix(node.Name, "min-"), "max-")
	ranged := base != node.Name

	if node.Value == nil {
		if ranged {
			return f, fmt.Errorf("%s requires a value", node.Name)
		}
		switch base {
		case "width", "height", "aspect-ratio", "orientation", "prefers-color-scheme", "hover", "any-hover":
			return f, nil
		}
		return f, fmt.Errorf("unknown media feature %q", node.Name)
	}
	f.hasValue = true

	switch base {
	case "width", "height":
		px, err := lengthPx(node.Value)
		if err != nil {
			return f, fmt.Errorf("%s: %w", node.Name, err)
		}
		f.number = px
	case "aspect-ratio":
		ratio, err := ratioValue(node.Value)
		if err != nil {
			return f, fmt.Errorf("%s: %w", node.Name, err)
		}
		f.number = ratio
	case "orientation":
		if ranged {
			return f, fmt.Errorf("unknown media feature %q", node.Name)
		}
		if err := keywordValue(node.Value, &f.keyword, "portrait", "landscape"); err != nil {
			return f, fmt.Errorf("%s: %w", node.Name, err)
		}
	case "prefers-color-scheme":
		if ranged {
			return f, fmt.Errorf("unknown media feature %q", node.Name)
		}
		if err := keywordValue(node.Value, &f.keyword, "light", "dark"); err != nil {
			return f, fmt.Errorf("%s: %w", node.Name, err)
		}
	case "hover", "any-hover":
		if ranged {
			return f, fmt.Errorf("unknown media feature %q", node.Name)
		}
		if err := keywordValue(node.Value, &f.keyword, "hover", "none"); err != nil {
			return f, fmt.Errorf("%s: %w", node.Name, err)
		}
	default:
		return f, fmt.Errorf("unknown media feature %q", node.Name)
	}
	return f, nil
}

func lengthPx(v *valueNode) (float64, error) {
	if v.Number == nil || v.Number.Denom != nil {
		return 0, fmt.Errorf("expected a length")
	}
	switch v.Number.Unit {
	case "px":
		return v.Number.Value, nil
	case "em", "rem":
		return v.Number.Value * remPx, nil
	case "":
		if v.Number.Value == 0 {
			return 0, nil
		}
		return 0, fmt.Errorf("length %s needs a unit", strconv.FormatFloat(v.Number.Value, 'f', -1, 64))
	}
	return 0, fmt.Errorf("unsupported unit %q", v.Number.Unit)
}

func ratioValue(v *valueNode) (float64, error) {
	if v.Number == nil || v.Number.Unit != "" {
		return 0, fmt.Errorf("expected a ratio")
	}
	if v.Number.Denom == nil {
		return v.Number.Value, nil
	}
	if *v.Number.Denom == 0 {
		return 0, fmt.Errorf("ratio with zero denominator")
	}
	return v.Number.Value / *v.Number.Denom, nil
}

func keywordValue(v *valueNode, out *string, allowed ...string) error {
	if v.Keyword == nil {
		return fmt.Errorf("expected one of %s", strings.Join(allowed, ", "))
	}
	for _, a := range allowed {
		if *v.Keyword == a {
			*out = a
			return nil
		}
	}
	return fmt.Errorf("unexpected value %q, expected one of %s", *v.Keyword, strings.Join(allowed, ", "))
}

// Match reports whether any query of the list matches v.
func (q *Query) Match(v Viewport) bool {
	if q == nil {
		return false
	}
	for _, mq := range q.parts {
		if mq.match(v) {
			return true
		}
	}
	return false
}

func (q *Query) String() string {
	if q == nil {
		return ""
	}
	return q.raw
}

func (mq mediaQuery) match(v Viewport) bool {
	result := mediaTypeMatches(mq.mediaType)
	if result {
		for _, f := range mq.features {
			if !f.match(v) {
				result = false
				break
			}
		}
	}
	if mq.negate {
		return !result
	}
	return result
}

func mediaTypeMatches(t string) bool {
	switch t {
	case "", "all", "screen":
		return true
	}
	return false
}

func (f feature) match(v Viewport) bool {
	base := strings.TrimPrefix(strings.TrimPrefix(f.name, "min-"), "max-")

	switch base {
	case "width":
		return f.compare(float64(v.Width))
	case "height":
		return f.compare(float64(v.Height))
	case "aspect-ratio":
		if v.Height == 0 {
			return false
		}
		return f.compare(float64(v.Width) / float64(v.Height))
	case "orientation":
		return !f.hasValue || f.keyword == v.Orientation()
	case "prefers-color-scheme":
		return !f.hasValue || f.keyword == v.colorScheme()
	case "hover", "any-hover":
		if !f.hasValue {
			return v.Hover
		}
		return (f.keyword == "hover") == v.Hover
	}
	return false
}

func (f feature) compare(actual float64) bool {
	if !f.hasValue {
		return actual != 0
	}
	switch {
	case strings.HasPrefix(f.name, "min-"):
		return actual >= f.number
	case strings.HasPrefix(f.name, "max-"):
		return actual <= f.number
	default:
		return actual == f.number
	}
}
