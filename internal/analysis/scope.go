package analysis

import (
	"regexp"
	"strings"

	"leakhound/internal/leak"
)

// Block is a balanced-delimiter region of source text. Start is the byte
// offset of the opening brace, End the offset just past the matching
// closing brace, Content the text between them.
type Block struct {
	Content string
	Start   int
	End     int
}

// ExtractBlock scans forward from the first '{' at or after startOffset
// and returns the balanced block, tracking string and template-literal
// state so braces inside quoted content do not count. Returns nil when
// no opening brace exists or the text ends before the block closes
// (malformed input).
func ExtractBlock(text string, startOffset int) *Block {
	if startOffset < 0 || startOffset >= len(text) {
		return nil
	}
	open := strings.IndexByte(text[startOffset:], '{')
	if open < 0 {
		return nil
	}
	open += startOffset

	depth := 0
	var quote byte // active quote char, 0 when not inside a string
	for i := open; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++ // skip escaped character
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return &Block{
					Content: text[open+1 : i],
					Start:   open,
					End:     i + 1,
				}
			}
		}
	}
	return nil
}

// BracesBalanced reports whether text closes every brace it opens,
// using the same string-aware scan as ExtractBlock. Used to validate
// generated fixes before they are ever offered.
func BracesBalanced(text string) bool {
	depth := 0
	var quote byte
	for i := 0; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0 && quote == 0
}

var (
	effectHookRe  = regexp.MustCompile(`use\w*Effect\s*\(\s*(?:async\s+)?(?:\([^)]*\)|\w+)?\s*(?:=>)?\s*$`)
	enclosingFnRe = regexp.MustCompile(`(?:function\s+(\w+)|(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s+)?(?:function\b|\())[^{}]*$`)
	teardownRe    = regexp.MustCompile(`return\s+(?:\(\s*\)|\(?\s*\w*\s*\)?)\s*=>|return\s+function\b`)
)

// ClassifyText derives a ScopeContext from raw text surrounding a block.
// This is the prefilter-grade classifier: the AST inspector supersedes it
// whenever a parse succeeds, but it remains the fallback for source that
// tree-sitter cannot parse.
func ClassifyText(text string, block *Block) leak.ScopeContext {
	ctx := leak.ScopeContext{}
	if block == nil {
		return ctx
	}
	before := text[:block.Start]

	// Enclosing call shaped like an effect hook directly before the
	// callback's arrow/function header.
	ctx.IsInEffectHook = effectHookRe.MatchString(before)

	if m := enclosingFnRe.FindStringSubmatch(before); m != nil {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		ctx.EnclosingName = name
		if name != "" && name[0] >= 'A' && name[0] <= 'Z' {
			ctx.IsInComponent = true
		}
	}
	if !ctx.IsInComponent && strings.Contains(block.Content, "return <") {
		ctx.IsInComponent = true
	}
	ctx.HasTeardownCallback = teardownRe.MatchString(block.Content)
	return ctx
}

// TeardownBlock extracts the body of the teardown callback returned from
// an effect callback body, or nil when the body returns no function.
func TeardownBlock(body string) *Block {
	loc := teardownRe.FindStringIndex(body)
	if loc == nil {
		return nil
	}
	return ExtractBlock(body, loc[1])
}
