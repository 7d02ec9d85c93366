package analysis

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"leakhound/internal/leak"
)

// Site is one acquisition or release call located in source.
type Site struct {
	Category        leak.Category
	Offset          int
	Line            int
	Column          int
	BoundIdentifier string
	Receiver        string
	CalleeName      string
	MemberName      string
	Args            []string
	CallText        string
}

// Scope is one analyzed callback body: its lexical context, the byte
// range of its block, its teardown sub-block (zero range when absent),
// and the acquisition/release sites found in it. Acquisitions cover the
// main body only; Releases cover the teardown sub-scope only, which is
// the single valid cleanup location.
type Scope struct {
	Context       leak.ScopeContext
	BodyStart     int
	BodyEnd       int
	TeardownStart int
	TeardownEnd   int
	// TeardownIsBlock is false for expression-bodied teardown arrows
	// (return () => clearInterval(id)), which have no braces to append
	// into.
	TeardownIsBlock bool
	Acquisitions    []Site
	Releases        []Site
}

// HasTeardown reports whether the scope declared a teardown callback.
func (s *Scope) HasTeardown() bool { return s.TeardownEnd > s.TeardownStart }

var effectHookNameRe = regexp.MustCompile(`^use\w*Effect$`)

// Inspector parses source with tree-sitter and extracts scopes. The
// brace scanner in scope.go remains the cheap prefilter and the fix
// validator; everything semantic goes through the parse tree here.
//
// An Inspector is safe for sequential reuse; concurrent file scans each
// construct their own (tree-sitter parsers are not goroutine-safe).
type Inspector struct {
	catalog  *Catalog
	jsParser *sitter.Parser
	tsParser *sitter.Parser
	txParser *sitter.Parser
}

// NewInspector creates an inspector over the given catalog.
func NewInspector(catalog *Catalog) *Inspector {
	jsParser := sitter.NewParser()
	jsParser.SetLanguage(javascript.GetLanguage())
	tsParser := sitter.NewParser()
	tsParser.SetLanguage(typescript.GetLanguage())
	txParser := sitter.NewParser()
	txParser.SetLanguage(tsx.GetLanguage())
	return &Inspector{
		catalog:  catalog,
		jsParser: jsParser,
		tsParser: tsParser,
		txParser: txParser,
	}
}

func (in *Inspector) parserFor(path string) *sitter.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts":
		return in.tsParser
	case ".tsx":
		return in.txParser
	default:
		return in.jsParser
	}
}

// Inspect parses content and returns every analyzable scope, outermost
// first. Returns an AnalysisError when the source cannot be parsed.
func (in *Inspector) Inspect(ctx context.Context, path string, content []byte) ([]Scope, error) {
	tree, err := in.parserFor(path).ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, &leak.AnalysisError{File: path, Err: err}
	}
	defer tree.Close()

	root := tree.RootNode()
	w := &walker{
		content: content,
		catalog: in.catalog,
	}
	w.collectAnchors(root)

	var scopes []Scope
	// Module scope first: top-level code outside any function.
	scopes = append(scopes, w.buildScope(anchor{body: root, name: "(module)"}))
	for _, a := range w.anchors {
		if err := ctx.Err(); err != nil {
			return nil, &leak.AnalysisError{File: path, Err: err}
		}
		scopes = append(scopes, w.buildScope(a))
	}

	// Drop scopes with nothing to report on.
	out := scopes[:0]
	for _, s := range scopes {
		if len(s.Acquisitions) > 0 {
			out = append(out, s)
		}
	}
	return out, nil
}

// anchor is a function body selected for independent analysis.
type anchor struct {
	body       *sitter.Node // statement_block (or expression body) of the callback
	fn         *sitter.Node // the function node itself
	name       string
	effectHook bool
}

type walker struct {
	content []byte
	catalog *Catalog
	anchors []anchor
	// bodyRanges marks collected scope bodies so an enclosing scope's
	// site walk does not descend into them.
	bodyRanges [][2]int
}

func (w *walker) text(n *sitter.Node) string {
	return string(w.content[n.StartByte():n.EndByte()])
}

func isFunctionNode(t string) bool {
	return t == "arrow_function" || t == "function" || t == "function_expression" || t == "function_declaration" || t == "method_definition"
}

// collectAnchors finds effect-hook callbacks and declared functions.
// Teardown callbacks and inline callback arguments are deliberately not
// anchors; they are analyzed as part of their enclosing scope.
func (w *walker) collectAnchors(node *sitter.Node) {
	nodeType := node.Type()

	switch nodeType {
	case "call_expression":
		fn := node.ChildByFieldName("function")
		if fn != nil && fn.Type() == "identifier" && effectHookNameRe.MatchString(w.text(fn)) {
			if cb := firstFunctionArg(node); cb != nil {
				if body := functionBody(cb); body != nil {
					w.addAnchor(anchor{body: body, fn: cb, name: w.text(fn), effectHook: true})
				}
			}
		}
	case "function_declaration", "method_definition":
		name := ""
		if n := node.ChildByFieldName("name"); n != nil {
			name = w.text(n)
		}
		if body := node.ChildByFieldName("body"); body != nil {
			w.addAnchor(anchor{body: body, fn: node, name: name})
		}
	case "variable_declarator":
		value := node.ChildByFieldName("value")
		if value != nil && (value.Type() == "arrow_function" || value.Type() == "function" || value.Type() == "function_expression") {
			name := ""
			if n := node.ChildByFieldName("name"); n != nil {
				name = w.text(n)
			}
			if body := functionBody(value); body != nil {
				w.addAnchor(anchor{body: body, fn: value, name: name})
			}
		}
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		w.collectAnchors(node.NamedChild(i))
	}
}

func (w *walker) addAnchor(a anchor) {
	// Effect callbacks are found twice (via the call and via any
	// enclosing declarator walk); keep the first registration.
	for _, existing := range w.anchors {
		if existing.body.StartByte() == a.body.StartByte() && existing.body.EndByte() == a.body.EndByte() {
			return
		}
	}
	w.anchors = append(w.anchors, a)
	w.bodyRanges = append(w.bodyRanges, [2]int{int(a.body.StartByte()), int(a.body.EndByte())})
}

// firstFunctionArg returns the first function-shaped argument of a call.
func firstFunctionArg(call *sitter.Node) *sitter.Node {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		if isFunctionNode(arg.Type()) {
			return arg
		}
	}
	return nil
}

// functionBody returns the statement_block of a function node, or nil
// for expression-bodied arrows (no block means no teardown and nothing
// to pair inside; such callbacks are matched at their call sites).
func functionBody(fn *sitter.Node) *sitter.Node {
	body := fn.ChildByFieldName("body")
	if body == nil || body.Type() != "statement_block" {
		return nil
	}
	return body
}

// buildScope derives the ScopeContext and the site lists for one anchor.
func (w *walker) buildScope(a anchor) Scope {
	s := Scope{
		BodyStart: int(a.body.StartByte()),
		BodyEnd:   int(a.body.EndByte()),
	}
	s.Context.IsInEffectHook = a.effectHook
	s.Context.EnclosingName = a.name

	if name := w.componentName(a); name != "" {
		s.Context.IsInComponent = true
		if !a.effectHook && s.Context.EnclosingName == "" {
			s.Context.EnclosingName = name
		}
	}

	teardown := w.findTeardown(a.body)
	if teardown != nil {
		s.Context.HasTeardownCallback = true
		s.TeardownStart = int(teardown.StartByte())
		s.TeardownEnd = int(teardown.EndByte())
		s.TeardownIsBlock = teardown.Type() == "statement_block"
		w.collectSites(teardown, teardown, false, &s.Releases, nil)
	}

	w.collectSites(a.body, teardown, false, nil, &s.Acquisitions)
	return s
}

// componentName walks the anchor's ancestors (and the anchor itself for
// named functions) looking for a UI-component shaped function: a
// capitalized name, or a markup-shaped return in its body.
func (w *walker) componentName(a anchor) string {
	if a.fn == nil {
		return "" // module scope is never a component
	}
	check := func(name string, fnBody *sitter.Node) string {
		if name != "" && name[0] >= 'A' && name[0] <= 'Z' {
			return name
		}
		if fnBody != nil && hasMarkupReturn(fnBody) {
			if name == "" {
				name = "(component)"
			}
			return name
		}
		return ""
	}

	if !a.effectHook {
		if name := check(a.name, a.body); name != "" {
			return name
		}
	}
	for node := a.fn.Parent(); node != nil; node = node.Parent() {
		switch node.Type() {
		case "function_declaration", "method_definition":
			name := ""
			if n := node.ChildByFieldName("name"); n != nil {
				name = w.text(n)
			}
			if found := check(name, node.ChildByFieldName("body")); found != "" {
				return found
			}
		case "variable_declarator":
			value := node.ChildByFieldName("value")
			if value != nil && isFunctionNode(value.Type()) {
				name := ""
				if n := node.ChildByFieldName("name"); n != nil {
					name = w.text(n)
				}
				if found := check(name, value.ChildByFieldName("body")); found != "" {
					return found
				}
			}
		}
	}
	return ""
}

// hasMarkupReturn reports whether a function body returns JSX.
func hasMarkupReturn(body *sitter.Node) bool {
	found := false
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if found {
			return
		}
		t := n.Type()
		if t == "jsx_element" || t == "jsx_self_closing_element" || t == "jsx_fragment" {
			found = true
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			visit(n.NamedChild(i))
		}
	}
	visit(body)
	return found
}

// findTeardown returns the body of the function returned from a direct
// return statement of the block, which is the declared teardown scope.
// Expression-bodied arrows count: their body is the expression node.
func (w *walker) findTeardown(body *sitter.Node) *sitter.Node {
	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmt := body.NamedChild(i)
		if stmt.Type() != "return_statement" {
			continue
		}
		for j := 0; j < int(stmt.NamedChildCount()); j++ {
			arg := stmt.NamedChild(j)
			if isFunctionNode(arg.Type()) {
				if tb := arg.ChildByFieldName("body"); tb != nil {
					return tb
				}
			}
		}
	}
	return nil
}

// collectSites walks a subtree gathering acquisition and/or release
// sites. The teardown subtree and nested anchored scope bodies are
// excluded from acquisition walks; inline callback arguments are not,
// with timer callbacks flagged so accumulation patterns can require
// that context.
func (w *walker) collectSites(node, teardown *sitter.Node, inTimerCallback bool, releases, acquisitions *[]Site) {
	if teardown != nil && acquisitions != nil &&
		node.StartByte() == teardown.StartByte() && node.EndByte() == teardown.EndByte() {
		return
	}
	if acquisitions != nil && w.isForeignScopeBody(node) {
		return
	}

	timerCtx := inTimerCallback
	switch node.Type() {
	case "call_expression":
		site, isAcq := w.siteFromCall(node, inTimerCallback)
		if site != nil {
			if isAcq && acquisitions != nil {
				*acquisitions = append(*acquisitions, *site)
			}
			if !isAcq && releases != nil {
				*releases = append(*releases, *site)
			}
			if isAcq && releases != nil && w.isReleaseShape(site) {
				*releases = append(*releases, *site)
			}
		}
		if w.isTimerCall(node) {
			timerCtx = true
		}
	case "new_expression":
		if site := w.siteFromNew(node); site != nil && acquisitions != nil {
			*acquisitions = append(*acquisitions, *site)
		}
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		w.collectSites(node.NamedChild(i), teardown, timerCtx, releases, acquisitions)
	}
}

// isForeignScopeBody reports whether node is the body of another anchor.
func (w *walker) isForeignScopeBody(node *sitter.Node) bool {
	if node.Type() != "statement_block" {
		return false
	}
	start, end := int(node.StartByte()), int(node.EndByte())
	for _, r := range w.bodyRanges {
		if r[0] == start && r[1] == end {
			return true
		}
	}
	return false
}

// isTimerCall reports whether a call acquires a recurring or delayed
// timer, per the catalog's timer rows.
func (w *walker) isTimerCall(call *sitter.Node) bool {
	fn := call.ChildByFieldName("function")
	if fn == nil || fn.Type() != "identifier" {
		return false
	}
	cat, ok := w.catalog.AcquisitionCallee(w.text(fn))
	return ok && (cat == leak.CategoryInterval || cat == leak.CategoryTimeout)
}

// isReleaseShape reports whether an acquisition-shaped site also looks
// like a release (member rows sharing names, e.g. subscribe/unsubscribe
// never overlap, so this is a safety net for future rows).
func (w *walker) isReleaseShape(site *Site) bool {
	return w.catalog.ReleaseMatches(site.Category, site.CalleeName, site.MemberName)
}

// siteFromCall classifies a call_expression. The bool result is true
// for acquisitions, false for releases; a nil site means neither.
func (w *walker) siteFromCall(call *sitter.Node, inTimerCallback bool) (*Site, bool) {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return nil, false
	}

	var callee, member, receiver string
	switch fn.Type() {
	case "identifier":
		callee = w.text(fn)
	case "member_expression":
		if prop := fn.ChildByFieldName("property"); prop != nil {
			member = w.text(prop)
		}
		if obj := fn.ChildByFieldName("object"); obj != nil {
			receiver = w.text(obj)
		}
	default:
		return nil, false
	}

	site := &Site{
		Offset:     int(call.StartByte()),
		Line:       int(call.StartPoint().Row) + 1,
		Column:     int(call.StartPoint().Column) + 1,
		Receiver:   receiver,
		CalleeName: callee,
		MemberName: member,
		Args:       w.argTexts(call),
		CallText:   w.text(call),
	}

	if callee != "" {
		if cat, ok := w.catalog.AcquisitionCallee(callee); ok {
			site.Category = cat
			site.BoundIdentifier = w.boundResult(call)
			return site, true
		}
	}
	if member != "" {
		if cat, ok := w.catalog.AcquisitionMember(member); ok {
			p := w.catalog.Lookup(cat)
			if p.Acquisition.WithinTimerCallback && !inTimerCallback {
				return nil, false
			}
			site.Category = cat
			site.BoundIdentifier = w.boundResult(call)
			if site.BoundIdentifier == "" && len(p.Release.Members) > 0 && len(p.Release.Callees) == 0 {
				// Identity for argument-released acquisitions lives in
				// the argument list (removeEventListener(ev, handler)).
				site.BoundIdentifier = firstIdentifierArg(site.Args)
			}
			return site, true
		}
	}

	// Not an acquisition; report it as a potential release site and let
	// the matcher decide which category it serves.
	if callee != "" || member != "" {
		return site, false
	}
	return nil, false
}

// siteFromNew classifies a new_expression against constructor rows.
func (w *walker) siteFromNew(node *sitter.Node) *Site {
	ctor := node.ChildByFieldName("constructor")
	if ctor == nil || ctor.Type() != "identifier" {
		return nil
	}
	cat, ok := w.catalog.AcquisitionConstructor(w.text(ctor))
	if !ok {
		return nil
	}
	return &Site{
		Category:        cat,
		Offset:          int(node.StartByte()),
		Line:            int(node.StartPoint().Row) + 1,
		Column:          int(node.StartPoint().Column) + 1,
		BoundIdentifier: w.boundResult(node),
		CallText:        w.text(node),
	}
}

// boundResult returns the identifier the expression's result is bound
// to, through variable declaration or assignment, or "" when the result
// is discarded (an inline expression).
func (w *walker) boundResult(expr *sitter.Node) string {
	node := expr
	for parent := node.Parent(); parent != nil; parent = node.Parent() {
		switch parent.Type() {
		case "parenthesized_expression", "await_expression", "as_expression", "non_null_expression":
			node = parent
			continue
		case "variable_declarator":
			if name := parent.ChildByFieldName("name"); name != nil && name.Type() == "identifier" {
				return w.text(name)
			}
			return ""
		case "assignment_expression":
			if left := parent.ChildByFieldName("left"); left != nil {
				if left.Type() == "identifier" {
					return w.text(left)
				}
				// this.id = ... / ref.current = ... keep the full path
				// as the identity token.
				return w.text(left)
			}
			return ""
		default:
			return ""
		}
	}
	return ""
}

func (w *walker) argTexts(call *sitter.Node) []string {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	out := make([]string, 0, args.NamedChildCount())
	for i := 0; i < int(args.NamedChildCount()); i++ {
		out = append(out, w.text(args.NamedChild(i)))
	}
	return out
}

var identRe = regexp.MustCompile(`^[A-Za-z_$][\w$]*$`)

func firstIdentifierArg(args []string) string {
	for _, a := range args {
		if identRe.MatchString(a) {
			return a
		}
	}
	return ""
}
