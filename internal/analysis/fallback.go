package analysis

import (
	"regexp"
	"strings"

	"leakhound/internal/leak"
)

var (
	effectCallRe = regexp.MustCompile(`use\w*Effect\s*\(`)
	bindingRe    = regexp.MustCompile(`([A-Za-z_$][\w$]*)\s*=\s*$`)
	callRe       = regexp.MustCompile(`([A-Za-z_$][\w$]*)\s*\(`)
	identTailRe  = regexp.MustCompile(`([A-Za-z_$][\w$]*)\s*$`)
)

// FallbackScopes derives effect scopes from raw text when no parse tree
// is available. Bodies are located by the hook-call shape, classified
// with ClassifyText, and call sites are matched lexically. Only
// effect-hook scopes are recovered; acquisitions elsewhere need the
// parse tree to resolve their enclosing function.
func FallbackScopes(catalog *Catalog, source string) []Scope {
	var scopes []Scope
	for _, loc := range effectCallRe.FindAllStringIndex(source, -1) {
		block := ExtractBlock(source, loc[1])
		if block == nil {
			continue
		}
		s := Scope{
			Context:   ClassifyText(source, block),
			BodyStart: block.Start,
			BodyEnd:   block.End,
		}
		if td := TeardownBlock(block.Content); td != nil {
			// Block offsets are relative to the body content, which
			// begins one byte after the opening brace.
			s.TeardownStart = block.Start + 1 + td.Start
			s.TeardownEnd = block.Start + 1 + td.End
			s.TeardownIsBlock = true
			s.Releases = textReleases(source, s.TeardownStart, s.TeardownEnd)
		}
		s.Acquisitions = textAcquisitions(catalog, source, &s)
		scopes = append(scopes, s)
	}
	return scopes
}

// textSpec is one lexical acquisition matcher compiled from a catalog row.
type textSpec struct {
	category leak.Category
	name     string
	member   bool
	re       *regexp.Regexp
}

func acquisitionSpecs(c *Catalog) []textSpec {
	var specs []textSpec
	for _, p := range c.Patterns() {
		if p.RuntimeOnly || p.Acquisition.WithinTimerCallback {
			continue
		}
		for _, name := range p.Acquisition.Callees {
			specs = append(specs, textSpec{p.Category, name, false,
				regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\s*\(`)})
		}
		for _, name := range p.Acquisition.Members {
			specs = append(specs, textSpec{p.Category, name, true,
				regexp.MustCompile(`\.\s*` + regexp.QuoteMeta(name) + `\s*\(`)})
		}
		for _, name := range p.Acquisition.Constructors {
			specs = append(specs, textSpec{p.Category, name, false,
				regexp.MustCompile(`\bnew\s+` + regexp.QuoteMeta(name) + `\s*\(`)})
		}
	}
	return specs
}

func textAcquisitions(c *Catalog, source string, s *Scope) []Site {
	body := source[s.BodyStart:s.BodyEnd]
	var sites []Site
	for _, spec := range acquisitionSpecs(c) {
		for _, m := range spec.re.FindAllStringIndex(body, -1) {
			abs := s.BodyStart + m[0]
			if s.HasTeardown() && abs >= s.TeardownStart && abs < s.TeardownEnd {
				continue
			}
			open := s.BodyStart + m[1] - 1
			args, end := callSpan(source, open)
			start := abs
			site := Site{
				Category: spec.category,
				Args:     args,
			}
			if spec.member {
				site.MemberName = spec.name
				if recv := identTailRe.FindStringIndex(source[:abs]); recv != nil {
					start = recv[0]
					site.Receiver = strings.TrimSpace(source[recv[0]:abs])
				}
			} else {
				site.CalleeName = spec.name
			}
			site.Offset = start
			site.Line, site.Column = lineCol(source, start)
			site.CallText = source[start:end]
			site.BoundIdentifier = boundBefore(source, start)
			if site.BoundIdentifier == "" {
				if p := c.Lookup(spec.category); p != nil &&
					len(p.Release.Members) > 0 && len(p.Release.Callees) == 0 {
					site.BoundIdentifier = firstIdentifierArg(args)
				}
			}
			sites = append(sites, site)
		}
	}
	return sites
}

// textReleases records every call shape inside the teardown range. Names
// that belong to no release spec are inert during matching.
func textReleases(source string, start, end int) []Site {
	seg := source[start:end]
	var sites []Site
	for _, m := range callRe.FindAllStringSubmatchIndex(seg, -1) {
		name := seg[m[2]:m[3]]
		abs := start + m[0]
		args, _ := callSpan(source, start+m[1]-1)
		site := Site{Offset: abs, Args: args}
		j := abs - 1
		for j >= 0 && (source[j] == ' ' || source[j] == '\t' || source[j] == '\n') {
			j--
		}
		if j >= 0 && source[j] == '.' {
			site.MemberName = name
			if recv := identTailRe.FindStringSubmatch(source[:j]); recv != nil {
				site.Receiver = recv[1]
			}
		} else {
			site.CalleeName = name
		}
		sites = append(sites, site)
	}
	return sites
}

// boundBefore finds the identifier a call result is assigned to, from a
// declaration or assignment directly preceding the call text.
func boundBefore(source string, offset int) string {
	if m := bindingRe.FindStringSubmatch(source[:offset]); m != nil {
		return m[1]
	}
	return ""
}

// callSpan returns the argument texts of the call whose '(' sits at
// open, plus the offset just past the matching ')'. Uses the same quote
// rules as ExtractBlock.
func callSpan(source string, open int) ([]string, int) {
	depth := 0
	var quote byte
	argStart := open + 1
	var args []string
	push := func(end int) {
		if arg := strings.TrimSpace(source[argStart:end]); arg != "" {
			args = append(args, arg)
		}
		argStart = end + 1
	}
	for i := open; i < len(source); i++ {
		c := source[i]
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
		case '(', '{', '[':
			depth++
		case ')', '}', ']':
			depth--
			if depth == 0 {
				push(i)
				return args, i + 1
			}
		case ',':
			if depth == 1 {
				push(i)
			}
		}
	}
	return args, len(source)
}

func lineCol(source string, offset int) (int, int) {
	line, col := 1, 1
	for i := 0; i < offset && i < len(source); i++ {
		if source[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}
