package emulator

import "regexp"

// FindOptions controls how a query matches.
type FindOptions struct {
	CaseSensitive bool
	WholeWord     bool
	Regex         bool
}

// Direction is the order in which matches are visited.
type Direction int

const (
	Next Direction = iota
	Previous
)

// FindResult reports a search step. Index is zero-based and -1 when nothing
// matched.
type FindResult struct {
	Index int
	Count int
}

// Found reports whether the step landed on a match.
func (r FindResult) Found() bool { return r.Index >= 0 && r.Count > 0 }

// Match is one hit in the scrollback: Row and the rune span [Start, End).
type Match struct {
	Row   int
	Start int
	End   int
}

type searchState struct {
	query   string
	opts    FindOptions
	matches []Match
	current int
}

// compileQuery builds the matcher for a query. Invalid regular expressions
// return an error and match nothing.
func compileQuery(query string, opts FindOptions) (*regexp.Regexp, error) {
	expr := query
	if !opts.Regex {
		expr = regexp.QuoteMeta(query)
	}
	if opts.WholeWord {
		expr = `\b(?:` + expr + `)\b`
	}
	if !opts.CaseSensitive {
		expr = `(?i)` + expr
	}
	return regexp.Compile(expr)
}

// Find implements Instance. Repeating the same query steps through the
// matches and wraps at either end; the count stays the same across the wrap.
func (t *Terminal) Find(query string, opts FindOptions, dir Direction) FindResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	if query == "" || t.disposed {
		t.search = searchState{current: -1}
		t.hasSel = false
		return FindResult{Index: -1}
	}
	re, err := compileQuery(query, opts)
	if err != nil {
		t.search = searchState{query: query, opts: opts, current: -1}
		return FindResult{Index: -1}
	}

	var from *Match
	if t.search.query == query && t.search.opts == opts && t.search.current >= 0 &&
		t.search.current < len(t.search.matches) {
		m := t.search.matches[t.search.current]
		from = &m
	}

	matches := t.collect(re)
	t.search = searchState{query: query, opts: opts, matches: matches, current: -1}
	if len(matches) == 0 {
		t.hasSel = false
		return FindResult{Index: -1}
	}

	idx := pick(matches, from, dir)
	t.search.current = idx
	m := matches[idx]
	t.selStart = Pos{Row: m.Row, Col: m.Start}
	t.selEnd = Pos{Row: m.Row, Col: m.End}
	t.hasSel = true
	if m.Row < t.top || m.Row >= t.top+t.rows {
		t.top = max(0, min(m.Row-t.rows/2, t.maxTop()))
	}
	return FindResult{Index: idx, Count: len(matches)}
}

// pick chooses the match after (or before) from, wrapping around.
func pick(matches []Match, from *Match, dir Direction) int {
	if from == nil {
		if dir == Previous {
			return len(matches) - 1
		}
		return 0
	}
	cur := Pos{Row: from.Row, Col: from.Start}
	if dir == Previous {
		for i := len(matches) - 1; i >= 0; i-- {
			if (Pos{Row: matches[i].Row, Col: matches[i].Start}).before(cur) {
				return i
			}
		}
		return len(matches) - 1
	}
	for i, m := range matches {
		if cur.before(Pos{Row: m.Row, Col: m.Start}) {
			return i
		}
	}
	return 0
}

func (t *Terminal) collect(re *regexp.Regexp) []Match {
	var out []Match
	for row, l := range t.lines {
		s := l.String()
		for _, loc := range re.FindAllStringIndex(s, -1) {
			if loc[0] == loc[1] {
				continue
			}
			out = append(out, Match{
				Row:   row,
				Start: len([]rune(s[:loc[0]])),
				End:   len([]rune(s[:loc[1]])),
			})
		}
	}
	return out
}

// Matches returns every hit of the current query for highlighting, and the
// index of the active one.
func (t *Terminal) Matches() ([]Match, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Match, len(t.search.matches))
	copy(out, t.search.matches)
	return out, t.search.current
}

// ClearFind implements Instance.
func (t *Terminal) ClearFind() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.search.current >= 0 {
		t.hasSel = false
	}
	t.search = searchState{current: -1}
}

// ValidQuery reports whether a query compiles under opts.
func ValidQuery(query string, opts FindOptions) bool {
	if query == "" {
		return false
	}
	_, err := compileQuery(query, opts)
	return err == nil
}
