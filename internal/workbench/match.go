package workbench

import (
	"github.com/sahilm/fuzzy"

	"github.com/termdeck/termdeck/internal/directory"
)

type sessionSource []directory.Session

func (s sessionSource) String(i int) string { return s[i].Label + " " + s[i].Cwd }
func (s sessionSource) Len() int            { return len(s) }

// MatchSessions ranks sessions against a quick-pick query. An empty query
// returns every session in directory order.
func (w *Workbench) MatchSessions(query string) []directory.Session {
	all := w.dir.List()
	if query == "" {
		return all
	}
	matches := fuzzy.FindFrom(query, sessionSource(all))
	out := make([]directory.Session, 0, len(matches))
	for _, m := range matches {
		out = append(out, all[m.Index])
	}
	return out
}
