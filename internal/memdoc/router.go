package memdoc

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/rulecrafter/internal/domain"
)

// Router is the only component that decides document placement. Keeping
// the scope-to-path mapping in one place makes the privacy decision
// auditable.
type Router struct {
	projectDoc string
	userDoc    string
}

func NewRouter(projectDoc, userDoc string) *Router {
	return &Router{
		projectDoc: expandHome(projectDoc),
		userDoc:    expandHome(userDoc),
	}
}

// Route maps a scope to its document path: team content goes to the
// shared project document, everything else stays in the user document.
func (r *Router) Route(scope domain.Scope) string {
	if scope == domain.ScopeTeam {
		return r.projectDoc
	}
	return r.userDoc
}

// Targets returns the distinct document paths the router can produce.
func (r *Router) Targets() []string {
	if r.projectDoc == r.userDoc {
		return []string{r.projectDoc}
	}
	return []string{r.projectDoc, r.userDoc}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
