package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// TodoView and FocusView decouple Render from the domain package (which
// itself imports knowledge), avoiding an import cycle.
type TodoView struct {
	ID     string
	Task   string
	Done   bool
}

type FocusView struct {
	PropertyID string
	Topic      string
	Depth      int
}

// renderCache holds rendered context blocks keyed by a hash of their
// inputs, so repeated reflect passes within a turn that see no knowledge
// change skip re-rendering. Bounded to avoid unbounded growth across many
// concurrent turns sharing a process.
var renderCache, _ = lru.New[string, string](256)

// Render produces the deterministic context block inserted as the
// context_refresh system message. Ordering: always-present keys first
// (declared order), then available keys alphabetically. This ordering is
// a contract tests depend on.
func Render(b Base, todos []TodoView, focus *FocusView) string {
	cacheKey := renderCacheKey(b, todos, focus)
	if cached, ok := renderCache.Get(cacheKey); ok {
		return cached
	}

	var sb strings.Builder
	sb.WriteString("## Current State\n\n")
	sb.WriteString("### Knowledge Base\n")
	renderKnowledgeIndex(&sb, b)
	if len(todos) > 0 {
		sb.WriteString("\n\n### Tasks\n")
		renderTasks(&sb, todos)
	}
	if focus != nil {
		sb.WriteString("\n\n### Current Focus\n")
		fmt.Fprintf(&sb, "  Property: %s | Topic: %s | Depth: %d", focus.PropertyID, focus.Topic, focus.Depth)
	}

	out := sb.String()
	renderCache.Add(cacheKey, out)
	return out
}

func renderKnowledgeIndex(sb *strings.Builder, b Base) {
	ordered := orderedKeys(b)
	if len(ordered) == 0 {
		sb.WriteString("  (empty)")
		return
	}
	for i, key := range ordered {
		entry := b[key]
		status := "available"
		if entry.Loaded() {
			status = "loaded"
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(sb, "  %s [%s] — %s", key, status, entry.Summary)
	}
}

// orderedKeys returns always-present keys first, then the remaining keys
// sorted alphabetically. The declared order is user/profile,
// portfolio/index, the active property's resumo (the Protected entry),
// session/resumo_anterior.
func orderedKeys(b Base) []string {
	ordered := make([]string, 0, len(b))
	seen := make(map[string]bool, len(AlwaysPresent)+1)
	take := func(k string) {
		if _, ok := b[k]; ok && !seen[k] {
			ordered = append(ordered, k)
			seen[k] = true
		}
	}

	take("user/profile")
	take("portfolio/index")
	protected := make([]string, 0, 1)
	for k, e := range b {
		if e.Protected && !isAlwaysPresent(k) {
			protected = append(protected, k)
		}
	}
	sort.Strings(protected)
	for _, k := range protected {
		take(k)
	}
	take("session/resumo_anterior")

	rest := make([]string, 0, len(b))
	for k := range b {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(ordered, rest...)
}

func renderTasks(sb *strings.Builder, todos []TodoView) {
	for i, t := range todos {
		mark := " "
		if t.Done {
			mark = "x"
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(sb, "  [%s] (%s) %s", mark, t.ID, t.Task)
	}
}

func renderCacheKey(b Base, todos []TodoView, focus *FocusView) string {
	h := sha256.New()
	for _, key := range orderedKeys(b) {
		entry := b[key]
		fmt.Fprintf(h, "%s|%s|%v|%v|", key, entry.Summary, entry.Loaded(), entry.Protected)
	}
	for _, t := range todos {
		fmt.Fprintf(h, "%s|%s|%v|", t.ID, t.Task, t.Done)
	}
	if focus != nil {
		fmt.Fprintf(h, "%s|%s|%d", focus.PropertyID, focus.Topic, focus.Depth)
	}
	return hex.EncodeToString(h.Sum(nil))
}
