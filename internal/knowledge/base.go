// Package knowledge implements the orchestrator's virtual-file-system
// knowledge base: a mapping type with explicit load/offload/write/remove/
// demote/render operations. Operations return a new value instead of
// mutating in place.
package knowledge

import (
	"errors"
	"fmt"
	"strings"
)

// Source tags where an entry's content originates from.
type Source string

const (
	SourceStore    Source = "store"
	SourceTool     Source = "tool"
	SourcePipeline Source = "pipeline"
)

// Entry is one knowledge-base record. A nil Content means "indexed but
// not loaded". Protected marks a dynamically always-present entry (the
// active property's resumo): Remove rejects it and DemoteStale leaves it
// loaded, same as the statically always-present keys.
type Entry struct {
	Summary     string
	Content     *string
	LinesLoaded int
	TotalLines  int
	Source      Source
	Protected   bool
}

// Loaded reports whether the entry currently holds content.
func (e Entry) Loaded() bool { return e.Content != nil }

// Statically always-present keys, in the fixed order Render lists them.
// The active property's resumo key is the fourth always-present key; it
// is dynamic (its path carries the property id), so it is tracked via
// Entry.Protected rather than this list.
var AlwaysPresent = []string{
	"user/profile",
	"portfolio/index",
	"session/resumo_anterior",
}

// ActiveResumoKey is the knowledge key holding the analysis summary of
// the given property.
func ActiveResumoKey(propertyID string) string {
	return "portfolio/" + propertyID + "/resumo"
}

func isAlwaysPresent(key string) bool {
	for _, k := range AlwaysPresent {
		if k == key {
			return true
		}
	}
	return false
}

// ErrUnknownKey is returned by Load when key is absent from the index.
var ErrUnknownKey = errors.New("knowledge: unknown key")

// ErrProtectedKey is returned by Remove for always-present keys.
var ErrProtectedKey = errors.New("knowledge: protected key")

// MinLinesForPartialRead: below this many total lines, Load always loads
// the entry in full regardless of a requested range.
const MinLinesForPartialRead = 20

// Base is the knowledge-base value: a plain map plus its operations.
type Base map[string]Entry

// Clone returns a shallow copy safe for independent mutation via the
// operations below.
func (b Base) Clone() Base {
	out := make(Base, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

func lineCount(content string) int {
	if content == "" {
		return 0
	}
	return strings.Count(content, "\n") + 1
}

// Load fetches content for key, honoring a partial range when the entry is
// large enough (MinLinesForPartialRead) and a range was requested. It is a
// no-op if the entry is already loaded across the requested range.
func Load(b Base, key string, fetch func() (content string, totalLines int, err error), startLine, numLines int) (Base, error) {
	entry, ok := b[key]
	if !ok {
		return b, ErrUnknownKey
	}
	if entry.Loaded() && (numLines == 0 || entry.LinesLoaded >= entry.TotalLines) {
		return b, nil
	}

	full, totalLines, err := fetch()
	if err != nil {
		return b, fmt.Errorf("knowledge: load %q: %w", key, err)
	}

	out := b.Clone()
	if numLines <= 0 || totalLines < MinLinesForPartialRead {
		out[key] = Entry{
			Summary:     entry.Summary,
			Content:     &full,
			LinesLoaded: lineCount(full),
			TotalLines:  totalLines,
			Source:      entry.Source,
		}
		return out, nil
	}

	lines := strings.Split(full, "\n")
	end := startLine + numLines
	if end > len(lines) {
		end = len(lines)
	}
	if startLine < 0 {
		startLine = 0
	}
	if startLine > end {
		startLine = end
	}
	ranged := strings.Join(lines[startLine:end], "\n")
	out[key] = Entry{
		Summary:     entry.Summary,
		Content:     &ranged,
		LinesLoaded: end - startLine,
		TotalLines:  totalLines,
		Source:      entry.Source,
	}
	return out, nil
}

// Offload clears content while keeping the entry and its summary indexed.
// Always-present keys' summaries are never removed by this operation
// (it never removes the entry itself, only its content).
func Offload(b Base, key string) Base {
	entry, ok := b[key]
	if !ok {
		return b
	}
	out := b.Clone()
	entry.Content = nil
	entry.LinesLoaded = 0
	out[key] = entry
	return out
}

// Write upserts an entry. If summary is empty, the existing summary (if
// any) is preserved, per invariant (iv).
func Write(b Base, key, summary string, content *string, source Source) Base {
	out := b.Clone()
	existing, exists := out[key]
	if summary == "" && exists {
		summary = existing.Summary
	}
	entry := Entry{Summary: summary, Source: source, Protected: existing.Protected}
	if content != nil {
		n := lineCount(*content)
		entry.Content = content
		entry.LinesLoaded = n
		entry.TotalLines = n
	} else if exists {
		entry.TotalLines = existing.TotalLines
	}
	out[key] = entry
	return out
}

// Remove deletes an entry entirely. Always-present keys, static or
// protected, are rejected.
func Remove(b Base, key string) (Base, error) {
	if isAlwaysPresent(key) || b[key].Protected {
		return b, ErrProtectedKey
	}
	if _, ok := b[key]; !ok {
		return b, nil
	}
	out := b.Clone()
	delete(out, key)
	return out, nil
}

// DemoteStale offloads every loaded entry not in referencedKeys and not
// in protectedKeys. Idempotent: a second application is a no-op.
func DemoteStale(b Base, referencedKeys, protectedKeys map[string]bool) Base {
	out := b
	for key, entry := range b {
		if protectedKeys[key] || referencedKeys[key] {
			continue
		}
		if entry.Loaded() {
			out = Offload(out, key)
		}
	}
	return out
}

// Protect marks key's entry as dynamically always-present. No-op when
// the key is absent.
func Protect(b Base, key string) Base {
	entry, ok := b[key]
	if !ok || entry.Protected {
		return b
	}
	out := b.Clone()
	entry.Protected = true
	out[key] = entry
	return out
}

// ProtectedKeySet returns the always-present keys of b as a lookup set:
// the static keys plus any entry marked Protected.
func ProtectedKeySet(b Base) map[string]bool {
	set := make(map[string]bool, len(AlwaysPresent)+1)
	for _, k := range AlwaysPresent {
		set[k] = true
	}
	for k, e := range b {
		if e.Protected {
			set[k] = true
		}
	}
	return set
}
