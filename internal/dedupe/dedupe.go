// Package dedupe detects groups of submissions that denote the same logical
// intake event. Grouping is exact-match only: normalized title plus lowercased
// contributor email. Near-duplicate titles are intentionally never grouped.
package dedupe

import (
	"sort"
	"strings"
	"unicode"
)

// Normalize lowercases a title, collapses runs of whitespace to a single
// space, and trims the ends. Normalize(Normalize(x)) == Normalize(x).
func Normalize(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	pendingSpace := false
	for _, r := range strings.ToLower(title) {
		if unicode.IsSpace(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// GroupKey derives the grouping key for a submission. Submissions with no
// contributor email share the bare "title|" bucket per title, which can
// co-mingle unrelated anonymous submissions; callers must surface that rather
// than hide it.
func GroupKey(title, contactEmail string) string {
	return Normalize(title) + "|" + strings.ToLower(contactEmail)
}

// Member is the slice of a submission the grouping pass needs.
type Member struct {
	ID           string
	Title        string
	ContactEmail string
	CreatedAt    int64
}

// Group is an ephemeral, derived view of submissions sharing a grouping key.
// It is recomputed on every detection request and never persisted.
type Group struct {
	Key       string
	Anonymous bool
	Members   []Member
}

// Detect runs a single linear pass over the candidate set and returns only
// the groups with more than one member. Members are ordered by creation time
// ascending (id as tiebreak) so repeated calls render stably; the order
// carries no merge semantics, the operator names the survivor explicitly.
func Detect(members []Member) []Group {
	byKey := make(map[string][]Member, len(members))
	for _, m := range members {
		key := GroupKey(m.Title, m.ContactEmail)
		byKey[key] = append(byKey[key], m)
	}

	groups := make([]Group, 0)
	for key, grouped := range byKey {
		if len(grouped) < 2 {
			continue
		}
		sort.Slice(grouped, func(i, j int) bool {
			if grouped[i].CreatedAt != grouped[j].CreatedAt {
				return grouped[i].CreatedAt < grouped[j].CreatedAt
			}
			return grouped[i].ID < grouped[j].ID
		})
		groups = append(groups, Group{
			Key:       key,
			Anonymous: strings.HasSuffix(key, "|"),
			Members:   grouped,
		})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Key < groups[j].Key })
	return groups
}
