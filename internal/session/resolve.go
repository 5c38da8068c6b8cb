package session

import (
	"context"
	"regexp"
	"strings"

	"github.com/stridehq/stride/pkg/models"
)

// Reference resolution is heuristic by design: it only consults what the
// session already tracked (the last result set shown and the last entity per
// type) and never queries the domain store itself.

var ordinalWords = map[string]int{
	"first": 0, "1st": 0,
	"second": 1, "2nd": 1,
	"third": 2, "3rd": 2,
	"fourth": 3, "4th": 3,
	"fifth": 4, "5th": 4,
}

var (
	ordinalPattern = regexp.MustCompile(`\b(first|second|third|fourth|fifth|1st|2nd|3rd|4th|5th|last)\s+(?:one|item|result|([a-z]+))\b`)
	demonstrative  = regexp.MustCompile(`\b(?:that|this|the)\s+([a-z]+)\b`)
)

// ResolveReference matches phrases like "the first one", "the second task",
// or "that bug" against the session's tracked context. The second return is
// false when nothing resolves; that is a routine outcome, not an error.
func (s *Store) ResolveReference(ctx context.Context, sessionID, reference string) (models.EntityRef, bool, error) {
	sess, found, err := s.Get(ctx, sessionID)
	if err != nil {
		return models.EntityRef{}, false, err
	}
	if !found {
		return models.EntityRef{}, false, nil
	}
	ref, ok := resolve(sess, strings.ToLower(strings.TrimSpace(reference)), s.cfg.OrdinalScope)
	return ref, ok, nil
}

func resolve(sess *models.Session, reference, scope string) (models.EntityRef, bool) {
	if m := ordinalPattern.FindStringSubmatch(reference); m != nil {
		candidates := sess.LastResults
		// "the second task" with per-type scope indexes only tasks from
		// the last result set; global scope indexes the whole set.
		if scope == OrdinalScopePerType && m[2] != "" {
			candidates = filterByType(candidates, singular(m[2]))
		}
		if len(candidates) == 0 {
			return models.EntityRef{}, false
		}
		if m[1] == "last" {
			return candidates[len(candidates)-1], true
		}
		idx, ok := ordinalWords[m[1]]
		if !ok || idx >= len(candidates) {
			return models.EntityRef{}, false
		}
		return candidates[idx], true
	}

	if m := demonstrative.FindStringSubmatch(reference); m != nil {
		if ref, ok := sess.LastEntity[singular(m[1])]; ok {
			return ref, true
		}
	}

	return models.EntityRef{}, false
}

func filterByType(refs []models.EntityRef, entityType string) []models.EntityRef {
	var out []models.EntityRef
	for _, r := range refs {
		if strings.EqualFold(r.Type, entityType) {
			out = append(out, r)
		}
	}
	return out
}

// singular knocks a trailing "s" off plural entity-type words ("tasks" →
// "task"). Good enough for the fixed entity vocabulary of the tracker.
func singular(word string) string {
	if len(word) > 3 && strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss") {
		return strings.TrimSuffix(word, "s")
	}
	return word
}
