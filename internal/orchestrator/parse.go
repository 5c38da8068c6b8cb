package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stridehq/stride/pkg/models"
)

const (
	maxFallbackCards = 3
	maxCards         = 10

	// tableThreshold is the result count past which a tabular summary is
	// derived alongside the prose reply.
	tableThreshold = 5
	maxTableRows   = 10
)

// actionVerbs are the known next-step verbs matched against the reply text.
var actionVerbs = []string{
	"assign", "close", "reopen", "comment", "update",
	"schedule", "prioritize", "review", "remind",
}

// ── Fallback template ────────────────────────────────────────

// fallbackText renders the deterministic no-model answer: per-type result
// counts, no synthesis.
func fallbackText(data *models.RetrievedData) string {
	if data.TotalItems() == 0 {
		return "I couldn't process that with the assistant model, and no matching items were found."
	}
	parts := make([]string, 0, len(data.Sets))
	for _, set := range data.Sets {
		if len(set.Items) == 0 {
			continue
		}
		noun := set.EntityType
		if len(set.Items) != 1 {
			noun += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", len(set.Items), noun))
	}
	return fmt.Sprintf("I couldn't process that with the assistant model, but here is what I found directly: %s.",
		strings.Join(parts, ", "))
}

// ── Entity cards ─────────────────────────────────────────────

// refFromItem pulls an EntityRef out of one loosely-typed result row.
func refFromItem(entityType string, item map[string]any) (models.EntityRef, bool) {
	id, _ := item["id"].(string)
	if id == "" {
		return models.EntityRef{}, false
	}
	title, _ := item["title"].(string)
	if title == "" {
		title, _ = item["name"].(string)
	}
	return models.EntityRef{Type: entityType, ID: id, Title: title}, true
}

// leadingRefs returns the first n refs across all sets, in set order.
func leadingRefs(data *models.RetrievedData, n int) []models.EntityRef {
	var out []models.EntityRef
	for _, set := range data.Sets {
		for _, item := range set.Items {
			if ref, ok := refFromItem(set.EntityType, item); ok {
				out = append(out, ref)
				if len(out) == n {
					return out
				}
			}
		}
	}
	return out
}

// referencedRefs returns cards for the retrieved items the reply actually
// mentions, by title or id.
func referencedRefs(reply string, data *models.RetrievedData) []models.EntityRef {
	lower := strings.ToLower(reply)
	var out []models.EntityRef
	for _, set := range data.Sets {
		for _, item := range set.Items {
			ref, ok := refFromItem(set.EntityType, item)
			if !ok {
				continue
			}
			mentioned := strings.Contains(lower, strings.ToLower(ref.ID))
			if !mentioned && ref.Title != "" {
				mentioned = strings.Contains(lower, strings.ToLower(ref.Title))
			}
			if mentioned {
				out = append(out, ref)
				if len(out) == maxCards {
					return out
				}
			}
		}
	}
	return out
}

// ── Suggested actions ────────────────────────────────────────

// suggestActions matches known action verbs appearing in the reply.
func suggestActions(reply string) []string {
	lower := strings.ToLower(reply)
	var out []string
	for _, verb := range actionVerbs {
		if containsWord(lower, verb) {
			out = append(out, verb)
		}
	}
	return out
}

func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

// ── Table summary ────────────────────────────────────────────

// tableSummary derives a tabular view when the result set is large. Columns
// are the keys shared by every row of the largest set; rows are capped.
func tableSummary(data *models.RetrievedData) *models.TableSummary {
	if data.TotalItems() < tableThreshold {
		return nil
	}

	var largest *models.ResultSet
	for i := range data.Sets {
		if largest == nil || len(data.Sets[i].Items) > len(largest.Items) {
			largest = &data.Sets[i]
		}
	}
	if largest == nil || len(largest.Items) == 0 {
		return nil
	}

	columns := commonKeys(largest.Items)
	if len(columns) == 0 {
		return nil
	}

	rowCount := len(largest.Items)
	truncated := rowCount > maxTableRows
	if truncated {
		rowCount = maxTableRows
	}

	rows := make([][]string, 0, rowCount)
	for _, item := range largest.Items[:rowCount] {
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = stringify(item[col])
		}
		rows = append(rows, row)
	}
	return &models.TableSummary{Columns: columns, Rows: rows, Truncated: truncated}
}

// commonKeys returns the sorted keys present in every row.
func commonKeys(items []map[string]any) []string {
	counts := make(map[string]int)
	for _, item := range items {
		for k := range item {
			counts[k]++
		}
	}
	var keys []string
	for k, n := range counts {
		if n == len(items) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ── Intent heuristic ─────────────────────────────────────────

var intentKeywords = []struct {
	intent   string
	keywords []string
}{
	{"create_reminder", []string{"remind me", "reminder"}},
	{"status", []string{"status", "progress", "how is", "how's"}},
	{"search", []string{"show", "list", "find", "search", "what are", "which"}},
	{"summary", []string{"summarize", "summary", "overview", "recap"}},
	{"action", []string{"assign", "close", "update", "move", "create"}},
}

// classifyIntent buckets a query by keyword. First match wins; the order
// above puts the more specific intents first.
func classifyIntent(query string) string {
	lower := strings.ToLower(query)
	for _, group := range intentKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.intent
			}
		}
	}
	return "general"
}
