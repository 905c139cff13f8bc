package model

// Kind is the inferred type of an untyped collection item.
type Kind string

const (
	KindCard  Kind = TypeCard
	KindTopic Kind = TypeTopic
)

// cardMarkers are fields only cards carry. topicMarkers are fields only
// shells carry. An explicit type tag always wins over markers.
var cardMarkers = []string{"topicId", "question", "answer", "front", "back", "boxNum"}

// Classify infers whether an untyped item is a card or a topic shell.
//
// The remote collection is schemaless, so legacy items may arrive with
// no type tag at all. Ambiguous items default to card: cards are the
// common case and a misfiled card is recoverable, while a user-authored
// card silently reclassified as an empty shell would vanish.
func Classify(item map[string]any) Kind {
	if item == nil {
		return KindCard
	}

	// Trust an existing tag.
	if t, ok := item["type"].(string); ok {
		switch t {
		case TypeCard:
			return KindCard
		case TypeTopic:
			return KindTopic
		}
	}

	for _, f := range cardMarkers {
		if v, ok := item[f]; ok && !isZeroValue(v) {
			return KindCard
		}
	}

	if v, ok := item["isShell"].(bool); ok && v {
		return KindTopic
	}
	if v, ok := item["name"]; ok && !isZeroValue(v) {
		return KindTopic
	}
	if v, ok := item["topic"]; ok && !isZeroValue(v) {
		return KindTopic
	}

	return KindCard
}

// SplitByType partitions a mixed collection into shells and cards.
//
// Non-map entries are skipped and non-slice input yields empty
// partitions; a corrupted collection must not block processing of the
// rest of the record.
func SplitByType(items []any) (shells, cards []map[string]any) {
	shells = []map[string]any{}
	cards = []map[string]any{}
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch Classify(item) {
		case KindTopic:
			shells = append(shells, item)
		default:
			cards = append(cards, item)
		}
	}
	return shells, cards
}

// isZeroValue reports whether a decoded JSON value is empty enough to
// ignore as a classification marker.
func isZeroValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case float64:
		return t == 0
	case bool:
		return !t
	}
	return false
}
