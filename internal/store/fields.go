package store

import (
	"encoding/json"
	"time"

	"github.com/cardbank/cardbank/internal/codec"
	"github.com/cardbank/cardbank/internal/model"
)

// Field names on the remote record. Large structured values are stored
// as JSON-encoded strings, one per field.
const (
	FieldCardBank      = "cardBank"
	FieldTopicLists    = "topicLists"
	FieldTopicMetadata = "topicMetadata"
	FieldColorMap      = "colorMapping"
	FieldLastSaved     = "lastSaved"
	FieldUserID        = "userId"

	FieldBox1 = "box1"
	FieldBox2 = "box2"
	FieldBox3 = "box3"
	FieldBox4 = "box4"
	FieldBox5 = "box5"
)

// boxFields indexes the five box-collection fields by box number.
var boxFields = [model.MaxBox + 1]string{"", FieldBox1, FieldBox2, FieldBox3, FieldBox4, FieldBox5}

// RecordFields lists every field this client reads or writes. The
// preserve-fields merge copies forward exactly this set.
var RecordFields = []string{
	FieldCardBank,
	FieldBox1, FieldBox2, FieldBox3, FieldBox4, FieldBox5,
	FieldTopicLists, FieldTopicMetadata, FieldColorMap,
	FieldLastSaved,
}

// Record is the flat field map the remote store exchanges.
type Record map[string]string

// DecodeSnapshot turns a raw record into the client-side model. Every
// field goes through the lenient codec: a corrupted field degrades to
// its empty container and the rest of the record still loads.
func DecodeSnapshot(id string, rec Record) model.Snapshot {
	snap := model.Snapshot{
		RecordID: id,
		Items:    codec.DecodeSlice(rec[FieldCardBank]),
		ColorMap: model.ColorMap{},
	}

	for subject, color := range codec.DecodeMap(rec[FieldColorMap]) {
		if c, ok := color.(string); ok {
			snap.ColorMap[subject] = c
		}
	}

	for _, raw := range codec.DecodeSlice(rec[FieldTopicLists]) {
		if m, ok := raw.(map[string]any); ok {
			var list model.TopicList
			reparse(m, &list)
			snap.TopicLists = append(snap.TopicLists, list)
		}
	}

	for _, raw := range codec.DecodeSlice(rec[FieldTopicMetadata]) {
		if m, ok := raw.(map[string]any); ok {
			var meta model.TopicMetadata
			reparse(m, &meta)
			snap.Metadata = append(snap.Metadata, meta)
		}
	}

	if ts, err := time.Parse(time.RFC3339, rec[FieldLastSaved]); err == nil {
		snap.LastSaved = ts
	}

	return snap
}

// EncodeSnapshot turns the client-side model into the field map to
// write. Box membership is written twice: per-card boxNum inside the
// card bank is the source of truth, and the five box-collection fields
// are derived from it so either encoding reconstructs membership.
func EncodeSnapshot(snap model.Snapshot, now time.Time) Record {
	rec := Record{
		FieldCardBank:      codec.Encode(snap.Items),
		FieldTopicLists:    codec.Encode(snap.TopicLists),
		FieldTopicMetadata: codec.Encode(snap.Metadata),
		FieldColorMap:      codec.Encode(snap.ColorMap),
		FieldLastSaved:     now.Format(time.RFC3339),
	}

	boxes := map[int][]map[string]any{}
	for _, raw := range snap.Items {
		m, ok := raw.(map[string]any)
		if !ok || model.Classify(m) != model.KindCard {
			continue
		}
		c := model.CardFromMap(m)
		box := c.BoxNum
		if box < model.MinBox || box > model.MaxBox {
			box = model.MinBox
		}
		boxes[box] = append(boxes[box], map[string]any{
			"cardId":         c.ID,
			"lastReviewed":   m["lastReviewed"],
			"nextReviewDate": m["nextReviewDate"],
		})
	}
	for box := model.MinBox; box <= model.MaxBox; box++ {
		entries := boxes[box]
		if entries == nil {
			entries = []map[string]any{}
		}
		rec[boxFields[box]] = codec.Encode(entries)
	}

	return rec
}

func reparse(m map[string]any, out any) {
	// Best effort: invalid entries leave the zero value in place.
	_ = json.Unmarshal([]byte(codec.Encode(m)), out)
}
