package model

import "time"

// TopicEntry is one declared topic inside a topic list. The id is
// optional: the topic builder may submit entries before a shell exists.
type TopicEntry struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// TopicList is a per-subject declaration of which topics exist,
// independent of whether shells or cards exist yet. Lists are merged
// into the remote field keyed by subject, never replaced wholesale.
type TopicList struct {
	Subject   string       `json:"subject"`
	ExamBoard string       `json:"examBoard,omitempty"`
	ExamType  string       `json:"examType,omitempty"`
	Topics    []TopicEntry `json:"topics"`
}

// TopicMetadata is auxiliary per-topic bookkeeping. Entries are merged
// by composite key: topicId when present, otherwise subject_<name>.
type TopicMetadata struct {
	TopicID     string    `json:"topicId,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	Name        string    `json:"name,omitempty"`
	LastUpdated time.Time `json:"lastUpdated,omitempty"`
}

// Key returns the merge identity for a metadata entry.
func (m TopicMetadata) Key() string {
	if m.TopicID != "" {
		return m.TopicID
	}
	return m.Subject + "_" + m.Name
}

// ColorMap maps subject name to its base hex color. The map spans the
// whole record lifetime and is only ever extended, never shrunk.
type ColorMap map[string]string

// Clone returns a copy so callers can extend without aliasing.
func (cm ColorMap) Clone() ColorMap {
	out := make(ColorMap, len(cm))
	for k, v := range cm {
		out[k] = v
	}
	return out
}

// Snapshot is the fully-decoded client-side view of one remote record.
type Snapshot struct {
	RecordID   string          `json:"recordId,omitempty"`
	Items      []any           `json:"cards"`
	TopicLists []TopicList     `json:"topicLists,omitempty"`
	Metadata   []TopicMetadata `json:"topicMetadata,omitempty"`
	ColorMap   ColorMap        `json:"colorMapping,omitempty"`
	LastSaved  time.Time       `json:"lastSaved,omitempty"`
}
