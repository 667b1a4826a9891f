package kerntypes

// SessionEntryKind discriminates the SessionEntry sum type.
type SessionEntryKind string

const (
	EntryMessage       SessionEntryKind = "message"
	EntryCompaction    SessionEntryKind = "compaction"
	EntryLabel         SessionEntryKind = "label"
	EntryCustomMessage SessionEntryKind = "custom_message"
)

// MessageRole is the role of a message-kind SessionEntry.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// SessionEntry is the append-only unit of a session's transcript. Exactly
// one of the typed payload fields is populated, selected by Kind — modelled
// as a tagged union (a discriminated struct, not an interface hierarchy) so
// callers exhaustively switch on Kind rather than type-assert.
type SessionEntry struct {
	ID   string           `json:"id"`
	Kind SessionEntryKind `json:"kind"`

	Message       *MessageEntry       `json:"message,omitempty"`
	Compaction    *CompactionEntry    `json:"compaction,omitempty"`
	Label         *LabelEntry         `json:"label,omitempty"`
	CustomMessage *CustomMessageEntry `json:"customMessage,omitempty"`
}

// MessageEntry is the payload of a message-kind SessionEntry.
type MessageEntry struct {
	Role MessageRole `json:"role"`
	Text string      `json:"text"`
}

// CompactionEntry is the payload of a compaction-kind SessionEntry: a
// record left in the transcript describing what was folded into the
// running summary.
type CompactionEntry struct {
	Reason           string `json:"reason"` // "overflow" | "threshold"
	Summary          string `json:"summary"`
	FirstKeptEntryID string `json:"firstKeptEntryId"`
	TokensBefore     int    `json:"tokensBefore"`
	TokensAfter      int    `json:"tokensAfter"`
}

// LabelEntry is the payload of a label-kind SessionEntry.
type LabelEntry struct {
	Label string `json:"label"`
}

// CustomMessageLevel is the severity of a CustomMessageEntry.
type CustomMessageLevel string

const (
	LevelInfo  CustomMessageLevel = "info"
	LevelWarn  CustomMessageLevel = "warn"
	LevelError CustomMessageLevel = "error"
)

// CustomMessageEntry is the payload of a custom_message-kind SessionEntry.
type CustomMessageEntry struct {
	Level CustomMessageLevel `json:"level"`
	Text  string              `json:"text"`
}

// NewMessageEntry builds a message SessionEntry with a fresh id.
func NewMessageEntry(role MessageRole, text string) SessionEntry {
	return SessionEntry{ID: RandomID(), Kind: EntryMessage, Message: &MessageEntry{Role: role, Text: text}}
}

// NewCompactionEntry builds a compaction SessionEntry with a fresh id.
func NewCompactionEntry(reason, summary, firstKeptEntryID string, tokensBefore, tokensAfter int) SessionEntry {
	return SessionEntry{
		ID:   RandomID(),
		Kind: EntryCompaction,
		Compaction: &CompactionEntry{
			Reason:           reason,
			Summary:          summary,
			FirstKeptEntryID: firstKeptEntryID,
			TokensBefore:     tokensBefore,
			TokensAfter:      tokensAfter,
		},
	}
}

// Text returns the serialised line-form of the entry used for token
// accounting and for building the "dropped block" summary text. Every kind
// renders to a single line; exhaustive over SessionEntryKind.
func (e SessionEntry) Text() string {
	switch e.Kind {
	case EntryMessage:
		if e.Message == nil {
			return ""
		}
		return string(e.Message.Role) + ": " + e.Message.Text
	case EntryCompaction:
		if e.Compaction == nil {
			return ""
		}
		return "[compaction:" + e.Compaction.Reason + "] " + e.Compaction.Summary
	case EntryLabel:
		if e.Label == nil {
			return ""
		}
		return "[label] " + e.Label.Label
	case EntryCustomMessage:
		if e.CustomMessage == nil {
			return ""
		}
		return "[" + string(e.CustomMessage.Level) + "] " + e.CustomMessage.Text
	default:
		return ""
	}
}

// IsMessage reports whether the entry is a message entry, optionally also
// checking its role against the allowed set.
func (e SessionEntry) IsMessage(roles ...MessageRole) bool {
	if e.Kind != EntryMessage || e.Message == nil {
		return false
	}
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if e.Message.Role == r {
			return true
		}
	}
	return false
}

// SessionContext is what the external session store hands back when asked
// to build the context for a session: the ordered entries plus the
// monotonically folded summary of everything already pruned.
type SessionContext struct {
	Entries         []SessionEntry `json:"entries"`
	PreviousSummary string         `json:"previousSummary"`
}
