// Package types defines the shared narration types used across voicepages
// packages.
//
// Each package keeps its own domain types, but data that crosses the
// detection, casting, segmentation and synthesis boundaries lives here to
// avoid circular imports.
package types

import (
	"fmt"
	"strings"
)

// NarratorName is the speaker name used for narration and for any dialogue
// whose speaker cannot be attributed to a known character.
const NarratorName = "Narrator"

// Gender is the coarse voice gender used to pick a voice pool.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = "unknown"
)

// ParseGender maps free-form input (as returned by an LLM or stored in a
// database) to a [Gender]. Anything unrecognised becomes [GenderUnknown].
func ParseGender(s string) Gender {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male", "m", "man", "boy":
		return GenderMale
	case "female", "f", "woman", "girl":
		return GenderFemale
	}
	return GenderUnknown
}

// IsValid reports whether g is one of the known gender values.
func (g Gender) IsValid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderUnknown:
		return true
	}
	return false
}

// Role ranks a character's importance in the story. Voice assignment hands
// out distinct voices in role order.
type Role string

const (
	RoleMain       Role = "main"
	RoleSupporting Role = "supporting"
	RoleMinor      Role = "minor"

	// RoleSystem marks the narrator pseudo-character.
	RoleSystem Role = "system"
)

// ParseRole maps free-form input to a [Role]. Unrecognised values become
// [RoleMinor].
func ParseRole(s string) Role {
	s = strings.ToLower(strings.TrimSpace(s))
	switch Role(s) {
	case RoleMain, RoleSupporting, RoleMinor, RoleSystem:
		return Role(s)
	}
	switch s {
	case "protagonist", "primary", "lead":
		return RoleMain
	case "secondary", "support":
		return RoleSupporting
	case "narrator":
		return RoleSystem
	}
	return RoleMinor
}

// Priority returns the sort rank of r: main=0, supporting=1, minor=2,
// system=3. Unknown roles sort with minor.
func (r Role) Priority() int {
	switch r {
	case RoleMain:
		return 0
	case RoleSupporting:
		return 1
	case RoleSystem:
		return 3
	default:
		return 2
	}
}

// Character is a named speaking entity detected in a book.
type Character struct {
	// Name is the display name as it appears in the text (e.g., "Alice").
	Name string `json:"name"`

	Gender Gender `json:"gender"`
	Role   Role   `json:"role"`

	// Description is a short free-text note. Heuristic detection fills in a
	// generic description; LLM detection uses the model's summary.
	Description string `json:"description,omitempty"`

	// Mentions is the number of attributed occurrences found by heuristic
	// detection. Zero when detected by an LLM.
	Mentions int `json:"mentions,omitempty"`

	// Confidence is in [0, 1]. Heuristic detection reports mentions relative
	// to the most frequent character; LLM detection reports 1.
	Confidence float64 `json:"confidence,omitempty"`
}

// IsNarrator reports whether c is the narrator pseudo-character.
func (c Character) IsNarrator() bool {
	return c.Role == RoleSystem || c.Name == NarratorName
}

// VoiceProfile is an immutable entry in the voice catalog.
type VoiceProfile struct {
	// ID is the backend voice identifier (e.g., "af_samantha").
	ID string `json:"id" yaml:"id"`

	// Name is the human-readable display name.
	Name string `json:"name" yaml:"name"`

	Gender Gender `json:"gender" yaml:"gender"`

	// Accent is a free-text accent label such as "american" or "british".
	Accent string `json:"accent" yaml:"accent"`

	// Style is a short descriptor ("warm", "deep") used in assignment
	// reasoning.
	Style string `json:"style" yaml:"style"`
}

// String returns "Name (id)".
func (v VoiceProfile) String() string {
	return fmt.Sprintf("%s (%s)", v.Name, v.ID)
}

// SegmentKind distinguishes narration from quoted dialogue.
type SegmentKind string

const (
	SegmentNarration SegmentKind = "narration"
	SegmentDialogue  SegmentKind = "dialogue"
)

// Segment is a contiguous span of chapter text attributed to one speaker.
type Segment struct {
	// Speaker is a character name or [NarratorName].
	Speaker string `json:"speaker"`

	// Text is the trimmed text to synthesise. For dialogue this is the quoted
	// content without the quote marks.
	Text string `json:"text"`

	Kind SegmentKind `json:"kind"`

	// Start and End are byte offsets of the source span in the chapter text.
	// Spans of consecutive segments never overlap.
	Start int `json:"start"`
	End   int `json:"end"`
}

// VoiceAssignment records which catalog voice a character was given and why.
type VoiceAssignment struct {
	Character string `json:"character"`
	VoiceID   string `json:"voice_id"`
	VoiceName string `json:"voice_name"`
	Reasoning string `json:"reasoning"`
}

// CharacterRecord is the persisted per-book view of a character and its
// voice. IsNarrator is authoritative: a record flagged as narrator supplies
// the narrator voice regardless of its Name.
type CharacterRecord struct {
	Name       string `json:"name"`
	Gender     Gender `json:"gender"`
	Role       Role   `json:"role,omitempty"`
	VoiceID    string `json:"voice_id"`
	IsNarrator bool   `json:"is_narrator"`
}

// Bookmark is a listener's reading position in a book: a chapter key and
// an offset in seconds into that chapter's audio.
type Bookmark struct {
	Chapter  string  `json:"chapter"`
	Position float64 `json:"position"`
}

// DefaultBookmark is the position of a book nobody has bookmarked yet.
var DefaultBookmark = Bookmark{Chapter: "1"}
