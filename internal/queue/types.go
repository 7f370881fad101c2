package queue

import (
	"errors"
	"time"
)

// RevisionUnknown is the sentinel revision tag recorded when the caller could
// not supply one.
const RevisionUnknown = "unknown"

// Item is one pending unit of documentation work, keyed by target. The queue
// holds at most one Item per distinct target; re-adding a target replaces the
// existing entry and its timestamp.
type Item struct {
	// Target is the logical identifier of the thing to process, typically
	// a file path relative to the repository root.
	Target string `json:"target"`

	// Revision is a caller-supplied correlation token, e.g. a commit hash.
	Revision string `json:"revision"`

	// EnqueuedAt is set at insertion time and used for age reporting.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewItem builds an Item with the timestamp set to now and the revision
// defaulted to RevisionUnknown when empty.
func NewItem(target, revision string) Item {
	if revision == "" {
		revision = RevisionUnknown
	}
	return Item{
		Target:     target,
		Revision:   revision,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Stats summarizes the pending queue for operators and the watch TUI.
type Stats struct {
	Count       int            `json:"count"`
	Oldest      *time.Time     `json:"oldest,omitempty"`
	Newest      *time.Time     `json:"newest,omitempty"`
	SizeBytes   int64          `json:"size_bytes"`
	ByExtension map[string]int `json:"by_extension"`
}

// ErrTargetEmpty rejects items without a target key.
var ErrTargetEmpty = errors.New("item target is empty")

// document is the on-disk shape of the queue backing file.
type document struct {
	Version int    `json:"version"`
	Items   []Item `json:"items"`
}

const documentVersion = 1
