package channelimport

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrIntegrity means an import finished without a resolvable root node.
	ErrIntegrity = errors.New("channel has no resolvable root node")

	// ErrChannelMismatch means the source describes a different channel than
	// the one requested.
	ErrChannelMismatch = errors.New("source channel does not match requested channel")
)

// IntegrityError reports a channel whose root reference is dangling.
type IntegrityError struct {
	ChannelID string
	RootID    string
}

func (e *IntegrityError) Error() string {
	if e.RootID == "" {
		return fmt.Sprintf("channel %s: %v (root unset)", e.ChannelID, ErrIntegrity)
	}
	return fmt.Sprintf("channel %s: %v (root %s)", e.ChannelID, ErrIntegrity, e.RootID)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

// Action is the reconciler's verdict for one import.
type Action string

const (
	// ActionImport writes a channel the destination does not have yet.
	ActionImport Action = "import"
	// ActionReplace purges the older version and writes the new one.
	ActionReplace Action = "replace"
	// ActionMerge adds a partial payload to a channel of the same version.
	ActionMerge Action = "merge"
	// ActionSkip leaves the destination untouched.
	ActionSkip Action = "skip"
)

// Skip reasons.
const (
	ReasonUpToDate        = "already up to date"
	ReasonPartialMismatch = "partial payload mismatch"
)

// Existing is the destination's current state for a channel.
type Existing struct {
	Version int64
	Partial bool
}

// Decision is what the reconciler chose to do.
type Decision struct {
	Action Action
	Purge  bool
	Reason string
}

// Proceed reports whether the import writes anything.
func (d Decision) Proceed() bool { return d.Action != ActionSkip }

// Decide applies the version rules. existing is nil when the destination
// has no such channel.
//
// A partial payload only ever merges into the same version. Any other
// version relation skips, even a newer one: partial slices are combined
// by repeated calls, never reconciled against a different version.
func Decide(existing *Existing, incoming int64, partial bool) Decision {
	if existing == nil {
		return Decision{Action: ActionImport}
	}
	if partial {
		if incoming == existing.Version {
			return Decision{Action: ActionMerge}
		}
		return Decision{Action: ActionSkip, Reason: ReasonPartialMismatch}
	}
	if incoming > existing.Version {
		return Decision{Action: ActionReplace, Purge: true}
	}
	return Decision{Action: ActionSkip, Reason: ReasonUpToDate}
}

// FindUniqueTreeID returns the smallest positive tree id not in used.
func FindUniqueTreeID(used []int64) int64 {
	ids := slices.Clone(used)
	slices.Sort(ids)

	next := int64(1)
	for _, id := range ids {
		if id < next {
			continue
		}
		if id > next {
			break
		}
		next++
	}
	return next
}
