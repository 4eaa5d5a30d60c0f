package domain

import "fmt"

// TargetKind classifies the conversation context.
type TargetKind string

const (
	TargetDirect TargetKind = "direct"
	TargetGroup  TargetKind = "group"
)

// Target identifies the conversation a channel is bound to. It is immutable
// for the lifetime of a connection; switching conversations means opening a
// new channel with a new Target.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   int64      `json:"id"`
}

// DirectTarget returns a target for a one-to-one conversation with userID.
func DirectTarget(userID int64) Target {
	return Target{Kind: TargetDirect, ID: userID}
}

// GroupTarget returns a target for the group conversation of projectID.
func GroupTarget(projectID int64) Target {
	return Target{Kind: TargetGroup, ID: projectID}
}

// IsZero reports whether no conversation is bound.
func (t Target) IsZero() bool { return t.Kind == "" && t.ID == 0 }

// Path returns the channel address suffix for this target,
// e.g. "chat/direct/42".
func (t Target) Path() string {
	return fmt.Sprintf("chat/%s/%d", t.Kind, t.ID)
}

func (t Target) String() string {
	if t.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s:%d", t.Kind, t.ID)
}
