package agreement

// Status is the lifecycle state of a version. Transitions are monotonic:
// draft -> published -> retired, nothing skips, nothing reverses.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusRetired   Status = "retired"
)

// CanTransitionTo reports whether moving from s to next is legal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusPublished
	case StatusPublished:
		return next == StatusRetired
	default:
		return false
	}
}

// IsEditable is true only while the version is a draft.
func (v *Version) IsEditable() bool {
	return v.Status == StatusDraft
}

// IsAcceptable is true only while the version is published. Retired versions
// stay readable and auditable but cannot be newly accepted against.
func (v *Version) IsAcceptable() bool {
	return v.Status == StatusPublished
}
