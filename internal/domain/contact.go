package domain

// Contact holds the addressing data needed to reach a user on a channel.
// Email and Phone may each be empty when the user has nothing on file.
type Contact struct {
	UserID      string
	Email       string
	Phone       string
	DisplayName string
}

// PreferenceSet is a user's per-category channel enablement.
// A channel absent from the map counts as enabled (fail-open).
type PreferenceSet map[Channel]bool

// Enabled reports whether the channel may be used for this category.
func (p PreferenceSet) Enabled(c Channel) bool {
	if p == nil {
		return true
	}
	enabled, ok := p[c]
	if !ok {
		return true
	}
	return enabled
}
