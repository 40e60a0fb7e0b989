package gwtypes

import "time"

// UserState is the per-user record consumed by the token accountant and the
// preference resolver.
type UserState struct {
	UserID              string
	WeeklyTokenBudget    int64
	BonusTokens          int64
	ConsumedThisWeek     int64
	WeekStart            time.Time
	PreferredModel       string // empty / sentinel means "use router"
	TemperatureOverride  *float64
	ThinkingOverride     *bool
	// SummarizationOptIn, when true, makes the context builder's decision to
	// summarise a conversation's history visible to the user as a
	// notification frame rather than a silent internal fallback.
	SummarizationOptIn bool
}

// PreferredModelSentinel is the value user-facing clients send to mean
// "no preference, use the router's choice". It is treated identically to
// an empty string.
const PreferredModelSentinel = "auto"

// EffectivePreferredModel returns the user's preferred model, or "" if the
// user has none set (covers both the empty string and the sentinel).
func (u *UserState) EffectivePreferredModel() string {
	if u.PreferredModel == "" || u.PreferredModel == PreferredModelSentinel {
		return ""
	}
	return u.PreferredModel
}

// Remaining returns the tokens left in the current week, which may be
// negative if a race has allowed a temporary overshoot (accepted per §5).
func (u *UserState) Remaining() int64 {
	return u.WeeklyTokenBudget + u.BonusTokens - u.ConsumedThisWeek
}
