package stage

// MatchListKey is the WCS stage's list of source/reference-catalog matches.
const MatchListKey = "matchList"

// TruncationRule disables the dependents of Key for the rest of a run when
// the stage After leaves Key absent or empty.
type TruncationRule struct {
	After ID
	Key   string
}

// DefaultTruncationRules holds the single data-dependent rule: without
// astrometric matches there is nothing to verify or calibrate against.
var DefaultTruncationRules = []TruncationRule{
	{After: WCS, Key: MatchListKey},
}

// TruncationEvent records a rule that removed scheduled stages.
type TruncationEvent struct {
	After    ID     `json:"after"`
	Key      string `json:"key"`
	Disabled Mask   `json:"disabled"`
}

// apply returns the stages of remaining that rule removes given the current
// context, or None if the rule does not fire.
func (rule TruncationRule) apply(r *Registry, c *Context, remaining Mask) Mask {
	v, ok := c.Get(rule.Key)
	if ok && !IsEmpty(v) {
		return None
	}
	return remaining.Intersect(r.Dependents(rule.Key))
}
