package stage

import (
	"encoding/json"
	"fmt"
)

// Kind is the terminal state of a run.
type Kind int

const (
	Completed Kind = iota
	Truncated
	Failed
)

func (k Kind) String() string {
	switch k {
	case Completed:
		return "completed"
	case Truncated:
		return "truncated"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "completed":
		*k = Completed
	case "truncated":
		*k = Truncated
	case "failed":
		*k = Failed
	default:
		return fmt.Errorf("unknown outcome kind %q", b)
	}
	return nil
}

// MarshalText renders the mask with String.
func (m Mask) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses the mask with ParseMask.
func (m *Mask) UnmarshalText(b []byte) error {
	parsed, err := ParseMask(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalText renders the stage name.
func (id ID) MarshalText() ([]byte, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("invalid stage %d", uint8(id))
	}
	return []byte(id.String()), nil
}

// UnmarshalText parses a stage name.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Outcome is the result of a run. Completed and Truncated outcomes may be
// published; a Failed outcome carries the partial context for diagnostics
// only.
type Outcome struct {
	RunID       string
	Kind        Kind
	Requested   Mask
	Enabled     Mask
	Ran         []ID
	Context     *Context
	Truncations []TruncationEvent
	Warnings    []string
	// FailedStage is set when Kind is Failed and a specific stage was at fault.
	FailedStage *ID
	Err         error
}

// RanMask returns the stages that ran as a mask.
func (o *Outcome) RanMask() Mask {
	return MaskOf(o.Ran...)
}

// Publishable reports whether the outcome may be handed to a publisher.
func (o *Outcome) Publishable() bool {
	return o.Kind != Failed
}

type outcomeJSON struct {
	RunID       string            `json:"run_id"`
	Kind        Kind              `json:"kind"`
	Requested   Mask              `json:"requested"`
	Enabled     Mask              `json:"enabled"`
	Ran         []ID              `json:"ran"`
	ContextKeys []string          `json:"context_keys"`
	Truncations []TruncationEvent `json:"truncations,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
	FailedStage *ID               `json:"failed_stage,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// MarshalJSON summarises the outcome; context values are reduced to their keys.
func (o *Outcome) MarshalJSON() ([]byte, error) {
	out := outcomeJSON{
		RunID:       o.RunID,
		Kind:        o.Kind,
		Requested:   o.Requested,
		Enabled:     o.Enabled,
		Ran:         o.Ran,
		Truncations: o.Truncations,
		Warnings:    o.Warnings,
		FailedStage: o.FailedStage,
	}
	if out.Ran == nil {
		out.Ran = []ID{}
	}
	if o.Context != nil {
		out.ContextKeys = o.Context.Keys()
	}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	return json.Marshal(out)
}
