package roster

import "fmt"

// Action is the reviewer's decision for one row.
type Action int

// Resolution actions. The zero value is not a valid action.
const (
	ActionSkip Action = iota + 1
	ActionMerge
	ActionCreateNew
)

// String returns the wire name of the action.
func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionMerge:
		return "merge"
	case ActionCreateNew:
		return "create_new"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// ParseAction converts a wire name to an Action.
func ParseAction(s string) (Action, error) {
	switch s {
	case "skip":
		return ActionSkip, nil
	case "merge":
		return ActionMerge, nil
	case "create_new":
		return ActionCreateNew, nil
	}
	return 0, fmt.Errorf("%w: unknown action %q", ErrInvalidResolution, s)
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	switch a {
	case ActionSkip, ActionMerge, ActionCreateNew:
		return []byte(a.String()), nil
	}
	return nil, fmt.Errorf("invalid action %d", int(a))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Resolution is one entry of a ResolutionRequest.
type Resolution struct {
	RowIndex int    `json:"row_index"`
	Action   Action `json:"action"`
}

// ResolutionRequest is the body of an execute call.
type ResolutionRequest struct {
	JobID       string       `json:"job_id"`
	Resolutions []Resolution `json:"resolutions"`
}

// Actions folds the resolution list into a row_index -> Action map.
// Repeating a row with the same action is tolerated; contradicting
// actions for one row are rejected.
func (r ResolutionRequest) Actions() (map[int]Action, error) {
	actions := make(map[int]Action, len(r.Resolutions))
	for _, res := range r.Resolutions {
		if res.Action == 0 {
			return nil, fmt.Errorf("%w: row %d has no action", ErrInvalidResolution, res.RowIndex)
		}
		if prev, ok := actions[res.RowIndex]; ok && prev != res.Action {
			return nil, fmt.Errorf("%w: row %d resolved as both %s and %s",
				ErrInvalidResolution, res.RowIndex, prev, res.Action)
		}
		actions[res.RowIndex] = res.Action
	}
	return actions, nil
}
