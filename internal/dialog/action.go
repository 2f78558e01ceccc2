package dialog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Wizard string

const (
	WizardSetup Wizard = "setup"
	WizardBuild Wizard = "build"
)

var wizardCodes = map[Wizard]string{
	WizardSetup: "s",
	WizardBuild: "b",
}

func wizardFromCode(code string) (Wizard, bool) {
	for w, c := range wizardCodes {
		if c == code {
			return w, true
		}
	}
	return "", false
}

type ActionKind int

const (
	ActionStart ActionKind = iota + 1
	ActionChoose
	ActionBack
	ActionCancel
)

func (k ActionKind) String() string {
	switch k {
	case ActionStart:
		return "start"
	case ActionChoose:
		return "choose"
	case ActionBack:
		return "back"
	case ActionCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

var kindCodes = map[ActionKind]string{
	ActionStart:  "start",
	ActionChoose: "c",
	ActionBack:   "back",
	ActionCancel: "x",
}

// Action is a decoded button press. Rev is the session revision the button
// was rendered at and Index points into the options shown at that revision.
type Action struct {
	Wizard Wizard
	Kind   ActionKind
	Rev    int
	Index  int
}

var ErrMalformedAction = errors.New("malformed action")

// Encode renders the action as callback data:
//
//	s:start      b:x
//	s:x:2        b:back:3
//	b:c:3:1
func (a Action) Encode() string {
	parts := []string{wizardCodes[a.Wizard], kindCodes[a.Kind]}
	if a.Kind == ActionChoose || (a.Kind != ActionStart && a.Rev > 0) {
		parts = append(parts, strconv.Itoa(a.Rev))
	}
	if a.Kind == ActionChoose {
		parts = append(parts, strconv.Itoa(a.Index))
	}
	return strings.Join(parts, ":")
}

func ParseAction(data string) (Action, error) {
	parts := strings.Split(data, ":")
	if len(parts) < 2 || len(parts) > 4 {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformedAction, data)
	}

	w, ok := wizardFromCode(parts[0])
	if !ok {
		return Action{}, fmt.Errorf("%w: unknown wizard in %q", ErrMalformedAction, data)
	}
	a := Action{Wizard: w}

	nums := make([]int, 0, 2)
	for _, p := range parts[2:] {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Action{}, fmt.Errorf("%w: bad number in %q", ErrMalformedAction, data)
		}
		nums = append(nums, n)
	}

	switch parts[1] {
	case kindCodes[ActionStart]:
		if len(nums) != 0 {
			return Action{}, fmt.Errorf("%w: %q", ErrMalformedAction, data)
		}
		a.Kind = ActionStart
	case kindCodes[ActionChoose]:
		if len(nums) != 2 {
			return Action{}, fmt.Errorf("%w: choice needs revision and index in %q", ErrMalformedAction, data)
		}
		a.Kind, a.Rev, a.Index = ActionChoose, nums[0], nums[1]
	case kindCodes[ActionBack], kindCodes[ActionCancel]:
		if len(nums) > 1 {
			return Action{}, fmt.Errorf("%w: %q", ErrMalformedAction, data)
		}
		a.Kind = ActionBack
		if parts[1] == kindCodes[ActionCancel] {
			a.Kind = ActionCancel
		}
		if len(nums) == 1 {
			a.Rev = nums[0]
		}
	default:
		return Action{}, fmt.Errorf("%w: unknown kind in %q", ErrMalformedAction, data)
	}
	return a, nil
}
