package dialog

import "sort"

type effect int

const (
	effectListFolders effect = iota + 1
	effectListJobs
	effectShowFolders
	effectLinkJob
	effectLoadParams
	effectShowTargets
	effectShowBranches
	effectTrigger
	effectCancel
)

func (e effect) String() string {
	switch e {
	case effectListFolders:
		return "list_folders"
	case effectListJobs:
		return "list_jobs"
	case effectShowFolders:
		return "show_folders"
	case effectLinkJob:
		return "link_job"
	case effectLoadParams:
		return "load_params"
	case effectShowTargets:
		return "show_targets"
	case effectShowBranches:
		return "show_branches"
	case effectTrigger:
		return "trigger_build"
	case effectCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

type transitionKey struct {
	wizard Wizard
	state  State
	kind   ActionKind
}

type rule struct {
	next     State
	effect   effect
	terminal bool
}

var transitions = map[transitionKey]rule{
	{WizardSetup, StateIdle, ActionStart}:            {next: StateAwaitingFolder, effect: effectListFolders},
	{WizardSetup, StateAwaitingFolder, ActionChoose}: {next: StateAwaitingJob, effect: effectListJobs},
	{WizardSetup, StateAwaitingJob, ActionBack}:      {next: StateAwaitingFolder, effect: effectShowFolders},
	{WizardSetup, StateAwaitingJob, ActionChoose}:    {next: StateDone, effect: effectLinkJob, terminal: true},
	{WizardSetup, StateIdle, ActionCancel}:           {next: StateIdle, effect: effectCancel, terminal: true},
	{WizardSetup, StateAwaitingFolder, ActionCancel}: {next: StateIdle, effect: effectCancel, terminal: true},
	{WizardSetup, StateAwaitingJob, ActionCancel}:    {next: StateIdle, effect: effectCancel, terminal: true},

	{WizardBuild, StateIdle, ActionStart}:            {next: StateAwaitingBranch, effect: effectLoadParams},
	{WizardBuild, StateAwaitingBranch, ActionChoose}: {next: StateAwaitingTarget, effect: effectShowTargets},
	{WizardBuild, StateAwaitingTarget, ActionBack}:   {next: StateAwaitingBranch, effect: effectShowBranches},
	{WizardBuild, StateAwaitingTarget, ActionChoose}: {next: StateDone, effect: effectTrigger, terminal: true},
	{WizardBuild, StateIdle, ActionCancel}:           {next: StateIdle, effect: effectCancel, terminal: true},
	{WizardBuild, StateAwaitingBranch, ActionCancel}: {next: StateIdle, effect: effectCancel, terminal: true},
	{WizardBuild, StateAwaitingTarget, ActionCancel}: {next: StateIdle, effect: effectCancel, terminal: true},
}

func lookup(w Wizard, s State, k ActionKind) (rule, bool) {
	r, ok := transitions[transitionKey{wizard: w, state: s, kind: k}]
	return r, ok
}

// Transition is one row of the wizard table.
type Transition struct {
	Wizard   Wizard
	From     State
	Action   ActionKind
	To       State
	Effect   string
	Terminal bool
}

// Transitions lists the table in a stable order.
func Transitions() []Transition {
	out := make([]Transition, 0, len(transitions))
	for k, r := range transitions {
		out = append(out, Transition{
			Wizard:   k.wizard,
			From:     k.state,
			Action:   k.kind,
			To:       r.next,
			Effect:   r.effect.String(),
			Terminal: r.terminal,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Wizard != out[j].Wizard {
			return out[i].Wizard < out[j].Wizard
		}
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].Action < out[j].Action
	})
	return out
}
