package dialog_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"buildrelay.app/relay/internal/dialog"
)

var _ = Describe("Transitions", func() {
	rows := dialog.Transitions()

	find := func(w dialog.Wizard, from dialog.State, a dialog.ActionKind) (dialog.Transition, bool) {
		for _, t := range rows {
			if t.Wizard == w && t.From == from && t.Action == a {
				return t, true
			}
		}
		return dialog.Transition{}, false
	}

	DescribeTable("allows cancel from every state before Done",
		func(w dialog.Wizard, from dialog.State) {
			t, ok := find(w, from, dialog.ActionCancel)
			Expect(ok).To(BeTrue())
			Expect(t.To).To(Equal(dialog.StateIdle))
		},
		Entry("setup idle", dialog.WizardSetup, dialog.StateIdle),
		Entry("setup folder", dialog.WizardSetup, dialog.StateAwaitingFolder),
		Entry("setup job", dialog.WizardSetup, dialog.StateAwaitingJob),
		Entry("build idle", dialog.WizardBuild, dialog.StateIdle),
		Entry("build branch", dialog.WizardBuild, dialog.StateAwaitingBranch),
		Entry("build target", dialog.WizardBuild, dialog.StateAwaitingTarget),
	)

	DescribeTable("walks each wizard forward",
		func(w dialog.Wizard, from dialog.State, a dialog.ActionKind, to dialog.State, effect string, terminal bool) {
			t, ok := find(w, from, a)
			Expect(ok).To(BeTrue())
			Expect(t.To).To(Equal(to))
			Expect(t.Effect).To(Equal(effect))
			Expect(t.Terminal).To(Equal(terminal))
		},
		Entry(nil, dialog.WizardSetup, dialog.StateIdle, dialog.ActionStart, dialog.StateAwaitingFolder, "list_folders", false),
		Entry(nil, dialog.WizardSetup, dialog.StateAwaitingFolder, dialog.ActionChoose, dialog.StateAwaitingJob, "list_jobs", false),
		Entry(nil, dialog.WizardSetup, dialog.StateAwaitingJob, dialog.ActionBack, dialog.StateAwaitingFolder, "show_folders", false),
		Entry(nil, dialog.WizardSetup, dialog.StateAwaitingJob, dialog.ActionChoose, dialog.StateDone, "link_job", true),
		Entry(nil, dialog.WizardBuild, dialog.StateIdle, dialog.ActionStart, dialog.StateAwaitingBranch, "load_params", false),
		Entry(nil, dialog.WizardBuild, dialog.StateAwaitingBranch, dialog.ActionChoose, dialog.StateAwaitingTarget, "show_targets", false),
		Entry(nil, dialog.WizardBuild, dialog.StateAwaitingTarget, dialog.ActionBack, dialog.StateAwaitingBranch, "show_branches", false),
		Entry(nil, dialog.WizardBuild, dialog.StateAwaitingTarget, dialog.ActionChoose, dialog.StateDone, "trigger_build", true),
	)

	It("has no way out of Done", func() {
		for _, t := range rows {
			Expect(t.From).NotTo(Equal(dialog.StateDone))
		}
	})

	It("does not go back from the first step", func() {
		_, ok := find(dialog.WizardSetup, dialog.StateAwaitingFolder, dialog.ActionBack)
		Expect(ok).To(BeFalse())
		_, ok = find(dialog.WizardBuild, dialog.StateAwaitingBranch, dialog.ActionBack)
		Expect(ok).To(BeFalse())
	})

	It("lists rows in a stable order", func() {
		Expect(dialog.Transitions()).To(Equal(rows))
		Expect(rows).To(HaveLen(14))
	})
})
