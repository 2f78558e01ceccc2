package dialog

import (
	"fmt"

	"buildrelay.app/relay/internal/chat"
)

const (
	msgNotOwner      = "You are not the one who initiated this command."
	msgBusy          = "Please wait, still working on your last choice."
	msgCommitting    = "This request is already being submitted."
	msgStale         = "This option is no longer available."
	msgInactive      = "This prompt is no longer active. Please run the command again."
	msgGroupOnly     = "This command only works in a group chat."
	msgNeedLogin     = "You must /login in a private chat with me first."
	msgNotConfigured = "This group is not set up. Please use /setup first."
	msgRelogin       = "Your saved Jenkins credentials can no longer be used. Please /login again in a private chat with me."
	msgInternal      = "❌ An internal error occurred. Please try again later."
)

var optionIcons = map[State]string{
	StateAwaitingFolder: "🗂️",
	StateAwaitingJob:    "🔨",
	StateAwaitingBranch: "🔀",
	StateAwaitingTarget: "🎯",
}

func promptText(w Wizard) chat.Text {
	start := Action{Wizard: w, Kind: ActionStart}
	cancel := Action{Wizard: w, Kind: ActionCancel}

	switch w {
	case WizardSetup:
		return chat.Plain("Click the button to begin configuring a Jenkins job for this group.").WithKeyboard(chat.Keyboard{
			{{Label: "🚀 Start Setup", Data: start.Encode()}},
			{{Label: "❌ Cancel", Data: cancel.Encode()}},
		})
	default:
		return chat.Plain("Click the button to begin the build process.").WithKeyboard(chat.Keyboard{
			{{Label: "🚀 Start Build", Data: start.Encode()}},
			{{Label: "❌ Cancel", Data: cancel.Encode()}},
		})
	}
}

func cancelledText(w Wizard) chat.Text {
	if w == WizardSetup {
		return chat.Plain("Setup process canceled.")
	}
	return chat.Plain("Build process canceled.")
}

// optionsKeyboard renders one button per option, then Back (when allowed) and Cancel.
func optionsKeyboard(s *Session, back bool) chat.Keyboard {
	icon := optionIcons[s.State]
	kb := make(chat.Keyboard, 0, len(s.Options)+1)
	for i, opt := range s.Options {
		a := Action{Wizard: s.Wizard, Kind: ActionChoose, Rev: s.Rev, Index: i}
		kb = append(kb, []chat.Button{{Label: icon + " " + opt, Data: a.Encode()}})
	}

	var controls []chat.Button
	if back {
		controls = append(controls, chat.Button{Label: "⬅️ Back", Data: Action{Wizard: s.Wizard, Kind: ActionBack, Rev: s.Rev}.Encode()})
	}
	controls = append(controls, chat.Button{Label: "❌ Cancel", Data: Action{Wizard: s.Wizard, Kind: ActionCancel, Rev: s.Rev}.Encode()})
	return append(kb, controls)
}

// stepText renders the prompt for the state s is in. Called with s.mu held.
func stepText(s *Session) chat.Text {
	switch s.State {
	case StateAwaitingFolder:
		return chat.Plain("🗂️ Please select your project folder:").WithKeyboard(optionsKeyboard(s, false))
	case StateAwaitingJob:
		return chat.Plain(fmt.Sprintf("🗂️ Folder '%s' selected.\n🔨 Please select a build job:", s.Folder)).WithKeyboard(optionsKeyboard(s, true))
	case StateAwaitingBranch:
		return chat.Plain("🔀 Please select a branch to build:").WithKeyboard(optionsKeyboard(s, false))
	case StateAwaitingTarget:
		body := fmt.Sprintf("🔀 Branch: `%s`\n\n🎯 Please select a build target:", chat.Escape(s.Branch))
		return chat.Markdown(body).WithKeyboard(optionsKeyboard(s, true))
	default:
		return chat.Plain(msgInactive)
	}
}

func setupDoneText(folder, job, jobPath string) chat.Text {
	return chat.Markdown(fmt.Sprintf(
		"✅ *Setup Complete\\!*\n\n"+
			"🗂️ *Project:* `%s`\n"+
			"🔨 *Job:* `%s`\n\n"+
			"──────────────\n"+
			"🔗 Group linked to `%s`\n"+
			"🚀 Ready to use /build command\\!",
		chat.Escape(folder), chat.Escape(job), chat.Escape(jobPath)))
}

func buildTriggeredText(jobPath, branch, target string) string {
	return fmt.Sprintf(
		"✅ *Build Triggered\\!*\n\n"+
			"🔨 *Job:* `%s`\n"+
			"🔀 *Branch:* `%s`\n"+
			"🎯 *Target:* `%s`\n\n"+
			"I will notify you when it's complete\\.",
		chat.Escape(jobPath), chat.Escape(branch), chat.Escape(target))
}

func loadingParamsText(jobPath string) chat.Text {
	return chat.Markdown(fmt.Sprintf("🔍 Loading parameters for `%s`\\.\\.\\.", chat.Escape(jobPath)))
}

// failureText appends the categorized reason to a fixed headline.
func failureText(headline, reason string) chat.Text {
	if reason == "" {
		return chat.Plain(headline)
	}
	return chat.Plain(headline + "\n" + reason)
}
