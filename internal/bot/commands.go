package bot

import (
	"context"
	"log/slog"

	"buildrelay.app/relay/internal/chat"
	"buildrelay.app/relay/internal/dialog"
)

const (
	msgUnknownAction     = "This option is no longer available."
	msgInternal          = "❌ An internal error occurred. Please try again later."
	msgLoginPrivateOnly  = "Please use this command in a private chat with me for security."
	msgLogoutPrivateOnly = "Please use this command in a private chat with me."
	msgAlreadyLoggedIn   = "You are already logged in. Use /logout first to switch accounts."
	msgAskServerURL      = "What is your Jenkins server URL? (e.g., https://jenkins.example.com)"
	msgBadServerURL      = "That does not look like a Jenkins URL. Please send it as https://jenkins.example.com, or /cancel."
	msgAskUserID         = "What's your Jenkins User ID?"
	msgAskToken          = "What's your Jenkins API Token?"
	msgVerifying         = "Verifying credentials..."
	msgLoginCancelled    = "Process canceled."
	msgNothingToCancel   = "There is nothing to cancel."
	msgLoggedOut         = "You have been successfully logged out."
	msgNotLoggedIn       = "You are not logged in."
)

func (b *Bot) handleCommand(ctx context.Context, upd chat.Update) {
	slog.InfoContext(ctx, "command received",
		"command", upd.Command,
		"chat_type", upd.ChatType)

	switch upd.Command {
	case "start", "help":
		b.welcome(ctx, upd)
	case "login":
		b.startLogin(ctx, upd)
	case "cancel":
		b.cancelLogin(ctx, upd)
	case "logout":
		b.logout(ctx, upd)
	case "setup":
		b.prompt(ctx, upd, dialog.WizardSetup)
	case "build":
		b.prompt(ctx, upd, dialog.WizardBuild)
	default:
		slog.DebugContext(ctx, "ignoring unknown command", "command", upd.Command)
	}
}

func (b *Bot) welcome(ctx context.Context, upd chat.Update) {
	loggedIn, err := b.accounts.IsLoggedIn(ctx, upd.From.ID)
	if err != nil {
		slog.ErrorContext(ctx, "checking login state failed", "error", err)
		b.reply(ctx, upd.ChatID, chat.Plain(msgInternal))
		return
	}
	b.reply(ctx, upd.ChatID, welcomeText(upd.From, loggedIn))
}

func welcomeText(u chat.User, loggedIn bool) chat.Text {
	name := chat.Escape(u.FirstName)
	if !loggedIn {
		return chat.Markdown("Hi " + name + "\\! Welcome to the Jenkins Bot\\.\n\n" +
			"Please use /login to connect your Jenkins account\\.")
	}
	return chat.Markdown("Hi " + name + "\\! You are already logged in\\.\n\n" +
		"You can use these commands:\n" +
		"  /setup \\- \\(In a group\\) Link a group to a Jenkins job\n" +
		"  /build \\- \\(In a group\\) Start a new build\n" +
		"  /logout \\- Disconnect your Jenkins account\n" +
		"  /help \\- Show this message again")
}

func (b *Bot) logout(ctx context.Context, upd chat.Update) {
	if !upd.IsPrivate() {
		b.reply(ctx, upd.ChatID, chat.Plain(msgLogoutPrivateOnly))
		return
	}

	removed, err := b.accounts.Logout(ctx, upd.From.ID)
	if err != nil {
		slog.ErrorContext(ctx, "logout failed", "error", err)
		b.reply(ctx, upd.ChatID, chat.Plain(msgInternal))
		return
	}
	if !removed {
		b.reply(ctx, upd.ChatID, chat.Plain(msgNotLoggedIn))
		return
	}

	slog.InfoContext(ctx, "user logged out")
	b.reply(ctx, upd.ChatID, chat.Plain(msgLoggedOut))
}

func (b *Bot) prompt(ctx context.Context, upd chat.Update, w dialog.Wizard) {
	err := b.dialogs.Prompt(ctx, dialog.Command{
		Wizard:  w,
		ChatID:  upd.ChatID,
		InGroup: upd.IsGroup(),
		From:    upd.From,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to open wizard prompt", "error", err, "wizard", w)
		b.reply(ctx, upd.ChatID, chat.Plain(msgInternal))
	}
}
