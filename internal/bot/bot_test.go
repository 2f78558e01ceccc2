package bot_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"buildrelay.app/relay/internal/bot"
	"buildrelay.app/relay/internal/chat"
	"buildrelay.app/relay/internal/ci"
	"buildrelay.app/relay/internal/dialog"
	"buildrelay.app/relay/internal/service"
)

const (
	userID  int64 = 7
	groupID int64 = -100
)

func privateText(text string) chat.Update {
	return chat.Update{
		ChatID:   userID,
		ChatType: chat.ChatPrivate,
		From:     chat.User{ID: userID, FirstName: "Ana"},
		Text:     text,
	}
}

func privateCommand(cmd string) chat.Update {
	u := privateText("/" + cmd)
	u.Command = cmd
	return u
}

func groupCommand(cmd string) chat.Update {
	return chat.Update{
		ChatID:   groupID,
		ChatType: chat.ChatSupergroup,
		From:     chat.User{ID: userID, FirstName: "Ana"},
		Text:     "/" + cmd,
		Command:  cmd,
	}
}

var _ = Describe("Bot", func() {
	var (
		ctx       context.Context
		messenger *fakeMessenger
		accounts  *fakeAccounts
		dialogs   *fakeDialogs
		clock     *clockwork.FakeClock
		b         *bot.Bot
	)

	BeforeEach(func() {
		ctx = context.Background()
		messenger = &fakeMessenger{}
		accounts = &fakeAccounts{}
		dialogs = &fakeDialogs{}
		clock = clockwork.NewFakeClock()
		b = bot.New(bot.Deps{
			Messenger: messenger,
			Accounts:  accounts,
			Dialogs:   dialogs,
		}, bot.Config{LoginTTL: time.Minute, Clock: clock})
	})

	Describe("/start and /help", func() {
		It("asks a new user to log in", func() {
			b.HandleUpdate(ctx, privateCommand("start"))

			Expect(messenger.LastBody()).To(ContainSubstring("Please use /login"))
		})

		It("lists commands for a logged in user", func() {
			accounts.isLoggedInFn = func(context.Context, int64) (bool, error) { return true, nil }

			b.HandleUpdate(ctx, privateCommand("help"))

			Expect(messenger.LastBody()).To(ContainSubstring("/setup"))
			Expect(messenger.LastBody()).To(ContainSubstring("/build"))
		})
	})

	Describe("/setup and /build", func() {
		It("hands the command to the wizard engine with the chat context", func() {
			b.HandleUpdate(ctx, groupCommand("build"))

			cmds := dialogs.Commands()
			Expect(cmds).To(HaveLen(1))
			Expect(cmds[0].Wizard).To(Equal(dialog.WizardBuild))
			Expect(cmds[0].ChatID).To(Equal(groupID))
			Expect(cmds[0].InGroup).To(BeTrue())
			Expect(cmds[0].From.ID).To(Equal(userID))
		})

		It("marks private invocations as outside a group", func() {
			b.HandleUpdate(ctx, privateCommand("setup"))

			cmds := dialogs.Commands()
			Expect(cmds).To(HaveLen(1))
			Expect(cmds[0].Wizard).To(Equal(dialog.WizardSetup))
			Expect(cmds[0].InGroup).To(BeFalse())
		})

		It("reports an internal error when the prompt cannot be opened", func() {
			dialogs.promptErr = errors.New("db down")

			b.HandleUpdate(ctx, groupCommand("setup"))

			Expect(messenger.LastBody()).To(ContainSubstring("internal error"))
			Expect(messenger.LastBody()).NotTo(ContainSubstring("db down"))
		})
	})

	Describe("callbacks", func() {
		It("decodes the action once and forwards it", func() {
			data := dialog.Action{Wizard: dialog.WizardBuild, Kind: dialog.ActionChoose, Rev: 2, Index: 1}.Encode()

			b.HandleUpdate(ctx, chat.Update{
				ChatID:   groupID,
				ChatType: chat.ChatGroup,
				From:     chat.User{ID: userID},
				Callback: &chat.Callback{ID: "cb1", Data: data, MessageID: 55},
			})

			ins := dialogs.Interactions()
			Expect(ins).To(HaveLen(1))
			Expect(ins[0].MessageID).To(Equal(55))
			Expect(ins[0].CallbackID).To(Equal("cb1"))
			Expect(ins[0].InGroup).To(BeTrue())
			Expect(ins[0].Action).To(Equal(dialog.Action{Wizard: dialog.WizardBuild, Kind: dialog.ActionChoose, Rev: 2, Index: 1}))
		})

		It("answers malformed data without reaching the engine", func() {
			b.HandleUpdate(ctx, chat.Update{
				ChatID:   groupID,
				ChatType: chat.ChatGroup,
				From:     chat.User{ID: userID},
				Callback: &chat.Callback{ID: "cb1", Data: "setup_folder:Mobile", MessageID: 55},
			})

			Expect(dialogs.Interactions()).To(BeEmpty())
			Expect(messenger.Answers()).To(ConsistOf("This option is no longer available."))
		})
	})

	Describe("/login", func() {
		It("refuses to collect credentials in a group", func() {
			b.HandleUpdate(ctx, groupCommand("login"))

			Expect(messenger.LastBody()).To(ContainSubstring("private chat"))
		})

		It("refuses when the user is already logged in", func() {
			accounts.isLoggedInFn = func(context.Context, int64) (bool, error) { return true, nil }

			b.HandleUpdate(ctx, privateCommand("login"))

			Expect(messenger.LastBody()).To(ContainSubstring("/logout first"))
		})

		It("collects url, user and token then verifies them", func() {
			var got ci.Credentials
			accounts.loginFn = func(_ context.Context, uid int64, creds ci.Credentials) (*ci.Identity, error) {
				Expect(uid).To(Equal(userID))
				got = creds
				return &ci.Identity{ID: "ana", FullName: "Ana Lima"}, nil
			}

			b.HandleUpdate(ctx, privateCommand("login"))
			Expect(messenger.LastBody()).To(ContainSubstring("server URL"))

			b.HandleUpdate(ctx, privateText("https://ci.example.com"))
			Expect(messenger.LastBody()).To(ContainSubstring("User ID"))

			b.HandleUpdate(ctx, privateText("ana"))
			Expect(messenger.LastBody()).To(ContainSubstring("API Token"))

			b.HandleUpdate(ctx, privateText("  tok123 "))
			Expect(got).To(Equal(ci.Credentials{ServerURL: "https://ci.example.com", UserID: "ana", Token: "tok123"}))
			Expect(messenger.LastBody()).To(Equal("✅ Success! Connected as 'Ana Lima'."))

			// The conversation is over; further text is ignored.
			before := len(messenger.Bodies())
			b.HandleUpdate(ctx, privateText("hello"))
			Expect(messenger.Bodies()).To(HaveLen(before))
		})

		It("asks again for a url that does not parse", func() {
			b.HandleUpdate(ctx, privateCommand("login"))
			b.HandleUpdate(ctx, privateText("jenkins.local"))

			Expect(messenger.LastBody()).To(ContainSubstring("does not look like a Jenkins URL"))

			b.HandleUpdate(ctx, privateText("http://jenkins.local:8080"))
			Expect(messenger.LastBody()).To(ContainSubstring("User ID"))
		})

		It("summarizes a rejected login without echoing the upstream error", func() {
			accounts.loginFn = func(context.Context, int64, ci.Credentials) (*ci.Identity, error) {
				return nil, fmt.Errorf("verifying credentials: %w", &ci.StatusError{Code: 401, Summary: "<html>secret</html>"})
			}

			b.HandleUpdate(ctx, privateCommand("login"))
			b.HandleUpdate(ctx, privateText("https://ci.example.com"))
			b.HandleUpdate(ctx, privateText("ana"))
			b.HandleUpdate(ctx, privateText("bad"))

			Expect(messenger.LastBody()).To(HavePrefix("❌ Authentication failed"))
			Expect(messenger.LastBody()).NotTo(ContainSubstring("secret"))
		})

		It("maps an unauthorized response to a credentials message", func() {
			accounts.loginFn = func(context.Context, int64, ci.Credentials) (*ci.Identity, error) {
				return nil, fmt.Errorf("verifying credentials: %w", ci.ErrUnauthorized)
			}

			b.HandleUpdate(ctx, privateCommand("login"))
			b.HandleUpdate(ctx, privateText("https://ci.example.com"))
			b.HandleUpdate(ctx, privateText("ana"))
			b.HandleUpdate(ctx, privateText("bad"))

			Expect(messenger.LastBody()).To(ContainSubstring("rejected these credentials"))
		})

		It("reports a login that raced with another", func() {
			accounts.loginFn = func(context.Context, int64, ci.Credentials) (*ci.Identity, error) {
				return nil, service.ErrAlreadyLoggedIn
			}

			b.HandleUpdate(ctx, privateCommand("login"))
			b.HandleUpdate(ctx, privateText("https://ci.example.com"))
			b.HandleUpdate(ctx, privateText("ana"))
			b.HandleUpdate(ctx, privateText("tok"))

			Expect(messenger.LastBody()).To(ContainSubstring("already logged in"))
		})

		It("can be cancelled", func() {
			b.HandleUpdate(ctx, privateCommand("login"))
			b.HandleUpdate(ctx, privateCommand("cancel"))
			Expect(messenger.LastBody()).To(Equal("Process canceled."))

			before := len(messenger.Bodies())
			b.HandleUpdate(ctx, privateText("https://ci.example.com"))
			Expect(messenger.Bodies()).To(HaveLen(before))
		})

		It("forgets an abandoned conversation after the ttl", func() {
			b.HandleUpdate(ctx, privateCommand("login"))
			clock.Advance(2 * time.Minute)

			b.HandleUpdate(ctx, privateCommand("cancel"))
			Expect(messenger.LastBody()).To(Equal("There is nothing to cancel."))
		})
	})

	Describe("/logout", func() {
		It("only works in a private chat", func() {
			b.HandleUpdate(ctx, groupCommand("logout"))

			Expect(messenger.LastBody()).To(ContainSubstring("private chat"))
		})

		It("removes stored credentials", func() {
			accounts.logoutFn = func(context.Context, int64) (bool, error) { return true, nil }

			b.HandleUpdate(ctx, privateCommand("logout"))

			Expect(messenger.LastBody()).To(Equal("You have been successfully logged out."))
		})

		It("tells a user with nothing stored", func() {
			b.HandleUpdate(ctx, privateCommand("logout"))

			Expect(messenger.LastBody()).To(Equal("You are not logged in."))
		})
	})

	Describe("Run", func() {
		It("drains the update channel and waits for handlers", func() {
			updates := make(chan chat.Update, 2)
			updates <- groupCommand("setup")
			updates <- groupCommand("build")
			close(updates)

			b.Run(ctx, updates)

			Expect(dialogs.Commands()).To(HaveLen(2))
		})

		It("handles one user's private messages in the order they arrived", func() {
			var got ci.Credentials
			accounts.loginFn = func(_ context.Context, _ int64, creds ci.Credentials) (*ci.Identity, error) {
				got = creds
				return &ci.Identity{ID: "ana"}, nil
			}

			updates := make(chan chat.Update, 4)
			updates <- privateCommand("login")
			updates <- privateText("https://ci.example.com")
			updates <- privateText("ana")
			updates <- privateText("tok123")
			close(updates)

			b.Run(ctx, updates)

			Expect(got).To(Equal(ci.Credentials{ServerURL: "https://ci.example.com", UserID: "ana", Token: "tok123"}))
			Expect(messenger.LastBody()).To(Equal("✅ Success! Connected as 'ana'."))
		})

		It("does not hold group commands behind a slow login", func() {
			release := make(chan struct{})
			accounts.loginFn = func(context.Context, int64, ci.Credentials) (*ci.Identity, error) {
				<-release
				return &ci.Identity{ID: "ana"}, nil
			}

			updates := make(chan chat.Update)
			done := make(chan struct{})
			go func() {
				defer close(done)
				b.Run(ctx, updates)
			}()

			updates <- privateCommand("login")
			updates <- privateText("https://ci.example.com")
			updates <- privateText("ana")
			updates <- privateText("tok123")
			updates <- groupCommand("setup")

			Eventually(dialogs.Commands).Should(HaveLen(1))
			Consistently(done, 30*time.Millisecond).ShouldNot(BeClosed())

			close(release)
			close(updates)
			Eventually(done).Should(BeClosed())
			Expect(messenger.LastBody()).To(ContainSubstring("Connected as 'ana'"))
		})
	})
})
