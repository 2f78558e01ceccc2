package chat

import (
	"context"
	"io"
)

// Messenger is the outbound side of the chat platform.
type Messenger interface {
	Send(ctx context.Context, chatID int64, msg Text) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, msg Text) error
	Answer(ctx context.Context, callbackID, text string, alert bool) error
	SendDocument(ctx context.Context, chatID int64, doc Document) error
}

// Text is one rendered message. A nil Keyboard on Edit removes the buttons.
type Text struct {
	Body      string
	Markdown  bool
	NoPreview bool
	Keyboard  Keyboard
}

func Plain(body string) Text {
	return Text{Body: body}
}

func Markdown(body string) Text {
	return Text{Body: body, Markdown: true, NoPreview: true}
}

func (t Text) WithKeyboard(kb Keyboard) Text {
	t.Keyboard = kb
	return t
}

type Button struct {
	Label string
	Data  string
}

type Keyboard [][]Button

type Document struct {
	Name   string
	Reader io.Reader
}

type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

type User struct {
	ID        int64
	FirstName string
	Username  string
}

// Update is an inbound message or button press, decoupled from the wire types.
type Update struct {
	ChatID    int64
	ChatType  ChatType
	ChatTitle string
	MessageID int
	From      User

	Text        string
	Command     string
	CommandArgs string

	Callback *Callback
}

type Callback struct {
	ID        string
	Data      string
	MessageID int
}

func (u Update) IsPrivate() bool {
	return u.ChatType == ChatPrivate
}

func (u Update) IsGroup() bool {
	return u.ChatType == ChatGroup || u.ChatType == ChatSupergroup
}
