package transport

import "context"

// Mode is the inbound half of the bot transport. Exactly one mode is active
// for the lifetime of a process.
type Mode string

const (
	ModeWebhook Mode = "webhook"
	ModePolling Mode = "polling"
)

func (m Mode) String() string { return string(m) }

// Update is one inbound command-bearing message, already decoded from the
// platform's wire shape.
type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Button is a URL button rendered under a message.
type Button struct {
	Text string
	URL  string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Buttons        []Button
}

// Sender is the outbound contract, identical in both modes. Errors are
// classified with IsPermanent / IsTransient.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendAnimation(ctx context.Context, to ChatTarget, url string) error
}

// Receiver feeds inbound updates to out until Stop.
type Receiver interface {
	Mode() Mode
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

type Adapter interface {
	Sender
	Receiver
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface adapters implement to publish
// the platform's command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
