package docchat

import (
	"io"
	"os"

	"github.com/fatih/color"
)

// Notifier is the presentation collaborator for transient, user-visible
// notices (toasts). Calls are fire-and-forget.
type Notifier interface {
	Success(title, description string)
	Info(title, description string)
	Warning(title, description string)
	Error(title, description string)
}

type noopNotifier struct{}

func (noopNotifier) Success(string, string) {}
func (noopNotifier) Info(string, string)    {}
func (noopNotifier) Warning(string, string) {}
func (noopNotifier) Error(string, string)   {}

// Notification titles raised by the coordinator.
const (
	NoticeConnected      = "Connected"
	NoticeConnectFailed  = "Connection failed"
	NoticeConnectionLost = "Connection lost"
	NoticeNotReady       = "Connection not ready"
	NoticeEmptyInput     = "Message is empty"
	NoticeWaiting        = "Still waiting for a reply"
	NoticeReplyLost      = "Reply lost"
	NoticeReplyTimeout   = "No reply"
	NoticeSendFailed     = "Send failed"
	NoticeMalformedReply = "Malformed reply"
)

// ConsoleNotifier prints notices as colored lines, for command-line programs.
type ConsoleNotifier struct {
	w       io.Writer
	success *color.Color
	info    *color.Color
	warning *color.Color
	err     *color.Color
}

// NewConsoleNotifier writes to w (os.Stderr when nil).
func NewConsoleNotifier(w io.Writer) *ConsoleNotifier {
	if w == nil {
		w = os.Stderr
	}
	return &ConsoleNotifier{
		w:       w,
		success: color.New(color.FgGreen, color.Bold),
		info:    color.New(color.FgCyan),
		warning: color.New(color.FgYellow),
		err:     color.New(color.FgRed, color.Bold),
	}
}

func (n *ConsoleNotifier) Success(title, description string) { n.print(n.success, "✓", title, description) }
func (n *ConsoleNotifier) Info(title, description string)    { n.print(n.info, "i", title, description) }
func (n *ConsoleNotifier) Warning(title, description string) { n.print(n.warning, "!", title, description) }
func (n *ConsoleNotifier) Error(title, description string)   { n.print(n.err, "✗", title, description) }

func (n *ConsoleNotifier) print(c *color.Color, mark, title, description string) {
	line := mark + " " + title
	if description != "" {
		line += ": " + description
	}
	_, _ = c.Fprintln(n.w, line)
}
