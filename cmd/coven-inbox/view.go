// ABOUTME: Terminal rendering of session snapshots for the chat client
// ABOUTME: Prints only what changed between snapshots: messages, connection, unread and errors

package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/coven-inbox/internal/bridge"
	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/identity"
	"github.com/2389/coven-inbox/internal/session"
)

var (
	selfColor    = color.New(color.FgGreen)
	otherColor   = color.New(color.FgCyan)
	systemColor  = color.New(color.FgHiBlack)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	unreadColor  = color.New(color.FgMagenta, color.Bold)
	timeFormat   = "15:04"
	previewWidth = 48
)

// chatView remembers what it already printed so each snapshot only adds
// the difference.
type chatView struct {
	mu  sync.Mutex
	out io.Writer

	active   string
	printed  map[int64]bool
	conn     bridge.State
	degraded bool
	unread   int
	errText  string

	seeded   bool
	previews map[string]int64
}

func newChatView(out io.Writer) *chatView {
	return &chatView{
		out:      out,
		printed:  make(map[int64]bool),
		previews: make(map[string]int64),
	}
}

func (v *chatView) header(self identity.Participant, gatewayURL string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "coven-inbox chat as %s via %s\n", otherColor.Sprint(self.String()), gatewayURL)
	systemColor.Fprintln(v.out, "type /help for commands")
}

func (v *chatView) render(snap session.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.renderConnection(snap)
	v.renderDirectory(snap)
	v.renderActive(snap)

	if snap.UnreadTotal != v.unread {
		v.unread = snap.UnreadTotal
		unreadColor.Fprintf(v.out, "· unread: %d\n", v.unread)
	}

	switch {
	case snap.Err == nil:
		v.errText = ""
	case snap.Err.Error() != v.errText:
		v.errText = snap.Err.Error()
		errorColor.Fprintf(v.out, "! %s\n", v.errText)
	}
}

func (v *chatView) renderConnection(snap session.Snapshot) {
	if snap.Connection != v.conn {
		v.conn = snap.Connection
		c := warnColor
		switch v.conn {
		case bridge.Connected:
			c = selfColor
		case bridge.Disconnected:
			c = errorColor
		}
		c.Fprintf(v.out, "· %s\n", v.conn)
	}
	if snap.Degraded != v.degraded {
		v.degraded = snap.Degraded
		if v.degraded {
			warnColor.Fprintln(v.out, "· live updates unavailable, sending still works")
		}
	}
}

// renderDirectory announces new messages in conversations that are not
// open. The first non-empty directory is taken as the baseline.
func (v *chatView) renderDirectory(snap session.Snapshot) {
	for _, c := range snap.Conversations {
		if c.LastMessage == nil {
			continue
		}
		prev, known := v.previews[c.ID]
		v.previews[c.ID] = c.LastMessage.MessageID
		if !v.seeded || c.ID == snap.Active || c.LastMessage.Sender == snap.Self {
			continue
		}
		if !known || prev != c.LastMessage.MessageID {
			unreadColor.Fprintf(v.out, "✉ %s: %s\n", displayName(c), truncate(c.LastMessage.Content, previewWidth))
		}
	}
	if len(snap.Conversations) > 0 {
		v.seeded = true
	}
}

func (v *chatView) renderActive(snap session.Snapshot) {
	if snap.Active != v.active {
		v.active = snap.Active
		v.printed = make(map[int64]bool)
		if conv, ok := snap.ActiveConversation(); ok {
			systemColor.Fprintf(v.out, "── %s%s ──\n", displayName(conv), jobLabel(conv.Job))
		} else {
			systemColor.Fprintln(v.out, "── closed ──")
		}
	}
	if v.active == "" {
		return
	}

	conv, _ := snap.ActiveConversation()
	for _, m := range snap.Messages {
		if v.printed[m.ID] {
			continue
		}
		v.printed[m.ID] = true
		v.printMessage(m, snap.Self, conv)
	}
}

func (v *chatView) printMessage(m chat.Message, self identity.Participant, conv chat.Conversation) {
	stamp := systemColor.Sprintf("[%s]", m.SentAt.Local().Format(timeFormat))
	who := otherColor.Sprint(displayName(conv))
	if m.Sender == self {
		who = selfColor.Sprint("you")
	}
	suffix := ""
	if m.Moderated {
		suffix = warnColor.Sprint(" (moderated)")
	}
	fmt.Fprintf(v.out, "%s %s: %s%s\n", stamp, who, m.Content, suffix)
}

func (v *chatView) list(snap session.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(snap.Conversations) == 0 {
		systemColor.Fprintln(v.out, "no conversations yet")
		return
	}
	for i, c := range snap.Conversations {
		marker := " "
		if c.ID == snap.Active {
			marker = "*"
		}
		line := fmt.Sprintf("%s%2d. %s%s", marker, i+1, displayName(c), jobLabel(c.Job))
		if c.UnreadCount > 0 {
			line += unreadColor.Sprintf("  (%d unread)", c.UnreadCount)
		}
		if c.LastMessage != nil {
			line += systemColor.Sprintf("  %s", truncate(c.LastMessage.Content, previewWidth))
		}
		fmt.Fprintln(v.out, line)
	}
}

func (v *chatView) printUnread(msgs []chat.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(msgs) == 0 {
		systemColor.Fprintln(v.out, "no unread messages")
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(v.out, "%s %s%s: %s\n",
			systemColor.Sprintf("[%s]", m.SentAt.Local().Format(timeFormat)),
			otherColor.Sprint(m.Sender.String()),
			jobLabel(m.Job),
			m.Content,
		)
	}
}

func (v *chatView) infof(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	systemColor.Fprintf(v.out, "· "+format+"\n", args...)
}

func (v *chatView) errorf(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	errorColor.Fprintf(v.out, "! "+format+"\n", args...)
}

func displayName(c chat.Conversation) string {
	if c.Profile.DisplayName != "" {
		return c.Profile.DisplayName
	}
	return c.Counterparty.String()
}

func jobLabel(job chat.JobRef) string {
	if !job.Valid() {
		return ""
	}
	return " [job " + job.String() + "]"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
