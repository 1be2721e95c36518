package main

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/sink"
	"fmt"
	"io"
	"sync"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

const selfLabel = "You"

// printer renders engine events as terminal lines. It is called from the
// event loop and from the notifier sink, hence the lock.
type printer struct {
	mu         sync.Mutex
	out        io.Writer
	self       func() string
	generation uint64
}

func newPrinter(out io.Writer, self func() string) *printer {
	return &printer{out: out, self: self}
}

func (p *printer) Event(e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch evt := e.Payload.(type) {
	case event.HistoryLoaded:
		if p.generation != 0 && e.Generation != p.generation {
			fmt.Fprintln(p.out, color.Gray.Sprintf("--- %s reopened ---", evt.Session))
		}
		p.generation = e.Generation
		for _, m := range evt.Messages {
			p.message(m)
		}
	case event.MessageAppended:
		p.message(evt.Message)
	case event.StateChanged:
		line := fmt.Sprintf("[%s -> %s]", evt.From, evt.To)
		if evt.Delay > 0 {
			line += fmt.Sprintf(" retry in %s", evt.Delay)
		}
		fmt.Fprintln(p.out, color.Gray.Sprint(line))
	}
}

func (p *printer) Notify(n sink.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()

	style := color.New(color.FgGreen)
	switch n.Level {
	case sink.LevelWarning:
		style = color.New(color.FgYellow)
	case sink.LevelError:
		style = color.New(color.FgRed, color.OpBold)
	}
	fmt.Fprintln(p.out, style.Render("* "+n.Text))
}

func (p *printer) message(m domain.Message) {
	if m.IsSystem() {
		fmt.Fprintln(p.out, color.Gray.Sprintf("%s  %s", timestamp(m), m.Content))
		return
	}
	who := authorOf(m, p.self())
	label := color.Cyan.Sprint(who)
	if who == selfLabel {
		label = color.Green.Sprint(who)
	} else if m.Role == domain.RoleAgent {
		label = color.Magenta.Sprint(who)
	}
	fmt.Fprintf(p.out, "%s  %s: %s\n", timestamp(m), label, m.Content)
	if len(m.ToolCalls) > 0 {
		fmt.Fprintln(p.out, color.Gray.Sprintf("    tool calls: %s", m.ToolCalls))
	}
}

// authorOf labels the current user's own messages "You".
func authorOf(m domain.Message, self string) string {
	switch {
	case self != "" && m.AuthorID == self:
		return selfLabel
	case m.AuthorLabel != "":
		return m.AuthorLabel
	case m.AuthorID != "":
		return m.AuthorID
	default:
		return string(m.Role)
	}
}

func timestamp(m domain.Message) string {
	if m.SentAt.IsZero() {
		return "--:--:--"
	}
	return m.SentAt.Local().Format("15:04:05")
}

func renderTable(out io.Writer, messages []domain.Message, self string) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Time", "Author", "Role", "Content"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	for _, m := range messages {
		table.Append([]string{timestamp(m), authorOf(m, self), string(m.Role), m.Content})
	}
	table.Render()
}
