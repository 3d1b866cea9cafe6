package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the text input for sending messages.
type Composer struct {
	*tview.InputField
	onSend func(text string)
	onExit func()
}

// NewComposer creates a new message composer.
func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0).
		SetPlaceholder("i to write, Enter to send, Esc to leave")

	c := &Composer{InputField: input}

	input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			if text := c.GetText(); text != "" && c.onSend != nil {
				c.onSend(text)
			}
		case tcell.KeyEscape:
			if c.onExit != nil {
				c.onExit()
			}
		}
	})

	return c
}

// SetOnSend sets the callback for Enter. The draft stays in the field until
// the caller clears it after a successful send.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// SetOnExit sets the callback for Esc.
func (c *Composer) SetOnExit(fn func()) {
	c.onExit = fn
}
