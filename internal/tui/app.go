package tui

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"google.golang.org/grpc"

	"github.com/matheus3301/forumdm/internal/bus"
	"github.com/matheus3301/forumdm/internal/rpc"
	"github.com/matheus3301/forumdm/internal/status"
	"github.com/matheus3301/forumdm/internal/tui/client"
	"github.com/matheus3301/forumdm/internal/tui/keys"
	"github.com/matheus3301/forumdm/internal/tui/model"
	"github.com/matheus3301/forumdm/internal/tui/ui"
	"github.com/matheus3301/forumdm/internal/tui/views"
)

const (
	pageInbox        = "inbox"
	pageConversation = "conversation"
	pageHelp         = "help"
)

// App is the main TUI application shell.
type App struct {
	app          *tview.Application
	pages        *tview.Pages
	vm           *model.ViewModel
	grpc         *client.Client
	registry     *keys.Registry
	statusBar    *views.StatusBar
	inbox        *views.Inbox
	conversation *views.Conversation
	composer     *views.Composer
	help         *views.HelpView
	prevPage     string
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(c *client.Client, profileName string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:          tview.NewApplication(),
		pages:        tview.NewPages(),
		vm:           model.NewViewModel(c.Session, c.Chat, c.Inbox),
		grpc:         c,
		registry:     keys.NewRegistry(),
		statusBar:    views.NewStatusBar(theme),
		inbox:        views.NewInbox(theme),
		conversation: views.NewConversation(theme),
		composer:     views.NewComposer(),
		help:         views.NewHelpView(theme),
		ctx:          ctx,
		cancel:       cancel,
	}

	a.statusBar.SetProfile(profileName)
	a.setupBindings()
	a.statusBar.SetHints(a.registry.Hints(pageInbox))
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.Stop() },
	})
	a.registry.AddGlobal("help", &keys.Action{
		Rune: '?', Key: tcell.KeyRune,
		Description: "?:help", Visible: true,
		Handler: func() {
			if front, _ := a.pages.GetFrontPage(); front != pageHelp {
				a.prevPage = front
			}
			a.showPage(pageHelp)
		},
	})
	a.registry.AddGlobal("connection", &keys.Action{
		Rune: 'c', Key: tcell.KeyRune,
		Description: "c:connect", Visible: false,
		Handler: a.toggleConnection,
	})

	a.registry.AddView(pageInbox, "refresh", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:refresh", Visible: true,
		Handler: func() {
			a.async("Refresh failed", func() error { return a.vm.RefreshThreads(a.ctx) }, a.drawInbox)
		},
	})
	a.registry.AddView(pageInbox, "more", &keys.Action{
		Rune: 'n', Key: tcell.KeyRune,
		Description: "n:more", Visible: true,
		Handler: func() {
			a.async("Load failed", func() error { return a.vm.LoadMoreThreads(a.ctx) }, a.drawInbox)
		},
	})

	a.registry.AddView(pageConversation, "compose", &keys.Action{
		Rune: 'i', Key: tcell.KeyRune,
		Description: "i:compose", Visible: true,
		Handler: func() { a.app.SetFocus(a.composer) },
	})
	a.registry.AddView(pageConversation, "older", &keys.Action{
		Rune: 'u', Key: tcell.KeyRune,
		Description: "u:older", Visible: true,
		Handler: func() {
			a.async("Load failed", func() error { return a.vm.LoadOlder(a.ctx) }, a.drawConversation)
		},
	})
	a.registry.AddView(pageConversation, "recall", &keys.Action{
		Rune: 'x', Key: tcell.KeyRune,
		Description: "x:recall", Visible: true,
		Handler: func() {
			a.async("Recall failed", func() error {
				if err := a.vm.RecallLast(a.ctx); err != nil {
					return err
				}
				a.vm.Flash.Info("Message recalled")
				return nil
			}, a.drawConversation)
		},
	})
}

func (a *App) setupCallbacks() {
	a.inbox.SetSelectedFunc(func(_, _ int) {
		if peer := a.inbox.SelectedPeer(); peer != 0 {
			a.openConversation(peer)
		}
	})

	a.composer.SetOnSend(func(text string) {
		go func() {
			err := a.vm.Send(a.ctx, text)
			a.app.QueueUpdateDraw(func() {
				if err != nil {
					// Keep the draft so the user can retry.
					a.vm.Flash.Err("Send failed: " + err.Error())
				} else {
					a.composer.SetText("")
				}
				a.drawConversation()
			})
		}()
	})
	a.composer.SetOnExit(func() { a.app.SetFocus(a.conversation) })
}

func (a *App) setupLayout() {
	conversationFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.conversation, 0, 1, true).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage(pageInbox, a.inbox, true, true)
	a.pages.AddPage(pageConversation, conversationFlex, true, false)
	a.pages.AddPage(pageHelp, a.help, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		// Let text input widgets handle all keys normally.
		switch a.app.GetFocus().(type) {
		case *tview.InputField, *views.Composer:
			return event
		}

		if event.Key() == tcell.KeyEscape {
			switch currentPage {
			case pageConversation:
				a.vm.Close()
				a.showPage(pageInbox)
				a.app.SetFocus(a.inbox)
				return nil
			case pageHelp:
				back := a.prevPage
				if back == "" {
					back = pageInbox
				}
				a.showPage(back)
				if back == pageConversation {
					a.app.SetFocus(a.conversation)
				} else {
					a.app.SetFocus(a.inbox)
				}
				return nil
			}
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}
		return event
	})
}

func (a *App) openConversation(peer int64) {
	go func() {
		if err := a.vm.Open(a.ctx, peer); err != nil {
			a.vm.Flash.Err("Open failed: " + err.Error())
			a.app.QueueUpdateDraw(a.drawFlash)
			return
		}
		_ = a.vm.LoadThreads(a.ctx)
		a.app.QueueUpdateDraw(func() {
			a.drawInbox()
			a.drawConversation()
			a.showPage(pageConversation)
			a.app.SetFocus(a.conversation)
		})
	}()
}

func (a *App) showPage(name string) {
	a.pages.SwitchToPage(name)
	a.statusBar.SetHints(a.registry.Hints(name))
}

func (a *App) toggleConnection() {
	go func() {
		var err error
		if st := a.vm.Status(); st != nil && st.State != string(status.Disconnected) {
			_, err = a.grpc.Session.Disconnect(a.ctx, &rpc.Empty{})
		} else {
			_, err = a.grpc.Session.Connect(a.ctx, &rpc.Empty{})
		}
		if err != nil {
			a.vm.Flash.Err(err.Error())
			a.app.QueueUpdateDraw(a.drawFlash)
		}
	}()
}

// async runs fn off the UI goroutine, then redraws with draw or flashes the
// error under label.
func (a *App) async(label string, fn func() error, draw func()) {
	go func() {
		err := fn()
		a.app.QueueUpdateDraw(func() {
			if err != nil {
				a.vm.Flash.Err(label + ": " + err.Error())
			}
			draw()
		})
	}()
}

func (a *App) drawInbox() {
	a.inbox.Update(a.vm.Threads())
	a.drawFlash()
}

func (a *App) drawConversation() {
	if peer := a.vm.ActivePeer(); peer != 0 {
		a.conversation.Update(a.inbox.NameOf(peer), a.vm.Conversation())
	}
	a.drawFlash()
}

func (a *App) drawFlash() {
	a.statusBar.SetFlash(a.vm.Flash.Get())
}

// Run starts the TUI application.
func (a *App) Run() error {
	go func() {
		_ = a.vm.LoadStatus(a.ctx)
		if err := a.vm.LoadThreads(a.ctx); err != nil {
			a.vm.Flash.Err("Load failed: " + err.Error())
		}
		a.app.QueueUpdateDraw(func() {
			if st := a.vm.Status(); st != nil {
				a.statusBar.SetState(st.State)
			}
			a.drawInbox()
		})

		go a.watch(a.grpc.Session.WatchStatus, a.onStatusEvent)
		go a.watch(a.grpc.Inbox.WatchThreads, a.onThreadsEvent)
		go a.watch(func(ctx context.Context, _ *rpc.Empty, opts ...grpc.CallOption) (rpc.EventReceiver, error) {
			return a.grpc.Chat.WatchConversation(ctx, &rpc.PeerRequest{}, opts...)
		}, a.onConversationEvent)
		a.startClock()
	}()

	return a.app.Run()
}

type watchFunc func(ctx context.Context, in *rpc.Empty, opts ...grpc.CallOption) (rpc.EventReceiver, error)

// watch keeps a server stream open, reopening it after a pause if the
// daemon drops it, until the app stops.
func (a *App) watch(open watchFunc, handle func(*rpc.Event)) {
	for a.ctx.Err() == nil {
		stream, err := open(a.ctx, &rpc.Empty{})
		if err == nil {
			for {
				evt, err := stream.Recv()
				if err != nil {
					if !errors.Is(err, io.EOF) && a.ctx.Err() == nil {
						a.vm.Flash.Err("daemon stream lost")
					}
					break
				}
				handle(evt)
			}
		}
		select {
		case <-time.After(2 * time.Second):
		case <-a.ctx.Done():
		}
	}
}

func (a *App) onStatusEvent(evt *rpc.Event) {
	var change rpc.StatusChange
	if err := json.Unmarshal(evt.Payload, &change); err != nil {
		return
	}
	a.vm.SetState(change.To)
	a.app.QueueUpdateDraw(func() { a.statusBar.SetState(change.To) })
}

func (a *App) onThreadsEvent(*rpc.Event) {
	if err := a.vm.LoadThreads(a.ctx); err != nil {
		return
	}
	a.app.QueueUpdateDraw(a.drawInbox)
}

func (a *App) onConversationEvent(evt *rpc.Event) {
	switch evt.Kind {
	case bus.KindSendFailed:
		var res struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(evt.Payload, &res)
		a.vm.Flash.Err("Send failed: " + res.Error)
	case bus.KindConversationUpdated, bus.KindRecalled:
		var upd bus.ConversationUpdate
		if err := json.Unmarshal(evt.Payload, &upd); err != nil || upd.PeerID != a.vm.ActivePeer() {
			return
		}
		if err := a.vm.ReloadConversation(a.ctx); err != nil {
			return
		}
	default:
		return
	}
	a.app.QueueUpdateDraw(a.drawConversation)
}

func (a *App) startClock() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.app.QueueUpdateDraw(a.drawFlash)
		case <-a.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
