// ABOUTME: Interactive session: slash commands, user messages and live conversation output
// ABOUTME: Prints finished agent messages and status changes of the current conversation

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-chorus/internal/app"
	"github.com/2389/coven-chorus/internal/conversation"
	"github.com/2389/coven-chorus/internal/export"
	"github.com/2389/coven-chorus/internal/notify"
)

// errQuit ends the read loop without an error.
var errQuit = errors.New("quit")

// repl is the interactive session: it reads commands and prints finished
// messages and status changes of the current conversation.
type repl struct {
	app *app.App

	mu      sync.Mutex
	out     io.Writer
	current string
	printed map[string]bool
}

func newREPL(out io.Writer) *repl {
	return &repl{out: out, printed: make(map[string]bool)}
}

func (r *repl) attach(a *app.App) {
	r.app = a
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func (r *repl) currentID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// notify prints a notification. It is installed as the App's extra notifier.
func (r *repl) notify(n notify.Notification) {
	var c *color.Color
	switch n.Level {
	case notify.LevelError:
		c = color.New(color.FgRed)
	case notify.LevelWarning:
		c = color.New(color.FgYellow)
	default:
		c = color.New(color.FgHiBlack)
	}
	r.printf("%s\n", c.Sprintf("[%s] %s: %s", n.Level, n.Title, n.Message))
}

// watch prints changes to the current conversation until ctx ends.
func (r *repl) watch(ctx context.Context) {
	changes, _ := r.app.Conversations().Broadcaster().Subscribe(ctx, conversation.AllConversations)
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			r.show(ctx, ch)
		}
	}
}

func (r *repl) show(ctx context.Context, ch conversation.Change) {
	if ch.ConversationID != r.currentID() {
		return
	}

	switch ch.Kind {
	case conversation.ChangeStatus:
		r.printf("%s\n", color.HiBlackString("· %s", ch.Status))
	case conversation.ChangeMessageAdded, conversation.ChangeMessageUpdated:
		m, err := r.app.Conversations().Message(ch.ConversationID, ch.MessageID)
		if err != nil || m.SenderKind == conversation.SenderUser || m.Metadata.Generating() {
			return
		}
		r.mu.Lock()
		seen := r.printed[m.ID]
		r.printed[m.ID] = true
		r.mu.Unlock()
		if seen {
			return
		}
		name := personaNames(ctx, r.app.Catalog()).Name(m.SenderID)
		r.printf("%s %s\n", color.CyanString("[%s]", name), m.Content)
		if m.Metadata != nil && m.Metadata.Error != "" {
			r.printf("%s\n", color.RedString("  error: %s", m.Metadata.Error))
		}
	}
}

// loop reads lines until EOF, /quit or ctx ends.
func (r *repl) loop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			readErr <- err
			return
		}
		readErr <- io.EOF
	}()

	for {
		r.prompt()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-lines:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		err := r.handle(ctx, input)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			r.printf("%s\n", color.RedString("[error] %v", err))
		}
	}
}

func (r *repl) prompt() {
	id := r.currentID()
	if id == "" {
		r.printf("> ")
		return
	}
	r.printf("[%s]> ", shortID(id))
}

// handle runs one input line.
func (r *repl) handle(ctx context.Context, input string) error {
	if !strings.HasPrefix(input, "/") {
		return r.say(ctx, input)
	}

	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]
	ctrl := r.app.Controller()

	switch cmd {
	case "/quit", "/exit", "/q":
		return errQuit
	case "/help":
		r.printf("%s", helpText)
		return nil
	case "/new":
		return r.create(args)
	case "/list":
		return r.list()
	case "/use":
		if len(args) != 1 {
			return errors.New("usage: /use <conversation-id>")
		}
		return r.use(args[0])
	case "/personas":
		return r.personas(ctx)
	case "/status":
		return r.status()
	}

	id := r.currentID()
	if id == "" {
		return errors.New("no conversation selected; /new or /use first")
	}

	switch cmd {
	case "/next":
		return ctrl.RequestNextTurn(ctx, id)
	case "/auto":
		var interval time.Duration
		if len(args) > 0 {
			d, err := time.ParseDuration(args[0])
			if err != nil {
				return fmt.Errorf("invalid interval: %w", err)
			}
			interval = d
		}
		if err := ctrl.StartAutoMode(ctx, id, interval); err != nil {
			return err
		}
		r.printf("Auto mode on\n")
		return nil
	case "/manual":
		ctrl.StopAutoMode(id)
		r.printf("Auto mode off\n")
		return nil
	case "/pause":
		return ctrl.Pause(id)
	case "/resume":
		return ctrl.Resume(ctx, id)
	case "/stop":
		return ctrl.Stop(id)
	case "/branch":
		from := ""
		if len(args) > 0 {
			from = args[0]
		}
		branch, err := ctrl.Branch(ctx, id, from, "")
		if err != nil {
			return err
		}
		r.printf("Branched into %s\n", branch.ID)
		return r.use(branch.ID)
	case "/export":
		return r.export(ctx, id, args)
	}
	return fmt.Errorf("unknown command %s (try /help)", cmd)
}

// say adds a user message and, outside auto mode, asks for the next turn.
func (r *repl) say(ctx context.Context, content string) error {
	id := r.currentID()
	if id == "" {
		return errors.New("no conversation selected; /new or /use first")
	}
	if _, err := r.app.Controller().AddUserMessage(id, "user", content); err != nil {
		return err
	}
	if r.app.Controller().AutoMode(id) {
		return nil
	}
	return r.app.Controller().RequestNextTurn(ctx, id)
}

// create handles /new <persona,persona,...> [title].
func (r *repl) create(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: /new <persona,persona,...> [title]")
	}
	participants := strings.Split(args[0], ",")
	title := strings.Join(args[1:], " ")
	if title == "" {
		title = "Conversation " + time.Now().Format("Jan 2 15:04")
	}

	conv, err := r.app.Conversations().CreateConversation("", title, participants)
	if err != nil {
		return err
	}
	if err := r.app.Controller().RegisterParticipants(context.Background(), conv.ID); err != nil {
		r.printf("%s\n", color.YellowString("Personas not registered yet: %v", err))
	}
	r.printf("Created %s (%s)\n", conv.ID, title)
	return r.use(conv.ID)
}

func (r *repl) use(id string) error {
	conv, err := r.app.Conversations().Get(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.current = conv.ID
	for _, m := range conv.Messages {
		r.printed[m.ID] = true
	}
	r.mu.Unlock()
	r.printf("Using %s: %s (%d messages, %s)\n", conv.ID, conv.Title, len(conv.Messages), conv.Status)
	return nil
}

func (r *repl) list() error {
	convs := r.app.Conversations().List()
	if len(convs) == 0 {
		r.printf("No conversations.\n")
		return nil
	}
	for _, c := range convs {
		r.printf("  %s  %-30s %-10s %d messages\n", c.ID, c.Title, c.Status, len(c.Messages))
	}
	return nil
}

func (r *repl) personas(ctx context.Context) error {
	personas, err := r.app.Catalog().ListPersonas(ctx)
	if err != nil {
		return err
	}
	if len(personas) == 0 {
		r.printf("No personas configured. Use `chorus persona add`.\n")
		return nil
	}
	for _, p := range personas {
		r.printf("  %s: %s [%s]\n", p.ID, p.Name, p.ModelID)
	}
	return nil
}

func (r *repl) status() error {
	connected := "disconnected"
	if r.app.Transport().Connected() {
		connected = "connected"
	}
	r.printf("Backend: %s (%s)\n", r.app.Config().Backend.URL, connected)

	id := r.currentID()
	if id == "" {
		return nil
	}
	status, speaker, err := r.app.Conversations().Status(id)
	if err != nil {
		return err
	}
	auto := "off"
	if r.app.Controller().AutoMode(id) {
		auto = "on"
	}
	r.printf("Conversation %s: %s, speaker %q, auto mode %s\n", id, status, speaker, auto)
	return nil
}

// export handles /export <format> [path].
func (r *repl) export(ctx context.Context, id string, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: /export <json|markdown|text|html> [path]")
	}
	f, err := export.ParseFormat(args[0])
	if err != nil {
		return err
	}
	conv, err := r.app.Conversations().Get(id)
	if err != nil {
		return err
	}

	path := shortID(id) + "." + f.Extension()
	if len(args) > 1 {
		path = args[1]
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	defer file.Close()

	if err := export.Write(file, conv, f, personaNames(ctx, r.app.Catalog())); err != nil {
		return err
	}
	r.printf("Exported to %s\n", path)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

const helpText = `Commands:
  <text>                    add a message and ask for the next turn
  /new <p1,p2,...> [title]  create a conversation with these personas
  /list                     list conversations
  /use <id>                 switch conversation
  /personas                 list configured personas
  /next                     ask the backend for the next speaker
  /auto [interval]          let the personas talk on their own
  /manual                   leave auto mode
  /pause, /resume, /stop    control the current conversation
  /branch [message-id]      fork the conversation at a message
  /export <format> [path]   write a transcript (json, markdown, text, html)
  /status                   show connection and turn state
  /quit                     leave
`
