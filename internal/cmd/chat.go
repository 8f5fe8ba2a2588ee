package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/reeflective/readline"
	"github.com/spf13/cobra"

	"kounsel/internal/api"
	"kounsel/internal/chat"
	"kounsel/internal/config"
	"kounsel/internal/logging"
)

var (
	// chat-specific flags
	chatSessionID string
	chatResume    bool
	oncePrompt    string
)

// chatCmd represents the chat command.
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat with the admission counselor",
	Long: `Start an interactive conversation with the KCET admission counselor.

Responses stream live into the terminal, including the counselor's
in-progress thinking steps. Conversations are stored in the backend and
can be resumed later.

Use --once to send a single message and exit:
  kounsel chat --once "What was the CSE cutoff at RVCE last year?"

Commands (interactive mode only):
  /new             - Start a fresh conversation
  /sessions        - List stored conversations
  /open <n|id>     - Switch to a conversation from the list
  /rename <title>  - Rename the current conversation
  /delete [n|id]   - Delete a conversation (current one by default)
  /cancel          - Cancel the in-flight response
  /link            - Print the shareable web link for this conversation
  /quit, /exit     - Exit`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "Resume the conversation with this session id")
	chatCmd.Flags().BoolVar(&chatResume, "resume", false, "Resume the most recent conversation")
	chatCmd.Flags().StringVar(&oncePrompt, "once", "", "Send a single message and exit (non-interactive mode)")
}

// chatRenderer prints controller callbacks to the terminal and signals
// turn completion so the REPL can block between prompt and response.
type chatRenderer struct {
	out io.Writer

	mu              sync.Mutex
	streamedBytes   int
	thinkingPrinted int
	sessionID       string

	turnDone chan struct{}
}

func newChatRenderer(out io.Writer) *chatRenderer {
	return &chatRenderer{out: out, turnDone: make(chan struct{}, 1)}
}

func (r *chatRenderer) callbacks(sidebar *chat.Sidebar) chat.Callbacks {
	return chat.Callbacks{
		OnState: func(s chat.State) {
			if s == chat.StateIdle {
				select {
				case r.turnDone <- struct{}{}:
				default:
				}
			}
		},
		OnThinking: func(steps []chat.ThinkingStep) {
			r.mu.Lock()
			defer r.mu.Unlock()
			if len(steps) == 0 {
				r.thinkingPrinted = 0
				return
			}
			for ; r.thinkingPrinted < len(steps); r.thinkingPrinted++ {
				fmt.Fprintf(r.out, "  · %s\n", steps[r.thinkingPrinted].Step)
			}
		},
		OnTranscript: func(messages []api.Message) {
			r.mu.Lock()
			defer r.mu.Unlock()
			if len(messages) == 0 {
				r.streamedBytes = 0
				return
			}
			last := messages[len(messages)-1]
			switch {
			case last.ID == chat.StreamingMessageID:
				fmt.Fprint(r.out, last.Content[r.streamedBytes:])
				r.streamedBytes = len(last.Content)
			case r.streamedBytes > 0:
				// Turn finished (or the partial message was dropped);
				// terminate the streamed line.
				fmt.Fprintln(r.out)
				r.streamedBytes = 0
			}
		},
		OnSessionID: func(id string) {
			r.mu.Lock()
			r.sessionID = id
			r.mu.Unlock()
			sidebar.SetActive(id)
			if !chat.IsPlaceholderID(id) {
				saveLastSession(id)
			}
		},
		OnError: func(msg string) {
			fmt.Fprintf(r.out, "\n❌ %s\n", msg)
		},
		OnRefresh: func() {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := sidebar.Refresh(ctx); err != nil {
					logging.Sidebar().Debug("background refresh failed", "error", err)
				}
			}()
		},
	}
}

// waitTurn blocks until the in-flight turn finishes or the context ends.
func (r *chatRenderer) waitTurn(ctx context.Context) {
	select {
	case <-r.turnDone:
	case <-ctx.Done():
	}
}

// drainTurn clears a leftover completion signal before a new send.
func (r *chatRenderer) drainTurn() {
	select {
	case <-r.turnDone:
	default:
	}
}

func saveLastSession(id string) {
	st := config.State{LastSessionID: id, UpdatedAt: time.Now()}
	if err := config.SaveState(st); err != nil {
		logging.ConfigLogger().Debug("failed to persist last session", "error", err)
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Println("\n\n👋 Shutting down...")
		cancel()
	}()

	tokens := newTokenStore()
	client := newAPIClient(tokens)
	transport := newChatTransport(tokens)

	sidebar := chat.NewSidebar(client, nil)
	renderer := newChatRenderer(os.Stdout)
	controller := chat.NewController(client, transport, renderer.callbacks(sidebar))

	// Pick up config edits (a refreshed token in particular) without a
	// restart.
	if watcher, err := config.NewWatcher(effectiveConfigPath()); err == nil {
		watcher.Subscribe(func(updated *config.Config) {
			tokens.Set(updated.Token)
			logging.ConfigLogger().Info("configuration reloaded")
		})
		watcher.Start()
		defer watcher.Close()
	} else {
		logging.ConfigLogger().Debug("config watcher unavailable", "error", err)
	}

	// Resolve which conversation to start in.
	startID := chatSessionID
	if startID == "" && chatResume {
		if st, err := config.LoadState(); err == nil && st.LastSessionID != "" {
			startID = st.LastSessionID
		}
	}
	if startID != "" {
		if err := controller.SelectSession(ctx, startID); err != nil {
			return fmt.Errorf("failed to resume session %s: %w", startID, err)
		}
		printTranscript(controller.Messages())
	}

	if oncePrompt != "" {
		return runOnce(ctx, controller, renderer, oncePrompt)
	}
	return runChatLoop(ctx, controller, sidebar, renderer)
}

// runOnce sends a single message and exits after the response completes.
func runOnce(ctx context.Context, controller *chat.Controller, renderer *chatRenderer, message string) error {
	renderer.drainTurn()
	if err := controller.SendMessage(ctx, message); err != nil {
		return err
	}
	renderer.waitTurn(ctx)
	fmt.Println()
	return ctx.Err()
}

// printTranscript replays stored history when resuming a conversation.
func printTranscript(messages []api.Message) {
	for _, m := range messages {
		label := "counselor"
		if m.Role == api.RoleUser {
			label = "you"
		}
		fmt.Printf("\n[%s] %s\n", label, m.Content)
	}
	if len(messages) > 0 {
		fmt.Println()
	}
}

// slashCommands defines the available slash commands with descriptions,
// used for /help and tab completion.
var slashCommands = []struct {
	name        string
	description string
}{
	{"/help", "Show available commands"},
	{"/new", "Start a fresh conversation"},
	{"/sessions", "List stored conversations"},
	{"/open", "Switch to a conversation: /open <number|id>"},
	{"/rename", "Rename the current conversation: /rename <title>"},
	{"/delete", "Delete a conversation: /delete [number|id]"},
	{"/cancel", "Cancel the in-flight response"},
	{"/link", "Print the shareable web link"},
	{"/quit", "Exit"},
	{"/exit", "Exit (alias)"},
}

func runChatLoop(ctx context.Context, controller *chat.Controller, sidebar *chat.Sidebar, renderer *chatRenderer) error {
	rl := readline.NewShell()
	rl.Prompt.Primary(func() string { return "kounsel> " })

	history := readline.NewInMemoryHistory()
	rl.History.Add("default", history)

	rl.Completer = func(line []rune, cursor int) readline.Completions {
		return completeInput(string(line), cursor)
	}

	fmt.Println("\n📝 Ask the counselor anything about KCET admissions. /help for commands.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				fmt.Println("\n👋 Goodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if done := handleCommand(ctx, controller, sidebar, renderer, line); done {
				return nil
			}
			continue
		}

		renderer.drainTurn()
		fmt.Println()
		if err := controller.SendMessage(ctx, line); err != nil {
			switch {
			case err == chat.ErrBusy:
				fmt.Println("⏳ A response is still in flight. /cancel to abort it.")
			case err == chat.ErrEmptyMessage:
				// Blank input; nothing to do.
			default:
				// Already surfaced via OnError; log the detail.
				logging.Chat().Debug("send failed", "error", err)
			}
			continue
		}
		renderer.waitTurn(ctx)
		fmt.Println()
	}
}

// handleCommand executes one slash command. It returns true when the REPL
// should exit.
func handleCommand(ctx context.Context, controller *chat.Controller, sidebar *chat.Sidebar, renderer *chatRenderer, line string) bool {
	parts := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(parts) == 0 {
		return false
	}

	switch strings.ToLower(parts[0]) {
	case "quit", "exit", "q":
		fmt.Println("👋 Goodbye!")
		return true

	case "help", "h", "?":
		printChatHelp()

	case "new":
		controller.NewConversation()
		fmt.Println("✨ Started a fresh conversation.")

	case "sessions":
		listSessions(ctx, sidebar, controller.SessionID())

	case "open":
		if len(parts) < 2 {
			fmt.Println("Usage: /open <number|id>")
			return false
		}
		id := resolveSessionArg(sidebar, parts[1])
		if id == "" {
			fmt.Printf("❓ No such conversation: %s (try /sessions first)\n", parts[1])
			return false
		}
		if err := controller.SelectSession(ctx, id); err != nil {
			logging.Chat().Debug("open failed", "session_id", id, "error", err)
			return false
		}
		printTranscript(controller.Messages())

	case "rename":
		if len(parts) < 2 {
			fmt.Println("Usage: /rename <title>")
			return false
		}
		id := controller.SessionID()
		if chat.IsPlaceholderID(id) {
			fmt.Println("❓ Nothing to rename yet; send a message first.")
			return false
		}
		title := strings.Join(parts[1:], " ")
		if err := controller.RenameSession(ctx, id, title); err != nil {
			logging.Chat().Debug("rename failed", "error", err)
			return false
		}
		fmt.Printf("✏️  Renamed to %q.\n", title)

	case "delete":
		id := controller.SessionID()
		if len(parts) >= 2 {
			id = resolveSessionArg(sidebar, parts[1])
			if id == "" {
				fmt.Printf("❓ No such conversation: %s (try /sessions first)\n", parts[1])
				return false
			}
		}
		if chat.IsPlaceholderID(id) {
			fmt.Println("❓ Nothing to delete yet.")
			return false
		}
		if err := controller.DeleteSession(ctx, id); err != nil {
			logging.Chat().Debug("delete failed", "error", err)
			return false
		}
		fmt.Println("🗑  Conversation deleted.")

	case "cancel":
		controller.CancelStream()
		fmt.Println("🛑 Cancelled")

	case "link":
		if cfg.WebBaseURL == "" {
			fmt.Println("❓ web_base_url is not configured.")
			return false
		}
		id := controller.SessionID()
		if chat.IsPlaceholderID(id) {
			fmt.Println("❓ No shareable link yet; send a message first.")
			return false
		}
		fmt.Println(chat.SessionURL(cfg.WebBaseURL, id))

	default:
		fmt.Printf("❓ Unknown command: /%s (use /help for available commands)\n", parts[0])
	}
	return false
}

// listSessions refreshes and prints the session list, most recent first.
func listSessions(ctx context.Context, sidebar *chat.Sidebar, activeID string) {
	if err := sidebar.Refresh(ctx); err != nil {
		fmt.Println("❌ Could not load your conversations. Please try again.")
		return
	}
	sessions := sidebar.Sessions()
	if len(sessions) == 0 {
		fmt.Println("No stored conversations yet.")
		return
	}
	for i, s := range sessions {
		marker := " "
		if s.ID == activeID {
			marker = "*"
		}
		title := s.Title
		if strings.TrimSpace(title) == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s %2d. %s", marker, i+1, title)
		if !s.UpdatedAt.IsZero() {
			fmt.Printf("  (%s)", s.UpdatedAt.Local().Format("Jan 2 15:04"))
		}
		fmt.Println()
		if s.Preview != "" {
			fmt.Printf("       %s\n", s.Preview)
		}
	}
}

// resolveSessionArg turns a /open or /delete argument into a session id:
// either a 1-based index into the last listed sessions, or an id verbatim.
func resolveSessionArg(sidebar *chat.Sidebar, arg string) string {
	if n, err := strconv.Atoi(arg); err == nil {
		sessions := sidebar.Sessions()
		if n < 1 || n > len(sessions) {
			return ""
		}
		return sessions[n-1].ID
	}
	if _, ok := sidebar.Find(arg); ok {
		return arg
	}
	// Allow ids the sidebar has not fetched yet.
	if !chat.IsPlaceholderID(arg) && len(sidebar.Sessions()) == 0 {
		return arg
	}
	return ""
}

func printChatHelp() {
	fmt.Println("\nAvailable commands:")
	for _, c := range slashCommands {
		fmt.Printf("  %-12s %s\n", c.name, c.description)
	}
	fmt.Println(`
Tips:
  - Type your question and press Enter to ask the counselor
  - Use up/down arrows for input history
  - Use Tab to autocomplete slash commands`)
}

// completeInput provides tab completion for slash commands.
func completeInput(line string, cursor int) readline.Completions {
	if cursor > len(line) {
		cursor = len(line)
	}
	text := line[:cursor]

	if !strings.HasPrefix(text, "/") {
		return readline.Completions{}
	}

	var pairs []string
	for _, cmd := range slashCommands {
		if strings.HasPrefix(cmd.name, text) {
			pairs = append(pairs, cmd.name, cmd.description)
		}
	}
	if len(pairs) == 0 {
		return readline.Completions{}
	}

	return readline.CompleteValuesDescribed(pairs...).
		Tag("commands").
		NoSpace('/')
}
