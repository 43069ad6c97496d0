package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/suPer8Hu/rental-chat/internal/chatclient"
	"github.com/suPer8Hu/rental-chat/internal/chatsync"
	"github.com/suPer8Hu/rental-chat/internal/protocol"
	"github.com/suPer8Hu/rental-chat/internal/store/redisstore"
)

type chatFlags struct {
	server       string
	token        string
	userID       uint64
	redisAddr    string
	pointerTTL   time.Duration
	typingQuiet  time.Duration
	typingExpiry time.Duration
}

func newChatCmd() *cobra.Command {
	var f chatFlags

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open an interactive support chat",
		Long: "Connects to the chat server as the token's user and resumes the live session.\n" +
			"Commands: /escalate asks for an agent, /end closes the chat, /quit exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.server, "server", "http://localhost:8080", "chat server base URL")
	cmd.Flags().StringVar(&f.token, "token", os.Getenv("CHAT_TOKEN"), "bearer token (defaults to CHAT_TOKEN)")
	cmd.Flags().Uint64Var(&f.userID, "user", 0, "user id owning the session pointer (required with --redis)")
	cmd.Flags().StringVar(&f.redisAddr, "redis", "", "keep the current-session pointer in redis instead of memory")
	cmd.Flags().DurationVar(&f.pointerTTL, "pointer-ttl", 7*24*time.Hour, "lifetime of the redis session pointer")
	cmd.Flags().DurationVar(&f.typingQuiet, "typing-quiet", 0, "input pause before typing_stop is sent")
	cmd.Flags().DurationVar(&f.typingExpiry, "typing-expiry", 0, "lifetime of a remote typing indicator")
	return cmd
}

func runChat(cmd *cobra.Command, f chatFlags) error {
	if f.token == "" {
		return errors.New("--token or CHAT_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store chatsync.PointerStore = chatsync.NewMemoryStore("")
	if f.redisAddr != "" {
		if f.userID == 0 {
			return errors.New("--user is required with --redis")
		}
		rds := redisstore.New(f.redisAddr, "", 0)
		if err := rds.Ping(ctx); err != nil {
			return err
		}
		defer rds.Close()
		store = rds.Pointer(f.userID, f.pointerTTL)
	}

	out := cmd.OutOrStdout()
	r := newRenderer(out)

	base := strings.TrimRight(f.server, "/")
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/chat/ws"

	sock := chatclient.NewSocket(wsURL, f.token)
	ctrl := chatsync.NewController(chatclient.NewHTTPService(base, f.token), sock, store, chatsync.Options{
		TypingQuiet:  f.typingQuiet,
		TypingExpiry: f.typingExpiry,
		OnChange:     r.render,
		OnError: func(err error) {
			fmt.Fprintf(out, "! %v\n", err)
		},
	})

	sockErr := make(chan error, 1)
	go func() { sockErr <- sock.Run(ctx, ctrl) }()

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sockErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(ctx, ctrl, line)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// chatActions is the part of the controller driven by terminal input.
type chatActions interface {
	InputActivity(ctx context.Context)
	Send(ctx context.Context, text string) error
	Escalate(ctx context.Context) error
	End(ctx context.Context) error
}

func handleLine(ctx context.Context, ctrl chatActions, line string) (quit bool, err error) {
	switch strings.TrimSpace(line) {
	case "":
		return false, nil
	case "/quit":
		return true, nil
	case "/escalate":
		return false, ctrl.Escalate(ctx)
	case "/end":
		return false, ctrl.End(ctx)
	}
	ctrl.InputActivity(ctx)
	return false, ctrl.Send(ctx, line)
}

func readLines(in io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		out <- sc.Text()
	}
}

// renderer prints each row once. History replacements reprint nothing that
// was already shown under the same id.
type renderer struct {
	out io.Writer

	mu        sync.Mutex
	session   string
	status    protocol.Status
	connected bool
	printed   map[int64]bool
	typing    map[protocol.Role]bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, printed: map[int64]bool{}, typing: map[protocol.Role]bool{}}
}

func (r *renderer) render(v chatsync.View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v.Connected != r.connected {
		r.connected = v.Connected
		if v.Connected {
			fmt.Fprintln(r.out, "-- connected")
		} else {
			fmt.Fprintln(r.out, "-- disconnected, retrying")
		}
	}
	if v.SessionID != r.session {
		r.session = v.SessionID
		r.printed = map[int64]bool{}
		if v.SessionID != "" {
			fmt.Fprintf(r.out, "-- session %s\n", v.SessionID)
		}
	}
	if v.Status != r.status {
		r.status = v.Status
		if v.Status != "" {
			fmt.Fprintf(r.out, "-- status %s\n", v.Status)
		}
	}

	typing := map[protocol.Role]bool{}
	for _, e := range v.Entries {
		switch e.Kind {
		case chatsync.EntryTyping:
			typing[e.Role] = true
			if !r.typing[e.Role] {
				fmt.Fprintf(r.out, "   %s is typing...\n", e.Role)
			}
		case chatsync.EntryOptimistic:
			// echoed back by the server as a confirmed message
		default:
			if r.printed[e.ID] {
				continue
			}
			r.printed[e.ID] = true
			fmt.Fprintln(r.out, formatEntry(e))
		}
	}
	r.typing = typing
}

func formatEntry(e chatsync.Entry) string {
	if e.Kind == chatsync.EntryNotice && e.Role == protocol.RoleSystem {
		return "** " + e.Text
	}
	line := fmt.Sprintf("[%s] %s", e.Role, e.Text)
	if e.Attachment != "" {
		line += " (" + e.Attachment + ")"
	}
	return line
}
