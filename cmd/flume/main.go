// Command flume is the terminal client for a flume gateway.
//
// Usage:
//
//	FLUME_TOKEN=... flume [flags]
//
// Flags:
//
//	-server string   Gateway base URL (default http://localhost:8080, or $FLUME_SERVER)
//	-token string    Bearer token (overrides $FLUME_TOKEN)
//	-model string    Model ID (default: server's default)
//	-attach glob     Attach files matching a glob to the first message (repeatable)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/flumechat/flume"
	bt "github.com/flumechat/flume/bubbletea"
	"github.com/flumechat/flume/client"
	"github.com/flumechat/flume/wire"
)

const defaultServerURL = "http://localhost:8080"

// multiFlag collects repeated occurrences of a string flag.
type multiFlag []string

func (m *multiFlag) String() string { return fmt.Sprint(*m) }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "flume: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var attachGlobs multiFlag
	var (
		serverURL = flag.String("server", "", "Gateway base URL (default $FLUME_SERVER or "+defaultServerURL+")")
		token     = flag.String("token", "", "Bearer token (overrides $FLUME_TOKEN)")
		model     = flag.String("model", "", "Model ID (default: server's default)")
	)
	flag.Var(&attachGlobs, "attach", "Attach files matching a glob to the first message (repeatable)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Env vars are read here and passed as values.
	base := *serverURL
	if base == "" {
		base = os.Getenv("FLUME_SERVER")
	}
	if base == "" {
		base = defaultServerURL
	}
	tok := *token
	if tok == "" {
		tok = os.Getenv("FLUME_TOKEN")
	}

	pending, err := expandAttachments(attachGlobs)
	if err != nil {
		return err
	}

	api := client.New(base, client.WithToken(tok))

	now := time.Now()
	session := &flume.Session{
		ID:        fmt.Sprintf("%d", now.UnixNano()),
		CreatedAt: now,
		UpdatedAt: now,
	}

	chatFn := newChatFunc(api, *model, pending)

	tuiModel := bt.New(chatFn, session, flume.DefaultTheme())
	if err := bt.Run(ctx, tuiModel); err != nil {
		return fmt.Errorf("TUI: %w", err)
	}
	return nil
}

// newChatFunc bridges the TUI's chat callback to the gateway client.
// Pending attachment blocks ride along with the first user message sent.
// The thread ID assigned by the server on the first turn is carried into
// every following turn, keeping the conversation on one thread.
func newChatFunc(api *client.Client, model string, pending []client.Block) bt.ChatFunc {
	var threadID string
	return func(ctx context.Context, session *flume.Session, onChunk func(string)) error {
		msgs := client.FromMessages(session.Messages)
		if len(pending) > 0 && len(msgs) > 0 && msgs[len(msgs)-1].Role == "user" {
			last := len(msgs) - 1
			msgs[last].Content = append(msgs[last].Content, pending...)
			pending = nil
		}

		req := client.ChatRequest{
			ThreadID: threadID,
			Model:    model,
			Stream:   true,
			Messages: msgs,
		}

		// A side parser tracks the envelope's thread ID; the TUI has its
		// own parser for display.
		p := wire.NewParser()
		err := api.Chat(ctx, req, func(chunk string) {
			if res := p.ProcessChunk([]byte(chunk)); res.ThreadID != "" {
				threadID = res.ThreadID
			}
			onChunk(chunk)
		})
		session.UpdatedAt = time.Now()
		return err
	}
}
