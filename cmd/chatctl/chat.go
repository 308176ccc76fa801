package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lalith-99/storefront/internal/chat"
	"github.com/lalith-99/storefront/internal/table"
	"github.com/spf13/cobra"
)

const chatHelp = `type a line and press enter to send
  /retry  reconnect after the connection closed or failed
  /quit   leave the conversation`

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <peer>",
		Short: "Open a live conversation with a peer",
		Long: `Opens a stream to the peer, prints the stored conversation followed by
live messages, and sends every line read from stdin.

` + chatHelp,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			opts, err := a.client.SessionOptions()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s := chat.NewSession(opts, a.client.Dialer(), a.client, a.logger)
			defer s.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, chatHelp)

			lines := readLines(ctx, cmd.InOrStdin())
			tr := newTranscript(out, opts.Self)

			s.SetPeer(chat.Identity(args[0]))
			tr.update(s.Snapshot())

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-s.Changes():
					tr.update(s.Snapshot())
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					switch strings.TrimSpace(line) {
					case "/quit":
						return nil
					case "/retry":
						s.Retry()
					case "/help":
						fmt.Fprintln(out, chatHelp)
					default:
						if err := s.Send(line); err != nil {
							tr.notice(chat.UserMessage(err))
						}
					}
				}
			}
		},
	}
}

// readLines feeds lines from r until EOF or until ctx is done. A read
// already blocked on r only returns when r produces data or closes.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			if ctx.Err() != nil {
				return
			}
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// transcript prints the parts of successive snapshots that are new.
type transcript struct {
	w    io.Writer
	self chat.Identity

	state       chat.State
	err         error
	historyErr  error
	historySeen bool
	printed     int
	pending     map[string]bool
}

func newTranscript(w io.Writer, self chat.Identity) *transcript {
	return &transcript{
		w:       w,
		self:    self,
		state:   chat.StateIdle,
		pending: make(map[string]bool),
	}
}

func (t *transcript) update(s chat.Snapshot) {
	if s.State != t.state {
		t.state = s.State
		if s.State == chat.StateConnecting && s.Attempt > 0 {
			fmt.Fprintf(t.w, "-- %s to %s (retry %d)\n", s.State, s.Peer, s.Attempt)
		} else {
			fmt.Fprintf(t.w, "-- %s\n", s.State)
		}
	}
	if s.Err != nil && !sameError(s.Err, t.err) {
		t.notice(chat.UserMessage(s.Err))
		if s.State == chat.StateClosed || s.State == chat.StateFailed {
			fmt.Fprintln(t.w, "-- type /retry to reconnect")
		}
	}
	t.err = s.Err

	if s.HistoryErr != nil && t.historyErr == nil {
		t.notice(chat.UserMessage(s.HistoryErr))
	}
	t.historyErr = s.HistoryErr

	// The list is rebuilt once history resolves, so print it whole.
	if s.HistoryLoaded && !t.historySeen {
		t.historySeen = true
		if t.printed > 0 {
			fmt.Fprintln(t.w, "-- conversation")
		}
		t.printed = 0
		clear(t.pending)
	}

	for _, m := range s.Messages[min(t.printed, len(s.Messages)):] {
		t.message(m)
	}
	t.printed = len(s.Messages)

	for _, m := range s.Messages {
		if m.ClientID != "" && m.Delivery == chat.Confirmed && t.pending[m.ClientID] {
			delete(t.pending, m.ClientID)
			fmt.Fprintf(t.w, "   delivered: %s\n", m.Body)
		}
	}
}

func (t *transcript) message(m chat.Message) {
	from := string(m.Sender)
	if m.Sender == t.self {
		from = "you"
	}
	marker := ""
	if m.Delivery == chat.Pending {
		marker = " (sending)"
		if m.ClientID != "" {
			t.pending[m.ClientID] = true
		}
	}
	if when := table.FormatValue(m.Timestamp); when != "" {
		fmt.Fprintf(t.w, "[%s] %s: %s%s\n", when, from, m.Body, marker)
		return
	}
	fmt.Fprintf(t.w, "%s: %s%s\n", from, m.Body, marker)
}

func (t *transcript) notice(msg string) {
	fmt.Fprintf(t.w, "!! %s\n", msg)
}

func sameError(a, b error) bool {
	if a == nil || b == nil {
		return a == b
	}
	return errors.Is(a, b) || a.Error() == b.Error()
}
