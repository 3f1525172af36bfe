package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"voltguard/internal/chatsync"
	"voltguard/internal/faults"
	"voltguard/internal/lifecycle"
	"voltguard/internal/metrics"
)

func (a *app) chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the other side of a fault request",
	}
	cmd.AddCommand(a.chatWatchCmd(), a.chatSendCmd(), a.chatHistoryCmd())
	return cmd
}

func (a *app) chatOptions(w *workspace) chatsync.Options {
	return chatsync.Options{
		Interval:     a.cfg.ChatInterval,
		InitialDelay: a.cfg.ChatInitialDelay,
		Logger:       a.logger,
		Bus:          w.bus,
		ActorID:      w.sess.User.ID,
	}
}

func (a *app) chatWatchCmd() *cobra.Command {
	var metricsAddr string
	var statusInterval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <id>",
		Short: "Keep a request's conversation open",
		Long: `Poll the conversation of an assigned or in-progress request and print new
messages as they arrive. Every line typed on standard input is sent as a message.

  /resolve   mark the request resolved and leave (assigned electrician only)
  /quit      leave

The chat closes on its own once the request leaves the assigned or in-progress state.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.workspace(cmd.Context())
			if err != nil {
				return err
			}
			defer w.closer()
			id := args[0]

			r, err := w.ctl.GetRequest(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !r.Status.Active() {
				return faults.Conflictf("request %s is %s; chat is only open while it is assigned or in progress", id, r.Status)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if metricsAddr != "" {
				stop := a.serveMetrics(metricsAddr)
				defer stop()
			}

			out := newSyncWriter(a.out)
			seen := make(map[string]bool)
			self := w.sess.User.ID

			opts := a.chatOptions(w)
			opts.OnUpdate = func(up chatsync.Update) {
				out.do(func() {
					for _, m := range up.Messages {
						if seen[m.ID] {
							continue
						}
						seen[m.ID] = true
						printMessage(a.out, m, self)
					}
				})
			}
			opts.OnTerminated = func(requestID string, err error) {
				out.do(func() { fmt.Fprintf(a.out, "Request %s is gone, chat closed.\n", requestID) })
				cancel()
			}

			mgr := chatsync.NewManager(w.api, opts)
			defer mgr.StopAll()
			loop, err := mgr.Start(ctx, id)
			if err != nil {
				return err
			}

			out.do(func() {
				fmt.Fprintf(a.out, "Chat on %s %q (%s). /resolve or /quit to leave.\n", r.ID, r.Title, r.Status)
			})

			if statusInterval <= 0 {
				statusInterval = lifecycle.ActiveRequestInterval
			}
			go a.followStatus(ctx, cancel, w, id, statusInterval, out)
			go a.chatInput(ctx, cancel, w, loop, out)

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while chatting (default from config)")
	cmd.Flags().DurationVar(&statusInterval, "status-interval", 0, "how often to re-check the request status")
	_ = cmd.Flags().MarkHidden("status-interval")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if !cmd.Flags().Changed("metrics-addr") {
			metricsAddr = a.cfg.MetricsAddr
		}
	}
	return cmd
}

// followStatus ends the chat once the request leaves the active states.
func (a *app) followStatus(ctx context.Context, cancel context.CancelFunc, w *workspace, id string, every time.Duration, out *syncWriter) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		r, err := w.ctl.GetRequest(ctx, id)
		switch {
		case errors.Is(err, faults.ErrNotFound):
			out.do(func() { fmt.Fprintf(a.out, "Request %s is gone, chat closed.\n", id) })
			cancel()
			return
		case err != nil:
			if ctx.Err() == nil {
				a.logger.Warn("status check failed", "request_id", id, "error", err)
			}
		case !r.Status.Active():
			out.do(func() { fmt.Fprintf(a.out, "Request %s is now %s, chat closed.\n", id, r.Status) })
			cancel()
			return
		}
	}
}

// chatInput sends stdin lines until /quit, /resolve or end of input.
func (a *app) chatInput(ctx context.Context, cancel context.CancelFunc, w *workspace, loop *chatsync.Loop, out *syncWriter) {
	defer cancel()
	sc := bufio.NewScanner(a.in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/quit":
			return
		case "/resolve":
			ack, err := w.ctl.MarkResolved(ctx, loop.RequestID())
			out.do(func() {
				if err != nil {
					fmt.Fprintf(a.out, "resolve: %v\n", err)
					return
				}
				fmt.Fprintf(a.out, "%s is now %s\n", ack.ID, ack.Status)
			})
			if err == nil {
				return
			}
			continue
		}
		if _, err := loop.SendMessage(ctx, line); err != nil {
			if errors.Is(err, chatsync.ErrStopped) {
				return
			}
			out.do(func() { fmt.Fprintf(a.out, "send: %v\n", err) })
		}
	}
}

func (a *app) serveMetrics(addr string) func() {
	srv := &http.Server{Addr: addr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func (a *app) chatSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <id> <text...>",
		Short: "Send one message and print the conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.workspace(cmd.Context())
			if err != nil {
				return err
			}
			defer w.closer()

			loop := chatsync.New(args[0], w.api, a.chatOptions(w))
			msg, err := loop.SendMessage(cmd.Context(), strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			msgs := loop.Messages()
			if len(msgs) == 0 {
				msgs = []faults.ChatMessage{msg}
			}
			for _, m := range msgs {
				printMessage(a.out, m, w.sess.User.ID)
			}
			return nil
		},
	}
}

func (a *app) chatHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Print a request's conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.workspace(cmd.Context())
			if err != nil {
				return err
			}
			defer w.closer()

			up, err := chatsync.New(args[0], w.api, a.chatOptions(w)).Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			if len(up.Messages) == 0 {
				fmt.Fprintln(a.out, "No messages yet.")
				return nil
			}
			for _, m := range up.Messages {
				printMessage(a.out, m, w.sess.User.ID)
			}
			return nil
		},
	}
}
