package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"voltguard/internal/faults"
	"voltguard/internal/lifecycle"
)

func (a *app) requestsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "requests",
		Aliases: []string{"req"},
		Short:   "List, raise and work fault requests",
	}
	cmd.AddCommand(
		a.requestsListCmd(),
		a.requestsGetCmd(),
		a.requestsCreateCmd(),
		a.requestsActiveCmd(),
		a.requestsWatchCmd(),
		a.transitionCmd("accept", "Take an open request", func(ctx context.Context, c *lifecycle.Controller, id string) (lifecycle.Ack, error) {
			return c.AcceptRequest(ctx, id)
		}),
		a.transitionCmd("start", "Mark an assigned request in progress", func(ctx context.Context, c *lifecycle.Controller, id string) (lifecycle.Ack, error) {
			return c.MarkInProgress(ctx, id)
		}),
		a.transitionCmd("resolve", "Mark your request resolved", func(ctx context.Context, c *lifecycle.Controller, id string) (lifecycle.Ack, error) {
			return c.MarkResolved(ctx, id)
		}),
		a.transitionCmd("close", "Close an in-progress or resolved request", func(ctx context.Context, c *lifecycle.Controller, id string) (lifecycle.Ack, error) {
			return c.CloseRequest(ctx, id)
		}),
		a.transitionCmd("cancel", "Cancel your open request", func(ctx context.Context, c *lifecycle.Controller, id string) (lifecycle.Ack, error) {
			return c.CancelRequest(ctx, id)
		}),
	)
	return cmd
}

func statusFlag(cmd *cobra.Command, p *string) {
	cmd.Flags().StringVar(p, "status", "", "only requests in this status (open, assigned, in_progress, resolved, closed)")
}

func (a *app) requestsListCmd() *cobra.Command {
	var status string
	var mine bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List fault requests, newest first",
		Long: `List fault requests, newest first.

Consumers see the requests they raised. Electricians see every request, or only
their own assignments with --mine.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.workspace(cmd.Context())
			if err != nil {
				return err
			}
			defer w.closer()
			items, err := w.ctl.ListRequests(cmd.Context(), lifecycle.ListOptions{Status: faults.Status(status), Mine: mine})
			if err != nil {
				return err
			}
			printRequests(a.out, items)
			return nil
		},
	}
	statusFlag(cmd, &status)
	cmd.Flags().BoolVar(&mine, "mine", false, "only requests assigned to me")
	return cmd
}

func (a *app) requestsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one fault request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.workspace(cmd.Context())
			if err != nil {
				return err
			}
			defer w.closer()
			r, err := w.ctl.GetRequest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRequest(a.out, r)
			return nil
		},
	}
}

func (a *app) requestsCreateCmd() *cobra.Command {
	var in faults.NewRequest
	var priority string
	var lat, lon float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Report a new fault",
		Example: `  voltguard requests create --title "Power Trip" --description "breaker trips hourly" \
    --location "12 Oak St" --priority high`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Priority = faults.Priority(priority)
			if cmd.Flags().Changed("lat") {
				in.Latitude = &lat
			}
			if cmd.Flags().Changed("lon") {
				in.Longitude = &lon
			}
			// validate before loading the session
			if err := in.Validate(); err != nil {
				return err
			}
			w, err := a.workspace(cmd.Context())
			if err != nil {
				return err
			}
			defer w.closer()
			r, err := w.ctl.CreateRequest(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Created %s (%s, %s)\n", r.ID, r.Status, r.Priority)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "short summary")
	cmd.Flags().StringVar(&in.Description, "description", "", "what is wrong")
	cmd.Flags().StringVar(&in.Location, "location", "", "address or landmark")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium (default), high or critical")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude")
	cmd.Flags().StringVar(&in.PhotoURL, "photo", "", "photo reference")
	return cmd
}

func (a *app) requestsActiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "Show your current job (electricians)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.workspace(cmd.Context())
			if err != nil {
				return err
			}
			defer w.closer()
			r, ok, err := w.ctl.ActiveRequest(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(a.out, "No active request.")
				return nil
			}
			printRequest(a.out, r)
			return nil
		},
	}
}

type transitionFunc func(ctx context.Context, c *lifecycle.Controller, id string) (lifecycle.Ack, error)

func (a *app) transitionCmd(use, short string, fn transitionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.workspace(cmd.Context())
			if err != nil {
				return err
			}
			defer w.closer()
			ack, err := fn(cmd.Context(), w.ctl, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s is now %s\n", ack.ID, ack.Status)
			return nil
		},
	}
}

func (a *app) requestsWatchCmd() *cobra.Command {
	var status string
	var mine bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the request list on screen and act on it",
		Long: `Refresh the request list periodically and reprint it when a request appears,
changes status or changes hands.

Commands read from standard input, one per line:
  accept <id>   take the request
  reject <id>   hide the request from this session (it stays open for others)
  quit          stop watching`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.workspace(cmd.Context())
			if err != nil {
				return err
			}
			defer w.closer()
			if interval <= 0 {
				interval = a.cfg.ListInterval
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if _, err := w.ctl.ListRequests(ctx, lifecycle.ListOptions{Status: faults.Status(status), Mine: mine}); err != nil {
				return err
			}

			out := newSyncWriter(a.out)
			go a.watchCommands(ctx, cancel, w, out)

			err = w.ctl.Watch(ctx, interval, func(items []faults.FaultRequest) {
				out.do(func() {
					fmt.Fprintf(a.out, "\n-- %s --\n", time.Now().Format("15:04:05"))
					printRequests(a.out, items)
				})
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	statusFlag(cmd, &status)
	cmd.Flags().BoolVar(&mine, "mine", false, "only requests assigned to me")
	cmd.Flags().DurationVar(&interval, "interval", 0, "refresh interval (default from config)")
	return cmd
}

// watchCommands executes stdin commands for requests watch. End of input leaves the watch running.
func (a *app) watchCommands(ctx context.Context, cancel context.CancelFunc, w *workspace, out *syncWriter) {
	sc := bufio.NewScanner(a.in)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch {
		case fields[0] == "quit":
			cancel()
			return
		case fields[0] == "accept" && len(fields) == 2:
			ack, err := w.ctl.AcceptRequest(ctx, fields[1])
			out.do(func() {
				if err != nil {
					fmt.Fprintf(a.out, "accept %s: %v\n", fields[1], err)
					printRequests(a.out, w.ctl.Requests())
					return
				}
				fmt.Fprintf(a.out, "%s is now %s\n", ack.ID, ack.Status)
			})
		case fields[0] == "reject" && len(fields) == 2:
			w.ctl.RejectRequest(fields[1])
			out.do(func() { printRequests(a.out, w.ctl.Requests()) })
		default:
			out.do(func() { fmt.Fprintf(a.out, "unknown command %q\n", sc.Text()) })
		}
	}
}
