// Package cli is the voltguard terminal client: it signs users in, drives the fault request
// lifecycle and keeps a request's chat open while the request is being worked on.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"voltguard/internal/apiclient"
	"voltguard/internal/config"
	"voltguard/internal/events"
	"voltguard/internal/faults"
	"voltguard/internal/lifecycle"
	"voltguard/internal/session"
)

// Version is set at build time.
var Version = "0.1.0"

type app struct {
	cfgPath string
	apiURL  string
	verbose bool

	in  io.Reader
	out io.Writer

	cfg      config.ClientConfig
	logger   *slog.Logger
	closeLog func() error
	store    *session.Store
}

// NewRootCmd builds the command tree reading interactive input from in and writing to out.
func NewRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{in: in, out: out}

	root := &cobra.Command{
		Use:   "voltguard",
		Short: "Fault desk client for consumers and field electricians",
		Long: `voltguard reports electrical faults, lets electricians pick them up and work them,
and keeps a chat open between the consumer and the assigned electrician.

Configuration comes from VOLTGUARD_* environment variables, optionally overlaid by
the YAML file given with --config.`,
		Version:           Version,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}
	root.SetIn(in)
	root.SetOut(out)

	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&a.apiURL, "api-url", "", "backend base URL (overrides config)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		a.loginCmd(),
		a.signupCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
		a.requestsCmd(),
		a.chatCmd(),
	)
	return root
}

// Execute runs the command tree against the process's stdio.
func Execute(ctx context.Context) error {
	return NewRootCmd(os.Stdin, os.Stdout).ExecuteContext(ctx)
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "help" || cmd.Name() == "version" {
		return nil
	}
	cfg, err := config.LoadClient(a.cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.apiURL != "" {
		cfg.BaseURL = a.apiURL
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	a.cfg = cfg
	a.logger, a.closeLog = config.SetupLogger(cfg.Logging, "voltguard")

	a.store, err = session.Open(cfg.SessionPath)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	return nil
}

func (a *app) teardown() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.closeLog != nil {
		errs = append(errs, a.closeLog())
	}
	return errors.Join(errs...)
}

func (a *app) client(tokens apiclient.TokenSource) *apiclient.Client {
	c := apiclient.New(a.cfg.BaseURL, tokens)
	c.Logger = a.logger
	return c
}

// session loads the stored sign-in, failing with an auth error when there is none.
func (a *app) session(ctx context.Context) (*session.Session, error) {
	s, err := a.store.Load(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return nil, faults.Authf("not signed in; run `voltguard login` first")
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &s, nil
}

// workspace is what a lifecycle or chat command operates on.
type workspace struct {
	sess   *session.Session
	api    *apiclient.Client
	bus    *events.Bus
	ctl    *lifecycle.Controller
	closer func()
}

func (a *app) workspace(ctx context.Context) (*workspace, error) {
	s, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	api := a.client(s)
	bus := events.NewBus()
	w := &workspace{
		sess:   s,
		api:    api,
		bus:    bus,
		ctl:    lifecycle.NewController(api, s, bus, a.logger),
		closer: bus.Close,
	}
	if a.cfg.MQTT.Broker != "" {
		w.closer = a.bridge(bus)
	}
	return w, nil
}

// bridge forwards bus events to the configured broker. The returned func closes the bus, drains
// what was already published and disconnects.
func (a *app) bridge(bus *events.Bus) func() {
	c, err := events.ConnectMQTT(events.MQTTConfig{
		BrokerURL: a.cfg.MQTT.Broker,
		ClientID:  a.cfg.MQTT.ClientID,
		Logger:    a.logger,
	})
	if err != nil {
		a.logger.Warn("mqtt unavailable, events stay local", "broker", a.cfg.MQTT.Broker, "error", err)
		return bus.Close
	}
	done := events.Bridge(context.Background(), bus, c, a.logger)
	return func() {
		bus.Close()
		<-done
		c.Disconnect(250)
	}
}
