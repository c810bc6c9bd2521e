// Command imapcheck tests the IMAP connections defined in a configuration
// file and optionally lists recent messages from one of them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/nhle/imap-registry/internal/app"
	"github.com/nhle/imap-registry/internal/health"
	"github.com/nhle/imap-registry/internal/logging"
	"github.com/nhle/imap-registry/internal/model"
	"github.com/nhle/imap-registry/internal/theme"
)

type options struct {
	configPath string
	logLevel   string
	timeout    time.Duration
	verbose    bool
	list       int
	since      time.Duration
}

func main() {
	var opts options
	fs := flag.NewFlagSet("imapcheck", flag.ExitOnError)
	fs.StringVarP(&opts.configPath, "config", "c", model.DefaultConfigPath(), "path to the YAML configuration")
	fs.StringVar(&opts.logLevel, "log-level", "", "override the configured log level")
	fs.DurationVarP(&opts.timeout, "timeout", "t", health.DefaultTimeout, "per-connection probe timeout")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "print the failure reason of each down connection")
	fs.IntVarP(&opts.list, "list", "l", 0, "list the N most recent messages of each connection instead of probing")
	fs.DurationVar(&opts.since, "since", 7*24*time.Hour, "how far back --list searches")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: imapcheck [flags] [connection...]\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, fs.Args(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "imapcheck: %v\n", err)
		os.Exit(1)
	}
}

var errDown = errors.New("one or more connections are down")

func run(ctx context.Context, opts options, names []string, out io.Writer) error {
	cfg, err := model.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(names) == 0 {
		names = a.Catalog().Names()
	}

	if opts.list > 0 {
		return listMessages(ctx, a, names, opts, out)
	}
	return probe(ctx, a, names, opts, out)
}

func probe(ctx context.Context, a *app.App, names []string, opts options, out io.Writer) error {
	checker := health.New(a.Registry(), names, opts.timeout, a.Logger())
	statuses := checker.CheckAll(ctx)

	fmt.Fprintln(out, theme.HeaderStyle.Render("IMAP connections"))

	down := 0
	for _, s := range statuses {
		line := theme.NameStyle.Render(s.Name) +
			theme.StatusStyle(s.State.String()).Render(s.State.String()) +
			theme.DetailStyle.Render(s.Elapsed.Round(time.Millisecond).String())
		fmt.Fprintln(out, line)

		if s.State != health.StateUp {
			down++
			if opts.verbose && s.Err != nil {
				fmt.Fprintln(out, "  "+theme.DetailStyle.Render(s.Err.Error()))
			}
		}
	}

	if down > 0 {
		return errDown
	}
	return nil
}

func listMessages(ctx context.Context, a *app.App, names []string, opts options, out io.Writer) error {
	since := time.Now().Add(-opts.since)

	for _, name := range names {
		client, err := a.Registry().Get(name, false)
		if err != nil {
			return err
		}

		fetchCtx, cancel := context.WithTimeout(ctx, opts.timeout)
		envelopes, err := client.FetchEnvelopes(fetchCtx, since, opts.list)
		cancel()
		if err != nil {
			return fmt.Errorf("listing %s: %w", name, err)
		}

		fmt.Fprintln(out, theme.HeaderStyle.Render(name))
		for _, env := range envelopes {
			fmt.Fprintf(out, "%8d  %-30.30s  %s  %s\n",
				env.UID, env.From, env.Subject,
				theme.DetailStyle.Render(humanize.Time(env.Date)))
		}
	}
	return nil
}
