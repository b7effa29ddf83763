package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/lotas/threadsum/internal/applog"
	"github.com/lotas/threadsum/internal/classify"
	"github.com/lotas/threadsum/internal/config"
	"github.com/lotas/threadsum/internal/detect"
	"github.com/lotas/threadsum/internal/dispatch"
	"github.com/lotas/threadsum/internal/extract"
	"github.com/lotas/threadsum/internal/page"
	"github.com/lotas/threadsum/internal/pipeline"
	"github.com/lotas/threadsum/internal/present"
	"github.com/lotas/threadsum/internal/relay"
	"github.com/lotas/threadsum/internal/summarize"
)

func main() {
	args := os.Args[1:]
	cmd := "watch"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "watch":
		err = runWatch(args)
	case "relay":
		err = runRelay(args)
	case "serve":
		err = runServe(args)
	case "extract":
		err = runExtract(args)
	case "help":
		printHelp()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		printHelp()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Print(`threadsum — summarize the email thread open in your browser

Usage:
  threadsum [watch]                                    Watch a page and show its summary (default)
    --url <url>            Poll a page over HTTP instead of the extension feed
    --file <path>          Read a saved page (.html or .html.lz4)
    --page-url <url>       URL to report for --file (default: a Gmail thread URL)
    --port <n>             Extension feed WebSocket port (default: 19292)
    --relay <ws-url>       Use a running relay instead of the in-process one
    --plain                Print state changes as lines instead of the TUI

  threadsum relay                                      Run the background relay
    --port <n>             Relay WebSocket port (default: 19293)

  threadsum serve                                      Run the Ollama-backed summarization service
    --listen <addr>        Listen address (default: localhost:5000)
    --model <name>         Ollama model (default: llama3.2)

  threadsum extract <file|url>                         Print what the detector sees in a page
    --page-url <url>       URL to classify a file against

  threadsum help                                       Show this help

Common flags:
  --config <path>          Config file (default: ~/.config/threadsum/config.yaml)
  --debug                  Log debug events

Environment:
  THREADSUM_SUMMARIZER_URL Summarization service base URL (default: http://localhost:5000)
  THREADSUM_RELAY_URL      Relay WebSocket URL for watch
  THREADSUM_LOG_DIR        Log directory (default: ~/.local/share/threadsum)
  THREADSUM_MODEL          Ollama model for serve
  OLLAMA_HOST              Ollama base URL (default: http://localhost:11434)
`)
}

// commonFlags registers --config and --debug on fs.
func commonFlags(fs *flag.FlagSet) (configPath *string, debug *bool) {
	configPath = fs.String("config", config.DefaultPath(), "Config file path")
	debug = fs.Bool("debug", false, "Log debug events")
	return configPath, debug
}

// setup loads the config and opens the log.
func setup(configPath string, debug bool) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if err := applog.Init(cfg.LogDir); err != nil {
		return cfg, fmt.Errorf("open log: %w", err)
	}
	applog.SetDebug(debug || cfg.Debug)
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// reorderArgs moves flag arguments before positional arguments so that
// flag.Parse handles them correctly (it stops at the first non-flag arg).
func reorderArgs(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "-") {
			flags = append(flags, args[i])
			if !strings.Contains(args[i], "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") && !isBoolFlag(args[i]) {
				flags = append(flags, args[i+1])
				i++
			}
		} else {
			positional = append(positional, args[i])
		}
	}
	return append(flags, positional...)
}

func isBoolFlag(arg string) bool {
	switch strings.TrimLeft(arg, "-") {
	case "debug", "plain":
		return true
	}
	return false
}

func detectConfig(cfg config.Config) detect.Config {
	c := classify.Default()
	c.ViewPatterns = cfg.Detect.ViewPatterns
	e := extract.Default()
	e.ReadabilityFallback = cfg.Extract.ReadabilityFallback
	return detect.Config{
		URLPoll:    cfg.Detect.URLPoll,
		Fallback:   cfg.Detect.Fallback,
		Classifier: c,
		Extractor:  e,
	}
}

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	url := fs.String("url", "", "Poll a page over HTTP")
	file := fs.String("file", "", "Read a saved page")
	pageURL := fs.String("page-url", "https://mail.google.com/mail/u/0/#inbox/thread", "URL reported for --file")
	port := fs.Int("port", 0, "Extension feed WebSocket port")
	relayURL := fs.String("relay", "", "Relay WebSocket URL")
	plain := fs.Bool("plain", false, "Print state changes as lines")
	fs.Parse(reorderArgs(args))

	cfg, err := setup(*configPath, *debug)
	if err != nil {
		return err
	}
	defer applog.Close()
	if *port != 0 {
		cfg.Feed.Port = *port
	}
	if *relayURL != "" {
		cfg.Relay.URL = *relayURL
	}

	ctx, cancel := signalContext()
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var src page.Source
	switch {
	case *url != "":
		src, err = page.NewHTTPSource(*url)
		if err != nil {
			return err
		}
	case *file != "":
		src = page.NewFileSource(*file, *pageURL)
	default:
		feed := page.NewFeed(cfg.Feed.Port)
		g.Go(func() error { return feed.ListenAndServe(ctx) })
		src = feed
	}

	var boundary dispatch.Boundary
	if cfg.Relay.URL != "" {
		conn := relay.NewConn(cfg.Relay.URL)
		defer conn.Close()
		boundary = conn
	} else {
		client := summarize.NewClient(cfg.Summarize.BaseURL, cfg.Summarize.Timeout)
		boundary = relay.NewLocal(relay.New(client))
	}

	p := pipeline.New(src, pipeline.Config{
		Detect:   detectConfig(cfg),
		Retry:    dispatch.RetryPolicy{MaxRetries: cfg.Dispatch.MaxRetries, Delay: cfg.Dispatch.RetryDelay},
		Boundary: boundary,
	})
	g.Go(func() error { return p.Run(ctx) })

	if *plain {
		printer := present.NewPrinter(os.Stdout)
		g.Go(func() error {
			for st := range p.States() {
				printer.Show(st)
			}
			return nil
		})
		return g.Wait()
	}

	prog := tea.NewProgram(present.NewModel(p.States(), p.Refresh))
	g.Go(func() error {
		<-ctx.Done()
		prog.Quit()
		return nil
	})
	_, err = prog.Run()
	p.Stop()
	cancel()
	if werr := g.Wait(); err == nil {
		err = werr
	}
	return err
}

func runRelay(args []string) error {
	fs := flag.NewFlagSet("relay", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	port := fs.Int("port", 0, "Relay WebSocket port")
	fs.Parse(reorderArgs(args))

	cfg, err := setup(*configPath, *debug)
	if err != nil {
		return err
	}
	defer applog.Close()
	if *port != 0 {
		cfg.Relay.Port = *port
	}

	ctx, cancel := signalContext()
	defer cancel()

	client := summarize.NewClient(cfg.Summarize.BaseURL, cfg.Summarize.Timeout)
	srv := relay.NewServer(cfg.Relay.Port, relay.New(client))
	fmt.Fprintf(os.Stderr, "Relay listening on ws://127.0.0.1:%d/ (summarizer %s)\n", srv.Port(), cfg.Summarize.BaseURL)
	return srv.ListenAndServe(ctx)
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	listen := fs.String("listen", "", "Listen address")
	model := fs.String("model", "", "Ollama model name")
	fs.Parse(reorderArgs(args))

	cfg, err := setup(*configPath, *debug)
	if err != nil {
		return err
	}
	defer applog.Close()
	if *listen != "" {
		cfg.Summarize.Listen = *listen
	}
	if *model != "" {
		cfg.Summarize.Model = *model
	}

	ctx, cancel := signalContext()
	defer cancel()

	gen := summarize.Ollama{Host: cfg.Summarize.OllamaHost, Model: cfg.Summarize.Model}
	fmt.Fprintf(os.Stderr, "Summarization service on http://%s (model %s)\n", cfg.Summarize.Listen, cfg.Summarize.Model)
	return summarize.NewService(gen).ListenAndServe(ctx, cfg.Summarize.Listen)
}

func runExtract(args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	pageURL := fs.String("page-url", "https://mail.google.com/mail/u/0/#inbox/thread", "URL to classify a file against")
	fs.Parse(reorderArgs(args))

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: threadsum extract <file|url>")
	}
	target := fs.Arg(0)

	cfg, err := setup(*configPath, *debug)
	if err != nil {
		return err
	}
	defer applog.Close()

	var src page.Source
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		src, err = page.NewHTTPSource(target)
		if err != nil {
			return err
		}
	} else {
		src = page.NewFileSource(target, *pageURL)
	}

	ctx, cancel := signalContext()
	defer cancel()
	snap, err := src.Snapshot(ctx)
	if err != nil {
		return err
	}

	dc := detectConfig(cfg)
	st := detect.Observe(dc.Classifier, dc.Extractor, snap)
	fmt.Printf("url:         %s\n", st.URL)
	fmt.Printf("source:      %s\n", classify.DetectSource(st.URL))
	fmt.Printf("thread open: %v\n", st.ThreadOpen)
	fmt.Printf("fingerprint: %s\n", st.Fingerprint)
	if st.Content != "" {
		fmt.Printf("\n%s\n", st.Content)
	}
	return nil
}
