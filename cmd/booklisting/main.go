package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"booklisting/common"
	"booklisting/internal/browser"
	"booklisting/internal/connectivity"
	"booklisting/internal/gbooks"
	"booklisting/internal/listview"
	"booklisting/internal/screen"
)

const usage = "type a title to search, \"open N\" to view a book, \"quit\" to exit"

func main() {
	if err := common.LoadEnvFile(".env.local"); err != nil {
		log.Printf("failed to load .env.local: %v", err)
	}

	baseURL := flag.String("api", common.GetEnv("GOOGLE_BOOKS_URL", gbooks.DefaultBaseURL), "Google Books volumes endpoint")
	query := flag.String("query", "", "Query to load on start (empty sends the default request)")
	latency := flag.Duration("latency", common.ParseDuration(common.GetEnv("SIMULATED_LATENCY", "0s"), 0), "Artificial delay before each request")
	legacyURL := flag.Bool("legacy-url", common.ParseBool(common.GetEnv("LEGACY_URL", "false"), false), "Only replace spaces with + in the query instead of escaping it")
	verbose := flag.Bool("v", common.ParseBool(common.GetEnv("VERBOSE", "false"), false), "Log pipeline activity to stderr")
	flag.Parse()

	logger := log.New(io.Discard, "", 0)
	if *verbose {
		logger = log.New(os.Stderr, "booklisting ", log.LstdFlags)
	}

	fetcher := newFetcher(*baseURL, *latency, *legacyURL, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := screen.Config{
		Searcher:     fetcher,
		Checker:      connectivity.NewDialChecker(*baseURL),
		Opener:       browser.SystemOpener{},
		Logger:       logger,
		InitialQuery: *query,
	}
	if err := runTerminal(ctx, os.Stdin, os.Stdout, cfg); err != nil {
		log.Fatal(err)
	}
}

func newFetcher(baseURL string, latency time.Duration, legacyURL bool, logger *log.Logger) *gbooks.Fetcher {
	opts := []gbooks.Option{
		gbooks.WithBaseURL(baseURL),
		gbooks.WithDelay(latency),
		gbooks.WithLogger(logger),
	}
	if legacyURL {
		opts = append(opts, gbooks.WithLegacyURLs())
	}
	return gbooks.NewFetcher(opts...)
}

// runTerminal drives a screen controller from line input until quit, EOF or
// ctx cancellation. cfg.View is replaced with a terminal view on out.
func runTerminal(ctx context.Context, in io.Reader, out io.Writer, cfg screen.Config) error {
	view := &terminalView{out: out}
	cfg.View = view
	controller, err := screen.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	view.println(usage)
	done := make(chan error, 1)
	go func() { done <- controller.Run(ctx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			cmd, err := parseCommand(line)
			if err != nil {
				view.println(err.Error())
				continue
			}
			switch cmd.kind {
			case commandQuit:
				break loop
			case commandOpen:
				err = controller.Tap(ctx, cmd.index)
			default:
				err = controller.Search(ctx, cmd.query)
			}
			if err != nil {
				break loop
			}
		}
	}

	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type commandKind int

const (
	commandSearch commandKind = iota
	commandOpen
	commandQuit
)

type command struct {
	kind  commandKind
	query string
	index int
}

var errOpenUsage = errors.New("usage: open N (N is the number shown next to the title)")

// parseCommand reads one input line. Anything that is not a command is a query,
// including the empty line.
func parseCommand(line string) (command, error) {
	trimmed := strings.TrimSpace(line)
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return command{kind: commandSearch}, nil
	}
	switch strings.ToLower(fields[0]) {
	case "quit", "exit":
		if len(fields) == 1 {
			return command{kind: commandQuit}, nil
		}
	case "open":
		if len(fields) != 2 {
			return command{}, errOpenUsage
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return command{}, errOpenUsage
		}
		return command{kind: commandOpen, index: n}, nil
	}
	return command{kind: commandSearch, query: trimmed}, nil
}

// terminalView prints snapshots as plain text.
type terminalView struct {
	mu  sync.Mutex
	out io.Writer
}

func (v *terminalView) Show(snap screen.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if snap.Notice != "" {
		fmt.Fprintln(v.out, snap.Notice)
		v.prompt()
		return
	}

	switch snap.State {
	case screen.StateLoading:
		if snap.Query == "" {
			fmt.Fprintln(v.out, snap.Message)
		} else {
			fmt.Fprintf(v.out, "%s (%q)\n", snap.Message, snap.Query)
		}
		return
	case screen.StatePopulated:
		fmt.Fprintf(v.out, "%d books\n", len(snap.Rows))
		if err := listview.Render(v.out, snap.Rows); err != nil {
			return
		}
	default:
		if err := listview.RenderMessage(v.out, snap.Message); err != nil {
			return
		}
	}
	v.prompt()
}

func (v *terminalView) prompt() {
	fmt.Fprintf(v.out, "%s> ", screen.QueryHint)
}

func (v *terminalView) println(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.out, msg)
}
