package screen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"booklisting/internal/browser"
	"booklisting/internal/connectivity"
	"booklisting/internal/listview"
	"booklisting/internal/models"
)

// State is the screen's position in Idle → Loading → {Populated|Empty|NoNetwork|Failed}.
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StatePopulated State = "populated"
	StateEmpty     State = "empty"
	StateNoNetwork State = "no_network"
	StateFailed    State = "failed"
)

// User-visible messages.
const (
	QueryHint         = "Enter a book title"
	MessageNoInternet = "No internet connection."
	MessageNoBooks    = "No books found."
	MessageLoading    = "Loading..."
)

// Searcher runs one search and reports a tagged outcome.
type Searcher interface {
	Search(ctx context.Context, query string) models.SearchOutcome
}

// View receives a snapshot after every state change.
// Show is always called from the controller's loop goroutine.
type View interface {
	Show(Snapshot)
}

// Snapshot is an immutable copy of what the screen should display.
type Snapshot struct {
	State      State
	Query      string
	Rows       []listview.Row
	Message    string
	Notice     string
	Generation uint64
}

type eventKind int

const (
	eventSearch eventKind = iota
	eventTap
)

type event struct {
	kind  eventKind
	query string
	index int
}

type loadResult struct {
	gen     uint64
	outcome models.SearchOutcome
}

// Controller owns the search screen state. All fields below the channels are
// touched only by the Run goroutine.
type Controller struct {
	searcher Searcher
	checker  connectivity.Checker
	opener   browser.Opener
	view     View
	logger   *log.Logger

	events  chan event
	results chan loadResult

	gen        uint64
	cancelLoad context.CancelFunc
	query      string
	books      []models.Book
	state      State
	message    string
	notice     string
}

// Config wires a Controller to its collaborators.
type Config struct {
	Searcher     Searcher
	Checker      connectivity.Checker
	Opener       browser.Opener
	View         View
	Logger       *log.Logger
	InitialQuery string
}

// New builds a Controller in the Idle state.
func New(cfg Config) (*Controller, error) {
	if cfg.Searcher == nil {
		return nil, errors.New("screen: nil searcher")
	}
	if cfg.View == nil {
		return nil, errors.New("screen: nil view")
	}
	if cfg.Checker == nil {
		cfg.Checker = connectivity.Static(true)
	}
	if cfg.Opener == nil {
		cfg.Opener = browser.SystemOpener{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	return &Controller{
		searcher: cfg.Searcher,
		checker:  cfg.Checker,
		opener:   cfg.Opener,
		view:     cfg.View,
		logger:   cfg.Logger,
		events:   make(chan event, 16),
		results:  make(chan loadResult),
		query:    cfg.InitialQuery,
		state:    StateIdle,
	}, nil
}

// Run performs the start-up check and then processes triggers and fetch
// results until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	c.start(ctx)
	for {
		select {
		case <-ctx.Done():
			c.cancelInFlight()
			return ctx.Err()
		case ev := <-c.events:
			switch ev.kind {
			case eventSearch:
				c.search(ctx, ev.query)
			case eventTap:
				c.tap(ev.index)
			}
		case res := <-c.results:
			c.finish(res)
		}
	}
}

// Search queues a user-initiated search for query.
func (c *Controller) Search(ctx context.Context, query string) error {
	return c.post(ctx, event{kind: eventSearch, query: query})
}

// Tap queues a tap on the row with the given 1-based index.
func (c *Controller) Tap(ctx context.Context, index int) error {
	return c.post(ctx, event{kind: eventTap, index: index})
}

func (c *Controller) post(ctx context.Context, ev event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case c.events <- ev:
		return nil
	}
}

func (c *Controller) start(ctx context.Context) {
	if !c.checker.Reachable(ctx) {
		c.logger.Printf("internet connection status: false, no fetch on start")
		c.books = nil
		c.set(StateNoNetwork, MessageNoInternet)
		return
	}
	c.logger.Printf("internet connection status: true, loading on start")
	c.load(ctx, c.query)
}

func (c *Controller) search(ctx context.Context, query string) {
	c.query = query
	if !c.checker.Reachable(ctx) {
		c.logger.Printf("internet connection status: false, search %q not sent", query)
		c.cancelInFlight()
		c.gen++
		c.books = nil
		c.set(StateNoNetwork, MessageNoInternet)
		return
	}
	c.logger.Printf("search value: %q", query)
	c.load(ctx, query)
}

// load supersedes any in-flight fetch and starts a new one.
func (c *Controller) load(ctx context.Context, query string) {
	c.cancelInFlight()
	c.gen++
	gen := c.gen

	loadCtx, cancel := context.WithCancel(ctx)
	c.cancelLoad = cancel
	c.books = nil
	c.set(StateLoading, MessageLoading)

	go func() {
		out := c.searcher.Search(loadCtx, query)
		select {
		case c.results <- loadResult{gen: gen, outcome: out}:
		case <-ctx.Done():
		}
	}()
}

func (c *Controller) finish(res loadResult) {
	if res.gen != c.gen {
		c.logger.Printf("discarding stale result generation=%d current=%d", res.gen, c.gen)
		return
	}
	c.cancelInFlight()

	switch res.outcome.Kind {
	case models.OutcomeBooks:
		c.books = res.outcome.Books
		c.set(StatePopulated, "")
	case models.OutcomeEmpty:
		c.books = nil
		c.set(StateEmpty, MessageNoBooks)
	default:
		c.books = nil
		if res.outcome.Failure == models.FailureNoConnectivity {
			// The probe passed but the network dropped before the request.
			c.set(StateNoNetwork, failureMessage(res.outcome))
			return
		}
		c.set(StateFailed, failureMessage(res.outcome))
	}
}

func (c *Controller) tap(index int) {
	if index < 1 || index > len(c.books) {
		c.notify(fmt.Sprintf("No book at position %d.", index))
		return
	}
	book := c.books[index-1]
	if !book.HasDetail() {
		c.notify(models.MissingDetailText)
		return
	}
	u, err := browser.ParseURI(book.DetailURL)
	if err != nil {
		c.logger.Printf("bad detail url=%q: %v", book.DetailURL, err)
		c.notify("Invalid link " + book.DetailURL)
		return
	}
	if err := c.opener.Open(u.String()); err != nil {
		c.logger.Printf("open detail url=%s: %v", book.DetailURL, err)
		c.notify(fmt.Sprintf("Could not open %s", book.DetailURL))
		return
	}
	c.logger.Printf("opened detail url=%s", book.DetailURL)
	c.notify("Opened " + book.DetailURL)
}

func (c *Controller) cancelInFlight() {
	if c.cancelLoad != nil {
		c.cancelLoad()
		c.cancelLoad = nil
	}
}

func (c *Controller) set(state State, message string) {
	c.state = state
	c.message = message
	c.notice = ""
	c.show()
}

func (c *Controller) notify(notice string) {
	c.notice = notice
	c.show()
}

func (c *Controller) show() {
	c.view.Show(Snapshot{
		State:      c.state,
		Query:      c.query,
		Rows:       listview.Bind(c.books),
		Message:    c.message,
		Notice:     c.notice,
		Generation: c.gen,
	})
}

func failureMessage(out models.SearchOutcome) string {
	switch out.Failure {
	case models.FailureStatus:
		return "The book service returned an error. Try again later."
	case models.FailureParse:
		return "The book service sent a response that could not be read."
	case models.FailureNoConnectivity:
		return MessageNoInternet
	default:
		return "Could not reach the book service."
	}
}
