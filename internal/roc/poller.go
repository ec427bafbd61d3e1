package roc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultInterval is the wait between polls.
const DefaultInterval = 2 * time.Second

// MaxBackoff caps the wait after consecutive failures.
const MaxBackoff = 30 * time.Second

// Handler consumes one reading. A returned error counts on the error
// counter but does not end the session; the cursor moves past the
// punch either way.
type Handler func(ctx context.Context, r Reading) error

// Config configures a Poller.
type Config struct {
	BaseURL  string        // empty = DefaultBaseURL
	UnitID   string        // ROC unit/competition id, required
	Interval time.Duration // 0 = DefaultInterval
	Timeout  time.Duration // per request, 0 = DefaultTimeout
	LastID   int64         // resume cursor, 0 = from the beginning
}

// Status is a point-in-time snapshot of a poller.
type Status struct {
	IsRunning     bool       `json:"is_running"`
	Status        string     `json:"status"`
	PunchCount    int        `json:"punch_count"`
	ErrorCount    int        `json:"error_count"`
	LastPoll      *time.Time `json:"last_poll,omitempty"`
	LastID        int64      `json:"last_id"`
	CompetitionID string     `json:"competition_id,omitempty"`
}

// Poller drives a fetch loop against one ROC unit. Each Start opens a
// session with its own UUIDv7 id; counters accumulate for the life of
// the Poller.
type Poller struct {
	client   *Client
	handler  Handler
	interval time.Duration
	unitID   string

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	statusText string
	punchCount int
	errorCount int
	lastPoll   *time.Time
	lastID     int64
}

// NewPoller creates a poller over the given unit feed.
func NewPoller(cfg Config, h Handler) (*Poller, error) {
	if cfg.UnitID == "" {
		return nil, errors.New("roc: unit id required")
	}
	if h == nil {
		return nil, errors.New("roc: handler required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		client:     NewClient(cfg.BaseURL, cfg.UnitID, cfg.Timeout),
		handler:    h,
		interval:   interval,
		unitID:     cfg.UnitID,
		statusText: "Stoppad",
		lastID:     cfg.LastID,
	}, nil
}

// Start opens a polling session. The session ends when Stop is called
// or ctx is canceled.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("roc: poller already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.running = true
	p.cancel = cancel
	p.done = done
	p.statusText = "Startar"
	p.mu.Unlock()

	session := uuid.Must(uuid.NewV7()).String()
	slog.Info("roc poller started",
		"unit", p.unitID, "session", session, "interval", p.interval)
	go p.run(runCtx, session, done)
	return nil
}

// Stop ends the session and waits for the loop to exit. Safe on a
// stopped poller.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done
	p.client.Close()
}

// Status returns a snapshot of the poller.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{
		IsRunning:     p.running,
		Status:        p.statusText,
		PunchCount:    p.punchCount,
		ErrorCount:    p.errorCount,
		LastID:        p.lastID,
		CompetitionID: p.unitID,
	}
	if p.lastPoll != nil {
		t := *p.lastPoll
		st.LastPoll = &t
	}
	return st
}

func (p *Poller) run(ctx context.Context, session string, done chan struct{}) {
	defer func() {
		p.mu.Lock()
		p.running = false
		p.statusText = "Stoppad"
		p.mu.Unlock()
		close(done)
		slog.Info("roc poller stopped", "session", session)
	}()

	failures := 0
	for {
		err := p.poll(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			p.noteFailure(fmt.Sprintf("Återansluter (försök %d)", failures))
			slog.Warn("roc poll failed",
				"session", session, "failures", failures, "error", err)
		} else {
			failures = 0
		}

		wait := p.interval
		if failures > 0 {
			wait = backoff(p.interval, failures)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// poll fetches one batch and feeds it to the handler. The cursor
// advances past every parsed punch so a rejected one cannot wedge the
// feed.
func (p *Poller) poll(ctx context.Context) error {
	p.mu.Lock()
	cursor := p.lastID
	p.mu.Unlock()

	readings, warnings, err := p.client.Fetch(ctx, cursor)
	if err != nil {
		return err
	}

	now := time.Now()
	handled := 0
	rejected := 0
	for i := range readings {
		r := &readings[i]
		if err := p.handler(ctx, *r); err != nil {
			rejected++
			slog.Warn("roc punch rejected", "punch", r.ID, "chip", r.ChipID, "error", err)
		} else {
			handled++
		}
		if r.ID > cursor {
			cursor = r.ID
		}
	}
	for _, w := range warnings {
		rejected++
		slog.Warn("roc row skipped", "warning", w)
	}

	p.mu.Lock()
	p.lastPoll = &now
	p.lastID = cursor
	p.punchCount += handled
	p.errorCount += rejected
	p.statusText = "Ansluten"
	p.mu.Unlock()
	return nil
}

func (p *Poller) noteFailure(status string) {
	p.mu.Lock()
	p.errorCount++
	p.statusText = status
	p.mu.Unlock()
}

// backoff waits the interval times the failure count, capped at
// MaxBackoff.
func backoff(interval time.Duration, failures int) time.Duration {
	d := interval * time.Duration(failures)
	if d > MaxBackoff {
		return MaxBackoff
	}
	if d < interval {
		return interval
	}
	return d
}
