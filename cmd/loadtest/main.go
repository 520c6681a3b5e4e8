package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/wisdm-app/threadsync/pkg/api"
	"github.com/wisdm-app/threadsync/pkg/auth"
	"github.com/wisdm-app/threadsync/pkg/client"
	"github.com/wisdm-app/threadsync/pkg/metrics"
	"github.com/wisdm-app/threadsync/pkg/thread"
)

// getCPULoad returns the 1-minute load average
func getCPULoad() float64 {
	// Read /proc/loadavg on Linux
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}

	// Format: "0.52 0.58 0.59 1/285 12345"
	var load1, load5, load15 float64
	fmt.Sscanf(string(data), "%f %f %f", &load1, &load5, &load15)
	return load1
}

// Stats tracks performance metrics
type Stats struct {
	viewersConnected atomic.Int64
	connectionErrors atomic.Int64
	disconnections   atomic.Int64
	reconnects       atomic.Int64

	pagesFetched   atomic.Int64
	fetchFailures  atomic.Int64
	totalFetchTime atomic.Int64 // in microseconds

	pushesApplied atomic.Int64

	votesSent     atomic.Int64
	votesFailed   atomic.Int64
	votesEchoed   atomic.Int64
	totalEchoTime atomic.Int64 // in microseconds

	// Connect phase failure breakdown
	connectTimeout   atomic.Int64
	connectOpenFails atomic.Int64
}

func (s *Stats) recordFetch(took time.Duration) {
	s.pagesFetched.Add(1)
	s.totalFetchTime.Add(took.Microseconds())
}

func (s *Stats) recordEcho(took time.Duration) {
	s.votesEchoed.Add(1)
	s.totalEchoTime.Add(took.Microseconds())
}

func (s *Stats) snapshot() (pages, pushes, votes int64, avgFetchUs, avgEchoUs float64) {
	pages = s.pagesFetched.Load()
	pushes = s.pushesApplied.Load()
	votes = s.votesSent.Load()

	if pages > 0 {
		avgFetchUs = float64(s.totalFetchTime.Load()) / float64(pages)
	}
	if echoed := s.votesEchoed.Load(); echoed > 0 {
		avgEchoUs = float64(s.totalEchoTime.Load()) / float64(echoed)
	}
	return
}

// Viewer is one simulated reader of a thread with its own connection
type Viewer struct {
	id       int
	threadID string
	manager  *client.Manager
	store    *thread.Store
	view     *thread.View
	stats    *Stats
	rng      *rand.Rand

	pendingMu sync.Mutex
	pending   map[string]time.Time // comment id -> vote sent at

	connected chan struct{}
}

func NewViewer(id int, socketURL, threadID string, fetcher thread.Fetcher, tokens auth.TokenSource, mode thread.SortMode, m *metrics.Metrics, stats *Stats) (*Viewer, error) {
	transport, err := client.NewWebSocketTransport(socketURL)
	if err != nil {
		return nil, err
	}
	transport.SetLogger(debugLogger)

	opts := client.DefaultOptions()
	manager := client.NewManager(transport, opts)
	manager.SetLogger(debugLogger)
	manager.SetMetrics(m)

	store := thread.NewStore()
	store.SetLogger(debugLogger)
	store.SetMetrics(m)

	v := &Viewer{
		id:        id,
		threadID:  threadID,
		manager:   manager,
		store:     store,
		stats:     stats,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
		pending:   make(map[string]time.Time),
		connected: make(chan struct{}, 1),
	}
	v.view = thread.NewView(threadID, store, manager, fetcher, thread.ViewOptions{
		SortMode: mode,
		Tokens:   tokens,
	})
	v.view.SetLogger(debugLogger)

	manager.OnConnectionStateChange(v.onStateChange)
	store.Subscribe(v.onChange)
	return v, nil
}

func (v *Viewer) onStateChange(change client.StateChange) {
	switch change.To {
	case client.StateConnected:
		if change.From == client.StateReconnecting {
			v.stats.reconnects.Add(1)
		}
		select {
		case v.connected <- struct{}{}:
		default:
		}
	case client.StateReconnecting, client.StateFailed:
		if change.From == client.StateConnected {
			v.stats.disconnections.Add(1)
		}
	}
}

func (v *Viewer) onChange(change thread.Change) {
	switch change.Kind {
	case thread.ChangeInserted, thread.ChangeUpdated:
		v.stats.pushesApplied.Add(1)
	case thread.ChangeVote:
		v.stats.pushesApplied.Add(1)
		v.pendingMu.Lock()
		sentAt, ok := v.pending[change.CommentID]
		v.pendingMu.Unlock()
		if !ok {
			return
		}
		if c, found := v.store.GetComment(v.threadID, change.CommentID); found && !c.PendingVoteAck {
			v.pendingMu.Lock()
			delete(v.pending, change.CommentID)
			v.pendingMu.Unlock()
			v.stats.recordEcho(time.Since(sentAt))
		}
	}
}

// Connect dials and waits for the Socket.IO handshake
func (v *Viewer) Connect(timeout time.Duration) error {
	if err := v.manager.Connect(); err != nil {
		return fmt.Errorf("manager.Connect: %w", err)
	}
	select {
	case <-v.connected:
		return nil
	case <-time.After(timeout):
		v.stats.connectTimeout.Add(1)
		return fmt.Errorf("not connected after %v (state %s)", timeout, v.manager.State())
	}
}

// Open loads the first page of the thread
func (v *Viewer) Open(ctx context.Context) error {
	start := time.Now()
	if err := v.view.Open(ctx); err != nil {
		v.stats.fetchFailures.Add(1)
		v.stats.connectOpenFails.Add(1)
		return err
	}
	v.stats.recordFetch(time.Since(start))
	return nil
}

// LoadRandomReplies loads the next page under a random top-level comment
// that still has unloaded replies
func (v *Viewer) LoadRandomReplies(ctx context.Context) error {
	var candidates []string
	for _, c := range v.view.Children(thread.RootParent) {
		if v.view.HasMore(c.ID) {
			candidates = append(candidates, c.ID)
		}
	}
	parentID := thread.RootParent
	if len(candidates) > 0 {
		parentID = candidates[v.rng.Intn(len(candidates))]
	} else if !v.view.HasMore(thread.RootParent) {
		return nil
	}

	start := time.Now()
	if err := v.view.LoadMore(ctx, parentID); err != nil {
		v.stats.fetchFailures.Add(1)
		return err
	}
	v.stats.recordFetch(time.Since(start))
	return nil
}

// CastRandomVote votes on a random top-level comment
func (v *Viewer) CastRandomVote(ctx context.Context) error {
	roots := v.view.Children(thread.RootParent)
	if len(roots) == 0 {
		return nil
	}
	target := roots[v.rng.Intn(len(roots))]
	votes := []thread.Vote{thread.VoteUp, thread.VoteDown, thread.VoteNone}
	vote := votes[v.rng.Intn(len(votes))]

	v.pendingMu.Lock()
	v.pending[target.ID] = time.Now()
	v.pendingMu.Unlock()

	if err := v.view.CastVote(ctx, target.ID, vote); err != nil {
		v.pendingMu.Lock()
		delete(v.pending, target.ID)
		v.pendingMu.Unlock()
		v.stats.votesFailed.Add(1)
		return err
	}
	v.stats.votesSent.Add(1)
	return nil
}

func (v *Viewer) Run(ctx context.Context, duration, minDelay, maxDelay, shutdownDelay time.Duration, voting bool, disconnectTimes chan<- time.Time) {
	defer func() {
		v.view.Close()
		v.manager.Close()

		// Record disconnect time
		select {
		case disconnectTimes <- time.Now():
		default:
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Viewer %d] PANIC: %v", v.id, r)
		}
	}()

	endTime := time.Now().Add(duration)
	for time.Now().Before(endTime) && ctx.Err() == nil {
		if voting && v.rng.Intn(2) == 0 {
			if err := v.CastRandomVote(ctx); err != nil {
				debugLogger.Printf("[Viewer %d] vote: %v", v.id, err)
			}
		} else if err := v.LoadRandomReplies(ctx); err != nil {
			debugLogger.Printf("[Viewer %d] load more: %v", v.id, err)
		}

		select {
		case <-ctx.Done():
		case <-time.After(randomDelay(v.rng, minDelay, maxDelay)):
		}
	}

	// Stagger shutdown to avoid thundering herd on disconnect
	if shutdownDelay > 0 && ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case <-time.After(shutdownDelay):
		}
	}
}

func randomDelay(rng *rand.Rand, minDelay, maxDelay time.Duration) time.Duration {
	if maxDelay <= minDelay {
		return minDelay
	}
	return minDelay + time.Duration(rng.Int63n(int64(maxDelay-minDelay)))
}

var debugLogger *log.Logger

func initLogging() error {
	// Create loadtest.log file (truncate on each run to avoid confusion)
	logFile, err := os.OpenFile("loadtest.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("failed to create loadtest.log: %w", err)
	}

	// Create loadtest_debug.log file for per-viewer connection logs
	debugLogFile, err := os.OpenFile("loadtest_debug.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("failed to create loadtest_debug.log: %w", err)
	}

	// Configure standard log to write to both stdout and file
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.SetFlags(log.LstdFlags)

	debugLogger = log.New(debugLogFile, "", log.LstdFlags|log.Lmicroseconds)
	return nil
}

func main() {
	socketURL := flag.String("socket", "http://localhost:5000", "Socket.IO server URL")
	apiURL := flag.String("api", "http://localhost:5000/api", "REST API base URL")
	threadID := flag.String("thread", "", "Thread every viewer opens")
	token := flag.String("token", os.Getenv("WISDM_SERVER_TOKEN"), "Bearer token (enables voting)")
	order := flag.String("order", "DESC", "Sort order: DESC or ASC")
	numViewers := flag.Int("viewers", 10, "Number of concurrent viewers")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 500*time.Millisecond, "Minimum delay between actions")
	maxDelay := flag.Duration("max-delay", 3*time.Second, "Maximum delay between actions")
	vote := flag.Bool("vote", false, "Cast random votes (requires -token)")
	flag.Parse()

	if *threadID == "" {
		fmt.Fprintln(os.Stderr, "-thread is required")
		os.Exit(2)
	}
	mode, err := thread.ParseSortMode(*order)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *vote && *token == "" {
		fmt.Fprintln(os.Stderr, "-vote requires -token")
		os.Exit(2)
	}

	// Initialize logging to both stdout and file
	if err := initLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	log.Printf("Load test logs will be written to loadtest.log")
	log.Printf("Per-viewer connection logs in loadtest_debug.log")

	tokens := auth.NewStaticTokenSource(*token)
	fetcher, err := api.NewClient(*apiURL, tokens)
	if err != nil {
		log.Fatalf("Invalid API URL: %v", err)
	}
	fetcher.SetLogger(debugLogger)

	// Calculate stagger delay: ramp up over 25% of test duration
	rampUpDuration := *duration / 4
	staggerDelay := rampUpDuration / time.Duration(*numViewers)
	if staggerDelay < 1*time.Millisecond {
		staggerDelay = 1 * time.Millisecond
	}

	log.Printf("Starting load test:")
	log.Printf("  Socket: %s", *socketURL)
	log.Printf("  API: %s", *apiURL)
	log.Printf("  Thread: %s (%s)", *threadID, mode)
	log.Printf("  Viewers: %d", *numViewers)
	log.Printf("  Duration: %v", *duration)
	log.Printf("  Ramp-up: %v (%v per viewer)", rampUpDuration, staggerDelay)
	log.Printf("  Delay: %v - %v", *minDelay, *maxDelay)
	log.Printf("  Voting: %v", *vote)
	log.Printf("")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats := &Stats{}
	// One registry for all viewers
	m := metrics.NewMetrics()
	var wg sync.WaitGroup

	// Start stats reporter
	stopStats := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		startTime := time.Now()
		for {
			select {
			case <-ticker.C:
				pages, pushes, votes, avgFetchUs, avgEchoUs := stats.snapshot()
				elapsed := time.Since(startTime).Seconds()
				log.Printf("Stats: %d viewers, %d pages (avg %.2fms), %d pushes (%.1f/s), %d votes (echo avg %.2fms), %d disconnects, load %.2f, goroutines %d",
					stats.viewersConnected.Load(), pages, avgFetchUs/1000.0, pushes, float64(pushes)/elapsed,
					votes, avgEchoUs/1000.0, stats.disconnections.Load(), getCPULoad(), runtime.NumGoroutine())
			case <-stopStats:
				return
			}
		}
	}()

	var firstConnectTime, lastConnectTime atomic.Value
	connectTimes := make(chan time.Time, *numViewers)
	disconnectTimes := make(chan time.Time, *numViewers)

	// Spawn viewers
	for i := 0; i < *numViewers && ctx.Err() == nil; i++ {
		wg.Add(1)

		// Reverse order for ramp-down
		shutdownDelay := staggerDelay * time.Duration(*numViewers-i-1)

		go func(id int, shutdownDelay time.Duration) {
			defer wg.Done()

			viewer, err := NewViewer(id, *socketURL, *threadID, fetcher, tokens, mode, m, stats)
			if err != nil {
				stats.connectionErrors.Add(1)
				return
			}

			if err := viewer.Connect(10 * time.Second); err != nil {
				stats.connectionErrors.Add(1)
				debugLogger.Printf("[Viewer %d] connect: %v", id, err)
				viewer.manager.Close()
				return
			}

			if err := viewer.Open(ctx); err != nil {
				stats.connectionErrors.Add(1)
				debugLogger.Printf("[Viewer %d] open: %v", id, err)
				viewer.view.Close()
				viewer.manager.Close()
				return
			}

			stats.viewersConnected.Add(1)
			select {
			case connectTimes <- time.Now():
			default:
			}

			// Only log every 100th viewer during ramp-up
			if id%100 == 0 {
				log.Printf("[Viewer %d] Connected", id)
			}

			viewer.Run(ctx, *duration, *minDelay, *maxDelay, shutdownDelay, *vote, disconnectTimes)
		}(i, shutdownDelay)

		// Stagger viewer connections based on calculated delay
		select {
		case <-ctx.Done():
		case <-time.After(staggerDelay):
		}
	}

	go func() {
		for t := range connectTimes {
			if firstConnectTime.Load() == nil {
				firstConnectTime.Store(t)
			}
			lastConnectTime.Store(t)
		}
	}()

	// Wait for all viewers to finish
	wg.Wait()
	close(stopStats)
	close(connectTimes)
	close(disconnectTimes)

	if ctx.Err() != nil {
		log.Printf("\nShutdown signal received, test stopped early")
	}

	if lastConnectTime.Load() != nil && firstConnectTime.Load() != nil {
		first := firstConnectTime.Load().(time.Time)
		last := lastConnectTime.Load().(time.Time)
		log.Printf("\nRamp-up: expected %v, took %v", rampUpDuration.Round(time.Second), last.Sub(first).Round(time.Second))
	}

	// Final stats
	pages, pushes, votes, avgFetchUs, avgEchoUs := stats.snapshot()
	connected := stats.viewersConnected.Load()

	log.Printf("\n=== Final Results ===")
	log.Printf("Viewers: %d attempted, %d connected (%.1f%%)", *numViewers, connected, float64(connected)/float64(*numViewers)*100)
	log.Printf("Duration: %v", *duration)
	log.Printf("Pages fetched: %d (avg %.2fms), %d failed", pages, avgFetchUs/1000.0, stats.fetchFailures.Load())
	log.Printf("Pushes applied: %d (%.1f/s)", pushes, float64(pushes)/duration.Seconds())
	if *vote {
		log.Printf("Votes: %d sent, %d failed, %d echoed (avg %.2fms)", votes, stats.votesFailed.Load(), stats.votesEchoed.Load(), avgEchoUs/1000.0)
	}
	log.Printf("Connection errors: %d", stats.connectionErrors.Load())
	log.Printf("  - Handshake timeouts: %d", stats.connectTimeout.Load())
	log.Printf("  - First page failed: %d", stats.connectOpenFails.Load())
	log.Printf("Disconnections: %d, reconnects: %d", stats.disconnections.Load(), stats.reconnects.Load())
}
