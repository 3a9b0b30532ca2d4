// Package memory implements the memory side of the orchestration core:
// synchronous turn recording, asynchronous consolidation of turns into
// memory entries, composite-scored retrieval, and background decay and
// expiry sweeps.
//
// Consolidation runs on a bounded queue drained by a worker pool. Failures
// on that path are logged and counted but never surface to the caller of a
// turn; the synchronous Record path is the only one that returns errors.
package memory

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/scrypster/aide/internal/llm"
	"github.com/scrypster/aide/internal/observability"
	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/pkg/types"
)

const (
	// maxConsolidationAttempts bounds retries for a failed consolidation job.
	maxConsolidationAttempts = 3

	// maxRetryWrites bounds replays of a failed synchronous turn write.
	maxRetryWrites = 5

	// candidateOversample widens the similarity search so composite scoring
	// has room to reorder before cutting to k.
	candidateOversample = 4

	// durableImportance is the importance at or above which a fact is kept
	// durable rather than ephemeral.
	durableImportance = 0.75

	// scoreEpsilon is the spread within which two composite scores count as
	// tied; ties go to the more recently created entry.
	scoreEpsilon = 1e-6

	// textScanCap bounds how many entries a keyword query scans. The scan
	// walks newest entries first, so the cap trims the oldest tail.
	textScanCap = 500

	// textScanPageSize is the page size of the keyword scan.
	textScanPageSize = 100
)

// Consolidation job result labels.
const (
	consolidationOK      = "ok"
	consolidationEmpty   = "empty"
	consolidationFailed  = "failed"
	consolidationDropped = "dropped"
)

// Config holds the tuning knobs for a memory store.
type Config struct {
	Workers              int           // consolidation worker goroutines
	QueueSize            int           // consolidation queue capacity
	RetryQueueSize       int           // retry-write queue capacity
	ShutdownTimeout      time.Duration // drain timeout on shutdown
	RetrievalK           int           // default k for queries
	ConsolidationEnabled bool          // queue consolidation after Record
	DecayHalfLife        time.Duration // half-life of the decay curve
	SweepInterval        time.Duration // cadence of the decay and expiry sweep
	ExpiryAge            time.Duration // minimum age before ephemeral entries may expire
	ExpiryScoreFloor     float64       // decay score below which aged ephemeral entries expire
}

// DefaultConfig returns the default memory store configuration.
func DefaultConfig() Config {
	return Config{
		Workers:              4,
		QueueSize:            256,
		RetryQueueSize:       128,
		ShutdownTimeout:      30 * time.Second,
		RetrievalK:           8,
		ConsolidationEnabled: true,
		DecayHalfLife:        defaultHalfLife,
		SweepInterval:        time.Hour,
		ExpiryAge:            336 * time.Hour,
		ExpiryScoreFloor:     0.25,
	}
}

// normalize fills zero values with defaults so a partially populated Config
// still yields a working store.
func (c *Config) normalize() {
	defaults := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaults.QueueSize
	}
	if c.RetryQueueSize <= 0 {
		c.RetryQueueSize = defaults.RetryQueueSize
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if c.RetrievalK <= 0 {
		c.RetrievalK = defaults.RetrievalK
	}
	if c.DecayHalfLife <= 0 {
		c.DecayHalfLife = defaults.DecayHalfLife
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaults.SweepInterval
	}
	if c.ExpiryAge <= 0 {
		c.ExpiryAge = defaults.ExpiryAge
	}
	if c.ExpiryScoreFloor <= 0 {
		c.ExpiryScoreFloor = defaults.ExpiryScoreFloor
	}
}

// consolidationJob is one turn waiting for memory extraction.
type consolidationJob struct {
	turn     *types.Turn
	attempts int
	enqueued time.Time
}

// retryRecord is one turn whose synchronous write failed and is waiting for
// a background replay.
type retryRecord struct {
	turn     *types.Turn
	attempts int
}

// EventSink receives consolidation lifecycle notifications, such as a web
// hub streaming them to clients. Implementations must not block; workers
// call them inline.
type EventSink interface {
	ConsolidationFinished(turnID string, entriesCreated int)
}

// Store coordinates turn recording, consolidation, retrieval, and decay on
// top of a storage backend.
type Store struct {
	storage    storage.Store
	embedder   llm.EmbeddingGenerator
	extractor  Extractor
	heuristics Extractor
	decay      *DecayManager
	metrics    *observability.Metrics
	sink       EventSink
	config     Config

	queue      chan *consolidationJob
	retryQueue chan *retryRecord

	workerWG     sync.WaitGroup
	workerCtx    context.Context
	workerCancel context.CancelFunc

	mu           sync.RWMutex
	started      bool
	shuttingDown bool
}

// New constructs a memory store. The generator backs LLM extraction and may
// be nil, in which case consolidation runs on heuristics alone. The embedder
// may also be nil; entries are then stored without embeddings and Query
// reports the missing provider. Metrics may be nil (recording is a no-op).
func New(store storage.Store, generator llm.TextGenerator, embedder llm.EmbeddingGenerator, metrics *observability.Metrics, cfg Config) *Store {
	cfg.normalize()

	heuristics := &HeuristicExtractor{}
	var extractor Extractor = heuristics
	if generator != nil {
		extractor = NewLLMExtractor(generator)
	}

	return &Store{
		storage:    store,
		embedder:   embedder,
		extractor:  extractor,
		heuristics: heuristics,
		decay:      NewDecayManager(cfg.DecayHalfLife),
		metrics:    metrics,
		config:     cfg,
		queue:      make(chan *consolidationJob, cfg.QueueSize),
		retryQueue: make(chan *retryRecord, cfg.RetryQueueSize),
	}
}

// SetEventSink registers a sink for consolidation notifications. It must be
// called before Start.
func (s *Store) SetEventSink(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// Start launches the consolidation workers, the retry writer, and the
// maintenance loop. It must be called before Record.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("memory store already started")
	}

	log.Println("Starting memory store...")

	s.workerCtx, s.workerCancel = context.WithCancel(ctx)

	for i := 0; i < s.config.Workers; i++ {
		s.workerWG.Add(1)
		go s.consolidationWorker(s.workerCtx, i)
	}
	log.Printf("Started %d consolidation workers", s.config.Workers)

	s.workerWG.Add(1)
	go s.retryWriter(s.workerCtx)

	s.workerWG.Add(1)
	go s.maintenanceLoop(s.workerCtx)

	s.started = true
	log.Println("Memory store started")

	return nil
}

// Shutdown drains the consolidation queue and stops the background loops.
// Jobs that cannot finish within the configured timeout are dropped and the
// remaining queue length is logged.
func (s *Store) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return fmt.Errorf("memory store not started")
	}

	log.Println("Shutting down memory store...")
	s.shuttingDown = true

	// Cancelling the worker context stops requeues and the background loops;
	// in-flight database writes run on their own context and complete.
	s.workerCancel()
	close(s.queue)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		log.Println("All memory workers finished gracefully")
	case <-time.After(s.config.ShutdownTimeout):
		log.Printf("WARNING: shutdown timeout reached, %d consolidation jobs may be dropped", len(s.queue))
	case <-ctx.Done():
		log.Printf("WARNING: shutdown context cancelled, %d consolidation jobs may be dropped", len(s.queue))
		err = ctx.Err()
	}

	s.started = false
	s.shuttingDown = false
	log.Println("Memory store shut down")

	return err
}

// Record synchronously persists a turn and queues it for consolidation. The
// returned ID identifies the stored turn even on failure. When the write
// fails, the turn goes onto the retry-write queue and the caller gets a
// *types.PersistenceError; the conversation may still proceed, but the turn
// must be treated as not yet committed.
func (s *Store) Record(ctx context.Context, turn *types.Turn) (string, error) {
	s.mu.RLock()
	if !s.started {
		s.mu.RUnlock()
		return "", fmt.Errorf("memory store not started")
	}
	s.mu.RUnlock()

	if turn == nil {
		return "", fmt.Errorf("%w: turn is required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(turn.Input) == "" {
		return "", fmt.Errorf("%w: turn input is required", storage.ErrInvalidInput)
	}
	if turn.ConversationID == "" {
		return "", fmt.Errorf("%w: conversation id is required", storage.ErrInvalidInput)
	}

	if turn.ID == "" {
		turn.ID = types.NewTurnID()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	if err := s.storage.StoreTurn(ctx, turn); err != nil {
		s.queueRetryWrite(turn)
		return turn.ID, types.NewPersistenceError("record turn", err)
	}

	if s.config.ConsolidationEnabled {
		s.Consolidate(turn)
	}

	return turn.ID, nil
}

// Consolidate queues a turn for asynchronous memory extraction. It never
// blocks: when the queue is full or shutdown is in progress the job is
// dropped with a warning and counted. Returns whether the job was queued.
func (s *Store) Consolidate(turn *types.Turn) bool {
	if turn == nil || turn.ID == "" {
		return false
	}
	return s.enqueue(&consolidationJob{turn: cloneTurn(turn), enqueued: time.Now()})
}

// Query embeds the query text, retrieves similarity candidates, and ranks
// them by the composite score similarity * importanceWeight * recencyWeight.
// Ties go to the more recently created entry. Up to k entries are returned
// (the configured default when k <= 0), and each returned entry has its
// access counter bumped, which slows its decay.
//
// Query is a pure read path plus access bookkeeping; it is safe to call
// concurrently with Record and consolidation.
func (s *Store) Query(ctx context.Context, queryText string, k int, filters types.QueryFilters) ([]types.ScoredEntry, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, fmt.Errorf("%w: query text is required", storage.ErrInvalidInput)
	}
	if k <= 0 {
		k = s.config.RetrievalK
	}
	if s.embedder == nil {
		return nil, fmt.Errorf("memory query: no embedding provider configured")
	}

	embedding, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("memory query: embedding failed: %w", err)
	}

	matches, err := s.storage.SearchByEmbedding(ctx, embedding, k*candidateOversample, filters)
	if err != nil {
		return nil, types.NewPersistenceError("query entries", err)
	}

	now := time.Now().UTC()
	scored := make([]types.ScoredEntry, 0, len(matches))
	for _, match := range matches {
		scored = append(scored, s.scoreMatch(match, now))
	}

	return s.rankAndTake(ctx, scored, k), nil
}

// QueryText retrieves entries by keyword overlap instead of embeddings.
// It is the fallback retrieval path when no embedding provider is configured
// or the provider is failing. Ranking uses the same composite score as
// Query, with the fraction of query terms found in the entry standing in
// for similarity. The scan walks newest entries first and is capped, so on
// very large stores only the most recent window is searched.
func (s *Store) QueryText(ctx context.Context, queryText string, k int, filters types.QueryFilters) ([]types.ScoredEntry, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, fmt.Errorf("%w: query text is required", storage.ErrInvalidInput)
	}
	if k <= 0 {
		k = s.config.RetrievalK
	}

	queryTerms := searchTerms(queryText)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	scored := make([]types.ScoredEntry, 0, k)
	opts := storage.ListOptions{Limit: textScanPageSize, SortBy: "created_at", SortOrder: "desc"}

	scanned := 0
	for page := 1; scanned < textScanCap; page++ {
		opts.Page = page
		result, err := s.storage.ListEntries(ctx, filters, opts)
		if err != nil {
			return nil, types.NewPersistenceError("scan entries", err)
		}

		for i := range result.Items {
			entry := result.Items[i]
			overlap := termOverlap(queryTerms, entry.Content)
			if overlap <= 0 {
				continue
			}
			scored = append(scored, s.scoreMatch(storage.EntryMatch{Entry: &entry, Similarity: overlap}, now))
		}

		scanned += len(result.Items)
		if !result.HasMore {
			break
		}
	}

	return s.rankAndTake(ctx, scored, k), nil
}

// rankAndTake sorts scored entries best-first, cuts the list to k, and bumps
// access counters on everything returned. Ties within scoreEpsilon go to the
// more recently created entry so ranking stays deterministic.
func (s *Store) rankAndTake(ctx context.Context, scored []types.ScoredEntry, k int) []types.ScoredEntry {
	sort.SliceStable(scored, func(i, j int) bool {
		if math.Abs(scored[i].Score-scored[j].Score) > scoreEpsilon {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Entry.CreatedAt.After(scored[j].Entry.CreatedAt)
	})

	if len(scored) > k {
		scored = scored[:k]
	}

	for i := range scored {
		if err := s.storage.IncrementAccess(ctx, scored[i].Entry.ID); err != nil {
			log.Printf("WARNING: failed to record access for entry %s: %v", scored[i].Entry.ID, err)
		}
	}

	return scored
}

// scoreMatch folds similarity, importance, and decay into one composite
// score. Importance and recency map onto [0.5, 1.0] so a weak component
// dampens an otherwise strong match instead of erasing it.
func (s *Store) scoreMatch(match storage.EntryMatch, now time.Time) types.ScoredEntry {
	similarity := clamp01(match.Similarity)
	importanceWeight := 0.5 + 0.5*clamp01(match.Entry.Importance)
	recencyWeight := 0.5 + 0.5*s.decay.Score(match.Entry, now)

	return types.ScoredEntry{
		Entry: *match.Entry,
		Score: similarity * importanceWeight * recencyWeight,
		Components: types.ScoreComponents{
			Similarity: similarity,
			Importance: importanceWeight,
			Recency:    recencyWeight,
		},
	}
}

// QueueDepth reports jobs waiting for consolidation.
func (s *Store) QueueDepth() int {
	return len(s.queue)
}

// Decay exposes the decay manager so read paths outside the store can score
// entries consistently.
func (s *Store) Decay() *DecayManager {
	return s.decay
}

// enqueue attempts to queue a consolidation job without blocking.
func (s *Store) enqueue(job *consolidationJob) bool {
	if s.workerCtx != nil && s.workerCtx.Err() != nil {
		return false
	}

	select {
	case s.queue <- job:
		s.metrics.SetConsolidationQueueDepth(len(s.queue))
		return true
	default:
		log.Printf("WARNING: consolidation queue full (size=%d), dropping job for turn %s",
			s.config.QueueSize, job.turn.ID)
		s.metrics.RecordConsolidation(consolidationDropped)
		return false
	}
}

// requeue attempts to requeue a failed consolidation job. Returns false when
// max attempts are reached, shutdown is in progress, or the queue stays full.
func (s *Store) requeue(job *consolidationJob) bool {
	if s.workerCtx != nil && s.workerCtx.Err() != nil {
		log.Printf("WARNING: not requeueing turn %s, shutdown in progress", job.turn.ID)
		return false
	}

	if job.attempts+1 >= maxConsolidationAttempts {
		log.Printf("Max attempts (%d) reached consolidating turn %s, giving up",
			maxConsolidationAttempts, job.turn.ID)
		return false
	}

	job.attempts++

	select {
	case s.queue <- job:
		log.Printf("Requeued consolidation for turn %s (attempt %d/%d)",
			job.turn.ID, job.attempts, maxConsolidationAttempts)
		return true
	case <-time.After(10 * time.Millisecond):
		log.Printf("WARNING: failed to requeue consolidation for turn %s, queue timeout", job.turn.ID)
		return false
	}
}

// consolidationWorker drains the consolidation queue until it closes.
func (s *Store) consolidationWorker(ctx context.Context, workerID int) {
	defer s.workerWG.Done()

	log.Printf("Consolidation worker %d started", workerID)

	for job := range s.queue {
		s.metrics.SetConsolidationQueueDepth(len(s.queue))
		s.processJob(ctx, workerID, job)
	}

	log.Printf("Consolidation worker %d stopped", workerID)
}

// processJob extracts memory candidates from one turn and stores them as
// entries. Failures never reach the turn's caller: they are logged, counted,
// and retried with backoff up to maxConsolidationAttempts, after which
// extraction degrades to heuristics.
func (s *Store) processJob(ctx context.Context, workerID int, job *consolidationJob) {
	log.Printf("Worker %d consolidating turn %s (attempt %d)", workerID, job.turn.ID, job.attempts)

	// Database writes use a background context so cancellation during
	// shutdown cannot interrupt a write mid-entry.
	dbCtx := context.Background()

	if job.attempts > 0 {
		backoff := time.Duration(job.attempts*job.attempts) * 100 * time.Millisecond
		log.Printf("Worker %d: waiting %v before retry (attempt %d)", workerID, backoff, job.attempts)
		time.Sleep(backoff)
	}

	facts, err := s.extractor.Extract(ctx, job.turn)
	if err != nil {
		if s.requeue(job) {
			return
		}
		log.Printf("Worker %d: extraction failed for turn %s, falling back to heuristics: %v",
			workerID, job.turn.ID, err)
		facts, err = s.heuristics.Extract(ctx, job.turn)
		if err != nil {
			s.metrics.RecordConsolidation(consolidationFailed)
			return
		}
	}

	if len(facts) == 0 {
		s.metrics.RecordConsolidation(consolidationEmpty)
		return
	}

	stored := 0
	for _, fact := range facts {
		entry := s.entryFromFact(job.turn, fact)

		if s.embedder != nil {
			if vec, embErr := s.embedder.Embed(ctx, entry.Content); embErr != nil {
				log.Printf("Worker %d: WARNING - embedding failed for entry %s: %v", workerID, entry.ID, embErr)
			} else {
				entry.Embedding = vec
				entry.EmbeddingModel = s.embedder.GetModel()
				entry.EmbeddingDimension = len(vec)
			}
		}

		// Each entry is written on its own: a failure loses that entry only,
		// never half of one.
		if storeErr := s.storage.StoreEntry(dbCtx, entry); storeErr != nil {
			log.Printf("ERROR: Worker %d failed to store entry %s from turn %s: %v",
				workerID, entry.ID, job.turn.ID, storeErr)
			continue
		}
		stored++
	}

	if stored == 0 {
		if s.requeue(job) {
			return
		}
		s.metrics.RecordConsolidation(consolidationFailed)
		return
	}

	s.metrics.RecordConsolidation(consolidationOK)
	s.metrics.RecordEntriesCreated(stored)
	if s.sink != nil {
		s.sink.ConsolidationFinished(job.turn.ID, stored)
	}
	log.Printf("Worker %d stored %d entries from turn %s", workerID, stored, job.turn.ID)
}

// entryFromFact turns one extracted candidate into a storable entry.
// Preferences and high-importance facts are kept durable; everything else is
// ephemeral and subject to the expiry sweep.
func (s *Store) entryFromFact(turn *types.Turn, fact llm.ExtractedFact) *types.MemoryEntry {
	now := time.Now().UTC()

	kind := types.MemoryKind(fact.Kind)
	retention := types.RetentionEphemeral
	if kind == types.KindPreference || fact.Importance >= durableImportance {
		retention = types.RetentionDurable
	}

	return &types.MemoryEntry{
		ID:             types.NewMemoryID(),
		Content:        fact.Content,
		Kind:           kind,
		CreatedAt:      now,
		UpdatedAt:      now,
		SourceTurnIDs:  []string{turn.ID},
		ConversationID: turn.ConversationID,
		Importance:     fact.Importance,
		Retention:      retention,
		DecayScore:     1.0,
		Sensitive:      fact.Sensitive || turn.Sensitive,
	}
}

// queueRetryWrite puts a failed turn write on the retry queue without
// blocking. A full queue drops the write with an error log; the caller
// already holds the PersistenceError for the original failure.
func (s *Store) queueRetryWrite(turn *types.Turn) {
	select {
	case s.retryQueue <- &retryRecord{turn: cloneTurn(turn)}:
		s.metrics.SetRetryQueueDepth(len(s.retryQueue))
	default:
		log.Printf("ERROR: retry-write queue full (size=%d), turn %s will not be retried",
			s.config.RetryQueueSize, turn.ID)
	}
}

// retryWriter replays failed turn writes with quadratic backoff until they
// stick or maxRetryWrites is reached. Writes that succeed late still feed
// consolidation so a storage blip does not cost the derived memories.
func (s *Store) retryWriter(ctx context.Context) {
	defer s.workerWG.Done()

	log.Println("Memory retry writer started")

	for {
		select {
		case <-ctx.Done():
			if remaining := len(s.retryQueue); remaining > 0 {
				log.Printf("WARNING: %d turn retry writes dropped at shutdown", remaining)
			}
			log.Println("Memory retry writer stopped")
			return
		case rec := <-s.retryQueue:
			s.metrics.SetRetryQueueDepth(len(s.retryQueue))

			backoff := time.Duration((rec.attempts+1)*(rec.attempts+1)) * 100 * time.Millisecond
			time.Sleep(backoff)

			if err := s.storage.StoreTurn(context.Background(), rec.turn); err != nil {
				rec.attempts++
				if rec.attempts >= maxRetryWrites {
					log.Printf("ERROR: giving up on turn %s after %d retry writes: %v",
						rec.turn.ID, rec.attempts, err)
					continue
				}
				if ctx.Err() != nil {
					log.Printf("WARNING: dropping retry write for turn %s, shutdown in progress", rec.turn.ID)
					continue
				}
				select {
				case s.retryQueue <- rec:
				case <-time.After(10 * time.Millisecond):
					log.Printf("WARNING: failed to requeue retry write for turn %s, queue timeout", rec.turn.ID)
				}
				continue
			}

			log.Printf("Retry write succeeded for turn %s (attempt %d)", rec.turn.ID, rec.attempts+1)
			if s.config.ConsolidationEnabled {
				s.Consolidate(rec.turn)
			}
		}
	}
}

// maintenanceLoop periodically refreshes decay scores and expires aged
// ephemeral entries that decayed below the configured floor.
func (s *Store) maintenanceLoop(ctx context.Context) {
	defer s.workerWG.Done()

	log.Printf("Memory maintenance loop started (interval %v)", s.config.SweepInterval)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Memory maintenance loop stopped")
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

// runSweep performs one decay refresh followed by one expiry pass.
func (s *Store) runSweep(ctx context.Context) {
	now := time.Now().UTC()

	updated, err := s.decay.Sweep(ctx, s.storage, now)
	if err != nil {
		log.Printf("WARNING: decay sweep failed: %v", err)
	} else if updated > 0 {
		log.Printf("Decay sweep refreshed %d entries", updated)
	}

	cutoff := now.Add(-s.config.ExpiryAge)
	removed, err := s.storage.ExpireEntries(ctx, cutoff, s.config.ExpiryScoreFloor)
	if err != nil {
		log.Printf("WARNING: expiry sweep failed: %v", err)
		return
	}
	if removed > 0 {
		s.metrics.RecordEntriesExpired(removed)
		log.Printf("Expired %d ephemeral entries older than %v", removed, s.config.ExpiryAge)
	}
}

// cloneTurn copies a turn so queued jobs never share memory with the caller.
func cloneTurn(turn *types.Turn) *types.Turn {
	clone := *turn
	return &clone
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// stopTerms are query words too common to carry meaning for keyword search.
var stopTerms = map[string]bool{
	"the": true, "and": true, "for": true, "you": true, "your": true,
	"with": true, "that": true, "this": true, "are": true, "was": true,
	"have": true, "has": true, "not": true, "but": true, "what": true,
	"when": true, "where": true, "how": true, "who": true, "did": true,
	"does": true, "about": true, "tell": true,
}

// searchTerms lowercases the text and splits it into deduplicated keyword
// terms, dropping short words and stop words.
func searchTerms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	seen := make(map[string]bool, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 3 || stopTerms[f] || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}

// termOverlap returns the fraction of query terms present in the content,
// in [0, 1]. Containment rather than Jaccard, so a verbose entry is not
// penalized for saying more than the query asked.
func termOverlap(queryTerms []string, content string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}

	contentTerms := make(map[string]bool)
	for _, term := range searchTerms(content) {
		contentTerms[term] = true
	}

	hits := 0
	for _, term := range queryTerms {
		if contentTerms[term] {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTerms))
}
