// Package orchestrator composes TokenManager, FileService, EntityPipeline,
// ActionResolver, DAGRouter, Destinations, SourceStream and WorkerPool into
// one SyncJob run (§4.8). Grounded on eve.evalgo.org/coordinator's
// connect/readLoop/runConnection lifecycle shape: a long-running run driven
// from one entry point, with cooperative cancellation and phase/status
// notifications fired through callbacks, retargeted from a websocket
// coordination session to a single in-process batch run over a source
// stream.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/airweave-ai/airweave-sync/internal/checkpoint"
	"github.com/airweave-ai/airweave-sync/internal/completionqueue"
	"github.com/airweave-ai/airweave-sync/internal/dagrouter"
	"github.com/airweave-ai/airweave-sync/internal/destinations"
	"github.com/airweave-ai/airweave-sync/internal/entity"
	"github.com/airweave-ai/airweave-sync/internal/fileservice"
	"github.com/airweave-ai/airweave-sync/internal/logging"
	"github.com/airweave-ai/airweave-sync/internal/pipeline"
	"github.com/airweave-ai/airweave-sync/internal/progress"
	"github.com/airweave-ai/airweave-sync/internal/resolver"
	"github.com/airweave-ai/airweave-sync/internal/sourcestream"
	"github.com/airweave-ai/airweave-sync/internal/tokenmanager"
	"github.com/airweave-ai/airweave-sync/internal/workerpool"
)

// defaultBatchSize is how many entities the orchestrator buffers from the
// source stream before handing them to the pipeline as one batch. Small
// enough to keep the pipeline's batch-parallel hash/embed calls bounded,
// large enough to amortize one dense/sparse embedder round trip.
const defaultBatchSize = 100

// Source is the connector contract of §6: the core only ever calls these
// five methods, never reaches into a connector's internals.
type Source interface {
	SetTokenManager(tm *tokenmanager.Manager)
	SetLogger(logger *logging.ContextLogger)
	SetFileDownloader(fd *fileservice.Service)
	GenerateEntities(ctx context.Context, emit func(*entity.Entity) error) error
	Validate(ctx context.Context) bool
}

// Request bundles everything one run needs: identity, the source to drain,
// and the per-collection destination set.
type Request struct {
	SyncID       string
	SyncJobID    string
	CollectionID string

	Source Source

	VectorDestinations []destinations.VectorDB
	GraphDestinations  []destinations.GraphDB

	ClassToDefinitionID map[string]string
	Transformers        []*dagrouter.Node
	TransformerEdges     []dagrouter.Edge

	DedupeByCollection bool
	SkipHashComparison bool
	ForceFullSync      bool

	BatchSize int

	// OnTracker, if set, is called once with the run's JobTracker as soon as
	// it exists, before any blocking work starts. It lets a caller that needs
	// to cancel a run it's already blocked inside Run() for (e.g. a SIGINT
	// handler) obtain the tracker Cancel requires.
	OnTracker func(tracker *JobTracker)
}

// Orchestrator owns the composed dependencies shared across runs (pipeline,
// resolver with its DB handle, checkpoint store, completion publisher); they
// outlive any single Request. The file service is opened per Run, and the
// token manager is handed to the Source by the caller.
type Orchestrator struct {
	Pipeline            *pipeline.Pipeline
	Resolver            *resolver.Resolver
	Checkpoint          *checkpoint.Store
	CompletionPublisher completionqueue.Publisher
	Logger              *logging.ContextLogger

	MaxWorkers               int
	SourceStreamBufferFactor int
	CancellationGracePeriod  time.Duration
	RedisURL                 string
	TempRoot                 string
}

// runCounters accumulates the progress counts of §6/§7/§8 and satisfies
// workerpool.Counters.
type runCounters struct {
	inserted, updated, kept, deleted, skipped, failed int
}

func (c *runCounters) IncrementSucceeded() {}

func (c *runCounters) IncrementFailed(entityID string, err error) {
	c.failed++
}

func (c *runCounters) snapshot() progress.Counts {
	return progress.Counts{
		Inserted: c.inserted,
		Updated:  c.updated,
		Kept:     c.kept,
		Deleted:  c.deleted,
		Skipped:  c.skipped,
		Failed:   c.failed,
	}
}

// destinationAdapter lets a VectorDB/GraphDB participate in the DAG as a
// dagrouter.Destination, bound to one collection.
type destinationAdapter struct {
	collectionID string
	vector       destinations.VectorDB
	graph        destinations.GraphDB
}

func (a *destinationAdapter) Name() string {
	if a.vector != nil {
		return a.vector.Name()
	}
	return a.graph.Name()
}

func (a *destinationAdapter) Persist(ctx context.Context, e *entity.Entity) error {
	if a.vector != nil {
		switch a.vector.ProcessingRequirement() {
		case destinations.RequiresPreEmbeddedChunks:
			return a.vector.BulkInsert(ctx, a.collectionID, []*entity.Entity{e})
		default:
			return a.vector.BulkInsertRaw(ctx, a.collectionID, []*entity.Entity{e})
		}
	}
	return a.graph.BulkInsert(ctx, a.collectionID, []*entity.Entity{e})
}

// buildRouter assembles the DAG of a single source node, a destination node
// per configured VectorDB/GraphDB, and any caller-supplied transformer
// nodes/edges, wiring every destination node directly off the source (§4.5's
// simplest case: a flat fan-out with no intermediate transformer) plus
// whatever transformer edges the caller added.
func buildRouter(req Request) (*dagrouter.Router, error) {
	nodes := []*dagrouter.Node{{ID: "source", Kind: dagrouter.NodeSource}}
	var edges []dagrouter.Edge

	for _, v := range req.VectorDestinations {
		id := "dest:" + v.Name()
		nodes = append(nodes, &dagrouter.Node{
			ID: id, Kind: dagrouter.NodeDestination,
			Destination: &destinationAdapter{collectionID: req.CollectionID, vector: v},
		})
		edges = append(edges, dagrouter.Edge{From: "source", To: id})
	}
	for _, g := range req.GraphDestinations {
		id := "dest:" + g.Name()
		nodes = append(nodes, &dagrouter.Node{
			ID: id, Kind: dagrouter.NodeDestination,
			Destination: &destinationAdapter{collectionID: req.CollectionID, graph: g},
		})
		edges = append(edges, dagrouter.Edge{From: "source", To: id})
	}

	nodes = append(nodes, req.Transformers...)
	edges = append(edges, req.TransformerEdges...)

	return dagrouter.Build(nodes, edges, req.ClassToDefinitionID)
}

// resolutionProcessor adapts a resolver.Resolution dispatch loop to
// workerpool.EntityProcessor: each worker routes one resolved entity through
// the DAG and tallies the outcome against its action.
type resolutionProcessor struct {
	router  *dagrouter.Router
	actions map[string]resolver.Action
	counts  *runCounters
}

func (p *resolutionProcessor) Process(ctx context.Context, e *entity.Entity) error {
	action := p.actions[e.EntityID]
	switch action {
	case resolver.ActionKeep:
		p.counts.kept++
		return nil
	case resolver.ActionInsert, resolver.ActionUpdate:
		if err := p.router.RouteFromSource(ctx, e); err != nil {
			return fmt.Errorf("orchestrator: routing %s: %w", e.EntityID, err)
		}
		if action == resolver.ActionInsert {
			p.counts.inserted++
		} else {
			p.counts.updated++
		}
		return nil
	default:
		return nil
	}
}

// Run executes one SyncJob end to end (§4.8). It always returns a non-nil
// JobTracker reflecting the terminal status reached, even on error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*JobTracker, error) {
	tracker := NewJobTracker(req.SyncID, req.SyncJobID)
	if req.OnTracker != nil {
		req.OnTracker(tracker)
	}

	pub, err := progress.NewPublisher(o.RedisURL, req.SyncJobID)
	if err != nil {
		tracker.Fail(err.Error())
		o.publishCompletion(req, tracker, progress.Counts{}, err.Error())
		return tracker, fmt.Errorf("orchestrator: starting progress publisher: %w", err)
	}
	defer pub.Close()

	logger := o.Logger.WithSyncContext(ctx, req.SyncID, req.SyncJobID, "")

	fs, err := fileservice.Open(o.TempRoot, req.SyncJobID, fileservice.DefaultConfig(), logger)
	if err != nil {
		tracker.Fail(err.Error())
		o.publishCompletion(req, tracker, progress.Counts{}, err.Error())
		return tracker, fmt.Errorf("orchestrator: opening file service: %w", err)
	}
	defer fs.CleanupSyncDirectory()

	req.Source.SetLogger(logger)
	req.Source.SetFileDownloader(fs)

	router, err := buildRouter(req)
	if err != nil {
		tracker.Fail(err.Error())
		o.publishCompletion(req, tracker, progress.Counts{}, err.Error())
		return tracker, fmt.Errorf("orchestrator: building DAG: %w", err)
	}

	if err := o.resolveCursor(req, logger); err != nil {
		tracker.Fail(err.Error())
		o.publishCompletion(req, tracker, progress.Counts{}, err.Error())
		return tracker, err
	}

	if err := tracker.TransitionTo(StatusRunning, "stream started"); err != nil {
		return tracker, err
	}
	pub.Connected(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	maxWorkers := o.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 20
	}
	bufferSize := sourcestream.BufferSizeFor(maxWorkers, o.SourceStreamBufferFactor)

	stream := sourcestream.Open(runCtx, req.Source.GenerateEntities, bufferSize)
	counts := &runCounters{}
	seen := make(map[resolver.Key]bool)

	heartbeatCtx, stopHeartbeat := context.WithCancel(runCtx)
	go pub.HeartbeatLoop(heartbeatCtx, 30*time.Second, counts.snapshot)
	defer stopHeartbeat()

	var batch []*entity.Entity
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		processed, skipped, err := o.Pipeline.Run(runCtx, req.CollectionID, batch)
		if err != nil {
			return err
		}
		counts.skipped += skipped

		resolved, err := o.Resolver.Resolve(runCtx, req.SyncID, processed, resolver.Options{
			DedupeByCollection: req.DedupeByCollection,
			CollectionID:       req.CollectionID,
			SkipHashComparison: req.SkipHashComparison,
		})
		if err != nil {
			return err
		}

		routable := make([]resolver.Resolution, 0, len(resolved.Inserts)+len(resolved.Updates)+len(resolved.Keeps))
		routable = append(routable, resolved.Inserts...)
		routable = append(routable, resolved.Updates...)
		routable = append(routable, resolved.Keeps...)

		actions := make(map[string]resolver.Action, len(routable))
		entities := make(chan *entity.Entity, len(routable))
		for _, r := range routable {
			actions[r.Entity.EntityID] = r.Action
			entities <- r.Entity
			seen[r.Entity.Key()] = true
		}
		close(entities)

		pool := workerpool.New(maxWorkers).WithGracePeriod(o.CancellationGracePeriod)
		processor := &resolutionProcessor{router: router, actions: actions, counts: counts}
		if err := pool.Run(runCtx, entities, processor, counts); err != nil {
			return err
		}

		for _, r := range resolved.Deletes {
			if err := deleteFromDestinations(runCtx, req, r.Entity.EntityID); err != nil {
				return err
			}
			counts.deleted++
		}

		if err := o.Resolver.Persist(runCtx, req.SyncID, req.CollectionID, resolved); err != nil {
			return err
		}

		pub.Progress(runCtx, counts.snapshot())
		batch = batch[:0]
		return nil
	}

	var streamErr error
	var cancelled bool
streamLoop:
	for {
		select {
		case e, ok := <-stream.Entities():
			if !ok {
				break streamLoop
			}
			batch = append(batch, e)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					streamErr = err
					cancel()
					break streamLoop
				}
			}
		case <-runCtx.Done():
			// The only thing that cancels runCtx mid-loop (other than the
			// flush-error branch above, which never reaches this case) is
			// ctx itself being cancelled: a deliberate Cancel() or raw
			// ctx-cancel from the caller. Report it as CANCELLED, not
			// FAILED.
			streamErr = runCtx.Err()
			cancelled = true
			break streamLoop
		}
	}

	if streamErr == nil {
		streamErr = flush()
	}
	if streamErr == nil {
		streamErr = stream.Err()
	}

	if cancelled && streamErr != nil {
		if tracker.State().Status != StatusCancelling {
			tracker.RequestCancellation(streamErr.Error())
		}
		tracker.TransitionTo(StatusCancelled, "cancelled: "+streamErr.Error())

		bgCtx, cancelBg := context.WithTimeout(context.Background(), 5*time.Second)
		pub.Error(bgCtx, counts.snapshot(), "sync job cancelled: "+streamErr.Error())
		cancelBg()
		o.publishCompletion(req, tracker, counts.snapshot(), streamErr.Error())
		return tracker, streamErr
	}

	if streamErr != nil {
		tracker.Fail(streamErr.Error())
		pub.Error(ctx, counts.snapshot(), streamErr.Error())
		o.publishCompletion(req, tracker, counts.snapshot(), streamErr.Error())
		return tracker, streamErr
	}

	if err := runEndOfSyncDeletions(runCtx, o, req, seen, counts); err != nil {
		tracker.Fail(err.Error())
		pub.Error(ctx, counts.snapshot(), err.Error())
		o.publishCompletion(req, tracker, counts.snapshot(), err.Error())
		return tracker, err
	}

	if err := o.persistCursor(req); err != nil {
		tracker.Fail(err.Error())
		pub.Error(ctx, counts.snapshot(), err.Error())
		o.publishCompletion(req, tracker, counts.snapshot(), err.Error())
		return tracker, err
	}

	if err := tracker.TransitionTo(StatusCompleting, "finalizing"); err != nil {
		return tracker, err
	}
	if err := tracker.TransitionTo(StatusCompleted, "run finished"); err != nil {
		return tracker, err
	}
	pub.Progress(ctx, counts.snapshot())
	o.publishCompletion(req, tracker, counts.snapshot(), "")
	return tracker, nil
}

// resolveCursor implements §3's SyncCursor gating: force_full_sync clears
// any prior cursor outright, otherwise its presence (or absence) just
// decides what this run logs itself as. Actual incremental fetching is a
// connector concern (none of the current Source implementations are
// cursor-aware yet); this is the seam a connector would read from via a
// future CursorSource extension of Source.
func (o *Orchestrator) resolveCursor(req Request, logger *logging.ContextLogger) error {
	if o.Checkpoint == nil {
		return nil
	}
	if req.ForceFullSync {
		if err := o.Checkpoint.Clear(req.SyncID); err != nil {
			return fmt.Errorf("orchestrator: clearing cursor for sync %s: %w", req.SyncID, err)
		}
		logger.Infof("orchestrator: sync %s forced to full sync", req.SyncID)
		return nil
	}

	_, found, err := o.Checkpoint.Load(req.SyncID)
	if err != nil {
		return fmt.Errorf("orchestrator: loading cursor for sync %s: %w", req.SyncID, err)
	}
	mode := "full"
	if found {
		mode = "incremental"
	}
	logger.Infof("orchestrator: sync %s running as %s sync", req.SyncID, mode)
	return nil
}

// persistCursor writes the cursor marking this sync as having succeeded at
// least once, per §3: "written only on job success." A failed or cancelled
// run must never reach this call.
func (o *Orchestrator) persistCursor(req Request) error {
	if o.Checkpoint == nil {
		return nil
	}
	cursor := []byte(time.Now().UTC().Format(time.RFC3339))
	if err := o.Checkpoint.Save(req.SyncID, req.SyncJobID, cursor); err != nil {
		return fmt.Errorf("orchestrator: saving cursor for sync %s: %w", req.SyncID, err)
	}
	return nil
}

// publishCompletion fans the terminal outcome of one SyncJob out to the
// completion queue (§4.8 step 4), distinct from the Redis progress
// pub/sub pub handles. A nil CompletionPublisher (no queue configured)
// degrades to a no-op, same as progress.Publisher's disabled mode.
func (o *Orchestrator) publishCompletion(req Request, tracker *JobTracker, counts progress.Counts, errMsg string) {
	if o.CompletionPublisher == nil {
		return
	}
	event := completionqueue.CompletionEvent{
		SyncID:     req.SyncID,
		SyncJobID:  req.SyncJobID,
		Status:     string(tracker.State().Status),
		Inserted:   counts.Inserted,
		Updated:    counts.Updated,
		Kept:       counts.Kept,
		Deleted:    counts.Deleted,
		Skipped:    counts.Skipped,
		Failed:     counts.Failed,
		Error:      errMsg,
		FinishedAt: time.Now(),
	}
	if err := o.CompletionPublisher.PublishCompletion(event); err != nil {
		o.Logger.WithError(err).Warn("orchestrator: publishing completion event")
	}
}

// Cancel requests cooperative cancellation of a running job. The caller
// must poll tracker.State() until the status reaches CANCELLED or the
// CancellationGracePeriod elapses.
func (o *Orchestrator) Cancel(tracker *JobTracker, cancelFn context.CancelFunc, reason string) error {
	if err := tracker.RequestCancellation(reason); err != nil {
		return err
	}
	cancelFn()
	return nil
}

// deleteFromDestinations issues the scoped delete against every configured
// destination for one stale or resolved-delete entity.
func deleteFromDestinations(ctx context.Context, req Request, entityID string) error {
	for _, v := range req.VectorDestinations {
		if err := v.Delete(ctx, req.CollectionID, entityID); err != nil {
			return fmt.Errorf("orchestrator: deleting %s from %s: %w", entityID, v.Name(), err)
		}
	}
	for _, g := range req.GraphDestinations {
		if err := g.Delete(ctx, req.CollectionID, entityID); err != nil {
			return fmt.Errorf("orchestrator: deleting %s from %s: %w", entityID, g.Name(), err)
		}
	}
	return nil
}

// runEndOfSyncDeletions implements §4.8 step 4's end-of-sync deletion pass:
// entities present in the prior run but absent from this one are deleted
// from every destination and from the entity storage row.
func runEndOfSyncDeletions(ctx context.Context, o *Orchestrator, req Request, seen map[resolver.Key]bool, counts *runCounters) error {
	stale, err := o.Resolver.Stale(ctx, req.SyncID, seen)
	if err != nil {
		return fmt.Errorf("orchestrator: scanning for stale entities: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	batch := &resolver.Batch{}
	for _, row := range stale {
		if err := deleteFromDestinations(ctx, req, row.EntityID); err != nil {
			return err
		}
		batch.Deletes = append(batch.Deletes, resolver.Resolution{
			Entity: &entity.Entity{EntityID: row.EntityID, EntityDefinitionID: row.EntityDefinitionID},
			Action: resolver.ActionDelete,
			DBID:   row.ID,
		})
		counts.deleted++
	}

	return o.Resolver.Persist(ctx, req.SyncID, req.CollectionID, batch)
}
