package sync

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"listsync/internal/cache"
	"listsync/internal/core/appctx"
	"listsync/internal/core/apperror"
	"listsync/internal/metadata"
	"listsync/internal/permission"
	"listsync/internal/record"
	"listsync/pkg/logger"
)

var tracer = otel.Tracer("listsync/sync")

// Response attributes and markers.
const (
	attrChangeToken = "LastChangeToken"
	attrPermMask    = "EffectivePermMask"
	attrChangeType  = "ChangeType"

	changeTypeDelete = "Delete"
)

// Engine applies change cycles to the entity cache.
type Engine struct {
	cache *cache.Cache
	exec  OperationExecutor
	log   *logger.Logger
}

// New creates a sync engine. exec may be nil when callers only use
// ProcessChangeCycle with documents they obtained themselves.
func New(c *cache.Cache, exec OperationExecutor, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Default()
	}
	return &Engine{cache: c, exec: exec, log: log.WithComponent("sync")}
}

// Cache returns the engine's entity cache.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// Run executes the query's remote operation and applies the resulting change
// cycle.
//
// Overlapping calls for the same query share one in-flight run: the second
// caller waits on the first run's result instead of issuing a duplicate
// remote call. A transport or parse failure aborts the cycle before any
// cache, token, or permission mutation.
func (e *Engine) Run(ctx context.Context, q *Query) (Summary, error) {
	q.mu.Lock()
	if q.inflight != nil {
		run := q.inflight
		q.mu.Unlock()
		select {
		case <-run.done:
			return run.summary, run.err
		case <-ctx.Done():
			return Summary{}, ctx.Err()
		}
	}
	run := &inflightRun{done: make(chan struct{})}
	q.inflight = run
	q.mu.Unlock()

	run.summary, run.err = e.runOnce(ctx, q)

	q.mu.Lock()
	q.inflight = nil
	q.mu.Unlock()
	close(run.done)

	return run.summary, run.err
}

func (e *Engine) runOnce(ctx context.Context, q *Query) (Summary, error) {
	if appctx.GetTrace(ctx) == nil {
		ctx = appctx.WithTrace(ctx, appctx.NewTraceContext())
	}

	doc, err := e.exec.ExecuteOperation(ctx, q)
	if err != nil {
		return Summary{}, apperror.NewRemote(q.Operation, err)
	}
	return e.ProcessChangeCycle(ctx, q, doc)
}

// ProcessChangeCycle applies one parsed change response to the query's list
// and target index:
//
//  1. extract and store the change token, only if present (last-known-good);
//  2. extract, decode and store the effective permission mask, if present;
//  3. on the first response, extract list and field metadata exactly once;
//  4. remove every id in the response's deletion set from the cache and
//     every registered index;
//  5. route remaining added/changed records through the record parser and
//     the cache, isolating per-record failures.
//
// Deletions run before additions; ordering between a same-id add and delete
// inside one response is undefined upstream and is not assumed here.
func (e *Engine) ProcessChangeCycle(ctx context.Context, q *Query, doc *etree.Document) (Summary, error) {
	ctx, span := tracer.Start(ctx, "sync.ProcessChangeCycle",
		trace.WithAttributes(
			attribute.String("list.id", q.List.ID),
			attribute.String("operation", q.Operation),
		))
	defer span.End()

	if doc == nil || doc.Root() == nil {
		err := apperror.NewRemote(q.Operation, errEmptyResponse)
		span.RecordError(err)
		return Summary{}, err
	}
	root := doc.Root()
	log := e.log.WithContext(ctx).With("list_id", q.List.ID, "operation", q.Operation)

	// The target index must be known to the cache before deletions so the
	// delete path prunes it along with every other registered index.
	e.cache.RegisterQueryIndex(q.List.ID, q.Target)

	var summary Summary

	// Change token: a response without one (failed or partial) must not
	// null out a previously-good token.
	if token := root.SelectAttrValue(attrChangeToken, ""); token != "" {
		q.mu.Lock()
		q.changeToken = token
		q.mu.Unlock()
		summary.Token = token
		span.SetAttributes(attribute.String("change.token", token))
	}

	// Permission mask: same last-known-good policy.
	if mask := root.SelectAttrValue(attrPermMask, ""); mask != "" {
		set := permission.Decode(mask)
		q.mu.Lock()
		q.permissions = &set
		q.mu.Unlock()
		q.List.SetPermissions(set)
	}

	e.extractMetadata(q, root, log)

	summary.Deleted = e.applyDeletions(q, root, log)
	summary.Applied, summary.Malformed = e.applyRecords(ctx, q, doc, log)

	q.mu.Lock()
	q.lastRun = time.Now()
	summary.State = q.state
	q.mu.Unlock()

	span.SetAttributes(
		attribute.Int("records.applied", summary.Applied),
		attribute.Int("records.deleted", summary.Deleted),
		attribute.Int("records.malformed", summary.Malformed),
	)
	log.Debugw("change cycle applied",
		"applied", summary.Applied,
		"deleted", summary.Deleted,
		"malformed", summary.Malformed,
		"state", summary.State.String())
	return summary, nil
}

// extractMetadata performs the one-shot schema extraction and advances the
// query state machine. A response whose List element lacks the marker
// attribute holds the state at MetadataPending so a future fetch retries.
func (e *Engine) extractMetadata(q *Query, root *etree.Element, log *logger.Logger) {
	if q.List.MetadataExtended() {
		q.mu.Lock()
		q.state = StateSynced
		q.mu.Unlock()
		return
	}

	var listEl *etree.Element
	for _, child := range root.ChildElements() {
		if child.Tag == "List" {
			listEl = child
			break
		}
	}

	extended := metadata.ExtendList(q.List, listEl)

	q.mu.Lock()
	if extended {
		q.state = StateSynced
	} else {
		q.state = StateMetadataPending
		log.Debugw("list schema incomplete, holding metadata extraction")
	}
	q.mu.Unlock()
}

// applyDeletions removes every record flagged with the delete change type.
// Removal goes through the cache's delete path so every registered index for
// the list, the query's own target included, is pruned.
func (e *Engine) applyDeletions(q *Query, root *etree.Element, log *logger.Logger) int {
	deleted := 0
	for _, idEl := range findAll(root, "Id") {
		if idEl.SelectAttrValue(attrChangeType, "") != changeTypeDelete {
			continue
		}
		id, err := strconv.Atoi(idEl.Text())
		if err != nil || id == 0 {
			log.Warnw("unparseable deletion id", "raw", idEl.Text())
			continue
		}
		if q.Lookups != nil {
			if victim := e.cache.GetCachedEntity(q.List.ID, id); victim != nil {
				q.Lookups.RemoveEntity(victim)
			}
		}
		e.cache.DeleteEntity(q.List.ID, id)
		deleted++
	}
	return deleted
}

// applyRecords parses and registers every record node, isolating per-record
// failures: one corrupt record is logged and skipped, siblings are applied.
func (e *Engine) applyRecords(ctx context.Context, q *Query, doc *etree.Document, log *logger.Logger) (applied, malformed int) {
	mapping := q.List.Mapping()
	lookupProps := q.LookupProperties
	if q.Lookups != nil && len(lookupProps) == 0 {
		lookupProps = q.List.LookupProperties()
	}
	for _, node := range LocateRecordNodes(doc) {
		rec := record.ParseRecord(ctx, node, mapping, q.ParseOptions)
		entity, err := e.cache.RegisterEntity(q.List.ID, rec, q.Target)
		if err != nil {
			malformed++
			log.Warnw("record registration failed", "error", err)
			continue
		}
		applied++

		if q.Lookups != nil && len(lookupProps) > 0 {
			// Prune under the pre-merge snapshot, then re-index the merged
			// values. A changed lookup thereby moves buckets instead of
			// accumulating stale entries.
			q.Lookups.RemovePriorIndexEntries(entity, lookupProps...)
			if err := q.Lookups.IndexEntity(entity, lookupProps...); err != nil {
				log.Warnw("lookup index update failed", "entity_id", entity.ID, "error", err)
			}
		}
	}
	return applied, malformed
}

// errEmptyResponse marks a structurally empty response document.
var errEmptyResponse = errors.New("empty response document")
