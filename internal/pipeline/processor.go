// Package pipeline implements the stage entry points: a generic
// claim → process → commit loop plus the six steps built on it.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/signal-pipeline/internal/claim"
	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/resilience"
	"github.com/sells-group/signal-pipeline/internal/store"
)

// Definition describes one claim-based stage.
type Definition struct {
	Step model.Step
	// From is the stage a record must be in to be eligible.
	From model.Stage
	// To is the stage reached on success unless Process says otherwise.
	To model.Stage
	// Where narrows eligibility further. Optional.
	Where sq.Sqlizer
	// ShouldSkip advances a record to To without calling Process.
	ShouldSkip func(rec *model.ProcessingRecord) bool
	// Process does the stage's work for one record. On error the returned
	// mutation's ChunkResults are still committed.
	Process func(ctx context.Context, rec *model.ProcessingRecord) (store.Mutation, error)
	// Concurrency bounds how many records of a batch are processed at once.
	// Commit order always follows record age. Default 1.
	Concurrency int
}

// Options configures a Processor.
type Options struct {
	BatchSize  int
	MaxRetries int
}

// Result summarizes one stage invocation.
type Result struct {
	Step         model.Step    `json:"step"`
	WorkspaceID  string        `json:"workspace_id,omitempty"`
	Claimed      int           `json:"claimed"`
	Advanced     int           `json:"advanced"`
	Skipped      int           `json:"skipped"`
	Failed       int           `json:"failed"`
	DeadLettered int           `json:"dead_lettered"`
	Reclaimed    int64         `json:"reclaimed"`
	Duration     time.Duration `json:"duration"`
}

// Progressed reports whether the batch consumed any eligible work, so a
// drain loop should run another batch.
func (r Result) Progressed() bool {
	return r.Advanced+r.Skipped > 0
}

// Triggers reports whether the next step should be triggered. Sources
// skipped by normalization produce no record, so only created records
// count for that step.
func (r Result) Triggers() bool {
	if r.Step == model.StepNormalize {
		return r.Advanced > 0
	}
	return r.Progressed()
}

// Processor runs Definitions against a store.
type Processor struct {
	store store.Store
	opts  Options
}

// NewProcessor returns a Processor.
func NewProcessor(st store.Store, opts Options) *Processor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 25
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &Processor{store: st, opts: opts}
}

// Eligible is the claim predicate for a definition: in the From stage,
// retries left, optionally one workspace. The claim manager adds the
// unlocked condition.
func (p *Processor) Eligible(def Definition, workspaceID string) sq.Sqlizer {
	where := sq.And{
		sq.Eq{"processing_stage": string(def.From)},
		sq.Lt{"retry_count": p.opts.MaxRetries},
	}
	if workspaceID != "" {
		where = append(where, sq.Eq{"workspace_id": workspaceID})
	}
	if def.Where != nil {
		where = append(where, def.Where)
	}
	return where
}

// Run claims one batch, processes it and commits the outcome atomically.
// Row failures are recorded on the rows; only claim, load and commit
// failures are returned.
func (p *Processor) Run(ctx context.Context, def Definition, workspaceID string) (Result, error) {
	start := time.Now()
	res := Result{Step: def.Step, WorkspaceID: workspaceID}
	log := zap.L().With(zap.String("stage", string(def.Step)), zap.String("workspace_id", workspaceID))

	claims := p.store.Claims()
	c, err := claims.Acquire(ctx, claim.Request{
		Where: p.Eligible(def, workspaceID),
		Limit: p.opts.BatchSize,
	})
	if err != nil {
		return res, eris.Wrapf(err, "pipeline: %s claim", def.Step)
	}
	res.Reclaimed = c.Reclaimed
	if c.Empty() {
		log.Debug("pipeline: nothing eligible", zap.Int64("reclaimed", c.Reclaimed))
		return res, nil
	}
	res.Claimed = len(c.IDs)

	recs, err := p.store.LoadRecords(ctx, c.IDs)
	if err != nil {
		p.release(c, log)
		return res, eris.Wrapf(err, "pipeline: %s load claimed records", def.Step)
	}

	// recs is oldest first. A claimed row can already be past From when
	// another worker finished it between candidate selection and locking.
	work := make([]*model.ProcessingRecord, 0, len(recs))
	var moved []string
	for i := range recs {
		if recs[i].Stage != def.From {
			moved = append(moved, recs[i].ID)
			continue
		}
		work = append(work, &recs[i])
	}
	if len(moved) > 0 {
		log.Warn("pipeline: claimed records already left the stage",
			zap.Strings("record_ids", moved),
			zap.String("from", string(def.From)),
		)
		p.releaseIDs(moved, c.Token, log)
	}

	muts := make([]store.Mutation, len(work))
	skipped := make([]bool, len(work))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, def.Concurrency))
	for i, rec := range work {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			muts[i], skipped[i] = p.processOne(gctx, def, rec)
			muts[i].From = def.From
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.release(c, log)
		return res, eris.Wrapf(err, "pipeline: %s interrupted", def.Step)
	}
	if err := ctx.Err(); err != nil {
		p.release(c, log)
		return res, eris.Wrapf(err, "pipeline: %s interrupted", def.Step)
	}

	for i, m := range muts {
		switch {
		case m.Failed:
			res.Failed++
			if work[i].RetryCount+1 >= p.opts.MaxRetries {
				res.DeadLettered++
				log.Warn("pipeline: record dead-lettered",
					zap.String("record_id", m.RecordID),
					zap.String("error", m.Error),
				)
			}
		case skipped[i]:
			res.Skipped++
		default:
			res.Advanced++
		}
	}

	if err := p.store.CommitBatch(ctx, c.Token, muts); err != nil {
		p.release(c, log)
		return Result{Step: def.Step, WorkspaceID: workspaceID, Claimed: res.Claimed, Reclaimed: res.Reclaimed},
			eris.Wrapf(err, "pipeline: %s commit", def.Step)
	}
	// Claimed ids whose record vanished before load still hold the token.
	if len(muts)+len(moved) < len(c.IDs) {
		p.release(c, log)
	}

	res.Duration = time.Since(start)
	log.Info("pipeline: stage batch complete",
		zap.Int("claimed", res.Claimed),
		zap.Int("advanced", res.Advanced),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Int("dead_lettered", res.DeadLettered),
		zap.Int64("reclaimed", res.Reclaimed),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// processOne turns a record into its mutation. Errors and panics become
// failed mutations; they never abort the batch.
func (p *Processor) processOne(ctx context.Context, def Definition, rec *model.ProcessingRecord) (m store.Mutation, skipped bool) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("pipeline: panic processing record",
				zap.String("stage", string(def.Step)),
				zap.String("record_id", rec.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			m = store.Mutation{
				RecordID:  rec.ID,
				Failed:    true,
				Error:     fmt.Sprintf("panic: %v", r),
				ErrorKind: "permanent",
			}
			skipped = false
		}
	}()

	if def.ShouldSkip != nil && def.ShouldSkip(rec) {
		return store.Mutation{RecordID: rec.ID, To: def.To, Stamp: def.To}, true
	}

	m, err := def.Process(ctx, rec)
	m.RecordID = rec.ID
	if err != nil {
		zap.L().Warn("pipeline: record failed",
			zap.String("stage", string(def.Step)),
			zap.String("record_id", rec.ID),
			zap.Int("retry_count", rec.RetryCount),
			zap.Error(err),
		)
		return store.Mutation{
			RecordID:     rec.ID,
			Failed:       true,
			Error:        err.Error(),
			ErrorKind:    resilience.ClassifyError(err),
			ChunkResults: m.ChunkResults,
		}, false
	}
	if m.To == "" {
		m.To = def.To
	}
	if m.Stamp == "" {
		m.Stamp = m.To
	}
	return m, false
}

// releaseIDs returns the locks on ids ahead of the batch commit.
func (p *Processor) releaseIDs(ids []string, token string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := p.store.Claims().ReleaseAll(ctx, ids, token); err != nil {
		log.Warn("pipeline: release moved records failed, locks will expire", zap.Error(err))
	}
}

// release returns every lock of the claim, used when the batch cannot be
// committed. The row locks would otherwise expire on their own.
func (p *Processor) release(c claim.Claim, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n, err := p.store.Claims().ReleaseAll(ctx, c.IDs, c.Token)
	if err != nil {
		log.Warn("pipeline: release claim failed, locks will expire", zap.Error(err))
		return
	}
	log.Debug("pipeline: released claim", zap.Int64("released", n))
}
