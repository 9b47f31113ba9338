// Package pipeline orchestrates one transform job: gate the path, resolve
// the action, serialize against other jobs for the same object, stage the
// object locally, transform it, atomically replace the remote object, and
// clean up. Every job terminates with a typed Result; nothing is swallowed
// and nothing crashes the calling trigger layer.
package pipeline

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/packfs/packfs/internal/codec"
	"github.com/packfs/packfs/internal/filter"
	"github.com/packfs/packfs/internal/lockfile"
	"github.com/packfs/packfs/internal/meta"
	"github.com/packfs/packfs/internal/metrics"
	"github.com/packfs/packfs/internal/policy"
	"github.com/packfs/packfs/internal/staging"
	"github.com/packfs/packfs/internal/storage"
	"github.com/packfs/packfs/pkg/errors"
	"github.com/packfs/packfs/pkg/logging"
)

// Status is the terminal outcome of a job.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Request describes one triggered job. Exactly one of Event or Action is
// set: Event when the host passes a lifecycle event for the resolver,
// Action when the caller requests a transform explicitly.
type Request struct {
	Path   string
	Event  policy.Event
	Action policy.Action
	DryRun bool
}

// Result is what every job terminates with. It is returned to the caller
// and written to the log; it is not persisted beyond that.
type Result struct {
	Status   Status
	Action   policy.Action
	Code     errors.ErrorCode
	Reason   string
	BytesIn  int64
	BytesOut int64
	Elapsed  time.Duration
}

// ExitStatus maps the result onto the process exit status contract:
// zero for Success and Skipped, distinct non-zero codes per failure
// category.
func (r Result) ExitStatus() int {
	if r.Status != StatusFailed {
		return 0
	}
	return errors.ExitStatus(r.Code)
}

// Options wires a Pipeline.
type Options struct {
	Governed    *filter.GovernedSet
	Locks       *lockfile.Manager
	Staging     *staging.Area
	Engine      *codec.Engine
	Store       storage.Store
	Collector   *metrics.Collector
	Logger      *logging.Logger
	LockTimeout time.Duration
}

// Pipeline runs transform jobs. It is safe for concurrent use; jobs for
// different objects proceed in parallel and jobs for the same object are
// serialized by the lock table.
type Pipeline struct {
	governed    *filter.GovernedSet
	locks       *lockfile.Manager
	area        *staging.Area
	engine      *codec.Engine
	store       storage.Store
	collector   *metrics.Collector
	logger      *logging.Logger
	lockTimeout time.Duration
}

// New creates a pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Governed == nil || opts.Locks == nil || opts.Staging == nil ||
		opts.Engine == nil || opts.Store == nil || opts.Logger == nil {
		return nil, fmt.Errorf("pipeline options are incomplete")
	}

	lockTimeout := opts.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = 30 * time.Second
	}

	return &Pipeline{
		governed:    opts.Governed,
		locks:       opts.Locks,
		area:        opts.Staging,
		engine:      opts.Engine,
		store:       opts.Store,
		collector:   opts.Collector,
		logger:      opts.Logger.WithComponent("pipeline"),
		lockTimeout: lockTimeout,
	}, nil
}

// Run executes one job to completion and returns its Result.
func (p *Pipeline) Run(ctx context.Context, req Request) Result {
	start := time.Now()

	action, err := p.resolveAction(req)
	if err != nil {
		return p.finish(req.Path, action, start, Result{
			Status: StatusFailed,
			Code:   errors.CodeOf(err),
			Reason: err.Error(),
		})
	}
	fromEvent := req.Event != ""

	// The gate runs before any lock or I/O so ungoverned paths cost
	// nothing.
	if !p.governed.Governed(req.Path) {
		return p.finish(req.Path, action, start, Result{
			Status: StatusSkipped,
			Reason: fmt.Sprintf("path not governed by collection %s", p.governed.Root()),
		})
	}

	if req.DryRun {
		return p.finish(req.Path, action, start, Result{
			Status: StatusSkipped,
			Reason: "dry run: inputs and action validated, no I/O performed",
		})
	}

	lock, err := p.locks.Acquire(ctx, req.Path, p.lockTimeout)
	if err != nil {
		return p.finish(req.Path, action, start, Result{
			Status: StatusFailed,
			Code:   errors.CodeOf(err),
			Reason: err.Error(),
		})
	}
	defer func() {
		if err := lock.Release(); err != nil {
			p.logger.Error("failed to release object lock",
				map[string]interface{}{"path": req.Path, "error": err.Error()})
		}
	}()

	result := p.transform(ctx, req.Path, action, fromEvent)
	return p.finish(req.Path, action, start, result)
}

// resolveAction derives the transform action from the request.
func (p *Pipeline) resolveAction(req Request) (policy.Action, error) {
	if req.Event != "" {
		return policy.Resolve(req.Event)
	}
	if req.Action != "" {
		return policy.ParseAction(string(req.Action))
	}
	return "", errors.NewError(errors.ErrCodeMissingOption,
		"either an event or an action is required").WithComponent("pipeline")
}

// transform runs the locked portion of the job: fetch, transform, replace.
func (p *Pipeline) transform(ctx context.Context, objectPath string, action policy.Action, fromEvent bool) Result {
	if _, err := p.store.Stat(ctx, objectPath); err != nil {
		return Result{Status: StatusFailed, Code: errors.CodeOf(err), Reason: err.Error()}
	}

	// The recorded attributes let an event-derived job skip without
	// fetching anything: a post-open compress against an object that is
	// already compressed at rest is the common redundant trigger.
	if fromEvent {
		attrs, err := p.store.ReadAttrs(ctx, objectPath)
		if err != nil {
			p.logger.Warning("could not read object attributes",
				map[string]interface{}{"path": objectPath, "error": err.Error()})
		} else if attrs != nil && alreadyInTargetForm(attrs, action) {
			return Result{
				Status: StatusSkipped,
				Reason: fmt.Sprintf("object already in target form for %s", action),
			}
		}
	}

	lease, err := p.area.Allocate(objectPath)
	if err != nil {
		return Result{Status: StatusFailed, Code: errors.ErrCodeInternalError, Reason: err.Error()}
	}
	defer p.area.Release(lease)

	if _, err := p.store.Fetch(ctx, objectPath, lease.LocalIn); err != nil {
		return Result{Status: StatusFailed, Code: errors.CodeOf(err), Reason: err.Error()}
	}

	// Second idempotence line: attributes can be missing or stale, so an
	// event-derived job also trusts the format marker on the fetched
	// bytes.
	if fromEvent {
		format, err := codec.Detect(lease.LocalIn)
		if err == nil && alreadyInTargetFormat(format, p.engine, action) {
			return Result{
				Status: StatusSkipped,
				Reason: fmt.Sprintf("fetched object already in target form for %s", action),
			}
		}
	}

	var bytesIn, bytesOut int64
	switch action {
	case policy.ActionCompress:
		bytesIn, bytesOut, err = p.engine.Compress(lease.LocalIn, lease.LocalOut)
	case policy.ActionDecompress:
		bytesIn, bytesOut, err = p.engine.Decompress(lease.LocalIn, lease.LocalOut)
	default:
		err = errors.NewError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("unhandled action: %q", action))
	}
	if err != nil {
		return Result{Status: StatusFailed, Code: errors.CodeOf(err), Reason: err.Error(), BytesIn: bytesIn}
	}

	attrs, err := p.buildAttrs(objectPath, action, lease, bytesIn, bytesOut)
	if err != nil {
		return Result{Status: StatusFailed, Code: errors.ErrCodeTransformFailure, Reason: err.Error(), BytesIn: bytesIn}
	}

	// Atomic replace: the transformed bytes become visible under the
	// final name only through the rename, so a concurrent reader sees the
	// old object or the new one in full, never a truncation.
	if _, err := p.store.Upload(ctx, lease.LocalOut, lease.Remote); err != nil {
		return Result{Status: StatusFailed, Code: errors.CodeOf(err), Reason: err.Error(), BytesIn: bytesIn}
	}
	if err := p.store.Rename(ctx, lease.Remote, objectPath); err != nil {
		p.dropRemoteScratch(ctx, lease.Remote)
		return Result{Status: StatusFailed, Code: errors.CodeOf(err), Reason: err.Error(), BytesIn: bytesIn}
	}

	if err := p.store.WriteAttrs(ctx, objectPath, attrs); err != nil {
		// The replace has committed; stale attributes degrade the
		// idempotence fast path but do not invalidate the object.
		p.logger.Warning("failed to record object attributes",
			map[string]interface{}{"path": objectPath, "error": err.Error()})
	}

	return Result{Status: StatusSuccess, BytesIn: bytesIn, BytesOut: bytesOut}
}

// buildAttrs assembles the at-rest metadata recorded with the replaced
// object. The raw side of the transform is the input for compress and the
// output for decompress.
func (p *Pipeline) buildAttrs(objectPath string, action policy.Action, lease *staging.Lease, bytesIn, bytesOut int64) (*meta.Attrs, error) {
	attrs := &meta.Attrs{
		OriginalName: path.Base(objectPath),
	}

	var rawPath string
	if action == policy.ActionCompress {
		attrs.Compressed = true
		attrs.Method = string(p.engine.Algorithm())
		attrs.UncompressedSize = bytesIn
		rawPath = lease.LocalIn
	} else {
		attrs.Compressed = false
		attrs.UncompressedSize = bytesOut
		rawPath = lease.LocalOut
	}

	checksum, err := meta.ChecksumFile(rawPath)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum raw content: %w", err)
	}
	attrs.UncompressedChecksum = checksum
	return attrs, nil
}

// dropRemoteScratch removes a staged remote file after a failed replace,
// honoring the retention debug option. Failures are logged, never raised.
func (p *Pipeline) dropRemoteScratch(ctx context.Context, remotePath string) {
	if p.area.RetainRemote() {
		p.logger.Debug("retaining remote scratch file",
			map[string]interface{}{"path": remotePath})
		return
	}
	if err := p.store.Delete(ctx, remotePath); err != nil {
		p.logger.Warning("failed to remove remote scratch file",
			map[string]interface{}{"path": remotePath, "error": err.Error()})
	}
}

// finish stamps, records, and logs the job's terminal result.
func (p *Pipeline) finish(objectPath string, action policy.Action, start time.Time, result Result) Result {
	result.Action = action
	result.Elapsed = time.Since(start)

	fields := map[string]interface{}{
		"path":    objectPath,
		"action":  string(action),
		"status":  string(result.Status),
		"elapsed": result.Elapsed.String(),
	}
	if result.BytesIn > 0 || result.BytesOut > 0 {
		fields["bytes_in"] = result.BytesIn
		fields["bytes_out"] = result.BytesOut
	}

	switch result.Status {
	case StatusFailed:
		fields["code"] = string(result.Code)
		fields["reason"] = result.Reason
		p.logger.Error("job failed", fields)
	case StatusSkipped:
		fields["reason"] = result.Reason
		p.logger.Info("job skipped", fields)
	default:
		p.logger.Info("job succeeded", fields)
	}

	if p.collector != nil {
		p.collector.RecordJob(string(action), string(result.Status),
			result.BytesIn, result.BytesOut, result.Elapsed)
	}
	return result
}

func alreadyInTargetForm(attrs *meta.Attrs, action policy.Action) bool {
	if action == policy.ActionCompress {
		return attrs.Compressed
	}
	return !attrs.Compressed
}

func alreadyInTargetFormat(format codec.Format, engine *codec.Engine, action policy.Action) bool {
	if action == policy.ActionCompress {
		return format == engine.TargetFormat()
	}
	return !format.Compressed()
}
