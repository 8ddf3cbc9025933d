// Package dispatch is the single entry point for every operation. It
// decodes and validates a request, acquires the project context, enforces
// the covenant and runs the capability, reporting failures as structured
// errors.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/HendryAvila/warden/internal/covenant"
	"github.com/HendryAvila/warden/internal/memory"
	"github.com/HendryAvila/warden/internal/recall"
	"github.com/HendryAvila/warden/internal/registry"
	"github.com/HendryAvila/warden/internal/router"
	"github.com/HendryAvila/warden/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Response is the outcome of one operation. Exactly one of Data and Error
// is set.
type Response struct {
	Op       string `json:"op"`
	OK       bool   `json:"ok"`
	Data     any    `json:"data,omitempty"`
	Error    *Error `json:"error,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`
}

// Config tunes the dispatcher.
type Config struct {
	// MaxContentLength bounds remember content, in bytes.
	MaxContentLength int
	Now              func() time.Time
}

// Dispatcher routes requests to capabilities.
type Dispatcher struct {
	reg     *registry.Registry
	svc     *recall.Service
	guard   *covenant.Guard
	metrics *telemetry.Metrics
	logger  *slog.Logger
	cfg     Config
}

// New returns a Dispatcher. metrics may be nil.
func New(cfg Config, reg *registry.Registry, svc *recall.Service, metrics *telemetry.Metrics, logger *slog.Logger) *Dispatcher {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 4000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		reg:     reg,
		svc:     svc,
		guard:   &covenant.Guard{Policy: Policy(), Signer: svc.Signer(), TTL: svc.ConsultationTTL()},
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}
}

// DispatchRaw decodes a JSON argument object for op and dispatches it.
func (d *Dispatcher) DispatchRaw(ctx context.Context, op string, raw []byte) *Response {
	req, err := Decode(op, raw)
	if err != nil {
		return d.fail(op, time.Now(), err)
	}
	return d.Dispatch(ctx, req)
}

// Dispatch runs one typed request.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) *Response {
	start := time.Now()
	op := req.Op()
	ctx, span := telemetry.StartOp(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("warden.project", req.Project()))

	resp := d.dispatch(ctx, req)
	if resp.Error != nil {
		span.SetStatus(codes.Error, resp.Error.Code)
		span.SetAttributes(attribute.String("warden.error_code", resp.Error.Code))
	}
	span.SetAttributes(attribute.Bool("warden.degraded", resp.Degraded))
	code := "ok"
	if resp.Error != nil {
		code = resp.Error.Code
	}
	d.metrics.Observe(op, code, time.Since(start))
	if resp.Degraded {
		d.metrics.Degraded(op)
	}
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) *Response {
	op := req.Op()
	start := time.Now()
	if err := Validate(req); err != nil {
		return d.fail(op, start, err)
	}
	if err := d.check(req); err != nil {
		return d.fail(op, start, err)
	}

	p, err := d.reg.Acquire(ctx, req.Project())
	if err != nil {
		return d.fail(op, start, err)
	}
	defer d.reg.Release(p)

	var v *covenant.Violation
	now := d.cfg.Now().UTC()
	p.WithCovenant(func(st *covenant.State) {
		v = d.guard.Check(op, st, p.Root, req.Token(), now)
	})
	if v != nil {
		d.metrics.Violation(v.Code)
		d.logger.Info("covenant violation", "op", op, "project", p.Root, "code", v.Code, "stage", v.State.Stage)
		return d.fail(op, start, v)
	}

	data, degraded, err := d.run(ctx, p, req)
	if err != nil {
		return d.fail(op, start, err)
	}
	d.logger.Debug("operation", "op", op, "project", p.Root, "degraded", degraded, "duration", time.Since(start))
	return &Response{Op: op, OK: true, Data: data, Degraded: degraded}
}

// check applies the constraints struct tags cannot express.
func (d *Dispatcher) check(req Request) error {
	switch r := req.(type) {
	case *RememberRequest:
		if strings.TrimSpace(r.Content) == "" {
			return &ValidationError{Field: "content", Message: "is required"}
		}
		if len(r.Content) > d.cfg.MaxContentLength {
			return &ValidationError{Field: "content", Message: fmt.Sprintf("exceeds %d characters", d.cfg.MaxContentLength)}
		}
	case *RecallRequest:
		_, _, err := r.window()
		return err
	case *SearchRequest:
		_, _, err := r.window()
		return err
	case *ContextCheckRequest:
		if strings.TrimSpace(r.Action) == "" {
			return &ValidationError{Field: "action", Message: "is required"}
		}
	}
	return nil
}

func (d *Dispatcher) fail(op string, start time.Time, err error) *Response {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Response{Op: op, Error: &Error{Code: CodeUnavailable, Message: err.Error()}}
	}
	e, unexpected := toError(err)
	if unexpected {
		d.logger.Error("operation failed", "op", op, "code", e.Code, "error", err, "duration", time.Since(start))
	}
	return &Response{Op: op, Error: e}
}

func (d *Dispatcher) run(ctx context.Context, p *registry.Project, req Request) (any, bool, error) {
	s := d.svc
	switch r := req.(type) {
	case *BriefingRequest:
		out, err := s.Brief(ctx, p, r.SessionID)
		return out, false, err
	case *ContextCheckRequest:
		out, err := s.Consult(ctx, p, r.Action)
		if err != nil {
			return nil, false, err
		}
		return out, out.Degraded, nil
	case *HealthRequest:
		out, err := s.Health(ctx, p)
		return out, false, err

	case *RecallRequest:
		q, err := query(r.Query, r.Filters)
		if err != nil {
			return nil, false, err
		}
		q.Complexity = router.Complexity(r.Complexity)
		out, err := s.Recall(ctx, p, q)
		if err != nil {
			return nil, false, err
		}
		return out, out.Degraded, nil
	case *SearchRequest:
		q, err := query(r.Query, r.Filters)
		if err != nil {
			return nil, false, err
		}
		out, err := s.Search(ctx, p, q)
		return out, false, err
	case *GetMemoryRequest:
		out, err := s.Get(ctx, p, r.ID, r.DetailLevel)
		return out, false, err
	case *CheckRulesRequest:
		out, err := s.CheckRules(ctx, p, r.Action)
		return map[string]any{"action": r.Action, "matches": out}, false, err
	case *ListRulesRequest:
		out, err := s.ListRules(ctx, p, !r.IncludeDisabled)
		return map[string]any{"rules": out}, false, err
	case *TraceChainRequest:
		out, err := s.Trace(ctx, p, r.ID, r.Depth)
		return out, false, err
	case *ExportRequest:
		out, err := s.Export(ctx, p)
		return out, false, err

	case *RememberRequest:
		out, err := s.Remember(ctx, p, recall.Note{
			Category:   memory.Category(r.Category),
			Content:    r.Content,
			Rationale:  r.Rationale,
			Tags:       r.Tags,
			FilePath:   r.FilePath,
			Importance: r.Importance,
		})
		if err != nil {
			return nil, false, err
		}
		return out, out.Degraded, nil
	case *OutcomeRequest:
		out, err := s.RecordOutcome(ctx, p, r.ID, memory.Outcome(r.Outcome), r.Note)
		return out, false, err
	case *LinkRequest:
		out, err := s.Link(ctx, p, r.FromID, r.ToID, memory.RelationType(r.Type), r.Note)
		return out, false, err
	case *UnlinkRequest:
		if err := s.Unlink(ctx, p, r.FromID, r.ToID, memory.RelationType(r.Type)); err != nil {
			return nil, false, err
		}
		return map[string]any{"from_id": r.FromID, "to_id": r.ToID, "removed": true}, false, nil
	case *AddRuleRequest:
		enabled := r.Enabled == nil || *r.Enabled
		out, err := s.AddRule(ctx, p, memory.Rule{
			Trigger:  r.Trigger,
			MustDo:   r.MustDo,
			MustNot:  r.MustNot,
			AskFirst: r.AskFirst,
			Warnings: r.Warnings,
			Priority: r.Priority,
			Enabled:  enabled,
		})
		return out, false, err
	case *UpdateRuleRequest:
		out, err := s.UpdateRule(ctx, p, r.ID, memory.RulePatch{
			Trigger:  r.Trigger,
			MustDo:   r.MustDo,
			MustNot:  r.MustNot,
			AskFirst: r.AskFirst,
			Warnings: r.Warnings,
			Priority: r.Priority,
			Enabled:  r.Enabled,
		})
		return out, false, err
	case *PinRequest:
		pinned := r.Pinned == nil || *r.Pinned
		out, err := s.Pin(ctx, p, r.ID, pinned)
		return out, false, err
	case *ArchiveRequest:
		out, err := s.Archive(ctx, p, r.IDs, r.Reason)
		return map[string]any{"archived": out}, false, err
	case *CleanupRequest:
		out, err := s.CleanupDuplicates(ctx, p, r.DryRun == nil || *r.DryRun)
		return out, false, err
	case *PruneRequest:
		var age time.Duration
		if r.OlderThanDays > 0 {
			age = time.Duration(r.OlderThanDays) * 24 * time.Hour
		}
		out, err := s.PruneStale(ctx, p, age, r.DryRun == nil || *r.DryRun)
		return out, false, err
	case *RebuildIndexRequest:
		out, err := s.RebuildIndex(ctx, p)
		if err != nil {
			return nil, false, err
		}
		return out, out.Degraded, nil
	case *RebuildCommunitiesRequest:
		out, err := s.RebuildCommunities(ctx, p)
		return map[string]any{"communities": out}, false, err
	default:
		return nil, false, &ValidationError{Field: "op", Message: fmt.Sprintf("unknown operation %q", req.Op())}
	}
}

func query(text string, f Filters) (recall.Query, error) {
	since, until, err := f.window()
	if err != nil {
		return recall.Query{}, err
	}
	cats := make([]memory.Category, 0, len(f.Categories))
	for _, c := range f.Categories {
		cats = append(cats, memory.Category(c))
	}
	return recall.Query{
		Text:       text,
		Categories: cats,
		Tags:       f.Tags,
		FilePath:   f.FilePath,
		Since:      since,
		Until:      until,
		Offset:     f.Offset,
		Limit:      f.Limit,
		Detail:     f.DetailLevel,
	}, nil
}
