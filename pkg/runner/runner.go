// Package runner drives protect-then-reveal round trips against a gateway and reports
// whether the revealed values match the originals.
package runner

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/polisai/crdp-orchestrator/pkg/domain"
	"github.com/polisai/crdp-orchestrator/pkg/orchestrator"
	"github.com/polisai/crdp-orchestrator/pkg/request"
)

// DefaultBatchSize is the number of items sent per bulk call.
const DefaultBatchSize = 25

// IterationResult is one single-value round trip.
type IterationResult struct {
	Data           string
	Protect        domain.OperationResult
	Reveal         domain.OperationResult
	ProtectedToken string
	Restored       string
	Duration       time.Duration
}

// Success reports whether both calls succeeded.
func (r IterationResult) Success() bool {
	return !r.Protect.Failed() && !r.Reveal.Failed()
}

// Match reports whether the revealed value equals the input.
func (r IterationResult) Match() bool {
	return r.Success() && r.Restored == r.Data
}

// BulkIterationResult is the round trip of one batch.
type BulkIterationResult struct {
	Inputs         []string
	Protect        domain.OperationResult
	Reveal         domain.OperationResult
	ProtectedToken []string
	Restored       []string
	Duration       time.Duration
}

// Matches reports, per input, whether the revealed value equals it. Inputs without a
// revealed counterpart do not match.
func (r BulkIterationResult) Matches() []bool {
	out := make([]bool, len(r.Inputs))
	for i, in := range r.Inputs {
		out[i] = i < len(r.Restored) && r.Restored[i] == in
	}
	return out
}

// Runner executes round trips through a Gateway.
type Runner struct {
	gateway orchestrator.Gateway
	logger  *slog.Logger
}

// New creates a Runner.
func New(gw orchestrator.Gateway, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{gateway: gw, logger: logger}
}

// RunIteration protects data and reveals the resulting token. Local rejections are
// returned as results with status 422, like the console slots; a failed protect skips
// the reveal call.
func (r *Runner) RunIteration(ctx context.Context, cfg domain.Configuration, data, username string) IterationResult {
	started := time.Now()
	res := IterationResult{Data: data}

	protectReq, err := request.Protect(data, cfg)
	if err != nil {
		res.Protect = domain.FailureResult(orchestrator.LocalFailureStatus, err)
	} else {
		res.Protect = r.gateway.Protect(ctx, protectReq)
	}
	if res.Protect.ProtectedData != nil {
		res.ProtectedToken = *res.Protect.ProtectedData
	}

	revealReq, err := request.Reveal(res.ProtectedToken, username, cfg)
	if err != nil {
		res.Reveal = domain.FailureResult(orchestrator.LocalFailureStatus, err)
	} else {
		res.Reveal = r.gateway.Reveal(ctx, revealReq)
	}
	if res.Reveal.Data != nil {
		res.Restored = *res.Reveal.Data
	}

	res.Duration = time.Since(started)
	r.logger.Debug("round trip finished",
		"success", res.Success(),
		"match", res.Match(),
		"duration", res.Duration,
	)
	return res
}

// RunBulkIteration processes items in batches of batchSize, bulk protecting and then
// bulk revealing each batch. A failed batch is recorded and later batches still run.
func (r *Runner) RunBulkIteration(ctx context.Context, cfg domain.Configuration, items []string, batchSize int, username string) []BulkIterationResult {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	results := make([]BulkIterationResult, 0, (len(items)+batchSize-1)/batchSize)
	for start := 0; start < len(items); start += batchSize {
		end := min(start+batchSize, len(items))
		results = append(results, r.runBatch(ctx, cfg, items[start:end], username))
	}
	return results
}

func (r *Runner) runBatch(ctx context.Context, cfg domain.Configuration, batch []string, username string) BulkIterationResult {
	started := time.Now()
	res := BulkIterationResult{Inputs: batch}

	if len(batch) == 0 {
		res.Protect = domain.FailureResult(orchestrator.LocalFailureStatus, domain.ErrNothingToSubmit)
	} else {
		res.Protect = r.gateway.BulkProtect(ctx, domain.BulkProtectRequest{
			DataArray: batch,
			Policy:    cfg.Policy,
			Host:      cfg.Host,
			Port:      cfg.Port,
		})
	}
	res.ProtectedToken = res.Protect.ProtectedDataArray

	if len(res.ProtectedToken) == 0 {
		res.Reveal = domain.FailureResult(orchestrator.LocalFailureStatus, domain.ErrNothingToSubmit)
	} else {
		res.Reveal = r.gateway.BulkReveal(ctx, domain.BulkRevealRequest{
			ProtectedDataArray: res.ProtectedToken,
			Username:           strings.TrimSpace(username),
			Policy:             cfg.Policy,
			Host:               cfg.Host,
			Port:               cfg.Port,
		})
	}
	res.Restored = res.Reveal.DataArray

	res.Duration = time.Since(started)
	r.logger.Debug("bulk round trip finished",
		"items", len(batch),
		"protect_status", res.Protect.StatusCode,
		"reveal_status", res.Reveal.StatusCode,
		"duration", res.Duration,
	)
	return res
}

// Summary aggregates round-trip outcomes.
type Summary struct {
	Items    int           `json:"items"`
	Matched  int           `json:"matched"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Summarize aggregates single round trips.
func Summarize(results []IterationResult) Summary {
	var s Summary
	for _, r := range results {
		s.Items++
		s.Duration += r.Duration
		if r.Match() {
			s.Matched++
		}
		if !r.Success() {
			s.Failed++
		}
	}
	return s
}

// SummarizeBulk aggregates batch round trips per item.
func SummarizeBulk(results []BulkIterationResult) Summary {
	var s Summary
	for _, r := range results {
		s.Duration += r.Duration
		for _, ok := range r.Matches() {
			s.Items++
			if ok {
				s.Matched++
			}
		}
		if r.Protect.Failed() || r.Reveal.Failed() {
			s.Failed += len(r.Inputs)
		}
	}
	return s
}
