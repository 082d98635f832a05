package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/polisai/crdp-orchestrator/pkg/domain"
	"github.com/polisai/crdp-orchestrator/pkg/request"
	"github.com/polisai/crdp-orchestrator/pkg/telemetry"
	"github.com/polisai/crdp-orchestrator/pkg/validation"
)

// outcome is the slot-independent view of a finished call.
type outcome struct {
	failed bool
	status int
	err    error
	debug  json.RawMessage
}

// descriptor parametrizes the shared invocation sequence for one slot.
type descriptor[Req, Resp any] struct {
	slot      Slot
	stage     domain.Stage
	clearsLog bool
	// requires reports whether the inputs carry anything to submit. A false result makes
	// the trigger a no-op instead of a validation failure.
	requires func(in Inputs) bool
	// validate checks the inputs before the settings are read.
	validate func(in Inputs) error
	build    func(in Inputs, cfg domain.Configuration) (Req, error)
	call     func(ctx context.Context, gw Gateway, req Req) Resp
	reject   func(err error) Resp
	report   func(resp Resp) outcome
	store    func(st *slotState, resp Resp)
	// chain updates inputs after a successful call.
	chain func(in *Inputs, resp Resp)
	// describe returns the masked subject and item count for telemetry.
	describe func(req Req) (string, int)
}

func resultOutcome(r domain.OperationResult) outcome {
	o := outcome{failed: r.Failed(), status: r.StatusCode, debug: r.Debug}
	if o.failed {
		o.err = r.Err
		if o.err == nil {
			o.err = errors.New(r.Error)
		}
	}
	return o
}

func storeResult(st *slotState, r domain.OperationResult) {
	st.result = &r
}

func localFailure(err error) domain.OperationResult {
	return domain.FailureResult(LocalFailureStatus, err)
}

var protectOp = descriptor[domain.ProtectRequest, domain.OperationResult]{
	slot:      SlotProtect,
	stage:     domain.StageProtect,
	clearsLog: true,
	validate: func(in Inputs) error {
		return validation.ValidateProtect(in.Protect)
	},
	build: func(in Inputs, cfg domain.Configuration) (domain.ProtectRequest, error) {
		return request.Protect(in.Protect, cfg)
	},
	call: func(ctx context.Context, gw Gateway, req domain.ProtectRequest) domain.OperationResult {
		return gw.Protect(ctx, req)
	},
	reject: localFailure,
	report: resultOutcome,
	store:  storeResult,
	chain: func(in *Inputs, r domain.OperationResult) {
		if r.ProtectedData != nil {
			in.Reveal = *r.ProtectedData
		}
	},
	describe: func(req domain.ProtectRequest) (string, int) {
		return telemetry.MaskValue(req.Data), 1
	},
}

var revealOp = descriptor[domain.RevealRequest, domain.OperationResult]{
	slot:  SlotReveal,
	stage: domain.StageReveal,
	validate: func(in Inputs) error {
		return validation.ValidateReveal(in.Reveal)
	},
	build: func(in Inputs, cfg domain.Configuration) (domain.RevealRequest, error) {
		return request.Reveal(in.Reveal, in.RevealUsername, cfg)
	},
	call: func(ctx context.Context, gw Gateway, req domain.RevealRequest) domain.OperationResult {
		return gw.Reveal(ctx, req)
	},
	reject: localFailure,
	report: resultOutcome,
	store:  storeResult,
	describe: func(req domain.RevealRequest) (string, int) {
		return telemetry.MaskValue(req.ProtectedData), 1
	},
}

var bulkProtectOp = descriptor[domain.BulkProtectRequest, domain.OperationResult]{
	slot:      SlotBulkProtect,
	stage:     domain.StageProtectBulk,
	clearsLog: true,
	requires: func(in Inputs) bool {
		return len(validation.SplitLines(in.BulkProtect)) > 0
	},
	validate: func(in Inputs) error {
		_, err := validation.ValidateBulk(in.BulkProtect)
		return err
	},
	build: func(in Inputs, cfg domain.Configuration) (domain.BulkProtectRequest, error) {
		return request.BulkProtect(in.BulkProtect, cfg)
	},
	call: func(ctx context.Context, gw Gateway, req domain.BulkProtectRequest) domain.OperationResult {
		return gw.BulkProtect(ctx, req)
	},
	reject: localFailure,
	report: resultOutcome,
	store:  storeResult,
	chain: func(in *Inputs, r domain.OperationResult) {
		in.BulkReveal = strings.Join(r.ProtectedDataArray, "\n")
	},
	describe: func(req domain.BulkProtectRequest) (string, int) {
		return "", len(req.DataArray)
	},
}

var bulkRevealOp = descriptor[domain.BulkRevealRequest, domain.OperationResult]{
	slot:      SlotBulkReveal,
	stage:     domain.StageRevealBulk,
	clearsLog: true,
	requires: func(in Inputs) bool {
		return len(validation.SplitLines(in.BulkReveal)) > 0
	},
	validate: func(in Inputs) error {
		_, err := validation.ValidateBulk(in.BulkReveal)
		return err
	},
	build: func(in Inputs, cfg domain.Configuration) (domain.BulkRevealRequest, error) {
		return request.BulkReveal(in.BulkReveal, in.RevealUsername, cfg)
	},
	call: func(ctx context.Context, gw Gateway, req domain.BulkRevealRequest) domain.OperationResult {
		return gw.BulkReveal(ctx, req)
	},
	reject: localFailure,
	report: resultOutcome,
	store:  storeResult,
	describe: func(req domain.BulkRevealRequest) (string, int) {
		return "", len(req.ProtectedDataArray)
	},
}

var healthOp = descriptor[domain.Configuration, domain.HealthStatus]{
	slot:  SlotHealth,
	stage: domain.StageHealth,
	build: func(_ Inputs, cfg domain.Configuration) (domain.Configuration, error) {
		return cfg, nil
	},
	call: func(ctx context.Context, gw Gateway, cfg domain.Configuration) domain.HealthStatus {
		return gw.HealthCheck(ctx, cfg)
	},
	reject: func(err error) domain.HealthStatus {
		return domain.HealthStatus{OK: false, Message: "health check failed: " + err.Error()}
	},
	report: func(h domain.HealthStatus) outcome {
		return outcome{failed: !h.OK}
	},
	store: func(st *slotState, h domain.HealthStatus) {
		st.health = &h
	},
	describe: func(domain.Configuration) (string, int) {
		return "", 0
	},
}
