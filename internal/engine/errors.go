package engine

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"activist-bot/internal/store"
)

// Reason categorizes the outcome of an engine operation.
type Reason string

const (
	ReasonOK               Reason = "ok"
	ReasonNotFound         Reason = "not_found"
	ReasonAlreadyMember    Reason = "already_member"
	ReasonNotMember        Reason = "not_member"
	ReasonCapacityExceeded Reason = "capacity_exceeded"
	ReasonPersistFailed    Reason = "persist_failed"
	ReasonPartialFailure   Reason = "partial_failure"

	// ReasonApprovalRequired means the join request waits for a moderator.
	ReasonApprovalRequired Reason = "approval_required"
	// ReasonUnleaveable means the project does not allow members to leave on their own.
	ReasonUnleaveable Reason = "unleaveable"
	// ReasonProfileIncomplete means a required profile field is still unset.
	ReasonProfileIncomplete Reason = "profile_incomplete"
	ReasonAlreadyExists     Reason = "already_exists"
)

// Result is the outcome of a mutating operation.
type Result struct {
	Success bool
	Reason  Reason
	// Detail names the missing field for ReasonProfileIncomplete.
	Detail string
}

func ok() Result { return Result{Success: true, Reason: ReasonOK} }

func fail(r Reason) Result { return Result{Reason: r} }

// Error wraps an I/O failure from the document store.
type Error struct {
	Op     string
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// outcome is returned from inside a transaction to abort it with an expected result.
type outcome struct {
	result Result
}

func (o *outcome) Error() string { return string(o.result.Reason) }

func abort(r Reason) error { return &outcome{result: fail(r)} }

// settle turns the error of a store transaction into a Result.
func (e *Engine) settle(op string, err error, success Result) (Result, error) {
	if err == nil {
		return success, nil
	}
	var o *outcome
	if errors.As(err, &o) {
		return o.result, nil
	}
	e.log.Error("transaction failed, documents need a manual check",
		zap.String("op", op), zap.Bool("persist", errors.Is(err, store.ErrPersistFailed)), zap.Error(err))
	return fail(ReasonPersistFailed), &Error{Op: op, Reason: ReasonPersistFailed, Err: err}
}
