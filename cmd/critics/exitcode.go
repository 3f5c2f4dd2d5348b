package main

import (
	"context"
	"errors"

	"github.com/GaryBoone/ai-critics/pkg/agent"
	"github.com/GaryBoone/ai-critics/pkg/chat"
	"github.com/GaryBoone/ai-critics/pkg/controller"
	"github.com/GaryBoone/ai-critics/pkg/model"
	"github.com/GaryBoone/ai-critics/pkg/verify"
)

// Process exit statuses of `critics run`. A converged run exits with its
// proposal count.
const (
	ExitError     = 0
	ExitExhausted = 255

	maxProposalExit = 254
)

// ExitCode maps a run's result to the process exit status.
func ExitCode(res *controller.Result, err error) int {
	switch {
	case errors.Is(err, controller.ErrMaxProposalsExceeded):
		return ExitExhausted
	case err != nil || res == nil:
		return ExitError
	case res.Proposals > maxProposalExit:
		return maxProposalExit
	case res.Proposals < 1:
		return ExitError
	default:
		return res.Proposals
	}
}

// errorClass names the category of an unrecoverable run error. All of them
// exit with ExitError, so the class is what tells them apart in the logs.
func errorClass(err error) string {
	var (
		parseErr   *chat.ParseError
		missingErr *agent.MissingFieldsError
		testErr    *verify.TestingFailedError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, chat.ErrMaxRetriesExceeded):
		return "retries_exhausted"
	case model.IsPermanent(err):
		return "transport"
	case errors.As(err, &parseErr), errors.Is(err, chat.ErrUnexpectedStructure):
		return "malformed_response"
	case errors.As(err, &missingErr), errors.Is(err, agent.ErrDecode):
		return "schema"
	case errors.Is(err, verify.ErrProcessTerminated), errors.As(err, &testErr):
		return "verification"
	default:
		return "internal"
	}
}
