package main

import (
	"errors"
	"os"

	"github.com/wudi/flyerkit/config"
	"github.com/wudi/flyerkit/diag"
)

// Exit codes for the flyer CLI.
const (
	ExitSuccess = 0 // rendered, possibly with diagnostics
	ExitGeneral = 1 // unexpected failure
	ExitUsage   = 2 // bad flags or config
	ExitIO      = 3 // missing or unreadable files
	ExitInput   = 4 // unusable template or draft
)

var (
	ErrUsage     = errors.New("usage")
	ErrReadInput = errors.New("read input")
	ErrWriteOut  = errors.New("write output")
)

// exitCodeFor maps err to an exit code through errors.Is, so callers wrap
// with %w.
func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if errors.Is(err, diag.ErrUnrecoverableInput) {
		return ExitInput
	}
	if errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, os.ErrPermission) ||
		errors.Is(err, ErrReadInput) ||
		errors.Is(err, ErrWriteOut) {
		return ExitIO
	}
	if errors.Is(err, ErrUsage) ||
		errors.Is(err, config.ErrConfigNotFound) ||
		errors.Is(err, config.ErrConfigParse) ||
		errors.Is(err, config.ErrInvalid) {
		return ExitUsage
	}
	return ExitGeneral
}
