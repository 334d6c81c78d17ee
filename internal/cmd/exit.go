package cmd

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/searchlens/searchlens/internal/core/client"
)

// errInvalidConfig marks failures to load or validate configuration so they
// exit with the config-invalid code.
var errInvalidConfig = stderrors.New("invalid configuration")

// ExitCodeFor maps a command error onto a foundry exit code. Cluster
// unavailability (exhausted backpressure, transport failures, timeouts) is
// distinguished from requests the cluster refused outright.
func ExitCodeFor(err error) foundry.ExitCode {
	if err == nil {
		return foundry.ExitCode(0)
	}
	if stderrors.Is(err, errInvalidConfig) {
		return foundry.ExitConfigInvalid
	}
	switch client.KindOf(err) {
	case client.KindBackpressureExhausted, client.KindTransportFailure, client.KindTimeout:
		return foundry.ExitExternalServiceUnavailable
	}
	return foundry.ExitFailure
}

// ExitWithCode exits the program with a semantic foundry exit code and logs the error.
// logger may be nil for failures that happen before logger initialization.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		os.Exit(int(exitCode))
	}

	if logger == nil {
		writeFatal(msg, err)
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		os.Exit(info.Code)
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_category", info.Category),
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("error_message", envelope.Message),
			zap.String("correlation_id", envelope.CorrelationID),
		)
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
		if original, ok := envelope.Original.(error); ok && original != nil {
			err = original
		}
	}

	var ce *client.Error
	if stderrors.As(err, &ce) {
		fields = append(fields,
			zap.String("failure_kind", string(ce.Kind)),
			zap.Int("attempts", ce.Attempts),
			zap.Duration("elapsed", ce.Elapsed),
			zap.Int("last_status", ce.LastStatus))
	}

	fields = append(fields, zap.Error(err))
	logger.Error(msg, fields...)
	os.Exit(info.Code)
}

// ExitWithCodeStderr is a variant that writes to stderr without a logger.
// Use this for early failures before logger initialization.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		writeFatal(msg, err)
		os.Exit(int(exitCode))
	}

	writeFatal(msg, err)
	fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
	os.Exit(info.Code)
}

func writeFatal(msg string, err error) {
	if err == nil {
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
		return
	}
	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) {
		fmt.Fprintf(os.Stderr, "FATAL: %s [%s]: %s (correlation: %s)\n",
			msg, envelope.Code, envelope.Message, envelope.CorrelationID)
		return
	}
	fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
}
