package client

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/searchlens/searchlens/internal/core"
)

// Classifier maps one attempt to an Outcome. err is the transport error, if any.
type Classifier interface {
	Classify(result *AttemptResult, err error) core.Outcome
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(result *AttemptResult, err error) core.Outcome

func (f ClassifierFunc) Classify(result *AttemptResult, err error) core.Outcome {
	return f(result, err)
}

// Error types the backend uses when shedding load.
var backpressureErrorTypes = map[string]bool{
	"es_rejected_execution_exception": true,
	"circuit_breaking_exception":      true,
}

// StatusClassifier classifies by HTTP status and, for error bodies, by the
// backend's JSON error type.
type StatusClassifier struct{}

func (StatusClassifier) Classify(result *AttemptResult, err error) core.Outcome {
	if err != nil || result == nil {
		return core.OutcomeOtherError
	}

	status := result.StatusCode
	switch {
	case status >= 200 && status < 300:
		return core.OutcomeSuccess
	case status == http.StatusTooManyRequests, status == http.StatusServiceUnavailable:
		return core.OutcomeBackpressure
	}

	if rejectedByLoad(result.Body) {
		return core.OutcomeBackpressure
	}

	switch status {
	case http.StatusRequestTimeout, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusGatewayTimeout:
		return core.OutcomeOtherError
	}
	return core.OutcomeFatalError
}

type errorEnvelope struct {
	Error struct {
		Type      string `json:"type"`
		RootCause []struct {
			Type string `json:"type"`
		} `json:"root_cause"`
		CausedBy *struct {
			Type string `json:"type"`
		} `json:"caused_by"`
	} `json:"error"`
}

func rejectedByLoad(body []byte) bool {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return false
	}
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return false
	}
	if backpressureErrorTypes[env.Error.Type] {
		return true
	}
	if env.Error.CausedBy != nil && backpressureErrorTypes[env.Error.CausedBy.Type] {
		return true
	}
	for _, cause := range env.Error.RootCause {
		if backpressureErrorTypes[cause.Type] {
			return true
		}
	}
	return false
}
