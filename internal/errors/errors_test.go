package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchlens/searchlens/internal/core"
	"github.com/searchlens/searchlens/internal/core/client"
)

func TestFromClientError(t *testing.T) {
	endpoint := core.Endpoint{Scheme: "http", Host: "es-1", Port: 9200}

	tests := []struct {
		name   string
		kind   client.Kind
		code   string
		status int
	}{
		{"backpressure", client.KindBackpressureExhausted, CodeBackpressureExhausted, http.StatusServiceUnavailable},
		{"transport", client.KindTransportFailure, CodeExternalService, http.StatusBadGateway},
		{"rejected", client.KindRequestRejected, CodeRequestRejected, http.StatusBadRequest},
		{"timeout", client.KindTimeout, CodeTimeout, http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fmt.Errorf("search: %w", &client.Error{
				Kind:       tt.kind,
				Attempts:   3,
				Elapsed:    250 * time.Millisecond,
				LastStatus: 429,
				Endpoint:   endpoint,
			})

			env := FromClientError(context.Background(), err)
			require.NotNil(t, env)
			assert.Equal(t, tt.code, env.Code)
			assert.Equal(t, tt.status, HTTPStatusFromEnvelope(env))
			assert.NotEmpty(t, env.CorrelationID)
			assert.Equal(t, string(tt.kind), env.Context["kind"])
			assert.Equal(t, "es-1:9200", env.Context["endpoint"])
		})
	}
}

func TestFromClientErrorNonClient(t *testing.T) {
	env := FromClientError(context.Background(), stderrors.New("boom"))
	assert.Equal(t, CodeInternal, env.Code)
}

func TestRespondWithErrorRejectedCarriesClusterBody(t *testing.T) {
	err := &client.Error{
		Kind:       client.KindRequestRejected,
		Attempts:   1,
		LastStatus: 400,
		Body:       []byte(`{"error":{"type":"parsing_exception"}}`),
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/indices/logs/search", nil)
	RespondWithError(rec, req, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, CodeRequestRejected, resp.Error.Code)
	require.Contains(t, resp.Error.Details, "cluster_error")
	assert.NotEmpty(t, resp.Error.RequestID)
}

func TestRespondWithErrorPlainError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), stderrors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestHTTPStatusFromCode(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatusFromCode(CodeNotFound))
	assert.Equal(t, http.StatusMethodNotAllowed, HTTPStatusFromCode(CodeMethodNotAllowed))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatusFromCode(CodeServiceUnavailable))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromCode("SOMETHING_ELSE"))
}
