package signal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOracle(t *testing.T, srv *httptest.Server) *HTTPOracle {
	t.Helper()
	o := NewHTTPOracle(srv.URL, "test-key", "test-model", "")
	t.Cleanup(srv.Close)
	return o
}

func chatReplyServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		resp := chatResponse{Choices: []struct {
			Message chatMessage `json:"message"`
		}{{Message: chatMessage{Role: "assistant", Content: content}}}}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestHTTPOracleAnalyzePlainJSON(t *testing.T) {
	srv := chatReplyServer(t, `{"signal": "BUY", "composite_score": 0.42}`)
	o := newTestOracle(t, srv)

	res, err := o.Analyze(t.Context(), "C2605")
	require.NoError(t, err)
	assert.Equal(t, "BUY", res.Signal)
	assert.InDelta(t, 0.42, res.CompositeScore, 1e-9)
}

func TestHTTPOracleAnalyzeFencedJSON(t *testing.T) {
	srv := chatReplyServer(t, "Here is my call:\n```json\n{\"signal\": \"SELL\", \"composite_score\": -0.2}\n```\nHope that helps.")
	o := newTestOracle(t, srv)

	res, err := o.Analyze(t.Context(), "C2605")
	require.NoError(t, err)
	assert.Equal(t, "SELL", res.Signal)
	assert.InDelta(t, -0.2, res.CompositeScore, 1e-9)
}

func TestHTTPOracleAnalyzeNoAPIKey(t *testing.T) {
	o := NewHTTPOracle("http://example.invalid", "", "model", "")
	_, err := o.Analyze(t.Context(), "C2605")
	require.Error(t, err)
}

func TestHTTPOracleAnalyzeUnparsableReply(t *testing.T) {
	srv := chatReplyServer(t, "no json here at all")
	o := newTestOracle(t, srv)

	_, err := o.Analyze(t.Context(), "C2605")
	require.Error(t, err)
}

func TestHTTPOracleAnalyzeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	o := NewHTTPOracle(srv.URL, "test-key", "test-model", "")
	o.httpClient.RetryMax = 0 // avoid slow retries in the test
	t.Cleanup(srv.Close)

	_, err := o.Analyze(t.Context(), "C2605")
	require.Error(t, err)
}
