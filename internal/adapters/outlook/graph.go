package outlook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/metrics"
	"github.com/mikey/mail-triage/internal/provider"
)

// DefaultEndpoint is the Microsoft Graph v1.0 root
const DefaultEndpoint = "https://graph.microsoft.com/v1.0"

// maxBatchRequests is the number of sub-requests Graph accepts in one $batch call
const maxBatchRequests = 20

type graphClient struct {
	baseURL    string
	httpClient *http.Client
	retrier    *provider.Retrier
}

type batchRequest struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}

type batchResponse struct {
	ID     string          `json:"id"`
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// get performs a GET against a path below the base URL or an absolute nextLink
func (g *graphClient) get(ctx context.Context, op, pathOrURL string, result any) error {
	return g.do(ctx, op, http.MethodGet, pathOrURL, nil, result)
}

func (g *graphClient) do(ctx context.Context, op, method, pathOrURL string, body, result any) error {
	url := pathOrURL
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = g.baseURL + pathOrURL
	}

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	start := time.Now()
	err := g.retrier.Do(ctx, op, func() error {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Prefer", `IdType="ImmutableId"`)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing request %s %s: %w", method, op, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response body: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &core.ProviderError{
				Provider:   core.ProviderOutlook,
				Op:         op,
				StatusCode: resp.StatusCode,
				Body:       truncate(string(respBody), 200),
			}
		}

		if result != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, result); err != nil {
				return fmt.Errorf("decoding %s response: %w", op, err)
			}
		}
		return nil
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordProviderCall(string(core.ProviderOutlook), op, status, time.Since(start))
	return err
}

// batch sends requests through $batch in chunks and returns every sub-response by id.
// Each chunk is one HTTP call.
func (g *graphClient) batch(ctx context.Context, op string, requests []batchRequest) (map[string]batchResponse, error) {
	out := make(map[string]batchResponse, len(requests))
	for start := 0; start < len(requests); start += maxBatchRequests {
		end := start + maxBatchRequests
		if end > len(requests) {
			end = len(requests)
		}

		var resp struct {
			Responses []batchResponse `json:"responses"`
		}
		body := map[string]any{"requests": requests[start:end]}
		if err := g.do(ctx, op, http.MethodPost, "/$batch", body, &resp); err != nil {
			return out, err
		}
		for _, r := range resp.Responses {
			out[r.ID] = r
		}
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
