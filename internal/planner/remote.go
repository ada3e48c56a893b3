package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hanpama/fedgate/internal/gateway"
	"github.com/hanpama/fedgate/internal/plan"
	"github.com/hanpama/fedgate/internal/reqid"
	schema "github.com/hanpama/fedgate/internal/schema"
)

// Remote asks a planning service for plans. The service receives
// {"query", "operationName"} and answers 200 with a plan, or 4xx with
// {"errors": [{"message": ...}]} when the operation cannot be planned.
type Remote struct {
	url    string
	client *http.Client
}

func NewRemote(url string, client *http.Client) *Remote {
	if client == nil {
		client = http.DefaultClient
	}
	return &Remote{url: url, client: client}
}

type remoteRequest struct {
	Query         string `json:"query"`
	OperationName string `json:"operationName,omitempty"`
}

type remoteErrors struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (r *Remote) Plan(ctx context.Context, query, opName string, _ *schema.Schema) (*plan.QueryPlan, error) {
	body, err := json.Marshal(remoteRequest{Query: query, OperationName: opName})
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id, ok := reqid.FromContext(ctx); ok {
		req.Header.Set(reqid.Header, id)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("planner: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		p, err := plan.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("planner: %w", err)
		}
		return p, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var errs remoteErrors
		if json.Unmarshal(raw, &errs) == nil && len(errs.Errors) > 0 {
			msgs := make([]string, len(errs.Errors))
			for i, e := range errs.Errors {
				msgs[i] = e.Message
			}
			return nil, &gateway.PlanningError{Err: errors.New(strings.Join(msgs, "; "))}
		}
	}
	return nil, fmt.Errorf("planner: unexpected status %d", resp.StatusCode)
}
