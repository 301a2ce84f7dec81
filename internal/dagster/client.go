package dagster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"dagster-alert/internal/config"
	"dagster-alert/internal/logging"
)

// Run statuses as reported by Dagster. Other statuses (STARTED, QUEUED,
// CANCELED, ...) pass through unmatched by any rule type.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// AssetJobName is the reserved pipeline name Dagster uses for runs that
// materialize assets.
const AssetJobName = "__ASSET_JOB"

// Run is one execution record from the run-query service.
type Run struct {
	ID           string
	PipelineName string
	Status       string
	// StartTime is nil when the run never reported one. Such runs are
	// treated as "not recent" during evaluation.
	StartTime *time.Time
}

// Client fetches recent runs over Dagster's GraphQL API.
type Client struct {
	url        string
	token      string
	headers    map[string]string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(cfg config.DagsterConfig) *Client {
	return &Client{
		url:     cfg.URL,
		token:   cfg.Token,
		headers: cfg.Headers,
		httpClient: &http.Client{
			Timeout: cfg.GetRequestTimeout(),
		},
		log: logging.WithComponent("dagster"),
	}
}

const recentRunsQuery = `query RecentRuns($limit: Int) {
  runsOrError(limit: $limit) {
    __typename
    ... on Runs {
      results {
        id
        pipelineName
        status
        startTime
      }
    }
    ... on PythonError {
      message
    }
  }
}`

// FetchRecentRuns returns up to limit recent runs, newest first (the
// service's own ordering). An empty deployment yields an empty slice,
// not an error.
func (c *Client) FetchRecentRuns(ctx context.Context, limit int) ([]Run, error) {
	reqBody, err := json.Marshal(map[string]any{
		"query":     recentRunsQuery,
		"variables": map[string]any{"limit": limit},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Dagster-Cloud-Api-Token", c.token)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("query runs: status=%d", resp.StatusCode)
	}

	var parsed struct {
		Data struct {
			RunsOrError struct {
				Typename string `json:"__typename"`
				Message  string `json:"message"`
				Results  []struct {
					ID           string   `json:"id"`
					PipelineName string   `json:"pipelineName"`
					Status       string   `json:"status"`
					StartTime    *float64 `json:"startTime"`
				} `json:"results"`
			} `json:"runsOrError"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode runs response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", parsed.Errors[0].Message)
	}
	if t := parsed.Data.RunsOrError.Typename; t != "" && t != "Runs" {
		return nil, fmt.Errorf("runsOrError returned %s: %s", t, parsed.Data.RunsOrError.Message)
	}

	runs := make([]Run, 0, len(parsed.Data.RunsOrError.Results))
	for _, r := range parsed.Data.RunsOrError.Results {
		run := Run{
			ID:           r.ID,
			PipelineName: r.PipelineName,
			Status:       r.Status,
		}
		if r.StartTime != nil {
			// Dagster reports startTime as Unix seconds with a
			// fractional part.
			sec, frac := math.Modf(*r.StartTime)
			t := time.Unix(int64(sec), int64(frac*float64(time.Second)))
			run.StartTime = &t
		}
		runs = append(runs, run)
	}
	c.log.Debug().Int("count", len(runs)).Msg("fetched recent runs")
	return runs, nil
}
