package commits

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/lineagelab/eventline/internal/config"
	obstracing "github.com/lineagelab/eventline/internal/observability/tracing"
)

const authHeader = "PRIVATE-TOKEN"

type httpSource struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPSource builds the commit history client from config.
func NewHTTPSource(cfg config.Config) Source {
	return &httpSource{
		baseURL: strings.TrimRight(cfg.CommitSourceURL, "/"),
		token:   cfg.CommitSourceToken,
		httpClient: obstracing.WrapHTTPClient(&http.Client{
			Timeout: cfg.CommitSourceTimeout,
		}),
	}
}

func (s *httpSource) LatestCommit(ctx context.Context, projectID int64) (CommitID, error) {
	var commits []CommitInfo
	url := fmt.Sprintf("%s/projects/%d/commits?per_page=1", s.baseURL, projectID)
	if err := s.getJSON(ctx, url, &commits); err != nil {
		return "", err
	}
	if len(commits) == 0 {
		return "", nil
	}
	return commits[0].ID, nil
}

func (s *httpSource) AllCommits(ctx context.Context, projectID int64) ([]CommitInfo, error) {
	var all []CommitInfo
	for page := 1; ; page++ {
		var commits []CommitInfo
		url := fmt.Sprintf("%s/projects/%d/commits?per_page=100&page=%d", s.baseURL, projectID, page)
		if err := s.getJSON(ctx, url, &commits); err != nil {
			return nil, err
		}
		if len(commits) == 0 {
			return all, nil
		}
		all = append(all, commits...)
	}
}

func (s *httpSource) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build commit source request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set(authHeader, s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call commit source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Project vanished upstream; treat as an empty history.
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("commit source returned %d for %s", resp.StatusCode, url)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode commit source response: %w", err)
	}
	return nil
}
