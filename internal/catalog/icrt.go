package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tbafbrt/Billedhenter/internal/apperr"
)

const mediaQuery = `
query GetProjectMedia($icrtcode: String!) {
    project(icrtcode: $icrtcode) {
        name
        media {
            filename
            image
        }
    }
}`

// ICRT is a Client backed by the ICRT HTTP API: token auth via POST /auth,
// media listing via POST /graphql.
type ICRT struct {
	baseURL   string
	clientID  string
	clientKey string
	http      *http.Client

	mu    sync.Mutex
	token string
}

// NewICRT creates an ICRT client. Authentication is lazy: the first
// ProjectMedia call obtains a JWT, and an expired token is refreshed once.
func NewICRT(baseURL, clientID, clientKey string, timeout time.Duration) *ICRT {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ICRT{
		baseURL:   strings.TrimRight(baseURL, "/"),
		clientID:  clientID,
		clientKey: clientKey,
		http:      &http.Client{Timeout: timeout},
	}
}

// Authenticate obtains a JWT from the auth endpoint. The ICRT API returns
// the token directly as the response body, or a body containing "Failed"
// when the credentials are rejected.
func (c *ICRT) Authenticate(ctx context.Context) error {
	payload, _ := json.Marshal(map[string]string{
		"client_id":  c.clientID,
		"client_key": c.clientKey,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("catalog: build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("catalog: auth: %v: %w", err, apperr.ErrCatalogUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("catalog: read auth response: %v: %w", err, apperr.ErrCatalogUnavailable)
	}
	text := strings.TrimSpace(string(body))
	if resp.StatusCode != http.StatusOK || strings.Contains(text, "Failed") {
		return fmt.Errorf("catalog: authentication rejected, check client id and key: %w",
			apperr.ErrCatalogUnavailable)
	}

	c.mu.Lock()
	c.token = text
	c.mu.Unlock()
	return nil
}

type graphqlRequest struct {
	Query     string            `json:"query"`
	Variables map[string]string `json:"variables"`
}

type mediaResponse struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
	Data struct {
		Project *struct {
			Name  string `json:"name"`
			Media []struct {
				Filename string `json:"filename"`
				Image    string `json:"image"`
			} `json:"media"`
		} `json:"project"`
	} `json:"data"`
}

// ProjectMedia returns every media entry for the project scope. Entries
// without a filename or URL are dropped, matching upstream behavior.
func (c *ICRT) ProjectMedia(ctx context.Context, projectCode string) ([]Entry, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if token == "" {
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
	}

	entries, err := c.queryMedia(ctx, projectCode)
	if err == nil {
		return entries, nil
	}
	// One retry after re-authentication covers expired tokens.
	if strings.Contains(err.Error(), "expired") || strings.Contains(err.Error(), "401") {
		if authErr := c.Authenticate(ctx); authErr != nil {
			return nil, authErr
		}
		return c.queryMedia(ctx, projectCode)
	}
	return nil, err
}

func (c *ICRT) queryMedia(ctx context.Context, projectCode string) ([]Entry, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	payload, _ := json.Marshal(graphqlRequest{
		Query:     mediaQuery,
		Variables: map[string]string{"icrtcode": projectCode},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/graphql", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("catalog: build media request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: query media: %v: %w", err, apperr.ErrCatalogUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("catalog: token expired (401): %w", apperr.ErrCatalogUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog: media query failed with status %d: %w",
			resp.StatusCode, apperr.ErrCatalogUnavailable)
	}

	var out mediaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("catalog: decode media response: %v: %w", err, apperr.ErrCatalogUnavailable)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("catalog: graphql error: %s: %w", out.Errors[0].Message, apperr.ErrCatalogUnavailable)
	}
	if out.Data.Project == nil {
		return nil, fmt.Errorf("catalog: no project found for code %q: %w", projectCode, apperr.ErrNotFound)
	}

	entries := make([]Entry, 0, len(out.Data.Project.Media))
	for _, m := range out.Data.Project.Media {
		if m.Filename == "" || m.Image == "" {
			continue
		}
		entries = append(entries, Entry{Filename: m.Filename, URL: m.Image})
	}
	return entries, nil
}
