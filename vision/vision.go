// Package vision contains a minimal client for the board-detection sidecar,
// which watches the broadcast feed and exposes its latest board reading over
// HTTP. Detections are raw and frequently wrong; validation happens in the
// position package, not here.
package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/chess-companion/position"
)

// Client polls the sidecar's /board endpoint.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a client with a bounded request timeout; the poll loop
// must never be stuck behind a hung sidecar.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// boardResponse is the sidecar's wire shape. Rows are rank 8 first, one
// character per square, "." for empty, which is easier for the CV side to
// emit than a run-length FEN field. Placement is accepted as an alternative.
type boardResponse struct {
	Placement string   `json:"placement,omitempty"`
	Rows      []string `json:"rows,omitempty"`
}

// Detect fetches the latest board reading. A 204 means no board is visible
// right now (ad break, camera cut) and returns (nil, nil).
func (c *Client) Detect(ctx context.Context) (*position.RawDetection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/board", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("vision request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vision status %d", resp.StatusCode)
	}
	var body boardResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("vision decode: %w", err)
	}
	return toDetection(body)
}

func toDetection(body boardResponse) (*position.RawDetection, error) {
	if body.Placement != "" {
		return &position.RawDetection{Placement: body.Placement}, nil
	}
	if len(body.Rows) != 8 {
		return nil, fmt.Errorf("vision payload: %d rows", len(body.Rows))
	}
	var det position.RawDetection
	for r, row := range body.Rows {
		if len(row) != 8 {
			return nil, fmt.Errorf("vision payload: row %d has %d squares", r, len(row))
		}
		for f := 0; f < 8; f++ {
			det.Grid[r][f] = row[f]
		}
	}
	return &det, nil
}
