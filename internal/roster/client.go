package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// Record is the normalized form of one external roster entry.
type Record struct {
	ExternalID     string
	Name           string
	Specialization string
	Institute      string
	StartDate      civil.Date
	EndDate        civil.Date
	Email          string
	HomeAddress    string
}

// trainee is the wire shape served by the organization's roster feed.
type trainee struct {
	TraineeID   string `json:"TraineeID"`
	FullName    string `json:"FullName"`
	Domain      string `json:"Domain"`
	College     string `json:"College"`
	DateOfJoin  string `json:"DateOfJoining"`
	DateOfLeave string `json:"DateOfCompletion"`
	Email       string `json:"EmailID"`
	Address     string `json:"PermanentAddress"`
	Status      string `json:"Status"`
}

// Client fetches the active trainee roster over HTTP.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewClient creates a client with the given request timeout.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Fetch downloads the roster and maps it onto Records. Inactive trainees are dropped.
func (c *Client) Fetch(ctx context.Context) ([]Record, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("roster url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roster request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("roster feed error %s: %s", resp.Status, string(body))
	}

	var out struct {
		Trainees []trainee `json:"trainees"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode roster: %w", err)
	}

	records := make([]Record, 0, len(out.Trainees))
	for _, t := range out.Trainees {
		if status := strings.TrimSpace(t.Status); status != "" && !strings.EqualFold(status, "active") {
			continue
		}
		records = append(records, normalize(t))
	}
	return records, nil
}

// normalize maps the feed's field names onto Record. Unparseable dates are left zero.
func normalize(t trainee) Record {
	return Record{
		ExternalID:     strings.TrimSpace(t.TraineeID),
		Name:           strings.TrimSpace(t.FullName),
		Specialization: strings.TrimSpace(t.Domain),
		Institute:      strings.TrimSpace(t.College),
		StartDate:      parseDate(t.DateOfJoin),
		EndDate:        parseDate(t.DateOfLeave),
		Email:          strings.ToLower(strings.TrimSpace(t.Email)),
		HomeAddress:    strings.TrimSpace(t.Address),
	}
}

func parseDate(s string) civil.Date {
	s = strings.TrimSpace(s)
	if s == "" {
		return civil.Date{}
	}
	if d, err := civil.ParseDate(s); err == nil {
		return d
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "02-01-2006", "02/01/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t)
		}
	}
	return civil.Date{}
}
