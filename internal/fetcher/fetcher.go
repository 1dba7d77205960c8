// Package fetcher is the narrow contract to the external scraping
// service that actually reads the registrar.  The monitor never
// parses upstream HTML itself; it posts a section reference and gets
// structured section data back.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SectionData is the scraped snapshot of one section.  Optional
// fields are pointers: nil means the scraper could not determine the
// value this time, not that the value is empty.
type SectionData struct {
	Subject          string  `json:"subject"`
	CatalogNbr       string  `json:"catalog_nbr"`
	Title            string  `json:"title"`
	Instructor       *string `json:"instructor,omitempty"`
	SeatsAvailable   *int    `json:"seats_available,omitempty"`
	SeatsCapacity    *int    `json:"seats_capacity,omitempty"`
	NonReservedSeats *int    `json:"non_reserved_seats,omitempty"`
	Location         *string `json:"location,omitempty"`
	MeetingTimes     *string `json:"meeting_times,omitempty"`
}

type fetchRequest struct {
	SectionNumber string `json:"section_number"`
	Term          string `json:"term"`
}

type fetchResponse struct {
	Success bool         `json:"success"`
	Data    *SectionData `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// ErrSectionNotFound means the upstream answered but does not know
// the section (cancelled, bad number).  Not a transient failure.
var ErrSectionNotFound = errors.New("fetcher: section not found upstream")

// Client calls the scraping service.  Its own timeout is independent
// of the circuit breaker's call timeout; whichever is shorter governs.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// New returns a Client for the scraper at baseURL with the given
// request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// FetchSection retrieves the current state of one section.
func (c *Client) FetchSection(ctx context.Context, classNbr, term string) (*SectionData, error) {
	body, err := json.Marshal(fetchRequest{SectionNumber: classNbr, Term: term})
	if err != nil {
		return nil, fmt.Errorf("fetcher: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/fetch-section", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fetcher: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetcher: %s/%s: %w", term, classNbr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little for the error message; the scraper returns
		// JSON errors but a proxy in front may not.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("fetcher: %s/%s: upstream status %d: %s", term, classNbr, resp.StatusCode, snippet)
	}

	var out fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("fetcher: %s/%s: decode response: %w", term, classNbr, err)
	}
	if !out.Success || out.Data == nil {
		if out.Error == "section not found" {
			return nil, ErrSectionNotFound
		}
		return nil, fmt.Errorf("fetcher: %s/%s: upstream error: %s", term, classNbr, out.Error)
	}
	return out.Data, nil
}
