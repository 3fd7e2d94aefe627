// Package catalog is the boundary to the seat-map service.  Geometry
// and pricing are owned over there; this client only needs the seat set
// and the price to snapshot onto a claim.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Seat is one selling unit of a seat map as the catalog describes it.
type Seat struct {
	SeatIndex  string `json:"seat_index"`
	PriceCents uint32 `json:"price_cents"`
}

// SeatMap is the catalog response for one event code.
type SeatMap struct {
	EventCode string `json:"event_code"`
	Seats     []Seat `json:"seats"`
}

// Client fetches seat maps.  The ledger registry consumes it through
// its Prices method.
type Client interface {
	GetSeatMap(ctx context.Context, eventCode string) (*SeatMap, error)
}

// HTTPClient talks to the catalog service over REST.
type HTTPClient struct {
	base string
	hc   *http.Client
}

// NewHTTPClient builds a client for the given base URL, e.g.
// "http://catalog:8081".
func NewHTTPClient(base string) *HTTPClient {
	return &HTTPClient{
		base: base,
		hc:   &http.Client{Timeout: 5 * time.Second},
	}
}

// GetSeatMap calls GET {base}/v1/events/{code}/seat-map.
func (c *HTTPClient) GetSeatMap(ctx context.Context, eventCode string) (*SeatMap, error) {
	u := fmt.Sprintf("%s/v1/events/%s/seat-map", c.base, url.PathEscape(eventCode))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("seat map %q not found", eventCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog: unexpected status %d", resp.StatusCode)
	}
	var sm SeatMap
	if err := json.NewDecoder(resp.Body).Decode(&sm); err != nil {
		return nil, fmt.Errorf("catalog: decode seat map: %w", err)
	}
	return &sm, nil
}

// Prices adapts a Client into the price-map form the ledger registry
// wants.
func Prices(c Client) func(ctx context.Context, eventCode string) (map[string]uint32, error) {
	return func(ctx context.Context, eventCode string) (map[string]uint32, error) {
		sm, err := c.GetSeatMap(ctx, eventCode)
		if err != nil {
			return nil, err
		}
		prices := make(map[string]uint32, len(sm.Seats))
		for _, s := range sm.Seats {
			prices[s.SeatIndex] = s.PriceCents
		}
		return prices, nil
	}
}
