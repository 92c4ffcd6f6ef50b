// Package mouser implements the Mouser Electronics search-API adapter,
// a plain HTTP client (request
// struct -> POST -> decode response struct).
package mouser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/bomforge/core/pkg/bomerr"
	"github.com/Mindburn-Labs/bomforge/core/pkg/model"
	"github.com/Mindburn-Labs/bomforge/core/pkg/supplier"
)

const baseURL = "https://api.mouser.com/api/v1/search/partnumber"

// Client is the supplier.Adapter for Mouser.
type Client struct {
	apiKey string
	http   *http.Client
}

func New(apiKey string) *Client {
	return &Client{apiKey: apiKey, http: &http.Client{Timeout: 15 * time.Second}}
}

func (c *Client) Name() string { return "mouser" }

type searchRequest struct {
	SearchByPartRequest struct {
		MouserPartNumber string `json:"mouserPartNumber"`
	} `json:"SearchByPartRequest"`
}

type searchResponse struct {
	SearchResults struct {
		Parts []struct {
			Manufacturer      string `json:"Manufacturer"`
			ManufacturerPartNumber string `json:"ManufacturerPartNumber"`
			Description       string `json:"Description"`
			DataSheetURL       string `json:"DataSheetUrl"`
			ImagePath          string `json:"ImagePath"`
			LifecycleStatus    string `json:"LifecycleStatus"`
			ROHSStatus         string `json:"ROHSStatus"`
		} `json:"Parts"`
	} `json:"SearchResults"`
}

func (c *Client) Lookup(ctx context.Context, mpn, manufacturer string) (*supplier.LookupResult, error) {
	var req searchRequest
	req.SearchByPartRequest.MouserPartNumber = mpn

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("mouser: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s?apiKey=%s", baseURL, c.apiKey), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mouser: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, bomerr.Wrap(bomerr.Transient, fmt.Errorf("mouser: request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, bomerr.New(bomerr.RateLimited, "mouser: rate limited")
	}
	if resp.StatusCode >= 500 {
		return nil, bomerr.New(bomerr.Transient, fmt.Sprintf("mouser: server error %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, bomerr.New(bomerr.PermanentDownstream, fmt.Sprintf("mouser: unexpected status %d", resp.StatusCode))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("mouser: decode response: %w", err)
	}
	if len(out.SearchResults.Parts) == 0 {
		return nil, bomerr.New(bomerr.NotFound, fmt.Sprintf("mouser: no results for %s", mpn))
	}

	part := out.SearchResults.Parts[0]
	compliant := part.ROHSStatus == "Compliant"
	return &supplier.LookupResult{
		Component: model.CatalogComponent{
			MPN:             part.ManufacturerPartNumber,
			Manufacturer:    part.Manufacturer,
			Category:        part.Description,
			LifecycleStatus: lifecycleFrom(part.LifecycleStatus),
			DatasheetURL:    part.DataSheetURL,
			ImageURL:        part.ImagePath,
			RohsCompliant:   &compliant,
		},
		MatchConfidence: 0.9,
		RetrievedAt:     time.Now(),
	}, nil
}

func lifecycleFrom(status string) model.LifecycleStatus {
	switch status {
	case "New Product", "Active":
		return model.LifecycleActive
	case "Not Recommended for New Designs":
		return model.LifecycleNRND
	case "Obsolete", "Discontinued":
		return model.LifecycleObsolete
	default:
		return model.LifecycleUnknown
	}
}
