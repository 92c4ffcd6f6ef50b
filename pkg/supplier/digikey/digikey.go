// Package digikey implements the DigiKey Product Information v4 adapter.
package digikey

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Mindburn-Labs/bomforge/core/pkg/bomerr"
	"github.com/Mindburn-Labs/bomforge/core/pkg/model"
	"github.com/Mindburn-Labs/bomforge/core/pkg/supplier"
)

const baseURL = "https://api.digikey.com/products/v4/search/keyword"

// Client is the supplier.Adapter for DigiKey. Per the routing policy
// resolution, DigiKey-sourced results are routed on quality_score like any
// other source, not given preferential low-confidence treatment.
type Client struct {
	clientID    string
	bearerToken string
	http        *http.Client
}

func New(clientID, bearerToken string) *Client {
	return &Client{clientID: clientID, bearerToken: bearerToken, http: &http.Client{Timeout: 15 * time.Second}}
}

func (c *Client) Name() string { return "digikey" }

type productResponse struct {
	Products []struct {
		ManufacturerProductNumber string `json:"ManufacturerProductNumber"`
		Manufacturer              struct {
			Name string `json:"Name"`
		} `json:"Manufacturer"`
		ProductDescription struct {
			ProductDescription string `json:"ProductDescription"`
		} `json:"ProductDescription"`
		DatasheetURL    string `json:"DatasheetUrl"`
		PhotoURL        string `json:"PhotoUrl"`
		ProductStatus   struct {
			Status string `json:"Status"`
		} `json:"ProductStatus"`
	} `json:"Products"`
}

func (c *Client) Lookup(ctx context.Context, mpn, manufacturer string) (*supplier.LookupResult, error) {
	q := url.Values{}
	q.Set("Keywords", mpn)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("digikey: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.bearerToken)
	httpReq.Header.Set("X-DIGIKEY-Client-Id", c.clientID)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, bomerr.Wrap(bomerr.Transient, fmt.Errorf("digikey: request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, bomerr.New(bomerr.RateLimited, "digikey: rate limited")
	case resp.StatusCode >= 500:
		return nil, bomerr.New(bomerr.Transient, fmt.Sprintf("digikey: server error %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, bomerr.New(bomerr.PermanentDownstream, fmt.Sprintf("digikey: unexpected status %d", resp.StatusCode))
	}

	var out productResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("digikey: decode response: %w", err)
	}
	if len(out.Products) == 0 {
		return nil, bomerr.New(bomerr.NotFound, fmt.Sprintf("digikey: no results for %s", mpn))
	}

	p := out.Products[0]
	return &supplier.LookupResult{
		Component: model.CatalogComponent{
			MPN:             p.ManufacturerProductNumber,
			Manufacturer:    p.Manufacturer.Name,
			Category:        p.ProductDescription.ProductDescription,
			LifecycleStatus: lifecycleFrom(p.ProductStatus.Status),
			DatasheetURL:    p.DatasheetURL,
			ImageURL:        p.PhotoURL,
		},
		MatchConfidence: 0.85,
		RetrievedAt:     time.Now(),
	}, nil
}

func lifecycleFrom(status string) model.LifecycleStatus {
	switch status {
	case "Active":
		return model.LifecycleActive
	case "Not For New Designs", "NRND":
		return model.LifecycleNRND
	case "Obsolete", "Discontinued":
		return model.LifecycleObsolete
	default:
		return model.LifecycleUnknown
	}
}
