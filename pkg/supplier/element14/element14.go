// Package element14 implements the Farnell/element14 Product Search API
// adapter, typically run as the lowest-tier fallback for parts the primary
// suppliers don't carry.
package element14

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

const baseURL = "https://api.element14.com/catalog/products"

type Client struct {
	apiKey    string
	storeCode string
	http      *http.Client
}

func New(apiKey, storeCode string) *Client {
	return &Client{apiKey: apiKey, storeCode: storeCode, http: &http.Client{Timeout: 15 * time.Second}}
}

func (c *Client) Name() string { return "element14" }

type catalogResponse struct {
	ManufacturerPartNumberSearchReturn struct {
		Products []struct {
			TranslatedManufacturerPartNumber string `json:"translatedManufacturerPartNumber"`
			BrandName                        string `json:"brandName"`
			DisplayName                      string `json:"displayName"`
			DatasheetURL                     string `json:"datasheets"`
			Image                            struct {
				BaseName string `json:"baseName"`
			} `json:"image"`
			Status string `json:"status"`
		} `json:"products"`
	} `json:"manufacturerPartNumberSearchReturn"`
}

func (c *Client) Lookup(ctx context.Context, mpn, manufacturer string) (*supplier.LookupResult, error) {
	q := url.Values{}
	q.Set("term", "manuPartNum:"+mpn)
	q.Set("storeInfo.id", c.storeCode)
	q.Set("callInfo.responseDataFormat", "JSON")
	q.Set("callInfo.apiKey", c.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("element14: build request: %w", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, bomerr.Wrap(bomerr.Transient, fmt.Errorf("element14: request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, bomerr.New(bomerr.RateLimited, "element14: rate limited")
	case resp.StatusCode >= 500:
		return nil, bomerr.New(bomerr.Transient, fmt.Sprintf("element14: server error %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, bomerr.New(bomerr.PermanentDownstream, fmt.Sprintf("element14: unexpected status %d", resp.StatusCode))
	}

	var out catalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("element14: decode response: %w", err)
	}
	products := out.ManufacturerPartNumberSearchReturn.Products
	if len(products) == 0 {
		return nil, bomerr.New(bomerr.NotFound, fmt.Sprintf("element14: no results for %s", mpn))
	}

	p := products[0]
	return &supplier.LookupResult{
		Component: model.CatalogComponent{
			MPN:             p.TranslatedManufacturerPartNumber,
			Manufacturer:    p.BrandName,
			Category:        p.DisplayName,
			LifecycleStatus: lifecycleFrom(p.Status),
			DatasheetURL:    p.DatasheetURL,
			ImageURL:        p.Image.BaseName,
		},
		MatchConfidence: 0.7,
		RetrievedAt:     time.Now(),
	}, nil
}

func lifecycleFrom(status string) model.LifecycleStatus {
	switch status {
	case "Active":
		return model.LifecycleActive
	case "End of Life", "Obsolete":
		return model.LifecycleObsolete
	default:
		return model.LifecycleUnknown
	}
}
