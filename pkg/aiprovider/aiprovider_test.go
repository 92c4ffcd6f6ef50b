package aiprovider_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/bomforge/core/pkg/aiprovider"
	"github.com/Mindburn-Labs/bomforge/core/pkg/model"
)

type fakeProvider struct {
	name string
	fn   func(ctx context.Context, mpn, manufacturer, description string) (*aiprovider.Result, error)
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Search(ctx context.Context, mpn, manufacturer, description string) (*aiprovider.Result, error) {
	return f.fn(ctx, mpn, manufacturer, description)
}
func (f *fakeProvider) HealthCheck(ctx context.Context) error { return nil }

func TestRegistry_Search_TriesInPriorityOrder(t *testing.T) {
	reg := aiprovider.NewRegistry()
	var calls []string

	low := &fakeProvider{name: "low", fn: func(ctx context.Context, mpn, manufacturer, description string) (*aiprovider.Result, error) {
		calls = append(calls, "low")
		return &aiprovider.Result{Component: model.CatalogComponent{MPN: mpn}, MatchConfidence: 0.9, RetrievedAt: time.Now()}, nil
	}}
	high := &fakeProvider{name: "high", fn: func(ctx context.Context, mpn, manufacturer, description string) (*aiprovider.Result, error) {
		calls = append(calls, "high")
		return nil, errors.New("unavailable")
	}}

	reg.Register(low, 10)
	reg.Register(high, 0)

	result, err := reg.Search(context.Background(), "LM358N", "TI", "dual op-amp")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, []string{"high", "low"}, calls)
}

func TestRegistry_MarkUnavailable_SkipsProvider(t *testing.T) {
	reg := aiprovider.NewRegistry()
	called := false
	p := &fakeProvider{name: "p", fn: func(ctx context.Context, mpn, manufacturer, description string) (*aiprovider.Result, error) {
		called = true
		return &aiprovider.Result{MatchConfidence: 1}, nil
	}}
	reg.Register(p, 0)
	reg.MarkUnavailable("p")

	result, err := reg.Search(context.Background(), "X", "Y", "")
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.False(t, called)
}

func TestRegistry_Search_NoMatchReturnsNilNotError(t *testing.T) {
	reg := aiprovider.NewRegistry()
	p := &fakeProvider{name: "p", fn: func(ctx context.Context, mpn, manufacturer, description string) (*aiprovider.Result, error) {
		return nil, nil
	}}
	reg.Register(p, 0)

	result, err := reg.Search(context.Background(), "X", "Y", "")
	require.NoError(t, err)
	assert.Nil(t, result)
}
