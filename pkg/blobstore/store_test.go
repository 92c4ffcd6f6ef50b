package blobstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/bomforge/core/pkg/blobstore"
)

func TestMemoryStore_PutGetList(t *testing.T) {
	store := blobstore.NewMemoryStore()
	ctx := context.Background()

	key := blobstore.ObjectKey("bom-1", blobstore.KindVendorResponses, "line-4")
	require.NoError(t, store.Put(ctx, key, []byte(`{"mpn":"LM358N"}`), "application/json"))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.JSONEq(t, `{"mpn":"LM358N"}`, string(got))

	keys, err := store.List(ctx, blobstore.ObjectPrefix("bom-1", blobstore.KindVendorResponses))
	require.NoError(t, err)
	require.Contains(t, keys, key)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	require.Error(t, err)
}

func TestObjectKeys_MatchCanonicalLayout(t *testing.T) {
	require.Equal(t, "audit/bom-1/_objects/vendor_responses/line-4.json",
		blobstore.ObjectKey("bom-1", blobstore.KindVendorResponses, "line-4"))
	require.Equal(t, "audit/bom-1/_objects/comparison_summary/",
		blobstore.ObjectPrefix("bom-1", blobstore.KindComparisonSummary))
	require.Equal(t, "audit/bom-1/normalized_data-initial.csv",
		blobstore.FinalizedCSVKey("bom-1", blobstore.KindNormalizedData, "initial"))
	require.Equal(t, "audit/bom-1/field_diff-initial.csv", blobstore.FieldDiffKey("bom-1", "initial"))
	require.Equal(t, "audit/bom-1/bom_original-initial.csv", blobstore.OriginalBOMKey("bom-1", "initial"))
	require.Equal(t, "parsed/org-1/bom-1.json", blobstore.ParsedSnapshotKey("org-1", "bom-1"))
	require.Equal(t, "customer-uploads/org-1/up-1/bom.csv",
		blobstore.CustomerUploadKey("org-1", "up-1", "bom.csv"))
}
