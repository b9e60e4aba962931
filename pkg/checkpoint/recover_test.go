package checkpoint

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoSQLSync/pkg/logging"
	"github.com/supporttools/GoSQLSync/pkg/source"
	"github.com/supporttools/GoSQLSync/pkg/storage"
	"github.com/supporttools/GoSQLSync/pkg/storage/storagetest"
)

func TestParseArtifactKey(t *testing.T) {
	tests := []struct {
		key       string
		wantOK    bool
		wantRef   source.TableRef
		wantLower uint64
		wantUpper uint64
	}{
		{key: "BA_Billing.Invoices.0-2500", wantOK: true, wantRef: invoices, wantUpper: 2500},
		{key: "BA_Billing.Invoices.2500-4000", wantOK: true, wantRef: invoices, wantLower: 2500, wantUpper: 4000},
		{key: "BA_Billing.Rates.full", wantOK: false},
		{key: "BucketUtilization-2020-07-27", wantOK: false},
		{key: "BA_Billing.Invoices.10-5", wantOK: false},
		{key: "reports/BA_Billing.Invoices.0-1", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			ref, lower, upper, ok := ParseArtifactKey(tt.key)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantRef, ref)
				assert.Equal(t, tt.wantLower, lower)
				assert.Equal(t, tt.wantUpper, upper)
			}
		})
	}
}

func seedBucket(t *testing.T, keys ...string) *storagetest.Store {
	ctx := context.Background()
	store := storagetest.New("billing-uploads")
	require.NoError(t, store.CreateBucket(ctx))
	for _, key := range keys {
		require.NoError(t, store.Put(ctx, key, strings.NewReader("x"), 1, storage.PutOptions{}))
	}
	return store
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	store := seedBucket(t,
		"BA_Billing.Invoices.0-2500",
		"BA_Billing.Invoices.2500-4000",
		"BA_Billing.Rates.full",
		"BA_Billing.Payments.0-10",
		"BA_Usage.Events.0-99",
	)
	cursors := NewFileCursorStore(t.TempDir(), logging.Discard())
	payments := source.TableRef{Database: "BA_Billing", Table: "Payments"}
	require.NoError(t, cursors.Write(ctx, payments, 50))

	recovered, err := Recover(ctx, store, cursors, RecoverOptions{Database: "BA_Billing"}, logging.Discard())
	require.NoError(t, err)
	require.Len(t, recovered, 2)

	assert.Equal(t, invoices, recovered[0].Ref)
	assert.Equal(t, uint64(4000), recovered[0].Position)
	assert.Equal(t, 2, recovered[0].Objects)
	assert.True(t, recovered[0].Written)

	assert.Equal(t, payments, recovered[1].Ref)
	assert.False(t, recovered[1].Written, "a higher stored cursor is kept")

	cursor, ok, err := cursors.Read(ctx, invoices)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(4000), cursor)

	cursor, _, err = cursors.Read(ctx, payments)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), cursor)
}

func TestRecoverDryRunAndForce(t *testing.T) {
	ctx := context.Background()
	store := seedBucket(t, "BA_Billing.Invoices.0-2500")
	cursors := NewFileCursorStore(t.TempDir(), logging.Discard())
	require.NoError(t, cursors.Write(ctx, invoices, 9000))

	recovered, err := Recover(ctx, store, cursors, RecoverOptions{Force: true, DryRun: true}, logging.Discard())
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.False(t, recovered[0].Written)
	cursor, _, _ := cursors.Read(ctx, invoices)
	assert.Equal(t, uint64(9000), cursor)

	recovered, err = Recover(ctx, store, cursors, RecoverOptions{Force: true}, logging.Discard())
	require.NoError(t, err)
	assert.True(t, recovered[0].Written)
	assert.Equal(t, uint64(9000), recovered[0].Previous)
	cursor, _, _ = cursors.Read(ctx, invoices)
	assert.Equal(t, uint64(2500), cursor)
}
