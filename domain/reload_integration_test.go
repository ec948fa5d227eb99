//go:build integration

package domain_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protojour/pymoriam/domain"
	"github.com/protojour/pymoriam/hooks"
	"github.com/protojour/pymoriam/schema"
	"github.com/protojour/pymoriam/testutil"
)

func TestReloadMarkerSharedOverKV(t *testing.T) {
	tc := testutil.NewNATSContainer(t, "memoriam")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bucket, err := tc.Client.GetKeyValueBucket(ctx, "memoriam")
	require.NoError(t, err)
	kv := tc.Client.NewKVStore(bucket)

	newReloader := func(services *hooks.Registry) *domain.Reloader {
		store := testutil.NewMockStore().Enqueue(storedDomains(), storedDomains(), storedDomains())
		return domain.NewReloader(schema.NewRegistry(nil), store, testutil.DBSchema(t),
			domain.WithStoredDomains(true), domain.WithMarker(kv), domain.WithServices(services))
	}

	services := hooks.NewRegistry(nil)
	a := newReloader(hooks.NewRegistry(nil))
	b := newReloader(services)
	require.NoError(t, a.Reload(ctx))
	require.NoError(t, b.Reload(ctx))
	require.NoError(t, b.Watch(ctx))
	assert.False(t, b.Stale())

	require.NoError(t, a.Invalidate(ctx))
	assert.Eventually(t, b.Stale, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, b.Ensure(ctx))
	assert.False(t, b.Stale())
	entry, err := kv.Get(ctx, domain.MarkerKey)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.Value)

	data, err := json.Marshal(hooks.Service{Name: "indexer", Info: "indexes", Host: "http://indexer"})
	require.NoError(t, err)
	_, err = kv.Put(ctx, "service.indexer", data)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		_, ok := services.Service("indexer")
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, kv.Delete(ctx, "service.indexer"))
	assert.Eventually(t, func() bool {
		_, ok := services.Service("indexer")
		return !ok
	}, 5*time.Second, 20*time.Millisecond)
}
