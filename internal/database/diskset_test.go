package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskSet_AddDeduplicates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	set, err := NewDiskSet(ctx, db, "urls")
	require.NoError(t, err)

	added, err := set.Add(ctx, "http://target/a", []byte("http://target/a"))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = set.Add(ctx, "http://target/a", []byte("http://target/a"))
	require.NoError(t, err)
	assert.False(t, added)

	added, err = set.Add(ctx, "http://target/b", []byte("http://target/b"))
	require.NoError(t, err)
	assert.True(t, added)

	n, err := set.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDiskSet_Items(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	set, err := NewDiskSet(ctx, db, "urls")
	require.NoError(t, err)

	_, err = set.Add(ctx, "a", []byte("payload-a"))
	require.NoError(t, err)
	_, err = set.Add(ctx, "b", []byte("payload-b"))
	require.NoError(t, err)

	items, err := set.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)

	seen := map[string]bool{}
	for _, item := range items {
		seen[string(item)] = true
	}
	assert.True(t, seen["payload-a"])
	assert.True(t, seen["payload-b"])
}

func TestDiskSet_IndependentInstances(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first, err := NewDiskSet(ctx, db, "urls")
	require.NoError(t, err)
	second, err := NewDiskSet(ctx, db, "urls")
	require.NoError(t, err)

	_, err = first.Add(ctx, "a", []byte("a"))
	require.NoError(t, err)

	// Same prefix, different backing tables.
	n, err := second.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDiskSet_Drop(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	set, err := NewDiskSet(ctx, db, "urls")
	require.NoError(t, err)
	_, err = set.Add(ctx, "a", []byte("a"))
	require.NoError(t, err)

	require.NoError(t, set.Drop(ctx))

	_, err = set.Items(ctx)
	assert.Error(t, err)
}
