package pgstore

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorivanov/rolesync/internal/docstore"
)

// testStore returns a Store on the test database. It skips the test if
// DATABASE_URL is not set; the schema must already be migrated.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	pool, err := NewPool(context.Background(), dsn)
	require.NoError(t, err)
	s := New(pool)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var testCounter int64 = time.Now().UnixNano()

// testServer returns a fresh collection prefix so tests never share rows.
func testServer() string {
	return fmt.Sprintf("servers/test-%d", atomic.AddInt64(&testCounter, 1))
}

func TestStore_WriteRead(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	path := testServer()
	t.Cleanup(func() { _ = s.Delete(ctx, path) })

	require.NoError(t, s.Write(ctx, path, docstore.Document{"name": "Lounge", "ownerId": "u1"}))
	require.NoError(t, s.Write(ctx, path, docstore.Document{"name": "Den"}))

	doc, err := s.Read(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "Den", doc["name"])
	assert.Equal(t, "u1", doc["ownerId"])

	require.NoError(t, s.Delete(ctx, path))
	_, err = s.Read(ctx, path)
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestStore_BatchMustExist(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	server := testServer()
	kept, gone := server+"/members/a", server+"/members/b"
	t.Cleanup(func() {
		_ = s.Delete(ctx, kept)
		_ = s.Delete(ctx, gone)
	})
	require.NoError(t, s.Write(ctx, kept, docstore.Document{"roleIds": []any{"r1"}}))

	require.NoError(t, s.BatchWrite(ctx, []docstore.Mutation{
		{Path: kept, Update: docstore.Document{"permissionBits": "1"}, MustExist: true},
		{Path: gone, Update: docstore.Document{"permissionBits": "1"}, MustExist: true},
	}))

	doc, err := s.Read(ctx, kept)
	require.NoError(t, err)
	assert.Equal(t, "1", doc["permissionBits"])
	_, err = s.Read(ctx, gone)
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestStore_ListArrayContains(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	members := testServer() + "/members"

	err := s.BatchWrite(ctx, []docstore.Mutation{
		{Path: members + "/a", Update: docstore.Document{"roleIds": []string{"mod"}}},
		{Path: members + "/b", Update: docstore.Document{"roleIds": []string{"vip"}}},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.BatchWrite(ctx, []docstore.Mutation{{Path: members + "/a", Delete: true}, {Path: members + "/b", Delete: true}})
	})

	got, err := s.List(ctx, members, docstore.ArrayContains("roleIds", "mod"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID())

	require.NoError(t, s.Write(ctx, members+"/a", docstore.Document{"roleIds": docstore.Remove("mod")}))
	got, err = s.List(ctx, members, docstore.ArrayContains("roleIds", "mod"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_Subscribe(t *testing.T) {
	s := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	roles := testServer() + "/roles"

	ch, err := s.Subscribe(ctx, roles)
	require.NoError(t, err)

	// the listener connects asynchronously; keep writing until it sees one
	require.Eventually(t, func() bool {
		_ = s.Write(ctx, roles+"/r1", docstore.Document{"name": "Mods"})
		select {
		case ev := <-ch:
			return ev.Path == roles+"/r1" && ev.Type == docstore.ChangeUpsert
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Delete(ctx, roles+"/r1"))
	require.Eventually(t, func() bool {
		select {
		case ev := <-ch:
			return ev.Type == docstore.ChangeDelete
		default:
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)
}

func TestContainment(t *testing.T) {
	assert.Nil(t, containment(nil))
	got := containment([]docstore.Filter{
		docstore.ArrayContains("roleIds", "a"),
		docstore.ArrayContains("roleIds", "b"),
		{Field: "ignored"},
	})
	assert.Equal(t, map[string]any{"roleIds": []any{"a", "b"}}, got)
}
