package registry_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluidmcp/gateway/internal/errs"
	"github.com/fluidmcp/gateway/internal/mcp"
	"github.com/fluidmcp/gateway/internal/registry"
)

func sampleConfig(id string) registry.ServerConfig {
	return registry.ServerConfig{ID: id, Name: "Server " + id, Command: "npx", Enabled: true}
}

func TestMemStoreCreateGetList(t *testing.T) {
	s := registry.NewMemStore()
	created, err := s.Create(sampleConfig("srv-1"))
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := s.Get("srv-1")
	require.NoError(t, err)
	assert.Equal(t, "Server srv-1", got.Name)

	rows, err := s.List(registry.ListOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestMemStoreCreateRejectsInvalidConfig(t *testing.T) {
	s := registry.NewMemStore()
	_, err := s.Create(registry.ServerConfig{ID: "bad id", Name: "x", Command: "npx"})
	assert.Equal(t, errs.BadInput, errs.KindOf(err))
}

func TestMemStoreCreateRejectsDuplicateID(t *testing.T) {
	s := registry.NewMemStore()
	_, err := s.Create(sampleConfig("srv-1"))
	require.NoError(t, err)
	_, err = s.Create(sampleConfig("srv-1"))
	assert.Equal(t, errs.Conflict, errs.KindOf(err))
}

func TestMemStoreSoftDeleteThenCreateSameIDSucceeds(t *testing.T) {
	s := registry.NewMemStore()
	_, err := s.Create(sampleConfig("srv-1"))
	require.NoError(t, err)
	require.NoError(t, s.Delete("srv-1"))

	_, err = s.Create(sampleConfig("srv-1"))
	assert.NoError(t, err, "a soft-deleted id must be reusable")
}

func TestMemStoreListExcludesDeletedByDefault(t *testing.T) {
	s := registry.NewMemStore()
	_, _ = s.Create(sampleConfig("srv-1"))
	_, _ = s.Create(sampleConfig("srv-2"))
	require.NoError(t, s.Delete("srv-1"))

	rows, err := s.List(registry.ListOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "srv-2", rows[0].ID)

	rows, err = s.List(registry.ListOptions{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestMemStoreListEnabledOnlyAndSortedByID(t *testing.T) {
	s := registry.NewMemStore()
	cfgB := sampleConfig("srv-b")
	cfgB.Enabled = false
	_, _ = s.Create(cfgB)
	_, _ = s.Create(sampleConfig("srv-a"))

	rows, err := s.List(registry.ListOptions{EnabledOnly: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "srv-a", rows[0].ID)

	all, err := s.List(registry.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "srv-a", all[0].ID)
	assert.Equal(t, "srv-b", all[1].ID)
}

func TestMemStoreUpdateAppliesPatchAndValidates(t *testing.T) {
	s := registry.NewMemStore()
	_, _ = s.Create(sampleConfig("srv-1"))

	newName := "renamed"
	updated, err := s.Update("srv-1", registry.Patch{Name: &newName})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)

	badCmd := "bash"
	_, err = s.Update("srv-1", registry.Patch{Command: &badCmd})
	assert.Equal(t, errs.CommandDenied, errs.KindOf(err))
}

func TestMemStoreUpdateUnknownServer(t *testing.T) {
	s := registry.NewMemStore()
	_, err := s.Update("does-not-exist", registry.Patch{})
	assert.Equal(t, errs.UnknownServer, errs.KindOf(err))
}

func TestMemStoreSetEnabledAndSetTools(t *testing.T) {
	s := registry.NewMemStore()
	_, _ = s.Create(sampleConfig("srv-1"))

	updated, err := s.SetEnabled("srv-1", false)
	require.NoError(t, err)
	assert.False(t, updated.Enabled)

	err = s.SetTools("srv-1", []mcp.ToolDescriptor{{Name: "echo"}})
	require.NoError(t, err)
	got, _ := s.Get("srv-1")
	assert.Equal(t, 1, got.ToolsVersion)
	assert.Len(t, got.Tools, 1)
}

func TestFileStorePersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")

	fs1, err := registry.NewFileStore(path)
	require.NoError(t, err)
	_, err = fs1.Create(sampleConfig("srv-1"))
	require.NoError(t, err)

	fs2, err := registry.NewFileStore(path)
	require.NoError(t, err)
	got, err := fs2.Get("srv-1")
	require.NoError(t, err)
	assert.Equal(t, "Server srv-1", got.Name)
}

func TestFileStoreMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.yaml")
	fs, err := registry.NewFileStore(path)
	require.NoError(t, err)
	rows, err := fs.List(registry.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFileStoreSurvivesSoftDeleteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	fs, err := registry.NewFileStore(path)
	require.NoError(t, err)
	_, err = fs.Create(sampleConfig("srv-1"))
	require.NoError(t, err)
	require.NoError(t, fs.Delete("srv-1"))

	reloaded, err := registry.NewFileStore(path)
	require.NoError(t, err)
	rows, err := reloaded.List(registry.ListOptions{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsDeleted())
}
