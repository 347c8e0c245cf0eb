package toolcache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluidmcp/gateway/internal/errs"
	"github.com/fluidmcp/gateway/internal/mcp"
	"github.com/fluidmcp/gateway/internal/toolcache"
)

func TestRefreshBumpsVersion(t *testing.T) {
	c := toolcache.New()
	assert.Equal(t, 0, c.Version("srv-1"))

	v1 := c.Refresh("srv-1", []mcp.ToolDescriptor{{Name: "echo"}})
	assert.Equal(t, 1, v1)
	v2 := c.Refresh("srv-1", []mcp.ToolDescriptor{{Name: "echo"}, {Name: "sum"}})
	assert.Equal(t, 2, v2)
	assert.Equal(t, 2, c.Version("srv-1"))
}

func TestCheckKnownBeforeAnyRefreshIsUnknownTool(t *testing.T) {
	c := toolcache.New()
	err := c.CheckKnown("srv-1", "echo")
	require.Error(t, err)
	assert.Equal(t, errs.UnknownTool, errs.KindOf(err))
}

func TestCheckKnownAfterRefresh(t *testing.T) {
	c := toolcache.New()
	c.Refresh("srv-1", []mcp.ToolDescriptor{{Name: "echo"}})

	assert.NoError(t, c.CheckKnown("srv-1", "echo"))
	err := c.CheckKnown("srv-1", "missing")
	assert.Equal(t, errs.UnknownTool, errs.KindOf(err))
}

func TestListReturnsCachedSet(t *testing.T) {
	c := toolcache.New()
	_, ok := c.List("srv-1")
	assert.False(t, ok)

	c.Refresh("srv-1", []mcp.ToolDescriptor{{Name: "echo"}})
	tools, ok := c.List("srv-1")
	require.True(t, ok)
	assert.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)
}

func TestInvalidateDropsEntry(t *testing.T) {
	c := toolcache.New()
	c.Refresh("srv-1", []mcp.ToolDescriptor{{Name: "echo"}})
	c.Invalidate("srv-1")

	_, ok := c.List("srv-1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Version("srv-1"))
	err := c.CheckKnown("srv-1", "echo")
	assert.Equal(t, errs.UnknownTool, errs.KindOf(err))
}

func TestCachesAreIndependentPerServer(t *testing.T) {
	c := toolcache.New()
	c.Refresh("srv-1", []mcp.ToolDescriptor{{Name: "echo"}})
	c.Refresh("srv-2", []mcp.ToolDescriptor{{Name: "sum"}})

	assert.NoError(t, c.CheckKnown("srv-1", "echo"))
	assert.Error(t, c.CheckKnown("srv-1", "sum"))
	assert.NoError(t, c.CheckKnown("srv-2", "sum"))
}
