package server

import (
	"context"
	"testing"

	"github.com/HendryAvila/warden/internal/config"
	"github.com/HendryAvila/warden/internal/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.VectorBackend = "none"
	cfg.EmbeddingDimensions = 32
	cfg.HTTPAddr = "127.0.0.1:0"
	return cfg
}

func TestNew_WiresComponents(t *testing.T) {
	app, err := New(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })

	assert.NotNil(t, app.MCP)
	assert.NotNil(t, app.HTTP)
	assert.Equal(t, "none", app.backend.Name())
}

func TestApp_StartServesRequests(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app, err := New(ctx, testConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, app.Start(ctx))
	t.Cleanup(func() { app.Close() })

	resp := app.Dispatcher.DispatchRaw(ctx, dispatch.OpGetBriefing, []byte(`{"project_path":"`+t.TempDir()+`"}`))
	require.Nil(t, resp.Error)
	assert.Equal(t, 1, app.Registry.Len())
}

func TestOpenBackend_RejectsUnknown(t *testing.T) {
	cfg := testConfig()
	cfg.VectorBackend = "faiss"
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}
