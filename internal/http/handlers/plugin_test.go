package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediabuilder/mediad/internal/errkind"
	"github.com/mediabuilder/mediad/internal/plugin"
)

func TestListPlugins(t *testing.T) {
	registry := plugin.NewRegistry("", "1.0.0", 0, nil)
	require.NoError(t, registry.RegisterBuiltin(func() plugin.Plugin { return passPlugin{} }))

	h := NewPluginHandler(registry)
	out, err := h.List(context.Background(), &ListPluginsInput{})
	require.NoError(t, err)

	require.Len(t, out.Body.Plugins, 1)
	assert.Equal(t, "pass", out.Body.Plugins[0].ID)
	assert.True(t, out.Body.Plugins[0].Loaded)
	assert.True(t, out.Body.Plugins[0].Healthy)
}

func TestReloadUnknownPlugin404(t *testing.T) {
	h := NewPluginHandler(plugin.NewRegistry("", "1.0.0", 0, nil))

	_, err := h.Reload(context.Background(), &ReloadPluginInput{ID: "ghost"})
	require.Error(t, err)

	var em *ErrorModel
	require.ErrorAs(t, err, &em)
	assert.Equal(t, 404, em.GetStatus())
	assert.Equal(t, string(errkind.NotFound), em.Detail.Code)
}

func TestReloadSucceeds(t *testing.T) {
	registry := plugin.NewRegistry("", "1.0.0", 0, nil)
	require.NoError(t, registry.RegisterBuiltin(func() plugin.Plugin { return passPlugin{} }))

	h := NewPluginHandler(registry)
	out, err := h.Reload(context.Background(), &ReloadPluginInput{ID: "pass"})
	require.NoError(t, err)
	assert.True(t, out.Body.Reloaded)
}
