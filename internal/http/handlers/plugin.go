package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mediabuilder/mediad/internal/models"
	"github.com/mediabuilder/mediad/internal/plugin"
)

// PluginHandler handles plugin API endpoints.
type PluginHandler struct {
	registry *plugin.Registry
}

// NewPluginHandler creates a new plugin handler.
func NewPluginHandler(registry *plugin.Registry) *PluginHandler {
	return &PluginHandler{registry: registry}
}

// Register registers the plugin routes with the API.
func (h *PluginHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listPlugins",
		Method:      "GET",
		Path:        "/plugins",
		Summary:     "List plugins",
		Description: "Returns every registered plugin with health state, in routing order",
		Tags:        []string{"Plugins"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "reloadPlugin",
		Method:      "POST",
		Path:        "/plugins/{id}/reload",
		Summary:     "Reload plugin",
		Description: "Replaces a plugin with a fresh instance; in-flight jobs finish on the old one",
		Tags:        []string{"Plugins"},
	}, h.Reload)
}

// ListPluginsInput is the input for listing plugins.
type ListPluginsInput struct{}

// ListPluginsOutput is the output for listing plugins.
type ListPluginsOutput struct {
	Body struct {
		Plugins []models.PluginStatus `json:"plugins"`
	}
}

// List returns all plugins.
func (h *PluginHandler) List(_ context.Context, _ *ListPluginsInput) (*ListPluginsOutput, error) {
	resp := &ListPluginsOutput{}
	resp.Body.Plugins = h.registry.List()
	return resp, nil
}

// ReloadPluginInput is the input for reloading a plugin.
type ReloadPluginInput struct {
	ID string `path:"id" doc:"Plugin ID"`
}

// ReloadPluginOutput is the output for reloading a plugin.
type ReloadPluginOutput struct {
	Body struct {
		Reloaded bool `json:"reloaded"`
	}
}

// Reload swaps a plugin for a fresh instance.
func (h *PluginHandler) Reload(_ context.Context, input *ReloadPluginInput) (*ReloadPluginOutput, error) {
	if err := h.registry.Reload(input.ID); err != nil {
		return nil, apiError(err)
	}
	resp := &ReloadPluginOutput{}
	resp.Body.Reloaded = true
	return resp, nil
}
