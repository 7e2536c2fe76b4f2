package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mediabuilder/mediad/internal/models"
	"github.com/mediabuilder/mediad/internal/radio"
)

// RadioHandler handles radio channel API endpoints.
type RadioHandler struct {
	engine *radio.Engine
}

// NewRadioHandler creates a new radio handler.
func NewRadioHandler(engine *radio.Engine) *RadioHandler {
	return &RadioHandler{engine: engine}
}

// Register registers the radio routes with the API.
func (h *RadioHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "createRadioChannel",
		Method:        "POST",
		Path:          "/radio/channels",
		Summary:       "Create radio channel",
		Tags:          []string{"Radio"},
		DefaultStatus: 201,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "listRadioChannels",
		Method:      "GET",
		Path:        "/radio/channels",
		Summary:     "List radio channels",
		Tags:        []string{"Radio"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getRadioChannel",
		Method:      "GET",
		Path:        "/radio/channels/{id}",
		Summary:     "Get radio channel status",
		Tags:        []string{"Radio"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "updateRadioChannel",
		Method:      "PUT",
		Path:        "/radio/channels/{id}",
		Summary:     "Update radio channel",
		Description: "Mutates channel configuration; encoding changes take effect at the next item boundary",
		Tags:        []string{"Radio"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "deleteRadioChannel",
		Method:      "DELETE",
		Path:        "/radio/channels/{id}",
		Summary:     "Delete radio channel",
		Description: "Removes a stopped channel; live channels are refused",
		Tags:        []string{"Radio"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "startRadioChannel",
		Method:      "POST",
		Path:        "/radio/channels/{id}/start",
		Summary:     "Start radio channel",
		Description: "Marks the channel live and launches its loop; idempotent",
		Tags:        []string{"Radio"},
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "stopRadioChannel",
		Method:      "POST",
		Path:        "/radio/channels/{id}/stop",
		Summary:     "Stop radio channel",
		Tags:        []string{"Radio"},
	}, h.Stop)

	huma.Register(api, huma.Operation{
		OperationID: "setRadioPlaylist",
		Method:      "PUT",
		Path:        "/radio/channels/{id}/playlist",
		Summary:     "Set playlist",
		Tags:        []string{"Radio"},
	}, h.SetPlaylist)

	huma.Register(api, huma.Operation{
		OperationID: "getRadioPlaylist",
		Method:      "GET",
		Path:        "/radio/channels/{id}/playlist",
		Summary:     "Get playlist",
		Tags:        []string{"Radio"},
	}, h.GetPlaylist)

	huma.Register(api, huma.Operation{
		OperationID: "addRadioTrack",
		Method:      "POST",
		Path:        "/radio/channels/{id}/playlist/tracks",
		Summary:     "Add track",
		Tags:        []string{"Radio"},
	}, h.AddTrack)

	huma.Register(api, huma.Operation{
		OperationID: "removeRadioTrack",
		Method:      "DELETE",
		Path:        "/radio/channels/{id}/playlist/tracks/{trackId}",
		Summary:     "Remove track",
		Tags:        []string{"Radio"},
	}, h.RemoveTrack)

	huma.Register(api, huma.Operation{
		OperationID: "skipRadioTrack",
		Method:      "POST",
		Path:        "/radio/channels/{id}/skip",
		Summary:     "Skip current track",
		Tags:        []string{"Radio"},
	}, h.Skip)

	huma.Register(api, huma.Operation{
		OperationID: "getRadioNowPlaying",
		Method:      "GET",
		Path:        "/radio/channels/{id}/now-playing",
		Summary:     "Get now playing",
		Tags:        []string{"Radio"},
	}, h.NowPlaying)

	huma.Register(api, huma.Operation{
		OperationID: "setRadioAutoDJ",
		Method:      "PUT",
		Path:        "/radio/channels/{id}/auto-dj",
		Summary:     "Configure auto-DJ",
		Tags:        []string{"Radio"},
	}, h.SetAutoDJ)
}

// channelID parses the path ID.
func channelID(raw string) (models.ULID, error) {
	id, err := models.ParseULID(raw)
	if err != nil {
		return models.ULID{}, huma.Error400BadRequest("invalid channel ID", err)
	}
	return id, nil
}

// CreateRadioChannelInput is the input for creating a channel.
type CreateRadioChannelInput struct {
	Body models.RadioChannelConfig
}

// RadioChannelOutput carries one channel status.
type RadioChannelOutput struct {
	Body *models.RadioChannelStatus
}

// Create allocates a channel.
func (h *RadioHandler) Create(_ context.Context, input *CreateRadioChannelInput) (*RadioChannelOutput, error) {
	status, err := h.engine.Create(input.Body)
	if err != nil {
		return nil, apiError(err)
	}
	return &RadioChannelOutput{Body: status}, nil
}

// ListRadioChannelsInput is the input for listing channels.
type ListRadioChannelsInput struct {
	Tenant string `query:"tenant" doc:"Filter by tenant ID"`
}

// ListRadioChannelsOutput is the output for listing channels.
type ListRadioChannelsOutput struct {
	Body struct {
		Channels []*models.RadioChannelStatus `json:"channels"`
	}
}

// List returns all channels.
func (h *RadioHandler) List(_ context.Context, input *ListRadioChannelsInput) (*ListRadioChannelsOutput, error) {
	resp := &ListRadioChannelsOutput{}
	resp.Body.Channels = h.engine.List(input.Tenant)
	return resp, nil
}

// RadioChannelIDInput is the common path-ID input.
type RadioChannelIDInput struct {
	ID string `path:"id" doc:"Channel ID (ULID)"`
}

// Get returns channel status.
func (h *RadioHandler) Get(_ context.Context, input *RadioChannelIDInput) (*RadioChannelOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	status, err := h.engine.Get(id)
	if err != nil {
		return nil, apiError(err)
	}
	return &RadioChannelOutput{Body: status}, nil
}

// UpdateRadioChannelInput is the input for updating a channel.
type UpdateRadioChannelInput struct {
	ID   string `path:"id" doc:"Channel ID (ULID)"`
	Body models.RadioChannelConfig
}

// Update mutates channel configuration.
func (h *RadioHandler) Update(_ context.Context, input *UpdateRadioChannelInput) (*RadioChannelOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	status, err := h.engine.Update(id, input.Body)
	if err != nil {
		return nil, apiError(err)
	}
	return &RadioChannelOutput{Body: status}, nil
}

// DeleteRadioChannelOutput is the output for deleting a channel.
type DeleteRadioChannelOutput struct {
	Body struct {
		Deleted bool `json:"deleted"`
	}
}

// Delete removes a stopped channel.
func (h *RadioHandler) Delete(_ context.Context, input *RadioChannelIDInput) (*DeleteRadioChannelOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.engine.Delete(id); err != nil {
		return nil, apiError(err)
	}
	resp := &DeleteRadioChannelOutput{}
	resp.Body.Deleted = true
	return resp, nil
}

// Start marks the channel live.
func (h *RadioHandler) Start(_ context.Context, input *RadioChannelIDInput) (*RadioChannelOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	status, err := h.engine.Start(id)
	if err != nil {
		return nil, apiError(err)
	}
	return &RadioChannelOutput{Body: status}, nil
}

// StopRadioChannelOutput is the output for stopping a channel.
type StopRadioChannelOutput struct {
	Body struct {
		Stopped bool `json:"stopped"`
	}
}

// Stop halts the channel loop.
func (h *RadioHandler) Stop(_ context.Context, input *RadioChannelIDInput) (*StopRadioChannelOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.engine.Stop(id); err != nil {
		return nil, apiError(err)
	}
	resp := &StopRadioChannelOutput{}
	resp.Body.Stopped = true
	return resp, nil
}

// SetPlaylistInput is the input for replacing a playlist.
type SetPlaylistInput struct {
	ID   string `path:"id" doc:"Channel ID (ULID)"`
	Body struct {
		Tracks []models.RadioTrack `json:"tracks"`
	}
}

// SetPlaylistOutput is the output for replacing a playlist.
type SetPlaylistOutput struct {
	Body struct {
		Count int `json:"count"`
	}
}

// SetPlaylist replaces the channel's playlist.
func (h *RadioHandler) SetPlaylist(_ context.Context, input *SetPlaylistInput) (*SetPlaylistOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.engine.SetPlaylist(id, input.Body.Tracks); err != nil {
		return nil, apiError(err)
	}
	resp := &SetPlaylistOutput{}
	resp.Body.Count = len(input.Body.Tracks)
	return resp, nil
}

// GetPlaylistOutput is the output for reading a playlist.
type GetPlaylistOutput struct {
	Body struct {
		Tracks []models.RadioTrack `json:"tracks"`
	}
}

// GetPlaylist returns the channel's playlist.
func (h *RadioHandler) GetPlaylist(_ context.Context, input *RadioChannelIDInput) (*GetPlaylistOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	tracks, err := h.engine.GetPlaylist(id)
	if err != nil {
		return nil, apiError(err)
	}
	resp := &GetPlaylistOutput{}
	resp.Body.Tracks = tracks
	return resp, nil
}

// AddTrackInput is the input for adding a track.
type AddTrackInput struct {
	ID   string `path:"id" doc:"Channel ID (ULID)"`
	Body struct {
		Track    models.RadioTrack `json:"track"`
		Position int               `json:"position,omitempty" doc:"Insert position; -1 appends"`
	}
}

// AddTrackOutput is the output for adding a track.
type AddTrackOutput struct {
	Body struct {
		Added bool `json:"added"`
	}
}

// AddTrack inserts one track.
func (h *RadioHandler) AddTrack(_ context.Context, input *AddTrackInput) (*AddTrackOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.engine.AddTrack(id, input.Body.Track, input.Body.Position); err != nil {
		return nil, apiError(err)
	}
	resp := &AddTrackOutput{}
	resp.Body.Added = true
	return resp, nil
}

// RemoveTrackInput is the input for removing a track.
type RemoveTrackInput struct {
	ID      string `path:"id" doc:"Channel ID (ULID)"`
	TrackID string `path:"trackId" doc:"Track ID"`
}

// RemoveTrackOutput is the output for removing a track.
type RemoveTrackOutput struct {
	Body struct {
		Removed bool `json:"removed"`
	}
}

// RemoveTrack deletes one track.
func (h *RadioHandler) RemoveTrack(_ context.Context, input *RemoveTrackInput) (*RemoveTrackOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.engine.RemoveTrack(id, input.TrackID); err != nil {
		return nil, apiError(err)
	}
	resp := &RemoveTrackOutput{}
	resp.Body.Removed = true
	return resp, nil
}

// SkipOutput is the output for skipping a track.
type SkipOutput struct {
	Body struct {
		Skipped bool `json:"skipped"`
	}
}

// Skip aborts the current track.
func (h *RadioHandler) Skip(_ context.Context, input *RadioChannelIDInput) (*SkipOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.engine.Skip(id); err != nil {
		return nil, apiError(err)
	}
	resp := &SkipOutput{}
	resp.Body.Skipped = true
	return resp, nil
}

// NowPlayingOutput is the output for the current track.
type NowPlayingOutput struct {
	Body *models.RadioTrack
}

// NowPlaying returns the current track.
func (h *RadioHandler) NowPlaying(_ context.Context, input *RadioChannelIDInput) (*NowPlayingOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	track, err := h.engine.NowPlaying(id)
	if err != nil {
		return nil, apiError(err)
	}
	return &NowPlayingOutput{Body: track}, nil
}

// SetAutoDJInput is the input for configuring auto-DJ.
type SetAutoDJInput struct {
	ID   string `path:"id" doc:"Channel ID (ULID)"`
	Body struct {
		Enabled bool     `json:"enabled"`
		Folders []string `json:"folders,omitempty"`
		Shuffle bool     `json:"shuffle,omitempty"`
	}
}

// SetAutoDJOutput is the output for configuring auto-DJ.
type SetAutoDJOutput struct {
	Body struct {
		Enabled bool `json:"enabled"`
	}
}

// SetAutoDJ configures the auto-DJ.
func (h *RadioHandler) SetAutoDJ(_ context.Context, input *SetAutoDJInput) (*SetAutoDJOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.engine.SetAutoDJ(id, input.Body.Enabled, input.Body.Folders, input.Body.Shuffle); err != nil {
		return nil, apiError(err)
	}
	resp := &SetAutoDJOutput{}
	resp.Body.Enabled = input.Body.Enabled
	return resp, nil
}
