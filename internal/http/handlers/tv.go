package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mediabuilder/mediad/internal/models"
	"github.com/mediabuilder/mediad/internal/tv"
)

// TvHandler handles TV channel API endpoints.
type TvHandler struct {
	engine *tv.Engine
}

// NewTvHandler creates a new TV handler.
func NewTvHandler(engine *tv.Engine) *TvHandler {
	return &TvHandler{engine: engine}
}

// Register registers the TV routes with the API.
func (h *TvHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "createTvChannel",
		Method:        "POST",
		Path:          "/tv/channels",
		Summary:       "Create TV channel",
		Tags:          []string{"TV"},
		DefaultStatus: 201,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "listTvChannels",
		Method:      "GET",
		Path:        "/tv/channels",
		Summary:     "List TV channels",
		Tags:        []string{"TV"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getTvEpg",
		Method:      "GET",
		Path:        "/tv/epg",
		Summary:     "Get EPG",
		Description: "Returns the program guide for all channels over the lookahead window",
		Tags:        []string{"TV"},
	}, h.GetEPG)

	huma.Register(api, huma.Operation{
		OperationID: "getTvChannel",
		Method:      "GET",
		Path:        "/tv/channels/{id}",
		Summary:     "Get TV channel status",
		Tags:        []string{"TV"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "updateTvChannel",
		Method:      "PUT",
		Path:        "/tv/channels/{id}",
		Summary:     "Update TV channel",
		Tags:        []string{"TV"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "deleteTvChannel",
		Method:      "DELETE",
		Path:        "/tv/channels/{id}",
		Summary:     "Delete TV channel",
		Tags:        []string{"TV"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "startTvChannel",
		Method:      "POST",
		Path:        "/tv/channels/{id}/start",
		Summary:     "Start TV channel",
		Tags:        []string{"TV"},
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "stopTvChannel",
		Method:      "POST",
		Path:        "/tv/channels/{id}/stop",
		Summary:     "Stop TV channel",
		Tags:        []string{"TV"},
	}, h.Stop)

	huma.Register(api, huma.Operation{
		OperationID: "setTvSchedule",
		Method:      "PUT",
		Path:        "/tv/channels/{id}/schedule",
		Summary:     "Set schedule",
		Tags:        []string{"TV"},
	}, h.SetSchedule)

	huma.Register(api, huma.Operation{
		OperationID: "getTvSchedule",
		Method:      "GET",
		Path:        "/tv/channels/{id}/schedule",
		Summary:     "Get schedule",
		Tags:        []string{"TV"},
	}, h.GetSchedule)

	huma.Register(api, huma.Operation{
		OperationID: "addTvProgram",
		Method:      "POST",
		Path:        "/tv/channels/{id}/schedule/programs",
		Summary:     "Add program",
		Tags:        []string{"TV"},
	}, h.AddProgram)

	huma.Register(api, huma.Operation{
		OperationID: "removeTvProgram",
		Method:      "DELETE",
		Path:        "/tv/channels/{id}/schedule/programs/{programId}",
		Summary:     "Remove program",
		Tags:        []string{"TV"},
	}, h.RemoveProgram)

	huma.Register(api, huma.Operation{
		OperationID: "importTvSchedule",
		Method:      "POST",
		Path:        "/tv/channels/{id}/schedule/import-xmltv",
		Summary:     "Import schedule from XMLTV",
		Tags:        []string{"TV"},
	}, h.ImportSchedule)

	huma.Register(api, huma.Operation{
		OperationID: "getTvNowPlaying",
		Method:      "GET",
		Path:        "/tv/channels/{id}/now-playing",
		Summary:     "Get now playing",
		Tags:        []string{"TV"},
	}, h.NowPlaying)

	huma.Register(api, huma.Operation{
		OperationID: "getTvNextProgram",
		Method:      "GET",
		Path:        "/tv/channels/{id}/next",
		Summary:     "Get next program",
		Tags:        []string{"TV"},
	}, h.NextProgram)

	huma.Register(api, huma.Operation{
		OperationID: "setTvBumpers",
		Method:      "PUT",
		Path:        "/tv/channels/{id}/bumpers",
		Summary:     "Set bumpers",
		Tags:        []string{"TV"},
	}, h.SetBumpers)

	huma.Register(api, huma.Operation{
		OperationID: "setTvCommercials",
		Method:      "PUT",
		Path:        "/tv/channels/{id}/commercials",
		Summary:     "Set commercial pool",
		Tags:        []string{"TV"},
	}, h.SetCommercials)

	huma.Register(api, huma.Operation{
		OperationID: "getTvChannelEpg",
		Method:      "GET",
		Path:        "/tv/channels/{id}/epg",
		Summary:     "Get channel EPG",
		Tags:        []string{"TV"},
	}, h.GetChannelEPG)
}

// CreateTvChannelInput is the input for creating a channel.
type CreateTvChannelInput struct {
	Body models.TvChannelConfig
}

// TvChannelOutput carries one channel status.
type TvChannelOutput struct {
	Body *models.TvChannelStatus
}

// Create allocates a channel.
func (h *TvHandler) Create(_ context.Context, input *CreateTvChannelInput) (*TvChannelOutput, error) {
	status, err := h.engine.Create(input.Body)
	if err != nil {
		return nil, apiError(err)
	}
	return &TvChannelOutput{Body: status}, nil
}

// ListTvChannelsInput is the input for listing channels.
type ListTvChannelsInput struct {
	Tenant string `query:"tenant" doc:"Filter by tenant ID"`
}

// ListTvChannelsOutput is the output for listing channels.
type ListTvChannelsOutput struct {
	Body struct {
		Channels []*models.TvChannelStatus `json:"channels"`
	}
}

// List returns all channels.
func (h *TvHandler) List(_ context.Context, input *ListTvChannelsInput) (*ListTvChannelsOutput, error) {
	resp := &ListTvChannelsOutput{}
	resp.Body.Channels = h.engine.List(input.Tenant)
	return resp, nil
}

// TvChannelIDInput is the common path-ID input.
type TvChannelIDInput struct {
	ID string `path:"id" doc:"Channel ID (ULID)"`
}

// Get returns channel status.
func (h *TvHandler) Get(_ context.Context, input *TvChannelIDInput) (*TvChannelOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	status, err := h.engine.Get(id)
	if err != nil {
		return nil, apiError(err)
	}
	return &TvChannelOutput{Body: status}, nil
}

// UpdateTvChannelInput is the input for updating a channel.
type UpdateTvChannelInput struct {
	ID   string `path:"id" doc:"Channel ID (ULID)"`
	Body models.TvChannelConfig
}

// Update mutates channel configuration.
func (h *TvHandler) Update(_ context.Context, input *UpdateTvChannelInput) (*TvChannelOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	status, err := h.engine.Update(id, input.Body)
	if err != nil {
		return nil, apiError(err)
	}
	return &TvChannelOutput{Body: status}, nil
}

// DeleteTvChannelOutput is the output for deleting a channel.
type DeleteTvChannelOutput struct {
	Body struct {
		Deleted bool `json:"deleted"`
	}
}

// Delete removes a stopped channel.
func (h *TvHandler) Delete(_ context.Context, input *TvChannelIDInput) (*DeleteTvChannelOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.engine.Delete(id); err != nil {
		return nil, apiError(err)
	}
	resp := &DeleteTvChannelOutput{}
	resp.Body.Deleted = true
	return resp, nil
}

// Start marks the channel live.
func (h *TvHandler) Start(_ context.Context, input *TvChannelIDInput) (*TvChannelOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	status, err := h.engine.Start(id)
	if err != nil {
		return nil, apiError(err)
	}
	return &TvChannelOutput{Body: status}, nil
}

// StopTvChannelOutput is the output for stopping a channel.
type StopTvChannelOutput struct {
	Body struct {
		Stopped bool `json:"stopped"`
	}
}

// Stop halts the channel loop.
func (h *TvHandler) Stop(_ context.Context, input *TvChannelIDInput) (*StopTvChannelOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.engine.Stop(id); err != nil {
		return nil, apiError(err)
	}
	resp := &StopTvChannelOutput{}
	resp.Body.Stopped = true
	return resp, nil
}

// SetScheduleInput is the input for replacing a schedule.
type SetScheduleInput struct {
	ID   string `path:"id" doc:"Channel ID (ULID)"`
	Body struct {
		Entries []models.TvScheduleEntry `json:"entries"`
	}
}

// SetScheduleOutput is the output for replacing a schedule.
type SetScheduleOutput struct {
	Body struct {
		Count int `json:"count"`
	}
}

// SetSchedule replaces the channel's schedule.
func (h *TvHandler) SetSchedule(_ context.Context, input *SetScheduleInput) (*SetScheduleOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.engine.SetSchedule(id, input.Body.Entries); err != nil {
		return nil, apiError(err)
	}
	resp := &SetScheduleOutput{}
	resp.Body.Count = len(input.Body.Entries)
	return resp, nil
}

// GetScheduleInput is the input for reading a schedule range.
type GetScheduleInput struct {
	ID   string    `path:"id" doc:"Channel ID (ULID)"`
	From time.Time `query:"from" doc:"Range start (RFC3339); defaults to now"`
	To   time.Time `query:"to" doc:"Range end (RFC3339); defaults to now + 24h"`
}

// GetScheduleOutput is the output for reading a schedule.
type GetScheduleOutput struct {
	Body struct {
		Entries []models.TvScheduleEntry `json:"entries"`
	}
}

// GetSchedule returns schedule entries in a time range.
func (h *TvHandler) GetSchedule(_ context.Context, input *GetScheduleInput) (*GetScheduleOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}

	from := input.From
	if from.IsZero() {
		from = time.Now()
	}
	to := input.To
	if to.IsZero() {
		to = from.Add(24 * time.Hour)
	}

	entries, err := h.engine.GetSchedule(id, from, to)
	if err != nil {
		return nil, apiError(err)
	}
	resp := &GetScheduleOutput{}
	resp.Body.Entries = entries
	return resp, nil
}

// AddProgramInput is the input for adding a program.
type AddProgramInput struct {
	ID   string `path:"id" doc:"Channel ID (ULID)"`
	Body models.TvScheduleEntry
}

// AddProgramOutput is the output for adding a program.
type AddProgramOutput struct {
	Body struct {
		Added bool `json:"added"`
	}
}

// AddProgram inserts one schedule entry.
func (h *TvHandler) AddProgram(_ context.Context, input *AddProgramInput) (*AddProgramOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.engine.AddProgram(id, input.Body); err != nil {
		return nil, apiError(err)
	}
	resp := &AddProgramOutput{}
	resp.Body.Added = true
	return resp, nil
}

// RemoveProgramInput is the input for removing a program.
type RemoveProgramInput struct {
	ID        string `path:"id" doc:"Channel ID (ULID)"`
	ProgramID string `path:"programId" doc:"Program ID"`
}

// RemoveProgramOutput is the output for removing a program.
type RemoveProgramOutput struct {
	Body struct {
		Removed bool `json:"removed"`
	}
}

// RemoveProgram deletes one schedule entry.
func (h *TvHandler) RemoveProgram(_ context.Context, input *RemoveProgramInput) (*RemoveProgramOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.engine.RemoveProgram(id, input.ProgramID); err != nil {
		return nil, apiError(err)
	}
	resp := &RemoveProgramOutput{}
	resp.Body.Removed = true
	return resp, nil
}

// ImportScheduleInput is the input for importing an XMLTV schedule.
type ImportScheduleInput struct {
	ID      string `path:"id" doc:"Channel ID (ULID)"`
	RawBody []byte `contentType:"application/xml"`
}

// ImportScheduleOutput is the output for importing a schedule.
type ImportScheduleOutput struct {
	Body struct {
		Imported int `json:"imported"`
	}
}

// ImportSchedule loads programmes from an XMLTV document.
func (h *TvHandler) ImportSchedule(_ context.Context, input *ImportScheduleInput) (*ImportScheduleOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	count, err := h.engine.ImportXMLTVSchedule(id, strings.NewReader(string(input.RawBody)))
	if err != nil {
		return nil, apiError(err)
	}
	resp := &ImportScheduleOutput{}
	resp.Body.Imported = count
	return resp, nil
}

// TvNowPlayingOutput is the output for the current program.
type TvNowPlayingOutput struct {
	Body *models.TvProgram
}

// NowPlaying returns the current program.
func (h *TvHandler) NowPlaying(_ context.Context, input *TvChannelIDInput) (*TvNowPlayingOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	program, err := h.engine.NowPlaying(id)
	if err != nil {
		return nil, apiError(err)
	}
	return &TvNowPlayingOutput{Body: program}, nil
}

// NextProgramOutput is the output for the next program.
type NextProgramOutput struct {
	Body *models.TvScheduleEntry
}

// NextProgram returns the next scheduled entry.
func (h *TvHandler) NextProgram(_ context.Context, input *TvChannelIDInput) (*NextProgramOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	entry, err := h.engine.NextProgram(id)
	if err != nil {
		return nil, apiError(err)
	}
	return &NextProgramOutput{Body: entry}, nil
}

// SetBumpersInput is the input for setting bumpers.
type SetBumpersInput struct {
	ID   string `path:"id" doc:"Channel ID (ULID)"`
	Body struct {
		IntroBumper string `json:"intro_bumper,omitempty"`
		OutroBumper string `json:"outro_bumper,omitempty"`
	}
}

// SetBumpersOutput is the output for setting bumpers.
type SetBumpersOutput struct {
	Body struct {
		Updated bool `json:"updated"`
	}
}

// SetBumpers configures intro/outro bumpers.
func (h *TvHandler) SetBumpers(_ context.Context, input *SetBumpersInput) (*SetBumpersOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.engine.SetBumpers(id, input.Body.IntroBumper, input.Body.OutroBumper); err != nil {
		return nil, apiError(err)
	}
	resp := &SetBumpersOutput{}
	resp.Body.Updated = true
	return resp, nil
}

// SetCommercialsInput is the input for setting the commercial pool.
type SetCommercialsInput struct {
	ID   string `path:"id" doc:"Channel ID (ULID)"`
	Body struct {
		Commercials   []string `json:"commercials"`
		BreakDuration int      `json:"break_duration_seconds,omitempty"`
	}
}

// SetCommercialsOutput is the output for setting the commercial pool.
type SetCommercialsOutput struct {
	Body struct {
		Updated bool `json:"updated"`
	}
}

// SetCommercials configures the commercial pool.
func (h *TvHandler) SetCommercials(_ context.Context, input *SetCommercialsInput) (*SetCommercialsOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	breakDur := time.Duration(input.Body.BreakDuration) * time.Second
	if err := h.engine.SetCommercials(id, input.Body.Commercials, breakDur); err != nil {
		return nil, apiError(err)
	}
	resp := &SetCommercialsOutput{}
	resp.Body.Updated = true
	return resp, nil
}

// GetEPGInput is the input for the full EPG.
type GetEPGInput struct {
	Hours int `query:"hours" default:"24" minimum:"1" maximum:"168" doc:"Lookahead hours"`
}

// GetEPGOutput is the output for the full EPG.
type GetEPGOutput struct {
	Body struct {
		Entries []models.EpgEntry `json:"entries"`
	}
}

// GetEPG returns the program guide for all channels.
func (h *TvHandler) GetEPG(_ context.Context, input *GetEPGInput) (*GetEPGOutput, error) {
	resp := &GetEPGOutput{}
	resp.Body.Entries = h.engine.GenerateEPG(time.Duration(input.Hours) * time.Hour)
	return resp, nil
}

// GetChannelEPGInput is the input for one channel's EPG.
type GetChannelEPGInput struct {
	ID    string `path:"id" doc:"Channel ID (ULID)"`
	Hours int    `query:"hours" default:"24" minimum:"1" maximum:"168" doc:"Lookahead hours"`
}

// GetChannelEPGOutput is the output for one channel's EPG.
type GetChannelEPGOutput struct {
	Body struct {
		Entries []models.EpgEntry `json:"entries"`
	}
}

// GetChannelEPG returns one channel's program guide.
func (h *TvHandler) GetChannelEPG(_ context.Context, input *GetChannelEPGInput) (*GetChannelEPGOutput, error) {
	id, err := channelID(input.ID)
	if err != nil {
		return nil, err
	}
	entries, err := h.engine.GenerateChannelEPG(id, time.Duration(input.Hours)*time.Hour)
	if err != nil {
		return nil, apiError(err)
	}
	resp := &GetChannelEPGOutput{}
	resp.Body.Entries = entries
	return resp, nil
}
