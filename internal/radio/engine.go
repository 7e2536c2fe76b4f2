// Package radio implements the radio engine: per-channel playlist loops
// that decode tracks, crossfade between them, normalize loudness, and push
// the encoded byte stream to a broadcaster mount named after the channel.
package radio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mediabuilder/mediad/internal/broadcast"
	"github.com/mediabuilder/mediad/internal/config"
	"github.com/mediabuilder/mediad/internal/errkind"
	"github.com/mediabuilder/mediad/internal/ffmpeg"
	"github.com/mediabuilder/mediad/internal/models"
	"github.com/mediabuilder/mediad/internal/observability"
)

// Notifier delivers stream lifecycle notifications best-effort.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}

// nopNotifier discards notifications; used when no external service is
// configured and in tests.
type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, models.Notification) {}

// channelState is the engine-internal record for one channel. The engine
// map lock guards the struct; hot counters are atomics so the loop and the
// HTTP adaptor never contend.
type channelState struct {
	id     models.ULID
	config models.RadioChannelConfig

	mu         sync.Mutex
	playlist   []models.RadioTrack
	index      int
	nowPlaying *models.RadioTrack
	nextUp     *models.RadioTrack
	stopReason string
	startedAt  time.Time

	live      atomic.Bool
	listeners atomic.Int32

	skipCh   chan struct{}
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// Engine manages radio channels. At most one loop goroutine runs per
// channel; the live flag is the loop's exit signal.
type Engine struct {
	cfg         config.RadioConfig
	chunkSize   int
	runner      *ffmpeg.Runner
	prober      *ffmpeg.Prober
	broadcaster *broadcast.Broadcaster
	notifier    Notifier
	logger      *slog.Logger

	mu       sync.RWMutex
	channels map[models.ULID]*channelState
}

// New creates the radio engine.
func New(cfg config.RadioConfig, chunkSize int, runner *ffmpeg.Runner, prober *ffmpeg.Prober, broadcaster *broadcast.Broadcaster, notifier Notifier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Engine{
		cfg:         cfg,
		chunkSize:   chunkSize,
		runner:      runner,
		prober:      prober,
		broadcaster: broadcaster,
		notifier:    notifier,
		logger:      logger,
		channels:    make(map[models.ULID]*channelState),
	}
}

// Create allocates a channel with live=false and returns its status.
func (e *Engine) Create(cfg models.RadioChannelConfig) (*models.RadioChannelStatus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errkind.Wrap(errkind.Validation, err, "invalid channel config")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.channels) >= e.cfg.MaxChannels {
		return nil, errkind.E(errkind.Conflict, "channel limit reached (%d)", e.cfg.MaxChannels)
	}

	applyRadioDefaults(&cfg, e.cfg)

	st := &channelState{
		id:     models.NewULID(),
		config: cfg,
		skipCh: make(chan struct{}, 1),
	}
	e.channels[st.id] = st

	e.logger.Info("radio channel created",
		slog.String("channel_id", st.id.String()),
		slog.String("name", cfg.Name))
	return e.statusLocked(st), nil
}

// applyRadioDefaults fills unset channel fields from engine configuration.
func applyRadioDefaults(cfg *models.RadioChannelConfig, engine config.RadioConfig) {
	if cfg.Codec == "" {
		cfg.Codec = engine.Codec
	}
	if cfg.BitrateK == 0 {
		cfg.BitrateK = engine.BitrateKbps
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = engine.SampleRate
	}
	if cfg.Channels == 0 {
		cfg.Channels = engine.Channels
	}
	if cfg.Crossfade == 0 {
		cfg.Crossfade = engine.Crossfade
	}
	if cfg.TargetLUFS == 0 && engine.Normalization {
		cfg.TargetLUFS = engine.TargetLUFS
	}
}

// Update mutates channel configuration. Encoding-related changes take
// effect when the loop next starts an encoder (the next start, or the next
// item boundary after a mid-run encoder restart).
func (e *Engine) Update(id models.ULID, cfg models.RadioChannelConfig) (*models.RadioChannelStatus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errkind.Wrap(errkind.Validation, err, "invalid channel config")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.channels[id]
	if !ok {
		return nil, errkind.E(errkind.NotFound, "radio channel %s not found", id)
	}

	applyRadioDefaults(&cfg, e.cfg)
	st.mu.Lock()
	st.config = cfg
	st.mu.Unlock()

	return e.statusLocked(st), nil
}

// Delete removes a stopped channel. Deleting a live channel is refused.
func (e *Engine) Delete(id models.ULID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.channels[id]
	if !ok {
		return errkind.E(errkind.NotFound, "radio channel %s not found", id)
	}
	if st.live.Load() {
		return errkind.E(errkind.Conflict, "radio channel %s is live; stop it first", id)
	}

	delete(e.channels, id)
	e.logger.Info("radio channel deleted", slog.String("channel_id", id.String()))
	return nil
}

// Get returns a channel's status.
func (e *Engine) Get(id models.ULID) (*models.RadioChannelStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, ok := e.channels[id]
	if !ok {
		return nil, errkind.E(errkind.NotFound, "radio channel %s not found", id)
	}
	return e.statusLocked(st), nil
}

// List returns all channels, optionally filtered by tenant.
func (e *Engine) List(tenantID string) []*models.RadioChannelStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*models.RadioChannelStatus, 0, len(e.channels))
	for _, st := range e.channels {
		if tenantID != "" && st.config.TenantID != tenantID {
			continue
		}
		out = append(out, e.statusLocked(st))
	}
	return out
}

// Start marks the channel live and launches its loop. Idempotent: starting
// a live channel is a no-op that returns the current status. An empty
// playlist still goes live — the loop idles and rescans until tracks
// arrive.
func (e *Engine) Start(id models.ULID) (*models.RadioChannelStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.channels[id]
	if !ok {
		return nil, errkind.E(errkind.NotFound, "radio channel %s not found", id)
	}
	if st.live.Load() {
		return e.statusLocked(st), nil
	}

	mount := mountName(st.id)
	e.broadcaster.CreateMount(mount)

	ctx, cancel := context.WithCancel(context.Background())
	st.cancel = cancel
	st.loopDone = make(chan struct{})
	st.live.Store(true)
	st.mu.Lock()
	st.startedAt = time.Now()
	st.stopReason = ""
	st.mu.Unlock()

	go e.runLoop(ctx, st)

	go e.notifier.Notify(context.Background(), models.Notification{
		Kind:      models.NotifyStreamStarted,
		TenantID:  st.config.TenantID,
		ChannelID: st.id.String(),
		Payload: map[string]any{
			"name":       st.config.Name,
			"stream_url": streamURL(mount),
		},
	})

	e.logger.Info("radio channel started", slog.String("channel_id", id.String()))
	return e.statusLocked(st), nil
}

// Stop signals the loop to exit, waits briefly for it, and removes the
// broadcaster mount. Idempotent.
func (e *Engine) Stop(id models.ULID) error {
	e.mu.Lock()
	st, ok := e.channels[id]
	e.mu.Unlock()

	if !ok {
		return errkind.E(errkind.NotFound, "radio channel %s not found", id)
	}
	if !st.live.Load() {
		return nil
	}

	e.stopChannel(st, "stopped by request")
	return nil
}

// stopChannel performs the actual teardown. Safe to call from the loop
// itself (failure demotion) and from Stop.
func (e *Engine) stopChannel(st *channelState, reason string) {
	if !st.live.CompareAndSwap(true, false) {
		return
	}
	st.mu.Lock()
	st.stopReason = reason
	st.mu.Unlock()

	if st.cancel != nil {
		st.cancel()
	}
	if st.loopDone != nil {
		select {
		case <-st.loopDone:
		case <-time.After(5 * time.Second):
			e.logger.Warn("radio loop did not exit in time",
				slog.String("channel_id", st.id.String()))
		}
	}

	e.broadcaster.RemoveMount(mountName(st.id))

	go e.notifier.Notify(context.Background(), models.Notification{
		Kind:      models.NotifyStreamStopped,
		TenantID:  st.config.TenantID,
		ChannelID: st.id.String(),
		Payload:   map[string]any{"name": st.config.Name, "reason": reason},
	})

	e.logger.Info("radio channel stopped",
		slog.String("channel_id", st.id.String()),
		slog.String("reason", reason))
}

// Shutdown stops every live channel.
func (e *Engine) Shutdown() {
	e.mu.RLock()
	states := make([]*channelState, 0, len(e.channels))
	for _, st := range e.channels {
		states = append(states, st)
	}
	e.mu.RUnlock()

	for _, st := range states {
		if st.live.Load() {
			e.stopChannel(st, "daemon shutdown")
		}
	}
}

// SetPlaylist replaces a channel's playlist.
func (e *Engine) SetPlaylist(id models.ULID, tracks []models.RadioTrack) error {
	for i := range tracks {
		if err := tracks[i].Validate(); err != nil {
			return errkind.Wrap(errkind.Validation, err, "track %d", i)
		}
		if tracks[i].ID == "" {
			tracks[i].ID = models.NewULID().String()
		}
	}

	st, err := e.state(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.playlist = tracks
	st.index = 0
	st.mu.Unlock()
	return nil
}

// AddTrack appends a track, or inserts at position when 0 <= position < len.
func (e *Engine) AddTrack(id models.ULID, track models.RadioTrack, position int) error {
	if err := track.Validate(); err != nil {
		return errkind.Wrap(errkind.Validation, err, "invalid track")
	}
	if track.ID == "" {
		track.ID = models.NewULID().String()
	}

	st, err := e.state(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if position >= 0 && position < len(st.playlist) {
		st.playlist = append(st.playlist[:position],
			append([]models.RadioTrack{track}, st.playlist[position:]...)...)
	} else {
		st.playlist = append(st.playlist, track)
	}
	st.mu.Unlock()
	return nil
}

// RemoveTrack deletes a track by ID.
func (e *Engine) RemoveTrack(id models.ULID, trackID string) error {
	st, err := e.state(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	for i, t := range st.playlist {
		if t.ID == trackID {
			st.playlist = append(st.playlist[:i], st.playlist[i+1:]...)
			if st.index > i {
				st.index--
			}
			return nil
		}
	}
	return errkind.E(errkind.NotFound, "track %s not in playlist", trackID)
}

// GetPlaylist returns a copy of the channel's playlist.
func (e *Engine) GetPlaylist(id models.ULID) ([]models.RadioTrack, error) {
	st, err := e.state(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]models.RadioTrack, len(st.playlist))
	copy(out, st.playlist)
	return out, nil
}

// Skip aborts the current track and advances immediately.
func (e *Engine) Skip(id models.ULID) error {
	st, err := e.state(id)
	if err != nil {
		return err
	}
	if !st.live.Load() {
		return errkind.E(errkind.Conflict, "radio channel %s is not live", id)
	}

	select {
	case st.skipCh <- struct{}{}:
	default:
		// A skip is already pending; the current track stops shortly.
	}
	return nil
}

// NowPlaying returns the current track.
func (e *Engine) NowPlaying(id models.ULID) (*models.RadioTrack, error) {
	st, err := e.state(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.nowPlaying == nil {
		return nil, errkind.E(errkind.NotFound, "nothing playing on channel %s", id)
	}
	track := *st.nowPlaying
	return &track, nil
}

// SetAutoDJ configures auto-DJ folders for a channel.
func (e *Engine) SetAutoDJ(id models.ULID, enabled bool, folders []string, shuffle bool) error {
	st, err := e.state(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.config.AutoDJ = enabled
	st.config.AutoDJFolders = folders
	st.config.Shuffle = shuffle
	st.mu.Unlock()
	return nil
}

// ListenerDelta adjusts a channel's listener count; called by the HTTP
// adaptor on attach/detach. The count never goes negative.
func (e *Engine) ListenerDelta(id models.ULID, delta int) {
	st, err := e.state(id)
	if err != nil {
		return
	}

	for {
		cur := st.listeners.Load()
		next := cur + int32(delta)
		if next < 0 {
			next = 0
		}
		if st.listeners.CompareAndSwap(cur, next) {
			break
		}
	}
	observability.RadioListenersTotal.Set(float64(e.TotalListeners()))
}

// TotalListeners sums listener counts across all channels.
func (e *Engine) TotalListeners() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	total := 0
	for _, st := range e.channels {
		total += int(st.listeners.Load())
	}
	return total
}

// ResolveMount maps a mount name back to its channel ID.
func (e *Engine) ResolveMount(mount string) (models.ULID, bool) {
	id, err := models.ParseULID(mount)
	if err != nil {
		return models.ULID{}, false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.channels[id]
	return id, ok
}

// StreamMimeType returns the Content-Type served for channel streams.
func (e *Engine) StreamMimeType() string {
	return e.cfg.StreamMimeType
}

// state looks up a channel.
func (e *Engine) state(id models.ULID) (*channelState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, ok := e.channels[id]
	if !ok {
		return nil, errkind.E(errkind.NotFound, "radio channel %s not found", id)
	}
	return st, nil
}

// statusLocked builds the external status snapshot. Caller holds the
// engine map lock (read or write).
func (e *Engine) statusLocked(st *channelState) *models.RadioChannelStatus {
	st.mu.Lock()
	defer st.mu.Unlock()

	status := &models.RadioChannelStatus{
		ID:            st.id,
		Config:        st.config,
		Live:          st.live.Load(),
		ListenerCount: int(st.listeners.Load()),
		PlaylistLen:   len(st.playlist),
		StopReason:    st.stopReason,
	}
	if !st.startedAt.IsZero() {
		t := st.startedAt
		status.StartedAt = &t
	}
	if st.nowPlaying != nil {
		track := *st.nowPlaying
		status.NowPlaying = &track
	}
	if st.nextUp != nil {
		track := *st.nextUp
		status.NextUp = &track
	}
	if status.Live {
		status.StreamURL = streamURL(mountName(st.id))
	}
	return status
}

// mountName is the broadcaster mount for a channel.
func mountName(id models.ULID) string {
	return id.String()
}

// streamURL is the daemon-relative listen URL for a mount.
func streamURL(mount string) string {
	return fmt.Sprintf("/stream/%s", mount)
}
