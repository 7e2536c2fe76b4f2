// Package tv implements the TV engine: per-channel schedule loops that
// encode scheduled programs into multi-bitrate transport-stream segments,
// maintain rolling variant playlists plus a master playlist, insert
// bumpers and commercial breaks, and project the schedule into an EPG.
package tv

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

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

// channelState is the engine-internal record for one TV channel.
type channelState struct {
	id     models.ULID
	config models.TvChannelConfig

	mu         sync.Mutex
	schedule   []models.TvScheduleEntry // sorted by StartAt
	nowPlaying *models.TvProgram
	nextUp     *models.TvProgram
	stopReason string
	startedAt  time.Time
	lastBreak  time.Time

	live    atomic.Bool
	viewers atomic.Int32

	cancel   context.CancelFunc
	loopDone chan struct{}
}

// Engine manages TV channels.
type Engine struct {
	cfg         config.TVConfig
	runner      *ffmpeg.Runner
	prober      *ffmpeg.Prober
	broadcaster *broadcast.Broadcaster
	notifier    Notifier
	logger      *slog.Logger

	mu       sync.RWMutex
	channels map[models.ULID]*channelState

	epgMu    sync.RWMutex
	epgCache []models.EpgEntry
	epgCron  *cron.Cron
}

// New creates the TV engine.
func New(cfg config.TVConfig, runner *ffmpeg.Runner, prober *ffmpeg.Prober, broadcaster *broadcast.Broadcaster, notifier Notifier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Engine{
		cfg:         cfg,
		runner:      runner,
		prober:      prober,
		broadcaster: broadcaster,
		notifier:    notifier,
		logger:      logger,
		channels:    make(map[models.ULID]*channelState),
	}
}

// StartEPGRefresh schedules periodic regeneration of the cached EPG.
func (e *Engine) StartEPGRefresh() error {
	e.epgCron = cron.New(cron.WithSeconds())
	if _, err := e.epgCron.AddFunc(e.cfg.EPGRefreshCron, e.refreshEPG); err != nil {
		return fmt.Errorf("scheduling EPG refresh: %w", err)
	}
	e.epgCron.Start()
	e.refreshEPG()
	return nil
}

// Create allocates a channel with live=false and returns its status.
func (e *Engine) Create(cfg models.TvChannelConfig) (*models.TvChannelStatus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errkind.Wrap(errkind.Validation, err, "invalid channel config")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.channels) >= e.cfg.MaxChannels {
		return nil, errkind.E(errkind.Conflict, "channel limit reached (%d)", e.cfg.MaxChannels)
	}

	applyTvDefaults(&cfg, e.cfg)

	st := &channelState{
		id:     models.NewULID(),
		config: cfg,
	}
	e.channels[st.id] = st

	e.logger.Info("tv channel created",
		slog.String("channel_id", st.id.String()),
		slog.String("name", cfg.Name))
	return e.statusLocked(st), nil
}

// applyTvDefaults fills unset channel fields from engine configuration.
func applyTvDefaults(cfg *models.TvChannelConfig, engine config.TVConfig) {
	if cfg.VideoCodec == "" {
		cfg.VideoCodec = engine.VideoCodec
	}
	if cfg.AudioCodec == "" {
		cfg.AudioCodec = engine.AudioCodec
	}
	if cfg.BreakDuration == 0 {
		cfg.BreakDuration = engine.CommercialBreak
	}
}

// Update mutates channel configuration. Encoding changes take effect on
// the next segment boundary.
func (e *Engine) Update(id models.ULID, cfg models.TvChannelConfig) (*models.TvChannelStatus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errkind.Wrap(errkind.Validation, err, "invalid channel config")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.channels[id]
	if !ok {
		return nil, errkind.E(errkind.NotFound, "tv channel %s not found", id)
	}

	applyTvDefaults(&cfg, e.cfg)
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
		return errkind.E(errkind.NotFound, "tv channel %s not found", id)
	}
	if st.live.Load() {
		return errkind.E(errkind.Conflict, "tv channel %s is live; stop it first", id)
	}

	delete(e.channels, id)
	e.logger.Info("tv channel deleted", slog.String("channel_id", id.String()))
	return nil
}

// Get returns a channel's status.
func (e *Engine) Get(id models.ULID) (*models.TvChannelStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, ok := e.channels[id]
	if !ok {
		return nil, errkind.E(errkind.NotFound, "tv channel %s not found", id)
	}
	return e.statusLocked(st), nil
}

// List returns all channels, optionally filtered by tenant.
func (e *Engine) List(tenantID string) []*models.TvChannelStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*models.TvChannelStatus, 0, len(e.channels))
	for _, st := range e.channels {
		if tenantID != "" && st.config.TenantID != tenantID {
			continue
		}
		out = append(out, e.statusLocked(st))
	}
	return out
}

// Start marks the channel live and launches its loop. Idempotent.
func (e *Engine) Start(id models.ULID) (*models.TvChannelStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.channels[id]
	if !ok {
		return nil, errkind.E(errkind.NotFound, "tv channel %s not found", id)
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
	st.lastBreak = time.Now()
	st.stopReason = ""
	st.mu.Unlock()

	go e.runLoop(ctx, st)

	go e.notifier.Notify(context.Background(), models.Notification{
		Kind:      models.NotifyStreamStarted,
		TenantID:  st.config.TenantID,
		ChannelID: st.id.String(),
		Payload: map[string]any{
			"name":       st.config.Name,
			"master_url": masterURL(st.id),
		},
	})

	e.logger.Info("tv channel started", slog.String("channel_id", id.String()))
	return e.statusLocked(st), nil
}

// Stop signals the loop to exit, waits briefly, and removes the mount.
// Idempotent.
func (e *Engine) Stop(id models.ULID) error {
	e.mu.Lock()
	st, ok := e.channels[id]
	e.mu.Unlock()

	if !ok {
		return errkind.E(errkind.NotFound, "tv channel %s not found", id)
	}
	if !st.live.Load() {
		return nil
	}

	e.stopChannel(st, "stopped by request")
	return nil
}

// stopChannel performs the teardown shared by Stop and Shutdown.
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
			e.logger.Warn("tv loop did not exit in time",
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

	e.logger.Info("tv channel stopped",
		slog.String("channel_id", st.id.String()),
		slog.String("reason", reason))
}

// Shutdown stops the EPG cron and every live channel.
func (e *Engine) Shutdown() {
	if e.epgCron != nil {
		e.epgCron.Stop()
	}

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

// SetSchedule replaces a channel's schedule. Entries are validated and
// kept sorted by start time.
func (e *Engine) SetSchedule(id models.ULID, entries []models.TvScheduleEntry) error {
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return errkind.Wrap(errkind.Validation, err, "schedule entry %d", i)
		}
		if entries[i].Program.ID == "" {
			entries[i].Program.ID = models.NewULID().String()
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StartAt.Before(entries[j].StartAt)
	})

	st, err := e.state(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.schedule = entries
	st.mu.Unlock()

	e.refreshEPG()
	return nil
}

// AddProgram inserts one schedule entry, keeping sort order.
func (e *Engine) AddProgram(id models.ULID, entry models.TvScheduleEntry) error {
	if err := entry.Validate(); err != nil {
		return errkind.Wrap(errkind.Validation, err, "invalid schedule entry")
	}
	if entry.Program.ID == "" {
		entry.Program.ID = models.NewULID().String()
	}

	st, err := e.state(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.schedule = append(st.schedule, entry)
	sort.Slice(st.schedule, func(i, j int) bool {
		return st.schedule[i].StartAt.Before(st.schedule[j].StartAt)
	})
	st.mu.Unlock()

	e.refreshEPG()
	return nil
}

// RemoveProgram deletes a schedule entry by program ID.
func (e *Engine) RemoveProgram(id models.ULID, programID string) error {
	st, err := e.state(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	for i, entry := range st.schedule {
		if entry.Program.ID == programID {
			st.schedule = append(st.schedule[:i], st.schedule[i+1:]...)
			return nil
		}
	}
	return errkind.E(errkind.NotFound, "program %s not in schedule", programID)
}

// GetSchedule returns schedule entries overlapping [from, to).
func (e *Engine) GetSchedule(id models.ULID, from, to time.Time) ([]models.TvScheduleEntry, error) {
	st, err := e.state(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	var out []models.TvScheduleEntry
	for _, entry := range st.schedule {
		if entry.EndAt().After(from) && entry.StartAt.Before(to) {
			out = append(out, entry)
		}
	}
	return out, nil
}

// SetBumpers configures intro/outro bumpers.
func (e *Engine) SetBumpers(id models.ULID, intro, outro string) error {
	st, err := e.state(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.config.IntroBumper = intro
	st.config.OutroBumper = outro
	st.mu.Unlock()
	return nil
}

// SetCommercials configures the commercial pool and target break duration.
func (e *Engine) SetCommercials(id models.ULID, commercials []string, breakDuration time.Duration) error {
	st, err := e.state(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.config.Commercials = commercials
	if breakDuration > 0 {
		st.config.BreakDuration = breakDuration
	}
	st.mu.Unlock()
	return nil
}

// NowPlaying returns the current program.
func (e *Engine) NowPlaying(id models.ULID) (*models.TvProgram, error) {
	st, err := e.state(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.nowPlaying == nil {
		return nil, errkind.E(errkind.NotFound, "nothing playing on channel %s", id)
	}
	program := *st.nowPlaying
	return &program, nil
}

// NextProgram returns the next scheduled program after now.
func (e *Engine) NextProgram(id models.ULID) (*models.TvScheduleEntry, error) {
	st, err := e.state(id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, entry := range st.schedule {
		if entry.StartAt.After(now) {
			e := entry
			return &e, nil
		}
	}
	return nil, errkind.E(errkind.NotFound, "no upcoming program on channel %s", id)
}

// ViewerDelta adjusts a channel's viewer count; called by the HTTP adaptor
// on attach/detach. The count never goes negative.
func (e *Engine) ViewerDelta(id models.ULID, delta int) {
	st, err := e.state(id)
	if err != nil {
		return
	}

	for {
		cur := st.viewers.Load()
		next := cur + int32(delta)
		if next < 0 {
			next = 0
		}
		if st.viewers.CompareAndSwap(cur, next) {
			break
		}
	}
	observability.TVViewersTotal.Set(float64(e.TotalViewers()))
}

// TotalViewers sums viewer counts across all channels.
func (e *Engine) TotalViewers() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	total := 0
	for _, st := range e.channels {
		total += int(st.viewers.Load())
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

// state looks up a channel.
func (e *Engine) state(id models.ULID) (*channelState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, ok := e.channels[id]
	if !ok {
		return nil, errkind.E(errkind.NotFound, "tv channel %s not found", id)
	}
	return st, nil
}

// statusLocked builds the external status snapshot. Caller holds the
// engine map lock.
func (e *Engine) statusLocked(st *channelState) *models.TvChannelStatus {
	st.mu.Lock()
	defer st.mu.Unlock()

	status := &models.TvChannelStatus{
		ID:          st.id,
		Config:      st.config,
		Live:        st.live.Load(),
		ViewerCount: int(st.viewers.Load()),
		ScheduleLen: len(st.schedule),
		StopReason:  st.stopReason,
	}
	if !st.startedAt.IsZero() {
		t := st.startedAt
		status.StartedAt = &t
	}
	if st.nowPlaying != nil {
		program := *st.nowPlaying
		status.NowPlaying = &program
	}
	if st.nextUp != nil {
		program := *st.nextUp
		status.NextUp = &program
	}
	if status.Live {
		status.MasterURL = masterURL(st.id)
		status.VariantURLs = make(map[string]string, len(e.cfg.Variants))
		for _, v := range e.cfg.Variants {
			status.VariantURLs[v.Name] = variantURL(st.id, v.Name)
		}
	}
	return status
}

// mountName is the broadcaster mount for a channel.
func mountName(id models.ULID) string {
	return id.String()
}

// masterURL is the daemon-relative master playlist URL.
func masterURL(id models.ULID) string {
	return fmt.Sprintf("/hls/tv/%s/master.m3u8", id)
}

// variantURL is the daemon-relative variant playlist URL.
func variantURL(id models.ULID, variant string) string {
	return fmt.Sprintf("/hls/tv/%s/%s/playlist.m3u8", id, variant)
}
