package tv

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mediabuilder/mediad/internal/ffmpeg"
	"github.com/mediabuilder/mediad/internal/models"
)

// segmenter tracks per-channel segment numbering and playlist windows.
type segmenter struct {
	outputDir string
	variants  []segVariant
	window    int
	segDur    time.Duration
	seq       uint64
}

type segVariant struct {
	name     string
	width    int
	height   int
	bitrateK int
	segments []string // rolling window of segment filenames
}

// runLoop is the per-channel schedule loop. It walks the schedule by wall
// clock, renders fixed-duration segments per variant, maintains the
// rolling playlists, and fills gaps with idle filler and commercial
// breaks.
func (e *Engine) runLoop(ctx context.Context, st *channelState) {
	defer close(st.loopDone)

	logger := e.logger.With(slog.String("channel_id", st.id.String()))

	seg, err := e.newSegmenter(st)
	if err != nil {
		logger.Error("segmenter setup failed", slog.String("error", err.Error()))
		e.failChannel(st, "output directory setup failed: "+err.Error())
		return
	}
	if err := seg.writeMasterPlaylist(); err != nil {
		logger.Error("master playlist write failed", slog.String("error", err.Error()))
	}

	failures := 0
	for {
		if ctx.Err() != nil || !st.live.Load() {
			return
		}

		now := time.Now()
		entry := e.currentEntry(st, now)

		var source string
		var offset, remaining time.Duration
		var program *models.TvProgram

		if entry != nil {
			p := entry.Program
			program = &p
			source = p.Path
			offset = now.Sub(entry.StartAt)
			remaining = entry.Program.Duration - offset
		} else {
			// Schedule gap: play the idle filler from its start, one
			// segment at a time.
			source = e.idleSource(st)
			if source == "" {
				// Nothing to show; idle quietly until the next boundary.
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			offset = 0
			remaining = e.cfg.SegmentDuration
		}

		e.setNowPlaying(st, program)

		segDur := e.cfg.SegmentDuration
		if remaining < segDur {
			segDur = remaining
		}
		if segDur <= 0 {
			continue
		}

		if err := e.renderSegment(ctx, st, seg, source, offset, segDur); err != nil {
			if ctx.Err() != nil || !st.live.Load() {
				return
			}
			logger.Error("segment encode failed",
				slog.String("source", source),
				slog.String("error", err.Error()))
			failures++
			if failures >= e.cfg.FailureLimit {
				e.failChannel(st, "consecutive segment failures")
				return
			}
			// Wait a second before retrying; the next pass recomputes the
			// position from the wall clock, so a broken source does not
			// wedge the channel.
			time.Sleep(time.Second)
			continue
		}
		failures = 0

		// Program boundary: run a commercial break when the cadence is due.
		// A cadence boundary falling inside a program defers to this point,
		// which keeps insertion deterministic for a given schedule.
		if entry != nil && remaining <= e.cfg.SegmentDuration {
			e.maybeCommercialBreak(ctx, st, seg)
		}
	}
}

// newSegmenter prepares the channel's output tree.
func (e *Engine) newSegmenter(st *channelState) (*segmenter, error) {
	outputDir := filepath.Join(e.cfg.OutputDir, st.id.String())

	seg := &segmenter{
		outputDir: outputDir,
		window:    e.cfg.PlaylistWindow,
		segDur:    e.cfg.SegmentDuration,
	}
	for _, v := range e.cfg.Variants {
		if err := os.MkdirAll(filepath.Join(outputDir, v.Name), 0o755); err != nil {
			return nil, err
		}
		seg.variants = append(seg.variants, segVariant{
			name:     v.Name,
			width:    v.Width,
			height:   v.Height,
			bitrateK: v.BitrateKbps,
		})
	}
	return seg, nil
}

// renderSegment encodes one segment for every variant, updates playlists,
// and pushes the top variant's bytes onto the broadcaster mount. Variants
// encode concurrently; the wall clock is paced to the segment duration.
func (e *Engine) renderSegment(ctx context.Context, st *channelState, seg *segmenter, source string, offset, dur time.Duration) error {
	st.mu.Lock()
	videoCodec := st.config.VideoCodec
	audioCodec := st.config.AudioCodec
	st.mu.Unlock()

	started := time.Now()
	name := fmt.Sprintf("seg%06d.ts", seg.seq)

	// A segment encode that cannot finish within a few segment durations
	// is wedged; kill it and let the failure path advance the channel.
	timeout := 4 * e.cfg.SegmentDuration
	if timeout < 30*time.Second {
		timeout = 30 * time.Second
	}
	encodeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(encodeCtx)
	for i := range seg.variants {
		v := &seg.variants[i]
		g.Go(func() error {
			return e.runner.EncodeSegment(gctx, ffmpeg.SegmentSpec{
				InputPath:  source,
				OutputPath: filepath.Join(seg.outputDir, v.name, name),
				Offset:     offset,
				Duration:   dur,
				Width:      v.width,
				Height:     v.height,
				BitrateK:   v.bitrateK,
				VideoCodec: videoCodec,
				Preset:     e.cfg.VideoPreset,
				AudioCodec: audioCodec,
				AudioK:     e.cfg.AudioBitrateKbps,
				SampleRate: e.cfg.AudioSampleRate,
			})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	seg.seq++
	for i := range seg.variants {
		v := &seg.variants[i]
		v.segments = append(v.segments, name)
		if len(v.segments) > seg.window {
			// Evict the oldest segment from the window and from disk.
			old := v.segments[0]
			v.segments = v.segments[1:]
			_ = os.Remove(filepath.Join(seg.outputDir, v.name, old))
		}
		if err := seg.writeVariantPlaylist(v); err != nil {
			e.logger.Warn("variant playlist write failed",
				slog.String("variant", v.name),
				slog.String("error", err.Error()))
		}
	}

	// The mount carries the top variant as a continuous transport stream.
	if len(seg.variants) > 0 {
		top := seg.variants[0]
		data, err := os.ReadFile(filepath.Join(seg.outputDir, top.name, name))
		if err == nil {
			e.broadcaster.Write(mountName(st.id), data)
		}
	}

	// Pace to real time: a 4s segment should occupy ~4s of wall clock.
	elapsed := time.Since(started)
	if wait := dur - elapsed; wait > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
	return nil
}

// currentEntry returns the schedule entry covering now, and refreshes the
// channel's next-up field.
func (e *Engine) currentEntry(st *channelState, now time.Time) *models.TvScheduleEntry {
	st.mu.Lock()
	defer st.mu.Unlock()

	var current *models.TvScheduleEntry
	st.nextUp = nil
	for i := range st.schedule {
		entry := &st.schedule[i]
		if !entry.StartAt.After(now) && entry.EndAt().After(now) {
			current = entry
		}
		if entry.StartAt.After(now) {
			program := entry.Program
			st.nextUp = &program
			break
		}
	}
	return current
}

// idleSource picks what plays during schedule gaps.
func (e *Engine) idleSource(st *channelState) string {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.config.IdleFiller != "" {
		return st.config.IdleFiller
	}
	return st.config.IntroBumper
}

// maybeCommercialBreak inserts commercials between programs when the
// cadence has elapsed, drawing from the pool until the target break
// duration is covered.
func (e *Engine) maybeCommercialBreak(ctx context.Context, st *channelState, seg *segmenter) {
	st.mu.Lock()
	cadence := st.config.BreakCadence
	pool := st.config.Commercials
	target := st.config.BreakDuration
	due := cadence > 0 && time.Since(st.lastBreak) >= cadence
	if due {
		st.lastBreak = time.Now()
	}
	st.mu.Unlock()

	if !due || len(pool) == 0 || target <= 0 {
		return
	}

	e.logger.Info("commercial break",
		slog.String("channel_id", st.id.String()),
		slog.Duration("target", target))

	var filled time.Duration
	idx := 0
	for filled < target {
		if ctx.Err() != nil || !st.live.Load() {
			return
		}
		source := pool[idx%len(pool)]
		idx++

		dur := e.commercialDuration(ctx, source)
		var offset time.Duration
		for offset < dur && filled < target {
			segDur := e.cfg.SegmentDuration
			if dur-offset < segDur {
				segDur = dur - offset
			}
			if segDur <= 0 {
				break
			}
			if err := e.renderSegment(ctx, st, seg, source, offset, segDur); err != nil {
				e.logger.Warn("commercial segment failed",
					slog.String("source", source),
					slog.String("error", err.Error()))
				return
			}
			offset += segDur
			filled += segDur
		}
	}
}

// commercialDuration probes a commercial's length, defaulting to 30s.
func (e *Engine) commercialDuration(ctx context.Context, path string) time.Duration {
	if e.prober != nil {
		if info, err := e.prober.ProbeMedia(ctx, path); err == nil && info.Duration > 0 {
			return info.Duration
		}
	}
	return 30 * time.Second
}

// setNowPlaying updates the channel's current program and fires the
// program-change notification when it changes.
func (e *Engine) setNowPlaying(st *channelState, program *models.TvProgram) {
	st.mu.Lock()
	changed := false
	switch {
	case program == nil && st.nowPlaying != nil:
		st.nowPlaying = nil
		changed = true
	case program != nil && (st.nowPlaying == nil || st.nowPlaying.ID != program.ID):
		p := *program
		st.nowPlaying = &p
		changed = true
	}
	tenant := st.config.TenantID
	st.mu.Unlock()

	if !changed || program == nil {
		return
	}

	go e.notifier.Notify(context.Background(), models.Notification{
		Kind:      models.NotifyNowPlaying,
		TenantID:  tenant,
		ChannelID: st.id.String(),
		Payload: map[string]any{
			"program_id": program.ID,
			"title":      program.Title,
		},
	})
}

// failChannel demotes a channel to live=false with a reason, from inside
// the loop.
func (e *Engine) failChannel(st *channelState, reason string) {
	if !st.live.CompareAndSwap(true, false) {
		return
	}
	st.mu.Lock()
	st.stopReason = reason
	tenant := st.config.TenantID
	name := st.config.Name
	st.mu.Unlock()

	e.broadcaster.RemoveMount(mountName(st.id))

	go e.notifier.Notify(context.Background(), models.Notification{
		Kind:      models.NotifyStreamStopped,
		TenantID:  tenant,
		ChannelID: st.id.String(),
		Payload:   map[string]any{"name": name, "reason": reason},
	})

	e.logger.Warn("tv channel demoted to offline",
		slog.String("channel_id", st.id.String()),
		slog.String("reason", reason))
}
