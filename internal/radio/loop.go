package radio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/mediabuilder/mediad/internal/broadcast"
	"github.com/mediabuilder/mediad/internal/ffmpeg"
	"github.com/mediabuilder/mediad/internal/models"
)

// errMountClosed signals that the channel's mount was removed underneath
// the loop; writes have become no-ops and the loop must exit.
var errMountClosed = errors.New("broadcast mount closed")

// errStopped signals the live flag was cleared.
var errStopped = errors.New("channel stopped")

// mountWriter adapts broadcaster writes to io.Writer so the encoder's
// output goroutine can detect mount removal.
type mountWriter struct {
	b     *broadcast.Broadcaster
	mount string
}

func (w *mountWriter) Write(p []byte) (int, error) {
	if !w.b.Write(w.mount, p) {
		return 0, errMountClosed
	}
	return len(p), nil
}

// trackStream is one track's open PCM decoder.
type trackStream struct {
	track      models.RadioTrack
	r          io.ReadCloser
	totalBytes int64 // 0 when the duration is unknown
}

func (ts *trackStream) Close() {
	if ts != nil && ts.r != nil {
		_ = ts.r.Close()
	}
}

// pacer keeps PCM production at real-time rate so the encoded stream does
// not burst ahead of wall clock.
type pacer struct {
	base      time.Time
	sentBytes int64
	rate      int // bytes per second
}

func newPacer(rate int) *pacer {
	return &pacer{base: time.Now(), rate: rate}
}

// wait sleeps until wall clock catches up with the bytes sent so far.
func (p *pacer) wait(ctx context.Context, n int) {
	p.sentBytes += int64(n)
	due := p.base.Add(time.Duration(p.sentBytes) * time.Second / time.Duration(p.rate))
	delay := time.Until(due)
	if delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// runLoop is the per-channel playback loop: it owns one persistent encoder
// process for the whole live span, decodes each track to PCM, mixes
// crossfades at sample granularity, and paces output at real time.
func (e *Engine) runLoop(ctx context.Context, st *channelState) {
	defer close(st.loopDone)

	logger := e.logger.With(slog.String("channel_id", st.id.String()))

	st.mu.Lock()
	cfg := st.config
	st.mu.Unlock()

	format := ffmpeg.PCMFormat{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	writer := &mountWriter{b: e.broadcaster, mount: mountName(st.id)}

	closeEncoder := func(enc *ffmpeg.PCMEncoder) {
		if err := enc.Close(); err != nil && !errors.Is(err, errMountClosed) && ctx.Err() == nil {
			logger.Debug("encoder close", slog.String("error", err.Error()))
		}
	}

	enc, err := e.runner.StartPCMEncoder(ctx, format, encodeOptions(cfg), writer, e.chunkSize)
	if err != nil {
		logger.Error("failed to start channel encoder", slog.String("error", err.Error()))
		e.failChannel(st, "encoder start failed: "+err.Error())
		return
	}
	defer func() { closeEncoder(enc) }()

	pace := newPacer(format.BytesPerSecond())
	failures := 0
	var carry *trackStream

	for {
		if ctx.Err() != nil || !st.live.Load() {
			carry.Close()
			return
		}

		// Encoding changes take effect at item boundaries: if an update
		// changed the encode settings, swap the encoder here, between
		// tracks. The PCM format is fixed for the channel's live span.
		st.mu.Lock()
		newCfg := st.config
		st.mu.Unlock()
		if encodeOptions(newCfg) != encodeOptions(cfg) {
			closeEncoder(enc)
			cfg = newCfg
			enc, err = e.runner.StartPCMEncoder(ctx, format, encodeOptions(cfg), writer, e.chunkSize)
			if err != nil {
				logger.Error("encoder restart failed", slog.String("error", err.Error()))
				e.failChannel(st, "encoder restart failed: "+err.Error())
				carry.Close()
				return
			}
			logger.Info("encoder settings applied at item boundary",
				slog.String("codec", cfg.Codec),
				slog.Int("bitrate_kbps", cfg.BitrateK))
		}

		cur := carry
		carry = nil
		if cur == nil {
			track, ok := e.dequeueTrack(st)
			if !ok {
				// Empty playlist: stay live and idle; auto-DJ channels
				// rescan on the next pass.
				select {
				case <-ctx.Done():
					return
				case <-time.After(e.cfg.EmptyRescan):
				}
				continue
			}

			cur, err = e.openTrack(ctx, track, format)
			if err != nil {
				logger.Error("track open failed",
					slog.String("track", track.Path),
					slog.String("error", err.Error()))
				failures++
				if failures >= e.cfg.FailureLimit {
					e.failChannel(st, "consecutive track failures")
					return
				}
				continue
			}
		}

		e.setNowPlaying(st, cur.track)
		logger.Info("now playing",
			slog.String("track", cur.track.Path),
			slog.String("title", cur.track.Title))

		carry, err = e.playTrack(ctx, st, enc, cur, format, pace)
		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, errStopped), errors.Is(err, context.Canceled), ctx.Err() != nil:
			carry.Close()
			return
		case errors.Is(err, errMountClosed):
			carry.Close()
			return
		default:
			logger.Error("track playback failed",
				slog.String("track", cur.track.Path),
				slog.String("error", err.Error()))
			failures++
			if failures >= e.cfg.FailureLimit {
				carry.Close()
				e.failChannel(st, "consecutive track failures")
				return
			}
		}
	}
}

// playTrack streams one track through the encoder, starting the next
// track's decoder once the remaining bytes fall inside the crossfade
// window and mixing the two at sample granularity. Returns the carried
// next-track stream, already partially consumed by the fade.
func (e *Engine) playTrack(ctx context.Context, st *channelState, enc *ffmpeg.PCMEncoder, cur *trackStream, format ffmpeg.PCMFormat, pace *pacer) (*trackStream, error) {
	defer cur.Close()

	st.mu.Lock()
	crossfade := st.config.Crossfade
	st.mu.Unlock()

	frameBytes := 2 * format.Channels
	chunkBytes := format.BytesPerSecond() / 10 // 100ms of audio per chunk
	chunkBytes -= chunkBytes % frameBytes

	crossfadeBytes := int64(crossfade.Seconds() * float64(format.BytesPerSecond()))
	crossfadeBytes -= crossfadeBytes % int64(frameBytes)

	buf := make([]byte, chunkBytes)
	headBuf := make([]byte, chunkBytes)
	mixBuf := make([]byte, chunkBytes)

	var next *trackStream
	var mixer *ffmpeg.CrossfadeMixer
	var played int64

	for {
		select {
		case <-ctx.Done():
			next.Close()
			return nil, ctx.Err()
		case <-st.skipCh:
			next.Close()
			return nil, nil
		default:
		}
		if !st.live.Load() {
			next.Close()
			return nil, errStopped
		}

		// Enter the crossfade window: begin the next track's decoder so
		// chunk production stays continuous across the boundary.
		if mixer == nil && crossfadeBytes > 0 && cur.totalBytes > 0 &&
			cur.totalBytes-played <= crossfadeBytes {
			if track, ok := e.dequeueTrack(st); ok {
				opened, err := e.openTrack(ctx, track, format)
				if err == nil {
					next = opened
					mixer = ffmpeg.NewCrossfadeMixer(int(crossfadeBytes)/frameBytes, format.Channels)
				}
			}
		}

		n, readErr := io.ReadFull(cur.r, buf)
		n -= n % frameBytes

		if n > 0 {
			out := buf[:n]
			if mixer != nil && next != nil {
				m, _ := io.ReadFull(next.r, headBuf[:n])
				for i := m; i < n; i++ {
					headBuf[i] = 0
				}
				mixer.Mix(mixBuf[:n], buf[:n], headBuf[:n])
				out = mixBuf[:n]
			}
			if _, err := enc.Write(out); err != nil {
				next.Close()
				return nil, errMountClosed
			}
			played += int64(n)
			pace.wait(ctx, n)
		}

		if readErr != nil {
			// EOF ends the track; the carried stream continues at full gain.
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				return next, nil
			}
			next.Close()
			return nil, readErr
		}
	}
}

// encodeOptions derives the encoder settings from channel config. Sample
// rate and channel count stay pinned to the loop's PCM format.
func encodeOptions(cfg models.RadioChannelConfig) ffmpeg.AudioEncodeOptions {
	return ffmpeg.AudioEncodeOptions{
		Codec:      cfg.Codec,
		BitrateK:   cfg.BitrateK,
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		TargetLUFS: cfg.TargetLUFS,
	}
}

// openTrack probes a track and starts its PCM decoder.
func (e *Engine) openTrack(ctx context.Context, track models.RadioTrack, format ffmpeg.PCMFormat) (*trackStream, error) {
	duration := track.Duration
	if duration == 0 && e.prober != nil {
		if info, err := e.prober.ProbeMedia(ctx, track.Path); err == nil {
			duration = info.Duration
		}
	}

	r, err := e.runner.DecodePCM(ctx, track.Path, format)
	if err != nil {
		return nil, err
	}

	var totalBytes int64
	if duration > 0 {
		totalBytes = int64(duration.Seconds() * float64(format.BytesPerSecond()))
	}
	return &trackStream{track: track, r: r, totalBytes: totalBytes}, nil
}

// dequeueTrack returns the next playlist entry, cycling at the end.
// Auto-DJ channels rescan their folders when the playlist runs empty.
func (e *Engine) dequeueTrack(st *channelState) (models.RadioTrack, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if len(st.playlist) == 0 && st.config.AutoDJ {
		tracks := e.scanFolders(st.config.AutoDJFolders, st.config.Shuffle)
		if len(tracks) > 0 {
			st.playlist = tracks
			st.index = 0
			e.logger.Info("auto-dj repopulated playlist",
				slog.String("channel_id", st.id.String()),
				slog.Int("tracks", len(tracks)))
		}
	}
	if len(st.playlist) == 0 {
		return models.RadioTrack{}, false
	}

	track := st.playlist[st.index]
	st.index = (st.index + 1) % len(st.playlist)
	nextUp := st.playlist[st.index]
	st.nextUp = &nextUp
	return track, true
}

// setNowPlaying updates the channel's current track and fires the
// track-change notification.
func (e *Engine) setNowPlaying(st *channelState, track models.RadioTrack) {
	st.mu.Lock()
	st.nowPlaying = &track
	tenant := st.config.TenantID
	st.mu.Unlock()

	go e.notifier.Notify(context.Background(), models.Notification{
		Kind:      models.NotifyNowPlaying,
		TenantID:  tenant,
		ChannelID: st.id.String(),
		Payload: map[string]any{
			"path":   track.Path,
			"title":  track.Title,
			"artist": track.Artist,
		},
	})
}

// failChannel demotes a channel to live=false with a reason, from inside
// the loop. The mount is removed so listeners disconnect promptly.
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

	e.logger.Warn("radio channel demoted to offline",
		slog.String("channel_id", st.id.String()),
		slog.String("reason", reason))
}
