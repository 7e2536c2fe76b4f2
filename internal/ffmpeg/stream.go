package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// PCMFormat describes the raw audio interchange format used between the
// decoder and encoder halves of a channel pipeline: signed 16-bit
// little-endian interleaved samples.
type PCMFormat struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the raw byte rate of the format.
func (f PCMFormat) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// AudioEncodeOptions describe a compressed audio output.
type AudioEncodeOptions struct {
	Codec      string // "mp3", "aac", "opus"
	BitrateK   int
	SampleRate int
	Channels   int
	// TargetLUFS enables a loudnorm filter targeting this integrated
	// loudness. Zero disables normalization.
	TargetLUFS float64
}

// muxerFor maps a codec name to the ffmpeg stream muxer used for raw
// chunked output.
func muxerFor(codec string) (format, encoder string) {
	switch codec {
	case "aac":
		return "adts", "aac"
	case "opus":
		return "ogg", "libopus"
	default:
		return "mp3", "libmp3lame"
	}
}

// Runner invokes ffmpeg child processes. It is safe for concurrent use;
// every invocation is an independent process.
type Runner struct {
	ffmpegPath string
	logger     *slog.Logger
}

// NewRunner creates a runner for a detected ffmpeg binary.
func NewRunner(ffmpegPath string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{ffmpegPath: ffmpegPath, logger: logger}
}

// drainStderr logs encoder diagnostics at debug level without ever
// blocking the child process.
func (r *Runner) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		r.logger.Debug("ffmpeg", slog.String("output", scanner.Text()))
	}
}

// DecodePCM starts decoding a media file to raw PCM and returns a reader
// over the sample stream. The returned closer kills the child process and
// must always be called.
func (r *Runner) DecodePCM(ctx context.Context, path string, format PCMFormat) (io.ReadCloser, error) {
	args := []string{
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(format.Channels),
		"-ar", strconv.Itoa(format.SampleRate),
		"-vn",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg decoder: %w", err)
	}
	go r.drainStderr(stderr)

	return &processReader{ReadCloser: stdout, cmd: cmd}, nil
}

// processReader ties a pipe reader to its owning process so Close reaps it.
type processReader struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (pr *processReader) Close() error {
	pr.ReadCloser.Close()
	if pr.cmd.Process != nil {
		_ = pr.cmd.Process.Kill()
	}
	// Wait returns an error after Kill; the process is gone either way.
	_ = pr.cmd.Wait()
	return nil
}

// PCMEncoder is a persistent encoder process: raw PCM written to it comes
// out as a continuous compressed stream on the supplied writer. A radio
// channel runs exactly one for its whole live span, so track boundaries
// and crossfades never interrupt the output bitstream.
type PCMEncoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	done   chan error
	format PCMFormat
}

// StartPCMEncoder launches the encoder half of a channel pipeline. Encoded
// output is copied to w in chunkSize reads until the process exits or ctx
// is cancelled.
func (r *Runner) StartPCMEncoder(ctx context.Context, format PCMFormat, opts AudioEncodeOptions, w io.Writer, chunkSize int) (*PCMEncoder, error) {
	outFormat, encoder := muxerFor(opts.Codec)

	args := []string{
		"-f", "s16le",
		"-ac", strconv.Itoa(format.Channels),
		"-ar", strconv.Itoa(format.SampleRate),
		"-i", "pipe:0",
	}
	if opts.TargetLUFS != 0 {
		args = append(args, "-af", fmt.Sprintf("loudnorm=I=%.1f:TP=-1.5:LRA=11", opts.TargetLUFS))
	}
	args = append(args,
		"-c:a", encoder,
		"-b:a", fmt.Sprintf("%dk", opts.BitrateK),
		"-f", outFormat,
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg encoder: %w", err)
	}
	go r.drainStderr(stderr)

	enc := &PCMEncoder{
		cmd:    cmd,
		stdin:  stdin,
		done:   make(chan error, 1),
		format: format,
	}

	go func() {
		buf := make([]byte, chunkSize)
		_, copyErr := io.CopyBuffer(w, stdout, buf)
		waitErr := cmd.Wait()
		if copyErr != nil {
			enc.done <- copyErr
			return
		}
		enc.done <- waitErr
	}()

	return enc, nil
}

// Write feeds raw PCM samples into the encoder.
func (e *PCMEncoder) Write(p []byte) (int, error) {
	return e.stdin.Write(p)
}

// Close flushes the encoder and waits for the compressed tail to drain.
func (e *PCMEncoder) Close() error {
	_ = e.stdin.Close()
	select {
	case err := <-e.done:
		return err
	case <-time.After(5 * time.Second):
		if e.cmd.Process != nil {
			_ = e.cmd.Process.Kill()
		}
		return fmt.Errorf("encoder did not drain within 5s")
	}
}

// TranscodeSpec describes a file-to-file transcode for the built-in
// plugins. Args are appended between input and output.
type TranscodeSpec struct {
	InputPath  string
	OutputPath string
	Args       []string
	// Duration of the input, used to turn encoder time reports into a
	// percentage. Zero disables percent calculation.
	Duration time.Duration
}

// ProgressFunc receives transcode progress as a percentage in [0,100).
type ProgressFunc func(percent float64)

// Transcode runs a file-to-file conversion, reporting progress parsed from
// the encoder's machine-readable progress stream. The context deadline is
// the process wall-clock timeout; expiry kills the process.
func (r *Runner) Transcode(ctx context.Context, spec TranscodeSpec, progress ProgressFunc) error {
	args := []string{"-y", "-i", spec.InputPath}
	args = append(args, spec.Args...)
	args = append(args, "-progress", "pipe:1", "-nostats", spec.OutputPath)

	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	var stderrTail strings.Builder
	cmd.Stderr = &limitedWriter{w: &stderrTail, limit: 4096}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		// Progress stream is key=value lines; out_time_us carries position.
		if progress != nil && spec.Duration > 0 && strings.HasPrefix(line, "out_time_us=") {
			us, err := strconv.ParseInt(strings.TrimPrefix(line, "out_time_us="), 10, 64)
			if err != nil {
				continue
			}
			pct := float64(us) / float64(spec.Duration.Microseconds()) * 100
			if pct > 99 {
				pct = 99
			}
			if pct >= 0 {
				progress(pct)
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("ffmpeg timed out: %w", ctx.Err())
		}
		if ctx.Err() == context.Canceled {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, lastLine(stderrTail.String()))
	}
	return nil
}

// SegmentSpec describes one fixed-duration transport-stream segment of an
// input at one TV variant's resolution and bitrate.
type SegmentSpec struct {
	InputPath  string
	OutputPath string
	Offset     time.Duration
	Duration   time.Duration
	Width      int
	Height     int
	BitrateK   int
	VideoCodec string
	Preset     string
	AudioCodec string
	AudioK     int
	SampleRate int
}

// EncodeSegment renders one fixed-duration segment of the input at the
// variant's resolution and bitrate.
func (r *Runner) EncodeSegment(ctx context.Context, spec SegmentSpec) error {
	videoEncoder := spec.VideoCodec
	if videoEncoder == "h264" || videoEncoder == "" {
		videoEncoder = "libx264"
	}
	audioEncoder := spec.AudioCodec
	if audioEncoder == "" {
		audioEncoder = "aac"
	}

	args := []string{
		"-y",
		"-ss", formatSeconds(spec.Offset),
		"-t", formatSeconds(spec.Duration),
		"-i", spec.InputPath,
		"-vf", fmt.Sprintf("scale=%d:%d", spec.Width, spec.Height),
		"-c:v", videoEncoder,
		"-preset", spec.Preset,
		"-b:v", fmt.Sprintf("%dk", spec.BitrateK),
		"-c:a", audioEncoder,
		"-b:a", fmt.Sprintf("%dk", spec.AudioK),
		"-ar", strconv.Itoa(spec.SampleRate),
		"-f", "mpegts",
		spec.OutputPath,
	}

	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)
	var stderrTail strings.Builder
	cmd.Stderr = &limitedWriter{w: &stderrTail, limit: 4096}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("segment encode failed: %w: %s", err, lastLine(stderrTail.String()))
	}
	return nil
}

// formatSeconds renders a duration as fractional seconds for ffmpeg args.
func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// lastLine returns the final non-empty line of encoder stderr, which is
// where ffmpeg puts its actual error.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

// limitedWriter keeps only the trailing portion of what is written to it.
type limitedWriter struct {
	w     *strings.Builder
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.w.Len()+len(p) > lw.limit {
		// Reset and keep the newest output; error text is at the tail.
		tail := lw.w.String()
		if len(tail) > lw.limit/2 {
			tail = tail[len(tail)-lw.limit/2:]
		}
		lw.w.Reset()
		lw.w.WriteString(tail)
	}
	return lw.w.Write(p)
}
