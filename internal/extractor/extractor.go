package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/scrollsafe/doomscroller/internal/metrics"
)

// Format selectors for the download ladder. The fast path prefers
// progressive MP4 over HTTP so ffmpeg can consume the pipe directly;
// the strict selector drops the bestvideo* split formats that some
// extractors mislabel.
const (
	formatPrimary = "bestvideo*[protocol^=http][ext=mp4]/best[protocol^=http][ext=mp4]/best[protocol^=http]"
	formatStrict  = "best[ext=mp4][protocol^=http]/best[protocol^=http]"
)

const framePattern = "frame_%03d.jpg"

// Extractor pulls evenly spaced JPEG frames out of a video URL using
// yt-dlp and ffmpeg. A fast streaming path is tried first, then three
// fallbacks of increasing cost.
type Extractor struct {
	ytdlpPath   string
	ffmpegPath  string
	ffprobePath string

	cookiesFile    string
	cookiesBrowser string
	timeout        time.Duration
	logger         zerolog.Logger
}

// Config holds extractor configuration.
type Config struct {
	CookiesFile    string
	CookiesBrowser string
	Timeout        time.Duration
	Logger         zerolog.Logger
}

// New verifies the required executables are installed and returns an
// extractor.
func New(config *Config) (*Extractor, error) {
	ytdlpPath, err := exec.LookPath("yt-dlp")
	if err != nil {
		return nil, fmt.Errorf("yt-dlp not found in PATH: %w", err)
	}
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	return &Extractor{
		ytdlpPath:      ytdlpPath,
		ffmpegPath:     ffmpegPath,
		ffprobePath:    ffprobePath,
		cookiesFile:    config.CookiesFile,
		cookiesBrowser: config.CookiesBrowser,
		timeout:        config.Timeout,
		logger:         config.Logger,
	}, nil
}

// Extract returns up to targetFrames JPEG frames evenly spaced across the
// video. Frames are returned in playback order. All temporary files are
// removed before returning.
func (e *Extractor) Extract(ctx context.Context, url string, targetFrames int) ([][]byte, error) {
	start := time.Now()
	e.logger.Info().Str("url", url).Int("target_frames", targetFrames).Msg("starting frame extraction")

	tmpdir, err := os.MkdirTemp("", "doom_frames_")
	if err != nil {
		return nil, fmt.Errorf("failed to create frame directory: %w", err)
	}
	defer os.RemoveAll(tmpdir)

	probe := e.probeMetadata(ctx, url, targetFrames)

	path := "fast"
	errPrimary := e.tryFastPath(ctx, url, formatPrimary, probe.Duration, targetFrames, tmpdir)
	if errPrimary != nil {
		e.logger.Warn().Err(errPrimary).Msg("fast path failed")

		path = "strict"
		errA := e.tryFastPath(ctx, url, formatStrict, probe.Duration, targetFrames, tmpdir)
		if errA != nil {
			e.logger.Warn().Err(errA).Msg("strict-format fallback failed")

			path = "direct"
			errB := e.tryDirectURL(ctx, probe, targetFrames, tmpdir)
			if errB != nil {
				e.logger.Warn().Err(errB).Msg("direct-URL fallback failed")

				path = "tempfile"
				errC := e.tryTempFile(ctx, url, targetFrames, tmpdir)
				if errC != nil {
					combined := errPrimary.Error() + errA.Error() + errB.Error() + errC.Error()
					kind := ClassifyError(combined)
					metrics.ExtractionPath.WithLabelValues("failed:" + string(kind)).Inc()
					return nil, &Error{
						Kind:  kind,
						Stage: "all",
						Detail: fmt.Sprintf("primary: %s | strict: %s | direct: %s | tempfile: %s",
							truncate(errPrimary.Error(), 100), truncate(errA.Error(), 100),
							truncate(errB.Error(), 100), truncate(errC.Error(), 100)),
					}
				}
			}
		}
	}
	metrics.ExtractionPath.WithLabelValues(path).Inc()

	frames, err := readFrames(tmpdir, targetFrames)
	if err != nil {
		return nil, err
	}
	if len(frames) < targetFrames {
		e.logger.Info().Int("got", len(frames)).Int("want", targetFrames).Msg("fewer frames than requested")
	}
	e.logger.Info().Int("frames", len(frames)).Dur("elapsed", time.Since(start)).Msg("frame extraction completed")
	return frames, nil
}

// probeInfo is the subset of yt-dlp's --dump-json output we need.
type probeInfo struct {
	Duration         float64           `json:"duration"`
	HTTPHeaders      map[string]string `json:"http_headers"`
	URL              string            `json:"url"`
	Formats          []mediaFormat     `json:"formats"`
	RequestedFormats []mediaFormat     `json:"requested_formats"`
}

type mediaFormat struct {
	URL         string            `json:"url"`
	Ext         string            `json:"ext"`
	Protocol    string            `json:"protocol"`
	VCodec      string            `json:"vcodec"`
	Height      float64           `json:"height"`
	TBR         float64           `json:"tbr"`
	FormatID    string            `json:"format_id"`
	HTTPHeaders map[string]string `json:"http_headers"`
}

// probeMetadata fetches duration, headers and the format list without
// downloading. On failure the duration falls back to targetFrames
// seconds, which makes computeFPS extract roughly one frame per second.
func (e *Extractor) probeMetadata(ctx context.Context, url string, targetFrames int) probeInfo {
	args := []string{
		"--dump-json",
		"--skip-download",
		"--no-playlist",
		"--quiet",
		"--no-warnings",
		"--socket-timeout", "10",
		"--retries", "2",
		"-f", formatPrimary,
	}
	args = append(args, e.cookieArgs()...)
	args = append(args, url)

	cmd := exec.CommandContext(ctx, e.ytdlpPath, args...)
	output, err := cmd.Output()
	if err != nil {
		e.logger.Warn().Err(err).Msg("metadata probe failed, using defaults")
		return probeInfo{Duration: float64(targetFrames)}
	}

	var info probeInfo
	if err := json.Unmarshal(output, &info); err != nil {
		e.logger.Warn().Err(err).Msg("metadata probe returned unparseable JSON")
		return probeInfo{Duration: float64(targetFrames)}
	}
	if info.Duration <= 0 {
		info.Duration = float64(targetFrames)
	}
	e.logger.Info().Float64("duration", info.Duration).Msg("probed metadata")
	return info
}

// tryFastPath streams yt-dlp stdout into ffmpeg stdin.
func (e *Extractor) tryFastPath(ctx context.Context, url, format string, duration float64, targetFrames int, tmpdir string) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ytArgs := []string{
		"-f", format,
		"--hls-use-mpegts",
		"--retries", "5",
		"--fragment-retries", "10",
		"--concurrent-fragments", "5",
		"--no-part",
		"--quiet",
		"--no-warnings",
		"-o", "-",
	}
	ytArgs = append(ytArgs, e.cookieArgs()...)
	ytArgs = append(ytArgs, url)

	ytCmd := exec.CommandContext(ctx, e.ytdlpPath, ytArgs...)
	var ytStderr bytes.Buffer
	ytCmd.Stderr = &ytStderr

	ffCmd := exec.CommandContext(ctx, e.ffmpegPath, e.ffmpegArgs(duration, targetFrames, tmpdir, "pipe:0", nil, false)...)
	var ffStderr bytes.Buffer
	ffCmd.Stderr = &ffStderr

	pipe, err := ytCmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open yt-dlp pipe: %w", err)
	}
	ffCmd.Stdin = pipe

	if err := ytCmd.Start(); err != nil {
		return fmt.Errorf("failed to start yt-dlp: %w", err)
	}
	if err := ffCmd.Start(); err != nil {
		ytCmd.Process.Kill()
		ytCmd.Wait()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	ffErr := ffCmd.Wait()
	// yt-dlp may still be writing into a closed pipe; reap it regardless
	ytCmd.Process.Kill()
	ytCmd.Wait()

	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("ffmpeg timed out while extracting frames")
	}
	if ffErr != nil {
		return fmt.Errorf("ffmpeg failed: %s", strings.TrimSpace(ffStderr.String()))
	}
	if !hasFrames(tmpdir) {
		return fmt.Errorf("no frames produced, yt-dlp stderr: %s", truncate(ytStderr.String(), 500))
	}
	return nil
}

// tryDirectURL resolves the media URL from the probe and feeds it to
// ffmpeg with the extractor's HTTP headers.
func (e *Extractor) tryDirectURL(ctx context.Context, probe probeInfo, targetFrames int, tmpdir string) error {
	mediaURL, headers, isHLS := selectMediaFormat(probe)
	if mediaURL == "" {
		return fmt.Errorf("no playable format in probe data")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.ffmpegPath,
		e.ffmpegArgs(probe.Duration, targetFrames, tmpdir, mediaURL, headers, isHLS)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("direct-URL ffmpeg timed out")
		}
		return fmt.Errorf("direct-URL ffmpeg failed: %s", truncate(stderr.String(), 500))
	}
	if !hasFrames(tmpdir) {
		return fmt.Errorf("direct-URL path produced no frames")
	}
	return nil
}

// tryTempFile downloads the whole video to disk first. Slowest path but
// it survives segmented formats the pipe cannot.
func (e *Extractor) tryTempFile(ctx context.Context, url string, targetFrames int, tmpdir string) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tempVideo := filepath.Join(tmpdir, "temp_video.mp4")
	defer os.Remove(tempVideo)

	args := []string{
		"-f", formatStrict,
		"-o", tempVideo,
		"--no-part",
		"--quiet",
		"--no-warnings",
	}
	args = append(args, e.cookieArgs()...)
	args = append(args, url)

	dlCmd := exec.CommandContext(ctx, e.ytdlpPath, args...)
	var dlStderr bytes.Buffer
	dlCmd.Stderr = &dlStderr
	if err := dlCmd.Run(); err != nil {
		return fmt.Errorf("temp-file download failed: %s", truncate(dlStderr.String(), 500))
	}
	if _, err := os.Stat(tempVideo); err != nil {
		return fmt.Errorf("temp-file download produced no file")
	}

	duration := e.probeFileDuration(ctx, tempVideo)
	if duration <= 0 {
		duration = float64(targetFrames)
	}

	ffCmd := exec.CommandContext(ctx, e.ffmpegPath,
		e.ffmpegArgs(duration, targetFrames, tmpdir, tempVideo, nil, false)...)
	var ffStderr bytes.Buffer
	ffCmd.Stderr = &ffStderr
	if err := ffCmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("temp-file ffmpeg timed out")
		}
		return fmt.Errorf("temp-file ffmpeg failed: %s", truncate(ffStderr.String(), 500))
	}
	if !hasFrames(tmpdir) {
		return fmt.Errorf("temp-file path produced no frames")
	}
	return nil
}

func (e *Extractor) probeFileDuration(ctx context.Context, path string) float64 {
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=nw=1:nk=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0
	}
	return duration
}

// ffmpegArgs builds the extraction command: decimate to the computed fps,
// cap at 1080p, strip audio, write numbered JPEGs.
func (e *Extractor) ffmpegArgs(duration float64, targetFrames int, tmpdir, input string, headers map[string]string, isHLS bool) []string {
	fps := ComputeFPS(duration, targetFrames)

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
	}
	if isHLS {
		args = append(args, "-protocol_whitelist", "file,http,https,tcp,tls,crypto")
	}
	args = append(args, headerArgs(headers)...)
	args = append(args,
		"-i", input,
		"-an",
		"-vf", fmt.Sprintf("fps=fps=%.8f:round=up,scale=-2:1080:force_original_aspect_ratio=decrease", fps),
		"-vsync", "vfr",
		"-frames:v", strconv.Itoa(targetFrames),
		"-q:v", "2",
		filepath.Join(tmpdir, framePattern),
	)
	return args
}

func headerArgs(headers map[string]string) []string {
	if len(headers) == 0 {
		return nil
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+": "+headers[k])
	}

	args := []string{"-headers", strings.Join(lines, "\r\n")}
	if ua := headers["User-Agent"]; ua != "" {
		args = append(args, "-user_agent", ua)
	}
	if ref := headers["Referer"]; ref != "" {
		args = append(args, "-referer", ref)
	}
	return args
}

// selectMediaFormat picks the best direct URL from probe data, preferring
// HTTP progressive MP4 and capping resolution credit at 1080p.
func selectMediaFormat(probe probeInfo) (string, map[string]string, bool) {
	headers := probe.HTTPHeaders

	for _, fmt_ := range probe.RequestedFormats {
		if fmt_.VCodec != "none" && fmt_.URL != "" {
			h := headers
			if len(h) == 0 {
				h = fmt_.HTTPHeaders
			}
			return fmt_.URL, h, isHLSFormat(fmt_)
		}
	}

	var candidates []mediaFormat
	for _, f := range probe.Formats {
		if f.URL == "" {
			continue
		}
		candidates = append(candidates, f)
	}
	var videoOnly []mediaFormat
	for _, f := range candidates {
		if f.VCodec != "" && f.VCodec != "none" {
			videoOnly = append(videoOnly, f)
		}
	}
	if len(videoOnly) > 0 {
		candidates = videoOnly
	}
	if len(candidates) == 0 {
		if probe.URL != "" {
			return probe.URL, headers, strings.Contains(probe.URL, ".m3u8")
		}
		return "", nil, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return formatScore(candidates[i]) > formatScore(candidates[j])
	})
	best := candidates[0]
	h := headers
	if len(h) == 0 {
		h = best.HTTPHeaders
	}
	return best.URL, h, isHLSFormat(best)
}

func formatScore(f mediaFormat) float64 {
	score := 0.0
	if strings.HasPrefix(f.Protocol, "http") {
		score += 1e9
	}
	if f.Ext == "mp4" {
		score += 1e8
	}
	height := f.Height
	if height > 1080 {
		height = 1080
	}
	score += height * 1e4
	score += f.TBR
	return score
}

func isHLSFormat(f mediaFormat) bool {
	return strings.Contains(f.URL, ".m3u8") || f.Protocol == "m3u8" || f.Protocol == "m3u8_native"
}

func (e *Extractor) cookieArgs() []string {
	if e.cookiesFile != "" {
		return []string{"--cookies", e.cookiesFile}
	}
	if e.cookiesBrowser != "" {
		return []string{"--cookies-from-browser", e.cookiesBrowser}
	}
	return nil
}

// ComputeFPS returns the sampling rate that spreads targetFrames evenly
// across the duration.
func ComputeFPS(duration float64, targetFrames int) float64 {
	if duration < 0.001 {
		duration = 0.001
	}
	fps := float64(targetFrames) / duration
	if fps < 0.01 {
		fps = 0.01
	}
	return fps
}

func hasFrames(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), "frame_") && strings.HasSuffix(entry.Name(), ".jpg") {
			return true
		}
	}
	return false
}

// readFrames loads the numbered frame files in order, capped at
// targetFrames.
func readFrames(dir string, targetFrames int) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list frame directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), "frame_") && strings.HasSuffix(entry.Name(), ".jpg") {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("extraction succeeded but no frame files found")
	}
	sort.Strings(names)
	if len(names) > targetFrames {
		names = names[:targetFrames]
	}

	frames := make([][]byte, 0, len(names))
	for _, name := range names {
		blob, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read frame %s: %w", name, err)
		}
		frames = append(frames, blob)
	}
	return frames, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
