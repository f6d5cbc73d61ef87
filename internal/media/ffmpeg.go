package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// CommandRunner runs an external program and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		if msg != "" {
			return out, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// FFprobe reads stream metadata with the ffprobe binary.
type FFprobe struct {
	Binary string
	run    CommandRunner
	logger *slog.Logger
}

func NewFFprobe(log *slog.Logger, binary string, run CommandRunner) *FFprobe {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(binary) == "" {
		binary = "ffprobe"
	}
	if run == nil {
		run = execRunner
	}
	return &FFprobe{Binary: binary, run: run, logger: log.With(slog.String("component", "ffprobe"))}
}

// Probe implements Prober.
func (p *FFprobe) Probe(ctx context.Context, path string) (VideoInfo, bool) {
	out, err := p.run(ctx, p.Binary,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		p.logger.Warn("probe failed", slog.String("path", path), slog.Any("error", err))
		return VideoInfo{}, false
	}
	info, err := parseProbe(out)
	if err != nil {
		p.logger.Warn("probe output unreadable", slog.String("path", path), slog.Any("error", err))
		return VideoInfo{}, false
	}
	return info, info.VideoCodec != ""
}

func parseProbe(raw []byte) (VideoInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return VideoInfo{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	var info VideoInfo
	duration := parseSeconds(out.Format.Duration)
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if info.VideoCodec != "" {
				continue
			}
			info.VideoCodec = strings.ToLower(s.CodecName)
			info.Width = s.Width
			info.Height = s.Height
			if duration == 0 {
				duration = parseSeconds(s.Duration)
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = strings.ToLower(s.CodecName)
			}
		}
	}
	info.DurationS = int(math.Round(duration))
	return info, nil
}

func parseSeconds(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

// FFmpeg transcodes videos into h264/aac mp4 with the ffmpeg binary.
type FFmpeg struct {
	Binary string
	run    CommandRunner
	logger *slog.Logger
}

func NewFFmpeg(log *slog.Logger, binary string, run CommandRunner) *FFmpeg {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	if run == nil {
		run = execRunner
	}
	return &FFmpeg{Binary: binary, run: run, logger: log.With(slog.String("component", "ffmpeg"))}
}

// Transcode implements Transcoder. The output sits next to the input with a
// "_normalized.mp4" suffix.
func (f *FFmpeg) Transcode(ctx context.Context, path string) (string, error) {
	ext := filepath.Ext(path)
	out := strings.TrimSuffix(path, ext) + "_normalized.mp4"
	_, err := f.run(ctx, f.Binary,
		"-i", path,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-preset", "fast",
		"-movflags", "+faststart",
		"-y", out,
	)
	if err != nil {
		_ = os.Remove(out)
		return path, fmt.Errorf("%w: %v", ErrTranscodeFailed, err)
	}
	if st, statErr := os.Stat(out); statErr != nil || st.Size() == 0 {
		_ = os.Remove(out)
		return path, fmt.Errorf("%w: no output", ErrTranscodeFailed)
	}
	f.logger.Info("video normalized", slog.String("input", path), slog.String("output", out))
	return out, nil
}
