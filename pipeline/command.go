package pipeline

import (
	"fmt"
	"path/filepath"

	"downly/task"

	"github.com/google/shlex"
)

// userAgent is pinned so throttling behavior stays predictable across the
// fetch tool's own defaults changing.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// ParseExtraArgs splits an operator-supplied argument string shell-style,
// without ever invoking a shell.
func ParseExtraArgs(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	args, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("invalid extra args syntax: %w", err)
	}
	return args, nil
}

// buildFetchArgs assembles the fetch tool's argv. The tool writes to
// <downloadDir>/<id>.<tool-chosen extension> and, thanks to the progress
// template, emits "download:<bytes>/<total>" lines on stdout.
func buildFetchArgs(j task.Job, downloadDir, selection string, extra []string) []string {
	outputTemplate := filepath.Join(downloadDir, j.ID+".%(ext)s")

	args := []string{
		"--no-playlist",
		"--no-warnings",
		"--user-agent", userAgent,
		"--retries", "2",
		"--fragment-retries", "2",
		"-o", outputTemplate,
		"-f", selection,
	}
	if j.Kind == task.KindAudio {
		args = append(args, "-x")
	}
	args = append(args,
		"--newline",
		"--progress-template", "download:%(progress.downloaded_bytes)s/%(progress.total_bytes)s",
		"--no-check-certificate",
		"--prefer-insecure",
	)
	args = append(args, extra...)
	args = append(args, j.URL)
	return args
}

// buildTranscodeArgs assembles the transcode tool's argv and returns it with
// the finalized output filename. An unrecognized audio format falls back to
// mp3, which also forces the output extension.
func buildTranscodeArgs(j task.Job, inputPath, processedDir string, extra []string) (args []string, outName string) {
	args = []string{"-y", "-hide_banner", "-loglevel", "error", "-i", inputPath}

	// Trimming needs both bounds; a single bound is ignored, not a
	// half-open cut.
	if j.TrimStart != "" && j.TrimEnd != "" {
		args = append(args, "-ss", j.TrimStart, "-to", j.TrimEnd)
	}

	format := j.Format
	if j.Kind == task.KindVideo {
		switch format {
		case "mp4":
			args = append(args,
				"-c:v", "libx264",
				"-preset", "fast",
				"-c:a", "aac",
				"-movflags", "+faststart",
			)
		case "mkv":
			// Container swap only, no re-encode.
			args = append(args, "-c", "copy")
		case "mp3":
			args = append(args, "-vn", "-ar", "44100", "-ac", "2", "-b:a", "192k")
		}
	} else {
		switch format {
		case "mp3":
			args = append(args, "-vn", "-ar", "44100", "-ac", "2", "-b:a", "192k")
		case "m4a":
			args = append(args, "-vn", "-c:a", "aac", "-b:a", "192k")
		case "ogg":
			args = append(args, "-vn", "-c:a", "libvorbis", "-q:a", "4")
		case "wav":
			args = append(args, "-vn", "-ar", "44100", "-ac", "2")
		default:
			args = append(args, "-vn", "-ar", "44100", "-ac", "2", "-b:a", "192k")
			format = "mp3"
		}
	}

	args = append(args, extra...)

	outName = fmt.Sprintf("%s.%s", j.ID, format)
	args = append(args, filepath.Join(processedDir, outName))
	return args, outName
}
