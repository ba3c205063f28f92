package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"downly/task"
)

// SelectFormat builds the stream-selection expression handed to the fetch
// tool. It never fails: explicit picks that don't parse are ignored and the
// quality-based fallback chain applies.
func SelectFormat(j task.Job) string {
	if j.Kind == task.KindAudio {
		return audioSelector(j.SelectedAudioFormat) + "/bestaudio/best"
	}

	// An explicit resolution pick wins over the quality request.
	if j.SelectedVideoFormat != "" {
		if height, err := strconv.Atoi(strings.TrimSuffix(j.SelectedVideoFormat, "p")); err == nil {
			video := fmt.Sprintf("bestvideo[height=%d]", height)
			audio := audioSelector(j.SelectedAudioFormat)
			return fmt.Sprintf("%s+%s/best[height=%d]/best", video, audio, height)
		}
	}

	switch j.Quality {
	case "high":
		return "best[height<=1080][ext=mp4]/best[height<=1080]"
	case "medium":
		return "best[height<=720][ext=mp4]/best[height<=720]"
	case "low":
		return "best[height<=480][ext=mp4]/best[height<=480]"
	default: // "best" and anything unrecognized
		return "best[ext=mp4]/best"
	}
}

// audioSelector narrows the audio pick to streams within +/-10 of the
// requested bitrate, e.g. "128kbps" -> abr in [118,138]. Anything that
// doesn't parse means best-available audio.
func audioSelector(pick string) string {
	if strings.Contains(pick, "kbps") {
		if abr, err := strconv.Atoi(strings.TrimSuffix(pick, "kbps")); err == nil {
			return fmt.Sprintf("bestaudio[abr<=%d][abr>=%d]", abr+10, abr-10)
		}
	}
	return "bestaudio"
}
