package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/exec"
	"sort"
	"time"

	"downly/config"
)

// infoTimeout bounds the metadata probe; it never holds a submission open
// for longer than this.
const infoTimeout = 30 * time.Second

type VideoFormat struct {
	Resolution string `json:"resolution"`
	Ext        string `json:"ext"`
	FormatNote string `json:"format_note"`
	FileSize   string `json:"file_size"`
}

type AudioFormat struct {
	Bitrate  string `json:"bitrate"`
	Ext      string `json:"ext"`
	FileSize string `json:"file_size"`
}

// MediaInfo is the caller-facing summary of a URL's available streams.
type MediaInfo struct {
	Title        string        `json:"title"`
	Thumbnail    string        `json:"thumbnail,omitempty"`
	Duration     int           `json:"duration,omitempty"`
	Channel      string        `json:"channel"`
	VideoFormats []VideoFormat `json:"video_formats"`
	AudioFormats []AudioFormat `json:"audio_formats"`
	URL          string        `json:"url"`
}

// rawInfo is the slice of the fetch tool's JSON dump we care about.
type rawInfo struct {
	Title     string  `json:"title"`
	Thumbnail string  `json:"thumbnail"`
	Duration  float64 `json:"duration"`
	Channel   string  `json:"channel"`
	Formats   []struct {
		Height     int     `json:"height"`
		Ext        string  `json:"ext"`
		FormatNote string  `json:"format_note"`
		Filesize   int64   `json:"filesize"`
		ACodec     string  `json:"acodec"`
		VCodec     string  `json:"vcodec"`
		ABR        float64 `json:"abr"`
	} `json:"formats"`
}

// FetchInfo probes a URL with the fetch tool's JSON dump mode. It never
// fails: any tool or parse error degrades to a minimal record so the
// caller-facing endpoint always answers.
func FetchInfo(ctx context.Context, cfg *config.Config, url string) MediaInfo {
	probeCtx, cancel := context.WithTimeout(ctx, infoTimeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, cfg.FetchBin,
		"--dump-json",
		"--no-playlist",
		"--skip-download",
		"--no-warnings",
		"--quiet",
		url,
	)
	out, err := cmd.Output()
	if err != nil {
		log.Printf("Info probe failed for %s: %v", url, err)
		return minimalInfo(url)
	}

	var raw rawInfo
	if err := json.Unmarshal(out, &raw); err != nil {
		log.Printf("Info probe returned unparseable data for %s: %v", url, err)
		return minimalInfo(url)
	}

	info := MediaInfo{
		Title:     raw.Title,
		Thumbnail: raw.Thumbnail,
		Duration:  int(raw.Duration),
		Channel:   raw.Channel,
		URL:       url,
	}
	if info.Title == "" {
		info.Title = "Unknown"
	}
	if info.Channel == "" {
		info.Channel = "Unknown"
	}

	seenHeights := make(map[int]bool)
	seenBitrates := make(map[int]bool)
	for _, f := range raw.Formats {
		switch {
		case f.Height > 0 && (f.Ext == "mp4" || f.Ext == "webm"):
			if seenHeights[f.Height] {
				continue
			}
			seenHeights[f.Height] = true
			info.VideoFormats = append(info.VideoFormats, VideoFormat{
				Resolution: fmt.Sprintf("%dp", f.Height),
				Ext:        f.Ext,
				FormatNote: f.FormatNote,
				FileSize:   approxSize(f.Filesize),
			})
		case f.ACodec != "none" && f.VCodec == "none":
			abr := int(f.ABR)
			if seenBitrates[abr] {
				continue
			}
			seenBitrates[abr] = true
			bitrate := "Unknown"
			if abr > 0 {
				bitrate = fmt.Sprintf("%dkbps", abr)
			}
			info.AudioFormats = append(info.AudioFormats, AudioFormat{
				Bitrate:  bitrate,
				Ext:      f.Ext,
				FileSize: approxSize(f.Filesize),
			})
		}
	}

	sort.Slice(info.VideoFormats, func(i, j int) bool {
		return heightOf(info.VideoFormats[i].Resolution) > heightOf(info.VideoFormats[j].Resolution)
	})
	sort.Slice(info.AudioFormats, func(i, j int) bool {
		return bitrateOf(info.AudioFormats[i].Bitrate) > bitrateOf(info.AudioFormats[j].Bitrate)
	})
	// Keep the listing short: top 8 resolutions, top 3 bitrates.
	if len(info.VideoFormats) > 8 {
		info.VideoFormats = info.VideoFormats[:8]
	}
	if len(info.AudioFormats) > 3 {
		info.AudioFormats = info.AudioFormats[:3]
	}
	if len(info.VideoFormats) == 0 && len(info.AudioFormats) == 0 {
		return minimalInfo(url)
	}
	return info
}

func minimalInfo(url string) MediaInfo {
	return MediaInfo{
		Title:   "Video",
		Channel: "Unknown",
		VideoFormats: []VideoFormat{
			{Resolution: "best", Ext: "mp4", FileSize: "Unknown"},
		},
		AudioFormats: []AudioFormat{
			{Bitrate: "128kbps", Ext: "m4a", FileSize: "Unknown"},
		},
		URL: url,
	}
}

func approxSize(bytes int64) string {
	if bytes <= 0 {
		return "Unknown"
	}
	return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
}

func heightOf(resolution string) int {
	var h int
	fmt.Sscanf(resolution, "%dp", &h)
	return h
}

func bitrateOf(bitrate string) int {
	var b int
	fmt.Sscanf(bitrate, "%dkbps", &b)
	return b
}
