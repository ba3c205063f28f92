// Package pipeline drives one job through its two external stages: fetch
// the media, then transcode it into the requested format. Every transition
// is written into the job state store as a whole-record replace; every
// failure, whatever its cause, ends as a failed record rather than an
// escaped error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"downly/config"
	"downly/proc"
	"downly/task"
)

type Pipeline struct {
	cfg   *config.Config
	store *task.Store

	// The fetch stage's monitor mode is an environment capability chosen at
	// startup. The transcode stage always polls: its progress is estimated
	// from wall clock, not from process output.
	fetch     proc.Runner
	transcode proc.Runner

	fetchExtra     []string
	transcodeExtra []string

	// preflight gates each job on host resources; swapped out in tests.
	preflight func(cfg *config.Config, workDir string) error
}

func New(cfg *config.Config, store *task.Store) (*Pipeline, error) {
	if _, err := exec.LookPath(cfg.FetchBin); err != nil {
		return nil, fmt.Errorf("fetch binary not found or not in PATH: %s", cfg.FetchBin)
	}
	if _, err := exec.LookPath(cfg.FFBin); err != nil {
		return nil, fmt.Errorf("transcode binary not found or not in PATH: %s", cfg.FFBin)
	}

	fetchExtra, err := ParseExtraArgs(cfg.FetchExtraArgs)
	if err != nil {
		return nil, err
	}
	transcodeExtra, err := ParseExtraArgs(cfg.TranscodeExtraArgs)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:            cfg,
		store:          store,
		fetch:          proc.New(cfg.FetchMonitor, cfg.PollInterval),
		transcode:      proc.New(proc.ModePoll, cfg.PollInterval),
		fetchExtra:     fetchExtra,
		transcodeExtra: transcodeExtra,
		preflight:      proc.CheckResources,
	}, nil
}

// Run executes the full pipeline for one job and always leaves a terminal
// record behind. It owns the job's store entry for its whole lifetime; no
// other writer touches it.
func (p *Pipeline) Run(ctx context.Context, j task.Job) {
	noun := "video"
	if j.Kind == task.KindAudio {
		noun = "audio"
	}

	if err := p.preflight(p.cfg, p.cfg.DownloadDir); err != nil {
		log.Printf("Task %s rejected: %v", j.ID, err)
		p.fail(j.ID, "Processing failed", fmt.Sprintf("insufficient system resources: %v", err))
		return
	}

	inputPath, ok := p.runFetch(ctx, j, noun)
	if !ok {
		return
	}

	p.put(j.ID, task.StateProcessing, 50, "Processing "+noun+"...")

	outName, ok := p.runTranscode(ctx, j, inputPath, noun)
	if !ok {
		return
	}

	// Best-effort cleanup of the fetched intermediate. On failure it is
	// deliberately left in place for diagnosis.
	if err := os.Remove(inputPath); err != nil {
		log.Printf("Task %s: could not remove intermediate %s: %v", j.ID, inputPath, err)
	}

	downloadURL := strings.TrimSuffix(p.cfg.BaseURL, "/") + "/downloads/" + outName
	p.store.Put(j.ID, task.Status{
		State:       task.StateCompleted,
		Progress:    100,
		Message:     "Ready for download",
		DownloadURL: downloadURL,
	})
	log.Printf("Task %s completed successfully", j.ID)
}

// runFetch drives the fetch stage and locates its output. It returns the
// path of the fetched file, or ok=false with the failure already recorded.
func (p *Pipeline) runFetch(ctx context.Context, j task.Job, noun string) (string, bool) {
	p.put(j.ID, task.StateDownloading, 5, "Starting download...")

	selection := SelectFormat(j)
	args := buildFetchArgs(j, p.cfg.DownloadDir, selection, p.fetchExtra)
	log.Printf("Task %s: fetching with selection %q", j.ID, selection)

	p.put(j.ID, task.StateDownloading, 10, "Downloading "+noun+"...")

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	mapper := NewFetchMapper()
	current := 10
	res, err := p.fetch.Run(fetchCtx, p.cfg.FetchBin, args, func(sig proc.Signal) {
		// Poll-mode ticks carry no byte counters; the last value holds.
		downloaded, total, parsed := ParseProgressLine(sig.Line)
		if !parsed {
			return
		}
		if pct := mapper.Map(downloaded, total); pct > current {
			current = pct
			p.put(j.ID, task.StateDownloading, current, fmt.Sprintf("Downloading %s... %d%%", noun, current))
		}
	})

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Printf("Task %s: fetch timed out after %s", j.ID, p.cfg.FetchTimeout)
			p.fail(j.ID, "Download timeout", "Download took too long")
		} else {
			log.Printf("Task %s: fetch did not run: %v", j.ID, err)
			p.fail(j.ID, "Download failed", err.Error())
		}
		return "", false
	}
	if res.ExitCode != 0 {
		log.Printf("Task %s: fetch exited %d: %s", j.ID, res.ExitCode, res.Stderr)
		p.fail(j.ID, "Download failed", "Process exited with non-zero code")
		return "", false
	}

	// The tool picks the extension, so glob for the job's prefix. First
	// match wins (glob results are sorted); the ID namespacing means any
	// sibling match belongs to this job anyway.
	matches, err := filepath.Glob(filepath.Join(p.cfg.DownloadDir, j.ID+".*"))
	if err != nil || len(matches) == 0 {
		log.Printf("Task %s: no fetched file found for prefix %s", j.ID, j.ID)
		p.fail(j.ID, "Download failed - no file found", "Downloaded file not found")
		return "", false
	}
	return matches[0], true
}

// runTranscode drives the transcode stage. Progress here is an estimate
// against a per-kind wall-clock budget, never a claim of exactness.
func (p *Pipeline) runTranscode(ctx context.Context, j task.Job, inputPath, noun string) (string, bool) {
	args, outName := buildTranscodeArgs(j, inputPath, p.cfg.ProcessedDir, p.transcodeExtra)

	p.put(j.ID, task.StateProcessing, 60, "Converting "+noun+" format...")

	budget := p.cfg.VideoBudget
	if j.Kind == task.KindAudio {
		budget = p.cfg.AudioBudget
	}
	mapper := NewTranscodeMapper(budget)
	current := 60
	res, err := p.transcode.Run(ctx, p.cfg.FFBin, args, func(sig proc.Signal) {
		if pct := mapper.Map(sig.Elapsed); pct > current {
			current = pct
			p.put(j.ID, task.StateProcessing, current, fmt.Sprintf("Processing %s... %d%% (estimated)", noun, current))
		}
	})

	if err != nil {
		log.Printf("Task %s: transcode did not run: %v", j.ID, err)
		p.fail(j.ID, "Processing failed", err.Error())
		return "", false
	}
	if res.ExitCode != 0 {
		errMsg := strings.TrimSpace(res.Stderr)
		if errMsg == "" {
			errMsg = "Unknown error"
		}
		log.Printf("Task %s: transcode exited %d: %s", j.ID, res.ExitCode, res.Stderr)
		p.fail(j.ID, "Processing failed", errMsg)
		return "", false
	}
	return outName, true
}

func (p *Pipeline) put(id string, state task.State, progress int, message string) {
	p.store.Put(id, task.Status{State: state, Progress: progress, Message: message})
}

func (p *Pipeline) fail(id, message, errText string) {
	p.store.Put(id, task.Status{
		State:    task.StateFailed,
		Progress: 0,
		Message:  message,
		Error:    errText,
	})
}
