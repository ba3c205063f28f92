package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"downly/config"
	"downly/proc"
	"downly/task"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner stands in for an external process.
type fakeRunner struct {
	run func(ctx context.Context, name string, args []string, onProgress proc.ProgressFunc) (proc.Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string, onProgress proc.ProgressFunc) (proc.Result, error) {
	return f.run(ctx, name, args, onProgress)
}

func okRunner() *fakeRunner {
	return &fakeRunner{run: func(ctx context.Context, name string, args []string, onProgress proc.ProgressFunc) (proc.Result, error) {
		return proc.Result{ExitCode: 0}, nil
	}}
}

func testPipeline(t *testing.T, fetch, transcode proc.Runner) (*Pipeline, *task.Store, *config.Config) {
	t.Helper()
	cfg := &config.Config{
		DownloadDir:  t.TempDir(),
		ProcessedDir: t.TempDir(),
		FetchBin:     "yt-dlp",
		FFBin:        "ffmpeg",
		FetchTimeout: 5 * time.Second,
		PollInterval: 10 * time.Millisecond,
		VideoBudget:  30 * time.Second,
		AudioBudget:  20 * time.Second,
	}
	store := task.NewStore()
	p := &Pipeline{
		cfg:       cfg,
		store:     store,
		fetch:     fetch,
		transcode: transcode,
		preflight: func(*config.Config, string) error { return nil },
	}
	return p, store, cfg
}

// fetchingRunner simulates a fetch that emits progress lines and leaves a
// file with a tool-chosen extension behind.
func fetchingRunner(dir, ext string) *fakeRunner {
	return &fakeRunner{run: func(ctx context.Context, name string, args []string, onProgress proc.ProgressFunc) (proc.Result, error) {
		// args end with the URL; the job ID rides in the -o template.
		for _, line := range []string{"download:25/100", "download:100/100"} {
			onProgress(proc.Signal{Line: line})
		}
		id := jobIDFromArgs(args)
		if err := os.WriteFile(filepath.Join(dir, id+"."+ext), []byte("media"), 0o644); err != nil {
			return proc.Result{ExitCode: -1}, err
		}
		return proc.Result{ExitCode: 0}, nil
	}}
}

func jobIDFromArgs(args []string) string {
	for i, a := range args {
		if a == "-o" && i+1 < len(args) {
			base := filepath.Base(args[i+1])
			return base[:len(base)-len(".%(ext)s")]
		}
	}
	return ""
}

func TestPipeline_Run_Success(t *testing.T) {
	fetch := &fakeRunner{}
	transcode := &fakeRunner{}
	p, store, cfg := testPipeline(t, fetch, transcode)

	fetch.run = fetchingRunner(cfg.DownloadDir, "webm").run
	transcode.run = func(ctx context.Context, name string, args []string, onProgress proc.ProgressFunc) (proc.Result, error) {
		onProgress(proc.Signal{Elapsed: 10 * time.Second})
		return proc.Result{ExitCode: 0}, nil
	}

	j := task.Job{ID: "vid1", URL: "https://example.com/v", Kind: task.KindVideo, Format: "mp4", Quality: "high"}
	p.Run(context.Background(), j)

	st, found := store.Get("vid1")
	require.True(t, found)
	assert.Equal(t, task.StateCompleted, st.State)
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, "/downloads/vid1.mp4", st.DownloadURL)
	assert.Empty(t, st.Error)

	// The fetched intermediate is gone after a successful transcode.
	_, err := os.Stat(filepath.Join(cfg.DownloadDir, "vid1.webm"))
	assert.True(t, os.IsNotExist(err))
}

func TestPipeline_Run_ProgressIsMonotonic(t *testing.T) {
	fetch := &fakeRunner{}
	transcode := &fakeRunner{}
	p, store, cfg := testPipeline(t, fetch, transcode)

	var seen []int
	record := func() {
		st, ok := store.Get("vid2")
		if ok {
			seen = append(seen, st.Progress)
		}
	}

	fetch.run = func(ctx context.Context, name string, args []string, onProgress proc.ProgressFunc) (proc.Result, error) {
		// Out-of-order and bogus signals must not drag progress backwards.
		for _, line := range []string{"download:50/100", "download:10/100", "download:NA/NA", "download:90/100"} {
			onProgress(proc.Signal{Line: line})
			record()
		}
		require.NoError(t, os.WriteFile(filepath.Join(cfg.DownloadDir, "vid2.mkv"), []byte("x"), 0o644))
		return proc.Result{ExitCode: 0}, nil
	}
	transcode.run = func(ctx context.Context, name string, args []string, onProgress proc.ProgressFunc) (proc.Result, error) {
		for _, d := range []time.Duration{20 * time.Second, 5 * time.Second, 25 * time.Second} {
			onProgress(proc.Signal{Elapsed: d})
			record()
		}
		return proc.Result{ExitCode: 0}, nil
	}

	p.Run(context.Background(), task.Job{ID: "vid2", URL: "https://example.com/v", Kind: task.KindVideo, Format: "mp4"})

	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1], "progress regressed at sample %d: %v", i, seen)
	}
}

func TestPipeline_Run_FetchFailures(t *testing.T) {
	t.Run("non-zero exit", func(t *testing.T) {
		fetch := &fakeRunner{run: func(ctx context.Context, name string, args []string, onProgress proc.ProgressFunc) (proc.Result, error) {
			return proc.Result{ExitCode: 1, Stderr: "ERROR: unsupported URL"}, nil
		}}
		p, store, _ := testPipeline(t, fetch, okRunner())

		p.Run(context.Background(), task.Job{ID: "f1", URL: "https://example.com/v", Kind: task.KindVideo, Format: "mp4"})

		st, _ := store.Get("f1")
		assert.Equal(t, task.StateFailed, st.State)
		assert.Equal(t, "Process exited with non-zero code", st.Error)
		assert.Empty(t, st.DownloadURL)
	})

	t.Run("timeout", func(t *testing.T) {
		fetch := &fakeRunner{run: func(ctx context.Context, name string, args []string, onProgress proc.ProgressFunc) (proc.Result, error) {
			return proc.Result{ExitCode: -1}, context.DeadlineExceeded
		}}
		p, store, _ := testPipeline(t, fetch, okRunner())

		p.Run(context.Background(), task.Job{ID: "f2", URL: "https://example.com/v", Kind: task.KindVideo, Format: "mp4"})

		st, _ := store.Get("f2")
		assert.Equal(t, task.StateFailed, st.State)
		assert.Equal(t, "Download took too long", st.Error)
	})

	t.Run("exit zero but no file", func(t *testing.T) {
		p, store, _ := testPipeline(t, okRunner(), okRunner())

		p.Run(context.Background(), task.Job{ID: "f3", URL: "https://example.com/v", Kind: task.KindVideo, Format: "mp4"})

		st, _ := store.Get("f3")
		assert.Equal(t, task.StateFailed, st.State)
		assert.Equal(t, "Downloaded file not found", st.Error)
	})
}

func TestPipeline_Run_TranscodeFailures(t *testing.T) {
	t.Run("stderr becomes the error", func(t *testing.T) {
		fetch := &fakeRunner{}
		transcode := &fakeRunner{run: func(ctx context.Context, name string, args []string, onProgress proc.ProgressFunc) (proc.Result, error) {
			return proc.Result{ExitCode: 1, Stderr: "Invalid data found when processing input"}, nil
		}}
		p, store, cfg := testPipeline(t, fetch, transcode)
		fetch.run = fetchingRunner(cfg.DownloadDir, "webm").run

		p.Run(context.Background(), task.Job{ID: "t1", URL: "https://example.com/v", Kind: task.KindVideo, Format: "mp4"})

		st, _ := store.Get("t1")
		assert.Equal(t, task.StateFailed, st.State)
		assert.Equal(t, "Invalid data found when processing input", st.Error)

		// The intermediate survives a failed transcode for diagnosis.
		_, err := os.Stat(filepath.Join(cfg.DownloadDir, "t1.webm"))
		assert.NoError(t, err)
	})

	t.Run("empty stderr reports Unknown error", func(t *testing.T) {
		fetch := &fakeRunner{}
		transcode := &fakeRunner{run: func(ctx context.Context, name string, args []string, onProgress proc.ProgressFunc) (proc.Result, error) {
			return proc.Result{ExitCode: 1}, nil
		}}
		p, store, cfg := testPipeline(t, fetch, transcode)
		fetch.run = fetchingRunner(cfg.DownloadDir, "webm").run

		p.Run(context.Background(), task.Job{ID: "t2", URL: "https://example.com/v", Kind: task.KindVideo, Format: "mp4"})

		st, _ := store.Get("t2")
		assert.Equal(t, task.StateFailed, st.State)
		assert.Equal(t, "Unknown error", st.Error)
	})
}

func TestPipeline_Run_BaseURLPrefix(t *testing.T) {
	fetch := &fakeRunner{}
	p, store, cfg := testPipeline(t, fetch, okRunner())
	cfg.BaseURL = "https://media.example.com/"
	fetch.run = fetchingRunner(cfg.DownloadDir, "m4a").run

	p.Run(context.Background(), task.Job{ID: "a1", URL: "https://example.com/a", Kind: task.KindAudio, Format: "m4a"})

	st, _ := store.Get("a1")
	assert.Equal(t, task.StateCompleted, st.State)
	assert.Equal(t, "https://media.example.com/downloads/a1.m4a", st.DownloadURL)
}

func TestPipeline_Run_PreflightRejection(t *testing.T) {
	p, store, _ := testPipeline(t, okRunner(), okRunner())
	p.preflight = func(*config.Config, string) error {
		return assert.AnError
	}

	p.Run(context.Background(), task.Job{ID: "p1", URL: "https://example.com/v", Kind: task.KindVideo, Format: "mp4"})

	st, _ := store.Get("p1")
	assert.Equal(t, task.StateFailed, st.State)
	assert.Contains(t, st.Error, "insufficient system resources")
}
