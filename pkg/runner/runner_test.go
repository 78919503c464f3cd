package runner

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/stockpipe/pkg/actions"
	"github.com/ormasoftchile/stockpipe/pkg/config"
	"github.com/ormasoftchile/stockpipe/pkg/engine"
	"github.com/ormasoftchile/stockpipe/pkg/mux"
	"github.com/ormasoftchile/stockpipe/pkg/trace"
)

const posterPipeline = `apiVersion: stockpipe/v1
name: posters
workDir: "{cwd}/out"
steps:
  - step: for-each-file
    dir: "{input}"
    steps:
      - step: crop
        aspectRatio: "1:1"
        input: "{filepath}"
        output: "cropped/{filename}{ext}"
      - step: chat
        prompt: "Title for {filename} by {author}"
        maxTokens: 12
        output: { storage: variable, name: title }
      - step: chat
        prompt: "{title}"
        maxTokens: 5
        output: "meta/{filename}.txt"
`

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))))
}

func setup(t *testing.T) (dir, pipeline, input string) {
	t.Helper()
	dir = t.TempDir()
	pipeline = filepath.Join(dir, "posters.yaml")
	require.NoError(t, os.WriteFile(pipeline, []byte(posterPipeline), 0o644))
	input = filepath.Join(dir, "in")
	writePNG(t, filepath.Join(input, "sunset.png"), 30, 20)
	return dir, pipeline, input
}

type echoChat struct{}

func (echoChat) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return "<" + prompt + ">", nil
}

func TestPrepare_DryRun(t *testing.T) {
	dir, pipeline, input := setup(t)
	pr, err := Prepare(Options{
		Path:    pipeline,
		Input:   input,
		Vars:    map[string]string{"author": "ana"},
		DryRun:  true,
		Cwd:     dir,
		Environ: map[string]string{},
	})
	require.NoError(t, err)
	assert.Empty(t, pr.Warnings)

	workDir, _ := pr.Seed.String("workDir")
	assert.Equal(t, filepath.Join(dir, "out"), workDir)

	result := pr.Run(context.Background())
	require.NoError(t, result.Error)

	var calls []string
	for _, c := range pr.DryRun.Calls() {
		calls = append(calls, c.Action)
	}
	assert.Equal(t, []string{"probe", "crop", "chat", "chat", "write"}, calls)
	assert.Equal(t, "Title for sunset by ana", pr.DryRun.Calls()[2].Prompt)

	_, err = os.Stat(filepath.Join(dir, "out"))
	assert.True(t, os.IsNotExist(err), "dry run must not write to disk")
	_, ok := pr.DryRunFS.Written(filepath.Join(dir, "out", "meta", "sunset.txt"))
	assert.True(t, ok)
}

func TestPrepare_Real(t *testing.T) {
	dir, pipeline, input := setup(t)
	pr, err := Prepare(Options{
		Path:    pipeline,
		Input:   input,
		Vars:    map[string]string{"author": "ana"},
		Chat:    echoChat{},
		Cwd:     dir,
		Environ: map[string]string{},
	})
	require.NoError(t, err)
	result := pr.Run(context.Background())
	require.NoError(t, result.Error)

	f, err := os.Open(filepath.Join(dir, "out", "cropped", "sunset.png"))
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Width)
	assert.Equal(t, 20, cfg.Height)

	meta, err := os.ReadFile(filepath.Join(dir, "out", "meta", "sunset.txt"))
	require.NoError(t, err)
	assert.Equal(t, "<<Title for sunset by ana>>", string(meta))
}

func TestPrepare_RealNeedsAPIKey(t *testing.T) {
	dir, pipeline, input := setup(t)
	_, err := Prepare(Options{Path: pipeline, Input: input, Cwd: dir, Settings: config.Settings{}})
	assert.ErrorIs(t, err, config.ErrNoAPIKey)
}

func TestPrepare_UnknownVarWarns(t *testing.T) {
	dir, pipeline, input := setup(t)
	pr, err := Prepare(Options{Path: pipeline, Input: input, DryRun: true, Cwd: dir})
	require.NoError(t, err)
	require.NotEmpty(t, pr.Warnings)
	assert.Contains(t, pr.Warnings[0].Message, "author")

	// The placeholder is unresolved at run time.
	result := pr.Run(context.Background())
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "author")
}

func TestPrepare_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("apiVersion: stockpipe/v1\nsteps: []\n"), 0o644))
	_, err := Prepare(Options{Path: path, DryRun: true})
	assert.Error(t, err)
}

func TestStream_CombinedRuns(t *testing.T) {
	dir, pipeline, input := setup(t)
	var streams []mux.Stream[trace.Event, *engine.RunResult]
	for i := 0; i < 2; i++ {
		pr, err := Prepare(Options{
			Path: pipeline, Input: input, DryRun: true, Cwd: dir,
			Vars: map[string]string{"author": "ana"},
		})
		require.NoError(t, err)
		streams = append(streams, pr.Stream())
	}

	c := mux.Combine(streams...)
	runs := map[string]int{}
	for evt, err := range c.All(context.Background()) {
		require.NoError(t, err)
		if evt.Type == trace.EventRunComplete {
			runs[evt.RunID]++
		}
	}
	assert.Len(t, runs, 2)
	for _, r := range c.Results() {
		require.NotNil(t, r)
		assert.Equal(t, trace.StatusSuccess, r.Status)
		assert.Equal(t, "posters", r.Name)
	}
}

// countingChat records how many Complete calls overlap.
type countingChat struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (c *countingChat) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		peak := c.peak.Load()
		if n <= peak || c.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	c.calls.Add(1)
	time.Sleep(5 * time.Millisecond)
	return "ok", nil
}

func TestStream_SharedChatGateSerializesRuns(t *testing.T) {
	dir, pipeline, input := setup(t)
	chat := &countingChat{}
	chatGate := actions.NewGate(1)
	var streams []mux.Stream[trace.Event, *engine.RunResult]
	for i := 0; i < 3; i++ {
		pr, err := Prepare(Options{
			Path: pipeline, Input: input, Cwd: filepath.Join(dir, strings.Repeat("r", i+1)),
			Environ:  map[string]string{},
			Vars:     map[string]string{"author": "ana"},
			Chat:     chat,
			ChatGate: chatGate,
		})
		require.NoError(t, err)
		streams = append(streams, pr.Stream())
	}

	c := mux.Combine(streams...)
	for _, err := range c.All(context.Background()) {
		require.NoError(t, err)
	}
	for _, r := range c.Results() {
		require.NotNil(t, r)
		require.NoError(t, r.Error)
	}
	assert.Equal(t, int32(6), chat.calls.Load())
	assert.Equal(t, int32(1), chat.peak.Load())
}

func TestParseVars(t *testing.T) {
	vars, err := ParseVars([]string{"a=1", "meta.lang=en=us"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "meta.lang": "en=us"}, vars)

	_, err = ParseVars([]string{"novalue"})
	assert.True(t, err != nil && strings.Contains(err.Error(), "novalue"))
}
