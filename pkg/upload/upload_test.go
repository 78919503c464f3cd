package upload

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/stockpipe/pkg/actions"
	"github.com/ormasoftchile/stockpipe/pkg/mux"
)

func writeFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "poster.png")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func TestDir_Upload(t *testing.T) {
	file := writeFile(t, 10)
	root := filepath.Join(t.TempDir(), "drop")
	d := &Dir{Label: "drop", Root: root, ChunkSize: 4}

	var stages []string
	receipt, err := d.Upload(context.Background(), Request{File: file, Title: "Sunset"}, func(s Status) {
		stages = append(stages, s.Stage)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), receipt.Bytes)
	assert.Equal(t, filepath.Join(root, "poster.png"), receipt.Location)
	assert.Equal(t, []string{"preparing", "copying", "copying", "copying", "metadata", "done"}, stages)

	var meta Request
	data, err := os.ReadFile(receipt.Location + ".json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &meta))
	assert.Equal(t, "Sunset", meta.Title)
}

func TestDir_UploadCancelled(t *testing.T) {
	file := writeFile(t, 10)
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Dir{Label: "drop", Root: root}).Upload(ctx, Request{File: file}, func(Status) {})
	assert.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(filepath.Join(root, "poster.png"))
	assert.True(t, os.IsNotExist(statErr), "partial upload left behind")
}

func TestStreams_FanOut(t *testing.T) {
	file := writeFile(t, 8)
	a := &Dir{Label: "a", Root: filepath.Join(t.TempDir(), "a"), ChunkSize: 4}
	b := Exclusive(&Dir{Label: "b", Root: filepath.Join(t.TempDir(), "b")}, actions.NewGate(1))

	c := mux.Combine(Streams(Request{File: file}, a, b)...)
	done := map[string]bool{}
	for s, err := range c.All(context.Background()) {
		require.NoError(t, err)
		if s.Stage == StageDone {
			done[s.Target] = true
		}
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true}, done)

	var targets []string
	for _, r := range c.Results() {
		targets = append(targets, r.Target)
	}
	sort.Strings(targets)
	assert.Equal(t, []string{"a", "b"}, targets)
}

type brokenUploader struct{}

func (brokenUploader) Name() string { return "broken" }

func (brokenUploader) Upload(ctx context.Context, req Request, report func(Status)) (Receipt, error) {
	report(Status{Target: "broken", Stage: StagePreparing})
	return Receipt{}, errors.New("session expired")
}

func TestStream_FailureReported(t *testing.T) {
	var stages []string
	var gotErr error
	for s, err := range mux.Combine(Stream(brokenUploader{}, Request{File: "x"})).All(context.Background()) {
		if err != nil {
			gotErr = err
			break
		}
		stages = append(stages, s.Stage)
	}
	assert.Equal(t, []string{"preparing", "failed"}, stages)
	var se *mux.SourceError
	require.ErrorAs(t, gotErr, &se)
	assert.Equal(t, "broken", se.Label)
}

func TestStatus_Event(t *testing.T) {
	evt := Status{Target: "a", Stage: StageDone, Progress: 1}.Event("r1")
	assert.Equal(t, "upload", string(evt.Type))
	assert.Equal(t, "done", evt.String("stage"))
}
