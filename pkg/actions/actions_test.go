package actions

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ormasoftchile/stockpipe/pkg/imaging"
)

type slowCropper struct {
	active, peak atomic.Int32
}

func (s *slowCropper) Crop(ctx context.Context, input string, region imaging.Region, output string) (string, error) {
	n := s.active.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	s.active.Add(-1)
	return output, nil
}

func TestExclusiveCropper_Serializes(t *testing.T) {
	inner := &slowCropper{}
	c := ExclusiveCropper(inner, NewGate(1))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Crop(context.Background(), "in", imaging.Region{}, "out"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if got := inner.peak.Load(); got != 1 {
		t.Errorf("peak concurrency = %d, want 1", got)
	}
}

func TestGate_ContextCancelled(t *testing.T) {
	g := NewGate(1)
	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = g.Do(context.Background(), func() error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := g.Do(ctx, func() error { called = true; return nil })
	close(hold)
	if err == nil {
		t.Fatal("expected context error")
	}
	if called {
		t.Error("fn ran without holding the gate")
	}
}

func TestDryRun_Records(t *testing.T) {
	d := NewDryRun()
	ctx := context.Background()
	w, h, _ := d.Dimensions(ctx, "a.png")
	if w != 1000 || h != 1000 {
		t.Errorf("dimensions = %dx%d", w, h)
	}
	if _, err := d.Crop(ctx, "a.png", imaging.Region{Width: 707, Height: 1000}, "out/a.png"); err != nil {
		t.Fatal(err)
	}
	reply, err := d.Complete(ctx, "title?", 20)
	if err != nil {
		t.Fatal(err)
	}
	if reply == "" {
		t.Error("expected placeholder reply")
	}
	calls := d.Calls()
	if len(calls) != 3 || calls[0].Action != "probe" || calls[1].Action != "crop" || calls[2].Action != "chat" {
		t.Errorf("calls = %+v", calls)
	}
	if calls[2].Tokens != 20 {
		t.Errorf("tokens = %d", calls[2].Tokens)
	}
}

func TestDryRunFS_KeepsWritesInMemory(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "prompt.txt")
	if err := os.WriteFile(existing, []byte("from disk"), 0o644); err != nil {
		t.Fatal(err)
	}

	log := NewDryRun()
	fs := NewDryRunFS(log)
	target := filepath.Join(dir, "meta", "out.txt")
	if err := fs.WriteFile(target, []byte("reply")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Errorf("dry-run write reached disk: %v", err)
	}
	got, err := fs.ReadFile(target)
	if err != nil || string(got) != "reply" {
		t.Errorf("ReadFile(written) = %q, %v", got, err)
	}
	got, err = fs.ReadFile(existing)
	if err != nil || string(got) != "from disk" {
		t.Errorf("ReadFile(existing) = %q, %v", got, err)
	}
	if calls := log.Calls(); len(calls) != 1 || calls[0].Action != "write" || calls[0].Output != target {
		t.Errorf("calls = %+v", calls)
	}
}
