package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Dir publishes files by copying them into a drop folder, with a JSON
// metadata sidecar next to each file.
type Dir struct {
	Label     string
	Root      string
	ChunkSize int // bytes per progress report; default 256 KiB
}

// NewDir returns a Dir uploader named after its root.
func NewDir(root string) *Dir {
	return &Dir{Label: "dir:" + filepath.Base(root), Root: root}
}

func (d *Dir) Name() string { return d.Label }

// Upload copies req.File into Root and writes <name>.json with req.
func (d *Dir) Upload(ctx context.Context, req Request, report func(Status)) (Receipt, error) {
	report(Status{Target: d.Label, Stage: StagePreparing})

	src, err := os.Open(req.File)
	if err != nil {
		return Receipt{}, err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return Receipt{}, err
	}
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		return Receipt{}, fmt.Errorf("create drop folder: %w", err)
	}

	dest := filepath.Join(d.Root, filepath.Base(req.File))
	tmp := dest + ".part"
	dst, err := os.Create(tmp)
	if err != nil {
		return Receipt{}, err
	}
	written, err := d.copy(ctx, dst, src, info.Size(), report)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return Receipt{}, err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return Receipt{}, err
	}

	report(Status{Target: d.Label, Stage: StageMetadata, Progress: 1})
	meta, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(dest+".json", meta, 0o644); err != nil {
		return Receipt{}, fmt.Errorf("write metadata: %w", err)
	}

	report(Status{Target: d.Label, Stage: StageDone, Progress: 1, Message: dest})
	return Receipt{Target: d.Label, Location: dest, Bytes: written, Completed: time.Now().UTC()}, nil
}

func (d *Dir) copy(ctx context.Context, dst io.Writer, src io.Reader, size int64, report func(Status)) (int64, error) {
	chunk := d.ChunkSize
	if chunk <= 0 {
		chunk = 256 << 10
	}
	buf := make([]byte, chunk)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, err
			}
			written += int64(n)
			progress := 1.0
			if size > 0 {
				progress = float64(written) / float64(size)
			}
			report(Status{Target: d.Label, Stage: StageCopying, Progress: progress})
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
