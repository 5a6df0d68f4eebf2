package media

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	_ "golang.org/x/image/webp"
)

// ErrLadderExhausted means no step of the ladder got the image under the limit.
var ErrLadderExhausted = errors.New("media: image still over limit after all reduction steps")

// Step is one re-encode attempt. Width 0 keeps the source width.
type Step struct {
	Quality int
	Width   int
}

// DefaultLadder starts near-lossless, lowers quality, then downscales.
var DefaultLadder = []Step{
	{Quality: 95},
	{Quality: 85},
	{Quality: 75},
	{Quality: 65},
	{Quality: 65, Width: 2560},
	{Quality: 60, Width: 1920},
	{Quality: 55, Width: 1600},
	{Quality: 50, Width: 1280},
}

// maxSteps bounds any configured ladder.
const maxSteps = 8

// Transcoder re-encodes local images into ScratchDir. The source file is
// only ever opened for reading.
type Transcoder struct {
	FS         afero.Fs
	ScratchDir string
	Limit      int64
	Ladder     []Step
}

// NewTranscoder creates a Transcoder with the default ladder.
func NewTranscoder(fs afero.Fs, scratchDir string, limit int64) *Transcoder {
	if limit <= 0 {
		limit = MaxPhotoBytes
	}
	return &Transcoder{FS: fs, ScratchDir: scratchDir, Limit: limit, Ladder: DefaultLadder}
}

// EnsureWithinLimit returns path unchanged when it is already under the
// limit, otherwise the path of a re-encoded JPEG copy that is.
func (t *Transcoder) EnsureWithinLimit(path string) (string, error) {
	fi, err := t.FS.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.Size() <= t.Limit {
		return path, nil
	}

	src, err := t.FS.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	img, err := imaging.Decode(src, imaging.AutoOrientation(true))
	src.Close()
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}

	if err := t.FS.MkdirAll(t.ScratchDir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := filepath.Join(t.ScratchDir, base+"-"+uuid.Must(uuid.NewV7()).String()+".jpg")

	ladder := t.Ladder
	if len(ladder) > maxSteps {
		ladder = ladder[:maxSteps]
	}
	for _, step := range ladder {
		candidate := img
		if step.Width > 0 && img.Bounds().Dx() > step.Width {
			candidate = imaging.Resize(img, step.Width, 0, imaging.Lanczos)
		}
		size, err := t.encode(out, candidate, step.Quality)
		if err != nil {
			t.FS.Remove(out)
			return "", err
		}
		if size <= t.Limit {
			return out, nil
		}
	}
	t.FS.Remove(out)
	return "", fmt.Errorf("%s: %w", path, ErrLadderExhausted)
}

func (t *Transcoder) encode(out string, img image.Image, quality int) (int64, error) {
	f, err := t.FS.Create(out)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", out, err)
	}
	if err := imaging.Encode(f, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		f.Close()
		return 0, fmt.Errorf("encode %s: %w", out, err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", out, err)
	}
	fi, err := t.FS.Stat(out)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", out, err)
	}
	return fi.Size(), nil
}

// Discard removes a file returned by EnsureWithinLimit. Paths outside
// ScratchDir are left alone, so passing the source path is a no-op.
func (t *Transcoder) Discard(path string) {
	rel, err := filepath.Rel(t.ScratchDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	t.FS.Remove(path)
}
