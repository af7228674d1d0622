package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quailyquaily/screenbridge/internal/pathutil"
)

// Artifacts persists screen captures as addressable files under a single
// directory, named by purpose and timestamp.
type Artifacts struct {
	Dir string

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

func NewArtifacts(dir string) (*Artifacts, error) {
	resolved, err := pathutil.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("artifact dir: %w", err)
	}
	return &Artifacts{Dir: resolved}, nil
}

// Save writes png to a timestamped file and returns its path.
func (a *Artifacts) Save(prefix string, png []byte) (string, error) {
	if a == nil || strings.TrimSpace(a.Dir) == "" {
		return "", fmt.Errorf("artifact store is not configured")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "capture"
	}
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	name := fmt.Sprintf("%s_%s.png", prefix, now().Format("20060102_150405"))
	path := filepath.Join(a.Dir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
