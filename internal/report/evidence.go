package report

import (
	"archive/zip"
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// CreateEvidenceZip bundles the audit artifact directory and screenshots
// into a zip archive. Screenshots get stable names under screenshots/;
// everything else in the artifact directory is added under its relative
// path, skipping entries already present.
//
// The rendered PDF is intentionally not bundled: it is regenerated on
// demand by its own endpoint.
func CreateEvidenceZip(artifactsDir string, screenshots []string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	added := make(map[string]struct{})

	addFile := func(path, name string) {
		if _, ok := added[name]; ok {
			return
		}
		f, err := os.Open(path)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("Skipping unreadable evidence file")
			return
		}
		defer f.Close()

		w, err := zw.Create(name)
		if err != nil {
			log.Warn().Err(err).Str("name", name).Msg("Failed to add evidence entry")
			return
		}
		if _, err := io.Copy(w, f); err != nil {
			log.Warn().Err(err).Str("name", name).Msg("Failed to copy evidence entry")
			return
		}
		added[name] = struct{}{}
	}

	for _, screenshot := range screenshots {
		addFile(screenshot, "screenshots/"+filepath.Base(screenshot))
	}

	if artifactsDir != "" {
		err := filepath.WalkDir(artifactsDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			rel, rerr := filepath.Rel(artifactsDir, path)
			if rerr != nil {
				return nil
			}
			addFile(path, filepath.ToSlash(rel))
			return nil
		})
		if err != nil {
			log.Warn().Err(err).Str("dir", artifactsDir).Msg("Evidence walk failed")
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
