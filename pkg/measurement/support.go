package measurement

import (
	"io"
	"os"
	"path/filepath"
)

// CopySupportFiles copies each path in srcPaths directly into the
// measurement's host directory, preserving the base name (e.g. a loaded
// middleware config lands at <host_name>/ecal.yaml). A source that doesn't
// exist is skipped rather than failing the job: support files (host system
// info, middleware config) are a convenience, not a requirement of a valid
// recording (spec §12 supplemented feature).
func (w *Writer) CopySupportFiles(srcPaths ...string) error {
	for _, src := range srcPaths {
		if err := copyFile(src, filepath.Join(w.dir, filepath.Base(src))); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
