package tasks

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ArchiveOldSnapshots zips every file under dir older than maxAge into
// a single dated archive and removes the originals. It is meant to run
// on a daily cadence alongside the live checkpoint-snapshot cadence.
func ArchiveOldSnapshots(ctx context.Context, dir string, maxAge time.Duration) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-maxAge)
	var stale []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, filepath.Join(dir, e.Name()))
		}
	}
	if len(stale) == 0 {
		return nil
	}

	archivePath := filepath.Join(dir, fmt.Sprintf("archive-%d.zip", time.Now().Unix()))
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer archiveFile.Close()

	zw := zip.NewWriter(archiveFile)
	for _, path := range stale {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return err
		}
		if err := addFileToZip(zw, path); err != nil {
			zw.Close()
			return fmt.Errorf("archiving %q: %w", path, err)
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}

	for _, path := range stale {
		os.Remove(path)
	}
	return nil
}

func addFileToZip(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	buf := make([]byte, 32*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			break
		}
	}
	return nil
}
