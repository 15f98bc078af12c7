package util

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// AutoExtract extracts an archive into destDir if its file name matches a
// supported format. It reports whether an extraction took place; files with
// an unrecognized extension are left for the caller to handle.
func AutoExtract(archivePath, destDir string) (bool, error) {
	name := strings.ToLower(filepath.Base(archivePath))

	switch {
	case strings.HasSuffix(name, ".zip"):
		return true, extractZip(archivePath, destDir)
	case strings.HasSuffix(name, ".tar"):
		return true, extractTarFile(archivePath, destDir, func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(r), nil
		})
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return true, extractTarFile(archivePath, destDir, func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		})
	case strings.HasSuffix(name, ".tar.xz"):
		return true, extractTarFile(archivePath, destDir, func(r io.Reader) (io.ReadCloser, error) {
			reader, err := xz.NewReader(r)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(reader), nil
		})
	case strings.HasSuffix(name, ".tar.bz2"):
		return true, extractTarFile(archivePath, destDir, func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(bzip2.NewReader(r)), nil
		})
	case strings.HasSuffix(name, ".tar.zst"):
		return true, extractTarFile(archivePath, destDir, func(r io.Reader) (io.ReadCloser, error) {
			decoder, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			// Closing the decoder releases its worker goroutines
			return decoder.IOReadCloser(), nil
		})
	}

	return false, nil
}

func extractTarFile(archivePath, destDir string, wrap func(io.Reader) (io.ReadCloser, error)) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer file.Close()

	reader, err := wrap(file)
	if err != nil {
		return err
	}
	defer reader.Close()

	return extractTar(tar.NewReader(reader), destDir)
}

func extractTar(reader *tar.Reader, destDir string) error {
	for {
		header, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(header.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, reader, os.FileMode(header.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return err
			}
		case tar.TypeLink:
			source, err := safeJoin(destDir, header.Linkname)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Link(source, target); err != nil {
				return err
			}
		}
	}
}

func extractZip(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer reader.Close()

	for _, entry := range reader.File {
		target, err := safeJoin(destDir, entry.Name)
		if err != nil {
			return err
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, entry.Mode()); err != nil {
				return err
			}
			continue
		}

		source, err := entry.Open()
		if err != nil {
			return err
		}

		err = writeEntry(target, source, entry.Mode())
		source.Close()

		if err != nil {
			return err
		}
	}

	return nil
}

func safeJoin(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.Clean(name))

	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive member '%s' escapes the extraction directory", name)
	}

	return target, nil
}

func writeEntry(target string, source io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	file, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(file, source); err != nil {
		file.Close()
		return err
	}

	return file.Close()
}
