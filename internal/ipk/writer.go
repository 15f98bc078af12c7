// Package ipk reads and writes ipk packages.
//
// An ipk package is a gzip-compressed tar archive holding a
// `debian-binary` version marker and two nested gzip-compressed tar
// archives: `control.tar.gz` with the package metadata and maintainer
// scripts, and `data.tar.gz` with the package tree. All archive members
// carry a fixed modification time so that identical inputs produce
// identical archives.
package ipk

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Contents of the debian-binary member
const versionMarker = "2.0\n"

// Write creates an ipk package. The metadata string becomes the control
// file, scripts are added as maintainer scripts named by Debian
// convention, and pkgDir is the directory holding the package tree for
// the data sub-archive (empty string produces an empty data archive).
// Every member is stamped with the given epoch.
func Write(w io.Writer, epoch int64, metadata string, scripts map[string]string, pkgDir string) error {
	var control bytes.Buffer
	if err := WriteControl(&control, epoch, metadata, scripts); err != nil {
		return err
	}

	var data bytes.Buffer
	if err := WriteData(&data, epoch, pkgDir); err != nil {
		return err
	}

	archive, closeArchive := openTarGz(w, epoch)

	if err := addDir(archive, "./", epoch); err != nil {
		closeArchive()
		return err
	}

	for _, member := range []struct {
		name string
		mode int64
		data []byte
	}{
		{"debian-binary", 0o644, []byte(versionMarker)},
		{"control.tar.gz", 0o644, control.Bytes()},
		{"data.tar.gz", 0o644, data.Bytes()},
	} {
		if err := addFile(archive, member.name, member.mode, epoch, member.data); err != nil {
			closeArchive()
			return err
		}
	}

	return closeArchive()
}

// WriteControl creates the control sub-archive of an ipk package.
//
// See https://www.debian.org/doc/debian-policy/ch-controlfields.html
// and https://www.debian.org/doc/debian-policy/ch-maintainerscripts.html.
func WriteControl(w io.Writer, epoch int64, metadata string, scripts map[string]string) error {
	archive, closeArchive := openTarGz(w, epoch)

	if err := addDir(archive, "./", epoch); err != nil {
		closeArchive()
		return err
	}

	if err := addFile(archive, "control", 0o644, epoch, []byte(metadata)); err != nil {
		closeArchive()
		return err
	}

	names := make([]string, 0, len(scripts))
	for name := range scripts {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := addFile(archive, name, 0o755, epoch, []byte(scripts[name])); err != nil {
			closeArchive()
			return err
		}
	}

	return closeArchive()
}

// WriteData creates the data sub-archive of an ipk package from the
// package tree rooted at pkgDir, with member paths relativized to the
// package root. An empty pkgDir produces an empty data archive.
func WriteData(w io.Writer, epoch int64, pkgDir string) error {
	archive, closeArchive := openTarGz(w, epoch)

	if err := addDir(archive, "./", epoch); err != nil {
		closeArchive()
		return err
	}

	if pkgDir != "" {
		if err := addTree(archive, pkgDir, epoch); err != nil {
			closeArchive()
			return err
		}
	}

	return closeArchive()
}

// openTarGz opens a gzip-compressed tar stream with a pinned gzip header
// timestamp. The returned close function flushes both layers.
func openTarGz(w io.Writer, epoch int64) (*tar.Writer, func() error) {
	gz, _ := gzip.NewWriterLevel(w, gzip.BestCompression)
	gz.Header.ModTime = time.Unix(epoch, 0)

	archive := tar.NewWriter(gz)

	return archive, func() error {
		if err := archive.Close(); err != nil {
			gz.Close()
			return err
		}
		return gz.Close()
	}
}

// cleanHeader strips variable data from an archive member header.
func cleanHeader(header *tar.Header, epoch int64) {
	if len(header.Name) == 0 || header.Name[0] != '.' {
		header.Name = "./" + header.Name
	}

	header.Uid = 0
	header.Gid = 0
	header.Uname = ""
	header.Gname = ""
	header.ModTime = time.Unix(epoch, 0)
	header.AccessTime = time.Time{}
	header.ChangeTime = time.Time{}
	header.Format = tar.FormatGNU
}

func addDir(archive *tar.Writer, name string, epoch int64) error {
	header := &tar.Header{
		Name:     name,
		Typeflag: tar.TypeDir,
		Mode:     0o755,
	}
	cleanHeader(header, epoch)
	return archive.WriteHeader(header)
}

func addFile(archive *tar.Writer, name string, mode int64, epoch int64, data []byte) error {
	header := &tar.Header{
		Name:     name,
		Typeflag: tar.TypeReg,
		Mode:     mode,
		Size:     int64(len(data)),
	}
	cleanHeader(header, epoch)

	if err := archive.WriteHeader(header); err != nil {
		return err
	}

	_, err := archive.Write(data)
	return err
}

// addTree walks a directory tree and appends its contents to an archive,
// relativized to the tree root.
func addTree(archive *tar.Writer, root string, epoch int64) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}

		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}

		header.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			header.Name += "/"
		}
		cleanHeader(header, epoch)

		if err := archive.WriteHeader(header); err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		if _, err := io.Copy(archive, file); err != nil {
			return fmt.Errorf("failed to archive %s: %w", path, err)
		}

		return nil
	})
}
