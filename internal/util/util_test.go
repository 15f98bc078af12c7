package util

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGzipRoundTrip(t *testing.T) {
	payload := []byte("some index data\nrepeated data data data\n")

	compressed, err := GzipCompress(payload)
	require.NoError(t, err)

	decompressed, err := GzipDecompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, decompressed)
}

func TestFileSHA256(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, []byte("hello world\n"), 0o644))

	checksum, err := FileSHA256(path)
	require.NoError(t, err)
	assert.Equal(t,
		"a948904f2f0f479b8f8197694b30184b0d2ed1c1cd2a1ec0fb85d299a192a447",
		checksum)
}

func TestCopyFilePreservesMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("#!/bin/sh\n"), 0o755))

	require.NoError(t, CopyFile(src, dst))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("#!/bin/sh\n"), data)
}

func TestListTree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b", "file"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "top"), nil, 0o644))

	files, err := ListTree(root)
	require.NoError(t, err)

	assert.Contains(t, files, filepath.Join(root, "a", "b", "file"))
	assert.Contains(t, files, filepath.Join(root, "top"))
}

func TestSetTreeTimes(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	stamp := time.Unix(1627764240, 0)
	require.NoError(t, SetTreeTimes(root, stamp))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(stamp))
}

func writeTarGz(t *testing.T, path string) {
	t.Helper()

	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	gz := gzip.NewWriter(file)
	tw := tar.NewWriter(gz)

	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "dir/", Typeflag: tar.TypeDir, Mode: 0o755,
	}))
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "dir/hello.txt", Typeflag: tar.TypeReg, Mode: 0o644, Size: 6,
	}))
	_, err = tw.Write([]byte("hello\n"))
	require.NoError(t, err)

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
}

func TestAutoExtractTarGz(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "source.tar.gz")
	writeTarGz(t, archivePath)

	destDir := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(destDir, 0o755))

	extracted, err := AutoExtract(archivePath, destDir)
	require.NoError(t, err)
	assert.True(t, extracted)

	data, err := os.ReadFile(filepath.Join(destDir, "dir", "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello\n"), data)
}

func TestAutoExtractZip(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "source.zip")

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entry, err := zw.Create("nested/file.txt")
	require.NoError(t, err)
	_, err = entry.Write([]byte("zipped\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(archivePath, buf.Bytes(), 0o644))

	destDir := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(destDir, 0o755))

	extracted, err := AutoExtract(archivePath, destDir)
	require.NoError(t, err)
	assert.True(t, extracted)

	data, err := os.ReadFile(filepath.Join(destDir, "nested", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("zipped\n"), data)
}

func TestAutoExtractUnsupported(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "source.bin")
	require.NoError(t, os.WriteFile(archivePath, []byte("raw"), 0o644))

	extracted, err := AutoExtract(archivePath, dir)
	require.NoError(t, err)
	assert.False(t, extracted)
}

func TestAutoExtractRejectsEscapingPaths(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.tar.gz")

	file, err := os.Create(archivePath)
	require.NoError(t, err)
	gz := gzip.NewWriter(file)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "../escape", Typeflag: tar.TypeReg, Mode: 0o644, Size: 1,
	}))
	_, err = tw.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, file.Close())

	destDir := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(destDir, 0o755))

	_, err = AutoExtract(archivePath, destDir)
	assert.ErrorContains(t, err, "escapes the extraction directory")
}

func TestAutoExtractTarZstWithHardLink(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "source.tar.zst")

	file, err := os.Create(archivePath)
	require.NoError(t, err)

	encoder, err := zstd.NewWriter(file)
	require.NoError(t, err)

	tw := tar.NewWriter(encoder)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "hello.txt", Typeflag: tar.TypeReg, Mode: 0o644, Size: 6,
	}))
	_, err = tw.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "hello.link", Typeflag: tar.TypeLink, Linkname: "hello.txt",
	}))
	require.NoError(t, tw.Close())
	require.NoError(t, encoder.Close())
	require.NoError(t, file.Close())

	destDir := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(destDir, 0o755))

	extracted, err := AutoExtract(archivePath, destDir)
	require.NoError(t, err)
	assert.True(t, extracted)

	data, err := os.ReadFile(filepath.Join(destDir, "hello.link"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello\n"), data)

	original, err := os.Stat(filepath.Join(destDir, "hello.txt"))
	require.NoError(t, err)
	linked, err := os.Stat(filepath.Join(destDir, "hello.link"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(original, linked))
}

func TestAutoExtractHardLinkEscape(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "source.tar")

	file, err := os.Create(archivePath)
	require.NoError(t, err)

	tw := tar.NewWriter(file)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "escape.link", Typeflag: tar.TypeLink, Linkname: "../outside",
	}))
	require.NoError(t, tw.Close())
	require.NoError(t, file.Close())

	destDir := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(destDir, 0o755))

	_, err = AutoExtract(archivePath, destDir)
	assert.ErrorContains(t, err, "escapes the extraction directory")
}
