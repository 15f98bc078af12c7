// Package repo maintains opkg-compatible package indices over a directory
// tree of built packages.
package repo

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ipkmk/ipkmk/internal/ipk"
	"github.com/ipkmk/ipkmk/internal/signer"
	"github.com/ipkmk/ipkmk/internal/util"
)

const (
	indexName          = "Packages"
	indexGzipName      = "Packages.gz"
	indexSignatureName = "Packages.asc"
	publicKeyName      = "key.asc"
)

// MakeIndex recursively generates index files for all the packages under
// baseDir. Every directory gets a Packages file and a gzipped copy listing
// the metadata of the ipk packages contained directly in that directory.
// When sig is non-nil each index also gets a detached armored signature,
// and the armored public key that verifies them is exported to the root of
// the repository.
func MakeIndex(baseDir string, sig signer.Signer, logger *logrus.Entry) error {
	logger.Info("Generating package index")

	if err := makeIndex(baseDir, sig); err != nil {
		return err
	}

	if sig != nil {
		key, err := sig.PublicKey()
		if err != nil {
			return fmt.Errorf("failed to export the repository public key: %w", err)
		}

		if err := os.WriteFile(filepath.Join(baseDir, publicKeyName), key, 0o644); err != nil {
			return err
		}
	}

	return nil
}

func makeIndex(baseDir string, sig signer.Signer) error {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return err
	}

	var index bytes.Buffer
	var names []string

	for _, entry := range entries {
		name := entry.Name()

		switch {
		case name == indexName || name == indexGzipName || name == indexSignatureName:
		case entry.IsDir():
			if err := makeIndex(filepath.Join(baseDir, name), sig); err != nil {
				return err
			}
		case strings.HasSuffix(name, ".ipk"):
			names = append(names, name)
		}
	}

	sort.Strings(names)

	for _, name := range names {
		if err := writeEntry(&index, baseDir, name); err != nil {
			return err
		}
	}

	indexPath := filepath.Join(baseDir, indexName)

	if err := os.WriteFile(indexPath, index.Bytes(), 0o644); err != nil {
		return err
	}

	compressed, err := util.GzipCompress(index.Bytes())
	if err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(baseDir, indexGzipName), compressed, 0o644); err != nil {
		return err
	}

	if sig != nil {
		signature, err := sig.SignDetached(index.Bytes())
		if err != nil {
			return fmt.Errorf("failed to sign index '%s': %w", indexPath, err)
		}

		if err := os.WriteFile(filepath.Join(baseDir, indexSignatureName), signature, 0o644); err != nil {
			return err
		}
	}

	return nil
}

func writeEntry(index *bytes.Buffer, baseDir, name string) error {
	path := filepath.Join(baseDir, name)

	archive, err := ipk.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read package '%s': %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	checksum, err := util.FileSHA256(path)
	if err != nil {
		return err
	}

	metadata := archive.Metadata
	if !strings.HasSuffix(metadata, "\n") {
		metadata += "\n"
	}

	index.WriteString(metadata)
	fmt.Fprintf(index, "Filename: %s\n", name)
	fmt.Fprintf(index, "SHA256sum: %s\n", checksum)
	fmt.Fprintf(index, "Size: %d\n", info.Size())
	index.WriteString("\n")

	return nil
}
