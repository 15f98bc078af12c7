package ipk

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Archive holds the contents of an ipk package loaded into memory.
type Archive struct {
	// Rendered control-field text
	Metadata string

	// Maintainer scripts keyed by their Debian name
	Scripts map[string]string

	// Raw bytes of the data sub-archive (a gzip-compressed tar)
	Data []byte
}

// ReadFile loads an ipk package from disk.
func ReadFile(path string) (*Archive, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Read(file)
}

// Read loads an ipk package from a stream.
func Read(r io.Reader) (*Archive, error) {
	outer, err := openTarGzReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open package: %w", err)
	}

	result := &Archive{Scripts: map[string]string{}}
	foundControl := false

	for {
		header, err := outer.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch strings.TrimPrefix(header.Name, "./") {
		case "control.tar.gz":
			if err := readControl(outer, result); err != nil {
				return nil, err
			}
			foundControl = true
		case "data.tar.gz":
			data, err := io.ReadAll(outer)
			if err != nil {
				return nil, err
			}
			result.Data = data
		}
	}

	if !foundControl {
		return nil, fmt.Errorf("control.tar.gz not found in package")
	}

	return result, nil
}

// DataFiles lists the member names of the data sub-archive.
func (a *Archive) DataFiles() ([]string, error) {
	archive, err := openTarGzReader(bytes.NewReader(a.Data))
	if err != nil {
		return nil, err
	}

	var names []string
	for {
		header, err := archive.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, header.Name)
	}

	return names, nil
}

func readControl(r io.Reader, result *Archive) error {
	archive, err := openTarGzReader(r)
	if err != nil {
		return fmt.Errorf("failed to open control sub-archive: %w", err)
	}

	for {
		header, err := archive.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}

		contents, err := io.ReadAll(archive)
		if err != nil {
			return err
		}

		name := strings.TrimPrefix(header.Name, "./")
		if name == "control" {
			result.Metadata = string(contents)
		} else {
			result.Scripts[name] = string(contents)
		}
	}

	return nil
}

func openTarGzReader(r io.Reader) (*tar.Reader, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	return tar.NewReader(gz), nil
}
