package build

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"time"

	"github.com/ipkmk/ipkmk/internal/recipe"
	"github.com/ipkmk/ipkmk/internal/util"
)

// Detect non-local paths
var urlRegex = regexp.MustCompile(`^[a-z]+://`)

var fetchClient = &http.Client{Timeout: 5 * time.Minute}

// fetchSources fetches and extracts all source files required to build a
// recipe into srcDir.
func (b *Builder) fetchSources(rec *recipe.Recipe, srcDir string) error {
	b.logger.Info("Fetching source files")

	for _, source := range rec.Sources {
		filename := path.Base(source.URL)
		localPath := filepath.Join(srcDir, filename)

		if urlRegex.MatchString(source.URL) {
			if err := downloadFile(source.URL, localPath); err != nil {
				return err
			}
		} else {
			// Get the source file from the recipe's directory
			if err := util.CopyFile(filepath.Join(rec.Path, source.URL), localPath); err != nil {
				return &BuildError{Message: fmt.Sprintf(
					"Failed to copy source file '%s': %v", source.URL, err)}
			}
		}

		fileSHA, err := util.FileSHA256(localPath)
		if err != nil {
			return err
		}

		if source.Checksum != "SKIP" && source.Checksum != fileSHA {
			return &BuildError{Message: fmt.Sprintf(
				"Invalid checksum for source file %s:\n  expected %s\n  actual   %s",
				source.URL, source.Checksum, fileSHA)}
		}

		if !source.NoExtract {
			extracted, err := util.AutoExtract(localPath, srcDir)
			if err != nil {
				return &BuildError{Message: fmt.Sprintf(
					"Failed to extract source file '%s': %v", source.URL, err)}
			}

			if !extracted {
				b.logger.Debugf("Not extracting %s (unsupported archive type)", localPath)
			}
		}
	}

	return nil
}

func downloadFile(url, localPath string) error {
	resp, err := fetchClient.Get(url)
	if err != nil {
		return &BuildError{Message: fmt.Sprintf(
			"Failed to fetch source file '%s': %v", url, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &BuildError{Message: fmt.Sprintf(
			"Unexpected status code while fetching source file '%s', got %d",
			url, resp.StatusCode)}
	}

	local, err := os.Create(localPath)
	if err != nil {
		return err
	}

	if _, err := io.Copy(local, resp.Body); err != nil {
		local.Close()
		return err
	}

	return local.Close()
}
