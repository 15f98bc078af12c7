// Package scanner locates recipe directories beneath a root for batch
// builds.
package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/ipkmk/ipkmk/internal/recipe"
)

// Scan recursively walks dir and returns every directory that holds a
// recipe definition file, in sorted order. The recipe directories
// themselves are not descended into.
func Scan(ctx context.Context, dir string, logger *logrus.Entry) ([]string, error) {
	var recipes []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !info.IsDir() {
			return nil
		}

		definition := filepath.Join(path, recipe.DefinitionFile)
		if stat, err := os.Stat(definition); err == nil && stat.Mode().IsRegular() {
			logger.Debugf("Found recipe: %s", path)
			recipes = append(recipes, path)
			return filepath.SkipDir
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to scan directory: %w", err)
	}

	sort.Strings(recipes)
	logger.Infof("Found %d recipes in %s", len(recipes), dir)

	return recipes, nil
}
