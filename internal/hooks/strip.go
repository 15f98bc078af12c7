// Package hooks provides the built-in hook listeners that can be attached
// to a builder by name.
package hooks

import (
	"context"
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ipkmk/ipkmk/internal/bash"
	"github.com/ipkmk/ipkmk/internal/build"
	"github.com/ipkmk/ipkmk/internal/recipe"
)

// Image holding the cross-compilation toolchain used for stripping
const stripToolchain = "toolchain:v1.3.1"

// StripHook strips debugging symbols from ELF binaries after the build
// stage. Recipes can opt out by declaring the 'nostrip' flag.
type StripHook struct {
	build.BaseListener

	builder *build.Builder
	logger  *logrus.Entry
}

// NewStripHook creates a strip hook bound to a builder.
func NewStripHook(builder *build.Builder, logger *logrus.Entry) *StripHook {
	return &StripHook{builder: builder, logger: logger}
}

// PostBuild looks for ELF files with symbol tables in the build directory
// and strips them in the toolchain container.
func (h *StripHook) PostBuild(ctx context.Context, rec *recipe.Recipe, srcDir string) error {
	for _, flag := range rec.Flags {
		if flag == "nostrip" {
			h.logger.Debug("Skipping strip ('nostrip' flag is set)")
			return nil
		}
	}

	stripArm, stripX86, err := findStrippable(srcDir)
	if err != nil {
		return err
	}

	if len(stripArm) == 0 && len(stripX86) == 0 {
		h.logger.Debug("Skipping, no binaries found")
		return nil
	}

	// Save original mtimes to restore them afterwards, so that Makefile
	// rules are not triggered again in packaging scripts that use
	// `make install`
	originalMtime := map[string]time.Time{}

	for _, path := range append(append([]string{}, stripArm...), stripX86...) {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		originalMtime[path] = info.ModTime()
	}

	var script string

	if len(stripX86) > 0 {
		script += "strip --strip-all --" + containerPaths(srcDir, stripX86) + "\n"

		h.logger.Debug("x86 binaries to be stripped:")
		h.logTargets(srcDir, stripX86)
	}

	if len(stripArm) > 0 {
		script += `"${CROSS_COMPILE}strip" --strip-all --` + containerPaths(srcDir, stripArm) + "\n"

		h.logger.Debug("ARM binaries to be stripped:")
		h.logTargets(srcDir, stripArm)
	}

	if err := h.builder.RunInContainer(ctx, stripToolchain, srcDir, script); err != nil {
		return fmt.Errorf("failed to strip binaries: %w", err)
	}

	for path, mtime := range originalMtime {
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			return err
		}
	}

	return nil
}

func (h *StripHook) logTargets(srcDir string, paths []string) {
	for _, path := range paths {
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			rel = path
		}
		h.logger.Debugf(" - %s", rel)
	}
}

// findStrippable walks srcDir and classifies the ELF files that still carry
// a symbol table by machine architecture. Non-ELF files are ignored.
func findStrippable(srcDir string) (stripArm, stripX86 []string, err error) {
	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		file, err := elf.Open(path)
		if err != nil {
			// Not an ELF file
			return nil
		}
		defer file.Close()

		if file.Section(".symtab") == nil {
			return nil
		}

		switch file.Machine {
		case elf.EM_ARM, elf.EM_AARCH64:
			stripArm = append(stripArm, path)
		case elf.EM_386, elf.EM_X86_64:
			stripX86 = append(stripX86, path)
		}

		return nil
	})

	return stripArm, stripX86, err
}

func containerPaths(srcDir string, paths []string) string {
	var out string

	for _, path := range paths {
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			rel = path
		}
		out += " " + bash.Quote(filepath.ToSlash(filepath.Join("/src", rel)))
	}

	return out
}
