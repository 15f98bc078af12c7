// Package recipe resolves declarative build recipes into
// architecture-specialized package descriptors.
//
// A package is a final user-installable software archive. A recipe
// contains the metadata and instructions necessary to build one or more
// related packages (in the latter case, it is called a split package).
package recipe

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/ipkmk/ipkmk/internal/version"
)

// RecipeError is returned when a recipe definition is malformed.
type RecipeError struct {
	Path    string
	Message string
}

// Error implements the error interface
func (e *RecipeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Warning reports a less serious issue in a recipe definition. Warnings
// are surfaced to the caller but do not stop resolution.
type Warning struct {
	Path    string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Path, w.Message)
}

// Bundle is the set of variations of the same recipe that target
// different architectures.
type Bundle map[string]*Recipe

// Archs returns the architectures of the bundle in sorted order.
func (b Bundle) Archs() []string {
	archs := make([]string, 0, len(b))
	for arch := range b {
		archs = append(archs, arch)
	}
	sort.Strings(archs)
	return archs
}

// Source is a source item needed to build a recipe.
type Source struct {
	// URL or local relative path to the source item
	URL string

	// SHA-256 checksum for validating the source integrity; "SKIP"
	// disables verification
	Checksum string

	// If true, do not attempt to extract this item after downloading
	NoExtract bool
}

// Recipe declares how a set of packages can be built for one
// architecture.
type Recipe struct {
	// Path to the directory in which the recipe is defined
	Path string

	// Source modification timestamp
	Timestamp time.Time

	// Source items to be downloaded
	Sources []Source

	// Packages that are needed to build this recipe
	MakeDepends []*version.Dependency

	// Packages that are needed to prepare this recipe
	PrepareDepends []*version.Dependency

	// Full name and email address of this recipe's maintainer
	Maintainer string

	// Container image used to build this recipe, empty when the recipe
	// has no build step
	Image string

	// Architecture that this recipe targets
	Arch string

	// Flags to be used by the build system
	Flags []string

	// Script for preparing (patching, moving) source files before build
	Prepare string

	// Script for building from source
	Build string

	// Packages to generate from the build artifacts, in declaration order
	Packages map[string]*Package

	// Package names in declaration order
	PackageNames []string
}

// Package is an installable package descriptor produced by a recipe.
//
// The lifecycle script fields (Script and the six maintainer scripts) may
// be appended to by build hooks between pipeline stages; every other field
// is write-once at resolution time.
type Package struct {
	// Name of this package, unique among all recipes of a repository
	Name string

	// Version number
	Version *version.Version

	// Short description
	Desc string

	// URL to the homepage of this package
	URL string

	// Name of the section to which this package belongs
	Section string

	// Identifier for this package's license
	License string

	// Packages that must be installed for this package to work
	InstallDepends []*version.Dependency

	// Packages that this package recommends installing
	Recommends []*version.Dependency

	// Packages that provide additional features for this package
	OptDepends []*version.Dependency

	// Incompatible packages
	Conflicts []*version.Dependency

	// Packages replaced by this package
	Replaces []*version.Dependency

	// Packages that this package provides
	Provides []*version.Dependency

	// Script for assembling build artifacts into the package tree
	Script string

	// Script executed before this package is unpacked
	Preinstall string

	// Script executed after this package is unpacked
	Configure string

	// Script executed before this package is replaced with a newer version
	Preupgrade string

	// Script executed after this package is replaced with a newer version
	Postupgrade string

	// Script executed before this package is removed
	Preremove string

	// Script executed after this package is removed
	Postremove string

	// Recipe used to generate this package
	parent *Recipe
}

// Parent returns the recipe that declares this package.
func (p *Package) Parent() *Recipe {
	return p.parent
}

// Pkgid returns the unique identifier of this package.
func (p *Package) Pkgid() string {
	return strings.Join([]string{
		p.Name,
		strings.ReplaceAll(p.Version.String(), ":", "_"),
		p.parent.Arch,
	}, "_")
}

// Filename returns the name of the archive corresponding to this package,
// relative to the distribution directory.
func (p *Package) Filename() string {
	return path.Join(p.parent.Arch, p.Pkgid()+".ipk")
}

// ControlFields renders the Debian control fields for this package.
func (p *Package) ControlFields() string {
	var control strings.Builder

	fmt.Fprintf(&control, "Package: %s\n", p.Name)
	fmt.Fprintf(&control, "Description: %s\n", p.Desc)
	fmt.Fprintf(&control, "Homepage: %s\n", p.URL)
	fmt.Fprintf(&control, "Version: %s\n", p.Version)
	fmt.Fprintf(&control, "Section: %s\n", p.Section)
	fmt.Fprintf(&control, "Maintainer: %s\n", p.parent.Maintainer)
	fmt.Fprintf(&control, "License: %s\n", p.License)
	fmt.Fprintf(&control, "Architecture: %s\n", p.parent.Arch)

	for _, field := range []struct {
		name string
		deps []*version.Dependency
	}{
		{"Depends", p.InstallDepends},
		{"Recommends", p.Recommends},
		{"Suggests", p.OptDepends},
		{"Conflicts", p.Conflicts},
		{"Replaces", p.Replaces},
		{"Provides", p.Provides},
	} {
		if len(field.deps) == 0 {
			continue
		}

		rendered := make([]string, len(field.deps))
		for i, dep := range field.deps {
			rendered[i] = dep.ToDebian()
		}
		sort.Strings(rendered)

		fmt.Fprintf(&control, "%s: %s\n", field.name, strings.Join(rendered, ", "))
	}

	return control.String()
}
