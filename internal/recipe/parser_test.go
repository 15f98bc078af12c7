package recipe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipkmk/ipkmk/internal/version"
)

func writeRecipe(t *testing.T, definition string) string {
	t.Helper()

	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, DefinitionFile), []byte(definition), 0o644)
	require.NoError(t, err)

	return dir
}

func TestResolveBasicRecipe(t *testing.T) {
	dir := writeRecipe(t, `
pkgnames=(basic-recipe)
pkgdesc="A simple test for recipe parsing"
url=https://example.org/basic-recipe
pkgver=42.0-1
timestamp=2021-07-31T20:44Z
section="test"
maintainer="None <none@example.org>"
license=MIT

image=base:v2.1
source=("https://example.org/${pkgnames[0]}/release-${pkgver%-*}.zip")
sha256sums=(SKIP)

build() {
    echo "Build function"
}

package() {
    echo "Package function"
}
`)

	bundle, warnings, err := Resolve(context.Background(), dir)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	require.Equal(t, []string{"rmall"}, bundle.Archs())
	rec := bundle["rmall"]

	assert.Equal(t, dir, rec.Path)
	assert.Equal(t, time.Date(2021, 7, 31, 20, 44, 0, 0, time.UTC), rec.Timestamp)
	assert.Equal(t, []Source{{
		URL:      "https://example.org/basic-recipe/release-42.0.zip",
		Checksum: "SKIP",
	}}, rec.Sources)
	assert.Empty(t, rec.MakeDepends)
	assert.Empty(t, rec.PrepareDepends)
	assert.Equal(t, "None <none@example.org>", rec.Maintainer)
	assert.Equal(t, "base:v2.1", rec.Image)
	assert.Equal(t, "rmall", rec.Arch)
	assert.Empty(t, rec.Flags)
	assert.Equal(t, "", rec.Prepare)

	assert.Equal(t, `declare -a flags=()
declare timestamp=2021-07-31T20:44Z
declare -a source=([0]=https://example.org/basic-recipe/release-42.0.zip)
declare -a sha256sums=([0]=SKIP)
declare -a noextract=()
declare -a makedepends=()
declare -a preparedepends=()
declare maintainer='None <none@example.org>'
declare image=base:v2.1
declare arch=rmall
declare pkgdesc='A simple test for recipe parsing'
declare url=https://example.org/basic-recipe
declare pkgver=42.0-1
declare section=test
declare license=MIT
declare pkgname=basic-recipe


    echo "Build function"
`, rec.Build)

	require.Equal(t, []string{"basic-recipe"}, rec.PackageNames)
	pkg := rec.Packages["basic-recipe"]

	assert.Equal(t, "basic-recipe", pkg.Name)
	assert.Same(t, rec, pkg.Parent())
	assert.True(t, pkg.Version.Equal(mustVersion(t, 0, "42.0", "1")))
	assert.Equal(t, "A simple test for recipe parsing", pkg.Desc)
	assert.Equal(t, "https://example.org/basic-recipe", pkg.URL)
	assert.Equal(t, "test", pkg.Section)
	assert.Equal(t, "MIT", pkg.License)
	assert.Empty(t, pkg.InstallDepends)

	assert.Equal(t, `declare -a flags=()
declare timestamp=2021-07-31T20:44Z
declare -a source=([0]=https://example.org/basic-recipe/release-42.0.zip)
declare -a sha256sums=([0]=SKIP)
declare -a noextract=()
declare -a makedepends=()
declare -a preparedepends=()
declare maintainer='None <none@example.org>'
declare image=base:v2.1
declare arch=rmall
declare pkgname=basic-recipe
declare pkgver=42.0-1
declare pkgdesc='A simple test for recipe parsing'
declare url=https://example.org/basic-recipe
declare section=test
declare license=MIT
declare -a installdepends=()
declare -a recommends=()
declare -a optdepends=()
declare -a conflicts=()
declare -a replaces=()
declare -a provides=()


    echo "Package function"
`, pkg.Script)

	assert.Equal(t, "", pkg.Preinstall)
	assert.Equal(t, "", pkg.Configure)
	assert.Equal(t, "", pkg.Preupgrade)
	assert.Equal(t, "", pkg.Postupgrade)
	assert.Equal(t, "", pkg.Preremove)
	assert.Equal(t, "", pkg.Postremove)

	assert.Equal(t, "basic-recipe_42.0-1_rmall", pkg.Pkgid())
	assert.Equal(t, "rmall/basic-recipe_42.0-1_rmall.ipk", pkg.Filename())
	assert.Equal(t, `Package: basic-recipe
Description: A simple test for recipe parsing
Homepage: https://example.org/basic-recipe
Version: 42.0-1
Section: test
Maintainer: None <none@example.org>
License: MIT
Architecture: rmall
`, pkg.ControlFields())
}

func mustVersion(t *testing.T, epoch int, upstream, revision string) *version.Version {
	t.Helper()

	v, err := version.New(epoch, upstream, revision)
	require.NoError(t, err)
	return v
}

func TestResolveDependencies(t *testing.T) {
	dir := writeRecipe(t, `
pkgnames=(dependencies)
pkgdesc="Test for dependency declarations"
url=https://example.org/dependencies
pkgver=42.0-1
timestamp=2021-07-31T20:44Z
section="test"
maintainer="None <none@example.org>"
license=MIT
makedepends=(build:gcc host:util-linux)
installdepends=("core >= 1.0" extra)
recommends=(nice-to-have)
conflicts=(incompatible)

package() {
    echo "Package function"
}
`)

	bundle, warnings, err := Resolve(context.Background(), dir)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	rec := bundle["rmall"]

	require.Len(t, rec.MakeDepends, 2)
	assert.Equal(t, version.BuildDependency, rec.MakeDepends[0].Kind)
	assert.Equal(t, "gcc", rec.MakeDepends[0].Package)
	assert.Equal(t, version.HostDependency, rec.MakeDepends[1].Kind)
	assert.Equal(t, "util-linux", rec.MakeDepends[1].Package)

	pkg := rec.Packages["dependencies"]

	require.Len(t, pkg.InstallDepends, 2)
	assert.Equal(t, "core", pkg.InstallDepends[0].Package)
	assert.Equal(t, version.GreaterThanOrEqual, pkg.InstallDepends[0].Comparator)
	assert.True(t, pkg.InstallDepends[0].Version.Equal(mustVersion(t, 0, "1.0", "0")))
	assert.Equal(t, "extra", pkg.InstallDepends[1].Package)
	assert.Nil(t, pkg.InstallDepends[1].Version)

	require.Len(t, pkg.Recommends, 1)
	assert.Equal(t, "nice-to-have", pkg.Recommends[0].Package)

	require.Len(t, pkg.Conflicts, 1)
	assert.Equal(t, "incompatible", pkg.Conflicts[0].Package)
}

func TestResolveBuildDependencyRejectedInInstallDepends(t *testing.T) {
	dir := writeRecipe(t, `
pkgnames=(bad-deps)
pkgdesc="Test"
url=https://example.org/bad-deps
pkgver=1.0-1
timestamp=2021-07-31T20:44Z
section="test"
maintainer="None <none@example.org>"
license=MIT
installdepends=(build:gcc)

package() {
    true
}
`)

	_, _, err := Resolve(context.Background(), dir)

	var recipeErr *RecipeError
	require.ErrorAs(t, err, &recipeErr)
	assert.Contains(t, recipeErr.Message, "Only host packages are supported in the 'installdepends' field")
}

func TestResolveArchSpecialization(t *testing.T) {
	dir := writeRecipe(t, `
archs=(rm1 rm2)
pkgnames=(multi-arch)
pkgdesc="Test for architecture specialization"
url=https://example.org/multi-arch
pkgver=0.1.0-1
timestamp=2021-07-31T20:44Z
section="test"
maintainer="None <none@example.org>"
license=MIT
flags=(common)
flags_rm1=(extra)
section_rm2=other

package() {
    true
}
`)

	bundle, warnings, err := Resolve(context.Background(), dir)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	require.Equal(t, []string{"rm1", "rm2"}, bundle.Archs())

	rm1 := bundle["rm1"]
	assert.Equal(t, "rm1", rm1.Arch)
	// Indexed suffixed fields extend the base value
	assert.Equal(t, []string{"common", "extra"}, rm1.Flags)
	assert.Equal(t, "test", rm1.Packages["multi-arch"].Section)

	rm2 := bundle["rm2"]
	assert.Equal(t, "rm2", rm2.Arch)
	assert.Equal(t, []string{"common"}, rm2.Flags)
	// Scalar suffixed fields replace the base value
	assert.Equal(t, "other", rm2.Packages["multi-arch"].Section)

	assert.Equal(t, "multi-arch_0.1.0-1_rm1", rm1.Packages["multi-arch"].Pkgid())
	assert.Equal(t, "rm2/multi-arch_0.1.0-1_rm2.ipk", rm2.Packages["multi-arch"].Filename())
}

func TestResolveArchSuffixTypeMismatch(t *testing.T) {
	dir := writeRecipe(t, `
archs=(rm1)
pkgnames=(mismatch)
pkgdesc="Test"
url=https://example.org/mismatch
pkgver=1.0-1
timestamp=2021-07-31T20:44Z
section="test"
maintainer="None <none@example.org>"
license=MIT
flags=(one)
flags_rm1=scalar

package() {
    true
}
`)

	_, _, err := Resolve(context.Background(), dir)

	var recipeErr *RecipeError
	require.ErrorAs(t, err, &recipeErr)
	assert.Contains(t, recipeErr.Message,
		"The 'flags' field is declared several times with different types")
}

func TestResolveSplitPackages(t *testing.T) {
	dir := writeRecipe(t, `
pkgnames=(first second)
timestamp=2021-07-31T20:44Z
maintainer="None <none@example.org>"
pkgver=0.1-1
url=https://example.org/split
section="test"
license=MIT

first() {
    pkgdesc="The first package"

    package() {
        echo "First package function"
    }
}

second() {
    pkgdesc="The second package"
    pkgver=0.2-1

    package() {
        echo "Second package function"
    }
}
`)

	bundle, warnings, err := Resolve(context.Background(), dir)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	rec := bundle["rmall"]
	require.Equal(t, []string{"first", "second"}, rec.PackageNames)

	first := rec.Packages["first"]
	assert.Equal(t, "The first package", first.Desc)
	assert.True(t, first.Version.Equal(mustVersion(t, 0, "0.1", "1")))
	assert.Contains(t, first.Script, `echo "First package function"`)
	assert.Contains(t, first.Script, "declare pkgname=first\n")

	second := rec.Packages["second"]
	assert.Equal(t, "The second package", second.Desc)
	assert.True(t, second.Version.Equal(mustVersion(t, 0, "0.2", "1")))
	assert.Contains(t, second.Script, `echo "Second package function"`)
	assert.Contains(t, second.Script, "declare pkgver=0.2-1\n")
}

func TestResolveSplitPackageMissingFunction(t *testing.T) {
	dir := writeRecipe(t, `
pkgnames=(first second)
timestamp=2021-07-31T20:44Z
maintainer="None <none@example.org>"
pkgver=0.1-1
url=https://example.org/split
pkgdesc="Test"
section="test"
license=MIT

first() {
    package() {
        true
    }
}
`)

	_, _, err := Resolve(context.Background(), dir)

	var recipeErr *RecipeError
	require.ErrorAs(t, err, &recipeErr)
	assert.Contains(t, recipeErr.Message,
		"Missing required function second() for corresponding package")
}

func TestResolveImageWithoutBuild(t *testing.T) {
	dir := writeRecipe(t, `
pkgnames=(no-build)
pkgdesc="Test"
url=https://example.org/no-build
pkgver=1.0-1
timestamp=2021-07-31T20:44Z
section="test"
maintainer="None <none@example.org>"
license=MIT
image=base:v2.1

package() {
    true
}
`)

	_, _, err := Resolve(context.Background(), dir)

	var recipeErr *RecipeError
	require.ErrorAs(t, err, &recipeErr)
	assert.Contains(t, recipeErr.Message,
		"Missing build() function for a recipe which declares a build image")
}

func TestResolveBuildWithoutImage(t *testing.T) {
	dir := writeRecipe(t, `
pkgnames=(no-image)
pkgdesc="Test"
url=https://example.org/no-image
pkgver=1.0-1
timestamp=2021-07-31T20:44Z
section="test"
maintainer="None <none@example.org>"
license=MIT

build() {
    true
}

package() {
    true
}
`)

	_, _, err := Resolve(context.Background(), dir)

	var recipeErr *RecipeError
	require.ErrorAs(t, err, &recipeErr)
	assert.Contains(t, recipeErr.Message,
		"Missing image declaration for a recipe which has a build() step")
}

func TestResolveMissingRequiredField(t *testing.T) {
	dir := writeRecipe(t, `
pkgnames=(no-timestamp)
pkgdesc="Test"
url=https://example.org/no-timestamp
pkgver=1.0-1
section="test"
maintainer="None <none@example.org>"
license=MIT

package() {
    true
}
`)

	_, _, err := Resolve(context.Background(), dir)

	var recipeErr *RecipeError
	require.ErrorAs(t, err, &recipeErr)
	assert.Contains(t, recipeErr.Message, "Missing required field 'timestamp'")
}

func TestResolveInvalidTimestamp(t *testing.T) {
	dir := writeRecipe(t, `
pkgnames=(bad-timestamp)
pkgdesc="Test"
url=https://example.org/bad-timestamp
pkgver=1.0-1
timestamp="not a date"
section="test"
maintainer="None <none@example.org>"
license=MIT

package() {
    true
}
`)

	_, _, err := Resolve(context.Background(), dir)

	var recipeErr *RecipeError
	require.ErrorAs(t, err, &recipeErr)
	assert.Contains(t, recipeErr.Message,
		"Field 'timestamp' does not contain a valid ISO-8601 date")
}

func TestResolveFieldTypeMismatch(t *testing.T) {
	dir := writeRecipe(t, `
pkgnames=(bad-type)
pkgdesc=(an array)
url=https://example.org/bad-type
pkgver=1.0-1
timestamp=2021-07-31T20:44Z
section="test"
maintainer="None <none@example.org>"
license=MIT

package() {
    true
}
`)

	_, _, err := Resolve(context.Background(), dir)

	var recipeErr *RecipeError
	require.ErrorAs(t, err, &recipeErr)
	assert.Contains(t, recipeErr.Message,
		"Field 'pkgdesc' must be a string, got an indexed array")
}

func TestResolveSourceChecksumCountMismatch(t *testing.T) {
	dir := writeRecipe(t, `
pkgnames=(mismatched)
pkgdesc="Test"
url=https://example.org/mismatched
pkgver=1.0-1
timestamp=2021-07-31T20:44Z
section="test"
maintainer="None <none@example.org>"
license=MIT
source=(one.tar.gz two.tar.gz)
sha256sums=(SKIP)

package() {
    true
}
`)

	_, _, err := Resolve(context.Background(), dir)

	var recipeErr *RecipeError
	require.ErrorAs(t, err, &recipeErr)
	assert.Contains(t, recipeErr.Message,
		"Expected the same number of sources and checksums, got 2 source(s) and 1 checksum(s)")
}

func TestResolveNoExtract(t *testing.T) {
	dir := writeRecipe(t, `
pkgnames=(noextract-recipe)
pkgdesc="Test"
url=https://example.org/noextract-recipe
pkgver=1.0-1
timestamp=2021-07-31T20:44Z
section="test"
maintainer="None <none@example.org>"
license=MIT
source=(https://example.org/keep.tar.gz https://example.org/unpack.tar.gz)
sha256sums=("" SKIP)
noextract=(keep.tar.gz)

package() {
    true
}
`)

	bundle, _, err := Resolve(context.Background(), dir)
	require.NoError(t, err)

	rec := bundle["rmall"]
	require.Len(t, rec.Sources, 2)

	// An empty checksum disables verification
	assert.Equal(t, Source{
		URL:       "https://example.org/keep.tar.gz",
		Checksum:  "SKIP",
		NoExtract: true,
	}, rec.Sources[0])
	assert.Equal(t, Source{
		URL:      "https://example.org/unpack.tar.gz",
		Checksum: "SKIP",
	}, rec.Sources[1])
}

func TestResolveUnknownFieldWarnings(t *testing.T) {
	dir := writeRecipe(t, `
pkgnames=(custom-fields)
pkgdesc="Test"
url=https://example.org/custom-fields
pkgver=1.0-1
timestamp=2021-07-31T20:44Z
section="test"
maintainer="None <none@example.org>"
license=MIT
stray=value
_private=ok

stray_func() {
    true
}

_private_func() {
    true
}

package() {
    true
}
`)

	bundle, warnings, err := Resolve(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, bundle, 1)

	messages := make([]string, len(warnings))
	for i, warning := range warnings {
		messages[i] = warning.Message
	}

	assert.Contains(t, messages,
		"Unknown field 'stray' in the definition of package custom-fields, "+
			"make sure to prefix the names of custom fields with '_'")
	assert.Contains(t, messages,
		"Unknown function 'stray_func' in the definition of package custom-fields, "+
			"make sure to prefix the names of custom functions with '_'")

	for _, message := range messages {
		assert.NotContains(t, message, "_private")
	}
}

func TestResolveMissingDefinition(t *testing.T) {
	dir := t.TempDir()

	_, _, err := Resolve(context.Background(), dir)

	var recipeErr *RecipeError
	require.ErrorAs(t, err, &recipeErr)
	assert.Contains(t, recipeErr.Message, "No recipe found")
}

func TestResolveInvalidVersion(t *testing.T) {
	dir := writeRecipe(t, `
pkgnames=(bad-version)
pkgdesc="Test"
url=https://example.org/bad-version
pkgver="1 0"
timestamp=2021-07-31T20:44Z
section="test"
maintainer="None <none@example.org>"
license=MIT

package() {
    true
}
`)

	_, _, err := Resolve(context.Background(), dir)

	var recipeErr *RecipeError
	require.ErrorAs(t, err, &recipeErr)
	assert.Contains(t, recipeErr.Message, "Invalid version '1 0' in the 'pkgver' field")
}
