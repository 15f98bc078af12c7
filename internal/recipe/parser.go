package recipe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ipkmk/ipkmk/internal/bash"
	"github.com/ipkmk/ipkmk/internal/version"
)

// Name of the file holding the recipe definition inside a recipe directory
const DefinitionFile = "package"

// Resolve loads the recipe defined in a directory and expands it into one
// specialized recipe per declared architecture. Non-fatal issues are
// reported as warnings; any error aborts resolution of the whole
// directory and yields an empty bundle.
func Resolve(ctx context.Context, dir string) (Bundle, []Warning, error) {
	text, err := os.ReadFile(filepath.Join(dir, DefinitionFile))
	if err != nil {
		return nil, nil, &RecipeError{
			Path:    dir,
			Message: fmt.Sprintf("No recipe found in '%s'", dir),
		}
	}

	variables, functions, err := bash.GetDeclarations(ctx, string(text))
	if err != nil {
		return nil, nil, err
	}

	r := &resolver{ctx: ctx, path: dir}

	archsRaw, err := popFieldIndexed(dir, variables, "archs", defaultArchs())
	if err != nil {
		return nil, nil, err
	}

	archs := make([]string, len(archsRaw))
	archSet := make(map[string]bool, len(archsRaw))
	for i, entry := range archsRaw {
		archs[i] = orEmpty(entry)
		archSet[archs[i]] = true
	}

	bundle := Bundle{}

	for _, arch := range archs {
		locVars, locFuncs, err := r.instantiateArch(variables, functions, archSet, arch)
		if err != nil {
			return nil, nil, err
		}

		name := arch
		if name == "" {
			name = "rmall"
		}

		rec, err := r.parseRecipe(locVars, locFuncs)
		if err != nil {
			return nil, nil, err
		}

		bundle[name] = rec
	}

	return bundle, r.warnings, nil
}

type resolver struct {
	ctx      context.Context
	path     string
	warnings []Warning
}

func (r *resolver) warnf(format string, args ...interface{}) {
	r.warnings = append(r.warnings, Warning{
		Path:    r.path,
		Message: fmt.Sprintf(format, args...),
	})
}

func defaultArchs() []*string {
	arch := "rmall"
	return []*string{&arch}
}

func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orEmptyList(entries []*string) []string {
	result := make([]string, len(entries))
	for i, entry := range entries {
		result[i] = orEmpty(entry)
	}
	return result
}

// instantiateArch clones the recipe declarations for one architecture,
// merging variables suffixed with the selected architecture into their
// unsuffixed counterparts and dropping the other arch-suffixed
// declarations. String values replace the base value, indexed arrays
// extend it.
func (r *resolver) instantiateArch(
	variables *bash.Variables,
	functions *bash.Functions,
	archSet map[string]bool,
	arch string,
) (*bash.Variables, *bash.Functions, error) {
	locVars := variables.Clone()
	locFuncs := functions.Clone()

	if arch == "" {
		arch = "rmall"
	}
	locVars.Set("arch", bash.ScalarValue(arch))

	for _, name := range locVars.Names() {
		lastUnderscore := strings.LastIndex(name, "_")
		if lastUnderscore == -1 {
			continue
		}

		suffix := name[lastUnderscore+1:]
		if !archSet[suffix] {
			continue
		}

		value, _ := locVars.Pop(name)

		if suffix != arch {
			continue
		}

		base := name[:lastUnderscore]
		baseValue, ok := locVars.Get(base)
		if !ok {
			locVars.Set(base, value)
			continue
		}

		if baseValue.IsIndexed() != value.IsIndexed() {
			return nil, nil, &RecipeError{
				Path:    r.path,
				Message: fmt.Sprintf("The '%s' field is declared several times with different types", base),
			}
		}

		if baseValue.IsIndexed() {
			merged := append(append([]*string(nil), baseValue.List()...), value.List()...)
			locVars.Set(base, bash.IndexedValue(merged...))
		} else {
			locVars.Set(base, value)
		}
	}

	return locVars, locFuncs, nil
}

// parseRecipe extracts an architecture-specialized recipe from its
// declaration maps.
func (r *resolver) parseRecipe(variables *bash.Variables, functions *bash.Functions) (*Recipe, error) {
	rec := &Recipe{Path: r.path, Packages: map[string]*Package{}}

	// Fields consumed from the variable map, in consumption order; they
	// are re-serialized at the head of every script
	rawVars := bash.NewVariables()

	flags, err := popFieldIndexed(r.path, variables, "flags", []*string{})
	if err != nil {
		return nil, err
	}
	rawVars.Set("flags", bash.IndexedValue(flags...))
	rec.Flags = orEmptyList(flags)

	timestampStr, err := popFieldString(r.path, variables, "timestamp", nil)
	if err != nil {
		return nil, err
	}
	rawVars.Set("timestamp", bash.ScalarValue(timestampStr))

	rec.Timestamp, err = parseTimestamp(timestampStr)
	if err != nil {
		return nil, &RecipeError{
			Path:    r.path,
			Message: "Field 'timestamp' does not contain a valid ISO-8601 date",
		}
	}

	sources, err := popFieldIndexed(r.path, variables, "source", []*string{})
	if err != nil {
		return nil, err
	}
	rawVars.Set("source", bash.IndexedValue(sources...))

	checksums, err := popFieldIndexed(r.path, variables, "sha256sums", []*string{})
	if err != nil {
		return nil, err
	}
	rawVars.Set("sha256sums", bash.IndexedValue(checksums...))

	noExtract, err := popFieldIndexed(r.path, variables, "noextract", []*string{})
	if err != nil {
		return nil, err
	}
	rawVars.Set("noextract", bash.IndexedValue(noExtract...))

	if len(sources) != len(checksums) {
		return nil, &RecipeError{
			Path: r.path,
			Message: fmt.Sprintf(
				"Expected the same number of sources and checksums, got %d source(s) and %d checksum(s)",
				len(sources), len(checksums)),
		}
	}

	noExtractSet := map[string]bool{}
	for _, entry := range orEmptyList(noExtract) {
		noExtractSet[entry] = true
	}

	for i, source := range sources {
		url := orEmpty(source)
		checksum := orEmpty(checksums[i])
		if checksum == "" {
			checksum = "SKIP"
		}

		rec.Sources = append(rec.Sources, Source{
			URL:       url,
			Checksum:  checksum,
			NoExtract: noExtractSet[filepath.Base(url)],
		})
	}

	makeDepends, err := popFieldIndexed(r.path, variables, "makedepends", []*string{})
	if err != nil {
		return nil, err
	}
	rawVars.Set("makedepends", bash.IndexedValue(makeDepends...))

	rec.MakeDepends, err = parseDependencies(r.path, "makedepends", makeDepends, false)
	if err != nil {
		return nil, err
	}

	prepareDepends, err := popFieldIndexed(r.path, variables, "preparedepends", []*string{})
	if err != nil {
		return nil, err
	}
	rawVars.Set("preparedepends", bash.IndexedValue(prepareDepends...))

	rec.PrepareDepends, err = parseDependencies(r.path, "preparedepends", prepareDepends, false)
	if err != nil {
		return nil, err
	}

	rec.Maintainer, err = popFieldString(r.path, variables, "maintainer", nil)
	if err != nil {
		return nil, err
	}
	rawVars.Set("maintainer", bash.ScalarValue(rec.Maintainer))

	emptyDefault := ""
	rec.Image, err = popFieldString(r.path, variables, "image", &emptyDefault)
	if err != nil {
		return nil, err
	}
	rawVars.Set("image", bash.ScalarValue(rec.Image))

	rec.Arch, err = popFieldString(r.path, variables, "arch", nil)
	if err != nil {
		return nil, err
	}
	rawVars.Set("arch", bash.ScalarValue(rec.Arch))

	if rec.Image != "" && !functions.Has("build") {
		return nil, &RecipeError{
			Path:    r.path,
			Message: "Missing build() function for a recipe which declares a build image",
		}
	}

	if rec.Image == "" && functions.Has("build") {
		return nil, &RecipeError{
			Path:    r.path,
			Message: "Missing image declaration for a recipe which has a build() step",
		}
	}

	rec.Prepare, _ = functions.Pop("prepare")
	rec.Build, _ = functions.Pop("build")

	pkgNames, err := popFieldIndexed(r.path, variables, "pkgnames", nil)
	if err != nil {
		return nil, err
	}

	if len(pkgNames) == 1 {
		// Single-package recipe: use the recipe-level declarations
		name := orEmpty(pkgNames[0])
		variables.Set("pkgname", bash.ScalarValue(name))

		pkg, err := r.parsePackage(rec, variables.Clone(), rawVars.Clone(), functions)
		if err != nil {
			return nil, err
		}

		rec.Packages[name] = pkg
		rec.PackageNames = append(rec.PackageNames, name)
	} else {
		// Split-package recipe: evaluate the per-package override
		// functions on top of the recipe-level declarations
		type packageDecls struct {
			name      string
			variables *bash.Variables
			functions *bash.Functions
		}

		var decls []packageDecls

		for _, entry := range pkgNames {
			name := orEmpty(entry)

			body, ok := functions.Pop(name)
			if !ok {
				return nil, &RecipeError{
					Path:    r.path,
					Message: fmt.Sprintf("Missing required function %s() for corresponding package", name),
				}
			}

			contextVars := rawVars.Clone()
			contextVars.Merge(variables)
			contextVars.Set("pkgname", bash.ScalarValue(name))

			pkgVars, pkgFuncs, err := bash.GetDeclarations(r.ctx, bash.PutVariables(contextVars)+body)
			if err != nil {
				return nil, err
			}

			for _, rawName := range rawVars.Names() {
				pkgVars.Delete(rawName)
			}

			decls = append(decls, packageDecls{name: name, variables: pkgVars, functions: pkgFuncs})
		}

		for _, decl := range decls {
			mergedFuncs := functions.Clone()
			mergedFuncs.Merge(decl.functions)

			pkg, err := r.parsePackage(rec, decl.variables, rawVars.Clone(), mergedFuncs)
			if err != nil {
				return nil, err
			}

			rec.Packages[decl.name] = pkg
			rec.PackageNames = append(rec.PackageNames, decl.name)
		}
	}

	headerVars := rawVars.Clone()
	headerVars.Merge(variables)
	header := scriptHeader(headerVars, functions)

	attachHeader(header, &rec.Prepare)
	attachHeader(header, &rec.Build)

	return rec, nil
}

// parsePackage extracts one package from its declaration maps.
func (r *resolver) parsePackage(
	parent *Recipe,
	variables *bash.Variables,
	rawVars *bash.Variables,
	functions *bash.Functions,
) (*Package, error) {
	pkg := &Package{parent: parent}

	var err error
	pkg.Name, err = popFieldString(r.path, variables, "pkgname", nil)
	if err != nil {
		return nil, err
	}
	rawVars.Set("pkgname", bash.ScalarValue(pkg.Name))

	pkgVer, err := popFieldString(r.path, variables, "pkgver", nil)
	if err != nil {
		return nil, err
	}
	rawVars.Set("pkgver", bash.ScalarValue(pkgVer))

	pkg.Version, err = version.Parse(pkgVer)
	if err != nil {
		return nil, &RecipeError{
			Path:    r.path,
			Message: fmt.Sprintf("Invalid version '%s' in the 'pkgver' field: %v", pkgVer, err),
		}
	}

	for _, field := range []struct {
		name   string
		target *string
	}{
		{"pkgdesc", &pkg.Desc},
		{"url", &pkg.URL},
		{"section", &pkg.Section},
		{"license", &pkg.License},
	} {
		*field.target, err = popFieldString(r.path, variables, field.name, nil)
		if err != nil {
			return nil, err
		}
		rawVars.Set(field.name, bash.ScalarValue(*field.target))
	}

	for _, field := range []struct {
		name   string
		target *[]*version.Dependency
	}{
		{"installdepends", &pkg.InstallDepends},
		{"recommends", &pkg.Recommends},
		{"optdepends", &pkg.OptDepends},
		{"conflicts", &pkg.Conflicts},
		{"replaces", &pkg.Replaces},
		{"provides", &pkg.Provides},
	} {
		entries, err := popFieldIndexed(r.path, variables, field.name, []*string{})
		if err != nil {
			return nil, err
		}
		rawVars.Set(field.name, bash.IndexedValue(entries...))

		*field.target, err = parseDependencies(r.path, field.name, entries, true)
		if err != nil {
			return nil, err
		}
	}

	var ok bool
	pkg.Script, ok = functions.Pop("package")
	if !ok {
		return nil, &RecipeError{
			Path:    r.path,
			Message: "Missing required function package()",
		}
	}

	pkg.Preinstall, _ = functions.Pop("preinstall")
	pkg.Configure, _ = functions.Pop("configure")
	pkg.Preremove, _ = functions.Pop("preremove")
	pkg.Postremove, _ = functions.Pop("postremove")
	pkg.Preupgrade, _ = functions.Pop("preupgrade")
	pkg.Postupgrade, _ = functions.Pop("postupgrade")

	// Leftover names that are not marked as custom with a '_' prefix are
	// reported, but do not stop resolution
	for _, name := range variables.Names() {
		if !strings.HasPrefix(name, "_") {
			r.warnf("Unknown field '%s' in the definition of package %s, "+
				"make sure to prefix the names of custom fields with '_'", name, pkg.Name)
		}
	}

	for _, name := range functions.Names() {
		if !strings.HasPrefix(name, "_") {
			r.warnf("Unknown function '%s' in the definition of package %s, "+
				"make sure to prefix the names of custom functions with '_'", name, pkg.Name)
		}
	}

	headerVars := rawVars.Clone()
	headerVars.Merge(variables)
	header := scriptHeader(headerVars, functions)

	attachHeader(header, &pkg.Script)
	attachHeader(header, &pkg.Preinstall)
	attachHeader(header, &pkg.Configure)
	attachHeader(header, &pkg.Preremove)
	attachHeader(header, &pkg.Postremove)
	attachHeader(header, &pkg.Preupgrade)
	attachHeader(header, &pkg.Postupgrade)

	return pkg, nil
}

// scriptHeader renders the final merged declarations into a source
// preamble that makes every script independently executable.
func scriptHeader(variables *bash.Variables, functions *bash.Functions) string {
	return bash.PutVariables(variables) + "\n" + bash.PutFunctions(functions)
}

// attachHeader prefixes a script with a declaration header. Empty scripts
// stay empty.
func attachHeader(header string, script *string) {
	if *script != "" {
		*script = header + *script
	}
}
