// Package build drives recipes through the packaging pipeline, from source
// fetch to final package archives.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ipkmk/ipkmk/internal/bash"
	"github.com/ipkmk/ipkmk/internal/container"
	"github.com/ipkmk/ipkmk/internal/ipk"
	"github.com/ipkmk/ipkmk/internal/recipe"
	"github.com/ipkmk/ipkmk/internal/util"
	"github.com/ipkmk/ipkmk/internal/version"
)

// DefaultImagePrefix is prepended to recipe image identifiers to form the
// full container image reference.
const DefaultImagePrefix = "ghcr.io/toltec-dev/"

// BuildError is returned when a build step fails.
type BuildError struct {
	Message string
	Err     error
}

// Error implements the error interface
func (e *BuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *BuildError) Unwrap() error {
	return e.Err
}

// Builder drives recipes through the build pipeline.
type Builder struct {
	workDir string
	distDir string

	// Prefix for container image references
	ImagePrefix string

	engine    container.Engine
	listeners []Listener
	logger    *logrus.Entry
}

// NewBuilder creates a builder that assembles packages under workDir and
// stores the finished archives under distDir. It fails when the container
// engine needed for build stages is not available.
func NewBuilder(workDir, distDir string, engine container.Engine, logger *logrus.Entry) (*Builder, error) {
	if !engine.Available() {
		return nil, &BuildError{Message: fmt.Sprintf(
			"Unable to connect to the %s daemon. Please check that the service "+
				"is running and that you have the necessary permissions", engine.Name())}
	}

	if err := util.EnsureDir(workDir); err != nil {
		return nil, err
	}

	if err := util.EnsureDir(distDir); err != nil {
		return nil, err
	}

	return &Builder{
		workDir:     workDir,
		distDir:     distDir,
		ImagePrefix: DefaultImagePrefix,
		engine:      engine,
		logger:      logger,
	}, nil
}

// Register adds a hook listener. Listeners are notified in registration
// order between pipeline stages.
func (b *Builder) Register(listener Listener) {
	b.listeners = append(b.listeners, listener)
}

// Make builds the packages defined by a recipe bundle. buildMatrix
// restricts the build to a subset of architectures and packages; a nil
// matrix builds every package of every architecture, and a nil package
// list for an architecture builds every package of that architecture.
//
// Architectures are built sequentially. A failure aborts the remaining
// architectures but leaves already-built archives in place.
func (b *Builder) Make(ctx context.Context, bundle recipe.Bundle, buildMatrix map[string][]*recipe.Package) error {
	var archs []string

	if buildMatrix != nil {
		for name := range buildMatrix {
			archs = append(archs, name)
		}
		sort.Strings(archs)
	} else {
		archs = bundle.Archs()
	}

	for _, name := range archs {
		rec, ok := bundle[name]
		if !ok {
			return &BuildError{Message: fmt.Sprintf(
				"Unknown architecture '%s' for this recipe", name)}
		}

		var packages []*recipe.Package
		if buildMatrix != nil {
			packages = buildMatrix[name]
		}

		if err := b.makeArch(ctx, rec, filepath.Join(b.workDir, name), packages); err != nil {
			return err
		}
	}

	return nil
}

func (b *Builder) makeArch(ctx context.Context, rec *recipe.Recipe, buildDir string, packages []*recipe.Package) error {
	for _, listener := range b.listeners {
		if err := listener.PostParse(ctx, rec); err != nil {
			return err
		}
	}

	srcDir := filepath.Join(buildDir, "src")
	if err := util.EnsureDir(srcDir); err != nil {
		return err
	}

	if err := b.fetchSources(rec, srcDir); err != nil {
		return err
	}

	for _, listener := range b.listeners {
		if err := listener.PostFetchSources(ctx, rec, srcDir); err != nil {
			return err
		}
	}

	if err := b.prepare(ctx, rec, srcDir); err != nil {
		return err
	}

	for _, listener := range b.listeners {
		if err := listener.PostPrepare(ctx, rec, srcDir); err != nil {
			return err
		}
	}

	if err := b.build(ctx, rec, srcDir); err != nil {
		return err
	}

	for _, listener := range b.listeners {
		if err := listener.PostBuild(ctx, rec, srcDir); err != nil {
			return err
		}
	}

	basePkgDir := filepath.Join(buildDir, "pkg")
	if err := util.EnsureDir(basePkgDir); err != nil {
		return err
	}

	if packages == nil {
		for _, name := range rec.PackageNames {
			packages = append(packages, rec.Packages[name])
		}
	}

	for _, pkg := range packages {
		pkgDir := filepath.Join(basePkgDir, pkg.Name)
		if err := util.EnsureDir(pkgDir); err != nil {
			return err
		}

		if err := b.packageTree(ctx, pkg, srcDir, pkgDir); err != nil {
			return err
		}

		for _, listener := range b.listeners {
			if err := listener.PostPackage(ctx, pkg, srcDir, pkgDir); err != nil {
				return err
			}
		}

		arPath := filepath.Join(b.distDir, filepath.FromSlash(pkg.Filename()))
		if err := util.EnsureDir(filepath.Dir(arPath)); err != nil {
			return err
		}

		if err := b.archive(pkg, pkgDir, arPath); err != nil {
			return err
		}

		for _, listener := range b.listeners {
			if err := listener.PostArchive(ctx, pkg, arPath); err != nil {
				return err
			}
		}
	}

	return nil
}

// prepare runs the recipe's prepare script on the host.
func (b *Builder) prepare(ctx context.Context, rec *recipe.Recipe, srcDir string) error {
	if rec.Prepare == "" {
		b.logger.Debug("Skipping prepare (nothing to do)")
		return nil
	}

	b.logger.Info("Preparing source files")

	err := bash.RunScript(ctx, rec.Prepare, map[string]string{
		"srcdir": srcDir,
	}, b.logger.WithField("script", "prepare()"))
	if err != nil {
		return &BuildError{Message: "prepare() failed", Err: err}
	}

	return nil
}

// build runs the recipe's build script in the build container, after
// installing the declared build and host dependencies.
func (b *Builder) build(ctx context.Context, rec *recipe.Recipe, srcDir string) error {
	if rec.Build == "" {
		b.logger.Debug("Skipping build (nothing to do)")
		return nil
	}

	b.logger.Info("Building artifacts")

	// Set fixed atime and mtime for all the source files
	if err := util.SetTreeTimes(srcDir, rec.Timestamp); err != nil {
		return err
	}

	mountSrc := "/src"
	mountRepo := "/repo"
	uid := os.Getuid()

	absSrc, err := filepath.Abs(srcDir)
	if err != nil {
		return err
	}

	absDist, err := filepath.Abs(b.distDir)
	if err != nil {
		return err
	}

	script := strings.Join(append(
		b.dependenciesPreScript(rec),
		fmt.Sprintf(`cd "%s"`, mountSrc),
		rec.Build,
		fmt.Sprintf(`chown -R %d:%d "%s"`, uid, uid, mountSrc),
	), "\n")

	stdout := bash.NewLogWriter(b.logger.WithField("script", "build()"), logrus.InfoLevel)
	defer stdout.Close()
	stderr := bash.NewLogWriter(b.logger.WithField("script", "build()"), logrus.ErrorLevel)
	defer stderr.Close()

	err = b.engine.Run(ctx, container.RunOptions{
		Image: b.ImagePrefix + rec.Image,
		Mounts: []container.Mount{
			{Source: absSrc, Target: mountSrc},
			{Source: absDist, Target: mountRepo},
		},
		Env:    map[string]string{"srcdir": mountSrc},
		Script: script,
		Stdout: stdout,
		Stderr: stderr,
	})
	if err != nil {
		return &BuildError{Message: "build() failed", Err: err}
	}

	return nil
}

// RunInContainer runs a script inside a container image with srcDir bind
// mounted at /src, forwarding output to the builder's logger. Hooks use it
// to post-process build artifacts with the toolchain of the image.
func (b *Builder) RunInContainer(ctx context.Context, image, srcDir, script string) error {
	absSrc, err := filepath.Abs(srcDir)
	if err != nil {
		return err
	}

	stdout := bash.NewLogWriter(b.logger, logrus.InfoLevel)
	defer stdout.Close()
	stderr := bash.NewLogWriter(b.logger, logrus.ErrorLevel)
	defer stderr.Close()

	return b.engine.Run(ctx, container.RunOptions{
		Image:  b.ImagePrefix + image,
		Mounts: []container.Mount{{Source: absSrc, Target: "/src"}},
		Script: script,
		Stdout: stdout,
		Stderr: stderr,
	})
}

// dependenciesPreScript generates the commands that install the recipe's
// build-time dependencies inside the build container. Build dependencies
// are installed with apt, host dependencies with opkg against the packages
// already published in the distribution directory.
func (b *Builder) dependenciesPreScript(rec *recipe.Recipe) []string {
	var buildDeps, hostDeps []string

	deps := append(append([]*version.Dependency{}, rec.MakeDepends...), rec.PrepareDepends...)

	for _, dep := range deps {
		switch dep.Kind {
		case version.BuildDependency:
			buildDeps = append(buildDeps, dep.Package)
		case version.HostDependency:
			hostDeps = append(hostDeps, dep.Package)
		}
	}

	var script []string

	if len(buildDeps) > 0 {
		script = append(script,
			"export DEBIAN_FRONTEND=noninteractive",
			"apt-get update -qq",
			"apt-get install -qq --no-install-recommends"+
				` -o Dpkg::Options::="--force-confdef"`+
				` -o Dpkg::Options::="--force-confold"`+
				" -- "+strings.Join(buildDeps, " "),
		)
	}

	if len(hostDeps) > 0 {
		opkgConfPath := "$SYSROOT/etc/opkg/opkg.conf"

		script = append(script,
			`echo -n "dest root /`,
			"arch all 100",
			"arch armv7-3.2 160",
			"src/gz entware https://bin.entware.net/armv7sf-k3.2",
			"arch rmall 200",
			"src/gz toltec-rmall file:///repo/rmall",
			fmt.Sprintf(`" > "%s"`, opkgConfPath),
		)

		if rec.Arch != "rmall" {
			script = append(script,
				fmt.Sprintf(`echo -n "arch %s 250`, rec.Arch),
				fmt.Sprintf("src/gz toltec-%s file:///repo/%s", rec.Arch, rec.Arch),
				fmt.Sprintf(`" >> "%s"`, opkgConfPath),
			)
		}

		script = append(script,
			"opkg update --verbosity=0",
			"opkg install --verbosity=0 --no-install-recommends"+
				" -- "+strings.Join(hostDeps, " "),
		)
	}

	return script
}

// packageTree runs the package script on the host to assemble the package
// file tree from the build artifacts.
func (b *Builder) packageTree(ctx context.Context, pkg *recipe.Package, srcDir, pkgDir string) error {
	b.logger.Infof("Packaging build artifacts for %s", pkg.Name)

	err := bash.RunScript(ctx, pkg.Script, map[string]string{
		"srcdir": srcDir,
		"pkgdir": pkgDir,
	}, b.logger.WithField("script", "package()"))
	if err != nil {
		return &BuildError{Message: fmt.Sprintf("package() failed for %s", pkg.Name), Err: err}
	}

	b.logger.Debug("Resulting tree:")

	files, err := util.ListTree(pkgDir)
	if err != nil {
		return err
	}

	for _, file := range files {
		rel, err := filepath.Rel(pkgDir, file)
		if err != nil {
			return err
		}
		b.logger.Debugf(" - /%s", filepath.ToSlash(rel))
	}

	return nil
}

// archive creates the final ipk archive for a package.
func (b *Builder) archive(pkg *recipe.Package, pkgDir, arPath string) error {
	b.logger.Infof("Creating archive %s", pkg.Filename())

	scripts := maintainerScripts(pkg)

	b.logger.Debug("Install scripts:")

	if len(scripts) > 0 {
		names := make([]string, 0, len(scripts))
		for name := range scripts {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			b.logger.Debugf(" - %s", name)
		}
	} else {
		b.logger.Debug("(none)")
	}

	epoch := pkg.Parent().Timestamp.Unix()

	file, err := os.Create(arPath)
	if err != nil {
		return err
	}

	if err := ipk.Write(file, epoch, pkg.ControlFields(), scripts, pkgDir); err != nil {
		file.Close()
		return &BuildError{Message: fmt.Sprintf(
			"Failed to create archive for %s", pkg.Name), Err: err}
	}

	if err := file.Close(); err != nil {
		return err
	}

	// Set fixed atime and mtime for the resulting archive
	stamp := pkg.Parent().Timestamp
	return os.Chtimes(arPath, stamp, stamp)
}

const scriptShebang = "#!/usr/bin/env bash\nset -euo pipefail\n"

// maintainerScripts converts a package's lifecycle scripts to the Debian
// maintainer script set. Each lifecycle script is wrapped in a guard that
// checks the action argument passed by opkg.
func maintainerScripts(pkg *recipe.Package) map[string]string {
	scripts := map[string]string{}

	for _, conv := range []struct {
		body   string
		script string
		action string
	}{
		{pkg.Preinstall, "preinst", "install"},
		{pkg.Configure, "postinst", "configure"},
	} {
		if conv.body != "" {
			scripts[conv.script] = scriptShebang + "\n" + guardedScript(conv.action, conv.body)
		}
	}

	for _, conv := range []struct {
		script  string
		upgrade string
		remove  string
	}{
		{"prerm", pkg.Preupgrade, pkg.Preremove},
		{"postrm", pkg.Postupgrade, pkg.Postremove},
	} {
		if conv.upgrade == "" && conv.remove == "" {
			continue
		}

		script := scriptShebang

		if conv.upgrade != "" {
			script += "\n" + guardedScript("upgrade", conv.upgrade)
		}

		if conv.remove != "" {
			script += "\n" + guardedScript("remove", conv.remove)
		}

		scripts[conv.script] = script
	}

	return scripts
}

func guardedScript(action, body string) string {
	return strings.Join([]string{
		fmt.Sprintf("if [[ $1 = %s ]]; then", action),
		"    script() {",
		body,
		"    }",
		"    script",
		"fi",
		"",
	}, "\n")
}
