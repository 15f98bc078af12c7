package hooks

import (
	"context"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/ipkmk/ipkmk/internal/build"
	"github.com/ipkmk/ipkmk/internal/recipe"
)

const oxideReload = "\nreload-oxide-apps\n"

// Directories whose contents are picked up by the oxide launcher
var oxideAppDirs = []string{
	"opt/usr/share/applications",
	"opt/etc/draft",
}

// OxideAppsHook reloads the oxide launcher after installing, upgrading or
// removing a package that ships application registration files.
type OxideAppsHook struct {
	build.BaseListener

	logger *logrus.Entry
}

// NewOxideAppsHook creates an oxide app reload hook.
func NewOxideAppsHook(logger *logrus.Entry) *OxideAppsHook {
	return &OxideAppsHook{logger: logger}
}

// PostPackage appends a launcher reload to the lifecycle scripts of
// packages whose tree contains oxide application files.
func (h *OxideAppsHook) PostPackage(ctx context.Context, pkg *recipe.Package, srcDir, pkgDir string) error {
	if !hasOxideApps(pkgDir) {
		return nil
	}

	h.logger.WithField("package", pkg.Name).
		Debug("Reloading oxide apps on install and removal")

	pkg.Configure += oxideReload
	pkg.Postupgrade += oxideReload
	pkg.Postremove += oxideReload
	return nil
}

func hasOxideApps(pkgDir string) bool {
	for _, dir := range oxideAppDirs {
		if _, err := os.Stat(filepath.Join(pkgDir, dir)); err == nil {
			return true
		}
	}

	return false
}
