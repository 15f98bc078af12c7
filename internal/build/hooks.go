package build

import (
	"context"

	"github.com/ipkmk/ipkmk/internal/recipe"
)

// Listener receives notifications between pipeline stages. Listener methods
// may mutate the recipe or package they are given, in particular the
// lifecycle script fields.
type Listener interface {
	// PostParse is triggered after a recipe has been parsed, before
	// executing it.
	PostParse(ctx context.Context, r *recipe.Recipe) error

	// PostFetchSources is triggered after the sources of a recipe have
	// been fetched and extracted into srcDir, before running the prepare
	// script.
	PostFetchSources(ctx context.Context, r *recipe.Recipe, srcDir string) error

	// PostPrepare is triggered after the prepare script of a recipe has
	// been run.
	PostPrepare(ctx context.Context, r *recipe.Recipe, srcDir string) error

	// PostBuild is triggered after a recipe's artifacts have been built.
	PostBuild(ctx context.Context, r *recipe.Recipe, srcDir string) error

	// PostPackage is triggered after part of the artifacts from a build
	// have been copied in place to the packaging directory pkgDir.
	PostPackage(ctx context.Context, p *recipe.Package, srcDir, pkgDir string) error

	// PostArchive is triggered after a package archive has been generated
	// at arPath.
	PostArchive(ctx context.Context, p *recipe.Package, arPath string) error
}

// BaseListener is a Listener whose methods all do nothing. Embed it to only
// implement the notifications a hook cares about.
type BaseListener struct{}

func (BaseListener) PostParse(context.Context, *recipe.Recipe) error { return nil }

func (BaseListener) PostFetchSources(context.Context, *recipe.Recipe, string) error { return nil }

func (BaseListener) PostPrepare(context.Context, *recipe.Recipe, string) error { return nil }

func (BaseListener) PostBuild(context.Context, *recipe.Recipe, string) error { return nil }

func (BaseListener) PostPackage(context.Context, *recipe.Package, string, string) error { return nil }

func (BaseListener) PostArchive(context.Context, *recipe.Package, string) error { return nil }
