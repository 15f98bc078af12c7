package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ipkmk/ipkmk/internal/build"
	"github.com/ipkmk/ipkmk/internal/container"
	"github.com/ipkmk/ipkmk/internal/hooks"
	"github.com/ipkmk/ipkmk/internal/recipe"
	"github.com/ipkmk/ipkmk/internal/repo"
	"github.com/ipkmk/ipkmk/internal/scanner"
	"github.com/ipkmk/ipkmk/internal/signer"
)

type buildConfig struct {
	WorkDir       string
	DistDir       string
	ArchNames     []string
	PackageNames  []string
	Hooks         []string
	GPGKeyPath    string
	GPGPassphrase string
}

// NewBuildCmd creates the build command
func NewBuildCmd() *cobra.Command {
	var config buildConfig

	cmd := &cobra.Command{
		Use:   "build [DIR]",
		Short: "Build packages from the recipe in DIR",
		Long: `Resolves the recipe in DIR (default: current directory), builds its
packages for each target architecture and regenerates the repository
index in the distribution directory.

When DIR does not itself contain a recipe definition, it is scanned
recursively and every recipe directory found beneath it is built.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recipeDir, err := os.Getwd()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				recipeDir = args[0]
			}

			return runBuild(cmd, recipeDir, &config)
		},
	}

	cwd, _ := os.Getwd()

	cmd.Flags().StringVarP(&config.WorkDir, "work-dir", "w",
		filepath.Join(cwd, "build"), "Directory used for building the packages")
	cmd.Flags().StringVarP(&config.DistDir, "dist-dir", "d",
		filepath.Join(cwd, "dist"), "Directory where built packages are stored")
	cmd.Flags().StringSliceVarP(&config.ArchNames, "arch-name", "a", nil,
		"Only build for the given architecture (can be repeated)")
	cmd.Flags().StringSliceVarP(&config.PackageNames, "package-name", "p", nil,
		"Only build the given package (can be repeated)")
	cmd.Flags().StringSliceVarP(&config.Hooks, "hook", "H", nil,
		fmt.Sprintf("Enable a built-in build hook, one of %v (can be repeated)", hooks.Names()))
	cmd.Flags().StringVarP(&config.GPGKeyPath, "gpg-key", "k", "",
		"Path to a GPG private key used to sign the repository index")
	cmd.Flags().StringVarP(&config.GPGPassphrase, "gpg-passphrase", "P", "",
		"GPG key passphrase")

	return cmd
}

func runBuild(cmd *cobra.Command, recipeDir string, config *buildConfig) error {
	ctx := cmd.Context()

	recipeDirs := []string{recipeDir}

	if _, err := os.Stat(filepath.Join(recipeDir, recipe.DefinitionFile)); err != nil {
		// Not a recipe directory itself, build everything beneath it
		recipeDirs, err = scanner.Scan(ctx, recipeDir, logrus.WithField("root", recipeDir))
		if err != nil {
			return err
		}

		if len(recipeDirs) == 0 {
			return fmt.Errorf("no recipes found in '%s'", recipeDir)
		}
	}

	for _, dir := range recipeDirs {
		workDir := config.WorkDir
		if len(recipeDirs) > 1 {
			workDir = filepath.Join(workDir, filepath.Base(dir))
		}

		if err := buildRecipe(ctx, dir, workDir, config); err != nil {
			return err
		}
	}

	logger := logrus.WithField("repo", config.DistDir)

	sig, err := makeSigner(config.GPGKeyPath, config.GPGPassphrase, logger)
	if err != nil {
		return err
	}

	return repo.MakeIndex(config.DistDir, sig, logger)
}

func buildRecipe(ctx context.Context, recipeDir, workDir string, config *buildConfig) error {
	logger := logrus.WithField("recipe", filepath.Base(recipeDir))

	bundle, warnings, err := recipe.Resolve(ctx, recipeDir)
	if err != nil {
		return err
	}

	for _, warning := range warnings {
		logger.Warn(warning.String())
	}

	builder, err := build.NewBuilder(workDir, config.DistDir,
		container.NewDockerEngine(), logger)
	if err != nil {
		return err
	}

	for _, name := range config.Hooks {
		if err := hooks.Attach(name, builder, logger); err != nil {
			return err
		}
	}

	buildMatrix, err := makeBuildMatrix(bundle, config.ArchNames, config.PackageNames)
	if err != nil {
		return err
	}

	return builder.Make(ctx, bundle, buildMatrix)
}

// makeBuildMatrix restricts the build to the requested architectures and
// packages. A nil result builds everything.
func makeBuildMatrix(bundle recipe.Bundle, archNames, packageNames []string) (map[string][]*recipe.Package, error) {
	if len(archNames) == 0 && len(packageNames) == 0 {
		return nil, nil
	}

	archs := bundle.Archs()
	if len(archNames) > 0 {
		archs = archNames
	}

	matrix := map[string][]*recipe.Package{}

	for _, arch := range archs {
		rec, ok := bundle[arch]
		if !ok {
			return nil, fmt.Errorf("the recipe does not support architecture '%s', supported: %v",
				arch, bundle.Archs())
		}

		var packages []*recipe.Package

		for _, name := range packageNames {
			pkg, ok := rec.Packages[name]
			if !ok {
				return nil, fmt.Errorf("the recipe does not declare package '%s'", name)
			}
			packages = append(packages, pkg)
		}

		matrix[arch] = packages
	}

	return matrix, nil
}

func makeSigner(keyPath, passphrase string, logger *logrus.Entry) (signer.Signer, error) {
	if keyPath == "" {
		return nil, nil
	}

	sig, err := signer.NewGPGSigner(keyPath, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GPG signer: %w", err)
	}

	logger.Info("GPG signer initialized")
	return sig, nil
}
