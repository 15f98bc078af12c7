package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ipkmk/ipkmk/internal/repo"
)

// NewIndexCmd creates the index command
func NewIndexCmd() *cobra.Command {
	var gpgKeyPath, gpgPassphrase string

	cmd := &cobra.Command{
		Use:   "index DIR",
		Short: "Regenerate the repository index in DIR",
		Long: `Walks the repository directory and recreates the Packages and
Packages.gz index files for every directory containing .ipk packages.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.WithField("repo", args[0])

			sig, err := makeSigner(gpgKeyPath, gpgPassphrase, logger)
			if err != nil {
				return err
			}

			return repo.MakeIndex(args[0], sig, logger)
		},
	}

	cmd.Flags().StringVarP(&gpgKeyPath, "gpg-key", "k", "",
		"Path to a GPG private key used to sign the repository index")
	cmd.Flags().StringVarP(&gpgPassphrase, "gpg-passphrase", "P", "",
		"GPG key passphrase")

	return cmd
}
