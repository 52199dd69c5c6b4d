// Package cli implements the chatvault command line.
package cli

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	defaultAPI     = "http://localhost:3001"
	defaultTimeout = 150 * time.Second
)

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// clientOptions resolves client settings from flags, CHATVAULT_* variables
// and the profile, in that order.
type clientOptions struct {
	v *viper.Viper
}

func (o *clientOptions) client() *Client {
	return NewClient(o.v.GetString("api"), o.v.GetDuration("timeout"))
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CHATVAULT")
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "chatvault",
		Short:         "chatvault: chat sessions with content-addressed snapshots",
		Long:          "chatvault stores language-model conversations as append-only sessions and publishes immutable snapshots of them to a content-addressable store.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadProfile(v)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("api", defaultAPI, "chatvault API base URL")
	flags.Duration("timeout", defaultTimeout, "request timeout")
	_ = v.BindPFlag("api", flags.Lookup("api"))
	_ = v.BindPFlag("timeout", flags.Lookup("timeout"))

	opts := &clientOptions{v: v}
	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(opts),
		newSessionCmd(opts),
		newPublishCmd(opts),
		newLoadCmd(opts),
		newWatchCmd(opts),
		newProfileCmd(v),
	)

	return rootCmd
}
