package cmd

import (
	"context"
	"time"

	"github.com/endorses/wirecat/internal/pkg/dissector"
	"github.com/endorses/wirecat/internal/pkg/logger"
	"github.com/endorses/wirecat/internal/pkg/output"
	"github.com/endorses/wirecat/internal/pkg/version"
	"github.com/spf13/cobra"
)

var versionFormat string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build and dissector versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(versionFormat)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		dv, err := dissector.NewExecutor(dissector.ConfigFromViper()).Version(ctx)
		if err != nil {
			logger.Warn("Dissector version unavailable", "error", err)
		}
		return output.Write(cmd.OutOrStdout(), format, version.Get(dv))
	},
}

func init() {
	versionCmd.Flags().StringVar(&versionFormat, "format", "yaml", "output format: json or yaml")
}
