package count

import (
	"fmt"

	"github.com/endorses/wirecat/internal/pkg/analysis"
	"github.com/endorses/wirecat/internal/pkg/cmdutil"
	"github.com/endorses/wirecat/internal/pkg/signals"
	"github.com/spf13/cobra"
)

var CountCmd = &cobra.Command{
	Use:          "count",
	Short:        "Count the frames of a capture file",
	Long:         `Count the frames of a capture file, optionally only those matching a display filter.`,
	SilenceUsage: true,
	RunE:         count,
}

var (
	readFile string
	filter   string
)

func count(cmd *cobra.Command, args []string) error {
	ctx, stop := signals.WithShutdown(cmd.Context())
	defer stop()

	a := analysis.New(analysis.ConfigFromViper(), nil, nil, nil)
	n, err := a.Count(ctx, readFile, cmdutil.GetStringConfig("analysis.filter", filter))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), n)
	return nil
}

func init() {
	CountCmd.Flags().StringVarP(&readFile, "read-file", "r", "", "capture file to count")
	CountCmd.Flags().StringVarP(&filter, "display-filter", "Y", "", "display filter applied by the dissector")
	_ = CountCmd.MarkFlagRequired("read-file")
}
