package fields

import (
	"bufio"
	"fmt"

	"github.com/endorses/wirecat/internal/pkg/analysis"
	"github.com/endorses/wirecat/internal/pkg/cmdutil"
	"github.com/endorses/wirecat/internal/pkg/packet"
	"github.com/endorses/wirecat/internal/pkg/signals"
	"github.com/spf13/cobra"
)

var FieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "Extract dissector fields as tab-separated lines",
	Long: `Extract the named dissector fields of every frame, one tab-separated line per frame.

  wirecat fields -r call.pcap -e frame.number -e ip.src -e ip.dst -Y sip
  wirecat fields -r call.pcap --layout > call.tsv   # replay with analyze --from-tsv`,
	SilenceUsage: true,
	RunE:         fields,
}

var (
	readFile   string
	filter     string
	names      []string
	occurrence string
	layout     bool
)

func fields(cmd *cobra.Command, args []string) error {
	opts := analysis.FieldOptions{
		Filter: cmdutil.GetStringConfig("analysis.filter", filter),
		Fields: cmdutil.GetStringSliceConfig("fields.default", names),
	}
	if layout {
		if len(names) > 0 {
			return fmt.Errorf("--layout and --field are mutually exclusive")
		}
		opts.Fields = packet.Fields()
	}
	switch occurrence {
	case "", "f", "l", "a":
		if occurrence != "" {
			opts.Occurrence = occurrence[0]
		}
	default:
		return fmt.Errorf("invalid --occurrence %q (want f, l or a)", occurrence)
	}

	ctx, stop := signals.WithShutdown(cmd.Context())
	defer stop()

	w := bufio.NewWriter(cmd.OutOrStdout())
	a := analysis.New(analysis.ConfigFromViper(), nil, nil, nil)
	err := a.Fields(ctx, readFile, opts, func(line []byte) error {
		if _, err := w.Write(line); err != nil {
			return err
		}
		return w.WriteByte('\n')
	})
	if ferr := w.Flush(); err == nil {
		err = ferr
	}
	return err
}

func init() {
	FieldsCmd.Flags().StringVarP(&readFile, "read-file", "r", "", "capture file to read")
	FieldsCmd.Flags().StringVarP(&filter, "display-filter", "Y", "", "display filter applied by the dissector")
	FieldsCmd.Flags().StringArrayVarP(&names, "field", "e", nil, "field to extract (repeatable); defaults to fields.default from config")
	FieldsCmd.Flags().StringVar(&occurrence, "occurrence", "", "occurrence of repeated fields: f (first), l (last) or a (all)")
	FieldsCmd.Flags().BoolVar(&layout, "layout", false, "extract the full analysis layout, for replay with analyze --from-tsv")
	_ = FieldsCmd.MarkFlagRequired("read-file")
}
