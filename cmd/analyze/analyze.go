package analyze

import (
	"fmt"

	"github.com/endorses/wirecat/internal/pkg/analysis"
	"github.com/endorses/wirecat/internal/pkg/cmdutil"
	"github.com/endorses/wirecat/internal/pkg/ingest"
	"github.com/endorses/wirecat/internal/pkg/logger"
	"github.com/endorses/wirecat/internal/pkg/output"
	"github.com/endorses/wirecat/internal/pkg/session"
	"github.com/endorses/wirecat/internal/pkg/signals"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var AnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run every analysis over a capture file",
	Long: `Run the capture file through the dissector and report traffic statistics,
cleartext credentials, anomalies and VoIP QoS over time.

  wirecat analyze -r call.pcapng
  wirecat analyze -r office.pcap -Y "ip.addr == 10.0.0.5" --category security --format json
  wirecat analyze --from-tsv call.tsv`,
	SilenceUsage: true,
	RunE:         analyze,
}

var (
	readFile        string
	filter          string
	format          string
	category        string
	maxPackets      int
	uploadThreshold string
	metricsFile     string
	fromTSV         string
)

// view is what the command prints.
type view struct {
	Session session.Statistics `json:"session" yaml:"session"`
	Result  *session.Result    `json:"result" yaml:"result"`
}

func analyze(cmd *cobra.Command, args []string) error {
	if (readFile == "") == (fromTSV == "") {
		return fmt.Errorf("exactly one of --read-file or --from-tsv is required")
	}
	out, err := output.ParseFormat(cmdutil.GetStringConfigDefault("output.format", format, "yaml"))
	if err != nil {
		return err
	}

	cfg := analysis.ConfigFromViper()
	if cmd.Flags().Changed("max-packets") {
		cfg.MaxPackets = maxPackets
	}
	if uploadThreshold != "" {
		n, err := cmdutil.ParseSizeString(uploadThreshold)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid --upload-threshold %q", uploadThreshold)
		}
		cfg.Anomaly.LargeUpload.Threshold = uint64(n)
	}

	countries, err := session.PrefixResolverFromViper()
	if err != nil {
		return err
	}
	var resolver session.CountryResolver
	if countries != nil {
		resolver = countries
	}

	var (
		registry *prometheus.Registry
		metrics  *ingest.Metrics
	)
	if metricsFile != "" {
		registry = prometheus.NewRegistry()
		if metrics, err = ingest.NewMetrics(registry); err != nil {
			return err
		}
		// Written on failure too; rejection counts explain most of them.
		defer func() {
			if err := prometheus.WriteToTextfile(metricsFile, registry); err != nil {
				logger.Error("Failed to write metrics", "file", metricsFile, "error", err)
			}
		}()
	}

	ctx, stop := signals.WithShutdown(cmd.Context())
	defer stop()

	a := analysis.New(cfg, session.NewCache(), metrics, resolver)
	var result *session.Result
	if fromTSV != "" {
		result, err = a.Replay(ctx, fromTSV, analysis.Options{Filter: filter, Category: category})
	} else {
		result, err = a.Analyze(ctx, readFile, analysis.Options{
			Filter:   cmdutil.GetStringConfig("analysis.filter", filter),
			Category: category,
		})
	}
	if err != nil {
		return err
	}
	if result.Partial {
		logger.Warn("Analysis is incomplete", "failures", len(result.Failures))
	}

	return output.Write(cmd.OutOrStdout(), out, view{
		Session: a.Cache().GetStatistics(),
		Result:  result,
	})
}

func init() {
	AnalyzeCmd.Flags().StringVarP(&readFile, "read-file", "r", "", "capture file to analyze")
	AnalyzeCmd.Flags().StringVarP(&filter, "display-filter", "Y", "", "display filter applied by the dissector")
	AnalyzeCmd.Flags().StringVar(&format, "format", "", "output format: json or yaml (default yaml)")
	AnalyzeCmd.Flags().StringVar(&category, "category", "", "run only one anomaly category (security, voip, iot, application, data_exfiltration, network)")
	AnalyzeCmd.Flags().IntVar(&maxPackets, "max-packets", 0, "records kept for detection; 0 keeps all")
	AnalyzeCmd.Flags().StringVar(&uploadThreshold, "upload-threshold", "", "large upload threshold, e.g. 50M")
	AnalyzeCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write ingest metrics in Prometheus text format to this file")
	AnalyzeCmd.Flags().StringVar(&fromTSV, "from-tsv", "", "analyze dissector output saved with fields --layout instead of a capture")
	AnalyzeCmd.MarkFlagsMutuallyExclusive("read-file", "from-tsv")
}
