package analyze

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/endorses/wirecat/internal/pkg/packet"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (capture string) {
	t.Helper()
	capture, _ = setupWithOutput(t)
	return capture
}

// setupWithOutput also returns the file holding the fake dissector's output.
func setupWithOutput(t *testing.T) (capture, data string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	dir := t.TempDir()

	var lines []string
	for i := 1; i <= 5; i++ {
		cols := make([]string, packet.FieldCount)
		cols[packet.FieldFrameNumber] = fmt.Sprint(i)
		cols[packet.FieldTimeEpoch] = fmt.Sprintf("1700000000.%06d", i*20000)
		cols[packet.FieldFrameLen] = "214"
		cols[packet.FieldIPSrc] = "10.0.0.1"
		cols[packet.FieldIPDst] = "10.0.0.2"
		cols[packet.FieldUDPSrcPort] = "16384"
		cols[packet.FieldUDPDstPort] = "16386"
		cols[packet.FieldProtocols] = "eth:ethertype:ip:udp:rtp"
		cols[packet.FieldColProtocol] = "RTP"
		cols[packet.FieldColInfo] = "PT=ITU-T G.711 PCMU"
		lines = append(lines, strings.Join(cols, "\t"))
	}
	data = filepath.Join(dir, "out.tsv")
	require.NoError(t, os.WriteFile(data, []byte(strings.Join(lines, "\n")+"\n"), 0o600))

	bin := filepath.Join(dir, "fake-dissector")
	require.NoError(t, os.WriteFile(bin, []byte(fmt.Sprintf("#!/bin/sh\ncat '%s'\n", data)), 0o700))

	capture = filepath.Join(dir, "call.pcap")
	require.NoError(t, os.WriteFile(capture, []byte("capture"), 0o600))

	viper.Reset()
	viper.Set("dissector.path", bin)
	t.Cleanup(viper.Reset)
	return capture, data
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	AnalyzeCmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})

	var buf bytes.Buffer
	AnalyzeCmd.SetOut(&buf)
	AnalyzeCmd.SetArgs(args)
	defer AnalyzeCmd.SetArgs(nil)
	err := AnalyzeCmd.Execute()
	return buf.String(), err
}

func TestAnalyzeCommand_JSON(t *testing.T) {
	capture := setup(t)
	metrics := filepath.Join(t.TempDir(), "wirecat.prom")

	out, err := run(t, "-r", capture, "--format", "json", "--category", "voip", "--metrics-file", metrics)
	require.NoError(t, err)

	var got struct {
		Session struct {
			HasData      bool `json:"has_data"`
			TotalPackets int  `json:"total_packets"`
		} `json:"session"`
		Result struct {
			Category string `json:"category"`
			Summary  struct {
				TotalPackets uint64 `json:"total_packets"`
			} `json:"summary"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.Session.HasData)
	assert.Equal(t, 5, got.Session.TotalPackets)
	assert.Equal(t, uint64(5), got.Result.Summary.TotalPackets)
	assert.Equal(t, "voip", got.Result.Category)

	prom, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "wirecat_ingest")
}

func TestAnalyzeCommand_YAMLFromConfig(t *testing.T) {
	capture := setup(t)
	viper.Set("output.format", "yaml")

	out, err := run(t, "-r", capture)
	require.NoError(t, err)
	assert.Contains(t, out, "session:")
	assert.Contains(t, out, "total_packets: 5")
}

func TestAnalyzeCommand_Errors(t *testing.T) {
	capture := setup(t)

	tests := []struct {
		name string
		args []string
	}{
		{"bad format", []string{"-r", capture, "--format", "xml"}},
		{"bad threshold", []string{"-r", capture, "--upload-threshold", "lots"}},
		{"bad category", []string{"-r", capture, "--category", "weather"}},
		{"bad path", []string{"-r", capture + ".txt"}},
		{"no input", []string{"--format", "json"}},
		{"both inputs", []string{"-r", capture, "--from-tsv", capture}},
		{"filter on replay", []string{"--from-tsv", capture, "-Y", "sip"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestAnalyzeCommand_FromTSV(t *testing.T) {
	_, data := setupWithOutput(t)
	viper.Set("dissector.path", "/nonexistent/tshark")

	out, err := run(t, "--from-tsv", data, "--format", "json")
	require.NoError(t, err)

	var got struct {
		Result struct {
			File    string `json:"file"`
			Summary struct {
				TotalPackets uint64 `json:"total_packets"`
			} `json:"summary"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, data, got.Result.File)
	assert.Equal(t, uint64(5), got.Result.Summary.TotalPackets)
}

func TestAnalyzeCommand_MetricsWrittenOnFailure(t *testing.T) {
	capture, data := setupWithOutput(t)
	bin := filepath.Join(t.TempDir(), "failing-dissector")
	require.NoError(t, os.WriteFile(bin, []byte(fmt.Sprintf("#!/bin/sh\ncat '%s'\necho 'bad capture' >&2\nexit 2\n", data)), 0o700))
	viper.Set("dissector.path", bin)
	metrics := filepath.Join(t.TempDir(), "wirecat.prom")

	_, err := run(t, "-r", capture, "--metrics-file", metrics)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad capture")

	prom, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "wirecat_ingest_lines_total 5")
}
