package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"xhale-breath/internal/analysis"
	"xhale-breath/internal/config"

	"github.com/spf13/cobra"
)

type analyzeOptions struct {
	file         string
	serial       string
	duration     int
	warmupRaw    float64
	coefficients string
	cloud        string
}

func newAnalyzeCmd() *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyse a breath window stored as a JSON array of points",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnalyze(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.file, "file", "", "window JSON file ([{\"timestamp_ms\":..,\"raw_co\":..,\"temperature_c\":..}])")
	cmd.Flags().StringVar(&opts.serial, "serial", "", "device serial number (selects per-device gas-fit coefficients)")
	cmd.Flags().IntVar(&opts.duration, "duration", 0, "requested sampling duration in seconds")
	cmd.Flags().Float64Var(&opts.warmupRaw, "warmup-raw", 0, "warm-up baseline raw value")
	cmd.Flags().StringVar(&opts.coefficients, "coefficients", "", "TOML file overriding analysis coefficients")
	cmd.Flags().StringVar(&opts.cloud, "cloud", "", "cloud calibration document JSON file")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runAnalyze(cmd *cobra.Command, opts *analyzeOptions) error {
	window, err := readWindow(opts.file)
	if err != nil {
		return err
	}

	coeffs, err := config.LoadCoefficients(opts.coefficients)
	if err != nil {
		return err
	}

	analyzeOpts := analysis.Options{SerialNumber: opts.serial}
	if cmd.Flags().Changed("duration") {
		analyzeOpts.SampleDurationSec = &opts.duration
	}
	if cmd.Flags().Changed("warmup-raw") {
		analyzeOpts.WarmupBaselineRaw = &opts.warmupRaw
	}
	if opts.cloud != "" {
		cloud, err := readCloudDocument(opts.cloud, opts.serial)
		if err != nil {
			return err
		}
		analyzeOpts.CloudCoefficients = cloud
	}

	result, err := analysis.NewAnalyzer(coeffs).Analyze(window, analyzeOpts)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), result)
}

func readWindow(path string) ([]analysis.WindowPoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read window file: %w", err)
	}
	var window []analysis.WindowPoint
	if err := json.Unmarshal(data, &window); err != nil {
		return nil, fmt.Errorf("failed to parse window file %s: %w", path, err)
	}
	return window, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
