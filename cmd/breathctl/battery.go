package main

import (
	"fmt"

	"xhale-breath/internal/battery"

	"github.com/spf13/cobra"
)

type batteryReport struct {
	RawADC      *float64 `json:"raw_adc,omitempty"`
	Voltage     *float64 `json:"voltage,omitempty"`
	Percent     int      `json:"percent"`
	CapacityMah float64  `json:"capacity_mah"`
	battery.Estimate
}

func newBatteryCmd() *cobra.Command {
	var (
		voltage float64
		raw     float64
		percent int
	)
	cmd := &cobra.Command{
		Use:   "battery",
		Short: "Convert a battery reading (voltage, raw ADC or percent) to charge and runtime",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report := batteryReport{}
			switch {
			case cmd.Flags().Changed("raw"):
				v := battery.VoltageFromRaw(raw)
				report.RawADC = &raw
				report.Voltage = &v
				report.Percent = battery.PercentFromVoltage(v)
			case cmd.Flags().Changed("voltage"):
				report.Voltage = &voltage
				report.Percent = battery.PercentFromVoltage(voltage)
			case cmd.Flags().Changed("percent"):
				if percent < 0 || percent > 100 {
					return fmt.Errorf("percent must be within 0..100, got %d", percent)
				}
				report.Percent = percent
			default:
				return fmt.Errorf("one of --voltage, --raw or --percent is required")
			}

			report.CapacityMah = battery.CapacityMah(report.Percent)
			report.Estimate, _ = battery.EstimateRuntime(&report.Percent)
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().Float64Var(&voltage, "voltage", 0, "cell voltage in volts")
	cmd.Flags().Float64Var(&raw, "raw", 0, "raw battery ADC value")
	cmd.Flags().IntVar(&percent, "percent", 0, "state of charge in percent")
	cmd.MarkFlagsMutuallyExclusive("voltage", "raw", "percent")

	return cmd
}
