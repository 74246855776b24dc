package main

import (
	"fmt"
	"os"

	"xhale-breath/internal/analysis"
	"xhale-breath/internal/calibration"
)

// readCloudDocument nil coefficients for a disabled document
func readCloudDocument(path, serial string) (*analysis.GasFitCoefficients, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration document: %w", err)
	}
	prefix, _ := analysis.NormalizeSerialPrefix(serial)
	cal, err := calibration.ParseDocument(prefix, data)
	if err != nil {
		return nil, err
	}
	if cal == nil {
		return nil, nil
	}
	coeffs := cal.ToGasFit()
	return &coeffs, nil
}
