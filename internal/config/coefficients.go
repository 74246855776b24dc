package config

import (
	"fmt"

	"xhale-breath/internal/analysis"

	"github.com/BurntSushi/toml"
)

// LoadCoefficients merges the TOML file at path over the default analysis
// coefficients. Keys absent from the file keep their defaults; an empty path
// returns the defaults.
//
//	temp_comp_raw_per_c = 0.85
//	human_slope_raw_per_ppm = 3.4
func LoadCoefficients(path string) (analysis.AnalyzeCoefficients, error) {
	coeffs := analysis.DefaultAnalyzeCoefficients()
	if path == "" {
		return coeffs, nil
	}

	meta, err := toml.DecodeFile(path, &coeffs)
	if err != nil {
		return analysis.AnalyzeCoefficients{}, fmt.Errorf("failed to decode coefficients file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return analysis.AnalyzeCoefficients{}, fmt.Errorf("unknown coefficient %q in %s", undecoded[0].String(), path)
	}
	if err := coeffs.Validate(); err != nil {
		return analysis.AnalyzeCoefficients{}, fmt.Errorf("invalid coefficients file %s: %w", path, err)
	}
	return coeffs, nil
}
