// Command check-calibration prints how a device serial resolves to gas-fit
// coefficients: the device_calibrations row, the factory table and the
// coefficients the analyzer would use. With --import it first stores a cloud
// calibration document for the serial.
//
//	go run ./cmd/check-calibration D1A07CD4-0001 [more serials...]
//	go run ./cmd/check-calibration --import D1A07CD4-0001 calibration.json
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	commoncfg "xhale-breath/common/config"
	"xhale-breath/common/database"
	"xhale-breath/common/logger"
	"xhale-breath/internal/analysis"
	"xhale-breath/internal/calibration"
	"xhale-breath/internal/repository"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: %s <serial> [serial...] | --import <serial> <document.json>", os.Args[0])
	}
	serials := os.Args[1:]
	var importPath string
	if os.Args[1] == "--import" {
		if len(os.Args) != 4 {
			log.Fatalf("usage: %s --import <serial> <document.json>", os.Args[0])
		}
		serials, importPath = os.Args[2:3], os.Args[3]
	}

	cfg := &commoncfg.DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     parseInt(getEnv("DB_PORT", "5432"), 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "xhale"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}

	db, err := database.NewPostgresDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	zapLogger, err := logger.NewDevelopmentLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	repo := repository.NewCalibrationRepository(db, zapLogger)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if importPath != "" {
		if err := importDocument(ctx, repo, serials[0], importPath); err != nil {
			log.Fatalf("Import failed: %v", err)
		}
	}

	for _, serial := range serials {
		fmt.Println(strings.Repeat("=", 80))
		fmt.Printf("Serial: %s\n", serial)

		prefix, ok := analysis.NormalizeSerialPrefix(serial)
		if !ok {
			fmt.Printf("  prefix %q is shorter than 8 characters, global coefficients apply\n", prefix)
			printCoefficients("resolved (global)", analysis.GlobalGasFit)
			continue
		}
		fmt.Printf("Prefix: %s\n", prefix)

		cal, err := repo.GetDeviceCalibration(ctx, prefix)
		var cloud *analysis.GasFitCoefficients
		switch {
		case err != nil:
			fmt.Printf("  device_calibrations: %v\n", err)
		case cal == nil:
			fmt.Println("  device_calibrations: no enabled row")
		default:
			c := cal.ToGasFit()
			cloud = &c
			printCoefficients("device_calibrations", c)
			if !cal.UpdatedAt.IsZero() {
				fmt.Printf("  updated_at: %s\n", cal.UpdatedAt.Format(time.RFC3339))
			}
		}
		if err != nil && !isIncomplete(err) {
			continue
		}

		if local, found := analysis.LocalGasFit(prefix); found {
			printCoefficients("factory table", local)
		} else {
			fmt.Println("  factory table: no entry")
		}

		resolved, source := analysis.ResolveGasFitCoefficients(cloud, serial)
		printCoefficients("resolved ("+source+")", resolved)
	}
}

// importDocument stores a cloud calibration document as the serial's device_calibrations row
func importDocument(ctx context.Context, repo *repository.CalibrationRepository, serial, path string) error {
	prefix, ok := analysis.NormalizeSerialPrefix(serial)
	if !ok {
		return fmt.Errorf("serial %q does not normalize to 8 characters", serial)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	cal, err := calibration.ParseDocument(prefix, data)
	if err != nil {
		return err
	}
	if cal == nil {
		return fmt.Errorf("document %s is disabled, nothing to import", path)
	}
	return repo.SaveDeviceCalibration(ctx, cal)
}

func isIncomplete(err error) bool {
	return errors.Is(err, calibration.ErrIncompleteDocument)
}

func printCoefficients(label string, c analysis.GasFitCoefficients) {
	fmt.Printf("  %-24s drift=%.7f gain=%.6f tau=%.2fs dead=%.2fs\n",
		label+":", c.DriftRawPerSec, c.GainRawPerPpm, c.TauSec, c.DeadSec)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, defaultValue int) int {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return defaultValue
}
