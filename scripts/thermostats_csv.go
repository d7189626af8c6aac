package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/Agrid-Dev/ditraheat/cmd/app"
	"github.com/Agrid-Dev/ditraheat/internal/logger"
	"github.com/Agrid-Dev/ditraheat/schluter"
)

var csvHeader = []string{
	"SerialNumber", "Name", "GroupName", "Online", "Heating", "RegulationMode",
	"Temperature", "SetPoint", "Manual", "Min", "Max", "LoadMeasuredWatt", "SoftwareVersion",
}

// ExportThermostats logs in once, fetches every thermostat of the account
// and writes one CSV row per thermostat, ordered by serial number.
func ExportThermostats(ctx context.Context, client *schluter.Client, username, password, filename string) error {
	sessionID, err := client.Authenticate(ctx, username, password)
	if err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	thermostats, err := client.CurrentThermostats(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to fetch thermostats: %w", err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	serials := make([]string, 0, len(thermostats))
	for s := range thermostats {
		serials = append(serials, s)
	}
	sort.Strings(serials)

	for _, s := range serials {
		t := thermostats[s]
		if err := writer.Write([]string{
			t.SerialNumber,
			t.Name,
			t.GroupName,
			strconv.FormatBool(t.IsOnline),
			strconv.FormatBool(t.IsHeating),
			t.RegulationMode.String(),
			fmt.Sprintf("%.1f", t.Temperature),
			fmt.Sprintf("%.1f", t.SetPointTemperature),
			fmt.Sprintf("%.1f", t.ManualTemperature),
			fmt.Sprintf("%.1f", t.MinTemperature),
			fmt.Sprintf("%.1f", t.MaxTemperature),
			strconv.Itoa(t.LoadMeasuredWatt),
			t.SoftwareVersion,
		}); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func main() {
	var configPath, out string
	flag.StringVar(&configPath, "config", "config.yaml", "path to config file (.yaml/.yml/.json)")
	flag.StringVar(&out, "out", "thermostats.csv", "CSV output file")
	flag.Parse()

	if err := app.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	lg := logger.New(cfg.Log.Level)
	client := schluter.New(
		&http.Client{Timeout: cfg.Schluter.Timeout},
		schluter.WithBaseURL(cfg.Schluter.BaseURL),
		schluter.WithLogger(lg),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := ExportThermostats(ctx, client, cfg.Schluter.Username, cfg.Schluter.Password, out); err != nil {
		lg.Errorw("export failed", "err", err)
		os.Exit(1)
	}
	lg.Infow("thermostats exported", "file", out)
}
