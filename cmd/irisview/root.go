package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/esimov/irisview/utils"
	"github.com/spf13/cobra"
)

// envPrefix prefixes the environment variables overriding the flags.
const envPrefix = "IRISVIEW_"

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "irisview",
	Short:         "Iris tracking and eyewear classification",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		values := map[string]string{}
		if configPath != "" {
			fileValues, err := loadSettings(configPath)
			if err != nil {
				return err
			}
			values = fileValues
		}
		for k, v := range envSettings(os.Environ()) {
			values[k] = v
		}
		return applySettings(cmd, values)
	},
}

// Execute runs the root command until it completes or the process
// receives an interrupt.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.SetUsageTemplate(fmt.Sprintf(HelpBanner, Version) + rootCmd.UsageTemplate())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Println(utils.StatusLine(err.Error(), utils.ErrorMessage))
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "JSON configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log the pipeline activity")
}

// newLogger returns the logger handed to the library packages.
func newLogger() *log.Logger {
	if !verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, utils.DecorateText("["+utils.AppTag+"] ", utils.StatusMessage), log.Ltime)
}

// loadSettings reads a JSON object mapping flag names to values.
func loadSettings(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read the configuration file: %w", err)
	}

	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid configuration file %s: %w", path, err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		values[k] = fmt.Sprint(v)
	}
	return values, nil
}

// envSettings extracts the flag values set through the environment:
// IRISVIEW_OPENNESS_THRESHOLD sets --openness-threshold. MQTT_BROKER is
// accepted for the broker address.
func envSettings(environ []string) map[string]string {
	values := map[string]string{}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || v == "" {
			continue
		}
		switch {
		case k == "MQTT_BROKER":
			if _, set := values["mqtt"]; !set {
				values["mqtt"] = v
			}
		case strings.HasPrefix(k, envPrefix):
			name := strings.ToLower(strings.TrimPrefix(k, envPrefix))
			values[strings.ReplaceAll(name, "_", "-")] = v
		}
	}
	return values
}

// applySettings sets the flags of cmd left unset on the command line.
// Values of flags the command does not define are ignored.
func applySettings(cmd *cobra.Command, values map[string]string) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == "config" {
			continue
		}
		f := cmd.Flags().Lookup(name)
		if f == nil || f.Changed {
			continue
		}
		if err := f.Value.Set(values[name]); err != nil {
			return fmt.Errorf("invalid value %q for %s: %w", values[name], name, err)
		}
	}
	return nil
}
