package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chrissnell/meterexporter/pkg/config"
)

func main() {
	var (
		yamlFile   = flag.String("yaml", "", "Path to YAML configuration file (required)")
		sqliteFile = flag.String("sqlite", "", "Path to SQLite database file (required)")
		force      = flag.Bool("force", false, "Overwrite existing SQLite database")
		dryRun     = flag.Bool("dry-run", false, "Show what would be done without executing")
		defaults   = flag.Bool("with-defaults", false, "Store the configuration with every default filled in")
	)
	flag.Parse()

	if *yamlFile == "" || *sqliteFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -yaml <config.yaml> -sqlite <config.db>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	if _, err := os.Stat(*yamlFile); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: YAML file does not exist: %s\n", *yamlFile)
		os.Exit(1)
	}

	if _, err := os.Stat(*sqliteFile); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "Error: SQLite file already exists: %s\n", *sqliteFile)
		fmt.Fprintf(os.Stderr, "Use -force to overwrite or choose a different filename\n")
		os.Exit(1)
	}

	fmt.Printf("Converting YAML configuration to SQLite...\n")
	fmt.Printf("  Source: %s\n", *yamlFile)
	fmt.Printf("  Target: %s\n", *sqliteFile)

	configData, err := config.NewYAMLProvider(*yamlFile).LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading YAML configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate a defaulted copy so that a broken file never reaches the
	// database, even when the sparse form is stored.
	check := *configData
	check.Channels = append([]config.ChannelData(nil), configData.Channels...)
	if err := config.Prepare(&check); err != nil {
		fmt.Fprintf(os.Stderr, "Error: configuration is invalid:\n%v\n", err)
		os.Exit(1)
	}
	if *defaults {
		configData = &check
	}

	if *dryRun {
		printConfigSummary(&check)
		fmt.Println("DRY RUN complete - no database created")
		return
	}

	if *force {
		if err := os.Remove(*sqliteFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error removing existing SQLite file: %v\n", err)
			os.Exit(1)
		}
	}

	if err := os.MkdirAll(filepath.Dir(*sqliteFile), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directory: %v\n", err)
		os.Exit(1)
	}

	provider, err := config.NewSQLiteProvider(*sqliteFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating SQLite database: %v\n", err)
		os.Exit(1)
	}
	defer provider.Close()

	fmt.Printf("  Inserting meter, validation and %d channels...\n", len(configData.Channels))
	if err := provider.SaveConfig(configData); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration into SQLite: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Conversion completed successfully!\n")
	fmt.Printf("You can now use the SQLite backend with: -config-backend sqlite -config %s\n", *sqliteFile)
}

func printConfigSummary(c *config.ConfigData) {
	fmt.Println("\nConfiguration Summary:")
	if c.Meter.SerialDevice != "" {
		fmt.Printf("Meter: %s on %s (%d baud, %s framing, slave %d)\n", c.Meter.Name, c.Meter.SerialDevice, c.Meter.Baud, c.Meter.Framing, c.Meter.SlaveID)
	} else {
		fmt.Printf("Meter: %s at %s (%s framing, slave %d)\n", c.Meter.Name, c.Meter.Address(), c.Meter.Framing, c.Meter.SlaveID)
	}
	fmt.Printf("Polling every %s, timeout %s\n", c.Meter.PollInterval, c.Meter.Timeout)

	fmt.Printf("\nChannels (%d):\n", len(c.Channels))
	for _, ch := range c.Channels {
		fmt.Printf("  - %-14s %-13s 0x%04X -> %s\n", ch.Name, ch.Kind, ch.Address, ch.Metric)
	}
	fmt.Printf("\nListening on %s\n", c.Server.ListenAddr)
}
