package main

import (
	"flag"
	"fmt"
	"os"
	"reflect"

	"github.com/chrissnell/meterexporter/pkg/config"
)

func main() {
	var (
		yamlFile   = flag.String("yaml", "", "Path to YAML configuration file")
		sqliteFile = flag.String("sqlite", "", "Path to SQLite configuration file")
	)
	flag.Parse()

	if *yamlFile == "" || *sqliteFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -yaml <config.yaml> -sqlite <config.db>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("Configuration Comparison Test")
	fmt.Println("===========================")

	fmt.Printf("Loading YAML configuration: %s\n", *yamlFile)
	yamlConfig, err := config.NewYAMLProvider(*yamlFile).LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading YAML config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Loading SQLite configuration: %s\n", *sqliteFile)
	sqliteProvider, err := config.NewSQLiteProvider(*sqliteFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating SQLite provider: %v\n", err)
		os.Exit(1)
	}
	defer sqliteProvider.Close()

	sqliteConfig, err := sqliteProvider.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading SQLite config: %v\n", err)
		os.Exit(1)
	}

	// Compare effective configurations: one source may store defaults
	// explicitly where the other leaves them out.
	for name, c := range map[string]*config.ConfigData{"YAML": yamlConfig, "SQLite": sqliteConfig} {
		if err := config.Prepare(c); err != nil {
			fmt.Printf("✗ %s configuration is invalid:\n%v\n", name, err)
			os.Exit(1)
		}
	}

	fmt.Println("\nComparison Results:")
	fmt.Println("==================")

	failed := false
	check := func(label string, ok bool) {
		if ok {
			fmt.Printf("✓ %s matches\n", label)
			return
		}
		fmt.Printf("✗ %s differs\n", label)
		failed = true
	}

	check("Meter", yamlConfig.Meter == sqliteConfig.Meter)
	if yamlConfig.Meter != sqliteConfig.Meter {
		printMeterDiff(yamlConfig.Meter, sqliteConfig.Meter)
	}
	check("Validation", yamlConfig.Validation == sqliteConfig.Validation)
	check("Server", yamlConfig.Server == sqliteConfig.Server)

	fmt.Printf("\nChannels - YAML: %d, SQLite: %d\n", len(yamlConfig.Channels), len(sqliteConfig.Channels))
	if len(yamlConfig.Channels) != len(sqliteConfig.Channels) {
		fmt.Println("✗ Channel count mismatch")
		failed = true
	} else {
		for i, ch := range yamlConfig.Channels {
			check("Channel "+ch.Name, reflect.DeepEqual(ch, sqliteConfig.Channels[i]))
		}
	}

	if failed {
		fmt.Println("\nTest failed!")
		os.Exit(1)
	}
	fmt.Println("\nTest completed!")
}

func printMeterDiff(yaml, sqlite config.MeterData) {
	yv, sv := reflect.ValueOf(yaml), reflect.ValueOf(sqlite)
	for i := 0; i < yv.NumField(); i++ {
		if a, b := yv.Field(i).Interface(), sv.Field(i).Interface(); a != b {
			fmt.Printf("  %s: YAML='%v', SQLite='%v'\n", yv.Type().Field(i).Name, a, b)
		}
	}
}
