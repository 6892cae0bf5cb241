package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"synthesizar/internal/logging"
	"synthesizar/pkg/config"
	"synthesizar/pkg/emission"
	"synthesizar/pkg/geometry"
	"synthesizar/pkg/instruments"
	"synthesizar/pkg/observe"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "synthesizar.yaml", "Path to the YAML configuration file")
	parallel := flag.Bool("parallel", false, "Run the concurrent pipeline (overrides processing.parallel)")
	workers := flag.Int("workers", 0, "Worker pool size for the concurrent pipeline (0 keeps the config value)")
	outputDir := flag.String("output", "", "Directory for stores and images (overrides output.saveDir)")
	loops := flag.String("loops", "", "Loops file (overrides inputs.loopsFile)")
	emissivity := flag.String("emissivity", "", "Emissivity table (overrides inputs.emissivityFile)")
	writeConfig := flag.Bool("write-config", false, "Write a default configuration file to -config and exit")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			fatal("failed to write default config", err)
		}
		fmt.Printf("Default configuration written to: %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fatal("failed to load config", err)
	}

	// Command line flags win over the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "parallel":
			cfg.Processing.Parallel = *parallel
		case "workers":
			cfg.Processing.NumWorkers = *workers
		case "output":
			cfg.Output.SaveDir = *outputDir
		case "loops":
			cfg.Inputs.LoopsFile = *loops
		case "emissivity":
			cfg.Inputs.EmissivityFile = *emissivity
		}
	})
	if err := cfg.Validate(); err != nil {
		fatal("invalid configuration", err)
	}

	level := logging.ParseLevel(cfg.Output.LogLevel)
	if cfg.Output.Verbose {
		level = slog.LevelDebug
	}
	logging.Init(level, cfg.Output.LogFormat == "json")

	if cfg.Inputs.LoopsFile == "" || cfg.Inputs.EmissivityFile == "" {
		fmt.Fprintln(os.Stderr, "both a loops file and an emissivity table are required")
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	curves, err := geometry.NewFileProvider(cfg.Inputs.LoopsFile).Curves(ctx)
	if err != nil {
		fatal("failed to load loops", err)
	}
	table, err := emission.LoadTable(cfg.Inputs.EmissivityFile)
	if err != nil {
		fatal("failed to load emissivity table", err)
	}

	insts := make([]*instruments.Instrument, len(cfg.Instruments))
	for i := range cfg.Instruments {
		insts[i] = &cfg.Instruments[i]
	}

	params, err := observe.ParamsFromConfig(cfg)
	if err != nil {
		fatal("invalid observer", err)
	}

	fmt.Println("================================")
	fmt.Println("SYNTHETIC DETECTOR IMAGES FROM LOOP SIMULATIONS")
	fmt.Println("================================")
	mode := "sequential"
	if cfg.Processing.Parallel {
		mode = fmt.Sprintf("concurrent, %d workers", cfg.Processing.NumWorkers)
	}
	fmt.Printf("Observing %d loops with %d instruments (%s)...\n", len(curves), len(insts), mode)

	startTime := time.Now()
	result, err := observe.New(params, cfg.Processing.Parallel).Run(ctx, curves, insts, table)
	if err != nil {
		fatal("observation failed", err)
	}
	processingTime := time.Since(startTime)

	fmt.Printf("\nObservation completed successfully in %.2f seconds!\n", processingTime.Seconds())
	fmt.Printf("Run ID: %s\n\n", result.RunID)
	for _, in := range insts {
		fmt.Printf("%s\n", in.Name)
		fmt.Printf("- store: %s\n", result.Stores[in.Name])
		channels := make([]string, 0, len(result.Images[in.Name]))
		for ch := range result.Images[in.Name] {
			channels = append(channels, ch)
		}
		sort.Strings(channels)
		for _, ch := range channels {
			fmt.Printf("- channel %s: %d images\n", ch, len(result.Images[in.Name][ch]))
		}
	}
}

func fatal(msg string, err error) {
	logging.Logger.Error(msg, "error", err)
	os.Exit(1)
}
