package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"insardecomp/pkg/config"
	"insardecomp/pkg/pipeline"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	writeDefault := flag.String("write-default-config", "", "Write a default configuration to the given path and exit")
	cube := flag.String("cube", "", "Displacement cube (overrides config)")
	epochList := flag.String("images", "", "Image list file (overrides config)")
	outDir := flag.String("out", "", "Output directory (overrides config)")
	workers := flag.Int("cores", runtime.NumCPU(), "Number of CPU cores to use")
	flag.Parse()

	if *writeDefault != "" {
		if err := config.Save(config.DefaultConfig(), *writeDefault); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *writeDefault)
		return
	}

	if *configPath == "" {
		flag.Usage()
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *cube != "" {
		cfg.Input.Cube = *cube
	}
	if *epochList != "" {
		cfg.Input.EpochList = *epochList
	}
	if *outDir != "" {
		cfg.Output.Dir = *outDir
	}
	if *workers > 0 {
		cfg.Processing.Workers = *workers
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("TIME SERIES DECOMPOSITION INTO TEMPORAL FUNCTIONS AND SPATIAL RAMPS")
	fmt.Println("================================")

	p, err := pipeline.New(cfg)
	if err != nil {
		log.Fatalf("Failed to load inputs: %v", err)
	}
	stack := p.Stack()
	fmt.Printf("Loaded %d epochs of %d x %d pixels\n", stack.N(), stack.Lines, stack.Cols)
	fmt.Printf("Fitting %d temporal parameters over %d iterations on %d cores\n",
		p.Library().M(), cfg.Processing.Iterations, cfg.Processing.Workers)

	startTime := time.Now()
	res, err := p.Run()
	if err != nil {
		log.Fatalf("Estimation failed: %v", err)
	}

	fmt.Printf("\nEstimation completed in %.2f seconds\n", time.Since(startTime).Seconds())
	if len(res.RMS) > 0 {
		last := res.RMS[len(res.RMS)-1]
		var sum float64
		for _, v := range last {
			sum += v
		}
		fmt.Printf("Mean spatial RMS of final pass: %.6f\n", sum/float64(len(last)))
	}
	fmt.Printf("Products written to: %s\n", cfg.Output.Dir)
}
