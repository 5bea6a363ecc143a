package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/assetpulse/assetpulse/internal/config"
	"github.com/assetpulse/assetpulse/internal/engine"
	"github.com/assetpulse/assetpulse/internal/model"
	"github.com/assetpulse/assetpulse/internal/reading"
)

// assess runs one batch of readings through the assessment pipeline from the
// command line: the batch comes from a file or stdin, the report goes to
// stdout as JSON. Structural rejections print a machine-readable error object
// and exit non-zero.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	inputPath := flag.String("input", "-", "batch JSON file, or - for stdin")
	envFile := flag.String("env-file", "", "optional .env file with secrets")
	verbose := flag.Bool("v", false, "log progress to stderr")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fatalf("load env file %s: %v", *envFile, err)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	registry, err := model.Build(cfg.Models)
	if err != nil {
		fatalf("build model registry: %v", err)
	}

	body, err := readInput(*inputPath)
	if err != nil {
		fatalf("read input: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng := engine.New(registry, engine.PolicyFrom(cfg.Engine.Severity), cfg.Engine.Workers, nil)
	rep, err := eng.Assess(ctx, body)
	if err != nil {
		out, _ := json.Marshal(map[string]string{
			"error": err.Error(),
			"kind":  reading.Kind(err),
		})
		fmt.Println(string(out))
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		fatalf("encode report: %v", err)
	}
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "assess: "+format+"\n", args...)
	os.Exit(1)
}
