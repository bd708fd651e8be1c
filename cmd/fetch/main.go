package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/Brownie44l1/leaf-api/internal/config"
	"github.com/Brownie44l1/leaf-api/internal/model"
)

// fetch downloads the model artifact into the local cache ahead of serving.
func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	source := flag.String("source", "", "override the remote source (URL or drive://<fileID>)")
	flag.Parse()

	cfg, _, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *source != "" {
		cfg.Model.Source = *source
	}

	fetcher, err := model.NewFetcher(cfg.Model.Source, cfg.Model.DriveAPIKey, cfg.FetchTimeout(), os.Stderr)
	if err != nil {
		log.Fatalf("Invalid model source: %v", err)
	}
	provider := model.NewProvider(cfg.Model.Path, cfg.Model.MetadataPath, fetcher, nil)

	path, err := provider.EnsureArtifact(context.Background())
	if err != nil {
		log.Fatalf("Failed to fetch model: %v", err)
	}
	log.Printf("Model artifact ready at %s", path)
}
