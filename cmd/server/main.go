package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/Brownie44l1/leaf-api/internal/config"
	"github.com/Brownie44l1/leaf-api/internal/handlers"
	"github.com/Brownie44l1/leaf-api/internal/inference"
	"github.com/Brownie44l1/leaf-api/internal/model"
	"github.com/Brownie44l1/leaf-api/internal/report"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, found, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if !found {
		log.Printf("[WARN] %s not found, using defaults", *configPath)
	}

	if err := model.InitRuntime(cfg.Model.RuntimeLibrary); err != nil {
		log.Fatalf("Failed to initialize model runtime: %v", err)
	}

	interp, err := inference.ParseInterpolation(cfg.Model.Interpolation)
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	fetcher, err := model.NewFetcher(cfg.Model.Source, cfg.Model.DriveAPIKey, cfg.FetchTimeout(), nil)
	if err != nil {
		log.Fatalf("Invalid model source: %v", err)
	}
	provider := model.NewProvider(cfg.Model.Path, cfg.Model.MetadataPath, fetcher, nil)
	defer provider.Close()

	// A failed preload is not fatal: each request retries the load.
	if cfg.Model.Preload {
		log.Printf("Loading model from: %s", cfg.Model.Path)
		if classifier, err := provider.Classifier(context.Background()); err != nil {
			log.Printf("[WARN] Model not loaded yet: %v", err)
		} else {
			log.Printf("Classes: %v", classifier.Metadata().Classes)
		}
	}

	var reporter report.Generator
	if cfg.Gemini.APIKey != "" {
		gemini, err := report.NewGeminiReporter(context.Background(), cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			log.Printf("[WARN] Reports disabled: %v", err)
		} else {
			reporter = gemini
		}
	}

	router := handlers.NewRouter(handlers.NewHandler(provider, interp, reporter))

	log.Printf("Server starting on port %s", cfg.Port)
	log.Println("Endpoints:")
	log.Println("  GET  /health              - Health check")
	log.Println("  GET  /labels              - Label set of the loaded model")
	log.Println("  GET  /labels/:class/info  - Disease information sheet")
	log.Println("  POST /predict             - Raw tensor prediction")
	log.Println("  POST /predict/image       - Predict from image upload")
	log.Println("  POST /report              - Prediction, diagnostic report and treatment advice")
	log.Printf("Upload test: curl -X POST -F \"image=@leaf.jpg\" http://localhost:%s/predict/image", cfg.Port)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Printf("Server failed: %v", err)
		provider.Close()
		os.Exit(1)
	}
}
