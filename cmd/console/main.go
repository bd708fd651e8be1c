package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/nfnt/resize"

	"github.com/Brownie44l1/leaf-api/internal/config"
	"github.com/Brownie44l1/leaf-api/internal/inference"
	"github.com/Brownie44l1/leaf-api/internal/model"
)

func main() {
	err := mainImpl()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func mainImpl() error {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, _, err := config.LoadOrDefault(*configPath)
	if err != nil {
		return err
	}
	if err := model.InitRuntime(cfg.Model.RuntimeLibrary); err != nil {
		return err
	}
	interp, err := inference.ParseInterpolation(cfg.Model.Interpolation)
	if err != nil {
		return err
	}
	fetcher, err := model.NewFetcher(cfg.Model.Source, cfg.Model.DriveAPIKey, cfg.FetchTimeout(), os.Stderr)
	if err != nil {
		return err
	}
	provider := model.NewProvider(cfg.Model.Path, cfg.Model.MetadataPath, fetcher, nil)
	defer provider.Close()

	rl, err := readline.New("leaf image> ")
	if err != nil {
		return err
	}
	defer func() {
		_ = rl.Close()
	}()

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF or interrupt
			break
		}
		path := strings.Trim(strings.TrimSpace(line), `"'`)
		if path == "" {
			continue
		}
		label, err := classifyFile(provider, path, interp)
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		fmt.Println("Predicted disease:", label)
	}
	return nil
}

func classifyFile(provider *model.Provider, path string, interp resize.InterpolationFunction) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	img, _, err := inference.Decode(raw)
	if err != nil {
		return "", fmt.Errorf("%w, please choose another file", err)
	}
	classifier, err := provider.Classifier(context.Background())
	if err != nil {
		return "", err
	}
	result, err := inference.NewPipeline(classifier, interp).PredictImage(img)
	if err != nil {
		return "", err
	}
	return result.Label, nil
}
