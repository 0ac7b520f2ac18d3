// test-extraction checks that a model's output parses with the incident and
// entity extractors. It sends a fixed news excerpt and a fixed incident to
// each model and reports what came back.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/config"
	"github.com/ekaya-inc/incident-engine/pkg/extraction"
	"github.com/ekaya-inc/incident-engine/pkg/llm"
	"github.com/ekaya-inc/incident-engine/pkg/models"
)

const sampleArticle = `MAIDUGURI - Suspected Boko Haram insurgents on Saturday attacked a military
base in Dikwa, Borno State, killing at least seven soldiers, residents said.
The group, also known as JAS, arrived in gun trucks shortly after dusk.
Separately, ISWAP fighters ambushed a convoy near Monguno on Sunday morning.`

type result struct {
	name      string
	incidents int
	entities  int
	duration  time.Duration
	err       error
}

func main() {
	configPath := flag.String("config", "config.yaml", "Config file providing the llm section")
	modelList := flag.String("models", "", "Comma-separated model names overriding llm.model")
	timeout := flag.Duration("timeout", 120*time.Second, "Timeout for each model")
	flag.Parse()

	logConfig := zap.NewDevelopmentConfig()
	logConfig.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	logger, _ := logConfig.Build()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.LoadFile(*configPath, "script")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(2)
	}

	names := []string{cfg.LLM.Model}
	if *modelList != "" {
		names = strings.Split(*modelList, ",")
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("Extraction Output Test")
	fmt.Println(strings.Repeat("=", 80))

	failed := false
	for _, name := range names {
		llmCfg := cfg.LLM
		llmCfg.Model = strings.TrimSpace(name)

		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		res := testModel(ctx, llmCfg, logger)
		cancel()

		printResult(res)
		if res.err != nil || res.incidents == 0 || res.entities == 0 {
			failed = true
		}
	}

	if failed {
		fmt.Println("\nSome models failed.")
		os.Exit(1)
	}
	fmt.Println("\nAll models passed!")
}

func testModel(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (res result) {
	res.name = cfg.Model
	start := time.Now()
	defer func() { res.duration = time.Since(start) }()

	client, err := llm.NewFromConfig(cfg, logger)
	if err != nil {
		res.err = fmt.Errorf("failed to create client: %w", err)
		return res
	}

	chunk := extraction.Chunk{
		ID:          "sample#0",
		SourceLabel: "Sample",
		URL:         "https://example.org/sample",
		FetchedAt:   time.Now().UTC(),
		Region:      "west-africa",
		Text:        sampleArticle,
	}
	candidates, err := extraction.NewLLMIncidentExtractor(client, cfg.Temperature, logger).ExtractIncidents(ctx, chunk)
	if err != nil {
		res.err = fmt.Errorf("incident extraction: %w", err)
		return res
	}
	res.incidents = len(candidates)
	for _, c := range candidates {
		fmt.Printf("  incident: %q at %s (%s)\n", c.Title, c.Location, c.Category)
	}

	inc := &models.Incident{
		ID:       uuid.New(),
		Title:    "Boko Haram attack on military base in Dikwa",
		Location: "Dikwa, Borno State",
		Region:   "west-africa",
	}
	summary := "Suspected Boko Haram (JAS) insurgents attacked a base, killing seven soldiers."
	inc.Summary = &summary
	mentions, err := extraction.NewLLMEntityExtractor(client, cfg.Temperature, logger).ExtractEntities(ctx, inc)
	if err != nil {
		res.err = fmt.Errorf("entity extraction: %w", err)
		return res
	}
	res.entities = len(mentions)
	for _, m := range mentions {
		fmt.Printf("  entity: %q aliases=%v role=%s\n", m.Name, m.Aliases, m.Role)
	}
	return res
}

func printResult(r result) {
	fmt.Printf("\n%s\n", strings.Repeat("-", 80))
	status := "PASS"
	if r.err != nil || r.incidents == 0 || r.entities == 0 {
		status = "FAIL"
	}
	fmt.Printf("%s: %s (%dms) incidents=%d entities=%d\n", status, r.name, r.duration.Milliseconds(), r.incidents, r.entities)
	if r.err != nil {
		fmt.Printf("  Error: %v\n", r.err)
	}
}
