package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Fender1992/cachegpt-sub001/pkg/cache"
	"github.com/Fender1992/cachegpt-sub001/pkg/llm"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load query/response pairs into the cache",
	Long: `Reads a YAML file of known query/response pairs and inserts them into
the cache. Queries are embedded in batches. New entries start in the cool
tier like any other insert.

File format:
  entries:
    - query: "What is the capital of France?"
      response: "Paris."
      model: gpt-4o-mini
      provider: openai   # optional, inferred from the model
      user: alice        # optional, empty means shared

Example:
  cachegpt seed --file faq.yaml`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().StringP("file", "f", "", "path to YAML seed file (required)")
	seedCmd.Flags().IntP("batch-size", "b", 64, "queries embedded per request")
	seedCmd.Flags().Bool("no-progress", false, "disable the progress bar")

	_ = seedCmd.MarkFlagRequired("file")
}

// seedFile is the on-disk seed format.
type seedFile struct {
	Entries []seedEntry `yaml:"entries"`
}

type seedEntry struct {
	Query    string `yaml:"query"`
	Response string `yaml:"response"`
	Model    string `yaml:"model"`
	Provider string `yaml:"provider"`
	User     string `yaml:"user"`
}

// loadSeedFile parses path and fills in inferred providers. Entries
// without a query, response or model are rejected.
func loadSeedFile(path string) ([]seedEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	var errs []string
	for i := range f.Entries {
		e := &f.Entries[i]
		e.Query = strings.TrimSpace(e.Query)
		switch {
		case e.Query == "":
			errs = append(errs, fmt.Sprintf("entry %d: query is required", i+1))
		case e.Response == "":
			errs = append(errs, fmt.Sprintf("entry %d: response is required", i+1))
		case e.Model == "":
			errs = append(errs, fmt.Sprintf("entry %d: model is required", i+1))
		}
		if e.Provider == "" {
			e.Provider = llm.InferProvider(e.Model)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid seed file %s:\n  - %s", path, strings.Join(errs, "\n  - "))
	}
	return f.Entries, nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	filePath, _ := cmd.Flags().GetString("file")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	noProgress, _ := cmd.Flags().GetBool("no-progress")
	verbose := viper.GetBool("verbose")

	if batchSize <= 0 {
		batchSize = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
		cancel()
	}()

	entries, err := loadSeedFile(filePath)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No entries found in file.")
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var bar *progressbar.ProgressBar
	if !noProgress {
		bar = progressbar.NewOptions64(
			int64(len(entries)),
			progressbar.OptionSetDescription("Seeding"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("entries"),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionFullWidth(),
			progressbar.OptionSetRenderBlankState(true),
		)
	}

	start := time.Now()
	inserted, failed := 0, 0
	for i := 0; i < len(entries); i += batchSize {
		if ctx.Err() != nil {
			break
		}
		end := min(i+batchSize, len(entries))
		batch := entries[i:end]

		queries := make([]string, len(batch))
		for j, e := range batch {
			queries[j] = e.Query
		}
		vecs := a.embedder.EmbedBatch(ctx, queries)

		for j, e := range batch {
			_, err := a.cache.InsertVector(ctx, cache.InsertRequest{
				Query:    e.Query,
				Response: e.Response,
				Model:    e.Model,
				Provider: e.Provider,
				UserID:   e.User,
			}, vecs[j])
			if err != nil {
				failed++
				if verbose {
					fmt.Fprintf(os.Stderr, "Warning: failed to seed %q: %v\n", e.Query, err)
				}
				continue
			}
			inserted++
		}

		if bar != nil {
			_ = bar.Add64(int64(len(batch)))
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	fmt.Println()
	fmt.Println("=== Seed Complete ===")
	fmt.Println()
	fmt.Printf("Entries in file:         %d\n", len(entries))
	fmt.Printf("Inserted:                %d\n", inserted)
	fmt.Printf("Failed:                  %d\n", failed)
	fmt.Printf("Processing time:         %dms\n", time.Since(start).Milliseconds())

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}
