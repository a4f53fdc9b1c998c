package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"photosort/internal/classifier"
	"photosort/internal/config"
	"photosort/internal/logging"
	"photosort/internal/pipeline"
	"photosort/internal/scan"
	"photosort/internal/watch"
)

var (
	flagEngine      string
	flagConcurrency int
	flagValue       bool
	flagStream      bool
	flagDebounce    = watch.DefaultDebounce
	flagSkipInitial bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify [source] [export]",
	Short: "Classify every photo under source and copy it into export",
	Long: `Scans source recursively, classifies each photo with the configured engine and
copies it into export/<category>/ (export/<value>/<category>/ when value scoring
is enabled). Existing files are never overwritten.

Ctrl+C cancels the job; photos already being written are finished first.`,
	Args: cobra.ExactArgs(2),
	RunE: runClassify,
}

var watchCmd = &cobra.Command{
	Use:   "watch [source] [export]",
	Short: "Classify new photos as they arrive in source",
	Long: `Classifies the photos already in source, then watches the tree and classifies
new photos once writes settle. Only photos not seen before are classified.`,
	Args: cobra.ExactArgs(2),
	RunE: runWatch,
}

func init() {
	for _, c := range []*cobra.Command{classifyCmd, watchCmd} {
		c.Flags().StringVar(&flagEngine, "engine", "", "Override analysis.engine (clip or ollama)")
		c.Flags().IntVarP(&flagConcurrency, "concurrency", "j", 0, "Override analysis.concurrency")
		c.Flags().BoolVar(&flagValue, "value", false, "Enable keep/drop value scoring")
		c.Flags().BoolVar(&flagStream, "stream", false, "Stream Ollama output (forces concurrency 1)")
	}
	watchCmd.Flags().DurationVar(&flagDebounce, "debounce", watch.DefaultDebounce, "Quiet period before new photos are classified")
	watchCmd.Flags().BoolVar(&flagSkipInitial, "skip-existing", false, "Do not classify photos already in source")
}

// jobConfig applies command line overrides to a copy of the loaded config.
func jobConfig(cmd *cobra.Command, cores int) *config.Config {
	c := *cfg
	if flagEngine != "" {
		c.Analysis.Engine = flagEngine
	}
	if cmd.Flags().Changed("concurrency") {
		c.Analysis.Concurrency = flagConcurrency
	}
	if cmd.Flags().Changed("value") {
		c.Analysis.ValueEnabled = flagValue
	}
	if cmd.Flags().Changed("stream") {
		c.Ollama.Stream = flagStream
		if flagStream {
			c.Analysis.Concurrency = 1
		}
	}
	c.Normalize(cores)
	return &c
}

// progressPrinter writes one line per progress snapshot.
type progressPrinter struct {
	out       io.Writer
	streamOut io.Writer
	mu        sync.Mutex
}

func (p *progressPrinter) OnProgress(pr pipeline.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pr.Status != pipeline.StatusRunning {
		return
	}
	ratio := 0.0
	if pr.Total > 0 {
		ratio = float64(pr.Processed) / float64(pr.Total)
	}
	line := fmt.Sprintf("%s %d/%d", bar(styles, ratio, 24), pr.Processed, pr.Total)
	if pr.Errors > 0 {
		line += " " + styles.Error.Render(fmt.Sprintf("errors=%d", pr.Errors))
	}
	if pr.CurrentFile != "" {
		line += " " + styles.Muted.Render(pr.CurrentFile)
	}
	fmt.Fprintln(p.out, line)
}

func (p *progressPrinter) OnStream(c classifier.StreamChunk) {
	if p.streamOut == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case c.Reset:
		fmt.Fprintf(p.streamOut, "\n%s\n", styles.Info.Render(c.FileName))
	case c.Done:
		fmt.Fprintln(p.streamOut)
	default:
		fmt.Fprint(p.streamOut, c.Delta)
	}
}

func printFinal(w io.Writer, p pipeline.Progress, export string) {
	status := styles.Success.Render(string(p.Status))
	switch p.Status {
	case pipeline.StatusCanceled:
		status = styles.Warning.Render(string(p.Status))
	case pipeline.StatusError:
		status = styles.Error.Render(string(p.Status))
	}
	fmt.Fprintf(w, "%s processed=%d/%d errors=%d export=%s\n", status, p.Processed, p.Total, p.Errors, export)
	if p.Message != "" {
		fmt.Fprintln(w, styles.Error.Render(p.Message))
	}
}

func runClassify(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, export, err := absPair(args[0], args[1])
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	jc := jobConfig(cmd, a.cores)

	printer := &progressPrinter{out: cmd.OutOrStdout()}
	if verbose {
		printer.streamOut = cmd.ErrOrStderr()
	}
	orch, err := a.orchestrator(printer)
	if err != nil {
		return err
	}

	logging.Boot("classify %s -> %s (engine=%s)", source, export, jc.Analysis.Engine)
	final, err := orch.Run(ctx, pipeline.Request{Source: source, Export: export, Config: jc})
	if err != nil {
		return err
	}
	printFinal(cmd.OutOrStdout(), final, export)
	if final.Status == pipeline.StatusError {
		return fmt.Errorf("job failed: %s", final.Message)
	}
	return nil
}

// seenFilter wraps a scan so each photo is handed to at most one job.
type seenFilter struct {
	mu   sync.Mutex
	seen map[string]bool
	scan func(root string, exclude ...string) ([]string, error)
}

func newSeenFilter() *seenFilter {
	return &seenFilter{seen: make(map[string]bool), scan: scan.Images}
}

// Mark records every photo currently under root as seen.
func (f *seenFilter) Mark(root string, exclude ...string) error {
	_, err := f.Scan(root, exclude...)
	return err
}

// Scan returns the photos not returned by an earlier call.
func (f *seenFilter) Scan(root string, exclude ...string) ([]string, error) {
	files, err := f.scan(root, exclude...)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var fresh []string
	for _, p := range files {
		if !f.seen[p] {
			f.seen[p] = true
			fresh = append(fresh, p)
		}
	}
	return fresh, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, export, err := absPair(args[0], args[1])
	if err != nil {
		return err
	}
	if err := os.MkdirAll(export, 0755); err != nil {
		return fmt.Errorf("failed to create export root: %w", err)
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	jc := jobConfig(cmd, a.cores)

	filter := newSeenFilter()
	if flagSkipInitial {
		if err := filter.Mark(source, export); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	orch, err := pipeline.New(pipeline.Deps{
		Store:       a.store,
		Classifiers: a.classifiers,
		Scan:        filter.Scan,
		Observer:    &progressPrinter{out: out},
		Cores:       a.cores,
	})
	if err != nil {
		return err
	}

	var jobs sync.WaitGroup
	req := pipeline.Request{Source: source, Export: export, Config: jc}
	trigger := func(ctx context.Context) error {
		job, err := orch.Start(ctx, req)
		if err != nil {
			return err
		}
		jobs.Add(1)
		go func() {
			defer jobs.Done()
			final := job.Wait()
			if final.Total > 0 || final.Status != pipeline.StatusCompleted {
				printFinal(out, final, export)
			}
		}()
		return nil
	}

	w, err := watch.New(source, trigger, watch.Config{Debounce: flagDebounce, Exclude: []string{export}})
	if err != nil {
		return err
	}
	defer w.Stop()
	if err := w.Start(ctx); err != nil {
		return err
	}
	if err := trigger(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s -> %s (Ctrl+C to stop)\n", styles.Title.Render("watching"), source, export)

	<-ctx.Done()
	w.Stop()
	jobs.Wait()
	return nil
}

func absPair(source, export string) (string, string, error) {
	s, err := filepath.Abs(source)
	if err != nil {
		return "", "", err
	}
	e, err := filepath.Abs(export)
	if err != nil {
		return "", "", err
	}
	return s, e, nil
}
