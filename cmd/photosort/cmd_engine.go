package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"photosort/internal/classifier"
	"photosort/internal/clip"
)

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Inspect the local CLIP engine",
}

var engineWarmupCmd = &cobra.Command{
	Use:   "warmup",
	Short: "Build the CLIP engine and report its backends",
	Args:  cobra.NoArgs,
	RunE:  engineWarmup,
}

var engineAccelCmd = &cobra.Command{
	Use:   "accel",
	Short: "List execution providers and whether they are usable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps := clipDeps(cfg)
		if ort, ok := deps.Runtime.(*clip.ORTRuntime); ok {
			defer ort.Shutdown()
		}
		t := NewTable("execution providers", "backend", "name", "supported", "available")
		for _, c := range clip.Capabilities(deps.Runtime) {
			t.AddRow(string(c.Backend), c.DisplayName, yesNo(c.Supported), yesNo(c.Available))
		}
		fmt.Fprint(cmd.OutOrStdout(), t.View(styles))
		return nil
	},
}

var engineModelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the ONNX model files in the resolved model directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		dir, err := clip.ResolveModelDir(cfg.Clip.ModelDir, cfg.Clip.ResourceDir, "")
		if err != nil {
			fmt.Fprintln(out, styles.Muted.Render("searched:"))
			for _, c := range clip.ModelDirCandidates(cfg.Clip.ModelDir, cfg.Clip.ResourceDir, "") {
				fmt.Fprintln(out, "  "+c)
			}
			return err
		}
		files, err := clip.ModelFiles(dir)
		if err != nil {
			return err
		}
		sort.Strings(files)
		fmt.Fprintln(out, styles.Title.Render(dir))
		for _, f := range files {
			marker := "  "
			if f == cfg.Clip.ModelFile {
				marker = styles.Success.Render("* ")
			}
			fmt.Fprintln(out, marker+f)
		}
		return nil
	},
}

func init() {
	engineCmd.AddCommand(engineWarmupCmd)
	engineCmd.AddCommand(engineAccelCmd)
	engineCmd.AddCommand(engineModelsCmd)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func engineWarmup(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	start := time.Now()
	h, err := a.warmup(ctx)
	if err != nil {
		return err
	}
	defer h.Release()

	e := h.Engine()
	_, intra := classifier.DeriveThreads(cfg.Analysis.Concurrency, a.cores)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s in %s\n", styles.Success.Render("engine ready"), time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(out, "model:     %s\n", e.ModelPath())
	fmt.Fprintf(out, "providers: %s\n", clip.ProvidersLabel(e.Backends()))
	fmt.Fprintf(out, "pool:      %d sessions x %d threads (cores=%d, concurrency=%d)\n", e.PoolSize(), intra, a.cores, cfg.Analysis.Concurrency)
	fmt.Fprintf(out, "value:     %s\n", yesNo(e.ValueEnabled()))
	return nil
}
