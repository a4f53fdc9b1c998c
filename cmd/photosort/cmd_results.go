package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"photosort/internal/config"
	"photosort/internal/export"
	"photosort/internal/imaging"
	"photosort/internal/store"
	"photosort/internal/taxonomy"
)

var (
	flagLimit      int
	flagMode       string
	flagExportRoot string
	flagK          int
	flagDistance   int
	flagYes        bool
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Inspect stored classification results",
}

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List results, newest first",
	Args:  cobra.NoArgs,
	RunE:  resultsList,
}

var resultsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one result with its analysis log",
	Args:  cobra.ExactArgs(1),
	RunE:  resultsShow,
}

var resultsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored result (exported files are kept)",
	Args:  cobra.NoArgs,
	RunE:  resultsClear,
}

var resultsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count valuable, not valuable and unjudged photos",
	Args:  cobra.NoArgs,
	RunE:  resultsStats,
}

var resultsDistributionCmd = &cobra.Command{
	Use:   "distribution",
	Short: "Show the category distribution",
	Long: `Aggregates stored scores per category.

  --mode avg_score    average of each category's score over all results
  --mode count_ratio  share of results whose top category is k

With --export-root and the clip engine, the distribution counts exported files
per category folder instead.`,
	Args: cobra.NoArgs,
	RunE: resultsDistribution,
}

var resultsSimilarCmd = &cobra.Command{
	Use:   "similar [id]",
	Short: "List the photos most similar to one result",
	Args:  cobra.ExactArgs(1),
	RunE:  resultsSimilar,
}

var resultsDuplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "Group near-duplicate photos by perceptual hash",
	Args:  cobra.NoArgs,
	RunE:  resultsDuplicates,
}

func init() {
	resultsListCmd.Flags().IntVarP(&flagLimit, "limit", "n", 50, "Maximum rows to print (0 = all)")
	resultsClearCmd.Flags().BoolVarP(&flagYes, "yes", "y", false, "Do not ask for confirmation")
	resultsDistributionCmd.Flags().StringVar(&flagMode, "mode", string(store.ModeAvgScore), "avg_score or count_ratio")
	resultsDistributionCmd.Flags().StringVar(&flagExportRoot, "export-root", "", "Count exported files under this root")
	resultsSimilarCmd.Flags().IntVarP(&flagK, "k", "k", 10, "Number of matches")
	resultsDuplicatesCmd.Flags().IntVar(&flagDistance, "distance", 4, "Maximum perceptual hash distance in bits")

	resultsCmd.AddCommand(resultsListCmd)
	resultsCmd.AddCommand(resultsShowCmd)
	resultsCmd.AddCommand(resultsClearCmd)
	resultsCmd.AddCommand(resultsStatsCmd)
	resultsCmd.AddCommand(resultsDistributionCmd)
	resultsCmd.AddCommand(resultsSimilarCmd)
	resultsCmd.AddCommand(resultsDuplicatesCmd)
}

func valueLabel(v *bool) string {
	switch {
	case v == nil:
		return "-"
	case *v:
		return export.DirValuable
	default:
		return export.DirNotValuable
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func resultsList(cmd *cobra.Command, args []string) error {
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	photos, err := s.List(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(photos) == 0 {
		fmt.Fprintln(out, styles.Muted.Render("No results."))
		return nil
	}

	t := NewTable(fmt.Sprintf("%d results", len(photos)), "id", "file", "category", "score", "value", "status", "created")
	for i, p := range photos {
		if flagLimit > 0 && i >= flagLimit {
			break
		}
		status := p.ExportStatus
		if status == store.ExportError {
			status = styles.Error.Render(status)
		}
		t.AddRow(shortID(p.ID), p.FileName, p.Category.Label(), fmt.Sprintf("%.3f", p.TopScore),
			valueLabel(p.Valuable), status, p.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprint(out, t.View(styles))
	return nil
}

// resolveID accepts a full id or a unique prefix as printed by list.
func resolveID(cmd *cobra.Command, s *store.Store, id string) (*store.Photo, error) {
	p, err := s.Get(cmd.Context(), id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	photos, err := s.List(cmd.Context())
	if err != nil {
		return nil, err
	}
	var match *store.Photo
	for _, p := range photos {
		if strings.HasPrefix(p.ID, id) {
			if match != nil {
				return nil, fmt.Errorf("id prefix %q is ambiguous", id)
			}
			match = p
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return match, nil
}

func resultsShow(cmd *cobra.Command, args []string) error {
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := resolveID(cmd, s, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(out, "%s %s\n", styles.Bold.Render(name+":"), value)
		}
	}
	fmt.Fprintln(out, styles.Title.Render(p.FileName))
	field("id", p.ID)
	field("path", p.Path)
	field("category", fmt.Sprintf("%s (%s)", p.Category.Label(), p.Category))
	field("model", p.Model)
	field("status", p.ExportStatus)
	field("error", p.ErrorMessage)
	field("tags", strings.Join(p.Tags, ", "))
	field("caption", p.Caption)
	field("text", p.TextInImage)
	if p.Valuable != nil {
		v := valueLabel(p.Valuable)
		if p.ValuableScore != nil {
			v += fmt.Sprintf(" (%.3f)", *p.ValuableScore)
		}
		field("value", v)
	}
	field("fingerprint", p.Fingerprint)
	field("duration", fmt.Sprintf("%dms", p.DurationMS))
	field("created", p.CreatedAt.Format("2006-01-02 15:04:05"))

	t := NewTable("scores", "category", "score", "")
	for _, k := range taxonomy.Categories() {
		v := p.Scores.Get(k)
		t.AddRow(k.Label(), fmt.Sprintf("%.4f", v), bar(styles, float64(v), 20))
	}
	fmt.Fprint(out, "\n"+t.View(styles))

	if p.AnalysisLog != "" {
		fmt.Fprintln(out, "\n"+styles.Title.Render("analysis log"))
		fmt.Fprintln(out, styles.Muted.Render(p.AnalysisLog))
	}
	return nil
}

func resultsClear(cmd *cobra.Command, args []string) error {
	if !flagYes {
		return errors.New("refusing to delete every result without --yes")
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := s.Count(cmd.Context())
	if err != nil {
		return err
	}
	if err := s.Clear(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d results\n", styles.Success.Render("cleared"), n)
	return nil
}

func resultsStats(cmd *cobra.Command, args []string) error {
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	v, err := s.ValueStats(cmd.Context())
	if err != nil {
		return err
	}
	t := NewTable("value", "judgement", "photos")
	t.AddRow(export.DirValuable, fmt.Sprint(v.Valuable))
	t.AddRow(export.DirNotValuable, fmt.Sprint(v.NotValuable))
	t.AddRow(export.DirValueUnsure, fmt.Sprint(v.Unknown))
	out := cmd.OutOrStdout()
	fmt.Fprint(out, t.View(styles))
	fmt.Fprintln(out, styles.Muted.Render(fmt.Sprintf("db: %s (driver=%s, sql similarity=%t)", s.Path(), s.Driver(), s.VectorSQL())))
	return nil
}

func resultsDistribution(cmd *cobra.Command, args []string) error {
	mode, err := store.ParseDistributionMode(flagMode)
	if err != nil {
		return err
	}

	var dist map[taxonomy.CategoryKey]float64
	title := string(mode)
	if flagExportRoot != "" && cfg.Analysis.Engine == config.EngineClip {
		dist, err = export.FolderDistribution(flagExportRoot)
		title = "folders: " + flagExportRoot
	} else {
		s, openErr := openStore(cfg)
		if openErr != nil {
			return openErr
		}
		defer s.Close()
		dist, err = s.Distribution(cmd.Context(), mode)
	}
	if err != nil {
		return err
	}

	t := NewTable(title, "category", "value", "")
	for _, k := range taxonomy.Categories() {
		t.AddRow(k.Label(), fmt.Sprintf("%.4f", dist[k]), bar(styles, dist[k], 20))
	}
	fmt.Fprint(cmd.OutOrStdout(), t.View(styles))
	return nil
}

func resultsSimilar(cmd *cobra.Command, args []string) error {
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	target, err := resolveID(cmd, s, args[0])
	if err != nil {
		return err
	}
	matches, err := s.Similar(cmd.Context(), target.ID, flagK)
	if errors.Is(err, store.ErrNoEmbedding) {
		return fmt.Errorf("%s was classified without an embedding (use the clip engine)", target.FileName)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(matches) == 0 {
		fmt.Fprintln(out, styles.Muted.Render("No comparable photos."))
		return nil
	}
	t := NewTable("similar to "+target.FileName, "id", "file", "category", "distance")
	for _, m := range matches {
		t.AddRow(shortID(m.Photo.ID), m.Photo.FileName, m.Photo.Category.Label(), fmt.Sprintf("%.4f", m.Distance))
	}
	fmt.Fprint(out, t.View(styles))
	return nil
}

func resultsDuplicates(cmd *cobra.Command, args []string) error {
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	groups, err := s.Duplicates(cmd.Context(), flagDistance)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(groups) == 0 {
		fmt.Fprintln(out, styles.Muted.Render("No duplicates."))
		return nil
	}
	for i, g := range groups {
		t := NewTable(fmt.Sprintf("group %d", i+1), "id", "file", "distance", "path")
		for _, p := range g {
			d, _ := imaging.HashDistance(g[0].Fingerprint, p.Fingerprint)
			t.AddRow(shortID(p.ID), p.FileName, fmt.Sprint(d), p.Path)
		}
		fmt.Fprint(out, t.View(styles))
	}
	return nil
}
