// Package main implements the gofsh-export CLI tool. It loads one or
// more serialized FHIR Shorthand catalogs, materializes every instance,
// and writes the finished JSON documents to disk or stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofhir/shorthand"
	"github.com/gofhir/shorthand/export"
	"github.com/gofhir/shorthand/fsh"
	"github.com/gofhir/shorthand/loader"
	"github.com/gofhir/shorthand/pkg/logger"
	"github.com/gofhir/shorthand/specs"
)

const (
	toolVersion = "0.1.0"
	usage       = `gofsh-export v` + toolVersion + ` - FHIR Shorthand instance exporter

Usage:
  gofsh-export [options] <catalog.json>...
  gofsh-export [options] -               (read a catalog from stdin)
  cat catalog.json | gofsh-export -

Examples:
  gofsh-export catalog.json
  gofsh-export -out build/resources catalog.json
  gofsh-export -package ./profiles -package-file ig-definitions.json catalog.json
  gofsh-export -format json -out - catalog.json
  gofsh-export -version R4B -workers 8 *.catalog.json

Exit codes:
  0  every document exported without error diagnostics
  1  at least one error-grade diagnostic was produced
  2  operational failure (unreadable input, bad flags)

When -out is "-" the documents stream to stdout, one JSON object per
line, and the report moves to stderr.

Options:
`
)

// ReportFormat selects how the per-document report is rendered.
type ReportFormat string

// Report format constants.
const (
	ReportText ReportFormat = "text"
	ReportJSON ReportFormat = "json"
)

// Config holds CLI configuration.
type Config struct {
	Version      shorthand.FHIRVersion
	PackageDirs  []string
	PackageFiles []string
	Embedded     bool
	OutDir       string
	Format       ReportFormat
	Workers      int
	MaxErrors    int
	Strict       bool
	NoCodeCheck  bool
	Quiet        bool
	Verbose      bool
	Help         bool
	Catalogs     []string
}

// DocumentReport is the per-document entry of the JSON report.
type DocumentReport struct {
	Instance     string             `json:"instance"`
	ResourceType string             `json:"resourceType,omitempty"`
	File         string             `json:"file,omitempty"`
	Valid        bool               `json:"valid"`
	Errors       int                `json:"errors"`
	Warnings     int                `json:"warnings"`
	Diagnostics  []DiagnosticReport `json:"diagnostics,omitempty"`
}

// DiagnosticReport is one finding in the JSON report.
type DiagnosticReport struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Path     string `json:"path,omitempty"`
	Location string `json:"location,omitempty"`
}

// CatalogReport is the per-catalog entry of the JSON report.
type CatalogReport struct {
	Catalog   string           `json:"catalog"`
	Documents []DocumentReport `json:"documents"`
	Duration  string           `json:"duration"`
}

func main() {
	config := parseFlags()

	if config.Help || len(config.Catalogs) == 0 {
		flag.Usage()
		os.Exit(0)
	}

	os.Exit(run(config))
}

func parseFlags() *Config {
	config := &Config{}

	var version, packages, packageFiles, format string

	flag.StringVar(&version, "version", "R4", "FHIR version (R4, R4B, R5)")
	flag.StringVar(&packages, "package", "", "Directory of StructureDefinition-*.json files to load (comma-separated)")
	flag.StringVar(&packageFiles, "package-file", "", "StructureDefinition or Bundle JSON file(s) to load (comma-separated)")
	flag.BoolVar(&config.Embedded, "embedded", true, "Load the embedded core definitions")
	flag.StringVar(&config.OutDir, "out", "fsh-generated", "Output directory for documents, or '-' for stdout")
	flag.StringVar(&format, "format", "text", "Report format: text, json")
	flag.IntVar(&config.Workers, "workers", 0, "Parallel export workers (0 = number of CPUs)")
	flag.IntVar(&config.MaxErrors, "max-errors", 0, "Stop a document after this many errors (0 = no limit)")
	flag.BoolVar(&config.Strict, "strict", false, "Treat warnings as errors")
	flag.BoolVar(&config.NoCodeCheck, "no-code-check", false, "Disable local code system checks")
	flag.BoolVar(&config.Quiet, "q", false, "Only report failing documents")
	flag.BoolVar(&config.Verbose, "v", false, "Show per-stage timing and cache statistics")
	flag.BoolVar(&config.Help, "help", false, "Show help")

	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}

	flag.Parse()

	config.Version = shorthand.FHIRVersion(strings.ToUpper(strings.TrimSpace(version)))
	if packages != "" {
		config.PackageDirs = splitList(packages)
	}
	if packageFiles != "" {
		config.PackageFiles = splitList(packageFiles)
	}

	switch strings.ToLower(format) {
	case "json":
		config.Format = ReportJSON
	default:
		config.Format = ReportText
	}

	config.Catalogs = flag.Args()
	return config
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func run(config *Config) int {
	log := logger.Default()
	switch {
	case config.Verbose:
		log.SetLevel(logger.LevelDebug)
	case config.Quiet:
		log.SetLevel(logger.LevelWarn)
	}

	// With documents on stdout, the report has to move aside.
	report := io.Writer(os.Stdout)
	if config.OutDir == "-" {
		report = os.Stderr
	}

	opts := []shorthand.Option{
		shorthand.WithStrictMode(config.Strict),
		shorthand.WithLocalCodeCheck(!config.NoCodeCheck),
	}
	if config.Workers > 0 {
		opts = append(opts, shorthand.WithWorkerCount(config.Workers))
	}
	if config.MaxErrors > 0 {
		opts = append(opts, shorthand.WithMaxErrors(config.MaxErrors))
	}

	exporter, err := export.New(context.Background(), config.Version, opts...)
	if err != nil {
		log.Error("%v", err)
		return 2
	}
	exporter.SetLogger(log)

	if len(config.PackageDirs) > 0 || len(config.PackageFiles) > 0 || !config.Embedded {
		store, err := buildProfileStore(config, log)
		if err != nil {
			log.Error("%v", err)
			return 2
		}
		exporter.SetProfileResolver(store)
	}

	if config.OutDir != "-" {
		if err := os.MkdirAll(config.OutDir, 0o755); err != nil {
			log.Error("cannot create output directory: %v", err)
			return 2
		}
	}

	hasErrors := false
	opFailed := false
	reports := make([]CatalogReport, 0, len(config.Catalogs))

	for _, arg := range config.Catalogs {
		for _, path := range expandArg(arg, &opFailed, log) {
			cr, catErrors, err := exportCatalog(exporter, path, config, report)
			if err != nil {
				log.Error("%s: %v", path, err)
				opFailed = true
				continue
			}
			reports = append(reports, cr)
			if catErrors {
				hasErrors = true
			}
		}
	}

	if config.Format == ReportJSON {
		enc, err := json.MarshalIndent(reports, "", "  ")
		if err == nil {
			fmt.Fprintln(report, string(enc))
		}
	}

	if config.Verbose {
		printMetrics(exporter.Metrics(), report)
	}

	switch {
	case opFailed:
		return 2
	case hasErrors:
		return 1
	default:
		return 0
	}
}

// expandArg turns one argument into concrete catalog paths: "-" stands
// for stdin, anything else goes through filepath.Glob.
func expandArg(arg string, opFailed *bool, log *logger.Logger) []string {
	if arg == "-" {
		return []string{arg}
	}
	matches, err := filepath.Glob(arg)
	if err != nil {
		log.Error("bad pattern %q: %v", arg, err)
		*opFailed = true
		return nil
	}
	if len(matches) == 0 {
		log.Error("no files match %q", arg)
		*opFailed = true
		return nil
	}
	return matches
}

// buildProfileStore assembles the definition set the exporter resolves
// against: the embedded core (unless disabled) plus any packages.
func buildProfileStore(config *Config, log *logger.Logger) (*loader.ProfileStore, error) {
	store := loader.NewProfileStore(shorthand.DefaultOptions().StructureDefCacheSize)

	if config.Embedded {
		stats, err := specs.Load(specs.FHIRVersion(config.Version), store, nil)
		if err != nil {
			log.Warn("embedded %s definitions unavailable: %v", config.Version, err)
		} else {
			log.Debug("loaded %d embedded structure definitions", stats.StructureDefinitions)
		}
	}

	for _, dir := range config.PackageDirs {
		n, err := store.LoadDirectory(dir)
		if err != nil {
			return nil, fmt.Errorf("package %s: %w", dir, err)
		}
		log.Debug("loaded %d definitions from %s", n, dir)
	}
	for _, file := range config.PackageFiles {
		n, err := store.LoadFile(file)
		if err != nil {
			return nil, fmt.Errorf("package file %s: %w", file, err)
		}
		log.Debug("loaded %d definitions from %s", n, file)
	}

	if store.Count() == 0 {
		log.Warn("no structure definitions loaded; every instance will fail to resolve")
	}
	return store, nil
}

// exportCatalog loads one serialized catalog, exports it as a batch, and
// writes the finished documents. The error covers operational failure
// only; per-document problems land in the report.
func exportCatalog(exporter *export.Exporter, path string, config *Config, report io.Writer) (CatalogReport, bool, error) {
	data, name, err := readCatalog(path)
	if err != nil {
		return CatalogReport{}, false, err
	}

	var catalog fsh.Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return CatalogReport{}, false, fmt.Errorf("parse catalog: %w", err)
	}

	start := time.Now()
	br, err := exporter.ExportBatch(context.Background(), &catalog)
	if err != nil {
		return CatalogReport{}, false, err
	}
	duration := time.Since(start)

	cr := CatalogReport{
		Catalog:  name,
		Duration: duration.Round(time.Microsecond).String(),
	}
	hasErrors := false

	for _, res := range br.Results {
		dr := DocumentReport{
			Instance:     res.Instance,
			ResourceType: res.ResourceType,
			Valid:        res.Valid,
			Errors:       res.ErrorCount(),
			Warnings:     res.WarningCount(),
		}
		for _, d := range res.Diagnostics {
			rd := DiagnosticReport{
				Severity: string(d.Severity),
				Code:     string(d.Code),
				Message:  d.Message,
				Path:     d.Path,
			}
			if !d.Location.IsZero() {
				rd.Location = d.Location.String()
			}
			dr.Diagnostics = append(dr.Diagnostics, rd)
		}
		if res.HasErrors() {
			hasErrors = true
		}

		if doc := br.Document(res.Instance); doc != nil {
			file, err := writeDocument(doc, config)
			if err != nil {
				return cr, hasErrors, err
			}
			dr.File = file
		}

		if config.Format == ReportText {
			printTextResult(name, res, config, report)
		}
		cr.Documents = append(cr.Documents, dr)
	}

	return cr, hasErrors, nil
}

func readCatalog(path string) ([]byte, string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, "", fmt.Errorf("read stdin: %w", err)
		}
		return data, "stdin", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	return data, path, nil
}

// writeDocument stores one finished document and returns where it went.
func writeDocument(doc *shorthand.Document, config *Config) (string, error) {
	if config.OutDir == "-" {
		enc, err := json.Marshal(doc)
		if err != nil {
			return "", fmt.Errorf("encode %s: %w", doc.Name, err)
		}
		fmt.Println(string(enc))
		return "-", nil
	}

	enc, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", doc.Name, err)
	}
	path := filepath.Join(config.OutDir, doc.Filename())
	if err := os.WriteFile(path, append(enc, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func printTextResult(catalog string, res *shorthand.Result, config *Config, w io.Writer) {
	if config.Quiet && res.Valid && !res.HasWarnings() {
		return
	}

	status := "OK"
	if !res.Valid {
		status = "FAILED"
	}
	fmt.Fprintf(w, "== %s / %s ==\n", catalog, res.Instance)
	fmt.Fprintf(w, "Status: %s (%d errors, %d warnings)\n", status, res.ErrorCount(), res.WarningCount())

	for _, d := range res.Diagnostics {
		if config.Quiet && !d.IsError() {
			continue
		}
		location := ""
		if !d.Location.IsZero() {
			location = fmt.Sprintf(" (%s)", d.Location)
		}
		path := ""
		if d.Path != "" {
			path = fmt.Sprintf(" @ %s", d.Path)
		}
		fmt.Fprintf(w, "  %s [%s] %s%s%s\n", severityTag(d.Severity), d.Code, d.Message, path, location)
	}
	fmt.Fprintln(w)
}

func severityTag(severity shorthand.Severity) string {
	switch severity {
	case shorthand.SeverityFatal:
		return "FATAL"
	case shorthand.SeverityError:
		return "ERROR"
	case shorthand.SeverityWarning:
		return "WARN "
	default:
		return "INFO "
	}
}

func printMetrics(m *shorthand.Metrics, w io.Writer) {
	fmt.Fprintf(w, "Documents: %d exported, %d valid (%.0f%%)\n",
		m.DocumentsTotal(), m.DocumentsValid(), m.SuccessRate()*100)
	fmt.Fprintf(w, "Rules: %d applied, %d failed\n", m.RulesApplied(), m.RulesFailed())
	fmt.Fprintf(w, "Schema cache: %d hits, %d misses; inline memo: %d hits\n",
		m.CacheHits(), m.CacheMisses(), m.MemoHits())
	for _, st := range m.AllStageStats() {
		fmt.Fprintf(w, "Stage %-12s %4d calls, %s total, %s avg\n",
			st.Name, st.Invocations, st.TotalTime.Round(time.Microsecond), st.AvgTime.Round(time.Microsecond))
	}
}
