// Command tilestore administers a tilestore directory hierarchy:
// creating workspaces, groups, arrays and metadata, listing and moving
// them, and running fragment consolidation.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"gopkg.in/yaml.v3"

	"github.com/arraydb/tilestore/config"
	"github.com/arraydb/tilestore/core"
	"github.com/arraydb/tilestore/namespace"
	"github.com/arraydb/tilestore/paths"
	"github.com/arraydb/tilestore/schema"
	"github.com/arraydb/tilestore/storage"
	"github.com/arraydb/tilestore/sys"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: tilestore [-config file] <command> [args]

Commands:
  workspace-create <path>
  group-create <path>
  array-create <schema.yaml> [path]
  metadata-create <schema.yaml> [path]
  ls <path>
  move <src> <dst>
  clear <path>
  delete <path>
  consolidate <path>
  stats <path>
`)
	os.Exit(2)
}

func main() {
	configPath := flag.String("config", "tilestore.yaml", "Path to the configuration file")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := createLogger(cfg.Logging)
	if err != nil {
		slog.Error("Failed to create logger", "error", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	slog.SetDefault(logger)

	tp, tpCleanup, err := initTracerProvider(cfg.Tracing, logger)
	if err != nil {
		logger.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer tpCleanup()

	m := storage.NewManager(storage.Options{
		Logger:            logger,
		TracerProvider:    tp,
		Metrics:           storage.NewMetrics(true, "tilestore_"),
		LockWarnThreshold: config.ParseDuration(cfg.Storage.LockWarnThreshold, 10*time.Second, logger),
	})
	defer m.Finalize()

	var collector *storage.SystemCollector
	if cfg.Monitoring.Enabled && flag.NArg() > 1 {
		interval := config.ParseDuration(cfg.Monitoring.Interval, 15*time.Second, logger)
		collector = storage.NewSystemCollector(flag.Arg(1), interval, logger)
		collector.Start()
		defer collector.Stop()
	}

	if err := run(context.Background(), m, flag.Args()); err != nil {
		logger.Error("Command failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, m *storage.Manager, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "workspace-create":
		if len(rest) != 1 {
			usage()
		}
		return m.WorkspaceCreate(ctx, rest[0])
	case "group-create":
		if len(rest) != 1 {
			usage()
		}
		return m.GroupCreate(ctx, rest[0])
	case "array-create", "metadata-create":
		if len(rest) < 1 || len(rest) > 2 {
			usage()
		}
		s, err := loadSchemaDescriptor(rest)
		if err != nil {
			return err
		}
		if cmd == "array-create" {
			return m.ArrayCreate(ctx, s)
		}
		return m.MetadataCreate(ctx, s)
	case "ls":
		if len(rest) != 1 {
			usage()
		}
		entries, err := m.Ls(rest[0])
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%-10s %s\n", e.Kind, e.Name)
		}
		return nil
	case "move":
		if len(rest) != 2 {
			usage()
		}
		return m.Move(ctx, rest[0], rest[1])
	case "clear":
		if len(rest) != 1 {
			usage()
		}
		return m.Clear(ctx, rest[0])
	case "delete":
		if len(rest) != 1 {
			usage()
		}
		return m.DeleteEntire(ctx, rest[0])
	case "consolidate":
		if len(rest) != 1 {
			usage()
		}
		switch m.DirType(rest[0]) {
		case namespace.Metadata:
			return m.MetadataConsolidate(ctx, rest[0])
		default:
			return m.ArrayConsolidate(ctx, rest[0])
		}
	case "stats":
		if len(rest) != 1 {
			usage()
		}
		return printStats(m, rest[0])
	default:
		usage()
		return nil
	}
}

// schemaDescriptor is the YAML shape accepted by array-create.
type schemaDescriptor struct {
	Name       string `yaml:"name"`
	Dense      bool   `yaml:"dense"`
	Capacity   int64  `yaml:"capacity"`
	CellOrder  string `yaml:"cell_order"`
	TileOrder  string `yaml:"tile_order"`
	CoordsType string `yaml:"coords_type"`
	Dimensions []struct {
		Name   string     `yaml:"name"`
		Domain [2]float64 `yaml:"domain"`
	} `yaml:"dimensions"`
	Attributes []struct {
		Name        string `yaml:"name"`
		Type        string `yaml:"type"`
		CellValNum  int32  `yaml:"cell_val_num"`
		Compression string `yaml:"compression"`
	} `yaml:"attributes"`
}

func loadSchemaDescriptor(args []string) (*schema.ArraySchema, error) {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read schema descriptor: %w", err)
	}
	var d schemaDescriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse schema descriptor: %w", err)
	}
	if len(args) == 2 {
		d.Name = args[1]
	}

	cellOrder, err := parseLayout(d.CellOrder)
	if err != nil {
		return nil, err
	}
	tileOrder, err := parseLayout(d.TileOrder)
	if err != nil {
		return nil, err
	}
	coordsType, err := parseDatatype(d.CoordsType, core.Int64)
	if err != nil {
		return nil, err
	}

	s := &schema.ArraySchema{
		ArrayName:  paths.Canonical(d.Name),
		Dense:      d.Dense,
		CellOrder:  cellOrder,
		TileOrder:  tileOrder,
		Capacity:   d.Capacity,
		CoordsType: coordsType,
	}
	if !s.Dense && s.Capacity == 0 {
		s.Capacity = 10000
	}
	for _, dim := range d.Dimensions {
		s.Dimensions = append(s.Dimensions, schema.Dimension{Name: dim.Name, Domain: dim.Domain})
	}
	for _, attr := range d.Attributes {
		typ, err := parseDatatype(attr.Type, core.Int32)
		if err != nil {
			return nil, err
		}
		comp, err := core.ParseCompression(attr.Compression)
		if err != nil {
			return nil, err
		}
		valNum := attr.CellValNum
		if valNum == 0 {
			valNum = 1
		}
		s.Attributes = append(s.Attributes, schema.Attribute{
			Name: attr.Name, Type: typ, CellValNum: valNum, Compression: comp,
		})
	}
	return s, nil
}

func parseLayout(name string) (core.Layout, error) {
	switch name {
	case "", "row-major":
		return core.RowMajor, nil
	case "col-major":
		return core.ColMajor, nil
	default:
		return core.RowMajor, fmt.Errorf("unknown layout %q", name)
	}
}

func parseDatatype(name string, fallback core.Datatype) (core.Datatype, error) {
	switch name {
	case "":
		return fallback, nil
	case "int32":
		return core.Int32, nil
	case "int64":
		return core.Int64, nil
	case "float32":
		return core.Float32, nil
	case "float64":
		return core.Float64, nil
	case "char":
		return core.Char, nil
	default:
		return fallback, fmt.Errorf("unknown datatype %q", name)
	}
}

// printStats reports a census of the hierarchy under path and the
// usage of the volume holding it.
func printStats(m *storage.Manager, path string) error {
	p := paths.Canonical(path)
	if p == "" {
		return fmt.Errorf("cannot canonicalise %q", path)
	}

	census := map[namespace.Kind]int{}
	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := m.Ls(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			census[e.Kind]++
			child := dir + "/" + e.Name
			switch e.Kind {
			case namespace.Workspace, namespace.Group:
				if err := walk(child); err != nil {
					return err
				}
			case namespace.Array, namespace.Metadata:
				dirs, err := sys.ListDirs(child)
				if err != nil {
					return err
				}
				census[namespace.Fragment] += len(dirs)
			}
		}
		return nil
	}
	if k := m.DirType(p); k != namespace.None {
		census[k]++
	}
	if err := walk(p); err != nil {
		return err
	}

	for _, k := range []namespace.Kind{namespace.Workspace, namespace.Group, namespace.Array, namespace.Metadata, namespace.Fragment} {
		fmt.Printf("%-10s %d\n", k, census[k])
	}

	if du, err := disk.Usage(p); err == nil {
		fmt.Printf("disk       %.1f%% used (%s free)\n", du.UsedPercent, formatBytes(du.Free))
	}
	return nil
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func createLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output = file
		closer = file // The file handle is the closer.
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}

// initTracerProvider creates and configures an OpenTelemetry TracerProvider.
func initTracerProvider(cfg config.TracingConfig, logger *slog.Logger) (*sdktrace.TracerProvider, func(), error) {
	if !cfg.Enabled {
		// Return a no-op provider and an empty cleanup function.
		return sdktrace.NewTracerProvider(), func() {}, nil
	}

	logger.Info("Initializing distributed tracing...", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var err error

	switch strings.ToLower(cfg.Protocol) {
	case "http":
		exporter, err = otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()))
	case "grpc":
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()))
	default:
		return nil, nil, fmt.Errorf("unsupported tracing protocol: %q", cfg.Protocol)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := sdkresource.New(ctx, sdkresource.WithAttributes(semconv.ServiceNameKey.String("tilestore")))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err)
		}
	}

	return tp, cleanup, nil
}
