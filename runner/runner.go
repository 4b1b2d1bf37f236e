package runner

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/mattn/go-runewidth"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/chrisodt/georef/s3uploader"
)

const (
	RunModeStats = iota + 1
	RunModeList
)

var (
	ErrInvalidRunMode = errors.New("invalid run mode")
)

type Runner interface {
	Run(context.Context) error
	Close(context.Context) error
}

type S3Uploader interface {
	Upload(ctx context.Context, bucketName, key string, body io.Reader) error
}

type Config struct {
	RunMode       int
	InputFile     string
	City          string
	Layer         string
	ResultsFile   string
	StatsFile     string
	JSON          bool
	TargetCRS     string
	CityLevel     int
	Containment   float64
	AreaTolerance float64
	RulesFile     string
	RemainderName string
	Concurrency   int
	CacheDir      string
	NoCache       bool
	Debug         bool
	Dsn           string
	AwsAccessKey  string
	AwsSecretKey  string
	AwsRegion     string
	S3Bucket      string
	S3Uploader    S3Uploader
}

func ParseConfig() *Config {
	cfg := Config{}

	var list bool

	flag.StringVar(&cfg.InputFile, "input", "", "path to the GeoPackage extract (required)")
	flag.StringVar(&cfg.City, "city", "", "city name as tagged in OSM")
	flag.StringVar(&cfg.Layer, "layer", "multipolygons", "feature layer to read from the container")
	flag.StringVar(&cfg.ResultsFile, "results", "stdout", "path for the area records table [default: stdout]")
	flag.StringVar(&cfg.StatsFile, "stats", "", "path for the wide per-node stats table [default: <city>_stats_output.csv]")
	flag.BoolVar(&cfg.JSON, "json", false, "produce JSON output instead of CSV")
	flag.StringVar(&cfg.TargetCRS, "crs", "EPSG:25832", "working CRS, projected and area-accurate for the extract's region")
	flag.IntVar(&cfg.CityLevel, "city-level", 8, "admin level of the requested city boundary")
	flag.Float64Var(&cfg.Containment, "containment", 0.95, "fraction of a sub-boundary's area that must fall inside its parent")
	flag.Float64Var(&cfg.AreaTolerance, "tolerance", 1e-6, "relative area tolerance for overlay slivers")
	flag.StringVar(&cfg.RulesFile, "rules", "", "JSON file with classification rules [default: compiled-in table]")
	flag.StringVar(&cfg.RemainderName, "remainder", "Restgebiet", "name of the synthetic leaf for uncovered parent area; empty disables it")
	flag.IntVar(&cfg.Concurrency, "c", runtime.NumCPU(), "overlay worker count [default: CPU cores]")
	flag.StringVar(&cfg.CacheDir, "cache", "georef_cache", "directory for the stage cache")
	flag.BoolVar(&cfg.NoCache, "no-cache", false, "ignore the cache and start from scratch")
	flag.BoolVar(&list, "list", false, "list known admin boundaries and exit")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")
	flag.StringVar(&cfg.Dsn, "dsn", "", "postgres connection string for the result sink [optional]")
	flag.StringVar(&cfg.AwsAccessKey, "aws-access-key", "", "AWS access key")
	flag.StringVar(&cfg.AwsSecretKey, "aws-secret-key", "", "AWS secret key")
	flag.StringVar(&cfg.AwsRegion, "aws-region", "", "AWS region")
	flag.StringVar(&cfg.S3Bucket, "s3-bucket", "", "S3 bucket for report artifacts")

	flag.Parse()

	if cfg.AwsAccessKey == "" {
		cfg.AwsAccessKey = os.Getenv("MY_AWS_ACCESS_KEY")
	}

	if cfg.AwsSecretKey == "" {
		cfg.AwsSecretKey = os.Getenv("MY_AWS_SECRET_KEY")
	}

	if cfg.AwsRegion == "" {
		cfg.AwsRegion = os.Getenv("MY_AWS_REGION")
	}

	if cfg.InputFile == "" {
		panic("input GeoPackage must be provided")
	}

	if !list && cfg.City == "" {
		panic("city must be provided unless listing boundaries")
	}

	if cfg.Containment <= 0 || cfg.Containment > 1 {
		panic("containment must be in (0, 1]")
	}

	if cfg.AreaTolerance <= 0 {
		panic("tolerance must be greater than 0")
	}

	if cfg.Concurrency < 1 {
		panic("concurrency must be greater than 0")
	}

	if cfg.S3Bucket != "" && (cfg.AwsAccessKey == "" || cfg.AwsSecretKey == "" || cfg.AwsRegion == "") {
		panic("AWS credentials and region must be provided when using an S3 bucket")
	}

	if cfg.AwsAccessKey != "" && cfg.AwsSecretKey != "" && cfg.AwsRegion != "" {
		uploader, err := s3uploader.New(cfg.AwsAccessKey, cfg.AwsSecretKey, cfg.AwsRegion)
		if err != nil {
			panic(err)
		}

		cfg.S3Uploader = uploader
	}

	switch {
	case list:
		cfg.RunMode = RunModeList
	default:
		cfg.RunMode = RunModeStats
	}

	return &cfg
}

// NewLogger builds the run's structured logger; debug switches to the
// development config with debug level enabled.
func NewLogger(debug bool) *zap.Logger {
	if debug {
		logger, err := zap.NewDevelopment()
		if err != nil {
			panic(err)
		}

		return logger
	}

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}

	return logger
}

func wrapText(text string, width int) []string {
	var lines []string

	currentLine := ""
	currentWidth := 0

	for _, r := range text {
		runeWidth := runewidth.RuneWidth(r)
		if currentWidth+runeWidth > width {
			lines = append(lines, currentLine)
			currentLine = string(r)
			currentWidth = runeWidth
		} else {
			currentLine += string(r)
			currentWidth += runeWidth
		}
	}

	if currentLine != "" {
		lines = append(lines, currentLine)
	}

	return lines
}

func banner(messages []string, width int) string {
	if width <= 0 {
		var err error

		width, _, err = term.GetSize(0)
		if err != nil {
			width = 80
		}
	}

	if width < 20 {
		width = 20
	}

	contentWidth := width - 4

	var wrappedLines []string
	for _, message := range messages {
		wrappedLines = append(wrappedLines, wrapText(message, contentWidth)...)
	}

	var builder strings.Builder

	builder.WriteString("╔" + strings.Repeat("═", width-2) + "╗\n")

	for _, line := range wrappedLines {
		lineWidth := runewidth.StringWidth(line)
		paddingRight := contentWidth - lineWidth

		if paddingRight < 0 {
			paddingRight = 0
		}

		builder.WriteString(fmt.Sprintf("║ %s%s ║\n", line, strings.Repeat(" ", paddingRight)))
	}

	builder.WriteString("╚" + strings.Repeat("═", width-2) + "╝\n")

	return builder.String()
}

func Banner() {
	message1 := "🗺  georef - city land-use statistics from OSM extracts"
	message2 := "Feeds a GeoPackage extract through boundary extraction, land-use classification and overlay aggregation."

	fmt.Fprintln(os.Stderr, banner([]string{message1, message2}, 0))
}
