package config

const (
	defaultBaselineDir          = "~/.local/share/cellwatch/baselines"
	defaultLogDir               = "~/.local/share/cellwatch/logs"
	defaultHistoryDB            = "~/.local/share/cellwatch/history.db"
	defaultPoolSize             = 4
	defaultTaskTimeoutSeconds   = 300
	defaultEngineTimeoutSeconds = 120
	defaultRetries              = 1
	defaultBatchSize            = 5000
	defaultCompressionFormat    = "zstd"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"

	// EngineExcelize names the library-backed extraction engine.
	EngineExcelize = "excelize"
	// EngineXML names the archive/XML extraction engine.
	EngineXML = "xml"
)

// KnownEngines lists every engine name the extraction registry understands.
var KnownEngines = []string{EngineExcelize, EngineXML}

// KnownCompressionFormats lists every codec a baseline can be written with.
var KnownCompressionFormats = []string{"zstd", "lz4", "gzip", "none"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			BaselineDir: defaultBaselineDir,
			LogDir:      defaultLogDir,
			HistoryDB:   defaultHistoryDB,
		},
		Worker: Worker{
			PoolSize:           defaultPoolSize,
			TaskTimeoutSeconds: defaultTaskTimeoutSeconds,
		},
		Extraction: Extraction{
			Engines:              []string{EngineExcelize, EngineXML},
			FallbackEnabled:      true,
			Retries:              defaultRetries,
			EngineTimeoutSeconds: defaultEngineTimeoutSeconds,
			BatchSize:            defaultBatchSize,
			IncludeFormulas:      true,
			IncludeValues:        true,
		},
		Baseline: Baseline{
			CompressionFormat: defaultCompressionFormat,
			Validate:          true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
