package bootstrap

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/0xBitWishper/buybots/core/config"
	coredatabase "github.com/0xBitWishper/buybots/core/database"
	"github.com/0xBitWishper/buybots/core/logger"
)

// Options control the bootstrap pipeline: logger, database, migrations.
type Options struct {
	Config *coreconfig.Config

	LoggerInit func(logger.Options) error
	Connect    func(coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(coredatabase.Config) error
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	DB *sqlx.DB
}

// LoggerOptions maps the logging section of the config onto logger options.
func LoggerOptions(cfg *coreconfig.Config) logger.Options {
	return logger.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		KeysOrder:   cfg.Logging.KeysOrder,
		DebugSample: cfg.Logging.DebugSample,
		Dir:         cfg.Logging.Dir,
		BotFile:     cfg.Logging.BotFile,
		Profile:     cfg.Logging.Profile,
	}
}

// Run initializes the logger, connects to the database, and applies migrations.
func Run(opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(LoggerOptions(opts.Config)); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(opts.Config.Database)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	migrate := opts.Migrate
	if migrate == nil {
		migrate = coredatabase.RunMigrations
	}
	if err := migrate(opts.Config.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
	}

	return &Result{DB: db}, nil
}
