package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/DMPipe/internal/api"
	"github.com/BTreeMap/DMPipe/internal/genai"
	"github.com/BTreeMap/DMPipe/internal/instagram"
	"github.com/BTreeMap/DMPipe/internal/lockfile"
	"github.com/BTreeMap/DMPipe/internal/shopify"
	"github.com/BTreeMap/DMPipe/internal/store"
	"github.com/BTreeMap/DMPipe/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for DMPipe state data
	DefaultStateDir = "/var/lib/dmpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "dmpipe.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Prevent two instances from sharing the same state directory
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	// Build module options
	igOpts := buildInstagramOptions(flags)
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	shopifyOpts := buildShopifyOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping DMPipe with configured modules")
	slog.Debug("Module options counts", "instagram", len(igOpts), "store", len(storeOpts), "genai", len(genaiOpts), "shopify", len(shopifyOpts), "api", len(apiOpts))
	if err := api.Run(igOpts, storeOpts, genaiOpts, shopifyOpts, apiOpts); err != nil {
		slog.Error("DMPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("DMPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL        string
	StateDir           string
	OpenAIKey          string
	OpenAIModel        string
	APIAddr            string
	IGAccessToken      string
	IGPageID           string
	IGVerifyToken      string
	IGAppSecret        string
	ShopifyStoreURL    string
	ShopifyAccessToken string
}

// Flags holds command line flag values
type Flags struct {
	stateDir           *string
	dbDSN              *string
	openaiKey          *string
	openaiModel        *string
	apiAddr            *string
	igAccessToken      *string
	igPageID           *string
	igVerifyToken      *string
	igAppSecret        *string
	shopifyStoreURL    *string
	shopifyAccessToken *string
}

// initializeLogger sets up structured logging
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("DMPIPE_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		StateDir:           os.Getenv("DMPIPE_STATE_DIR"),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        os.Getenv("OPENAI_MODEL"),
		APIAddr:            os.Getenv("DMPIPE_API_ADDR"),
		IGAccessToken:      os.Getenv("INSTAGRAM_ACCESS_TOKEN"),
		IGPageID:           os.Getenv("INSTAGRAM_PAGE_ID"),
		IGVerifyToken:      os.Getenv("INSTAGRAM_VERIFY_TOKEN"),
		IGAppSecret:        os.Getenv("INSTAGRAM_APP_SECRET"),
		ShopifyStoreURL:    os.Getenv("SHOPIFY_STORE_URL"),
		ShopifyAccessToken: os.Getenv("SHOPIFY_ACCESS_TOKEN"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No DMPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"DMPIPE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"DMPIPE_API_ADDR", config.APIAddr,
		"INSTAGRAM_ACCESS_TOKEN_SET", config.IGAccessToken != "",
		"INSTAGRAM_PAGE_ID", config.IGPageID,
		"SHOPIFY_STORE_URL", config.ShopifyStoreURL)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:           flag.String("state-dir", config.StateDir, "state directory for DMPipe data (overrides $DMPIPE_STATE_DIR)"),
		dbDSN:              flag.String("db-dsn", config.DatabaseURL, "database DSN for the conversation store (overrides $DATABASE_URL)"),
		openaiKey:          flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:        flag.String("openai-model", config.OpenAIModel, "OpenAI model name (overrides $OPENAI_MODEL)"),
		apiAddr:            flag.String("api-addr", config.APIAddr, "API server address (overrides $DMPIPE_API_ADDR)"),
		igAccessToken:      flag.String("ig-access-token", config.IGAccessToken, "Instagram page access token (overrides $INSTAGRAM_ACCESS_TOKEN)"),
		igPageID:           flag.String("ig-page-id", config.IGPageID, "Instagram page ID (overrides $INSTAGRAM_PAGE_ID)"),
		igVerifyToken:      flag.String("ig-verify-token", config.IGVerifyToken, "webhook verify token (overrides $INSTAGRAM_VERIFY_TOKEN)"),
		igAppSecret:        flag.String("ig-app-secret", config.IGAppSecret, "Meta app secret for webhook signatures (overrides $INSTAGRAM_APP_SECRET)"),
		shopifyStoreURL:    flag.String("shopify-store-url", config.ShopifyStoreURL, "Shopify store URL (overrides $SHOPIFY_STORE_URL)"),
		shopifyAccessToken: flag.String("shopify-access-token", config.ShopifyAccessToken, "Shopify Admin API token (overrides $SHOPIFY_ACCESS_TOKEN)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"igPageID", *flags.igPageID)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	// Ensure state directory exists if we're using a file-based DSN
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildInstagramOptions constructs Instagram client configuration options
func buildInstagramOptions(flags Flags) []instagram.Option {
	var igOpts []instagram.Option
	if *flags.igAccessToken != "" {
		igOpts = append(igOpts, instagram.WithAccessToken(*flags.igAccessToken))
	}
	if *flags.igPageID != "" {
		igOpts = append(igOpts, instagram.WithPageID(*flags.igPageID))
	}
	return igOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	// Presence of the variable decides; zero is a valid temperature.
	if os.Getenv("OPENAI_TEMPERATURE") != "" {
		genaiOpts = append(genaiOpts, genai.WithTemperature(util.ParseFloatEnv("OPENAI_TEMPERATURE", genai.DefaultTemperature)))
	}
	if os.Getenv("OPENAI_MAX_TOKENS") != "" {
		genaiOpts = append(genaiOpts, genai.WithMaxTokens(util.ParseIntEnv("OPENAI_MAX_TOKENS", genai.DefaultMaxTokens)))
	}
	return genaiOpts
}

// buildShopifyOptions constructs Shopify client configuration options
func buildShopifyOptions(flags Flags) []shopify.Option {
	var shopifyOpts []shopify.Option
	if *flags.shopifyStoreURL != "" {
		shopifyOpts = append(shopifyOpts, shopify.WithStoreURL(*flags.shopifyStoreURL))
	}
	if *flags.shopifyAccessToken != "" {
		shopifyOpts = append(shopifyOpts, shopify.WithAccessToken(*flags.shopifyAccessToken))
	}
	return shopifyOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.igVerifyToken != "" {
		apiOpts = append(apiOpts, api.WithVerifyToken(*flags.igVerifyToken))
	}
	if *flags.igAppSecret != "" {
		apiOpts = append(apiOpts, api.WithAppSecret(*flags.igAppSecret))
	}
	return apiOpts
}
