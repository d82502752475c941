package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/ventanet/ventabot/internal/api"
	"github.com/ventanet/ventabot/internal/flow"
	"github.com/ventanet/ventabot/internal/genai"
	"github.com/ventanet/ventabot/internal/lockfile"
	"github.com/ventanet/ventabot/internal/mikrotik"
	"github.com/ventanet/ventabot/internal/scheduler"
	"github.com/ventanet/ventabot/internal/store"
	"github.com/ventanet/ventabot/internal/telegram"
	"github.com/ventanet/ventabot/internal/twiliowhatsapp"
	"github.com/ventanet/ventabot/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for VentaBot state data
	DefaultStateDir = "/var/lib/ventabot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "ventabot.db"
	// DefaultTrialPlan is the router profile given to new accounts for free
	DefaultTrialPlan = "3Dias"
	// DefaultPricePerDay is the price in soles charged per day of service
	DefaultPricePerDay = 1.0
	// DefaultSupportPhone is the number quoted for technical support
	DefaultSupportPhone = "+51987654321"
	// DefaultReminderCron re-alerts the operator about unresolved orders
	// every morning; an empty expression disables the reminder.
	DefaultReminderCron = "0 9 * * *"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Only one instance may own the state directory
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	// Build the storage backend
	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Build external clients
	messenger, err := twiliowhatsapp.NewClient(
		twiliowhatsapp.WithAccountSID(*flags.twilioSID),
		twiliowhatsapp.WithAuthToken(*flags.twilioToken),
		twiliowhatsapp.WithFromWhats(*flags.twilioFrom),
	)
	if err != nil {
		slog.Error("Failed to initialize Twilio WhatsApp client", "error", err)
		os.Exit(1)
	}

	notifier, err := telegram.NewClient(
		telegram.WithBotToken(*flags.telegramToken),
		telegram.WithAdminChatID(*flags.telegramAdmin),
	)
	if err != nil {
		slog.Error("Failed to initialize Telegram client", "error", err)
		os.Exit(1)
	}

	directory, err := mikrotik.NewClient(buildMikrotikOptions(flags)...)
	if err != nil {
		slog.Error("Failed to initialize MikroTik client", "error", err)
		os.Exit(1)
	}

	gaClient, err := buildGenAIClient(flags)
	if err != nil {
		slog.Error("Failed to initialize GenAI client", "error", err)
		os.Exit(1)
	}

	// Wire the conversation flow
	engine := flow.NewIntentEngine(gaClient, st, *flags.pricePerDay, *flags.trialPlan, *flags.supportPhone, *flags.historyLimit)
	dispatcher := flow.NewDispatcher(st, directory, *flags.trialPlan, *flags.pricePerDay)

	// Recurring reminder for orders stuck in review
	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if *flags.reminderCron != "" {
		if err := sched.AddJob(*flags.reminderCron, func() { remindPendingOrders(st, notifier) }); err != nil {
			slog.Error("Failed to schedule pending order reminder", "error", err, "cron", *flags.reminderCron)
			os.Exit(1)
		}
	}

	server := api.NewServer(engine, dispatcher, messenger, notifier, directory, st,
		api.WithAddr(*flags.apiAddr),
		api.WithSupportPhone(*flags.supportPhone),
		api.WithPricePerDay(*flags.pricePerDay),
	)

	slog.Info("Bootstrapping VentaBot with configured modules")
	slog.Debug("Final configuration",
		"api_addr", *flags.apiAddr,
		"db_driver", *flags.dbDriver,
		"dsn_set", *flags.dbDSN != "",
		"trial_plan", *flags.trialPlan,
		"price_per_day", *flags.pricePerDay,
		"history_limit", *flags.historyLimit)
	if err := server.Run(); err != nil {
		slog.Error("VentaBot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("VentaBot exited successfully")
}

// Config holds environment configuration
type Config struct {
	TwilioSID     string
	TwilioToken   string
	TwilioFrom    string
	TelegramToken string
	TelegramAdmin string
	OpenAIKey     string
	MikrotikHost  string
	MikrotikPort  int
	MikrotikUser  string
	MikrotikPass  string
	DbDriver      string
	DatabaseURL   string
	StateDir      string
	APIAddr       string
	TrialPlan     string
	PricePerDay   float64
	HistoryLimit  int
	SupportPhone  string
	ReminderCron  string
	InsecureTLS   bool
}

// Flags holds command line flag values
type Flags struct {
	twilioSID     *string
	twilioToken   *string
	twilioFrom    *string
	telegramToken *string
	telegramAdmin *string
	openaiKey     *string
	mikrotikHost  *string
	mikrotikPort  *int
	mikrotikUser  *string
	mikrotikPass  *string
	insecureTLS   *bool
	dbDriver      *string
	dbDSN         *string
	stateDir      *string
	apiAddr       *string
	trialPlan     *string
	pricePerDay   *float64
	historyLimit  *int
	supportPhone  *string
	reminderCron  *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
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
		TwilioSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:    os.Getenv("TWILIO_FROM_NUMBER"),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramAdmin: os.Getenv("TELEGRAM_ADMIN_ID"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		MikrotikHost:  os.Getenv("MIKROTIK_HOST"),
		MikrotikPort:  util.ParseIntEnv("MIKROTIK_PORT", mikrotik.DefaultPort),
		MikrotikUser:  os.Getenv("MIKROTIK_USER"),
		MikrotikPass:  os.Getenv("MIKROTIK_PASS"),
		DbDriver:      os.Getenv("DB_DRIVER"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("VENTABOT_STATE_DIR"),
		APIAddr:       os.Getenv("API_ADDR"),
		TrialPlan:     os.Getenv("TRIAL_PLAN"),
		PricePerDay:   util.ParseFloatEnv("PRICE_PER_DAY", DefaultPricePerDay),
		HistoryLimit:  util.ParseIntEnv("HISTORY_LIMIT", flow.DefaultHistoryLimit),
		SupportPhone:  os.Getenv("SUPPORT_PHONE"),
		ReminderCron:  os.Getenv("REMINDER_CRON"),
		InsecureTLS:   util.ParseBoolEnv("MIKROTIK_INSECURE_TLS", true),
	}

	// Critical messaging credentials have no sane defaults
	if config.TwilioSID == "" || config.TwilioToken == "" {
		slog.Error("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN must be set")
		os.Exit(1)
	}
	if config.TelegramToken == "" || config.TelegramAdmin == "" {
		slog.Error("TELEGRAM_BOT_TOKEN and TELEGRAM_ADMIN_ID must be set")
		os.Exit(1)
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No VENTABOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}
	if config.TrialPlan == "" {
		config.TrialPlan = DefaultTrialPlan
	}
	if config.SupportPhone == "" {
		config.SupportPhone = DefaultSupportPhone
	}
	if config.ReminderCron == "" {
		config.ReminderCron = DefaultReminderCron
	}

	slog.Debug("environment variables loaded",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "",
		"TELEGRAM_BOT_TOKEN_SET", config.TelegramToken != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"MIKROTIK_HOST", config.MikrotikHost,
		"DB_DRIVER", config.DbDriver,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"VENTABOT_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"TRIAL_PLAN", config.TrialPlan,
		"PRICE_PER_DAY", config.PricePerDay,
		"HISTORY_LIMIT", config.HistoryLimit)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		twilioSID:     flag.String("twilio-sid", config.TwilioSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:   flag.String("twilio-token", config.TwilioToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:    flag.String("twilio-from", config.TwilioFrom, "Twilio WhatsApp sender number (overrides $TWILIO_FROM_NUMBER)"),
		telegramToken: flag.String("telegram-token", config.TelegramToken, "Telegram bot token (overrides $TELEGRAM_BOT_TOKEN)"),
		telegramAdmin: flag.String("telegram-admin", config.TelegramAdmin, "Telegram admin chat ID (overrides $TELEGRAM_ADMIN_ID)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		mikrotikHost:  flag.String("mikrotik-host", config.MikrotikHost, "MikroTik router host (overrides $MIKROTIK_HOST)"),
		mikrotikPort:  flag.Int("mikrotik-port", config.MikrotikPort, "MikroTik REST API port (overrides $MIKROTIK_PORT)"),
		mikrotikUser:  flag.String("mikrotik-user", config.MikrotikUser, "MikroTik API username (overrides $MIKROTIK_USER)"),
		mikrotikPass:  flag.String("mikrotik-pass", config.MikrotikPass, "MikroTik API password (overrides $MIKROTIK_PASS)"),
		insecureTLS:   flag.Bool("mikrotik-insecure-tls", config.InsecureTLS, "skip router TLS verification (overrides $MIKROTIK_INSECURE_TLS)"),
		dbDriver:      flag.String("db-driver", config.DbDriver, "database driver, sqlite3 or postgres (overrides $DB_DRIVER)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN (overrides $DATABASE_URL)"),
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for VentaBot data (overrides $VENTABOT_STATE_DIR)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		trialPlan:     flag.String("trial-plan", config.TrialPlan, "router profile for free trials (overrides $TRIAL_PLAN)"),
		pricePerDay:   flag.Float64("price-per-day", config.PricePerDay, "price in soles per day of service (overrides $PRICE_PER_DAY)"),
		historyLimit:  flag.Int("history-limit", config.HistoryLimit, "conversation turns given to the model (overrides $HISTORY_LIMIT)"),
		supportPhone:  flag.String("support-phone", config.SupportPhone, "technical support number quoted to customers (overrides $SUPPORT_PHONE)"),
		reminderCron:  flag.String("reminder-cron", config.ReminderCron, "cron schedule for pending order reminders, empty disables (overrides $REMINDER_CRON)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"twilioSIDSet", *flags.twilioSID != "",
		"telegramTokenSet", *flags.telegramToken != "",
		"openaiKeySet", *flags.openaiKey != "",
		"mikrotikHost", *flags.mikrotikHost,
		"dbDriver", *flags.dbDriver,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr)

	return flags
}

// buildStore selects and opens the storage backend. An explicit driver wins;
// otherwise the DSN shape decides.
func buildStore(flags Flags) (store.Store, error) {
	driver := *flags.dbDriver
	if driver == "" {
		if strings.Contains(*flags.dbDSN, "postgres://") || strings.Contains(*flags.dbDSN, "host=") {
			driver = "postgres"
		} else {
			driver = "sqlite3"
		}
	}
	slog.Debug("buildStore: selected database driver", "driver", driver)
	if driver == "postgres" {
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildMikrotikOptions constructs MikroTik client configuration options
func buildMikrotikOptions(flags Flags) []mikrotik.Option {
	opts := []mikrotik.Option{
		mikrotik.WithInsecureTLS(*flags.insecureTLS),
	}
	if *flags.mikrotikHost != "" {
		opts = append(opts, mikrotik.WithHost(*flags.mikrotikHost))
	}
	if *flags.mikrotikPort != 0 {
		opts = append(opts, mikrotik.WithPort(*flags.mikrotikPort))
	}
	if *flags.mikrotikUser != "" || *flags.mikrotikPass != "" {
		opts = append(opts, mikrotik.WithCredentials(*flags.mikrotikUser, *flags.mikrotikPass))
	}
	return opts
}

// remindPendingOrders re-sends the approval alert for every order still
// waiting on the operator, buttons included, so stale proofs resurface.
func remindPendingOrders(st store.Store, notifier telegram.Notifier) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	orders, err := st.ListPendingOrders()
	if err != nil {
		slog.Error("remindPendingOrders: failed to list pending orders", "error", err)
		return
	}
	if len(orders) == 0 {
		slog.Debug("remindPendingOrders: no pending orders")
		return
	}

	slog.Info("remindPendingOrders: re-alerting operator", "count", len(orders))
	for _, o := range orders {
		if err := notifier.SendPaymentAlert(ctx, o.ID, o.Phone, o.Plan, o.ProofURL); err != nil {
			slog.Warn("remindPendingOrders: failed to re-send alert", "error", err, "orderID", o.ID)
		}
	}
}

// buildGenAIClient constructs the GenAI client. A missing API key is not
// fatal: the intent engine runs without a client and answers every message
// with a canned reply, so order approval and account management keep working.
func buildGenAIClient(flags Flags) (genai.ClientInterface, error) {
	if *flags.openaiKey == "" && os.Getenv("OPENAI_API_KEY") == "" {
		slog.Warn("buildGenAIClient: OPENAI_API_KEY not set, conversational replies degraded")
		return nil, nil
	}
	client, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var opts []genai.Option
	if *flags.openaiKey != "" {
		opts = append(opts, genai.WithAPIKey(*flags.openaiKey))
	}
	return opts
}
