// Package config defines the configuration contract and handles loading and validating environment configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken        = "TELEGRAM_TOKEN"
	KeyAcceptableUsers      = "ACCEPTABLE_USERS"
	KeyMode                 = "MODE"
	KeyProxyHost            = "PROXY_HOST"
	KeyProxyPort            = "PROXY_PORT"
	KeyProxyLogin           = "PROXY_LOGIN"
	KeyProxyPassword        = "PROXY_PASSWORD"
	KeyStoreBackend         = "STORE_BACKEND"
	KeyDataFile             = "DATA_FILE"
	KeyMongoURI             = "MONGO_URI"
	KeyMongoDB              = "MONGO_DB"
	KeyDedupBy              = "DEDUP_BY"
	KeyBotLanguage          = "BOT_LANGUAGE"
	KeyBroadcastConcurrency = "BROADCAST_CONCURRENCY"
	KeyLogLevel             = "LOG_LEVEL"
	KeyHTTPPort             = "HTTP_PORT"

	// Allowed mode values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Allowed store backends.
	BackendFile  = "file"
	BackendMongo = "mongo"

	// Allowed dedup policies.
	DedupByRecord = "record"
	DedupByID     = "id"

	// Supported reply languages.
	LanguageRU = "ru"
	LanguageEN = "en"

	// Defaults for optional settings.
	DefaultMode                 = EnvDevelopment
	DefaultStoreBackend         = BackendFile
	DefaultDataFile             = "./data.json"
	DefaultDedupBy              = DedupByRecord
	DefaultBotLanguage          = LanguageRU
	DefaultBroadcastConcurrency = 8
	DefaultLogLevel             = "info"
	DefaultHTTPPort             = 8080
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when MODE=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyAcceptableUsers,
		Example:     "[123456789, 987654321]",
		Required:    true,
		Description: "JSON array of Telegram user_ids allowed to list, remove and broadcast.",
	},
	{
		Key:         KeyMode,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultMode,
		Description: "Runtime mode; controls log format, dotenv usage and proxying.",
		Notes:       "Any value is accepted. Only MODE=" + EnvProduction + " disables the SOCKS5 proxy.",
	},
	{
		Key:         KeyProxyHost,
		Example:     "127.0.0.1",
		Description: "SOCKS5 proxy host.",
		Notes:       "Proxy settings apply only when host, port, login and password are all set.",
	},
	{
		Key:         KeyProxyPort,
		Example:     "1080",
		Description: "SOCKS5 proxy port.",
	},
	{
		Key:         KeyProxyLogin,
		Example:     "user",
		Description: "SOCKS5 proxy username.",
	},
	{
		Key:         KeyProxyPassword,
		Example:     "secret",
		Description: "SOCKS5 proxy password.",
	},
	{
		Key:         KeyStoreBackend,
		Example:     BackendFile + " / " + BackendMongo,
		Default:     DefaultStoreBackend,
		Description: "Where the list of groups is persisted.",
	},
	{
		Key:         KeyDataFile,
		Example:     DefaultDataFile,
		Default:     DefaultDataFile,
		Description: "Path of the JSON groups file for the file backend.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Description: "MongoDB connection string.",
		Notes:       "Required when " + KeyStoreBackend + "=" + BackendMongo + ".",
	},
	{
		Key:         KeyMongoDB,
		Example:     "group_relay_bot",
		Description: "MongoDB database name.",
		Notes:       "Required when " + KeyStoreBackend + "=" + BackendMongo + ".",
	},
	{
		Key:         KeyDedupBy,
		Example:     DedupByRecord + " / " + DedupByID,
		Default:     DefaultDedupBy,
		Description: "Whether duplicate groups are detected by the whole record or by id only.",
	},
	{
		Key:         KeyBotLanguage,
		Example:     LanguageRU + " / " + LanguageEN,
		Default:     DefaultBotLanguage,
		Description: "Language of bot replies.",
	},
	{
		Key:         KeyBroadcastConcurrency,
		Example:     strconv.Itoa(DefaultBroadcastConcurrency),
		Default:     strconv.Itoa(DefaultBroadcastConcurrency),
		Description: "Maximum number of group sends in flight per broadcast.",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health port; 0 disables the health server.",
	},
}

// Proxy holds SOCKS5 proxy settings.
type Proxy struct {
	Host     string
	Port     int
	Login    string
	Password string
}

// Address returns host:port of the proxy.
func (p Proxy) Address() string {
	return p.Host + ":" + strconv.Itoa(p.Port)
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken        string
	AdminIDs             []int64
	Mode                 string
	Proxy                *Proxy
	StoreBackend         string
	DataFile             string
	MongoURI             string
	MongoDB              string
	DedupBy              string
	BotLanguage          string
	BroadcastConcurrency int
	LogLevel             string
	HTTPPort             int
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	mode, err := resolveMode()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(mode); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Mode:                 firstNonEmpty(normalize(os.Getenv(KeyMode)), mode),
		TelegramToken:        strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		StoreBackend:         firstNonEmpty(normalize(os.Getenv(KeyStoreBackend)), DefaultStoreBackend),
		DataFile:             firstNonEmpty(os.Getenv(KeyDataFile), DefaultDataFile),
		MongoURI:             strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:              strings.TrimSpace(os.Getenv(KeyMongoDB)),
		DedupBy:              firstNonEmpty(normalize(os.Getenv(KeyDedupBy)), DefaultDedupBy),
		BotLanguage:          firstNonEmpty(normalize(os.Getenv(KeyBotLanguage)), DefaultBotLanguage),
		BroadcastConcurrency: DefaultBroadcastConcurrency,
		LogLevel:             firstNonEmpty(os.Getenv(KeyLogLevel), DefaultLogLevel),
		HTTPPort:             DefaultHTTPPort,
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}

	adminsRaw := strings.TrimSpace(os.Getenv(KeyAcceptableUsers))
	if adminsRaw == "" {
		missing = append(missing, KeyAcceptableUsers)
	} else {
		ids, parseErr := parseAdminIDs(adminsRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyAcceptableUsers, parseErr)
		}
		cfg.AdminIDs = ids
	}

	if err := validateOneOf(KeyStoreBackend, cfg.StoreBackend, BackendFile, BackendMongo); err != nil {
		return Config{}, err
	}

	if cfg.StoreBackend == BackendMongo {
		if cfg.MongoURI == "" {
			missing = append(missing, KeyMongoURI)
		}
		if cfg.MongoDB == "" {
			missing = append(missing, KeyMongoDB)
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if cfg.StoreBackend == BackendMongo {
		if err := validateMongoURI(cfg.MongoURI); err != nil {
			return Config{}, err
		}
	}

	if err := validateOneOf(KeyDedupBy, cfg.DedupBy, DedupByRecord, DedupByID); err != nil {
		return Config{}, err
	}

	if err := validateOneOf(KeyBotLanguage, cfg.BotLanguage, LanguageRU, LanguageEN); err != nil {
		return Config{}, err
	}

	if raw := strings.TrimSpace(os.Getenv(KeyBroadcastConcurrency)); raw != "" {
		n, parseErr := strconv.Atoi(raw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyBroadcastConcurrency, parseErr)
		}
		if n <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyBroadcastConcurrency)
		}
		cfg.BroadcastConcurrency = n
	}

	httpPortRaw := strings.TrimSpace(os.Getenv(KeyHTTPPort))
	if httpPortRaw != "" {
		port, parseErr := strconv.Atoi(httpPortRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		if port < 0 {
			return Config{}, fmt.Errorf("%s must not be negative", KeyHTTPPort)
		}
		cfg.HTTPPort = port
	}

	proxyCfg, err := loadProxy()
	if err != nil {
		return Config{}, err
	}
	cfg.Proxy = proxyCfg

	return cfg, nil
}

// IsDevelopment reports if MODE is development.
func (c Config) IsDevelopment() bool {
	return c.Mode == EnvDevelopment
}

// IsProduction reports if MODE is production.
func (c Config) IsProduction() bool {
	return c.Mode == EnvProduction
}

// UseProxy reports whether Telegram traffic should go through the SOCKS5
// proxy. Only an explicit MODE=production disables it.
func (c Config) UseProxy() bool {
	return c.Proxy != nil && !c.IsProduction()
}

// FormatRedacted renders the configuration with secrets masked.
func FormatRedacted(cfg Config) string {
	var b strings.Builder

	fmt.Fprintf(&b, "telegram_token: %s\n", maskSecret(cfg.TelegramToken))
	fmt.Fprintf(&b, "acceptable_users: %v\n", cfg.AdminIDs)
	fmt.Fprintf(&b, "mode: %s\n", cfg.Mode)
	if cfg.Proxy != nil {
		fmt.Fprintf(&b, "proxy: %s@%s (enabled=%t)\n", cfg.Proxy.Login, cfg.Proxy.Address(), cfg.UseProxy())
	} else {
		b.WriteString("proxy: none\n")
	}
	fmt.Fprintf(&b, "store_backend: %s\n", cfg.StoreBackend)
	if cfg.StoreBackend == BackendMongo {
		fmt.Fprintf(&b, "mongo_uri: %s\n", redactURI(cfg.MongoURI))
		fmt.Fprintf(&b, "mongo_db: %s\n", cfg.MongoDB)
	} else {
		fmt.Fprintf(&b, "data_file: %s\n", cfg.DataFile)
	}
	fmt.Fprintf(&b, "dedup_by: %s\n", cfg.DedupBy)
	fmt.Fprintf(&b, "bot_language: %s\n", cfg.BotLanguage)
	fmt.Fprintf(&b, "broadcast_concurrency: %d\n", cfg.BroadcastConcurrency)
	fmt.Fprintf(&b, "log_level: %s\n", cfg.LogLevel)
	fmt.Fprintf(&b, "http_port: %d", cfg.HTTPPort)

	return b.String()
}

func parseAdminIDs(raw string) ([]int64, error) {
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("expected a JSON array of integer user ids: %w", err)
	}

	return ids, nil
}

func loadProxy() (*Proxy, error) {
	host := strings.TrimSpace(os.Getenv(KeyProxyHost))
	portRaw := strings.TrimSpace(os.Getenv(KeyProxyPort))
	login := strings.TrimSpace(os.Getenv(KeyProxyLogin))
	password := os.Getenv(KeyProxyPassword)

	if host == "" || portRaw == "" || login == "" || password == "" {
		return nil, nil
	}

	port, err := strconv.Atoi(portRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyProxyPort, err)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%s must be between 1 and 65535", KeyProxyPort)
	}

	return &Proxy{
		Host:     host,
		Port:     port,
		Login:    login,
		Password: password,
	}, nil
}

// PartialProxy reports whether some but not all proxy variables are set.
func PartialProxy() bool {
	set := 0
	for _, key := range []string{KeyProxyHost, KeyProxyPort, KeyProxyLogin, KeyProxyPassword} {
		if strings.TrimSpace(os.Getenv(key)) != "" {
			set++
		}
	}

	return set > 0 && set < 4
}

func resolveMode() (string, error) {
	if explicit := normalize(os.Getenv(KeyMode)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultMode, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if modeFromFile := normalize(dotEnvValues[KeyMode]); modeFromFile != "" {
		return modeFromFile, nil
	}

	return DefaultMode, nil
}

func loadDotEnv(mode string) error {
	if mode != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateOneOf(key, value string, allowed ...string) error {
	for _, candidate := range allowed {
		if value == candidate {
			return nil
		}
	}

	quoted := make([]string, len(allowed))
	for i, candidate := range allowed {
		quoted[i] = strconv.Quote(candidate)
	}

	return fmt.Errorf("invalid %s: must be one of %s", key, strings.Join(quoted, ", "))
}

func validateMongoURI(raw string) error {
	if !strings.HasPrefix(raw, "mongodb://") && !strings.HasPrefix(raw, "mongodb+srv://") {
		return fmt.Errorf("invalid %s: must start with mongodb:// or mongodb+srv://", KeyMongoURI)
	}

	if _, err := url.Parse(raw); err != nil {
		return fmt.Errorf("invalid %s: %w", KeyMongoURI, err)
	}

	return nil
}

func maskSecret(value string) string {
	if len(value) <= 4 {
		return "redacted"
	}

	return value[:4] + "...redacted"
}

func redactURI(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.User == nil {
		return raw
	}

	parsed.User = nil
	return parsed.String()
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
