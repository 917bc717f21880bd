package config

import (
	"encoding/json"
	"flag"
	"os"
	"strings"
)

type Config struct {
	Port         string `json:"port"`
	DBURL        string `json:"dbUrl"`        // пусто = in-memory KV
	DataFile     string `json:"dataFile"`     // снапшот KV-состояния
	EnumsDir     string `json:"enumsDir"`     // YAML-справочники
	OverridesDir string `json:"overridesDir"` // YAML-правки виджетов
	Token        string `json:"token"`        // пусто = доступ без авторизации
	LogLevel     string `json:"logLevel"`
}

func def() Config {
	return Config{
		Port:         "8080",
		DBURL:        "",
		DataFile:     "",
		EnumsDir:     "reference/enums",
		OverridesDir: "reference/overrides",
		Token:        "",
		LogLevel:     "info",
	}
}

func loadJSON(path string) (Config, error) {
	c := def()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, err
	}
	return c, nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

// LoadWithPath читает JSON по указанному пути, потом применяет ENV и флаги.
func LoadWithPath(jsonPath string) Config {
	cfg := def()

	// JSON (если файл существует)
	if st, err := os.Stat(jsonPath); err == nil && !st.IsDir() {
		if c2, err := loadJSON(jsonPath); err == nil {
			cfg = c2
		}
	}

	// ENV overrides
	cfg.Port = getenv("KOROB_PORT", cfg.Port)
	cfg.DBURL = getenv("KOROB_DB_URL", cfg.DBURL)
	cfg.DataFile = getenv("KOROB_DATA_FILE", cfg.DataFile)
	cfg.EnumsDir = getenv("KOROB_ENUMS_DIR", cfg.EnumsDir)
	cfg.OverridesDir = getenv("KOROB_OVERRIDES_DIR", cfg.OverridesDir)
	cfg.Token = getenv("KOROB_TOKEN", cfg.Token)
	cfg.LogLevel = getenv("KOROB_LOG_LEVEL", cfg.LogLevel)

	// Flags overrides
	configPath := flag.String("config", jsonPath, "Path to config JSON")
	port := flag.String("port", cfg.Port, "HTTP port")
	db := flag.String("db", cfg.DBURL, "Postgres URL (empty = in-memory)")
	dataFile := flag.String("data-file", cfg.DataFile, "KV snapshot file (empty = volatile)")
	enums := flag.String("enums", cfg.EnumsDir, "Path to enums directory")
	overrides := flag.String("overrides", cfg.OverridesDir, "Path to UI overrides directory")
	token := flag.String("token", cfg.Token, "Admin bearer token (empty = no auth)")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug/info/warn/error)")

	flag.Parse()

	// Если через флаг передали другой конфиг — перечитаем
	if *configPath != jsonPath {
		return LoadWithPath(*configPath)
	}

	cfg.Port = strings.TrimSpace(*port)
	cfg.DBURL = strings.TrimSpace(*db)
	cfg.DataFile = strings.TrimSpace(*dataFile)
	cfg.EnumsDir = strings.TrimSpace(*enums)
	cfg.OverridesDir = strings.TrimSpace(*overrides)
	cfg.Token = strings.TrimSpace(*token)
	cfg.LogLevel = strings.TrimSpace(*logLevel)

	return cfg
}
