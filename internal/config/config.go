package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// process-level config from the environment. Operational knobs live in the
// settings table (settings.go), not here.

type Config struct {
	Env          string
	Port         int
	DBURL        string
	DBMaxConns   int
	RedisAddr    string
	RedisPass    string
	RedisDB      int
	OTLPEndpoint string

	OdooURL      string
	OdooDB       string
	OdooUser     string
	OdooPassword string

	// BlogID scopes lock names and settings when several sites share one
	// database.
	BlogID int

	// MultiCompany injects company_id on pushed records when absent.
	MultiCompany bool

	WebhookKey string
}

func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env:          getEnv("APP_ENV", "dev"),
		Port:         getEnvInt("PORT", 8090),
		DBURL:        buildDBURL(),
		DBMaxConns:   getEnvInt("DB_MAX_CONNS", 5),
		RedisAddr:    getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPass:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:      getEnvInt("REDIS_DB", 0),
		OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),
		OdooURL:      getEnv("ODOO_URL", "http://127.0.0.1:8069"),
		OdooDB:       getEnv("ODOO_DB", "odoo"),
		OdooUser:     getEnv("ODOO_USER", "admin"),
		OdooPassword: getEnv("ODOO_PASSWORD", ""),
		BlogID:       getEnvInt("BLOG_ID", 1),
		MultiCompany: getEnv("ODOO_MULTI_COMPANY", "") == "1",
		WebhookKey:   getEnv("WEBHOOK_KEY", ""),
	}
}

func buildDBURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "wp4odoo")
	pass := getEnv("DB_PASSWORD", "wp4odoo")
	name := getEnv("DB_NAME", "wp4odoo")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			fmt.Println(err)
			return fallback
		}

		return num
	}
	return fallback
}
