package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/juho05/log"

	"github.com/knurzl/lucia"
)

var values = make(map[string]any)

// Load reads a .env file from the working directory (if present) and
// configures the logger. Call it once before the first Connect.
func Load() {
	godotenv.Load()
	log.SetSeverity(LogLevel())
	log.SetOutput(LogFile())
}

func LogLevel() (sev log.Severity) {
	if l, ok := values["LOG_LEVEL"]; ok {
		return l.(log.Severity)
	}
	defer func() {
		values["LOG_LEVEL"] = sev
	}()
	def := log.INFO
	logLevelStr := os.Getenv("LOG_LEVEL")
	if logLevelStr == "" {
		return def
	}
	level, err := strconv.Atoi(logLevelStr)
	if err != nil {
		log.Errorf("Invalid log level '%s': not a number. Using default: %d", logLevelStr, def)
		return def
	}
	if level < int(log.NONE) || level > int(log.TRACE) {
		log.Errorf("Invalid log level. Valid values: 0 (none), 1 (fatal), 2 (error), 3 (warning), 4 (info), 5 (trace). Using default: %d", def)
		return def
	}
	return log.Severity(level)
}

func LogFile() (file *os.File) {
	if f, ok := values["LOG_FILE"]; ok {
		return f.(*os.File)
	}
	defer func() {
		values["LOG_FILE"] = file
	}()
	def := os.Stderr
	if os.Getenv("LOG_FILE") == "" {
		return def
	}
	appnd, _ := strconv.ParseBool(os.Getenv("LOG_APPEND"))
	if appnd {
		file, err := os.Open(os.Getenv("LOG_FILE"))
		if err != nil {
			log.Errorf("Failed to open log file: %s. Using default: STDERR", err)
			return def
		}
		return file
	} else {
		file, err := os.Create(os.Getenv("LOG_FILE"))
		if err != nil {
			log.Errorf("Failed to create log file: %s. Using default: STDERR", err)
			return def
		}
		return file
	}
}

func DBConnection() (con string) {
	if c, ok := values["DB_CONNECTION"]; ok {
		return c.(string)
	}
	defer func() {
		values["DB_CONNECTION"] = con
	}()
	def := "lucia.sqlite?_foreign_keys=1"
	con = os.Getenv("DB_CONNECTION")
	if con == "" {
		return def
	}
	return con
}

func AutoMigrate() (migrate bool) {
	if m, ok := values["AUTO_MIGRATE"]; ok {
		return m.(bool)
	}
	defer func() {
		values["AUTO_MIGRATE"] = migrate
	}()
	migrateStr := os.Getenv("AUTO_MIGRATE")
	if migrateStr == "" {
		return false
	}
	migrate, err := strconv.ParseBool(migrateStr)
	if err != nil {
		log.Errorf("Invalid AUTO_MIGRATE value '%s': not a boolean. Using default: false", migrateStr)
		return false
	}
	return migrate
}

func Schema() (schema string) {
	if s, ok := values["SCHEMA"]; ok {
		return s.(string)
	}
	defer func() {
		values["SCHEMA"] = schema
	}()
	return os.Getenv("SCHEMA")
}

func UsersTable() (table string) {
	if t, ok := values["USERS_TABLE"]; ok {
		return t.(string)
	}
	defer func() {
		values["USERS_TABLE"] = table
	}()
	table = os.Getenv("USERS_TABLE")
	if table == "" {
		return "users"
	}
	return table
}

func SessionsTable() (table string) {
	if t, ok := values["SESSIONS_TABLE"]; ok {
		return t.(string)
	}
	defer func() {
		values["SESSIONS_TABLE"] = table
	}()
	table = os.Getenv("SESSIONS_TABLE")
	if table == "" {
		return "sessions"
	}
	return table
}

// Tables assembles the table descriptor from the environment.
func Tables() lucia.Tables {
	t := lucia.DefaultTables()
	t.Schema = Schema()
	t.Users = UsersTable()
	t.Sessions = SessionsTable()
	return t
}
