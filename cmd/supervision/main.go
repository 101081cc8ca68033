package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"sitewatch/supervision/auth"
	"sitewatch/supervision/schema"
	"sitewatch/supervision/seed"
	"sitewatch/supervision/services"
	"sitewatch/supervision/storage"
)

type supervisionEnv struct {
	DatabaseUri string `env:"DATABASE_URI,required"`
	ShareDir    string `env:"SHARE_DIR,required"`
	JwtSecret   string `env:"JWT_SECRET,required"`

	PublicHostname string `env:"PUBLIC_HOSTNAME,required"`

	AdminUsername string `env:"ADMIN_USERNAME,required"`
	AdminEmail    string `env:"ADMIN_MAIL,required"`
	AdminPassword string `env:"ADMIN_PASSWORD,required"`

	IdentityProvider      string `env:"IDENTITY_PROVIDER" envDefault:"basic"`
	KeycloakServerUrl     string `env:"KEYCLOAK_SERVER_URL"`
	KeycloakAdminUsername string `env:"KEYCLOAK_ADMIN_USER"`
	KeycloakAdminPassword string `env:"KEYCLOAK_ADMIN_PASSWORD"`

	SeedFile string `env:"SEED_FILE"`
}

/**
 * ==========================================================================
 * ==== All variables used by the supervision server must be loaded here ====
 * ==== so a user can see what variables are exposed and how the values  ====
 * ==== flow through the system.                                         ====
 * ==========================================================================
 */
func loadEnv() (*supervisionEnv, error) {
	cfg := &supervisionEnv{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.IdentityProvider == "keycloak" && cfg.KeycloakServerUrl == "" {
		return nil, fmt.Errorf("KEYCLOAK_SERVER_URL must be set when IDENTITY_PROVIDER is keycloak")
	}
	return cfg, nil
}

func loadEnvFile(envFile string) {
	slog.Info(fmt.Sprintf("loading env from file %v", envFile))
	err := godotenv.Load(envFile)
	if err != nil {
		log.Fatalf("error loading .env file '%v': %v", envFile, err)
	}
}

func initLogging(logFile *os.File) {
	log.SetFlags(log.Lshortfile | log.Ltime | log.Ldate)
	log.SetOutput(io.MultiWriter(logFile, os.Stderr))
	slog.Info("logging initialized", "log_file", logFile.Name())
}

func initDb(dsn string) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}

	err = db.AutoMigrate(
		&schema.User{}, &schema.Role{}, &schema.UserSiteRole{},
		&schema.Site{}, &schema.Building{}, &schema.Floor{}, &schema.Device{},
		&schema.ErrorRecord{}, &schema.Map{},
	)
	if err != nil {
		log.Fatalf("error migrating db schema: %v", err)
	}

	return db
}

func main() {
	envFile := flag.String("env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")
	port := flag.Int("port", 8000, "Port to run server on")

	flag.Parse()

	if *envFile != "" {
		loadEnvFile(*envFile)
	}
	envCfg, err := loadEnv()
	if err != nil {
		log.Fatalf("failed to load environment variables: %v", err)
	}

	err = os.MkdirAll(filepath.Join(envCfg.ShareDir, "logs/"), 0777)
	if err != nil {
		log.Fatalf("error creating log dir: %v", err)
	}

	logFile, err := os.OpenFile(filepath.Join(envCfg.ShareDir, "logs/supervision.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer logFile.Close()

	auditLog, err := os.OpenFile(filepath.Join(envCfg.ShareDir, "logs/audit.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		log.Fatalf("error opening audit log file: %v", err)
	}
	defer auditLog.Close()

	initLogging(logFile)

	db := initDb(envCfg.DatabaseUri)

	seedData, err := seed.Default()
	if envCfg.SeedFile != "" {
		seedData, err = seed.FromFile(envCfg.SeedFile)
	}
	if err != nil {
		log.Fatalf("error loading seed data: %v", err)
	}
	if err := seed.Apply(db, seedData); err != nil {
		log.Fatalf("error applying seed data: %v", err)
	}

	sharedStorage := storage.NewSharedDisk(envCfg.ShareDir)

	var identityProvider auth.IdentityProvider
	if envCfg.IdentityProvider == "keycloak" {
		identityProvider, err = auth.NewKeycloakIdentityProvider(
			db,
			auth.NewAuditLogger(auditLog),
			auth.KeycloakArgs{
				KeycloakServerUrl:     envCfg.KeycloakServerUrl,
				KeycloakAdminUsername: envCfg.KeycloakAdminUsername,
				KeycloakAdminPassword: envCfg.KeycloakAdminPassword,
				AdminUsername:         envCfg.AdminUsername,
				AdminEmail:            envCfg.AdminEmail,
				AdminPassword:         envCfg.AdminPassword,
				PublicHostname:        envCfg.PublicHostname,
			},
		)
		if err != nil {
			log.Fatalf("error creating keycloak identity provider: %v", err)
		}
	} else {
		identityProvider, err = auth.NewBasicIdentityProvider(
			db,
			auth.NewAuditLogger(auditLog),
			auth.BasicProviderArgs{
				Secret:        []byte(envCfg.JwtSecret),
				AdminUsername: envCfg.AdminUsername,
				AdminEmail:    envCfg.AdminEmail,
				AdminPassword: envCfg.AdminPassword,
			},
		)
		if err != nil {
			log.Fatalf("error creating basic identity provider: %v", err)
		}
	}

	supervisor := services.NewSupervisor(db, sharedStorage, identityProvider)

	go supervisor.StorageUsageSync(time.Minute)

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{envCfg.PublicHostname},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Mount("/api/v1", supervisor.Routes())

	slog.Info("starting server", "port", *port)
	err = http.ListenAndServe(fmt.Sprintf(":%d", *port), r)
	if err != nil {
		log.Fatalf("listen and serve returned error: %v", err.Error())
	}
	supervisor.StopStorageUsageSync()
}
