package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"dbhub/internal/api"
	"dbhub/internal/config"
	"dbhub/internal/data"
	"dbhub/internal/engine"
	"dbhub/internal/logger"
	"dbhub/internal/service"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "create-user":
			handleCreateUser(os.Args[2:])
			return
		case "create-key":
			handleCreateKey(os.Args[2:])
			return
		case "reset-password":
			handleResetPassword(os.Args[2:])
			return
		case "help", "--help", "-h":
			printHelp()
			return
		default:
			fmt.Printf("Unknown command: %s\n", os.Args[1])
			printHelp()
			os.Exit(1)
		}
	}

	startServer()
}

func printHelp() {
	fmt.Println("dbhub - multi-engine database access server")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  dbhub                              Start the server")
	fmt.Println("  dbhub create-user -u <user>        Create a user (interactive password)")
	fmt.Println("  dbhub create-key -u <user> [-d desc]  Issue an API key for a user")
	fmt.Println("  dbhub reset-password -u <user>     Reset a user's password (interactive)")
	fmt.Println("  dbhub help                         Show this help")
}

// bootstrapAuth opens the metadata store and wires just enough for the CLI
// subcommands.
func bootstrapAuth() (*service.AuthService, *data.UserRepo, func()) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	db, err := data.InitDB(cfg.DataDir)
	if err != nil {
		fmt.Printf("Failed to init metadata store: %v\n", err)
		os.Exit(1)
	}

	userRepo := data.NewUserRepo(db)
	authSvc := service.NewAuthService(userRepo, data.NewAPIKeyRepo(db))
	return authSvc, userRepo, func() { _ = db.Close() }
}

func readHiddenPassword(confirm bool) string {
	fmt.Print("Password: ")
	passBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Printf("Failed to read password: %v\n", err)
		os.Exit(1)
	}
	password := string(passBytes)
	if password == "" {
		fmt.Println("Password cannot be empty.")
		os.Exit(1)
	}

	if confirm {
		fmt.Print("Confirm password: ")
		confirmBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Printf("Failed to read password: %v\n", err)
			os.Exit(1)
		}
		if password != string(confirmBytes) {
			fmt.Println("Passwords do not match.")
			os.Exit(1)
		}
	}
	return password
}

func handleCreateUser(args []string) {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	username := fs.String("u", "", "Username to create")
	_ = fs.Parse(args)

	if *username == "" {
		fmt.Println("Usage: dbhub create-user -u <username>")
		os.Exit(1)
	}

	password := readHiddenPassword(true)

	authSvc, _, closeDB := bootstrapAuth()
	defer closeDB()

	user, err := authSvc.CreateUser(*username, password)
	if err != nil {
		fmt.Printf("Failed to create user: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("User '%s' created (id %d).\n", user.Username, user.ID)
}

func handleCreateKey(args []string) {
	fs := flag.NewFlagSet("create-key", flag.ExitOnError)
	username := fs.String("u", "", "Username to issue the key for")
	description := fs.String("d", "", "Key description")
	_ = fs.Parse(args)

	if *username == "" {
		fmt.Println("Usage: dbhub create-key -u <username> [-d <description>]")
		os.Exit(1)
	}

	authSvc, userRepo, closeDB := bootstrapAuth()
	defer closeDB()

	user, err := userRepo.GetByUsername(*username)
	if err != nil {
		fmt.Printf("Failed to look up user: %v\n", err)
		os.Exit(1)
	}

	plainKey, key, err := authSvc.GenerateAPIKey(user.ID, *description)
	if err != nil {
		fmt.Printf("Failed to generate API key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key for '%s' (prefix %s):\n\n  %s\n\n", user.Username, key.KeyPrefix, plainKey)
	fmt.Println("Store it now; only its hash is kept.")
}

func handleResetPassword(args []string) {
	fs := flag.NewFlagSet("reset-password", flag.ExitOnError)
	username := fs.String("u", "", "Username to reset")
	_ = fs.Parse(args)

	if *username == "" {
		fmt.Println("Usage: dbhub reset-password -u <username>")
		os.Exit(1)
	}

	password := readHiddenPassword(true)

	authSvc, _, closeDB := bootstrapAuth()
	defer closeDB()

	if err := authSvc.ResetPassword(*username, password); err != nil {
		fmt.Printf("Failed to reset password: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Password for user '%s' has been reset.\n", *username)
}

func startServer() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\nCheck .env or DBHUB_ENCRYPTION_KEY.\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Info().Msg("starting dbhub")

	db, err := data.InitDB(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init metadata store")
	}
	defer db.Close()

	connRepo := data.NewConnectionRepo(db)
	tableRepo := data.NewTableRepo(db)
	queryRepo := data.NewQueryRepo(db)
	userRepo := data.NewUserRepo(db)
	apiKeyRepo := data.NewAPIKeyRepo(db)
	auditRepo := data.NewAuditRepo(db)

	cryptoSvc, err := service.NewEncryptionService(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init encryption service")
	}

	authSvc := service.NewAuthService(userRepo, apiKeyRepo)
	registry := engine.NewRegistry()
	dbSvc := service.NewDatabaseService(
		connRepo, tableRepo, queryRepo, auditRepo,
		cryptoSvc, registry, cfg.EngineTimeout, log,
	)

	apiLimiter := api.NewRateLimiter(60, 10, log) // 60 req/min, burst 10
	handler := api.NewHandler(dbSvc, authSvc, db, apiLimiter, log)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler.Routes(),
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Int("port", cfg.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server startup failed")
		}
	}()

	<-stop
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	registry.Close()
	log.Info().Msg("server stopped")
}
