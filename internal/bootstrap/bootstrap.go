package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	appControllers "github.com/dkaya/wavelink/internal/app/controllers"
	appMigrations "github.com/dkaya/wavelink/internal/app/migrations"
	appRepos "github.com/dkaya/wavelink/internal/app/repositories"
	appRoutes "github.com/dkaya/wavelink/internal/app/routes"
	appServices "github.com/dkaya/wavelink/internal/app/services"
	"github.com/dkaya/wavelink/internal/config"
	"github.com/dkaya/wavelink/internal/db"
	appMiddleware "github.com/dkaya/wavelink/internal/middleware"
	pkgAuth "github.com/dkaya/wavelink/internal/pkg/auth"
	"github.com/dkaya/wavelink/internal/pkg/helpers"
	"github.com/dkaya/wavelink/internal/pkg/logger"
	"github.com/dkaya/wavelink/internal/pkg/realtime"
)

// Dependencies holds all the application dependencies
type Dependencies struct {
	ChatService            appServices.ChatService
	ConversationService    appServices.ConversationService
	ReadService            appServices.ReadService
	PresenceService        appServices.PresenceService
	ConversationController *appControllers.ConversationController
	ChatController         *appControllers.ChatController
	PresenceController     *appControllers.PresenceController
	CommunityController    *appControllers.CommunityController
	AuthMiddleware         *appMiddleware.AuthMiddleware
	Repos                  *appRepos.Repositories
	JWTService             *pkgAuth.JWTService
	Registry               *realtime.Registry
	Hub                    *realtime.Hub
	RealtimeHandler        *realtime.Handler
	Logger                 zerolog.Logger
}

// LoadConfigAndSetupLogger loads configuration and initializes the logger.
func LoadConfigAndSetupLogger() (*config.Config, zerolog.Logger, error) {
	configPath := filepath.Join("configs", "config.yaml")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load configuration")
		return nil, zerolog.Logger{}, err
	}

	logLevel := logger.LogLevel(strings.ToLower(cfg.Logging.Level))
	prettyLog := strings.ToLower(cfg.Logging.Format) == "text"

	logger.Configure(logger.Config{
		Level:  logLevel,
		Pretty: prettyLog,
	})

	lgr := log.Logger
	lgr.Info().Str("logLevel", string(logLevel)).Str("logFormat", cfg.Logging.Format).Msg("Logger configured")
	return cfg, lgr, nil
}

// SetupDatabase establishes the database connection and runs migrations.
func SetupDatabase(cfg *config.Config, lgr zerolog.Logger) (*pgxpool.Pool, error) {
	lgr.Info().Msg("Establishing database connection...")
	database, err := db.NewPostgresDB(cfg)
	if err != nil {
		lgr.Error().Err(err).Msg("Failed to connect to database")
		return nil, err
	}
	dbPool := database.Pool

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbPool.Ping(ctx); err != nil {
		lgr.Error().Err(err).Msg("Failed to ping database")
		dbPool.Close()
		return nil, err
	}
	lgr.Info().Msg("Database connection successfully established.")

	lgr.Info().Msg("Running database migrations...")
	migrator := appMigrations.NewMigrator(dbPool, lgr)

	migrationsDir := "migrations"
	if _, err := os.Stat(migrationsDir); os.IsNotExist(err) {
		lgr.Error().Str("path", migrationsDir).Msg("Migrations directory not found")
		return nil, fmt.Errorf("migrations directory not found at %s: %w", migrationsDir, err)
	}

	if err := migrator.MigrateFromDirectory(migrationsDir); err != nil {
		lgr.Error().Err(err).Msg("Database migration error")
		return nil, fmt.Errorf("database migrations failed: %w", err)
	}

	lgr.Info().Msg("Database migrations successfully applied.")

	return dbPool, nil
}

// BuildDependencies initializes repositories, realtime components, services
// and controllers.
func BuildDependencies(cfg *config.Config, dbPool *pgxpool.Pool, lgr zerolog.Logger) (*Dependencies, error) {
	deps := &Dependencies{Logger: lgr}

	deps.Repos = appRepos.NewRepositories(dbPool)

	deps.JWTService = pkgAuth.NewJWTService(pkgAuth.JWTConfig{
		SecretKey:      cfg.JWT.Secret,
		AccessTokenExp: helpers.ParseDuration(cfg.JWT.AccessTokenExpiration, 1*time.Hour),
		TokenIssuer:    cfg.JWT.Issuer,
	})

	// Realtime core: registry tracks connections per identity, hub carries
	// conversation topics, fanout bridges services to both.
	deps.Registry = realtime.NewRegistry(deps.Repos.PresenceRepository, lgr)
	deps.Hub = realtime.NewHub(lgr)
	fanout := realtime.NewFanout(deps.Registry, deps.Hub, lgr)

	deps.ChatService = appServices.NewChatService(
		deps.Repos.MessageRepository,
		deps.Repos.MemberRepository,
		fanout,
		lgr,
	)
	deps.ReadService = appServices.NewReadService(
		deps.Repos.ReadRepository,
		deps.Repos.MessageRepository,
		deps.Repos.MemberRepository,
		fanout,
		lgr,
	)
	deps.ConversationService = appServices.NewConversationService(
		deps.Repos.ConversationRepository,
		deps.Repos.MemberRepository,
		deps.Repos.UserRepository,
		deps.Repos.CommunityMemberRepository,
		deps.ReadService,
		fanout,
		lgr,
	)
	deps.PresenceService = appServices.NewPresenceService(
		deps.Repos.PresenceRepository,
		deps.Repos.UserRepository,
		deps.Registry,
		lgr,
	)

	realtimeRouter := realtime.NewRouter(
		deps.Registry,
		deps.Hub,
		deps.JWTService,
		deps.ChatService,
		deps.ReadService,
		deps.ChatService,
		lgr,
	)
	deps.RealtimeHandler = realtime.NewHandler(
		deps.Registry,
		deps.Hub,
		realtimeRouter,
		helpers.ParseDuration(cfg.Realtime.HeartbeatInterval, 30*time.Second),
		cfg.Realtime.MissedAckThreshold,
		cfg.Realtime.SendBufferSize,
		lgr,
	)

	deps.AuthMiddleware = appMiddleware.NewAuthMiddleware(deps.JWTService)

	deps.ConversationController = appControllers.NewConversationController(deps.ConversationService)
	deps.ChatController = appControllers.NewChatController(deps.ChatService, deps.ReadService)
	deps.PresenceController = appControllers.NewPresenceController(deps.PresenceService)
	deps.CommunityController = appControllers.NewCommunityController(deps.ConversationService)

	return deps, nil
}

// SetupRouter configures the Gin engine with middleware and routes.
func SetupRouter(cfg *config.Config, deps *Dependencies, lgr zerolog.Logger) *gin.Engine {
	if strings.ToLower(cfg.Server.Mode) == "production" {
		gin.SetMode(gin.ReleaseMode)
		lgr.Info().Msg("Setting Gin mode to release")
	} else {
		gin.SetMode(gin.DebugMode)
		lgr.Info().Msg("Setting Gin mode to debug")
	}

	router := gin.Default()

	appRoutes.SetupRouter(router,
		deps.ConversationController,
		deps.ChatController,
		deps.PresenceController,
		deps.CommunityController,
		deps.RealtimeHandler,
		deps.AuthMiddleware,
	)

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong", "status": "success"})
	})

	return router
}
