package main

import (
	"os"
	"strconv"
	"time"

	_ "changerequest/api/swagger" // swagger docs
	"changerequest/internal/database"
	"changerequest/internal/handler"
	"changerequest/internal/middleware"
	"changerequest/internal/repository"
	"changerequest/internal/service"
	"changerequest/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           Change Request API
// @version         1.0
// @description     Moderated mutation engine: every edit to a tracked entity is recorded as a change request, reviewed, applied and revertible.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := godotenv.Load("configs/.env"); err != nil {
		logrus.Info("No configs/.env file found or error loading it")
	}

	if os.Getenv("LOG_FORMAT") == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logrus.SetLevel(level)
	}

	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbUser := getEnv("DB_USER", "postgres")
	dbPassword := getEnv("DB_PASSWORD", "postgres")
	dbName := getEnv("DB_NAME", "postgres")
	dbSslMode := getEnv("DB_SSLMODE", "disable")

	dsn := "postgres://" + dbUser + ":" + dbPassword + "@" + dbHost + ":" + dbPort + "/" + dbName + "?sslmode=" + dbSslMode

	db, err := database.NewConnection(dsn)
	if err != nil {
		logrus.WithError(err).Fatal("database connection failed")
	}
	logrus.Info("connected to PostgreSQL")

	// Set up WebSocket Hub
	wsHub := websocket.NewHub()
	go wsHub.Run()

	// Set up dependencies (Repository -> Service -> Handler)
	userRepo := repository.NewUserRepository(db)
	personRepo := repository.NewPersonRepository(db)
	bookRepo := repository.NewBookRepository(db)
	historyRepo := repository.NewChangeRequestRepository(db)
	txManager := repository.NewTransactionManager(db)

	registry := service.NewRegistry()
	registry.MustRegister(service.NewPersonAdapter(personRepo))
	registry.MustRegister(service.NewBookAdapter(bookRepo))

	limiter := service.NewRateLimiter(service.RateLimitConfig{
		MaxPending:        getEnvInt("HISTORY_MAX_PENDING", 10),
		Window:            time.Duration(getEnvInt("HISTORY_WINDOW_MINUTES", 0)) * time.Minute,
		LimitAutoApproved: getEnv("HISTORY_LIMIT_AUTOAPPROVED", "false") == "true",
	}, historyRepo)

	userService := service.NewUserService(userRepo)
	historyService := service.NewHistoryService(
		historyRepo,
		txManager,
		registry,
		service.NewRoleCapabilityResolver(userRepo),
		limiter,
		wsHub,
	)

	// Initialize Handlers
	userHandler := handler.NewUserHandler(userService)
	historyHandler := handler.NewHistoryHandler(historyService)
	bookHandler := handler.NewBookHandler(bookRepo, historyService)
	personHandler := handler.NewPersonHandler(personRepo, historyService)

	// Set up Gin Router
	router := gin.Default()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "OK"})
	})

	// WebSocket endpoint for the moderation event stream
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, middleware.GetJWTSecret())
	})

	// Register API Routes
	userHandler.RegisterRoutes(router.Group(""))
	historyHandler.RegisterRoutes(router.Group(""))
	bookHandler.RegisterRoutes(router.Group(""))
	personHandler.RegisterRoutes(router.Group(""))

	port := getEnv("PORT", "8080")
	logrus.Infof("server listening on :%s", port)
	if err := router.Run(":" + port); err != nil {
		logrus.WithError(err).Fatal("server failed")
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
