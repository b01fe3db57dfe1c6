package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"

	"kostfinder/internal/api/handlers"
	"kostfinder/internal/api/middleware"
	"kostfinder/internal/auth"
	"kostfinder/internal/cache"
	"kostfinder/internal/config"
	"kostfinder/internal/email"
	"kostfinder/internal/services"
	"kostfinder/internal/storage"
)

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(
	cfg *config.Config,
	logger *logrus.Logger,
	db *mongo.Database,
	rdb *redis.Client,
	store handlers.IListingReader,
	imageStore storage.IImageStore,
	taskClient handlers.IAsynqClient,
) *gin.Engine {
	userService := services.NewUserService(db, logger)
	listingService := services.NewListingService(db, logger)
	denyList := auth.NewRedisDenyList(rdb)
	authEvents := auth.NewRedisEvents(rdb, logger)
	recent := cache.NewRecentlyViewed(rdb, cfg.RecentlyViewedLimit)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	rateLimiter := middleware.NewRateLimiterMiddleware(cfg, logger)

	// order matters
	r.Use(middleware.CORSMiddleware())
	r.Use(rateLimiter.Limit())

	jsonApiHandler := handlers.NewJsonApiHandler(
		cfg, logger, taskClient, userService, listingService, store, imageStore, recent, denyList, authEvents)
	restListingHandler := handlers.NewRestListingHandler(store, cfg.CheapPriceLimit, logger)
	restUserHandler := handlers.NewRestUserHandler(userService, store)
	restImageHandler := handlers.NewRestImageHandler(cfg, imageStore, taskClient, logger)

	v1 := r.Group("/v1")
	{
		v1.POST("/api", jsonApiHandler.HandleRequest)

		v1.GET("/listing", restListingHandler.SearchListings)
		v1.GET("/listing/views", restListingHandler.GetViews)
		v1.GET("/listing/filters", restListingHandler.GetFilterOptions)
		v1.GET("/listing/stream", restListingHandler.StreamListings)
		v1.GET("/listing/:id", restListingHandler.GetListingByID)

		v1.GET("/user/:id", restUserHandler.GetUserByID)
		v1.GET("/image/:id", restImageHandler.GetImage)

		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		authRequired := v1.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret, denyList, logger))
		{
			authRequired.POST("/upload", restImageHandler.Upload)
			authRequired.POST("/image/:id/process", middleware.AdminMiddleware(), restImageHandler.Reprocess)
		}
	}

	return r
}

// requestLogger writes one structured line per request.
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		}).Debug("Request served")
	}
}

// SetupServiceRouter configures and returns the service Gin engine.
func SetupServiceRouter(logger *logrus.Logger, rdb *redis.Client, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			logger.Info("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
			default:
				logger.Warn("Shutdown channel already signaled or blocked")
			}
		case "getTestEmail":
			var args []string // ["template_id", "email"]
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 2 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [templateID, email]"})
				return
			}
			redisKey := email.MockEmailKey(args[1], args[0])

			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			defer cancel()
			emailJsonData, found, err := pollKey(ctx, rdb, redisKey, 10, 200*time.Millisecond)
			if err != nil {
				logger.WithError(err).WithField("key", redisKey).Error("Service API: Redis error")
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
				return
			}
			if !found {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test email not found in Redis for key %s", redisKey)})
				return
			}

			var emailData map[string]interface{}
			if err := json.Unmarshal([]byte(emailJsonData), &emailData); err != nil {
				logger.WithError(err).WithField("key", redisKey).Error("Service API: bad stored email data")
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored email data"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "data": emailData})

		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}

// pollKey waits for key to appear, then reads and deletes it.
func pollKey(ctx context.Context, rdb *redis.Client, key string, attempts int, interval time.Duration) (string, bool, error) {
	for i := 0; i < attempts; i++ {
		val, err := rdb.GetDel(ctx, key).Result()
		if err == nil {
			return val, true, nil
		}
		if !errors.Is(err, redis.Nil) {
			return "", false, err
		}
		select {
		case <-ctx.Done():
			return "", false, nil
		case <-time.After(interval):
		}
	}
	return "", false, nil
}
