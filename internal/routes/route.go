package routes

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joshua-takyi/gatherly/internal/container"
	"github.com/joshua-takyi/gatherly/internal/handlers"
	"github.com/joshua-takyi/gatherly/internal/middleware"
)

// SetupRoutes configures all routes with the dependency container
func SetupRoutes(container *container.Container) *gin.Engine {
	if container.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     container.Config.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	r.Use(middleware.RequestID())
	r.Use(middleware.SessionID())
	r.Use(middleware.StructuredLogger(container.Logger))
	r.Use(middleware.ErrorHandler(container.Logger))
	r.Use(gin.Recovery())

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status":  "OK",
				"service": "gatherly-api",
			})
		})

		// public routes
		v1.POST("/signup", handlers.Register(container.UserService))
		v1.POST("/login", handlers.Login(container.UserService))
		v1.POST("/logout", handlers.Logout())

		// discovery is public; the event read personalizes its view
		// tracking when an identity is present
		v1.GET("/events", handlers.ListEvents(container.EventService))
		v1.GET("/events/:id",
			middleware.OptionalAuth(container.UserService, container.Logger),
			handlers.GetEvent(container.EventService))
		v1.GET("/events/:id/reviews", handlers.ListEventReviews(container.ReviewService))
	}

	protected := v1.Group("/")
	protected.Use(middleware.AuthMiddleware(container.UserService, container.Logger))

	protected.GET("/profile", handlers.Profile())

	userRoutes := protected.Group("/users")
	{
		userRoutes.GET("/:id", handlers.GetUser(container.UserService))
		userRoutes.PATCH("/:id", handlers.UpdateUser(container.UserService))
		userRoutes.DELETE("/:id", handlers.DeleteUser(container.UserService))
	}

	eventRoutes := protected.Group("/events")
	{
		eventRoutes.POST("", handlers.CreateEvent(container.EventService))
		eventRoutes.PUT("/:id", handlers.UpdateEvent(container.EventService))
		eventRoutes.DELETE("/:id", handlers.DeleteEvent(container.EventService))
		eventRoutes.POST("/:id/rsvp", handlers.RsvpEvent(container.EventService))
		eventRoutes.DELETE("/:id/rsvp", handlers.CancelRsvp(container.EventService))
		eventRoutes.POST("/:id/reviews", handlers.CreateReview(container.ReviewService))
		eventRoutes.GET("/:id/stats", handlers.EventViewStats(container.EventService))
	}

	dashboardRoutes := protected.Group("/dashboard")
	{
		dashboardRoutes.GET("/created", handlers.ListMyEvents(container.EventService))
		dashboardRoutes.GET("/attending", handlers.ListAttendingEvents(container.EventService))
	}

	reviewRoutes := protected.Group("/reviews")
	{
		reviewRoutes.PUT("/:id", handlers.UpdateReview(container.ReviewService))
		reviewRoutes.DELETE("/:id", handlers.DeleteReview(container.ReviewService))
	}

	favouriteRoutes := protected.Group("/favourites")
	{
		favouriteRoutes.POST("/:id", handlers.AddToFavourites(container.FavouritesService))
		favouriteRoutes.DELETE("/:id", handlers.RemoveFromFavourites(container.FavouritesService))
		favouriteRoutes.GET("", handlers.GetUserFavourites(container.FavouritesService))
	}

	return r
}
