package container

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/joshua-takyi/gatherly/internal/cache"
	"github.com/joshua-takyi/gatherly/internal/config"
	"github.com/joshua-takyi/gatherly/internal/models"
	"github.com/joshua-takyi/gatherly/internal/services"
	"go.mongodb.org/mongo-driver/mongo"
)

// Container holds all application dependencies
type Container struct {
	Logger        *slog.Logger
	Config        *config.Config
	Cloudinary    *cloudinary.Cloudinary
	MongoDBClient *mongo.Client
	Cache         cache.Cache

	UserService       *services.UserService
	EventService      *services.EventService
	ReviewService     *services.ReviewService
	FavouritesService *services.FavouriteService
}

// NewContainer creates a new dependency injection container
func NewContainer(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Config,
	cld *cloudinary.Cloudinary,
	mongoDBClient *mongo.Client,
) (*Container, error) {
	repo := models.MongodbNewRepo(mongoDBClient)

	appCache, err := buildCache(ctx, cfg, mongoDBClient)
	if err != nil {
		return nil, err
	}

	userService := services.NewUserService(repo, cld)
	eventService := services.NewEventService(repo, repo, appCache, cfg.CacheTTL, cld, logger)
	reviewService := services.NewReviewService(repo, repo, appCache, logger)
	favouriteService := services.NewFavouriteService(repo)

	return &Container{
		Logger:            logger,
		Config:            cfg,
		Cloudinary:        cld,
		MongoDBClient:     mongoDBClient,
		Cache:             appCache,
		UserService:       userService,
		EventService:      eventService,
		ReviewService:     reviewService,
		FavouritesService: favouriteService,
	}, nil
}

func buildCache(ctx context.Context, cfg *config.Config, client *mongo.Client) (cache.Cache, error) {
	switch cfg.CacheBackend {
	case "mongo":
		c, err := cache.NewMongo(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("failed to build mongo cache: %w", err)
		}
		return c, nil
	default:
		return cache.NewMemory(), nil
	}
}

// EnsureIndexes creates the indexes the repositories rely on.
func (c *Container) EnsureIndexes(ctx context.Context) error {
	repo := models.MongodbNewRepo(c.MongoDBClient)
	if err := repo.EnsureEventIndexes(ctx); err != nil {
		return err
	}
	if err := repo.EnsureUserIndexes(ctx); err != nil {
		return err
	}
	return repo.EnsureViewIndexes(ctx)
}
