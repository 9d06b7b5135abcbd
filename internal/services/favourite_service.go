package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/joshua-takyi/gatherly/internal/identity"
	"github.com/joshua-takyi/gatherly/internal/models"
)

type FavouriteService struct {
	favouritesRepo models.FavouriteRepo
}

func NewFavouriteService(favouritesRepo models.FavouriteRepo) *FavouriteService {
	return &FavouriteService{
		favouritesRepo: favouritesRepo,
	}
}

// AddToFavourites is idempotent: favouriting the same event twice
// returns the same set.
func (fs *FavouriteService) AddToFavourites(ctx context.Context, userID, eventID string) (*models.Favourite, error) {
	userID = identity.Canonicalize(userID)
	if userID == "" {
		return nil, models.ErrUnauthenticated
	}
	if strings.TrimSpace(eventID) == "" {
		return nil, fmt.Errorf("%w: event ID cannot be empty", models.ErrValidation)
	}

	return fs.favouritesRepo.AddToFavourites(ctx, userID, eventID)
}

func (fs *FavouriteService) RemoveFromFavourites(ctx context.Context, userID, eventID string) error {
	userID = identity.Canonicalize(userID)
	if userID == "" {
		return models.ErrUnauthenticated
	}
	if strings.TrimSpace(eventID) == "" {
		return fmt.Errorf("%w: event ID cannot be empty", models.ErrValidation)
	}

	return fs.favouritesRepo.RemoveFromFavourites(ctx, userID, eventID)
}

func (fs *FavouriteService) GetFavouritesByUserID(ctx context.Context, userID string) (*models.Favourite, error) {
	userID = identity.Canonicalize(userID)
	if userID == "" {
		return nil, models.ErrUnauthenticated
	}

	return fs.favouritesRepo.GetFavouritesByUserID(ctx, userID)
}
