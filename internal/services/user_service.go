package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/joshua-takyi/gatherly/internal/helpers"
	"github.com/joshua-takyi/gatherly/internal/models"
	"golang.org/x/crypto/bcrypt"
)

const AccessTokenTTL = 24 * time.Hour

type UserService struct {
	userRepo models.UserRepo
	cld      *cloudinary.Cloudinary
}

func NewUserService(userRepo models.UserRepo, cld *cloudinary.Cloudinary) *UserService {
	return &UserService{
		userRepo: userRepo,
		cld:      cld,
	}
}

func (us *UserService) Register(ctx context.Context, user *models.User, password string) (*models.User, error) {
	if err := models.Validate.Struct(user); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	if !helpers.IsPasswordStrong(password) {
		return nil, fmt.Errorf("%w: password is not strong enough", models.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %v", err)
	}
	user.PasswordHash = string(hash)

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	return us.userRepo.CreateUser(ctx, user)
}

// Authenticate verifies credentials and issues an access token.
func (us *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, string, error) {
	if err := models.Validate.Var(email, "required,email"); err != nil {
		return nil, "", fmt.Errorf("%w: invalid email format", models.ErrValidation)
	}
	if err := models.Validate.Var(password, "required,min=8"); err != nil {
		return nil, "", fmt.Errorf("%w: invalid password format", models.ErrValidation)
	}

	user, err := us.userRepo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, "", fmt.Errorf("%w: invalid email or password", models.ErrUnauthenticated)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", fmt.Errorf("%w: invalid email or password", models.ErrUnauthenticated)
	}

	token, err := helpers.IssueToken(user.ID.Hex(), user.Email, user.Username, AccessTokenTTL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue token: %v", err)
	}

	return user, token, nil
}

func (us *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	return us.userRepo.GetUserByID(ctx, id)
}

// UpdateProfile applies a partial profile update. Only the listed
// fields may be written; preferences replace wholesale.
func (us *UserService) UpdateProfile(ctx context.Context, id, requesterID string, fields map[string]interface{}) (*models.User, error) {
	if requesterID == "" {
		return nil, models.ErrUnauthenticated
	}
	if id != requesterID {
		return nil, fmt.Errorf("%w: you can only edit your own profile", models.ErrForbidden)
	}

	allowed := map[string]bool{
		"username": true, "bio": true, "location": true,
		"avatar_url": true, "preferences": true,
	}
	set := map[string]interface{}{}
	for k, v := range fields {
		if !allowed[k] {
			return nil, fmt.Errorf("%w: field %q cannot be updated", models.ErrValidation, k)
		}
		set[k] = v
	}
	if len(set) == 0 {
		return us.userRepo.GetUserByID(ctx, id)
	}

	// An avatar supplied as a data URI or local path goes to Cloudinary
	// first; the stored profile only ever carries the hosted URL.
	if raw, ok := set["avatar_url"].(string); ok && raw != "" && !strings.HasPrefix(raw, "https://") {
		hosted, err := us.uploadAvatar(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: avatar upload failed: %v", models.ErrValidation, err)
		}
		set["avatar_url"] = hosted
	}

	return us.userRepo.UpdateUser(ctx, id, set)
}

func (us *UserService) uploadAvatar(ctx context.Context, image string) (string, error) {
	if us.cld == nil {
		return "", fmt.Errorf("image uploads are not configured")
	}
	urls, _, err := helpers.UploadImages(ctx, us.cld, []string{image}, helpers.AvatarFolder)
	if err != nil {
		return "", err
	}
	if len(urls) == 0 {
		return "", fmt.Errorf("no image was uploaded")
	}
	return urls[0], nil
}

func (us *UserService) DeleteUser(ctx context.Context, id, requesterID string) error {
	if requesterID == "" {
		return models.ErrUnauthenticated
	}
	if id != requesterID {
		return fmt.Errorf("%w: you can only delete your own account", models.ErrForbidden)
	}
	return us.userRepo.DeleteUser(ctx, id)
}
