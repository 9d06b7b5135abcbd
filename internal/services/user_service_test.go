package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/joshua-takyi/gatherly/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeUserRepo struct {
	mu      sync.Mutex
	users   map[string]*models.User
	byEmail map[string]string
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[string]*models.User{}, byEmail: map[string]string{}}
}

func (f *fakeUserRepo) CreateUser(_ context.Context, user *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, taken := f.byEmail[user.Email]; taken {
		return nil, fmt.Errorf("%w: email already registered", models.ErrValidation)
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	stored := *user
	f.users[user.ID.Hex()] = &stored
	f.byEmail[user.Email] = user.ID.Hex()
	return user, nil
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", models.ErrNotFound, id)
	}
	out := *user
	return &out, nil
}

func (f *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("%w: no account for that email", models.ErrNotFound)
	}
	out := *f.users[id]
	return &out, nil
}

func (f *fakeUserRepo) UpdateUser(_ context.Context, id string, set map[string]interface{}) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", models.ErrNotFound, id)
	}
	for k, v := range set {
		switch k {
		case "username":
			user.Username = v.(string)
		case "bio":
			user.Bio = v.(string)
		case "location":
			user.Location = v.(string)
		case "avatar_url":
			user.AvatarURL = v.(string)
		}
	}
	out := *user
	return &out, nil
}

func (f *fakeUserRepo) DeleteUser(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return fmt.Errorf("%w: user %s", models.ErrNotFound, id)
	}
	delete(f.byEmail, user.Email)
	delete(f.users, id)
	return nil
}

func (f *fakeUserRepo) EnsureUserIndexes(_ context.Context) error { return nil }

func registerUser(t *testing.T, svc *UserService) *models.User {
	t.Helper()
	created, err := svc.Register(context.Background(), &models.User{
		Username: "ama",
		Email:    "ama@example.com",
	}, "Str0ng!pass")
	if err != nil {
		t.Fatal(err)
	}
	return created
}

func TestRegisterAndAuthenticate(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	svc := NewUserService(newFakeUserRepo(), nil)

	created := registerUser(t, svc)
	if created.PasswordHash == "Str0ng!pass" || created.PasswordHash == "" {
		t.Error("password must be stored as a bcrypt hash")
	}

	user, token, err := svc.Authenticate(context.Background(), "ama@example.com", "Str0ng!pass")
	if err != nil {
		t.Fatal(err)
	}
	if token == "" || user.ID != created.ID {
		t.Error("authenticate did not return the account and a token")
	}

	if _, _, err := svc.Authenticate(context.Background(), "ama@example.com", "wrong-pass"); !errors.Is(err, models.ErrUnauthenticated) {
		t.Errorf("wrong password = %v, want ErrUnauthenticated", err)
	}
}

func TestRegisterRejectsWeakPasswordAndDuplicateEmail(t *testing.T) {
	svc := NewUserService(newFakeUserRepo(), nil)

	_, err := svc.Register(context.Background(), &models.User{Username: "ama", Email: "ama@example.com"}, "weakpass")
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("weak password = %v, want ErrValidation", err)
	}

	registerUser(t, svc)
	_, err = svc.Register(context.Background(), &models.User{Username: "other", Email: "ama@example.com"}, "Str0ng!pass")
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("duplicate email = %v, want ErrValidation", err)
	}
}

func TestUpdateProfileSelfOnlyAndWhitelist(t *testing.T) {
	svc := NewUserService(newFakeUserRepo(), nil)
	created := registerUser(t, svc)
	id := created.ID.Hex()

	if _, err := svc.UpdateProfile(context.Background(), id, "someone-else", map[string]interface{}{"bio": "hi"}); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("edit of another profile = %v, want ErrForbidden", err)
	}
	if _, err := svc.UpdateProfile(context.Background(), id, id, map[string]interface{}{"email": "new@example.com"}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("editing a protected field = %v, want ErrValidation", err)
	}

	updated, err := svc.UpdateProfile(context.Background(), id, id, map[string]interface{}{"bio": "Go developer in Accra"})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Bio != "Go developer in Accra" {
		t.Errorf("Bio = %q", updated.Bio)
	}
}

func TestUpdateProfileAvatarUpload(t *testing.T) {
	svc := NewUserService(newFakeUserRepo(), nil)
	created := registerUser(t, svc)
	id := created.ID.Hex()

	// An already-hosted URL is stored as-is.
	updated, err := svc.UpdateProfile(context.Background(), id, id, map[string]interface{}{
		"avatar_url": "https://img.example/ama.png",
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.AvatarURL != "https://img.example/ama.png" {
		t.Errorf("AvatarURL = %q", updated.AvatarURL)
	}

	// A data URI needs the upload backend; without one the update is
	// rejected rather than storing a raw payload.
	_, err = svc.UpdateProfile(context.Background(), id, id, map[string]interface{}{
		"avatar_url": "data:image/png;base64,iVBORw0KGgo=",
	})
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("data-URI avatar without uploads configured = %v, want ErrValidation", err)
	}
}
