package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/domainman/internal/model"
)

// PostgresUserRepoはUserRepositoryインターフェースを満たすことを検証
func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

// NewPostgresUserRepoが正しく初期化されることを検証
func TestNewPostgresUserRepo_Initializes(t *testing.T) {
	repo := NewPostgresUserRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

func TestPostgresUserRepo_CreateAndFind(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewPostgresUserRepo(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	email := "octocat@example.com"
	user := &model.User{
		ID:          uuid.NewString(),
		GitHubID:    583231,
		Username:    "octocat",
		DisplayName: "The Octocat",
		Email:       &email,
		AvatarURL:   "https://avatars.example.com/u/583231",
		AccessToken: "gho_first",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.Create(ctx, user); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	byGitHub, err := repo.FindByGitHubID(ctx, 583231)
	if err != nil {
		t.Fatalf("FindByGitHubID returned error: %v", err)
	}
	if byGitHub == nil || byGitHub.ID != user.ID {
		t.Fatalf("FindByGitHubID = %+v, want ID %q", byGitHub, user.ID)
	}
	if byGitHub.Email == nil || *byGitHub.Email != email {
		t.Errorf("Email = %v, want %q", byGitHub.Email, email)
	}

	user.AccessToken = "gho_second"
	user.AvatarURL = "https://avatars.example.com/u/583231?v=2"
	user.UpdatedAt = now.Add(time.Minute)
	if err := repo.UpdateLogin(ctx, user); err != nil {
		t.Fatalf("UpdateLogin returned error: %v", err)
	}

	byID, err := repo.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if byID.AccessToken != "gho_second" {
		t.Errorf("AccessToken = %q, want %q", byID.AccessToken, "gho_second")
	}
	if byID.AvatarURL != user.AvatarURL {
		t.Errorf("AvatarURL = %q, want %q", byID.AvatarURL, user.AvatarURL)
	}
}

func TestPostgresUserRepo_NotFoundReturnsNil(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewPostgresUserRepo(db)
	ctx := context.Background()

	user, err := repo.FindByID(ctx, uuid.NewString())
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil user, got %+v", user)
	}

	user, err = repo.FindByGitHubID(ctx, 42)
	if err != nil {
		t.Fatalf("FindByGitHubID returned error: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil user, got %+v", user)
	}
}

func TestPostgresUserRepo_UpdateLogin_UnknownUser(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewPostgresUserRepo(db)

	err := repo.UpdateLogin(context.Background(), &model.User{ID: uuid.NewString(), UpdatedAt: time.Now()})
	if err == nil {
		t.Error("expected error for unknown user")
	}
}
