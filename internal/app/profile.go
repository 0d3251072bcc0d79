package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"triad/api/internal/avatar"
	"triad/api/internal/validation"
)

type ProfileView struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	AvatarURL   string `json:"avatarUrl"`
}

type ProfileInput struct {
	FirstName string `json:"firstName" validate:"max=100"`
	LastName  string `json:"lastName" validate:"max=100"`
}

// Profile returns the account and profile fields. A user created before
// profiles existed gets an empty profile rather than 404.
func (s *Service) Profile(ctx context.Context, userID string) (ProfileView, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return ProfileView{}, err
	}
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return ProfileView{}, err
	}
	return ProfileView{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		FirstName:   profile.FirstName,
		LastName:    profile.LastName,
		AvatarURL:   profile.AvatarURL,
	}, nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, input ProfileInput) (ProfileView, error) {
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	if err := validation.Struct(input); err != nil {
		return ProfileView{}, err
	}
	if err := s.store.UpdateProfileName(ctx, userID, input.FirstName, input.LastName); err != nil {
		return ProfileView{}, err
	}
	return s.Profile(ctx, userID)
}

func (s *Service) UploadAvatar(ctx context.Context, userID string, data []byte) (string, error) {
	if s.avatars == nil {
		return "", errAvatarUnavailable
	}
	if len(data) > avatar.MaxBytes {
		return "", avatar.ErrTooLarge
	}
	avatarURL, err := s.avatars.Upload(ctx, userID, data)
	if err != nil {
		return "", err
	}
	if err := s.store.SetAvatarURL(ctx, userID, avatarURL); err != nil {
		return "", err
	}
	return avatarURL, nil
}
