package user

import "errors"

// ErrNotFound is returned when a lookup resolves to no user.
var ErrNotFound = errors.New("user not found")

type User struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
	Password  string `json:"-"`
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ID          int    `json:"id"`
	Username    string `json:"username"`
	AvatarURL   string `json:"avatar_url"`
}
