package user

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Store is what the service needs from the persistence side. *Repository
// satisfies it; tests substitute an in-memory stub.
type Store interface {
	CreateUser(ctx context.Context, u *User) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByID(ctx context.Context, id int) (*User, error)
	Search(ctx context.Context, query string) ([]User, error)
	List(ctx context.Context, excludeID int) ([]User, error)
}

type Service struct {
	store     Store
	jwtSecret string
}

type Claims struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func NewService(store Store, secret string) *Service {
	return &Service{
		store:     store,
		jwtSecret: secret,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &User{
		Username: req.Username,
		Password: string(hashedPwd),
	}

	if _, err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	return &User{ID: u.ID, Username: u.Username, AvatarURL: u.AvatarURL}, nil
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	u, err := s.store.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID:       u.ID,
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "dmchat",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	})

	ss, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken: ss,
		ID:          u.ID,
		Username:    u.Username,
		AvatarURL:   u.AvatarURL,
	}, nil
}

// ValidateToken returns the user id and username carried by a session token.
func (s *Service) ValidateToken(tokenString string) (int, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return 0, "", err
	}
	if !token.Valid {
		return 0, "", errors.New("invalid token")
	}

	return claims.ID, claims.Username, nil
}

func (s *Service) Search(ctx context.Context, query string) ([]User, error) {
	return s.store.Search(ctx, query)
}

func (s *Service) List(ctx context.Context, excludeID int) ([]User, error) {
	return s.store.List(ctx, excludeID)
}
