package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"smr/internal/models"
	"smr/internal/utils"
)

// ErrInvalidCredentials is returned for unknown users and wrong passwords alike
var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	tokenIssuer   = "smr"
	refreshExpiry = 7 * 24 * time.Hour
)

// AuthService handles reviewer authentication
type AuthService struct {
	db           *gorm.DB
	jwtSecret    string
	accessExpiry time.Duration
	now          func() time.Time
}

// AuthToken represents the authentication tokens
type AuthToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// AuthUser represents user information in the token
type AuthUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// Claims represents JWT claims
type Claims struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	IsAdmin   bool   `json:"is_admin"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// NewAuthService creates a new auth service. A zero accessExpiry defaults to 15 minutes.
func NewAuthService(db *gorm.DB, jwtSecret string, accessExpiry time.Duration) *AuthService {
	if accessExpiry <= 0 {
		accessExpiry = 15 * time.Minute
	}
	return &AuthService{
		db:           db,
		jwtSecret:    jwtSecret,
		accessExpiry: accessExpiry,
		now:          time.Now,
	}
}

// Login authenticates a user and returns tokens
func (a *AuthService) Login(ctx context.Context, username, password string) (*AuthToken, *models.User, error) {
	var user models.User
	if err := a.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	if err := utils.CheckPasswordHash(password, user.PasswordHash); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	now := a.now().UTC()
	if err := a.db.WithContext(ctx).Model(&user).Update("last_login_at", now).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to update login time: %w", err)
	}
	user.LastLoginAt = &now

	token, err := a.issue(user)
	if err != nil {
		return nil, nil, err
	}
	return token, &user, nil
}

// RefreshTokens validates a refresh token and issues a new token pair
func (a *AuthService) RefreshTokens(ctx context.Context, refreshToken string) (*AuthToken, error) {
	claims, err := a.parse(refreshToken, "refresh")
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}

	var user models.User
	if err := a.db.WithContext(ctx).First(&user, claims.UserID).Error; err != nil {
		return nil, fmt.Errorf("user not found: %w", err)
	}
	return a.issue(user)
}

// ValidateToken validates an access token and returns user info
func (a *AuthService) ValidateToken(tokenString string) (*AuthUser, error) {
	claims, err := a.parse(tokenString, "access")
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	return &AuthUser{
		ID:       claims.UserID,
		Username: claims.Username,
		IsAdmin:  claims.IsAdmin,
	}, nil
}

// CreateUser adds a reviewer account after checking the password policy
func (a *AuthService) CreateUser(ctx context.Context, username, email, password string, admin bool) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if err := utils.ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsAdmin:      admin,
	}
	if err := a.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("username %q is taken", username)
		}
		return nil, err
	}
	return user, nil
}

func (a *AuthService) issue(user models.User) (*AuthToken, error) {
	accessToken, err := a.sign(user, "access", a.accessExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	refreshToken, err := a.sign(user, "refresh", refreshExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return &AuthToken{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(a.accessExpiry.Seconds()),
	}, nil
}

func (a *AuthService) sign(user models.User, tokenType string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := &Claims{
		UserID:    user.ID,
		Username:  user.Username,
		IsAdmin:   user.IsAdmin,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.jwtSecret))
}

// parse validates the signature, expiry and token type
func (a *AuthService) parse(tokenString, tokenType string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(a.jwtSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
	)
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("expected %s token", tokenType)
	}

	return claims, nil
}
