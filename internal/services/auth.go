package services

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	redisclient "github.com/bandforge/ielts-backend/internal/clients/redis"
	userrepo "github.com/bandforge/ielts-backend/internal/data/repos/user"
	types "github.com/bandforge/ielts-backend/internal/domain"
	"github.com/bandforge/ielts-backend/internal/pkg/apperr"
	"github.com/bandforge/ielts-backend/internal/pkg/ctxutil"
	"github.com/bandforge/ielts-backend/internal/pkg/dbctx"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
)

type JWTClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

type AuthService interface {
	Register(dbc dbctx.Context, email, password, locale string) (*types.User, string, error)
	Login(dbc dbctx.Context, email, password string) (*types.User, string, error)
	Logout(ctx context.Context) error
	// MintForUser creates a fresh session and JWT for a user whose identity
	// was proven out of band, e.g. through a redeemed handoff token.
	MintForUser(ctx context.Context, userID uuid.UUID) (string, error)
	// SetContextFromToken validates the JWT, checks the backing session and
	// attaches the resolved identity to the context.
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
}

type authService struct {
	db        *gorm.DB
	log       *logger.Logger
	userRepo  userrepo.UserRepo
	sessions  redisclient.SessionStore
	jwtSecret string
}

func NewAuthService(
	db *gorm.DB,
	baseLog *logger.Logger,
	userRepo userrepo.UserRepo,
	sessions redisclient.SessionStore,
) (AuthService, error) {
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET_KEY"))
	if secret == "" {
		return nil, fmt.Errorf("missing JWT_SECRET_KEY")
	}
	return &authService{
		db:        db,
		log:       baseLog.With("service", "AuthService"),
		userRepo:  userRepo,
		sessions:  sessions,
		jwtSecret: secret,
	}, nil
}

func (as *authService) Register(dbc dbctx.Context, email, password, locale string) (*types.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, "", fmt.Errorf("%w: invalid email", apperr.ErrValidation)
	}
	if len(password) < 8 {
		return nil, "", fmt.Errorf("%w: password too short", apperr.ErrValidation)
	}
	if locale == "" {
		locale = "en"
	}

	existing, err := as.userRepo.GetByEmail(dbc, email)
	if err != nil {
		return nil, "", err
	}
	if existing != nil {
		return nil, "", fmt.Errorf("%w: email already registered", apperr.ErrValidation)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	u := &types.User{
		ID:       uuid.New(),
		Email:    email,
		Password: string(hashed),
		Locale:   locale,
	}
	if err := as.userRepo.Create(dbc, u); err != nil {
		return nil, "", err
	}

	token, err := as.mintToken(dbc.Ctx, u.ID)
	if err != nil {
		return nil, "", err
	}
	as.log.Info("User registered", "user_id", u.ID.String())
	return u, token, nil
}

func (as *authService) Login(dbc dbctx.Context, email, password string) (*types.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := as.userRepo.GetByEmail(dbc, email)
	if err != nil {
		return nil, "", err
	}
	if u == nil {
		return nil, "", apperr.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		return nil, "", apperr.ErrUnauthorized
	}

	token, err := as.mintToken(dbc.Ctx, u.ID)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

func (as *authService) Logout(ctx context.Context) error {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.SessionID == uuid.Nil {
		return apperr.ErrUnauthorized
	}
	return as.sessions.Delete(ctx, rd.SessionID)
}

func (as *authService) mintToken(ctx context.Context, userID uuid.UUID) (string, error) {
	sess, err := as.sessions.Create(ctx, userID)
	if err != nil {
		return "", err
	}

	claims := JWTClaims{
		SessionID: sess.ID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(12 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(as.jwtSecret))
}

func (as *authService) MintForUser(ctx context.Context, userID uuid.UUID) (string, error) {
	return as.mintToken(ctx, userID)
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	if tokenString == "" {
		return ctx, apperr.ErrUnauthorized
	}

	parsedToken, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(as.jwtSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return ctx, fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	}
	claims, ok := parsedToken.Claims.(*JWTClaims)
	if !ok || !parsedToken.Valid {
		return ctx, apperr.ErrUnauthorized
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ctx, fmt.Errorf("%w: bad subject", apperr.ErrUnauthorized)
	}
	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return ctx, fmt.Errorf("%w: bad session id", apperr.ErrUnauthorized)
	}

	sess, err := as.sessions.Get(ctx, sessionID)
	if err != nil {
		return ctx, err
	}
	if sess.UserID != userID {
		return ctx, apperr.ErrUnauthorized
	}
	if err := as.sessions.Renew(ctx, sessionID); err != nil {
		return ctx, err
	}

	rd := &ctxutil.RequestData{
		UserID:      userID,
		SessionID:   sessionID,
		TokenString: tokenString,
	}
	return ctxutil.WithRequestData(ctx, rd), nil
}
