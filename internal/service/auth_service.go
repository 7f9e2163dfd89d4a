package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/windfall/pronunciation_service/internal/errors"
	"github.com/windfall/pronunciation_service/internal/model"
	"github.com/windfall/pronunciation_service/internal/repository"
)

// AuthConfig configures the mock identity flow.
type AuthConfig struct {
	JWTSecret          string
	SessionTTL         time.Duration
	OTPTTL             time.Duration
	MockOTPCode        string
	ActivationCodePool int
}

// AuthService implements the phone + code login, activation codes and
// single-session tokens.
type AuthService struct {
	repo repository.SessionRepository
	cfg  AuthConfig
	now  func() time.Time
	log  zerolog.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(repo repository.SessionRepository, cfg AuthConfig, log zerolog.Logger) *AuthService {
	return &AuthService{
		repo: repo,
		cfg:  cfg,
		now:  time.Now,
		log:  log,
	}
}

// AuthResponse is returned on successful verification.
type AuthResponse struct {
	Identifier string `json:"identifier"`
	Token      string `json:"token"`
	Activated  bool   `json:"activated"`
}

var (
	phonePattern = regexp.MustCompile(`^\d{11}$`)
	codePattern  = regexp.MustCompile(`^\d{6}$`)
)

const (
	msgInvalidPhone  = "请输入有效的11位手机号码。"
	msgInvalidCode   = "请输入6位数字验证码。"
	msgWrongCode     = "验证码错误，请重试。"
	msgUserNotFound  = "未找到用户，请重新登录。"
	msgInvalidToken  = "登录已失效，请重新登录。"
	tokenIssuer      = "pronunciation_service"
	sessionClaimName = "sid"
)

// SendOTP stores the mock one-time code for phone.
func (s *AuthService) SendOTP(ctx context.Context, phone string) error {
	if !phonePattern.MatchString(phone) {
		return errors.Validation(msgInvalidPhone)
	}
	if err := s.repo.SaveOTP(ctx, phone, s.cfg.MockOTPCode, s.cfg.OTPTTL); err != nil {
		return errors.InternalWrap("failed to store otp", err)
	}
	s.log.Info().Str("phone", maskPhone(phone)).Msg("OTP issued")
	return nil
}

// VerifyOTP consumes a matching code, creates the user on first login and
// opens a session.
func (s *AuthService) VerifyOTP(ctx context.Context, phone, code string) (*AuthResponse, error) {
	if !phonePattern.MatchString(phone) {
		return nil, errors.Validation(msgInvalidPhone)
	}
	if !codePattern.MatchString(code) {
		return nil, errors.Validation(msgInvalidCode)
	}

	stored, err := s.repo.GetOTP(ctx, phone)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.Unauthorized(msgWrongCode)
		}
		return nil, errors.InternalWrap("failed to read otp", err)
	}
	if stored != code {
		return nil, errors.Unauthorized(msgWrongCode)
	}
	if err := s.repo.DeleteOTP(ctx, phone); err != nil {
		return nil, errors.InternalWrap("failed to consume otp", err)
	}

	user, err := s.repo.GetUser(ctx, phone)
	if stderrors.Is(err, repository.ErrNotFound) {
		user = &model.User{Identifier: phone, CreatedAt: s.now().UTC()}
		if err := s.repo.SaveUser(ctx, user); err != nil {
			return nil, errors.InternalWrap("failed to create user", err)
		}
	} else if err != nil {
		return nil, errors.InternalWrap("failed to load user", err)
	}

	session := &model.Session{
		ID:         uuid.NewString(),
		Identifier: user.Identifier,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.CreateSession(ctx, session, s.cfg.SessionTTL); err != nil {
		return nil, errors.InternalWrap("failed to create session", err)
	}

	token, err := s.generateToken(session)
	if err != nil {
		return nil, errors.InternalWrap("failed to generate token", err)
	}

	return &AuthResponse{Identifier: user.Identifier, Token: token, Activated: user.Activated}, nil
}

// VerifyActivationCode consumes an unused code from the pool and marks the
// user activated. Codes outside the pool or already used return false.
func (s *AuthService) VerifyActivationCode(ctx context.Context, identifier, code string) (bool, error) {
	user, err := s.repo.GetUser(ctx, identifier)
	if stderrors.Is(err, repository.ErrNotFound) {
		return false, errors.New(errors.ErrNotFound, msgUserNotFound)
	}
	if err != nil {
		return false, errors.InternalWrap("failed to load user", err)
	}

	if !codePattern.MatchString(code) {
		return false, nil
	}
	n, err := strconv.Atoi(code)
	if err != nil || n >= s.cfg.ActivationCodePool {
		return false, nil
	}

	claimed, err := s.repo.ClaimActivationCode(ctx, code, identifier)
	if err != nil {
		return false, errors.InternalWrap("failed to claim activation code", err)
	}
	if !claimed {
		return false, nil
	}

	user.Activated = true
	if err := s.repo.SaveUser(ctx, user); err != nil {
		return false, errors.InternalWrap("failed to update user", err)
	}
	s.log.Info().Str("phone", maskPhone(identifier)).Msg("User activated")
	return true, nil
}

// CurrentUser resolves the user behind a token. It returns nil without an
// error when the token is invalid or the session has been closed.
func (s *AuthService) CurrentUser(ctx context.Context, token string) (*model.User, error) {
	claims, err := s.ValidateToken(token)
	if err != nil {
		return nil, nil
	}
	if _, err := s.repo.GetSession(ctx, claims.SessionID); err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.InternalWrap("failed to load session", err)
	}
	user, err := s.repo.GetUser(ctx, claims.Identifier)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.InternalWrap("failed to load user", err)
	}
	return user, nil
}

// Logout closes the session behind a token. Invalid tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	claims, err := s.ValidateToken(token)
	if err != nil {
		return nil
	}
	if err := s.repo.DeleteSession(ctx, claims.SessionID); err != nil {
		return errors.InternalWrap("failed to delete session", err)
	}
	return nil
}

// TokenClaims is the subset of token claims the service relies on.
type TokenClaims struct {
	Identifier string
	SessionID  string
}

// ValidateToken parses and validates a signed session token.
func (s *AuthService) ValidateToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, errors.Wrap(errors.ErrUnauthorized, msgInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.Unauthorized(msgInvalidToken)
	}
	sub, _ := claims["sub"].(string)
	sid, _ := claims[sessionClaimName].(string)
	if sub == "" || sid == "" {
		return nil, errors.Unauthorized(msgInvalidToken)
	}
	return &TokenClaims{Identifier: sub, SessionID: sid}, nil
}

// Authenticate validates a token and checks that its session is open.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*TokenClaims, error) {
	claims, err := s.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetSession(ctx, claims.SessionID); err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.Unauthorized(msgInvalidToken)
		}
		return nil, errors.InternalWrap("failed to load session", err)
	}
	return claims, nil
}

func (s *AuthService) generateToken(session *model.Session) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"iss":            tokenIssuer,
		"sub":            session.Identifier,
		sessionClaimName: session.ID,
		"iat":            now.Unix(),
		"exp":            now.Add(s.cfg.SessionTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// maskPhone keeps the first three and last four digits.
func maskPhone(phone string) string {
	if len(phone) != 11 {
		return "***"
	}
	return phone[:3] + "****" + phone[7:]
}
