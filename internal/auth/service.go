package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"devinbox/backend/internal/auth/jwt"
	"devinbox/backend/internal/domain"
	"devinbox/backend/internal/storage"
)

var (
	// ErrSetupComplete 初始账号已存在，安装流程不可重复
	ErrSetupComplete = errors.New("setup already completed")
	// ErrInvalidCredentials 凭证无效
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountInactive 账号已被禁用
	ErrAccountInactive = errors.New("account is inactive")
	// ErrAccountNotFound 账号不存在
	ErrAccountNotFound = errors.New("account not found")
	// ErrTokenRevoked 令牌已被拉黑
	ErrTokenRevoked = errors.New("token revoked")
)

// Service 认证服务，负责安装、登录与令牌生命周期。
type Service struct {
	accounts storage.AccountRepository
	tokens   *jwt.Manager
	denylist storage.JWTRepository
	log      *zap.Logger
}

// NewService 创建认证服务
func NewService(accounts storage.AccountRepository, tokens *jwt.Manager, denylist storage.JWTRepository, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		accounts: accounts,
		tokens:   tokens,
		denylist: denylist,
		log:      log,
	}
}

// NeedsSetup 返回是否还没有任何账号。
func (s *Service) NeedsSetup() (bool, error) {
	count, err := s.accounts.CountAccounts()
	if err != nil {
		return false, fmt.Errorf("count accounts: %w", err)
	}
	return count == 0, nil
}

// Setup 创建初始管理员账号。只有在系统中还没有任何账号时才允许，
// 之后的账号只能由管理员创建。
func (s *Service) Setup(req domain.SetupRequest) (*domain.Account, *jwt.TokenPair, error) {
	needed, err := s.NeedsSetup()
	if err != nil {
		return nil, nil, err
	}
	if !needed {
		return nil, nil, ErrSetupComplete
	}

	account, err := s.newAccount(req.Email, req.Name, req.Password, domain.RoleAdmin)
	if err != nil {
		return nil, nil, err
	}

	if err := s.accounts.CreateAccount(account); err != nil {
		if errors.Is(err, storage.ErrAccountExists) {
			// 并发安装时先到者胜出
			return nil, nil, ErrSetupComplete
		}
		return nil, nil, fmt.Errorf("create account: %w", err)
	}

	pair, err := s.tokens.GenerateTokenPair(account.ID, account.Email, string(account.Role))
	if err != nil {
		return nil, nil, fmt.Errorf("generate tokens: %w", err)
	}

	s.log.Info("initial admin account created", zap.String("account_id", account.ID))
	return account, pair, nil
}

// CreateAccount 创建开发者账号，管理员专用。
func (s *Service) CreateAccount(email, name, password string, role domain.AccountRole) (*domain.Account, error) {
	account, err := s.newAccount(email, name, password, role)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.CreateAccount(account); err != nil {
		return nil, err
	}
	return account, nil
}

func (s *Service) newAccount(email, name, password string, role domain.AccountRole) (*domain.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := domain.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := domain.ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	return &domain.Account{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Login 邮箱加密码登录，成功时返回账号与令牌对。
func (s *Service) Login(req domain.LoginRequest) (*domain.Account, *jwt.TokenPair, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	account, err := s.accounts.GetAccountByEmail(email)
	if err != nil {
		// 不区分账号不存在与密码错误
		return nil, nil, ErrInvalidCredentials
	}

	if !account.IsActive {
		return nil, nil, ErrAccountInactive
	}

	if !CheckPassword(req.Password, account.PasswordHash) {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.tokens.GenerateTokenPair(account.ID, account.Email, string(account.Role))
	if err != nil {
		return nil, nil, fmt.Errorf("generate tokens: %w", err)
	}

	_ = s.accounts.UpdateLastLogin(account.ID)

	return account, pair, nil
}

// Refresh 用刷新令牌换取新的访问令牌。
func (s *Service) Refresh(refreshToken string) (string, error) {
	claims, err := s.tokens.ValidateToken(refreshToken)
	if err != nil {
		return "", err
	}

	revoked, err := s.denylist.IsBlacklisted(claims.ID)
	if err != nil {
		s.log.Warn("token denylist check failed", zap.Error(err))
	} else if revoked {
		return "", ErrTokenRevoked
	}

	return s.tokens.RefreshAccessToken(refreshToken)
}

// Logout 拉黑当前令牌，黑名单保留到令牌自然过期为止。
func (s *Service) Logout(tokenString string) error {
	claims, err := s.tokens.ValidateToken(tokenString)
	if err != nil {
		// 已过期或无效的令牌无需拉黑
		return nil
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	return s.denylist.AddToBlacklist(claims.ID, ttl)
}

// Authenticate 验证访问令牌并返回对应账号。
func (s *Service) Authenticate(tokenString string) (*domain.Account, *jwt.Claims, error) {
	claims, err := s.tokens.ValidateToken(tokenString)
	if err != nil {
		return nil, nil, err
	}
	if claims.TokenType != jwt.TokenTypeAccess {
		return nil, nil, jwt.ErrInvalidToken
	}

	revoked, err := s.denylist.IsBlacklisted(claims.ID)
	if err != nil {
		s.log.Warn("token denylist check failed", zap.Error(err))
	} else if revoked {
		return nil, nil, ErrTokenRevoked
	}

	account, err := s.accounts.GetAccountByID(claims.AccountID)
	if err != nil {
		return nil, nil, ErrAccountNotFound
	}
	if !account.IsActive {
		return nil, nil, ErrAccountInactive
	}

	return account, claims, nil
}

// GetAccountByID 根据 ID 获取账号
func (s *Service) GetAccountByID(accountID string) (*domain.Account, error) {
	account, err := s.accounts.GetAccountByID(accountID)
	if err != nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// ChangePassword 修改密码，需要提供旧密码。
func (s *Service) ChangePassword(accountID, oldPassword, newPassword string) error {
	account, err := s.accounts.GetAccountByID(accountID)
	if err != nil {
		return ErrAccountNotFound
	}

	if !CheckPassword(oldPassword, account.PasswordHash) {
		return ErrInvalidCredentials
	}

	if err := domain.ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	account.PasswordHash = hash
	return s.accounts.UpdateAccount(account)
}

// HashPassword 哈希密码
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword 检查密码是否匹配
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
