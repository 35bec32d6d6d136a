package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/adilzhan/dealsync/internal/crm"
	"github.com/adilzhan/dealsync/internal/model"
)

type UserStore interface {
	UpsertUser(ctx context.Context, user model.User) error
	UpsertStaff(ctx context.Context, users []model.User) error
	GetByID(ctx context.Context, userID int64) (*model.User, error)
	GetByFullName(ctx context.Context, name, lastName string) (*model.User, error)
	UpdateUser(ctx context.Context, userID int64, patch model.UserPatch) error
	ListUsers(ctx context.Context) ([]model.User, error)
	ListInstallers(ctx context.Context) ([]model.User, error)
	DeleteUser(ctx context.Context, userID int64) error
}

// TokenIssuer mints access tokens for authenticated users.
type TokenIssuer interface {
	Issue(user model.User) (string, error)
}

// UserService handles registration against the CRM staff directory and
// local credential auth.
type UserService struct {
	gateway CRMGateway
	users   UserStore
	tokens  TokenIssuer
	log     zerolog.Logger
}

func NewUserService(gateway CRMGateway, users UserStore, tokens TokenIssuer, log zerolog.Logger) *UserService {
	return &UserService{
		gateway: gateway,
		users:   users,
		tokens:  tokens,
		log:     log.With().Str("component", "users").Logger(),
	}
}

// Register looks the person up in the CRM staff directory by name and
// creates the local account with a hashed password. Unknown names are
// rejected; accounts do not exist outside the CRM.
func (s *UserService) Register(ctx context.Context, name, lastName, password string) (*model.User, error) {
	if name == "" || lastName == "" || password == "" {
		return nil, fmt.Errorf("name, last name and password are required: %w", ErrInvalidInput)
	}

	records, err := s.gateway.ListUsersByFilter(ctx, crm.UserFilter{Name: name, LastName: lastName})
	if err != nil {
		return nil, fmt.Errorf("look up staff member: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no staff member named %s %s: %w", name, lastName, ErrNotFound)
	}
	record := records[0]

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := model.User{
		ID:            record.ID,
		Name:          record.Name,
		LastName:      record.LastName,
		DepartmentIDs: model.JoinDepartments(record.Departments),
		Password:      string(hash),
	}
	if err := s.users.UpsertUser(ctx, user); err != nil {
		return nil, fmt.Errorf("persist user: %w", err)
	}
	s.log.Info().Int64("user_id", user.ID).Msg("user registered")
	return &user, nil
}

// Login verifies the credential and returns a signed access token
// alongside the account.
func (s *UserService) Login(ctx context.Context, name, lastName, password string) (string, *model.User, error) {
	user, err := s.users.GetByFullName(ctx, name, lastName)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(*user)
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}
	return token, user, nil
}

// SetCity binds a user to a city; panels and exports group by it.
func (s *UserService) SetCity(ctx context.Context, principal model.Principal, userID int64, city string) error {
	if !principal.IsAdmin() {
		return ErrPermissionDenied
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return s.users.UpdateUser(ctx, userID, model.UserPatch{City: &city})
}

func (s *UserService) ListUsers(ctx context.Context, principal model.Principal) ([]model.User, error) {
	if !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}
	return s.users.ListUsers(ctx)
}

// ListInstallers is open to warehouse staff, who assign crews.
func (s *UserService) ListInstallers(ctx context.Context, principal model.Principal) ([]model.User, error) {
	if !principal.IsWarehouse() && !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}
	return s.users.ListInstallers(ctx)
}

func (s *UserService) DeleteUser(ctx context.Context, principal model.Principal, userID int64) error {
	if !principal.IsAdmin() {
		return ErrPermissionDenied
	}
	return s.users.DeleteUser(ctx, userID)
}
