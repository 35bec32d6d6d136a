package service

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/adilzhan/dealsync/internal/crm"
	"github.com/adilzhan/dealsync/internal/model"
)

type fakeUserStore struct {
	users map[int64]model.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[int64]model.User)}
}

func (s *fakeUserStore) UpsertUser(_ context.Context, user model.User) error {
	if existing, ok := s.users[user.ID]; ok {
		user.City = existing.City
	}
	s.users[user.ID] = user
	return nil
}

func (s *fakeUserStore) UpsertStaff(_ context.Context, users []model.User) error {
	for _, user := range users {
		if existing, ok := s.users[user.ID]; ok {
			user.Password = existing.Password
			user.City = existing.City
		}
		s.users[user.ID] = user
	}
	return nil
}

func (s *fakeUserStore) GetByID(_ context.Context, userID int64) (*model.User, error) {
	user, ok := s.users[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &user, nil
}

func (s *fakeUserStore) GetByFullName(_ context.Context, name, lastName string) (*model.User, error) {
	for _, user := range s.users {
		if strings.EqualFold(user.Name, name) && strings.EqualFold(user.LastName, lastName) {
			return &user, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeUserStore) UpdateUser(_ context.Context, userID int64, patch model.UserPatch) error {
	user, ok := s.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if patch.City != nil {
		user.City = *patch.City
	}
	if patch.Password != nil {
		user.Password = *patch.Password
	}
	s.users[userID] = user
	return nil
}

func (s *fakeUserStore) ListUsers(_ context.Context) ([]model.User, error) {
	var out []model.User
	for _, user := range s.users {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeUserStore) ListInstallers(_ context.Context) ([]model.User, error) {
	var out []model.User
	for _, user := range s.users {
		if user.IsInstaller() {
			out = append(out, user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeUserStore) DeleteUser(_ context.Context, userID int64) error {
	delete(s.users, userID)
	return nil
}

type fakeIssuer struct{}

func (fakeIssuer) Issue(user model.User) (string, error) {
	return "token-for-" + user.Name, nil
}

func adminPrincipal() model.Principal {
	return model.Principal{UserID: 1, Permissions: []string{model.PermissionAdmin}}
}

func TestRegisterCreatesAccountFromStaffDirectory(t *testing.T) {
	gateway := newFakeGateway()
	gateway.users = []crm.UserRecord{
		{ID: 42, Name: "Арман", LastName: "Серик", Departments: []int64{27}},
	}

	store := newFakeUserStore()
	users := NewUserService(gateway, store, fakeIssuer{}, zerolog.Nop())

	user, err := users.Register(context.Background(), "Арман", "Серик", "secret")
	require.NoError(t, err)
	assert.Equal(t, int64(42), user.ID)
	assert.Equal(t, "27", user.DepartmentIDs)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.Password), []byte("secret")))

	stored, ok := store.users[42]
	require.True(t, ok)
	assert.True(t, stored.IsInstaller())
}

func TestRegisterRejectsUnknownStaff(t *testing.T) {
	users := NewUserService(newFakeGateway(), newFakeUserStore(), fakeIssuer{}, zerolog.Nop())

	_, err := users.Register(context.Background(), "Никто", "Неизвестный", "secret")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterRequiresAllFields(t *testing.T) {
	users := NewUserService(newFakeGateway(), newFakeUserStore(), fakeIssuer{}, zerolog.Nop())

	_, err := users.Register(context.Background(), "Арман", "", "secret")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.DefaultCost)
	require.NoError(t, err)

	store := newFakeUserStore()
	store.users[42] = model.User{ID: 42, Name: "Арман", LastName: "Серик", Password: string(hash)}

	users := NewUserService(newFakeGateway(), store, fakeIssuer{}, zerolog.Nop())

	t.Run("success", func(t *testing.T) {
		token, user, err := users.Login(context.Background(), "Арман", "Серик", "secret")
		require.NoError(t, err)
		assert.Equal(t, "token-for-Арман", token)
		assert.Equal(t, int64(42), user.ID)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, _, err := users.Login(context.Background(), "Арман", "Серик", "wrong")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, _, err := users.Login(context.Background(), "Никто", "Неизвестный", "secret")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestSetCityRequiresAdmin(t *testing.T) {
	store := newFakeUserStore()
	store.users[42] = model.User{ID: 42}

	users := NewUserService(newFakeGateway(), store, fakeIssuer{}, zerolog.Nop())

	err := users.SetCity(context.Background(), warehousePrincipal(), 42, "Караганда")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	require.NoError(t, users.SetCity(context.Background(), adminPrincipal(), 42, "Караганда"))
	assert.Equal(t, "Караганда", store.users[42].City)
}

func TestListInstallersOpenToWarehouse(t *testing.T) {
	store := newFakeUserStore()
	store.users[42] = model.User{ID: 42, DepartmentIDs: "27"}
	store.users[43] = model.User{ID: 43, DepartmentIDs: "45"}

	users := NewUserService(newFakeGateway(), store, fakeIssuer{}, zerolog.Nop())

	installers, err := users.ListInstallers(context.Background(), warehousePrincipal())
	require.NoError(t, err)
	require.Len(t, installers, 1)
	assert.Equal(t, int64(42), installers[0].ID)

	_, err = users.ListInstallers(context.Background(), installerPrincipal(42))
	assert.ErrorIs(t, err, ErrPermissionDenied)
}
