package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/adilzhan/dealsync/internal/model"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// UpsertUser keeps name, last name, departments and password in step
// with the CRM while leaving the locally assigned city untouched.
func (r *UserRepository) UpsertUser(ctx context.Context, user model.User) error {
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO users (id, name, last_name, department_ids, password, city)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			last_name = EXCLUDED.last_name,
			department_ids = EXCLUDED.department_ids,
			password = EXCLUDED.password
	`, user.ID, user.Name, user.LastName, user.DepartmentIDs, user.Password, user.City).Error
}

// UpsertStaff refreshes directory fields for a batch of CRM users. The
// password and city columns belong to registration and the admin panel;
// a directory import never touches them on existing rows.
func (r *UserRepository) UpsertStaff(ctx context.Context, users []model.User) error {
	if len(users) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, user := range users {
			if err := tx.Exec(`
				INSERT INTO users (id, name, last_name, department_ids, password, city)
				VALUES (?, ?, ?, ?, '', '')
				ON CONFLICT (id) DO UPDATE SET
					name = EXCLUDED.name,
					last_name = EXCLUDED.last_name,
					department_ids = EXCLUDED.department_ids
			`, user.ID, user.Name, user.LastName, user.DepartmentIDs).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *UserRepository) GetByID(ctx context.Context, userID int64) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Raw(`
		SELECT id, name, last_name, department_ids, password, city
		FROM users
		WHERE id = ?
		LIMIT 1
	`, userID).Scan(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &user, nil
}

func (r *UserRepository) GetByFullName(ctx context.Context, name, lastName string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Raw(`
		SELECT id, name, last_name, department_ids, password, city
		FROM users
		WHERE LOWER(name) = LOWER(?) AND LOWER(last_name) = LOWER(?)
		LIMIT 1
	`, name, lastName).Scan(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &user, nil
}

func (r *UserRepository) UpdateUser(ctx context.Context, userID int64, patch model.UserPatch) error {
	if patch.Empty() {
		return nil
	}

	var sets []string
	var args []interface{}
	add := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = ?", column))
		args = append(args, value)
	}

	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.LastName != nil {
		add("last_name", *patch.LastName)
	}
	if patch.DepartmentIDs != nil {
		add("department_ids", *patch.DepartmentIDs)
	}
	if patch.Password != nil {
		add("password", *patch.Password)
	}
	if patch.City != nil {
		add("city", *patch.City)
	}

	args = append(args, userID)
	query := fmt.Sprintf("UPDATE users SET %s WHERE id = ?", strings.Join(sets, ", "))
	return r.db.WithContext(ctx).Exec(query, args...).Error
}

func (r *UserRepository) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).Raw(`
		SELECT id, name, last_name, department_ids, password, city
		FROM users
		ORDER BY last_name, name
	`).Scan(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// ListInstallers matches the installers department inside the
// comma-separated list whether it sits alone, first, last or in the
// middle.
func (r *UserRepository) ListInstallers(ctx context.Context) ([]model.User, error) {
	dept := fmt.Sprintf("%d", model.DepartmentInstallers)
	var users []model.User
	if err := r.db.WithContext(ctx).Raw(`
		SELECT id, name, last_name, department_ids, password, city
		FROM users
		WHERE department_ids = ?
			OR department_ids LIKE ?
			OR department_ids LIKE ?
			OR department_ids LIKE ?
		ORDER BY last_name, name
	`, dept, dept+",%", "%,"+dept, "%,"+dept+",%").Scan(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *UserRepository) DeleteUser(ctx context.Context, userID int64) error {
	return r.db.WithContext(ctx).Exec(`DELETE FROM users WHERE id = ?`, userID).Error
}
