package database

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/chatbridge/chatbridge/internal/models"
	"github.com/chatbridge/chatbridge/pkg/crypto"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.Message{},
	)
}

// SeedData ensures an administrator account exists on first boot. The default
// password must be rotated through the API; it is only meant for initial setup.
func SeedData(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	var count int64
	if err := db.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashed, err := crypto.HashPassword("admin")
	if err != nil {
		return err
	}

	admin := models.User{
		Username: "admin",
		Email:    "admin@localhost",
		Password: hashed,
		Role:     models.RoleAdmin,
	}

	return db.Where(models.User{Username: admin.Username}).Attrs(admin).FirstOrCreate(&models.User{}).Error
}

// NormalizeDriver maps user supplied driver aliases onto canonical names.
func NormalizeDriver(driver string) string {
	driver = strings.ToLower(strings.TrimSpace(driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return "sqlite"
	case "postgres", "postgresql":
		return "postgres"
	default:
		return driver
	}
}
