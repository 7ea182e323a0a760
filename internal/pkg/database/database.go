package database

import "gorm.io/gorm"

var DB *gorm.DB

// GetDB returns the shared GORM handle, nil before SetupDatabase.
func GetDB() *gorm.DB {
	return DB
}
