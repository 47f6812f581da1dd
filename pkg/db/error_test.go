package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsDuplicateKeyErr(errors.New("Error 1062: Duplicate entry")))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: billing_alerts.subject_id")))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))
}

func TestNewTestDatabasesAreIsolated(t *testing.T) {
	type row struct {
		ID int64
	}
	first, err := NewTest()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	second, err := NewTest()
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := first.AutoMigrate(&row{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := first.Create(&row{ID: 1}).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	if second.Migrator().HasTable(&row{}) {
		t.Fatalf("expected second database to be empty")
	}
}
