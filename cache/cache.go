// Package cache persists per-city intermediate pipeline results in a local
// SQLite database so repeated runs over the same extract skip the expensive
// container read and normalization. Each city advances through the stage
// machine city_extracted -> boundaries_fixed -> use_type_added.
package cache

import (
	"context"
	"errors"
	"time"

	driver "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/chrisodt/georef/entities"
)

type Store struct {
	db *gorm.DB
}

func New(path string) (*Store, error) {
	db, err := gorm.Open(driver.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	ans := Store{
		db: db,
	}

	return &ans, nil
}

func (s *Store) AutoMigrate(_ context.Context) error {
	models := []any{
		&cityStage{},
		&cachedFeature{},
	}

	return s.db.AutoMigrate(models...)
}

// Stage returns the cached stage for a city, or "" when the city is unknown.
func (s *Store) Stage(ctx context.Context, city string) (string, error) {
	var dbo cityStage

	if err := s.db.WithContext(ctx).First(&dbo, "city_name = ?", city).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}

		return "", err
	}

	return dbo.Stage, nil
}

func (s *Store) SetStage(ctx context.Context, city, stage string) error {
	dbo := cityStage{
		CityName:  city,
		Stage:     stage,
		UpdatedAt: time.Now().UTC(),
	}

	return s.db.WithContext(ctx).Save(&dbo).Error
}

// SaveFeatures replaces the cached feature set of one kind for a city.
func (s *Store) SaveFeatures(ctx context.Context, city, kind string, feats []entities.Feature) error {
	db := s.db.WithContext(ctx)

	err := db.Where("city_name = ? AND kind = ?", city, kind).
		Delete(&cachedFeature{}).Error
	if err != nil {
		return err
	}

	dbos := make([]cachedFeature, len(feats))
	for i := range feats {
		dbos[i] = featureFromEntities(city, kind, &feats[i])
	}

	if len(dbos) == 0 {
		return nil
	}

	return db.CreateInBatches(dbos, 500).Error
}

// LoadFeatures returns the cached features of one kind for a city. The
// features carry WKB, tags and class but no parsed geometry; the caller
// re-parses into its own GEOS context. Returns entities.ErrStageNotCached
// when nothing is cached.
func (s *Store) LoadFeatures(ctx context.Context, city, kind string) ([]entities.Feature, error) {
	var dbos []cachedFeature

	err := s.db.WithContext(ctx).
		Order("_id").
		Find(&dbos, "city_name = ? AND kind = ?", city, kind).Error
	if err != nil {
		return nil, err
	}

	if len(dbos) == 0 {
		return nil, entities.ErrStageNotCached
	}

	ans := make([]entities.Feature, len(dbos))
	for i := range dbos {
		ans[i] = dbos[i].toEntitiesFeature()
	}

	return ans, nil
}

// Invalidate drops everything cached for a city.
func (s *Store) Invalidate(ctx context.Context, city string) error {
	db := s.db.WithContext(ctx)

	if err := db.Where("city_name = ?", city).Delete(&cachedFeature{}).Error; err != nil {
		return err
	}

	return db.Where("city_name = ?", city).Delete(&cityStage{}).Error
}
