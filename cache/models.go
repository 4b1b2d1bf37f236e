package cache

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/chrisodt/georef/entities"
)

const (
	KindAdmin   = "admin"
	KindLandUse = "landuse"
)

type cityStage struct {
	CityName  string    `gorm:"column:city_name;primaryKey"`
	Stage     string    `gorm:"column:stage;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

type cachedFeature struct {
	ID       uint   `gorm:"column:_id;primaryKey;autoIncrement"`
	CityName string `gorm:"column:city_name;index;not null"`
	Kind     string `gorm:"column:kind;not null"`
	SourceID string `gorm:"column:source_id"`
	Class    string `gorm:"column:class"`
	Tags     tagMap `gorm:"column:tags;type:blob"`
	WKB      []byte `gorm:"column:wkb;type:blob;not null"`
}

func (c *cachedFeature) toEntitiesFeature() entities.Feature {
	return entities.Feature{
		SourceID: c.SourceID,
		Tags:     c.Tags,
		Class:    c.Class,
		WKB:      c.WKB,
	}
}

func featureFromEntities(city, kind string, f *entities.Feature) cachedFeature {
	return cachedFeature{
		CityName: city,
		Kind:     kind,
		SourceID: f.SourceID,
		Class:    f.Class,
		Tags:     tagMap(f.Tags),
		WKB:      f.WKB,
	}
}

type tagMap map[string]string

func (t *tagMap) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal tag map value")
	}

	result := map[string]string{}
	err := json.Unmarshal(bytes, &result)
	*t = tagMap(result)

	return err
}

// Value returns the json encoding, implementing driver.Valuer.
func (t tagMap) Value() (driver.Value, error) {
	if len(t) == 0 {
		return nil, nil
	}

	return json.Marshal(t)
}
