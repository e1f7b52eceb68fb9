package embed

import (
	"context"
	"encoding/binary"
	"math"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

// diskCache persists embeddings in a local sqlite file so re-ingesting the
// same transcript after a model restart costs no API tokens.
type diskCache struct {
	db  *gorm.DB
	log *logger.Logger
}

type embeddingRow struct {
	Key       string `gorm:"primaryKey;size:64"`
	Model     string `gorm:"size:128;index"`
	Vector    []byte `gorm:"not null"`
	CreatedAt time.Time
}

func (embeddingRow) TableName() string { return "embedding_cache" }

func openDiskCache(log *logger.Logger, path string) (*diskCache, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&embeddingRow{}); err != nil {
		return nil, err
	}
	return &diskCache{db: db, log: log.With("cache", "embeddings")}, nil
}

func (c *diskCache) Get(ctx context.Context, key string) ([]float32, error) {
	var row embeddingRow
	res := c.db.WithContext(ctx).Limit(1).Find(&row, "key = ?", key)
	if res.Error != nil {
		return nil, res.Error
	}
	if row.Key == "" {
		return nil, nil
	}
	return decodeVector(row.Vector), nil
}

func (c *diskCache) Put(ctx context.Context, key, model string, vec []float32) error {
	row := embeddingRow{
		Key:       key,
		Model:     model,
		Vector:    encodeVector(vec),
		CreatedAt: time.Now().UTC(),
	}
	return c.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(raw []byte) []float32 {
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec
}
