package export

import (
	"bytes"
	"context"
	"math"
	"testing"
	"time"

	"github.com/brightensolutions/brightensolutions-sub000/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func TestWritePageVisits(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Round trip keeps nullable dwell time", func(t *testing.T) {
		db := setupTestDB(t)
		spent := 42
		v := models.Visitor{
			VisitorID:  "v-1",
			FirstVisit: base,
			LastVisit:  base,
			Pages: []models.PageVisit{
				{Seq: 0, Path: "/", Title: "Home", VisitedAt: base, TimeSpent: &spent},
				{Seq: 1, Path: "/contact", Title: "Contact", VisitedAt: base.Add(90 * time.Second)},
			},
		}
		require.NoError(t, db.Create(&v).Error)

		var buf bytes.Buffer
		n, err := WritePageVisits(ctx, db, &buf)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		got, err := ReadPageVisits(ctx, bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		require.Len(t, got, 2)

		assert.Equal(t, "v-1", got[0].VisitorID)
		assert.Equal(t, "/", got[0].Path)
		assert.Equal(t, "Home", got[0].Title)
		assert.True(t, base.Equal(got[0].VisitedAt))
		require.NotNil(t, got[0].TimeSpent)
		assert.Equal(t, 42, *got[0].TimeSpent)

		assert.Equal(t, "/contact", got[1].Path)
		assert.Nil(t, got[1].TimeSpent)
	})

	t.Run("Batches become row groups", func(t *testing.T) {
		var buf bytes.Buffer
		pw, err := NewPageVisitWriter(&buf)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			require.NoError(t, pw.Write([]models.PageVisit{{VisitorID: "v", Path: "/p", VisitedAt: base}}))
		}
		require.NoError(t, pw.Write(nil))
		assert.Equal(t, 3, pw.Rows())
		require.NoError(t, pw.Close())

		got, err := ReadPageVisits(ctx, bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("Empty table", func(t *testing.T) {
		var buf bytes.Buffer
		n, err := WritePageVisits(ctx, setupTestDB(t), &buf)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		got, err := ReadPageVisits(ctx, bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("Dwell time outside int32 is an error", func(t *testing.T) {
		var buf bytes.Buffer
		pw, err := NewPageVisitWriter(&buf)
		require.NoError(t, err)
		defer pw.Close()

		tooBig := math.MaxInt32
		tooBig++
		negative := -1
		for _, spent := range []*int{&tooBig, &negative} {
			err := pw.Write([]models.PageVisit{{ID: "p-1", VisitorID: "v-1", Path: "/", VisitedAt: base, TimeSpent: spent}})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "does not fit int32")
		}
		assert.Equal(t, 0, pw.Rows())
	})

	t.Run("Not a parquet file", func(t *testing.T) {
		_, err := ReadPageVisits(ctx, bytes.NewReader([]byte("nope")))
		assert.Error(t, err)
	})
}
