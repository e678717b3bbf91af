package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/labintel-backend/internal/domain"
)

func SeedUpload(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, testDate time.Time) *types.LabUpload {
	tb.Helper()
	u := &types.LabUpload{
		ID:            uuid.New(),
		UserID:        userID,
		TestDate:      testDate,
		Source:        "labcorp",
		Confidence:    1,
		ParseWarnings: datatypes.JSON([]byte("[]")),
	}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed upload: %v", err)
	}
	return u
}

func SeedBiomarker(tb testing.TB, ctx context.Context, tx *gorm.DB, upload *types.LabUpload, key string, value float64) *types.LabBiomarker {
	tb.Helper()
	m := &types.LabBiomarker{
		ID:          uuid.New(),
		LabUploadID: upload.ID,
		UserID:      upload.UserID,
		Key:         key,
		RawName:     key,
		Value:       value,
		Unit:        "mg/dL",
		Confidence:  1,
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed biomarker: %v", err)
	}
	return m
}

func SeedProtocol(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, peptide string, start time.Time) *types.Protocol {
	tb.Helper()
	p := &types.Protocol{
		ID:              uuid.New(),
		UserID:          userID,
		PeptideName:     peptide,
		StartDate:       start,
		IntendedEffects: datatypes.JSON([]byte("[]")),
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed protocol: %v", err)
	}
	return p
}
