package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/labintel-backend/internal/data/repos/labs"
	"github.com/yungbote/labintel-backend/internal/data/repos/protocols"
	"github.com/yungbote/labintel-backend/internal/platform/logger"
)

type LabUploadRepo = labs.LabUploadRepo
type LabBiomarkerRepo = labs.LabBiomarkerRepo
type LabEventReviewRepo = labs.LabEventReviewRepo
type PreDrawContextRepo = labs.PreDrawContextRepo
type ChangepointRepo = labs.ChangepointRepo
type HealthPredictionRepo = labs.HealthPredictionRepo
type MarkerObservation = labs.MarkerObservation

type ProtocolRepo = protocols.ProtocolRepo

// Repos is the full repository set handed to services.
type Repos struct {
	LabUpload        LabUploadRepo
	LabBiomarker     LabBiomarkerRepo
	LabEventReview   LabEventReviewRepo
	PreDrawContext   PreDrawContextRepo
	Changepoint      ChangepointRepo
	HealthPrediction HealthPredictionRepo
	Protocol         ProtocolRepo
}

func New(db *gorm.DB, log *logger.Logger) *Repos {
	return &Repos{
		LabUpload:        labs.NewLabUploadRepo(db, log),
		LabBiomarker:     labs.NewLabBiomarkerRepo(db, log),
		LabEventReview:   labs.NewLabEventReviewRepo(db, log),
		PreDrawContext:   labs.NewPreDrawContextRepo(db, log),
		Changepoint:      labs.NewChangepointRepo(db, log),
		HealthPrediction: labs.NewHealthPredictionRepo(db, log),
		Protocol:         protocols.NewProtocolRepo(db, log),
	}
}
