package domain

import (
	"github.com/yungbote/labintel-backend/internal/domain/labs"
	"github.com/yungbote/labintel-backend/internal/domain/protocols"
)

type LabUpload = labs.LabUpload
type LabBiomarker = labs.LabBiomarker
type LabEventReview = labs.LabEventReview
type PreDrawContext = labs.PreDrawContext
type BayesianChangepoint = labs.BayesianChangepoint
type HealthPrediction = labs.HealthPrediction

type DomainSummary = labs.DomainSummary
type MarkerDelta = labs.MarkerDelta
type EffectRecord = labs.EffectRecord
type MechanismGroup = labs.MechanismGroup
type ProtocolScore = labs.ProtocolScore
type EvidenceLedgerEntry = labs.EvidenceLedgerEntry
type LedgerPrediction = labs.LedgerPrediction
type ReviewPrediction = labs.ReviewPrediction
type ProtocolTerm = labs.ProtocolTerm

type Protocol = protocols.Protocol
type IntendedEffect = protocols.IntendedEffect

const (
	OutcomePending   = labs.OutcomePending
	OutcomeConfirmed = labs.OutcomeConfirmed
	OutcomeFalsified = labs.OutcomeFalsified
)
