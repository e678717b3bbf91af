package services

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/labintel-backend/internal/data/repos"
	types "github.com/yungbote/labintel-backend/internal/domain"
	"github.com/yungbote/labintel-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/labintel-backend/internal/pkg/errors"
)

// In-memory repos so service tests run without a database. Each fake keeps
// the same contract as the real repo, including ErrNotFound sentinels and
// ascending replay order.

type fakeUploadRepo struct {
	mu      sync.Mutex
	uploads []*types.LabUpload
}

func (f *fakeUploadRepo) Create(_ dbctx.Context, row *types.LabUpload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	f.uploads = append(f.uploads, row)
	return nil
}

func (f *fakeUploadRepo) GetByID(_ dbctx.Context, userID, id uuid.UUID) (*types.LabUpload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.uploads {
		if u.UserID == userID && u.ID == id {
			return u, nil
		}
	}
	return nil, pkgerrors.ErrNotFound
}

func (f *fakeUploadRepo) ListByUserAsc(_ dbctx.Context, userID uuid.UUID) ([]*types.LabUpload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.LabUpload
	for _, u := range f.uploads {
		if u.UserID == userID {
			out = append(out, u)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TestDate.Before(out[j].TestDate) })
	return out, nil
}

func (f *fakeUploadRepo) GetPrior(dbc dbctx.Context, userID uuid.UUID, before time.Time) (*types.LabUpload, error) {
	all, _ := f.ListByUserAsc(dbc, userID)
	var prior *types.LabUpload
	for _, u := range all {
		if u.TestDate.Before(before) {
			prior = u
		}
	}
	return prior, nil
}

func (f *fakeUploadRepo) ListUserIDs(_ dbctx.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for _, u := range f.uploads {
		if !seen[u.UserID] {
			seen[u.UserID] = true
			out = append(out, u.UserID)
		}
	}
	return out, nil
}

type fakeBiomarkerRepo struct {
	mu      sync.Mutex
	rows    []*types.LabBiomarker
	uploads *fakeUploadRepo
}

func (f *fakeBiomarkerRepo) CreateBatch(_ dbctx.Context, rows []*types.LabBiomarker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range rows {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		f.rows = append(f.rows, r)
	}
	return nil
}

func (f *fakeBiomarkerRepo) ListByUpload(_ dbctx.Context, uploadID uuid.UUID) ([]*types.LabBiomarker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.LabBiomarker
	for _, r := range f.rows {
		if r.LabUploadID == uploadID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeBiomarkerRepo) ListByUserKey(dbc dbctx.Context, userID uuid.UUID, key string) ([]*repos.MarkerObservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dates := map[uuid.UUID]time.Time{}
	if f.uploads != nil {
		all, _ := f.uploads.ListByUserAsc(dbc, userID)
		for _, u := range all {
			dates[u.ID] = u.TestDate
		}
	}
	var out []*repos.MarkerObservation
	for _, r := range f.rows {
		if r.UserID == userID && r.Key == key {
			out = append(out, &repos.MarkerObservation{LabBiomarker: *r, TestDate: dates[r.LabUploadID]})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TestDate.Before(out[j].TestDate) })
	return out, nil
}

func (f *fakeBiomarkerRepo) ListKeysByUser(_ dbctx.Context, userID uuid.UUID) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, r := range f.rows {
		if r.UserID == userID && r.Key != "" && !seen[r.Key] {
			seen[r.Key] = true
			out = append(out, r.Key)
		}
	}
	sort.Strings(out)
	return out, nil
}

type fakeReviewRepo struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]types.LabEventReview
	failOn  uuid.UUID
	upserts int
}

func newFakeReviewRepo() *fakeReviewRepo {
	return &fakeReviewRepo{byID: map[uuid.UUID]types.LabEventReview{}}
}

func (f *fakeReviewRepo) UpsertByUploadID(_ dbctx.Context, row *types.LabEventReview) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != uuid.Nil && row.LabUploadID == f.failOn {
		return fmt.Errorf("injected upsert failure")
	}
	f.upserts++
	f.byID[row.LabUploadID] = *row
	return nil
}

func (f *fakeReviewRepo) GetByUploadID(_ dbctx.Context, userID, uploadID uuid.UUID) (*types.LabEventReview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.byID[uploadID]
	if !ok || row.UserID != userID {
		return nil, pkgerrors.ErrNotFound
	}
	out := row
	return &out, nil
}

func (f *fakeReviewRepo) GetLatestByUser(_ dbctx.Context, userID uuid.UUID) (*types.LabEventReview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *types.LabEventReview
	for id := range f.byID {
		row := f.byID[id]
		if row.UserID != userID {
			continue
		}
		if latest == nil || row.TestDate.After(latest.TestDate) {
			cp := row
			latest = &cp
		}
	}
	if latest == nil {
		return nil, pkgerrors.ErrNotFound
	}
	return latest, nil
}

func (f *fakeReviewRepo) ListByUserAsc(_ dbctx.Context, userID uuid.UUID) ([]*types.LabEventReview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.LabEventReview
	for id := range f.byID {
		row := f.byID[id]
		if row.UserID == userID {
			cp := row
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TestDate.Before(out[j].TestDate) })
	return out, nil
}

type fakePreDrawRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.PreDrawContext
}

func newFakePreDrawRepo() *fakePreDrawRepo {
	return &fakePreDrawRepo{rows: map[uuid.UUID]*types.PreDrawContext{}}
}

func (f *fakePreDrawRepo) UpsertByUploadID(_ dbctx.Context, row *types.PreDrawContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[row.LabUploadID] = row
	return nil
}

func (f *fakePreDrawRepo) MapByUser(_ dbctx.Context, userID uuid.UUID) (map[uuid.UUID]*types.PreDrawContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[uuid.UUID]*types.PreDrawContext{}
	for id, row := range f.rows {
		if row.UserID == userID {
			out[id] = row
		}
	}
	return out, nil
}

type fakeChangepointRepo struct {
	mu     sync.Mutex
	scopes map[string][]*types.BayesianChangepoint
}

func newFakeChangepointRepo() *fakeChangepointRepo {
	return &fakeChangepointRepo{scopes: map[string][]*types.BayesianChangepoint{}}
}

func scopeKey(userID uuid.UUID, metric string, protocolID uuid.UUID) string {
	return userID.String() + "|" + metric + "|" + protocolID.String()
}

func (f *fakeChangepointRepo) ReplaceForScope(_ dbctx.Context, userID uuid.UUID, metric string, protocolID uuid.UUID, rows []*types.BayesianChangepoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := scopeKey(userID, metric, protocolID)
	if len(rows) == 0 {
		delete(f.scopes, key)
		return nil
	}
	f.scopes[key] = rows
	return nil
}

func (f *fakeChangepointRepo) ListByUser(_ dbctx.Context, userID uuid.UUID) ([]*types.BayesianChangepoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.BayesianChangepoint
	for _, rows := range f.scopes {
		for _, r := range rows {
			if r.UserID == userID {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out, nil
}

type fakePredictionRepo struct {
	mu   sync.Mutex
	rows map[string]*types.HealthPrediction
}

func newFakePredictionRepo() *fakePredictionRepo {
	return &fakePredictionRepo{rows: map[string]*types.HealthPrediction{}}
}

func (f *fakePredictionRepo) UpsertByScope(_ dbctx.Context, row *types.HealthPrediction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[row.UserID.String()+"|"+row.BiomarkerKey] = row
	return nil
}

func (f *fakePredictionRepo) GetFresh(_ dbctx.Context, userID uuid.UUID, key string, maxAge time.Duration) (*types.HealthPrediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[userID.String()+"|"+key]
	if !ok || time.Since(row.ComputedAt) > maxAge {
		return nil, pkgerrors.ErrNotFound
	}
	return row, nil
}

func (f *fakePredictionRepo) ListByUser(_ dbctx.Context, userID uuid.UUID) ([]*types.HealthPrediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.HealthPrediction
	for _, row := range f.rows {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BiomarkerKey < out[j].BiomarkerKey })
	return out, nil
}

type fakeProtocolRepo struct {
	mu   sync.Mutex
	rows []*types.Protocol
}

func (f *fakeProtocolRepo) Create(_ dbctx.Context, row *types.Protocol) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeProtocolRepo) GetByID(_ dbctx.Context, userID, id uuid.UUID) (*types.Protocol, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if p.UserID == userID && p.ID == id {
			return p, nil
		}
	}
	return nil, pkgerrors.ErrNotFound
}

func (f *fakeProtocolRepo) ListByUser(_ dbctx.Context, userID uuid.UUID) ([]*types.Protocol, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Protocol
	for _, p := range f.rows {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (f *fakeProtocolRepo) End(_ dbctx.Context, userID, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if p.UserID == userID && p.ID == id && p.EndDate == nil {
			now := time.Now().UTC()
			p.EndDate = &now
			return nil
		}
	}
	return pkgerrors.ErrNotFound
}

func newFakeRepos() *repos.Repos {
	uploads := &fakeUploadRepo{}
	return &repos.Repos{
		LabUpload:        uploads,
		LabBiomarker:     &fakeBiomarkerRepo{uploads: uploads},
		LabEventReview:   newFakeReviewRepo(),
		PreDrawContext:   newFakePreDrawRepo(),
		Changepoint:      newFakeChangepointRepo(),
		HealthPrediction: newFakePredictionRepo(),
		Protocol:         &fakeProtocolRepo{},
	}
}
