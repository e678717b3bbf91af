package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/labintel-backend/internal/biomarkers"
	"github.com/yungbote/labintel-backend/internal/clients/rediscache"
	"github.com/yungbote/labintel-backend/internal/data/repos"
	types "github.com/yungbote/labintel-backend/internal/domain"
	"github.com/yungbote/labintel-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/labintel-backend/internal/pkg/errors"
	"github.com/yungbote/labintel-backend/internal/platform/logger"
)

func newTestProtocols(t *testing.T, r *repos.Repos) Protocols {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	reg, err := biomarkers.Load()
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	pipeline := NewComputePipeline(log, r, reg, rediscache.NewLocal())
	return NewProtocols(log, r, reg, pipeline)
}

func TestCreateProtocolValidatesIntents(t *testing.T) {
	r := newFakeRepos()
	svc := newTestProtocols(t, r)
	ctx := context.Background()
	userID := uuid.New()
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		in   CreateProtocolInput
	}{
		{"missing name", CreateProtocolInput{StartDate: start}},
		{"missing start", CreateProtocolInput{PeptideName: "Berberine"}},
		{"unknown metric", CreateProtocolInput{
			PeptideName: "Berberine", StartDate: start,
			IntendedEffects: []types.IntendedEffect{{Metric: "nope", Direction: "decrease"}},
		}},
		{"bad direction", CreateProtocolInput{
			PeptideName: "Berberine", StartDate: start,
			IntendedEffects: []types.IntendedEffect{{Metric: "ldl", Direction: "sideways"}},
		}},
	}
	for _, tc := range cases {
		if _, err := svc.Create(ctx, userID, tc.in); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
			t.Fatalf("%s: err = %v, want ErrInvalidArgument", tc.name, err)
		}
	}
}

func TestCreateProtocolPersistsAndDecodes(t *testing.T) {
	r := newFakeRepos()
	svc := newTestProtocols(t, r)
	userID := uuid.New()

	proto, err := svc.Create(context.Background(), userID, CreateProtocolInput{
		PeptideName: "Berberine",
		Dose:        "500mg 2x daily",
		StartDate:   time.Date(2026, 1, 5, 13, 45, 0, 0, time.UTC),
		IntendedEffects: []types.IntendedEffect{
			{Metric: "ldl", Direction: "decrease"},
			{Metric: "glucose", Direction: "decrease"},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !proto.StartDate.Equal(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start date not truncated: %v", proto.StartDate)
	}

	stored, err := svc.List(context.Background(), userID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored = %d, want 1", len(stored))
	}
	intents := stored[0].DecodeIntendedEffects()
	if len(intents) != 2 || intents[0].Metric != "ldl" || intents[1].Metric != "glucose" {
		t.Fatalf("intents = %+v", intents)
	}
}

func TestEndProtocolSetsEndDate(t *testing.T) {
	r := newFakeRepos()
	svc := newTestProtocols(t, r)
	ctx := context.Background()
	userID := uuid.New()

	proto, err := svc.Create(ctx, userID, CreateProtocolInput{
		PeptideName: "Berberine",
		StartDate:   time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ended, err := svc.End(ctx, userID, proto.ID)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if ended.EndDate == nil {
		t.Fatalf("end date not set")
	}

	if _, err := svc.End(ctx, userID, uuid.New()); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("unknown protocol err = %v, want ErrNotFound", err)
	}
}

func TestEndProtocolIsScopedToUser(t *testing.T) {
	r := newFakeRepos()
	svc := newTestProtocols(t, r)
	ctx := context.Background()
	owner := uuid.New()

	proto, err := svc.Create(ctx, owner, CreateProtocolInput{
		PeptideName: "Berberine",
		StartDate:   time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.End(ctx, uuid.New(), proto.ID); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("cross-user end err = %v, want ErrNotFound", err)
	}
	got, err := r.Protocol.GetByID(dbctx.Context{Ctx: ctx}, owner, proto.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.EndDate != nil {
		t.Fatalf("protocol ended by wrong user")
	}
}
