package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"residuechain/internal/labdirectory"
	"residuechain/internal/notify"
	"residuechain/internal/prediction"
	"residuechain/internal/reference"
	"residuechain/internal/sample"
	"residuechain/internal/sample/handler"
	httptransport "residuechain/internal/transport/http"
	id "residuechain/pkg/domain"
)

func dateUTC(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

type nopDispatcher struct{}

func (nopDispatcher) Send(context.Context, notify.Notification) error { return nil }

type env struct {
	server *httptest.Server
	svc    *sample.Service
	lab    labdirectory.Laboratory
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := labdirectory.NewInMemoryDirectory()
	lab := labdirectory.Laboratory{
		ID:     id.LabID(uuid.New()),
		UserID: id.UserID(uuid.New()),
		Name:   "District Residue Lab",
		State:  "Karnataka",
	}
	require.NoError(t, dir.Register(context.Background(), lab))

	refs := reference.NewInMemoryStore([]reference.MedicineReference{{
		Species:  "cattle",
		Category: "antibiotic",
		Medicine: "oxytetracycline",
		PK: reference.PKParams{
			HalfLifeDays:         7,
			DoseConversionFactor: 1,
			SpeciesFactor:        1,
			PersistenceFactor:    0.05,
		},
		Thresholds: reference.RiskThresholds{SafePercent: 80, BorderlinePercent: 100, UnsafePercent: 120},
		Tissues: []reference.TissueReference{
			{Name: "muscle", PartitionFactor: 1.0, BaseMRL: 100, BaseWithdrawalDays: 10},
		},
	}})

	svc := sample.NewService(sample.NewInMemoryStore(), labdirectory.NewResolver(dir), nopDispatcher{}, slog.Default())
	router := httptransport.NewRouter(slog.Default(), nil,
		handler.New(svc, prediction.New(refs), nil, slog.Default()))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &env{server: srv, svc: svc, lab: lab}
}

func (e *env) open(t *testing.T) sample.SampleRequest {
	t.Helper()
	req, err := e.svc.Open(context.Background(), sample.OpenRequest{
		TreatmentID: id.TreatmentID(uuid.New()),
		EntityID:    id.EntityID(uuid.New()),
		FarmerID:    id.FarmerID(uuid.New()),
		Location:    labdirectory.Location{State: "Karnataka"},
		SafeDate:    dateUTC(2026, 4, 2),
	})
	require.NoError(t, err)
	return req
}

func (e *env) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestOpenSampleRequest(t *testing.T) {
	e := newEnv(t)

	resp := e.postJSON(t, "/sample-requests", map[string]any{
		"treatment_id": uuid.NewString(),
		"entity_id":    uuid.NewString(),
		"farmer_id":    uuid.NewString(),
		"location":     map[string]any{"state": "Karnataka"},
		"treatment": map[string]any{
			"species":           "cattle",
			"category":          "antibiotic",
			"medicine":          "oxytetracycline",
			"dose_amount":       5,
			"dose_unit":         "mg/kg",
			"frequency_per_day": 1,
			"duration_days":     3,
			"matrix":            "meat",
			"end_date":          "2026-03-01",
		},
	})

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, true, body["applicable"])
	req, ok := body["sample_request"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "requested", req["state"])
	assert.Equal(t, e.lab.ID.String(), req["lab_id"])
}

func TestOpenSampleRequest_VaccineNotApplicable(t *testing.T) {
	e := newEnv(t)

	resp := e.postJSON(t, "/sample-requests", map[string]any{
		"treatment_id": uuid.NewString(),
		"entity_id":    uuid.NewString(),
		"farmer_id":    uuid.NewString(),
		"location":     map[string]any{"state": "Karnataka"},
		"treatment": map[string]any{
			"species":  "cattle",
			"category": "vaccine",
			"medicine": "fmd vaccine",
			"matrix":   "meat",
			"end_date": "2026-03-01",
		},
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, false, body["applicable"])
	_, hasRequest := body["sample_request"]
	assert.False(t, hasRequest)
}

func TestPendingRequests(t *testing.T) {
	e := newEnv(t)
	req := e.open(t)

	resp, err := http.Get(fmt.Sprintf("%s/labs/sample-requests?lab_id=%s", e.server.URL, e.lab.ID))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	list, ok := body["sample_requests"].([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	first := list[0].(map[string]any)
	assert.Equal(t, req.ID.String(), first["id"])
	assert.Equal(t, "requested", first["state"])
}

func TestPendingRequests_MissingLabID(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Get(e.server.URL + "/labs/sample-requests")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCollectSample(t *testing.T) {
	e := newEnv(t)
	req := e.open(t)

	resp := e.postJSON(t, "/labs/collect-sample", map[string]any{
		"request_id":  req.ID.String(),
		"lab_id":      e.lab.ID.String(),
		"sample_type": "milk",
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.NotEmpty(t, body["sample_id"])
}

func TestCollectSample_WrongLabIsForbidden(t *testing.T) {
	e := newEnv(t)
	req := e.open(t)

	resp := e.postJSON(t, "/labs/collect-sample", map[string]any{
		"request_id":  req.ID.String(),
		"lab_id":      uuid.NewString(),
		"sample_type": "milk",
	})

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUploadReport(t *testing.T) {
	e := newEnv(t)
	req := e.open(t)
	_, err := e.svc.Collect(context.Background(), sample.CollectRequest{
		RequestID: req.ID, LabID: e.lab.ID, SampleType: "meat",
	})
	require.NoError(t, err)

	resp := e.postJSON(t, "/labs/upload-report", map[string]any{
		"request_id":       req.ID.String(),
		"lab_id":           e.lab.ID.String(),
		"detected_residue": 12.5,
		"legal_limit":      100.0,
		"final_status":     "safe",
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "safe", body["final_status"])
}

func TestUploadReport_BeforeCollectionConflicts(t *testing.T) {
	e := newEnv(t)
	req := e.open(t)

	resp := e.postJSON(t, "/labs/upload-report", map[string]any{
		"request_id":       req.ID.String(),
		"lab_id":           e.lab.ID.String(),
		"detected_residue": 12.5,
		"legal_limit":      100.0,
		"final_status":     "safe",
	})

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
