package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
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
	"residuechain/internal/sample"
	"residuechain/internal/tamper"
	"residuechain/internal/tamper/handler"
	httptransport "residuechain/internal/transport/http"
	id "residuechain/pkg/domain"
)

type nopDispatcher struct{}

func (nopDispatcher) Send(context.Context, notify.Notification) error { return nil }

type env struct {
	server *httptest.Server
	svc    *sample.Service
	store  *tamper.InMemoryStore
	writer *tamper.Writer
	lab    labdirectory.Laboratory
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := labdirectory.NewInMemoryDirectory()
	lab := labdirectory.Laboratory{
		ID:     id.LabID(uuid.New()),
		UserID: id.UserID(uuid.New()),
		Name:   "State Residue Lab",
		State:  "Karnataka",
	}
	require.NoError(t, dir.Register(context.Background(), lab))

	store := tamper.NewInMemoryStore()
	writer := tamper.NewWriter(store, slog.Default())
	svc := sample.NewService(sample.NewInMemoryStore(), labdirectory.NewResolver(dir), nopDispatcher{}, slog.Default(),
		sample.WithAuditor(tamper.NewSampleAuditor(writer)),
	)
	router := httptransport.NewRouter(slog.Default(), nil, handler.New(writer, svc, slog.Default()))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &env{server: srv, svc: svc, store: store, writer: writer, lab: lab}
}

func (e *env) open(t *testing.T) sample.SampleRequest {
	t.Helper()
	req, err := e.svc.Open(context.Background(), sample.OpenRequest{
		TreatmentID: id.TreatmentID(uuid.New()),
		EntityID:    id.EntityID(uuid.New()),
		FarmerID:    id.FarmerID(uuid.New()),
		Location:    labdirectory.Location{State: "Karnataka"},
		SafeDate:    time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return req
}

func (e *env) verify(t *testing.T, body map[string]any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+"/tamper/verify", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestVerify_SampleRequestIntact(t *testing.T) {
	e := newEnv(t)
	req := e.open(t)

	resp := e.verify(t, map[string]any{
		"entity_type": string(tamper.EntitySampleRequest),
		"entity_id":   req.ID.String(),
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, true, out["intact"])
	assert.Equal(t, out["current_hash"], out["logged_hash"])
}

func TestVerify_DetectsTamperedLogEntry(t *testing.T) {
	e := newEnv(t)

	// Log a hash for a request that was then altered out of band: the
	// entry in the log no longer matches the stored record.
	req := e.open(t)
	forged := req
	forged.SafeDate = forged.SafeDate.AddDate(0, 0, -10)
	_, err := e.writer.Append(context.Background(), tamper.EntitySampleRequest, req.ID.String(),
		tamper.CanonicalSampleRequest(forged))
	require.NoError(t, err)

	resp := e.verify(t, map[string]any{
		"entity_type": string(tamper.EntitySampleRequest),
		"entity_id":   req.ID.String(),
	})

	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, false, out["intact"])
}

func TestVerify_TreatmentPassthroughCanonical(t *testing.T) {
	e := newEnv(t)
	canonical := tamper.CanonicalTreatment(tamper.TreatmentSnapshot{
		TreatmentID: uuid.NewString(),
		Species:     "cattle",
		Medicine:    "oxytetracycline",
	})
	entityID := uuid.NewString()
	_, err := e.writer.Append(context.Background(), tamper.EntityTreatment, entityID, canonical)
	require.NoError(t, err)

	resp := e.verify(t, map[string]any{
		"entity_type": string(tamper.EntityTreatment),
		"entity_id":   entityID,
		"canonical":   canonical,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	missing := e.verify(t, map[string]any{
		"entity_type": string(tamper.EntityTreatment),
		"entity_id":   entityID,
	})
	assert.Equal(t, http.StatusBadRequest, missing.StatusCode)
}

func TestVerify_UnknownEntityType(t *testing.T) {
	e := newEnv(t)

	resp := e.verify(t, map[string]any{
		"entity_type": "loan_request",
		"entity_id":   uuid.NewString(),
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVerify_UnloggedRecordIsNotFound(t *testing.T) {
	e := newEnv(t)

	resp := e.verify(t, map[string]any{
		"entity_type": string(tamper.EntityTreatment),
		"entity_id":   uuid.NewString(),
		"canonical":   "TR|missing",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
