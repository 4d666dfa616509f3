package directions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/clinic-billing/internal/platform/httpx"
	"github.com/odyssey-erp/clinic-billing/internal/shared"
)

type stubProcessor struct {
	dir Direction
	err error
	in  Input
}

func (s *stubProcessor) Process(_ context.Context, in Input) (Direction, error) {
	s.in = in
	return s.dir, s.err
}

func serve(t *testing.T, p OrderProcessor, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/directions", NewHandler(nil, p).MountRoutes)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/directions/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCreatesDirection(t *testing.T) {
	p := &stubProcessor{dir: Direction{ID: 5, Title: "2024-05-10 Jane Roe"}}
	rec := serve(t, p, `{"date":"2024-05-10","patient_id":1,"patient_name":"Jane Roe","doctor_id":3,"clinic_id":2,"service_ids":[1,100]}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, []int64{1, 100}, p.in.ServiceIDs)
	var got Direction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, int64(5), got.ID)
}

func TestHandlerReportsRejection(t *testing.T) {
	p := &stubProcessor{err: reject(StageTariffResolved, shared.ValidationErrors{"clinic_id": "clinic has no tariff contract"})}
	rec := serve(t, p, `{"date":"2024-05-10"}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "rejected at tariff_resolved", problem.Detail)
	require.Equal(t, "clinic has no tariff contract", problem.Errors["clinic_id"])
}

func TestHandlerReportsReplayAsConflict(t *testing.T) {
	rec := serve(t, &stubProcessor{err: ErrAlreadyProcessed}, `{"date":"2024-05-10"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerRejectsMalformedBody(t *testing.T) {
	rec := serve(t, &stubProcessor{}, `{"date":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, &stubProcessor{}, `{"unknown":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
