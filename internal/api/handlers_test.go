package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/starford/tanda/internal/models"
	"github.com/starford/tanda/internal/tandaservice"
	"github.com/starford/tanda/internal/testutil"
)

func newTestRouter(t *testing.T) (*tandaservice.Service, http.Handler) {
	t.Helper()
	store := testutil.TestStore(t)
	idx := testutil.TestIndex(t)
	svc := tandaservice.New(store, idx, tandaservice.NewLocalSync(idx), testutil.Logger())
	return svc, NewRouter(svc)
}

func doGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestListTandas(t *testing.T) {
	svc, router := newTestRouter(t)
	if _, err := svc.Create("login works", models.StatusActive, "", []string{"auth"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create("logout works", models.StatusDeprecated, "", nil); err != nil {
		t.Fatal(err)
	}

	rec := doGet(t, router, "/tandas")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Tandas []TandaListItem `json:"tandas"`
		Total  int             `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 2 {
		t.Fatalf("total = %d, want 2", body.Total)
	}
}

func TestListTandasStatusFilter(t *testing.T) {
	svc, router := newTestRouter(t)
	if _, err := svc.Create("a", models.StatusActive, "", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create("b", models.StatusFlaky, "", nil); err != nil {
		t.Fatal(err)
	}

	rec := doGet(t, router, "/tandas?status=flaky")
	var body struct {
		Tandas []TandaListItem `json:"tandas"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Tandas) != 1 || body.Tandas[0].Status != models.StatusFlaky {
		t.Fatalf("unexpected filter result: %+v", body.Tandas)
	}
}

func TestListTandasInvalidStatus(t *testing.T) {
	_, router := newTestRouter(t)
	rec := doGet(t, router, "/tandas?status=bogus")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetTandaBySuffix(t *testing.T) {
	svc, router := newTestRouter(t)
	created, err := svc.Create("payment flow", models.StatusActive, "", nil)
	if err != nil {
		t.Fatal(err)
	}

	rec := doGet(t, router, "/tandas/"+created.ID[len(created.ID)-6:])
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got models.Tanda
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != created.ID {
		t.Errorf("id = %s, want %s", got.ID, created.ID)
	}
}

func TestGetTandaNotFound(t *testing.T) {
	_, router := newTestRouter(t)
	rec := doGet(t, router, "/tandas/td-ffffffff")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestReadyEndpoint(t *testing.T) {
	svc, router := newTestRouter(t)
	base, err := svc.Create("base", models.StatusActive, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	dep, err := svc.Create("dependent", models.StatusActive, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.AddDependency(dep.ID, base.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create("broken", models.StatusFlaky, "", nil); err != nil {
		t.Fatal(err)
	}

	rec := doGet(t, router, "/ready")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Flaky   []string `json:"flaky"`
		Ready   []string `json:"ready"`
		Blocked []string `json:"blocked"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Flaky) != 1 {
		t.Errorf("flaky = %v, want one entry", body.Flaky)
	}
	if len(body.Ready) != 2 || body.Ready[0] != base.ID || body.Ready[1] != dep.ID {
		t.Errorf("ready = %v, want [%s %s]", body.Ready, base.ID, dep.ID)
	}
	if len(body.Blocked) != 0 {
		t.Errorf("blocked = %v, want empty", body.Blocked)
	}
}
