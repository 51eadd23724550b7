package http

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"

	"estately/internal/importer"
	"estately/internal/profiles"
	"estately/internal/properties"
)

func TestDecodeJSONBody_AllowsPayloadWithinLimit(t *testing.T) {
	body := strings.NewReader(`{"name":"estately"}`)
	req := httptest.NewRequest("POST", "/api/properties", body)
	rec := httptest.NewRecorder()

	var dst map[string]string
	if err := decodeJSONBody(rec, req, &dst); err != nil {
		t.Fatalf("decodeJSONBody returned error: %v", err)
	}
	if dst["name"] != "estately" {
		t.Fatalf("expected key to be decoded, got %v", dst)
	}
}

func TestDecodeJSONBody_RejectsPayloadExceedingLimit(t *testing.T) {
	var b strings.Builder
	b.Grow(int(maxJSONBodyBytes) + 32)
	b.WriteString(`{"data":"`)
	for i := int64(0); i < maxJSONBodyBytes; i++ {
		b.WriteByte('a')
	}
	b.WriteString(`"}`)

	req := httptest.NewRequest("POST", "/api/properties", strings.NewReader(b.String()))
	rec := httptest.NewRecorder()

	var dst map[string]string
	err := decodeJSONBody(rec, req, &dst)
	if err == nil {
		t.Fatal("expected error for oversized payload")
	}
	if !strings.Contains(err.Error(), "payload too large") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseOrder(t *testing.T) {
	tests := []struct {
		raw       string
		column    string
		ascending bool
		wantErr   bool
	}{
		{raw: "", column: "created_at"},
		{raw: "price.asc", column: "price", ascending: true},
		{raw: "views.desc", column: "views"},
		{raw: "price", column: "price"},
		{raw: "price.sideways", wantErr: true},
		{raw: ".asc", wantErr: true},
	}
	for _, tt := range tests {
		column, ascending, err := parseOrder(url.Values{"order": {tt.raw}}, "created_at")
		if tt.wantErr {
			if err == nil {
				t.Fatalf("order %q: expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("order %q: unexpected error %v", tt.raw, err)
		}
		if column != tt.column || ascending != tt.ascending {
			t.Fatalf("order %q: got %s/%v, want %s/%v", tt.raw, column, ascending, tt.column, tt.ascending)
		}
	}
}

func TestFilterParamAcceptsEqualityPrefix(t *testing.T) {
	values := url.Values{"city": {"eq.Porto"}, "status": {"active"}}
	if got := filterParam(values, "city"); got != "Porto" {
		t.Fatalf("expected Porto, got %q", got)
	}
	if got := filterParam(values, "status"); got != "active" {
		t.Fatalf("expected active, got %q", got)
	}
}

func TestPropertyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	seller := env.register("seller@example.com", profiles.RoleSeller, false)

	created := env.createListing(seller, "Riverside House")
	if created.OwnerID != seller.profile.ID || created.Status != properties.StatusActive {
		t.Fatalf("unexpected listing: %+v", created)
	}

	rec := env.do(http.MethodGet, "/api/properties?city=eq.lisbon&order=price.asc", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Total-Count") != "1" {
		t.Fatalf("expected X-Total-Count 1, got %q", rec.Header().Get("X-Total-Count"))
	}
	page := decodeBody[listResponse[properties.Property]](t, rec)
	if len(page.Rows) != 1 || page.Rows[0].ID != created.ID {
		t.Fatalf("unexpected page: %+v", page)
	}

	path := "/api/properties/" + created.ID.String()
	rec = env.do(http.MethodGet, path, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	if viewed := decodeBody[properties.Property](t, rec); viewed.Views != 1 {
		t.Fatalf("expected view to be counted, got %d", viewed.Views)
	}

	area := 120.5
	rec = env.do(http.MethodPatch, path, seller.token, map[string]any{"area_sqm": area, "price": 275000})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[properties.Property](t, rec)
	if updated.Price != 275000 || updated.AreaSqm == nil || *updated.AreaSqm != area {
		t.Fatalf("unexpected update: %+v", updated)
	}

	rec = env.do(http.MethodPatch, path, seller.token, map[string]any{"area_sqm": nil})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch null: expected 200, got %d", rec.Code)
	}
	if cleared := decodeBody[properties.Property](t, rec); cleared.AreaSqm != nil || cleared.Price != 275000 {
		t.Fatalf("expected area to be cleared and price kept, got %+v", cleared)
	}

	rec = env.do(http.MethodDelete, path, seller.token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}
	rec = env.do(http.MethodGet, path, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", rec.Code)
	}
}

func TestPropertyCreateRules(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.register("buyer@example.com", profiles.RoleBuyer, false)
	seller := env.register("seller@example.com", profiles.RoleSeller, false)

	payload := map[string]any{"title": "Flat", "listing_type": "rent", "property_type": "apartment", "price": 900, "city": "Porto"}

	rec := env.do(http.MethodPost, "/api/properties", "", payload)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: expected 401, got %d", rec.Code)
	}

	rec = env.do(http.MethodPost, "/api/properties", buyer.token, payload)
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "forbidden" {
		t.Fatalf("buyer: expected 403 forbidden, got %d %s", rec.Code, rec.Body.String())
	}

	other := uuid.New()
	withOwner := map[string]any{"owner_id": other, "title": "Flat", "listing_type": "rent", "property_type": "apartment", "price": 900, "city": "Porto"}
	rec = env.do(http.MethodPost, "/api/properties", seller.token, withOwner)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign owner_id: expected 403, got %d", rec.Code)
	}

	for i := 0; i < properties.FreeListingLimit; i++ {
		env.createListing(seller, fmt.Sprintf("Listing %d", i))
	}
	rec = env.do(http.MethodPost, "/api/properties", seller.token, payload)
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "listing_limit" {
		t.Fatalf("limit: expected 403 listing_limit, got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodPost, "/api/rpc/upgrade_premium", seller.token, map[string]string{"plan": "monthly"})
	if rec.Code != http.StatusOK {
		t.Fatalf("upgrade: expected 200, got %d", rec.Code)
	}
	if upgraded := decodeBody[profiles.Profile](t, rec); !upgraded.IsPremium || upgraded.PremiumExpiresAt == nil {
		t.Fatalf("expected premium profile, got %+v", upgraded)
	}

	payload["featured"] = true
	rec = env.do(http.MethodPost, "/api/properties", seller.token, payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("premium: expected 201, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestPropertyCreateRequiresProfile(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/auth/signup", "", map[string]string{"email": "noprofile@example.com", "password": testPassword})
	if rec.Code != http.StatusOK {
		t.Fatalf("signup: expected 200, got %d", rec.Code)
	}
	token := decodeBody[struct {
		Session struct {
			AccessToken string `json:"access_token"`
		} `json:"session"`
	}](t, rec).Session.AccessToken

	rec = env.do(http.MethodPost, "/api/properties", token, map[string]any{"title": "x"})
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "profile_required" {
		t.Fatalf("expected 403 profile_required, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestPropertyUpdateRejectsUnknownAndImmutableFields(t *testing.T) {
	env := newTestEnv(t)
	seller := env.register("seller@example.com", profiles.RoleSeller, false)
	listing := env.createListing(seller, "Cottage")
	path := "/api/properties/" + listing.ID.String()

	for _, body := range []map[string]any{{"colour": "red"}, {"views": 100}, {"price": "cheap"}} {
		rec := env.do(http.MethodPatch, path, seller.token, body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("patch %v: expected 400, got %d", body, rec.Code)
		}
	}

	intruder := env.register("intruder@example.com", profiles.RoleSeller, false)
	rec := env.do(http.MethodPatch, path, intruder.token, map[string]any{"price": 1})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("intruder: expected 403, got %d", rec.Code)
	}
}

func TestPropertyListRejectsBadFilters(t *testing.T) {
	env := newTestEnv(t)
	for _, query := range []string{"listing_type=castle", "min_price=abc", "limit=0", "order=price.up", "owner_id=me"} {
		rec := env.do(http.MethodGet, "/api/properties?"+query, "", nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rec.Code)
		}
	}
}

func TestPropertyImageUploadServedFromStorage(t *testing.T) {
	env := newTestEnv(t)
	seller := env.register("seller@example.com", profiles.RoleSeller, false)
	listing := env.createListing(seller, "Sunny Flat")

	image := []byte("\x89PNG\r\n\x1a\nfake-image-bytes")
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="front.png"`)
	header.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(image); err != nil {
		t.Fatalf("write part: %v", err)
	}
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/properties/"+listing.ID.String()+"/images", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := env.send(req, seller.token)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[properties.Property](t, rec)
	if len(updated.Images) != 1 {
		t.Fatalf("expected one image, got %v", updated.Images)
	}

	imageURL, err := url.Parse(updated.Images[0])
	if err != nil {
		t.Fatalf("parse image url: %v", err)
	}
	rec = env.do(http.MethodGet, imageURL.Path, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("storage: expected 200, got %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), image) {
		t.Fatalf("served image differs from upload")
	}
}

func TestPropertyImportAndExportCSV(t *testing.T) {
	env := newTestEnv(t)
	seller := env.register("seller@example.com", profiles.RoleSeller, false)

	req := newMultipartCSVRequest(t, strings.Join([]string{
		"title,listing_type,property_type,price,city,bedrooms",
		"Harbor Loft,sale,apartment,350000,Lisbon,2",
		"Garden Studio,rent,apartment,950,Porto,1",
	}, "\n"))
	rec := env.send(req, seller.token)
	if rec.Code != http.StatusOK {
		t.Fatalf("import: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	summary := decodeBody[importer.Summary](t, rec)
	if summary.Imported != 2 || summary.TotalRows != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	rec = env.do(http.MethodGet, "/api/properties/export", seller.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d", rec.Code)
	}
	if contentType := rec.Header().Get("Content-Type"); contentType != "text/csv; charset=utf-8" {
		t.Fatalf("expected csv content type, got %q", contentType)
	}
	disposition := rec.Header().Get("Content-Disposition")
	if !strings.HasPrefix(disposition, `attachment; filename="estately-listings-`) {
		t.Fatalf("unexpected content disposition: %q", disposition)
	}
	rows, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 || rows[0][0] != "schema_version" {
		t.Fatalf("unexpected export rows: %v", rows)
	}
}

func TestPropertyImportRejectsMissingColumns(t *testing.T) {
	env := newTestEnv(t)
	seller := env.register("seller@example.com", profiles.RoleSeller, false)

	rec := env.send(newMultipartCSVRequest(t, "title,city\nLoft,Lisbon\n"), seller.token)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPropertyImportUnavailable(t *testing.T) {
	handler := NewPropertyHandler(nil, nil, nil, nil, discardLogger())
	rec := httptest.NewRecorder()

	handler.ImportCSV(rec, newMultipartCSVRequest(t, "title\nA\n"))

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected status 501, got %d", rec.Code)
	}
}

func newMultipartCSVRequest(t *testing.T, content string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "import.csv")
	if err != nil {
		t.Fatalf("failed to create multipart form: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("failed to write csv: %v", err)
	}
	_ = writer.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/properties/import", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}
