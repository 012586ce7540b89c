package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconciler/internal/identity/models"
	"reconciler/internal/identity/service"
	"reconciler/internal/identity/store/contact"
	id "reconciler/pkg/domain"
	dErrors "reconciler/pkg/domain-errors"
	"reconciler/pkg/platform/httputil"
	"reconciler/pkg/testutil"
)

func ptr[T any](v T) *T { return &v }

func newRouter(svc Service) http.Handler {
	r := chi.NewRouter()
	New(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r
}

func postIdentify(t *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/identify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeIdentify(t *testing.T, rec *httptest.ResponseRecorder) ContactResponse {
	t.Helper()
	var resp IdentifyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Contact
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var resp httputil.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestIdentifyEndToEnd(t *testing.T) {
	router := newRouter(service.New(contact.NewInMemory()))

	rec := postIdentify(t, router, `{"email":"a@x.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"contact":{"primaryContactId":1,"emails":["a@x.com"],"phoneNumbers":[],"secondaryContactIds":[]}}`,
		rec.Body.String())

	rec = postIdentify(t, router, `{"email":"a@x.com","phoneNumber":123}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeIdentify(t, rec)
	assert.Equal(t, int64(1), got.PrimaryContactID)
	assert.Equal(t, []string{"123"}, got.PhoneNumbers)
	assert.Equal(t, []int64{2}, got.SecondaryContactIDs)

	rec = postIdentify(t, router, `{"email":"b@y.com","phoneNumber":456}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postIdentify(t, router, `{"email":"a@x.com","phoneNumber":456}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"contact":{"primaryContactId":1,"emails":["a@x.com","b@y.com"],"phoneNumbers":["123","456"],"secondaryContactIds":[2,3]}}`,
		rec.Body.String())

	testutil.Given(t, "a consolidated identity", func(t *testing.T) {
		testutil.When(t, "looking up a secondary", func(t *testing.T) {
			rec := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/contacts/3"))
			testutil.AssertStatusOK(t, rec)
			testutil.Then(t, "the primary view is returned", func(t *testing.T) {
				assert.Equal(t, int64(1), testutil.UnmarshalResponse[IdentifyResponse](t, rec).Contact.PrimaryContactID)
			})
		})

		testutil.When(t, "deleting the primary", func(t *testing.T) {
			rec := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodDelete, "/contacts/1"))
			testutil.Then(t, "it conflicts while secondaries exist", func(t *testing.T) {
				testutil.AssertStatusAndError(t, rec, http.StatusConflict, string(dErrors.CodeConflict))
			})
		})

		testutil.When(t, "deleting a secondary", func(t *testing.T) {
			rec := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodDelete, "/contacts/3"))
			testutil.Then(t, "it is soft deleted", func(t *testing.T) {
				testutil.AssertStatus(t, rec, http.StatusNoContent)
			})
		})
	})
}

func TestIdentifyRejectsInvalidInput(t *testing.T) {
	router := newRouter(service.New(contact.NewInMemory()))

	tests := []struct {
		name     string
		body     string
		wantCode string
		wantDesc string
	}{
		{"missing identifiers", `{}`, "validation_error", "Either email or phoneNumber must be provided"},
		{"bad email", `{"email":"nope"}`, "validation_error", "Invalid email format"},
		{"padded email", `{"email":" a@x.com"}`, "validation_error", "Invalid email format"},
		{"blank email", `{"email":"   "}`, "validation_error", "Invalid email format"},
		{"empty email without phone", `{"email":""}`, "validation_error", "Either email or phoneNumber must be provided"},
		{"string phone", `{"phoneNumber":"123"}`, "validation_error", "phoneNumber must be a number"},
		{"malformed json", `{"email":`, "bad_request", "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postIdentify(t, router, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, resp.Error)
			assert.Equal(t, tt.wantDesc, resp.ErrorDescription)
		})
	}

	t.Run("oversized body", func(t *testing.T) {
		body := `{"email":"` + strings.Repeat("a", httputil.MaxBodyBytes) + `@x.com"}`
		rec := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodPost, "/identify", body))
		testutil.AssertStatusAndError(t, rec, http.StatusBadRequest, "bad_request")
	})
}

type failingService struct {
	err error
}

func (f failingService) Identify(context.Context, models.IdentifyRequest) (*models.IdentityView, error) {
	return nil, f.err
}

func (f failingService) Lookup(context.Context, id.ContactID) (*models.IdentityView, error) {
	return nil, f.err
}

func (f failingService) SoftDelete(context.Context, id.ContactID) error {
	return f.err
}

func TestServiceErrorsAreMapped(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantDesc   string
	}{
		{"data integrity hides detail", dErrors.New(dErrors.CodeDataIntegrity, "two primaries"), http.StatusInternalServerError, "data_integrity_error", ""},
		{"store failure hides detail", dErrors.Wrap(errors.New("dial tcp"), dErrors.CodeInternal, "failed"), http.StatusInternalServerError, "internal_error", ""},
		{"conflict", dErrors.New(dErrors.CodeConflict, "concurrent update, retry the request"), http.StatusConflict, "conflict", "concurrent update, retry the request"},
		{"timeout", dErrors.New(dErrors.CodeTimeout, "request timed out"), http.StatusGatewayTimeout, "timeout", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postIdentify(t, newRouter(failingService{err: tt.err}), `{"email":"a@x.com"}`)
			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, resp.Error)
			assert.Equal(t, tt.wantDesc, resp.ErrorDescription)
		})
	}
}

func TestContactPathValidation(t *testing.T) {
	router := newRouter(failingService{err: dErrors.New(dErrors.CodeNotFound, "contact not found")})

	for _, path := range []string{"/contacts/abc", "/contacts/0", "/contacts/-1"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/contacts/9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIdentifyMiddlewareOnlyGuardsIdentify(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	r := chi.NewRouter()
	New(service.New(contact.NewInMemory()), slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithIdentifyMiddleware(deny),
	).Register(r)

	rec := postIdentify(t, r, `{"email":"a@x.com"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/contacts/1", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
