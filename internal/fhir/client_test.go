package fhir

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// newFakeFHIRServer builds an echo-backed stand-in for a remote FHIR endpoint.
func newFakeFHIRServer(t *testing.T, register func(e *echo.Echo)) *httptest.Server {
	t.Helper()
	e := echo.New()
	e.HideBanner = true
	register(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_ResolveURL(t *testing.T) {
	c := NewClient("https://ehr.example.com/api/FHIR/R4/", zerolog.Nop())

	if got := c.ResolveURL("Observation?patient=p1"); got != "https://ehr.example.com/api/FHIR/R4/Observation?patient=p1" {
		t.Errorf("unexpected resolved URL %q", got)
	}
	if got := c.ResolveURL("/Binary/b1"); got != "https://ehr.example.com/api/FHIR/R4/Binary/b1" {
		t.Errorf("unexpected resolved URL %q", got)
	}
	abs := "https://other.example.com/Binary/b1"
	if got := c.ResolveURL(abs); got != abs {
		t.Errorf("absolute references must pass through, got %q", got)
	}
}

func TestClient_Metadata(t *testing.T) {
	srv := newFakeFHIRServer(t, func(e *echo.Echo) {
		e.GET("/metadata", func(c echo.Context) error {
			return c.JSON(http.StatusOK, map[string]interface{}{
				"resourceType": "CapabilityStatement",
				"fhirVersion":  "4.0.1",
			})
		})
	})

	c := NewClient(srv.URL, zerolog.Nop())
	caps, err := c.Metadata(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if caps.ResourceType != "CapabilityStatement" || caps.FHIRVersion != "4.0.1" {
		t.Errorf("unexpected capability statement %+v", caps)
	}
}

func TestClient_SearchAll_FollowsNextLinks(t *testing.T) {
	var srv *httptest.Server
	srv = newFakeFHIRServer(t, func(e *echo.Echo) {
		e.GET("/Observation", func(c echo.Context) error {
			if c.QueryParam("page") == "2" {
				return c.JSON(http.StatusOK, map[string]interface{}{
					"resourceType": "Bundle",
					"type":         "searchset",
					"entry": []map[string]interface{}{
						{"resource": map[string]interface{}{"resourceType": "Observation", "id": "o2"}},
					},
				})
			}
			return c.JSON(http.StatusOK, map[string]interface{}{
				"resourceType": "Bundle",
				"type":         "searchset",
				"link": []map[string]string{
					{"relation": "next", "url": srv.URL + "/Observation?patient=p1&page=2"},
				},
				"entry": []map[string]interface{}{
					{"resource": map[string]interface{}{"resourceType": "Observation", "id": "o1"}},
				},
			})
		})
	})

	c := NewClient(srv.URL, zerolog.Nop())
	got, err := c.SearchAll(context.Background(), "Observation?patient=p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 resources across pages, got %d", len(got))
	}
	if got[0].ID != "o1" || got[1].ID != "o2" {
		t.Errorf("page order must be preserved, got %s, %s", got[0].ID, got[1].ID)
	}
}

func TestClient_Search_SendsBearerToken(t *testing.T) {
	var gotAuth, gotAccept string
	srv := newFakeFHIRServer(t, func(e *echo.Echo) {
		e.GET("/Condition", func(c echo.Context) error {
			gotAuth = c.Request().Header.Get("Authorization")
			gotAccept = c.Request().Header.Get("Accept")
			return c.JSON(http.StatusOK, map[string]interface{}{"resourceType": "Bundle", "type": "searchset"})
		})
	})

	c := NewClient(srv.URL, zerolog.Nop())
	c.SetToken("tok-123")
	if _, err := c.Search(context.Background(), "Condition?patient=p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("expected bearer token header, got %q", gotAuth)
	}
	if gotAccept != "application/fhir+json, application/json" {
		t.Errorf("unexpected accept header %q", gotAccept)
	}
}

func TestClient_Get_ErrorClassification(t *testing.T) {
	srv := newFakeFHIRServer(t, func(e *echo.Echo) {
		e.GET("/unauthorized", func(c echo.Context) error { return c.NoContent(http.StatusUnauthorized) })
		e.GET("/forbidden", func(c echo.Context) error { return c.NoContent(http.StatusForbidden) })
		e.GET("/absent", func(c echo.Context) error { return c.NoContent(http.StatusNotFound) })
		e.GET("/bad", func(c echo.Context) error {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"resourceType": "OperationOutcome",
				"issue": []map[string]interface{}{
					{"severity": "error", "diagnostics": "unsupported category"},
				},
			})
		})
		e.GET("/broken", func(c echo.Context) error { return c.NoContent(http.StatusBadGateway) })
	})

	c := NewClient(srv.URL, zerolog.Nop())
	ctx := context.Background()

	var authErr *AuthError
	if _, err := c.get(ctx, srv.URL+"/unauthorized"); !errors.As(err, &authErr) {
		t.Errorf("expected AuthError for 401, got %v", err)
	}
	if _, err := c.get(ctx, srv.URL+"/forbidden"); !errors.As(err, &authErr) {
		t.Errorf("expected AuthError for 403, got %v", err)
	}

	if _, err := c.get(ctx, srv.URL+"/absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for 404, got %v", err)
	}

	var reqErr *RequestError
	if _, err := c.get(ctx, srv.URL+"/bad"); !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError for 400, got %v", err)
	}
	if reqErr.Outcome != "unsupported category" {
		t.Errorf("expected outcome text in RequestError, got %q", reqErr.Outcome)
	}

	var connErr *ConnectionError
	if _, err := c.get(ctx, srv.URL+"/broken"); !errors.As(err, &connErr) {
		t.Errorf("expected ConnectionError for 502, got %v", err)
	}
}

func TestClient_Get_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	var connErr *ConnectionError
	if _, err := c.get(context.Background(), srv.URL+"/metadata"); !errors.As(err, &connErr) {
		t.Errorf("expected ConnectionError for refused connection, got %v", err)
	}
}

func TestClient_Operation(t *testing.T) {
	var gotPath, gotPatient string
	srv := newFakeFHIRServer(t, func(e *echo.Echo) {
		e.GET("/Binary/$autogen-ccd-if", func(c echo.Context) error {
			gotPath = c.Request().URL.Path
			gotPatient = c.QueryParam("patient")
			return c.JSON(http.StatusOK, map[string]interface{}{
				"resourceType": "Parameters",
				"parameter": []map[string]interface{}{
					{"name": "result", "resource": map[string]interface{}{"resourceType": "Binary", "id": "ccd1", "data": "PGRvYy8+"}},
				},
			})
		})
	})

	c := NewClient(srv.URL, zerolog.Nop())
	params := url.Values{}
	params.Set("patient", "p1")
	p, err := c.Operation(context.Background(), "Binary", "autogen-ccd-if", params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/Binary/$autogen-ccd-if" || gotPatient != "p1" {
		t.Errorf("unexpected request %s patient=%s", gotPath, gotPatient)
	}
	if len(p.Parameter) != 1 || p.Parameter[0].Name != "result" {
		t.Errorf("unexpected parameters %+v", p)
	}
}

func TestIsRecoverable(t *testing.T) {
	if !IsRecoverable(&AuthError{URL: "u", StatusCode: 401}) {
		t.Error("auth failures must be recoverable")
	}
	if !IsRecoverable(&ConnectionError{URL: "u", Err: errors.New("refused")}) {
		t.Error("connection failures must be recoverable")
	}
	if IsRecoverable(&RequestError{URL: "u", StatusCode: 400}) {
		t.Error("request rejections are not recoverable")
	}
	if IsRecoverable(ErrAuthConfiguration) {
		t.Error("configuration failures are fatal, not recoverable")
	}
	if IsRecoverable(nil) {
		t.Error("nil error is not recoverable")
	}
}
