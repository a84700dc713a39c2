package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"masthead/api/internal/store"
)

func testServer(t *testing.T, fs *fakeStore) (*httptest.Server, *Service) {
	t.Helper()
	s, _, _ := testService(t, fs)
	server := httptest.NewServer(NewHTTPServer(s, "*").Handler())
	t.Cleanup(server.Close)
	return server, s
}

func issueTestToken(t *testing.T, s *Service, fs *fakeStore, role string) string {
	t.Helper()
	id := "op_" + role
	fs.operators[id] = store.Operator{
		ID:          id,
		DisplayName: "Test " + role,
		Email:       role + "@masthead.test",
		Role:        role,
	}
	session, err := s.CreateSession(context.Background(), id)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return session.Token
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := testServer(t, newFakeStore())
	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["ok"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	server, _ := testServer(t, newFakeStore())
	for _, path := range []string{"/api/submissions", "/api/duplicates", "/api/summary"} {
		resp, body := doJSON(t, http.MethodGet, server.URL+path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", path, resp.StatusCode)
		}
		if body["code"] != "UNAUTHORIZED" {
			t.Errorf("%s: code = %v", path, body["code"])
		}
	}
}

func TestMergeRequiresEditorRole(t *testing.T) {
	fs := newFakeStore()
	seedSubmission(fs, "sub_a", "Harbor Lights", nil, time.Now(), nil, nil)
	seedSubmission(fs, "sub_b", "Harbor Lights", nil, time.Now(), nil, nil)
	server, s := testServer(t, fs)

	viewer := issueTestToken(t, s, fs, "viewer")
	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/merge", viewer, MergeInput{
		SurvivorID: "sub_a",
		DiscardIDs: []string{"sub_b"},
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer merge: status = %d, want 403", resp.StatusCode)
	}
	if body["code"] != "FORBIDDEN" {
		t.Errorf("code = %v", body["code"])
	}

	editor := issueTestToken(t, s, fs, "editor")
	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/merge", editor, MergeInput{
		SurvivorID: "sub_a",
		DiscardIDs: []string{"sub_b"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("editor merge: status = %d, body = %v", resp.StatusCode, body)
	}
	merge := body["merge"].(map[string]any)
	if merge["survivorId"] != "sub_a" {
		t.Errorf("survivorId = %v", merge["survivorId"])
	}
}

func TestMergeValidationOverHTTP(t *testing.T) {
	fs := newFakeStore()
	server, s := testServer(t, fs)
	editor := issueTestToken(t, s, fs, "editor")

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/merge", editor, MergeInput{
		SurvivorID: "sub_a",
		DiscardIDs: []string{"sub_a"},
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if body["code"] != "VALIDATION_ERROR" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestMergeMissingIDsOverHTTP(t *testing.T) {
	fs := newFakeStore()
	seedSubmission(fs, "sub_a", "Harbor Lights", nil, time.Now(), nil, nil)
	server, s := testServer(t, fs)
	editor := issueTestToken(t, s, fs, "editor")

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/merge", editor, MergeInput{
		SurvivorID: "sub_a",
		DiscardIDs: []string{"sub_gone"},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	details := body["details"].(map[string]any)
	missing := details["missingIds"].([]any)
	if len(missing) != 1 || missing[0] != "sub_gone" {
		t.Errorf("missingIds = %v", missing)
	}
}

func TestDuplicatesEndpoint(t *testing.T) {
	fs := newFakeStore()
	priya := seedContributor(fs, "ctr_1", "Priya Narayan", "priya@example.org")
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedSubmission(fs, "sub_a", "Harbor Lights at Dusk", priya, base, nil, nil)
	seedSubmission(fs, "sub_b", "harbor lights at dusk", priya, base.Add(time.Hour), nil, nil)
	server, s := testServer(t, fs)

	viewer := issueTestToken(t, s, fs, "viewer")
	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/duplicates", viewer, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestDeleteSubmissionRequiresEditor(t *testing.T) {
	fs := newFakeStore()
	seedSubmission(fs, "sub_a", "Harbor Lights", nil, time.Now(), nil, nil)
	server, s := testServer(t, fs)

	viewer := issueTestToken(t, s, fs, "viewer")
	resp, _ := doJSON(t, http.MethodDelete, server.URL+"/api/submissions/sub_a", viewer, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer delete: status = %d, want 403", resp.StatusCode)
	}

	editor := issueTestToken(t, s, fs, "editor")
	resp, body := doJSON(t, http.MethodDelete, server.URL+"/api/submissions/sub_a", editor, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("editor delete: status = %d, body = %v", resp.StatusCode, body)
	}
	if body["deleted"] != "sub_a" {
		t.Errorf("deleted = %v", body["deleted"])
	}
}

func TestIntakeImportOverHTTP(t *testing.T) {
	fs := newFakeStore()
	server, s := testServer(t, fs)
	editor := issueTestToken(t, s, fs, "editor")

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/intake/import", editor, map[string]any{
		"items": []map[string]any{
			{"sourceId": "form-1", "title": "Fresh Piece"},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["importedCount"] != float64(1) {
		t.Errorf("importedCount = %v", body["importedCount"])
	}
}

func TestSearchLimitValidation(t *testing.T) {
	fs := newFakeStore()
	server, s := testServer(t, fs)
	viewer := issueTestToken(t, s, fs, "viewer")

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/search?q=harbor&limit=abc", viewer, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if body["code"] != "VALIDATION_ERROR" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestSessionEndpointWithoutToken(t *testing.T) {
	server, _ := testServer(t, newFakeStore())
	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/session", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["authenticated"] != false {
		t.Errorf("authenticated = %v", body["authenticated"])
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	fs := newFakeStore()
	server, s := testServer(t, fs)
	viewer := issueTestToken(t, s, fs, "viewer")
	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/nope", viewer, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["code"] != "NOT_FOUND" {
		t.Errorf("code = %v", body["code"])
	}
}
