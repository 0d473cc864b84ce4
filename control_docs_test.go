package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
)

func TestControlDocsEndpointServesSortedDocs(t *testing.T) {
	mux := http.NewServeMux()
	registerControlDocEndpoints(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/controls", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	var docs []ControlDoc
	if err := json.Unmarshal(rr.Body.Bytes(), &docs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(docs) != len(defaultControlDocs) {
		t.Fatalf("expected %d docs, got %d", len(defaultControlDocs), len(docs))
	}
	if !sort.SliceIsSorted(docs, func(i, j int) bool { return docs[i].Label < docs[j].Label }) {
		t.Fatal("expected docs sorted by label")
	}
	if defaultControlDocs[0].ID != "steering" {
		t.Fatal("shared slice was reordered")
	}
	byID := make(map[string]ControlDoc, len(docs))
	for _, doc := range docs {
		byID[doc.ID] = doc
	}
	if byID["steering"].Range != "-100..100" || byID["gesture-nitro"].Range != "3" {
		t.Fatalf("unexpected ranges %+v %+v", byID["steering"], byID["gesture-nitro"])
	}
}

func TestControlDocsEndpointRejectsPost(t *testing.T) {
	mux := http.NewServeMux()
	registerControlDocEndpoints(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/controls", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}
