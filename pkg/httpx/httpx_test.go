package httpx

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteDataEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteData(rec, 200, map[string]any{"success": true, "message": "ok"})
	if rec.Code != 200 {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if ct := rec.Header().Get("content-type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["success"] != true {
		t.Fatalf("payload not passed through: %v", body)
	}
	if _, hasErr := body["error"]; hasErr {
		t.Fatal("success envelope must not carry an error")
	}
}

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, NotFound("no such key"))
	if rec.Code != 404 {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var body struct {
		RequestID string `json:"request_id"`
		Error     struct {
			ID      string `json:"id"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Error.ID != IDNotFound || body.Error.Message != "no such key" {
		t.Fatalf("unexpected error body: %+v", body.Error)
	}
	if !strings.HasPrefix(body.RequestID, "req_") {
		t.Fatalf("unexpected request id %q", body.RequestID)
	}
}

func TestErrorConstructors(t *testing.T) {
	cases := []struct {
		err    *Error
		status int
		id     string
	}{
		{Invalid("x"), 400, IDInvalidRequest},
		{Unauthorized("x"), 401, IDUnauthorizedRequest},
		{Forbidden("x"), 403, IDForbiddenRequest},
		{NotFound("x"), 404, IDNotFound},
		{Internal("x"), 500, IDInternalError},
	}
	for _, c := range cases {
		if c.err.Status != c.status || c.err.ID != c.id {
			t.Fatalf("constructor mismatch: %+v", c.err)
		}
		if c.err.Error() != "x" {
			t.Fatalf("Error() should return the message, got %q", c.err.Error())
		}
	}
}
