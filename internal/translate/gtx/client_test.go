package gtx_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/palantir/palantir-compute-module-pipeline-translate/internal/translate/gtx"
	"github.com/palantir/palantir-compute-module-pipeline-translate/pkg/pipeline/core"
)

func TestClient_TranslateJoinsSegments(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/translate_a/single" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("client") != "gtx" || q.Get("sl") != "auto" || q.Get("tl") != "fr" || q.Get("dt") != "t" {
			http.Error(w, "bad query: "+r.URL.RawQuery, http.StatusBadRequest)
			return
		}
		if q.Get("q") != "Heals 10{PCT0} HP. Stun." {
			http.Error(w, "bad text", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`[[["Soigne 10{PCT0} PV. ","Heals 10{PCT0} HP. ",null,null,10],["Étourdit.","Stun.",null,null,10]],null,"en"]`))
	}))
	defer srv.Close()

	c, err := gtx.New(gtx.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got, err := c.Translate(context.Background(), "Heals 10{PCT0} HP. Stun.", "auto", "fr")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if got != "Soigne 10{PCT0} PV. Étourdit." {
		t.Fatalf("unexpected translation: %q", got)
	}
}

func TestClient_ClassifiesStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status        int
		wantTransient bool
		wantPermanent bool
	}{
		{status: http.StatusTooManyRequests, wantTransient: true},
		{status: http.StatusServiceUnavailable, wantTransient: true},
		{status: http.StatusBadRequest, wantPermanent: true},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", tt.status)
		}))

		c, err := gtx.New(gtx.Config{BaseURL: srv.URL})
		if err != nil {
			srv.Close()
			t.Fatalf("new: %v", err)
		}
		_, err = c.Translate(context.Background(), "Stun", "auto", "fr")
		srv.Close()

		var te *core.TransientError
		var pe *core.PermanentError
		if errors.As(err, &te) != tt.wantTransient || errors.As(err, &pe) != tt.wantPermanent {
			t.Fatalf("status %d: unexpected classification: %T %v", tt.status, err, err)
		}
	}
}

func TestClient_EmptyTextSkipsRequest(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Errorf("unexpected request")
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := gtx.New(gtx.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got, err := c.Translate(context.Background(), "  ", "auto", "fr")
	if err != nil || got != "  " {
		t.Fatalf("unexpected result %q err=%v", got, err)
	}
}

func TestClient_MalformedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"not":"an array"}`))
	}))
	defer srv.Close()

	c, err := gtx.New(gtx.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.Translate(context.Background(), "Stun", "auto", "fr"); err == nil {
		t.Fatalf("expected parse error")
	}
}
