package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"linguachat/internal/domain"
)

func fakeLibre(t *testing.T, handle func(body []byte) (int, string)) (*LibreTranslate, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/languages" {
			fmt.Fprint(w, `[{"code":"en"}]`)
			return
		}
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		status, resp := handle(body)
		w.WriteHeader(status)
		fmt.Fprint(w, resp)
	}))
	t.Cleanup(srv.Close)
	return NewLibreTranslate(LibreTranslateConfig{APIBase: srv.URL + "/", Logger: testLogger()}), &calls
}

func TestLibreTranslate_TranslateOne(t *testing.T) {
	lt, _ := fakeLibre(t, func(body []byte) (int, string) {
		if gjson.GetBytes(body, "target").String() != "de" || gjson.GetBytes(body, "source").String() != "auto" {
			return http.StatusBadRequest, `{"error":"bad target"}`
		}
		return http.StatusOK, `{"translatedText":"Hallo"}`
	})
	out, err := lt.TranslateOne(context.Background(), "Hello", "de")
	if err != nil || out != "Hallo" {
		t.Fatalf("unexpected %q %v", out, err)
	}
}

func TestLibreTranslate_TranslateBatch(t *testing.T) {
	lt, calls := fakeLibre(t, func(body []byte) (int, string) {
		resp := `{"translatedText":[]}`
		for _, q := range gjson.GetBytes(body, "q").Array() {
			resp, _ = sjson.Set(resp, "translatedText.-1", "<"+q.String()+">")
		}
		return http.StatusOK, resp
	})
	out, err := lt.TranslateBatch(context.Background(), []string{"a", "b"}, "fr")
	if err != nil {
		t.Fatal(err)
	}
	if out[0] != "<a>" || out[1] != "<b>" {
		t.Fatalf("unexpected batch %v", out)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one request, got %d", calls.Load())
	}
}

func TestLibreTranslate_MalformedBatchKeepsOriginals(t *testing.T) {
	lt, _ := fakeLibre(t, func([]byte) (int, string) {
		return http.StatusOK, `{"translatedText":"not an array"}`
	})
	out, err := lt.TranslateBatch(context.Background(), []string{"a", "b"}, "fr")
	if err != nil || out[0] != "a" || out[1] != "b" {
		t.Fatalf("expected originals, got %v %v", out, err)
	}
}

func TestLibreTranslate_ErrorsWrapErrTranslation(t *testing.T) {
	lt, calls := fakeLibre(t, func([]byte) (int, string) {
		return http.StatusBadRequest, `{"error":"target not supported"}`
	})
	_, err := lt.TranslateOne(context.Background(), "x", "tlh")
	if !errors.Is(err, domain.ErrTranslation) {
		t.Fatalf("expected ErrTranslation, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d", calls.Load())
	}
}

func TestLibreTranslate_RetriesTooManyRequests(t *testing.T) {
	fastRetry(t)
	var n atomic.Int32
	lt, _ := fakeLibre(t, func([]byte) (int, string) {
		if n.Add(1) == 1 {
			return http.StatusTooManyRequests, `{"error":"slow down"}`
		}
		return http.StatusOK, `{"translatedText":"ok"}`
	})
	out, err := lt.TranslateOne(context.Background(), "x", "fr")
	if err != nil || out != "ok" {
		t.Fatalf("unexpected %q %v", out, err)
	}
}

func TestLibreTranslate_Healthy(t *testing.T) {
	lt, _ := fakeLibre(t, func([]byte) (int, string) { return http.StatusOK, `{}` })
	if err := lt.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy: %v", err)
	}
}
