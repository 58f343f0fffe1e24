package hydrascrape

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hydrascrape/hydrascrape/internal/types"
)

func TestRunEmptyInputFails(t *testing.T) {
	_, err := Run(context.Background(), nil, Options{
		DataDir:  t.TempDir(),
		HTTPOnly: true,
	})
	if !errors.Is(err, types.ErrMissingInput) {
		t.Fatalf("err = %v, want ErrMissingInput", err)
	}
}

func TestRunEndToEnd(t *testing.T) {
	body := "<html><head><title>Doc</title></head><body>" +
		strings.Repeat("text ", 500) + "</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	urls := []string{srv.URL + "/a", srv.URL + "/b"}
	result, err := Run(context.Background(), urls, Options{
		DataDir:  t.TempDir(),
		RunID:    "sdk",
		HTTPOnly: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Summary.StatsRows != 2 || result.Summary.SuccessRate != 1.0 {
		t.Errorf("summary = %+v", result.Summary)
	}
}

func TestRunFileMissingInput(t *testing.T) {
	_, err := RunFile(context.Background(), "/nonexistent/urls.txt", Options{
		DataDir:  t.TempDir(),
		HTTPOnly: true,
	})
	if err == nil {
		t.Fatal("missing input file must error")
	}
}
