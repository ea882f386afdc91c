package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// stationServer serves the query API the way the spreadsheet endpoint does:
// listTests returns a name array, station reads return question arrays, and
// unknown stations return an empty array rather than an error.
func stationServer(t *testing.T, stations map[string][]map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if r.URL.Query().Get("action") == "listTests" {
			json.NewEncoder(w).Encode([]string{"physics", "chemistry"})
			return
		}

		questions, ok := stations[r.URL.Query().Get("station")]
		if !ok {
			questions = []map[string]interface{}{}
		}
		json.NewEncoder(w).Encode(questions)
	}))
}

func TestListTests(t *testing.T) {
	srv := stationServer(t, nil)
	defer srv.Close()

	client := NewClient(srv.URL, 20, time.Second, zerolog.Nop())
	tests, err := client.ListTests(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(tests) != 2 || tests[0] != "physics" {
		t.Fatalf("unexpected catalog %v", tests)
	}
}

func TestFetchStationParsesOptionVariants(t *testing.T) {
	srv := stationServer(t, map[string][]map[string]interface{}{
		"1": {
			{"question": "pick one", "options": []string{"a", "b", "c"}},
			{"question": "write it out", "options": "frq"},
			{"question": "also free response"},
		},
	})
	defer srv.Close()

	client := NewClient(srv.URL, 20, time.Second, zerolog.Nop())
	questions, err := client.FetchStation(context.Background(), "physics", 1)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(questions))
	}

	if questions[0].FRQ() || len(questions[0].Options) != 3 {
		t.Fatalf("expected multiple choice, got %+v", questions[0])
	}
	if !questions[1].FRQ() {
		t.Fatalf("literal \"frq\" options must mean free response, got %+v", questions[1])
	}
	if !questions[2].FRQ() {
		t.Fatalf("missing options must mean free response, got %+v", questions[2])
	}
}

func TestFetchMissingStationReturnsEmpty(t *testing.T) {
	srv := stationServer(t, nil)
	defer srv.Close()

	client := NewClient(srv.URL, 20, time.Second, zerolog.Nop())
	questions, err := client.FetchStation(context.Background(), "physics", 7)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(questions) != 0 {
		t.Fatalf("expected empty station, got %v", questions)
	}
}

func TestCountStationsTakesHighestNonEmpty(t *testing.T) {
	question := []map[string]interface{}{{"question": "q"}}
	srv := stationServer(t, map[string][]map[string]interface{}{
		"1": question,
		"2": question,
		"3": question,
	})
	defer srv.Close()

	client := NewClient(srv.URL, 20, time.Second, zerolog.Nop())
	total, err := client.CountStations(context.Background(), "physics")
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 stations, got %d", total)
	}
}

func TestCountStationsToleratesGaps(t *testing.T) {
	question := []map[string]interface{}{{"question": "q"}}
	srv := stationServer(t, map[string][]map[string]interface{}{
		"1": question,
		"5": question,
	})
	defer srv.Close()

	client := NewClient(srv.URL, 20, time.Second, zerolog.Nop())
	total, err := client.CountStations(context.Background(), "physics")
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	// The highest station with content wins even across gaps.
	if total != 5 {
		t.Fatalf("expected 5, got %d", total)
	}
}

func TestCountStationsEmptyTest(t *testing.T) {
	srv := stationServer(t, nil)
	defer srv.Close()

	client := NewClient(srv.URL, 20, time.Second, zerolog.Nop())
	total, err := client.CountStations(context.Background(), "physics")
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected 0 stations, got %d", total)
	}
}

func TestCountStationsSurvivesFlakyProbes(t *testing.T) {
	question := []map[string]interface{}{{"question": "q"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		station := r.URL.Query().Get("station")
		if station == "2" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if station == "1" || station == "3" {
			json.NewEncoder(w).Encode(question)
			return
		}
		json.NewEncoder(w).Encode([]map[string]interface{}{})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 20, time.Second, zerolog.Nop())
	total, err := client.CountStations(context.Background(), "physics")
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if total != 3 {
		t.Fatalf("one failing probe must not abort discovery, got %d", total)
	}
}
