package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/fire-calls", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"calls": [
				{"id": "a1", "agency": "Dallas FD", "location": "Dallas, TX", "state": "Texas",
				 "timestamp": "2025-06-01 12:00:00", "acknowledged": false, "audio_url": "https://x/a1.mp3"}
			],
			"queue_size": 3,
			"check_start": "2025-06-01T12:00:00+00:00Z"
		}`)
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", time.Second)
	resp, err := client.FetchCalls(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Calls, 1)
	assert.Equal(t, "a1", resp.Calls[0].ID)
	assert.Equal(t, "Texas", resp.Calls[0].State)
	assert.False(t, resp.Calls[0].Acknowledged)
	require.NotNil(t, resp.QueueSize)
	assert.Equal(t, 3, *resp.QueueSize)
}

func TestFetchCallsEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	}))
	defer server.Close()

	resp, err := NewClient(server.URL, time.Second).FetchCalls(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, resp.Calls)
	assert.Empty(t, resp.Calls)
	assert.Nil(t, resp.QueueSize)
}

func TestFetchCallsErrors(t *testing.T) {
	testCases := []struct {
		name    string
		handler http.HandlerFunc
		status  int
	}{
		{
			name: "server_error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			status: http.StatusInternalServerError,
		},
		{
			name: "malformed_json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"calls": [`)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(tc.handler)
			defer server.Close()

			_, err := NewClient(server.URL, time.Second).FetchCalls(context.Background())
			require.Error(t, err)

			var statusErr *StatusError
			if tc.status != 0 {
				require.True(t, errors.As(err, &statusErr))
				assert.Equal(t, tc.status, statusErr.StatusCode)
				assert.Contains(t, err.Error(), "boom")
			} else {
				assert.False(t, errors.As(err, &statusErr))
			}
		})
	}
}

func TestFetchCallsUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient(url, 200*time.Millisecond).FetchCalls(context.Background())
	assert.Error(t, err)
}

func TestHealthAndStates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"running","queue_size":4,"check_start":"s","check_finish":"f"}`)
	})
	mux.HandleFunc("/api/states", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"states":["Texas","Ohio"]}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, time.Second)

	health, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, health.Running())
	assert.Equal(t, 4, health.QueueSize)

	list, err := client.States(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Texas", "Ohio"}, list)
}

func TestSetStateFilter(t *testing.T) {
	var received struct {
		States []string `json:"states"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/state-filter", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		io.WriteString(w, `{"success":true,"selected_count":2,"queue_size":1,"removed_from_queue":5}`)
	}))
	defer server.Close()

	res, err := NewClient(server.URL, time.Second).SetStateFilter(context.Background(), []string{"Texas", "Ohio"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Texas", "Ohio"}, received.States)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.SelectedCount)
	assert.Equal(t, 5, res.RemovedFromQueue)
}

func TestSetStateFilterSendsEmptyList(t *testing.T) {
	var raw map[string]json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		io.WriteString(w, `{"success":true}`)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, time.Second).SetStateFilter(context.Background(), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw["states"]))
}

func TestAcknowledgeAndDismissEscapeIDs(t *testing.T) {
	const id = "https://audio.example.com/calls/12 34.mp3"
	var paths []string
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.EscapedPath())
		methods = append(methods, r.Method)
		io.WriteString(w, `{"success":true,"message":"ok"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	res, err := client.Acknowledge(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = client.Dismiss(context.Background(), id)
	require.NoError(t, err)

	escaped := "/api/fire-calls/https:%2F%2Faudio.example.com%2Fcalls%2F12%2034.mp3"
	assert.Equal(t, []string{escaped + "/acknowledge", escaped}, paths)
	assert.Equal(t, []string{http.MethodPost, http.MethodDelete}, methods)
}

func TestDismissNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"success":false,"message":"Call not found"}`)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, time.Second).Dismiss(context.Background(), "gone")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestParseTimestamp(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected time.Time
		wantErr  bool
	}{
		{name: "rfc3339", input: "2025-06-01T12:30:00Z", expected: time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)},
		{name: "double_zone", input: "2025-06-01T12:30:00.250000+00:00Z", expected: time.Date(2025, 6, 1, 12, 30, 0, 250000000, time.UTC)},
		{name: "space_separated", input: "2025-06-01 12:30:00", expected: time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)},
		{name: "no_zone_fraction", input: "2025-06-01T12:30:00.5", expected: time.Date(2025, 6, 1, 12, 30, 0, 500000000, time.UTC)},
		{name: "empty", input: "", wantErr: true},
		{name: "garbage", input: "yesterday", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseTimestamp(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tc.expected.Equal(got), "got %s", got)
		})
	}
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "Never", FormatTimestamp("", time.UTC))
	assert.Equal(t, "Invalid Date", FormatTimestamp("not a date", time.UTC))
	assert.Equal(t, "Jun 1, 2025 12:30:00 PM UTC", FormatTimestamp("2025-06-01 12:30:00", time.UTC))
}
