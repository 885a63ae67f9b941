package ttsclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWAV = "RIFF....WAVE"

func newTestClient(t *testing.T, baseURL, sttURL string) (*Client, *[]time.Duration) {
	t.Helper()

	log, err := logger.New(t.TempDir(), "ttsclient-test.log")
	require.NoError(t, err)

	client := New(Options{
		BaseURL:        baseURL,
		STTBaseURL:     sttURL,
		MaxAttempts:    3,
		BackoffSeconds: []int{5, 10, 20},
	}, log)

	var waits []time.Duration

	client.sleep = func(d time.Duration) {
		waits = append(waits, d)
	}

	return client, &waits
}

func TestGeneratePreset_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, apiGeneratePreset, r.URL.Path)

			var req presetRequest

			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "Hello world.", req.Text)
			assert.Equal(t, "Aiden", req.Voice)
			assert.Equal(t, "English", req.Language)
			assert.Equal(t, DefaultMaxTokensPreset, req.MaxNewTokens)

			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(testWAV))
		}),
	)
	defer server.Close()

	client, waits := newTestClient(t, server.URL, "")

	audio, err := client.GeneratePreset(context.Background(), "Hello world.", "Aiden", "English")
	require.NoError(t, err)
	assert.Equal(t, []byte(testWAV), audio)
	assert.Empty(t, *waits, "a successful first attempt must not back off")
}

func TestGenerateClone_SmallerTokenBudget(t *testing.T) {
	t.Parallel()

	refAudio := []byte("reference-sample")

	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, apiGenerateClone, r.URL.Path)

			var req cloneRequest

			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, DefaultMaxTokensClone, req.MaxNewTokens)
			assert.Equal(t, base64.StdEncoding.EncodeToString(refAudio), req.RefAudio)
			assert.Equal(t, "my transcript", req.RefText)

			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(testWAV))
		}),
	)
	defer server.Close()

	client, _ := newTestClient(t, server.URL, "")

	audio, err := client.GenerateClone(
		context.Background(), "Hello.", refAudio, "my transcript", "English",
	)
	require.NoError(t, err)
	assert.Equal(t, []byte(testWAV), audio)
}

func TestGeneratePreset_TransientThenSuccess(t *testing.T) {
	t.Parallel()

	attempts := 0
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			attempts++
			if attempts < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)

				return
			}

			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(testWAV))
		}),
	)
	defer server.Close()

	client, waits := newTestClient(t, server.URL, "")

	audio, err := client.GeneratePreset(context.Background(), "text", "Aiden", "English")
	require.NoError(t, err)
	assert.Equal(t, []byte(testWAV), audio)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, *waits,
		"two transient failures mean exactly two backoff waits")
}

func TestGeneratePreset_RetriesExhausted(t *testing.T) {
	t.Parallel()

	attempts := 0
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			attempts++
			w.WriteHeader(http.StatusInternalServerError)
		}),
	)
	defer server.Close()

	client, waits := newTestClient(t, server.URL, "")

	_, err := client.GeneratePreset(context.Background(), "text", "Aiden", "English")
	require.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 3, attempts)
	assert.Len(t, *waits, 2)
}

func TestGeneratePreset_PermanentErrorNotRetried(t *testing.T) {
	t.Parallel()

	attempts := 0
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			attempts++
			w.WriteHeader(http.StatusBadRequest)
		}),
	)
	defer server.Close()

	client, waits := newTestClient(t, server.URL, "")

	_, err := client.GeneratePreset(context.Background(), "text", "Aiden", "English")
	require.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, 1, attempts, "a client-side rejection must fail immediately")
	assert.Empty(t, *waits)
}

func TestGeneratePreset_EmptyTextRejected(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, "http://localhost:1", "")

	_, err := client.GeneratePreset(context.Background(), "", "Aiden", "English")
	require.ErrorIs(t, err, ErrTextEmpty)
}

func TestGenerateClone_EmptyReferenceRejected(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, "http://localhost:1", "")

	_, err := client.GenerateClone(context.Background(), "text", nil, "", "English")
	require.ErrorIs(t, err, ErrRefAudioEmpty)
}

func TestGeneratePreset_EmptyAudioIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)
	defer server.Close()

	client, _ := newTestClient(t, server.URL, "")

	_, err := client.GeneratePreset(context.Background(), "text", "Aiden", "English")
	require.ErrorIs(t, err, ErrTransient)
	require.ErrorIs(t, err, ErrEmptyAudio)
}

func TestTranscribe_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, apiTranscribe, r.URL.Path)
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, transcribeModelName, r.FormValue("model"))

			file, _, err := r.FormFile("file")
			require.NoError(t, err)
			t.Cleanup(func() { _ = file.Close() })

			w.Header().Set(headerContentType, contentTypeJSON)
			_ = json.NewEncoder(w).Encode(transcribeResponse{Text: "the transcript"})
		}),
	)
	defer server.Close()

	client, _ := newTestClient(t, "", server.URL)

	text, err := client.Transcribe(context.Background(), []byte("sample"))
	require.NoError(t, err)
	assert.Equal(t, "the transcript", text)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	healthy := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, apiHealth, r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}),
	)
	defer healthy.Close()

	client, _ := newTestClient(t, healthy.URL, "")
	require.NoError(t, client.Health(context.Background()))

	down, _ := newTestClient(t, "http://127.0.0.1:1", "")
	require.Error(t, down.Health(context.Background()))
}
