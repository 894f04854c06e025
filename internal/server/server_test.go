package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/chai2010/webp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kohaku-dig/image-broker/internal/artifact"
	"github.com/kohaku-dig/image-broker/internal/metrics"
	"github.com/kohaku-dig/image-broker/internal/server"
	"github.com/kohaku-dig/image-broker/internal/store/sqlite"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sink, err := artifact.NewDiskSink(t.TempDir())
	require.NoError(t, err)

	srv := server.New(store, sink, metrics.New(), zerolog.Nop(), server.Config{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func redSquarePNG(t *testing.T, side int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, side, side))
	red := color.RGBA{R: 255, A: 255}
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			img.Set(x, y, red)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartImage(t *testing.T, field string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, "image.png")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func submit(t *testing.T, ts *httptest.Server, prompt string, extra map[string]any) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{"prompt": prompt, "extra_args": extra})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/request", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.TaskID
}

func claim(t *testing.T, ts *httptest.Server) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(ts.URL + "/task")
	require.NoError(t, err)
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

// TestScenarioS1 covers the end-to-end flow: submit, claim, complete,
// download. The downloaded bytes must decode as a 2x2 WebP image.
func TestScenarioS1(t *testing.T) {
	ts := newTestServer(t)

	id := submit(t, ts, "cat", nil)

	resp, task := claim(t, ts)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, id, task["task_id"])

	body, contentType := multipartImage(t, "image", redSquarePNG(t, 2))
	resp, err := http.Post(ts.URL+"/complete/"+id, contentType, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	dl, err := http.Get(ts.URL + "/download/" + id)
	require.NoError(t, err)
	defer dl.Body.Close()
	require.Equal(t, http.StatusOK, dl.StatusCode)
	assert.Equal(t, "image/webp", dl.Header.Get("Content-Type"))

	decoded, err := webp.Decode(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, 2, decoded.Bounds().Dx())
	assert.Equal(t, 2, decoded.Bounds().Dy())
}

// TestScenarioS2 covers at-most-one-claim over HTTP: of two concurrent
// GET /task calls against a single pending row, exactly one succeeds.
func TestScenarioS2(t *testing.T) {
	ts := newTestServer(t)
	submit(t, ts, "only one taker", nil)

	type result struct {
		status int
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			resp, err := http.Get(ts.URL + "/task")
			require.NoError(t, err)
			defer resp.Body.Close()
			results <- result{status: resp.StatusCode}
		}()
	}

	successes := 0
	for i := 0; i < 2; i++ {
		r := <-results
		if r.status == http.StatusOK {
			successes++
		} else {
			assert.Contains(t, []int{http.StatusNotFound, http.StatusConflict}, r.status)
		}
	}
	assert.Equal(t, 1, successes)
}

// TestScenarioS3 covers extra_args identity selection and seed pass-through.
func TestScenarioS3(t *testing.T) {
	ts := newTestServer(t)

	id := submit(t, ts, "a", map[string]any{"task_id": "X", "seed": 7})
	require.Equal(t, "X", id)

	_, task := claim(t, ts)
	require.NotNil(t, task)
	assert.Equal(t, "X", task["task_id"])
	extra, ok := task["extra_args"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(7), extra["seed"])
	_, hasTaskID := extra["task_id"]
	assert.False(t, hasTaskID)
}

// TestScenarioS4 covers upsert-after-complete: resubmitting a completed
// task's id returns it to pending with the new prompt, and the prior
// artifact is no longer downloadable until re-completed.
func TestScenarioS4(t *testing.T) {
	ts := newTestServer(t)

	id := submit(t, ts, "a", map[string]any{"task_id": "X"})
	claim(t, ts)

	body, contentType := multipartImage(t, "image", redSquarePNG(t, 2))
	resp, err := http.Post(ts.URL+"/complete/"+id, contentType, body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	newID := submit(t, ts, "b", map[string]any{"task_id": "X"})
	require.Equal(t, "X", newID)

	_, task := claim(t, ts)
	require.NotNil(t, task)
	assert.Equal(t, "X", task["task_id"])
	assert.Equal(t, "b", task["prompt"])

	dl, err := http.Get(ts.URL + "/download/X")
	require.NoError(t, err)
	defer dl.Body.Close()
	assert.Equal(t, http.StatusNotFound, dl.StatusCode)
}

// TestScenarioS5 covers FIFO dispatch order over HTTP.
func TestScenarioS5(t *testing.T) {
	ts := newTestServer(t)

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, submit(t, ts, fmt.Sprintf("prompt-%d", i), nil))
	}

	for _, want := range ids {
		_, task := claim(t, ts)
		require.NotNil(t, task)
		assert.Equal(t, want, task["task_id"])
	}
}

// TestScenarioS6 covers resetting an unknown task id.
func TestScenarioS6(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/reset/UNKNOWN")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestCompleteRejectsNonProcessingTask covers the state-gating invariant:
// completing a pending row is rejected and does not mutate it.
func TestCompleteRejectsNonProcessingTask(t *testing.T) {
	ts := newTestServer(t)
	id := submit(t, ts, "still pending", nil)

	body, contentType := multipartImage(t, "image", redSquarePNG(t, 2))
	resp, err := http.Post(ts.URL+"/complete/"+id, contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, task := claim(t, ts)
	require.NotNil(t, task)
	assert.Equal(t, id, task["task_id"])
}

func TestSubmitRejectsEmptyPrompt(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/request", "application/json", bytes.NewReader([]byte(`{"prompt":""}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClaimWithNoWorkReturns404(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := claim(t, ts)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

