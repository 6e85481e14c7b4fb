package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pipatrol/patrol/internal/events"
	"github.com/pipatrol/patrol/internal/motion"
	"github.com/pipatrol/patrol/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enrollRequest(name string) *http.Request {
	form := url.Values{}
	if name != "" {
		form.Set("name", name)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/enroll", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func togglePreview(t *testing.T, env *testEnv, body string) bool {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/toggle_preview", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := env.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]bool
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp["live_preview"]
}

func TestHandleStatus(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Unknown", resp["current_label"])
	assert.Equal(t, false, resp["live_preview"])
	assert.Equal(t, float64(0), resp["last_frame_time"])

	before := time.Now().Add(-time.Second).Unix()
	require.NoError(t, env.broker.Publish(testFrame(color.White), "alice"))

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp["current_label"])
	assert.Greater(t, resp["last_frame_time"].(float64), float64(before))
}

type fixedMotion struct {
	state motion.State
	last  time.Time
}

func (m fixedMotion) State() motion.State   { return m.state }
func (m fixedMotion) LastMotion() time.Time { return m.last }

func TestHandleStatus_Motion(t *testing.T) {
	env := setupTestServer(t)
	last := time.Unix(1767225600, 500_000_000)
	env.server.SetDependencies(Dependencies{
		Broker: env.broker,
		Motion: fixedMotion{state: motion.StateActiveRecording, last: last},
	})

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ACTIVE_RECORDING", resp["motion_state"])
	assert.Equal(t, 1767225600.5, resp["last_motion"])
}

func TestHandleTogglePreview(t *testing.T) {
	env := setupTestServer(t)

	assert.True(t, togglePreview(t, env, `{"enable": true}`))
	assert.True(t, env.broker.PreviewEnabled())

	assert.False(t, togglePreview(t, env, `{"enable": false}`))
	assert.False(t, togglePreview(t, env, `{}`))

	req := httptest.NewRequest(http.MethodPost, "/api/toggle_preview", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, env.do(req).Code)
}

func TestHandleTogglePreview_Concurrent(t *testing.T) {
	env := setupTestServer(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(on bool) {
			defer wg.Done()
			body := `{"enable": false}`
			if on {
				body = `{"enable": true}`
			}
			req := httptest.NewRequest(http.MethodPost, "/api/toggle_preview", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			env.do(req)
		}(i%2 == 0)
	}
	wg.Wait()

	assert.True(t, togglePreview(t, env, `{"enable": true}`))
}

func TestHandleEnroll(t *testing.T) {
	env := setupTestServer(t)

	// no frame yet
	w := env.do(enrollRequest("alice"))
	assert.Equal(t, http.StatusConflict, w.Code)

	require.NoError(t, env.broker.Publish(testFrame(color.White), "Unknown"))

	w = env.do(enrollRequest("alice"))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	filename := resp["filename"].(string)
	assert.True(t, strings.HasPrefix(filename, "alice_"))

	data := env.faces.enrolled[filename]
	_, err := storage.DecodeImage(data)
	assert.NoError(t, err)
}

func TestHandleEnroll_MissingName(t *testing.T) {
	env := setupTestServer(t)
	require.NoError(t, env.broker.Publish(testFrame(color.White), "Unknown"))

	assert.Equal(t, http.StatusBadRequest, env.do(enrollRequest("")).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(enrollRequest("   ")).Code)
	assert.Empty(t, env.faces.enrolled)
}

func TestHandleEnroll_InvalidName(t *testing.T) {
	env := setupTestServer(t)
	require.NoError(t, env.broker.Publish(testFrame(color.White), "Unknown"))

	w := env.do(enrollRequest("../"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotContains(t, w.Body.String(), "Missing name")
	assert.Empty(t, env.faces.enrolled)
}

func TestHandleEnroll_NonASCIIName(t *testing.T) {
	env := setupTestServer(t)
	require.NoError(t, env.broker.Publish(testFrame(color.White), "Unknown"))

	for _, name := range []string{"李", "Zoë"} {
		w := env.do(enrollRequest(name))
		require.Equal(t, http.StatusOK, w.Code, "name %q", name)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, strings.HasPrefix(resp["filename"].(string), name+"_"))
	}
}

func TestHandleEnroll_FallsBackToLiveFile(t *testing.T) {
	env := setupTestServer(t)

	data, err := storage.EncodeJPEG(testFrame(color.Black), 70)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(env.broker.LivePath(), data, 0644))

	w := env.do(enrollRequest("bob"))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, data, env.faces.enrolled[resp["filename"].(string)])
}

func TestHandleTrain(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(httptest.NewRequest(http.MethodPost, "/api/train", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, []interface{}{"alice", "bob"}, resp["labels"])
	assert.Equal(t, float64(6), resp["samples"])

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/model", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["trained"])

	env.faces.trainErr = errors.New("no faces found")
	w = env.do(httptest.NewRequest(http.MethodPost, "/api/train", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleEvents(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	for i, ev := range []*events.Event{
		events.NewEvent(events.EventTypeMotionDetected, "/data/events/alice_1.jpg", "alice"),
		events.NewEvent(events.EventTypeMotionRecorded, "/data/recordings/record_1.mp4", ""),
		events.NewEvent(events.EventTypeMotionDetected, "", "Unknown"),
	} {
		_, err := env.events.SaveEvent(ctx, ev)
		require.NoError(t, err, i)
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/events", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "3", w.Header().Get("X-Total-Count"))

	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, float64(3), rows[0]["id"])
	assert.Nil(t, rows[0]["file_path"])
	assert.Equal(t, "motion_recorded", rows[1]["event_type"])
	assert.Nil(t, rows[1]["person_name"])
	assert.Equal(t, "alice", rows[2]["person_name"])

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/events?limit=1&event_type=motion_detected", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, float64(3), rows[0]["id"])
	assert.Equal(t, "2", w.Header().Get("X-Total-Count"))

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/events/1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var row map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &row))
	assert.Equal(t, "alice", row["person_name"])

	assert.Equal(t, http.StatusNotFound, env.do(httptest.NewRequest(http.MethodGet, "/api/events/99", nil)).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(httptest.NewRequest(http.MethodGet, "/api/events/abc", nil)).Code)
}

func TestHandleEvents_Empty(t *testing.T) {
	env := setupTestServer(t)
	w := env.do(httptest.NewRequest(http.MethodGet, "/api/events", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestHandleMedia(t *testing.T) {
	env := setupTestServer(t)

	assert.Equal(t, http.StatusNotFound, env.do(httptest.NewRequest(http.MethodGet, "/media/live.jpg", nil)).Code)

	require.NoError(t, env.broker.Publish(testFrame(color.White), "Unknown"))
	w := env.do(httptest.NewRequest(http.MethodGet, "/media/live.jpg", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))

	snap := filepath.Join(env.media.EventsDir(), "alice_1.jpg")
	require.NoError(t, os.WriteFile(snap, []byte("jpeg"), 0644))
	w = env.do(httptest.NewRequest(http.MethodGet, "/media/alice_1.jpg", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "jpeg", w.Body.String())

	assert.Equal(t, http.StatusNotFound, env.do(httptest.NewRequest(http.MethodGet, "/media/missing.jpg", nil)).Code)
	assert.Equal(t, http.StatusNotFound, env.do(httptest.NewRequest(http.MethodGet, "/media/.hidden", nil)).Code)
}

func TestHandleLive(t *testing.T) {
	env := setupTestServer(t)
	require.NoError(t, env.broker.Publish(testFrame(color.White), "Unknown"))
	env.broker.SetPreview(true)

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/live", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", line)
}
