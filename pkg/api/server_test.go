package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/james-see/audio2midi/pkg/audio"
	"github.com/james-see/audio2midi/pkg/converter"
	"github.com/james-see/audio2midi/pkg/converter/engines"
	"github.com/james-see/audio2midi/pkg/logging"
	"github.com/james-see/audio2midi/pkg/notes"
	"github.com/james-see/audio2midi/pkg/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func toneTensors(pitch, frames int) *notes.Tensors {
	n := frames + 10
	t := &notes.Tensors{
		Frames:   make(notes.FrameTensor, n),
		Onsets:   make(notes.OnsetTensor, n),
		Contours: make(notes.ContourTensor, n),
	}
	bin := pitch - notes.MIDIOffset
	for i := range n {
		t.Frames[i] = make([]float32, notes.NumPitchBins)
		t.Onsets[i] = make([]float32, notes.NumPitchBins)
		t.Contours[i] = make([]float32, notes.NumContourBins)
		if i < frames {
			t.Frames[i][bin] = 0.9
		}
	}
	t.Onsets[0][bin] = 0.9
	return t
}

type fakeEngine struct {
	err error
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Run(ctx context.Context, samples []float32, progress converter.ProgressFunc) (*notes.Tensors, error) {
	if e.err != nil {
		return nil, e.err
	}
	progress(1)
	return toneTensors(64, 40), nil
}

func newTestServer(t *testing.T, engine converter.Engine) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Engine = engine
	cfg.Debounce = 10 * time.Millisecond
	cfg.Logger = logging.Discard()
	s := NewServer(cfg)
	t.Cleanup(s.Close)
	return s
}

func wavBytes(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, audio.WriteWAVFile(path, audio.NewSampleBuffer(make([]float32, 2205), notes.SampleRate)))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return raw
}

func tensorBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, converter.WriteTensors(&buf, toneTensors(60, 40)))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, method, target, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, &fakeEngine{})
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "fake", body["engine"])
}

func TestListFormats(t *testing.T) {
	s := newTestServer(t, nil)
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/formats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wav -> midi")
}

func TestDefaultParameters(t *testing.T) {
	s := newTestServer(t, nil)
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/parameters/defaults", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var p notes.DecodingParameters
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, notes.DefaultParameters(), p)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/transcribe", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := serve(s, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestTranscribeAudio(t *testing.T) {
	s := newTestServer(t, &fakeEngine{})
	rec := serve(s, multipartRequest(t, http.MethodPost, "/api/v1/transcribe", "take.wav", wavBytes(t), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "audio/midi", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "take.mid")

	mf, err := converter.ParseMIDI(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, mf.Notes, 1)
	assert.Equal(t, 64, mf.Notes[0].PitchMIDI)
}

func TestTranscribeTensorsAsJSON(t *testing.T) {
	s := newTestServer(t, nil)
	fields := map[string]string{"tempo": "90", "minNoteLengthFrames": "5"}
	rec := serve(s, multipartRequest(t, http.MethodPost, "/api/v1/transcribe?output=json", "take.json", tensorBytes(t), fields))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body notesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 90.0, body.Tempo)
	require.Len(t, body.Notes, 1)
	assert.Equal(t, 60, body.Notes[0].PitchMIDI)
}

func TestTranscribeErrors(t *testing.T) {
	tests := []struct {
		name     string
		engine   converter.Engine
		filename string
		data     func(*testing.T) []byte
		fields   map[string]string
		status   int
	}{
		{"midi upload", &fakeEngine{}, "song.mid", func(*testing.T) []byte { return []byte("MThd\x00\x00\x00\x06") }, nil, http.StatusUnsupportedMediaType},
		{"garbage", &fakeEngine{}, "noise.bin", func(*testing.T) []byte { return []byte("not audio at all") }, nil, http.StatusUnsupportedMediaType},
		{"bad threshold", &fakeEngine{}, "take.wav", wavBytes, map[string]string{"onsetThreshold": "1.5"}, http.StatusUnprocessableEntity},
		{"bad tempo", &fakeEngine{}, "take.wav", wavBytes, map[string]string{"tempo": "-4"}, http.StatusUnprocessableEntity},
		{"bad tensors", nil, "take.json", func(*testing.T) []byte { return []byte(`{"frames": [[0.1]]}`) }, nil, http.StatusUnprocessableEntity},
		{"no engine", nil, "take.wav", wavBytes, nil, http.StatusServiceUnavailable},
		{"model load", &fakeEngine{err: engines.ErrModelLoad}, "take.wav", wavBytes, nil, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.engine)
			rec := serve(s, multipartRequest(t, http.MethodPost, "/api/v1/transcribe", tt.filename, tt.data(t), tt.fields))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestTranscribeNoFile(t *testing.T) {
	s := newTestServer(t, &fakeEngine{})
	rec := serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/transcribe", strings.NewReader("")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTranscribeTooLarge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxUploadBytes = 512
	cfg.Logger = logging.Discard()
	s := NewServer(cfg)
	defer s.Close()

	rec := serve(s, multipartRequest(t, http.MethodPost, "/api/v1/transcribe", "take.wav", wavBytes(t), nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestInspect(t *testing.T) {
	s := newTestServer(t, nil)
	data, err := converter.GenerateMIDI([]notes.NoteEvent{{PitchMIDI: 67, StartTimeSeconds: 0.5, DurationSeconds: 0.5, Amplitude: 0.5}}, 100)
	require.NoError(t, err)

	rec := serve(s, multipartRequest(t, http.MethodPost, "/api/v1/inspect", "song.mid", data, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var mf converter.MIDIFile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mf))
	assert.InDelta(t, 100, mf.Tempo, 0.01)
	require.Len(t, mf.Notes, 1)
	assert.Equal(t, 67, mf.Notes[0].PitchMIDI)
}

func createSession(t *testing.T, s *Server, filename string, data []byte) session.Info {
	t.Helper()
	rec := serve(s, multipartRequest(t, http.MethodPost, "/api/v1/sessions", filename, data, nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var info session.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.NotEmpty(t, info.ID)
	return info
}

func getNotes(t *testing.T, s *Server, id string) notesResponse {
	t.Helper()
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+id+"/notes", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body notesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t, &fakeEngine{})
	info := createSession(t, s, "take.wav", wavBytes(t))

	require.Eventually(t, func() bool { return len(getNotes(t, s, info.ID).Notes) == 1 }, 2*time.Second, 5*time.Millisecond)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+info.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got session.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, session.StatusReady, got.Status)
	assert.Equal(t, "take.wav", got.Filename)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), info.ID)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+info.ID+"/midi", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	mf, err := converter.ParseMIDI(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, mf.Notes, 1)

	rec = serve(s, httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+info.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+info.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionUpdateParameters(t *testing.T) {
	s := newTestServer(t, nil)
	info := createSession(t, s, "take.json", tensorBytes(t))
	require.Eventually(t, func() bool { return len(getNotes(t, s, info.ID).Notes) == 1 }, 2*time.Second, 5*time.Millisecond)

	// The tone is 40 frames long; a longer minimum removes it.
	body := strings.NewReader(`{"minNoteLengthFrames": 60, "tempo": 140}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/sessions/"+info.ID+"/parameters", body)
	req.Header.Set("Content-Type", "application/json")
	rec := serve(s, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		n := getNotes(t, s, info.ID)
		return len(n.Notes) == 0 && n.Tempo == 140 && !n.Decoding
	}, 2*time.Second, 5*time.Millisecond)

	var got session.Info
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+info.ID, nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 60, got.Parameters.MinNoteLengthFrames)
	assert.Equal(t, notes.DefaultOnsetThreshold, got.Parameters.OnsetThreshold)
}

func TestSessionUpdateParametersInvalid(t *testing.T) {
	s := newTestServer(t, nil)
	info := createSession(t, s, "take.json", tensorBytes(t))

	for _, payload := range []string{
		`{"frameThreshold": 2}`,
		`{"minPitchHz": 500, "maxPitchHz": 100}`,
		`{"tempo": 0}`,
		`not json`,
	} {
		req := httptest.NewRequest(http.MethodPut, "/api/v1/sessions/"+info.ID+"/parameters", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := serve(s, req)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, payload)
	}
}

func TestSessionNotFound(t *testing.T) {
	s := newTestServer(t, nil)
	for _, path := range []string{"/api/v1/sessions/nope", "/api/v1/sessions/nope/notes", "/api/v1/sessions/nope/midi"} {
		rec := serve(s, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestSessionMIDINotReady(t *testing.T) {
	s := newTestServer(t, &fakeEngine{err: engines.ErrInference})
	info := createSession(t, s, "take.wav", wavBytes(t))

	require.Eventually(t, func() bool {
		sess, err := s.sessions.Get(info.ID)
		return err == nil && sess.Status() == session.StatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+info.ID+"/midi", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}
