package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/james-see/audio2midi/pkg/audio"
	"github.com/james-see/audio2midi/pkg/converter"
	"github.com/james-see/audio2midi/pkg/converter/engines"
	"github.com/james-see/audio2midi/pkg/notes"
	"github.com/james-see/audio2midi/pkg/session"
)

// errorResponse is the body of every failed request
type errorResponse struct {
	Error string `json:"error"`
}

// parametersRequest updates a session. Omitted fields keep their current values.
type parametersRequest struct {
	notes.DecodingParameters
	Tempo *float64 `json:"tempo" binding:"omitempty,gt=0"`
}

// notesResponse carries decoded notes
type notesResponse struct {
	Seq      uint64            `json:"seq"`
	NotesSeq uint64            `json:"notesSeq"`
	Decoding bool              `json:"decoding"`
	Tempo    float64           `json:"tempo"`
	Notes    []notes.NoteEvent `json:"notes"`
	Error    string            `json:"error,omitempty"`
}

// upload is a file read from a multipart request
type upload struct {
	name   string
	data   []byte
	format converter.Format
}

// listFormats godoc
// @Summary List supported formats
// @Description Returns the accepted input formats and conversions
// @Tags info
// @Produce json
// @Success 200 {object} map[string][]string
// @Router /formats [get]
func listFormats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"formats":     []string{string(converter.FormatWAV), string(converter.FormatMP3), string(converter.FormatTensors), string(converter.FormatMIDI)},
		"conversions": converter.GetSupportedConversions(),
	})
}

// defaultParameters godoc
// @Summary Default decoding parameters
// @Description Returns the parameters used when a request sets none
// @Tags info
// @Produce json
// @Success 200 {object} notes.DecodingParameters
// @Router /parameters/defaults [get]
func defaultParameters(c *gin.Context) {
	c.JSON(http.StatusOK, notes.DefaultParameters())
}

// handleTranscribe godoc
// @Summary Transcribe audio to MIDI
// @Description Upload WAV, MP3 or a tensor file and receive a MIDI file, or the notes as JSON with output=json
// @Tags convert
// @Accept multipart/form-data
// @Produce audio/midi
// @Produce json
// @Param file formData file true "Audio or tensor file"
// @Param onsetThreshold formData number false "Onset threshold (0-1)"
// @Param frameThreshold formData number false "Frame threshold (0-1)"
// @Param minNoteLengthFrames formData integer false "Minimum note length in frames"
// @Param minPitchHz formData number false "Lowest pitch kept"
// @Param maxPitchHz formData number false "Highest pitch kept"
// @Param useMelodiaTrick formData boolean false "Recover notes missed by onset detection"
// @Param inferOnsets formData boolean false "Add onsets from frame energy jumps"
// @Param tempo formData number false "Tempo in BPM (default 120)"
// @Param output query string false "midi or json"
// @Success 200 {file} binary
// @Failure 400 {object} errorResponse
// @Failure 415 {object} errorResponse
// @Failure 422 {object} errorResponse
// @Failure 502 {object} errorResponse
// @Router /transcribe [post]
func (s *Server) handleTranscribe(c *gin.Context) {
	up, ok := s.readUpload(c)
	if !ok {
		return
	}

	params := notes.DefaultParameters()
	if err := c.ShouldBind(&params); err != nil {
		abortWith(c, http.StatusUnprocessableEntity, err)
		return
	}
	bpm, ok := tempoParam(c)
	if !ok {
		return
	}

	var (
		result *converter.ConversionResult
		err    error
	)
	switch up.format {
	case converter.FormatTensors:
		tensors, terr := converter.ReadTensors(bytes.NewReader(up.data))
		if terr != nil {
			abortWith(c, http.StatusUnprocessableEntity, terr)
			return
		}
		result, err = s.conv.DecodeTensors(tensors, params, bpm)
	case converter.FormatWAV, converter.FormatMP3:
		result, err = s.conv.Transcribe(c.Request.Context(), up.data, params, bpm, nil)
	default:
		abortWith(c, http.StatusUnsupportedMediaType, fmt.Errorf("%w: %s", audio.ErrUnsupportedFormat, up.format))
		return
	}
	if err != nil {
		s.logger.Error("transcription failed", "file", up.name, "err", err)
		abortWith(c, statusFor(err), err)
		return
	}

	if c.Query("output") == "json" {
		c.JSON(http.StatusOK, notesResponse{Tempo: bpm, Notes: result.Notes})
		return
	}
	sendMIDI(c, up.name, result.Data)
}

// handleInspect godoc
// @Summary Read notes from a MIDI file
// @Description Upload a MIDI file and receive its notes, tempo and track name
// @Tags convert
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "MIDI file"
// @Success 200 {object} converter.MIDIFile
// @Failure 415 {object} errorResponse
// @Failure 422 {object} errorResponse
// @Router /inspect [post]
func (s *Server) handleInspect(c *gin.Context) {
	up, ok := s.readUpload(c)
	if !ok {
		return
	}
	if up.format != converter.FormatMIDI {
		abortWith(c, http.StatusUnsupportedMediaType, fmt.Errorf("%w: %s", audio.ErrUnsupportedFormat, up.format))
		return
	}
	mf, err := s.conv.MIDI().ParseMIDI(up.data)
	if err != nil {
		abortWith(c, http.StatusUnprocessableEntity, err)
		return
	}
	c.JSON(http.StatusOK, mf)
}

// listSessions godoc
// @Summary List sessions
// @Tags sessions
// @Produce json
// @Success 200 {array} session.Info
// @Router /sessions [get]
func (s *Server) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessions.List())
}

// createSession godoc
// @Summary Start an interactive session
// @Description Upload audio or a tensor file. Inference runs in the background; poll the session for progress.
// @Tags sessions
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Audio or tensor file"
// @Success 202 {object} session.Info
// @Failure 415 {object} errorResponse
// @Failure 422 {object} errorResponse
// @Router /sessions [post]
func (s *Server) createSession(c *gin.Context) {
	up, ok := s.readUpload(c)
	if !ok {
		return
	}

	var load func(*session.Session) error
	switch up.format {
	case converter.FormatTensors:
		tensors, err := converter.ReadTensors(bytes.NewReader(up.data))
		if err != nil {
			abortWith(c, http.StatusUnprocessableEntity, err)
			return
		}
		load = func(sess *session.Session) error { return sess.LoadTensors(tensors, up.name) }
	case converter.FormatWAV, converter.FormatMP3:
		if s.cfg.Engine == nil {
			abortWith(c, statusFor(converter.ErrNoEngine), converter.ErrNoEngine)
			return
		}
		ctx := c.Request.Context()
		load = func(sess *session.Session) error { return sess.Load(ctx, up.data, up.name) }
	default:
		abortWith(c, http.StatusUnsupportedMediaType, fmt.Errorf("%w: %s", audio.ErrUnsupportedFormat, up.format))
		return
	}

	sess := s.sessions.Create()
	if err := load(sess); err != nil {
		_ = s.sessions.Delete(sess.ID)
		abortWith(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusAccepted, sess.Info())
}

// getSession godoc
// @Summary Session status
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} session.Info
// @Failure 404 {object} errorResponse
// @Router /sessions/{id} [get]
func (s *Server) getSession(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Info())
}

// updateParameters godoc
// @Summary Change decoding parameters
// @Description Notes are decoded again from the cached model output once the changes settle
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param parameters body parametersRequest true "Parameters; omitted fields are unchanged"
// @Success 202 {object} session.Info
// @Failure 404 {object} errorResponse
// @Failure 422 {object} errorResponse
// @Router /sessions/{id}/parameters [put]
func (s *Server) updateParameters(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	snap := sess.Snapshot()
	req := parametersRequest{DecodingParameters: snap.Parameters}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusUnprocessableEntity, err)
		return
	}
	if err := req.DecodingParameters.Validate(); err != nil {
		abortWith(c, http.StatusUnprocessableEntity, err)
		return
	}
	if req.DecodingParameters != snap.Parameters {
		sess.SetParameters(req.DecodingParameters)
	}
	if req.Tempo != nil && *req.Tempo != snap.Tempo {
		sess.SetTempo(*req.Tempo)
	}
	c.JSON(http.StatusAccepted, sess.Info())
}

// getNotes godoc
// @Summary Current notes
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} notesResponse
// @Failure 404 {object} errorResponse
// @Router /sessions/{id}/notes [get]
func (s *Server) getNotes(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	snap := sess.Snapshot()
	resp := notesResponse{
		Seq:      snap.Seq,
		NotesSeq: snap.NotesSeq,
		Decoding: snap.Decoding,
		Tempo:    snap.Tempo,
		Notes:    snap.Notes,
	}
	if resp.Notes == nil {
		resp.Notes = []notes.NoteEvent{}
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// downloadMIDI godoc
// @Summary Download the current MIDI file
// @Tags sessions
// @Produce audio/midi
// @Param id path string true "Session ID"
// @Success 200 {file} binary
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /sessions/{id}/midi [get]
func (s *Server) downloadMIDI(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	snap := sess.Snapshot()
	if !snap.Ready() || snap.MIDI == nil {
		abortWith(c, http.StatusConflict, errors.New("notes are not ready"))
		return
	}
	sendMIDI(c, sess.Info().Filename, snap.MIDI)
}

// deleteSession godoc
// @Summary Close a session
// @Tags sessions
// @Param id path string true "Session ID"
// @Success 204
// @Failure 404 {object} errorResponse
// @Router /sessions/{id} [delete]
func (s *Server) deleteSession(c *gin.Context) {
	if err := s.sessions.Delete(c.Param("id")); err != nil {
		abortWith(c, statusFor(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) lookup(c *gin.Context) (*session.Session, bool) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		abortWith(c, statusFor(err), err)
		return nil, false
	}
	return sess, true
}

func (s *Server) readUpload(c *gin.Context) (*upload, bool) {
	if s.cfg.MaxUploadBytes > 0 {
		if c.Request.ContentLength > s.cfg.MaxUploadBytes {
			abortWith(c, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", s.cfg.MaxUploadBytes))
			return nil, false
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)
	}

	// Get uploaded file
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWith(c, http.StatusRequestEntityTooLarge, err)
			return nil, false
		}
		abortWith(c, http.StatusBadRequest, errors.New("no file uploaded"))
		return nil, false
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		abortWith(c, http.StatusBadRequest, errors.New("failed to read file"))
		return nil, false
	}

	format := converter.DetectFormatFromContent(data)
	if format == converter.FormatUnknown {
		format = converter.DetectFormat(header.Filename)
	}
	return &upload{name: header.Filename, data: data, format: format}, true
}

func tempoParam(c *gin.Context) (float64, bool) {
	var form struct {
		Tempo float64 `form:"tempo" binding:"omitempty,gt=0"`
	}
	if err := c.ShouldBind(&form); err != nil {
		abortWith(c, http.StatusUnprocessableEntity, err)
		return 0, false
	}
	if form.Tempo == 0 {
		return converter.DefaultTempo, true
	}
	return form.Tempo, true
}

func sendMIDI(c *gin.Context, source string, data []byte) {
	name := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "transcription"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.mid", name))
	c.Data(http.StatusOK, "audio/midi", data)
}

func abortWith(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

// statusFor maps pipeline errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, audio.ErrDecode),
		errors.Is(err, notes.ErrInvalidParameters),
		errors.Is(err, notes.ErrEmptyInput),
		errors.Is(err, notes.ErrShapeMismatch),
		errors.Is(err, converter.ErrEmptyNoteSequence):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engines.ErrModelLoad),
		errors.Is(err, engines.ErrInference):
		return http.StatusBadGateway
	case errors.Is(err, converter.ErrNoEngine),
		errors.Is(err, engines.ErrToolNotInstalled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
