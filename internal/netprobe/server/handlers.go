package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"netprobe/internal/netprobe/rangereq"
	"netprobe/internal/netprobe/sink"
	errs "netprobe/pkg/errors"
)

type errorBody struct {
	Error string `json:"error"`
}

type pingBody struct {
	OK bool `json:"ok"`
}

type metaBody struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type uploadBody struct {
	ReceivedBytes int64 `json:"received_bytes"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// errorStatus maps the error taxonomy onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrRangeUnsatisfiable):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, sink.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errs.ErrTransport):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	log := requestLogger(r)
	switch {
	case errs.IsClientFault(err):
		log.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	case status >= http.StatusInternalServerError:
		log.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	default:
		log.Warn("request aborted", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Error: http.StatusText(status)})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, pingBody{OK: true})
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "GET, HEAD, POST, PUT, OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}

// handleMeta describes a payload; ?name= picks one, otherwise the default.
func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = s.store.DefaultFile()
	}

	meta, err := s.store.Metadata(name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, metaBody{Name: meta.Name, Size: meta.SizeBytes})
}

// handleFile serves /internet-file; ?name= picks a payload, otherwise the default.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = s.store.DefaultFile()
	}
	s.servePayload(w, r, name)
}

// handleDownload serves /download?size=<MB>; unknown sizes get the default payload.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.servePayload(w, r, s.store.LookupBySize(r.URL.Query().Get("size")))
}

func (s *Server) servePayload(w http.ResponseWriter, r *http.Request, name string) {
	log := requestLogger(r).WithField("file", name)

	meta, err := s.store.Metadata(name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Repeated Range lines join into a multi-range spec, which is refused.
	values := r.Header.Values("Range")
	rangeHeader := strings.Join(values, ",")
	decision := rangereq.Resolve(rangeHeader, len(values) > 0, meta.SizeBytes)

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")

	if decision.Kind == rangereq.Unsatisfiable {
		log.Debug("unsatisfiable range", "range", rangeHeader, "reason", decision.Reason)
		h.Set("Content-Range", rangereq.UnsatisfiedContentRange(meta.SizeBytes))
		h.Set("Content-Length", "0")
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	// Open before committing headers so a vanished file is still a clean 404.
	rr, err := s.streamer.Stream(name, decision.Range)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer rr.Close()

	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Length", strconv.FormatInt(decision.Range.Length(), 10))
	if decision.Kind == rangereq.Partial {
		h.Set("Content-Range", decision.Range.ContentRange())
	}
	w.WriteHeader(decision.Status())

	if r.Method == http.MethodHead {
		return
	}

	n, err := s.streamer.Copy(r.Context(), w, rr)
	if s.metrics != nil {
		s.metrics.DownloadedBytes.WithLabelValues(name).Add(float64(n))
	}
	if err != nil {
		log.Warn("download interrupted", "range", decision.Range.ContentRange(), "sent", n, "error", err)
		// Headers are flushed; abort so the peer sees a truncated transfer
		// instead of a clean end of body.
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	// Every chunk pushes the read deadline out again, so a stalled body
	// fails after one idle period instead of pinning the connection.
	rc := http.NewResponseController(w)
	idle := s.cfg.Upload.IdleTimeout
	extend := func() {
		if idle <= 0 {
			return
		}
		if err := rc.SetReadDeadline(time.Now().Add(idle)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			requestLogger(r).Debug("failed to set upload read deadline", "error", err)
		}
	}
	extend()

	var counter prometheus.Counter
	if s.metrics != nil {
		counter = s.metrics.UploadedBytes.WithLabelValues("http")
	}
	onChunk := func(n int) {
		extend()
		if counter != nil {
			counter.Add(float64(n))
		}
	}

	total, err := s.sink.ConsumeChunks(r.Context(), r.Body, onChunk)
	if err != nil {
		requestLogger(r).Warn("upload aborted", "received", total, "error", err)
		s.writeError(w, r, err)
		return
	}

	requestLogger(r).Debug("upload drained", "received", total)
	writeJSON(w, http.StatusOK, uploadBody{ReceivedBytes: total})
}
