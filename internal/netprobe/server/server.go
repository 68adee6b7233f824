package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"netprobe/internal/netprobe/metrics"
	"netprobe/internal/netprobe/payload"
	"netprobe/internal/netprobe/session"
	"netprobe/internal/netprobe/sink"
	"netprobe/internal/netprobe/streamer"
	"netprobe/pkg/config"
	"netprobe/pkg/logger"
)

// Route paths of the probe surface.
const (
	PingPath     = "/ping"
	MetaPath     = "/meta"
	FilePath     = "/internet-file"
	DownloadPath = "/download"
	UploadPath   = "/upload"
)

// Server is the HTTP probe service: downloads, uploads, pings and the
// optional duplex upload, all behind one router.
type Server struct {
	cfg      *config.Config
	store    *payload.Store
	streamer *streamer.Streamer
	sink     *sink.Sink
	sessions *session.Handler
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	logger   *logger.Logger
	handler  http.Handler
}

// New builds the probe service. m may be nil to disable metrics.
func New(cfg *config.Config, store *payload.Store, m *metrics.Metrics, log *logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithField("component", "http-server")

	uploadSink, err := sink.New(cfg.Upload.ChunkSize, cfg.Upload.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload sink: %w", err)
	}

	var observer session.Observer
	if m != nil {
		observer = m.SessionObserver("websocket")
	}

	s := &Server{
		cfg:      cfg,
		store:    store,
		streamer: streamer.New(store, log),
		sink:     uploadSink,
		sessions: session.NewHandler(log, session.WithObserver(observer)),
		metrics:  m,
		logger:   log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.Upload.ChunkSize,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.instrument)

	probe := func(h http.HandlerFunc) http.Handler {
		return Adapt(h, noCache)
	}

	r.Handle(PingPath, probe(s.handlePing)).Methods(http.MethodGet, http.MethodHead)
	r.Handle(MetaPath, probe(s.handleMeta)).Methods(http.MethodGet)
	r.Handle(FilePath, probe(s.handleFile)).Methods(http.MethodGet, http.MethodHead)
	r.Handle(DownloadPath, probe(s.handleDownload)).Methods(http.MethodGet, http.MethodHead)
	r.Handle(UploadPath, probe(s.handleUpload)).Methods(http.MethodPost, http.MethodPut)

	// Plain OPTIONS (no preflight headers) answers 204 on the measurement
	// routes only; anything else falls through to the JSON 404.
	for _, path := range []string{PingPath, MetaPath, FilePath, DownloadPath, UploadPath} {
		r.Handle(path, probe(s.handleOptions)).Methods(http.MethodOptions)
	}

	if s.cfg.Duplex.Enabled {
		r.Handle(s.cfg.Duplex.Path, http.HandlerFunc(s.handleDuplexUpload)).Methods(http.MethodGet)
	}
	if s.cfg.Metrics.Enabled && s.metrics != nil {
		r.Handle(s.cfg.Metrics.Path, s.metrics.Handler()).Methods(http.MethodGet)
	}

	r.NotFoundHandler = probe(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})
	r.MethodNotAllowedHandler = probe(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodOptions,
		},
		AllowedHeaders: s.cfg.CORS.AllowedHeaders,
		ExposedHeaders: s.cfg.CORS.ExposedHeaders,
		MaxAge:         s.cfg.CORS.MaxAge,
	})

	return Adapt(r, append([]Adapter{c.Handler}, outerChain(s.logger)...)...)
}

// outerChain tags the request before panic recovery runs, so a recovered
// panic is logged with its request ID.
func outerChain(log *logger.Logger) []Adapter {
	return []Adapter{withRequestID(log), recoverPanic}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if !s.cfg.Duplex.CheckOrigin {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.CORS.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
