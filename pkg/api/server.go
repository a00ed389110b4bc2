package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/target"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/volume"
)

// Headers used by asynchronous callers
const (
	HeaderCallbackURL = "callbackurl"
	HeaderTaskUUID    = "taskuuid"
)

// DefaultWorkers bounds concurrent asynchronous operations
const DefaultWorkers = 8

const callbackTimeout = 30 * time.Second

// VolumeManager runs the lifecycle operations
type VolumeManager interface {
	Init(ctx context.Context, req *types.InitRequest) (*types.InitResponse, error)
	DownloadFromBackup(ctx context.Context, req *types.DownloadRequest) (*types.DownloadResponse, error)
	CheckBitsExistence(ctx context.Context, req *types.CheckBitsRequest) (*types.CheckBitsResponse, error)
	DeleteBits(ctx context.Context, req *types.DeleteBitsRequest) (*types.DeleteBitsResponse, error)
	CreateRootVolumeFromTemplate(ctx context.Context, req *types.CreateRootVolumeRequest) (*types.CreateRootVolumeResponse, error)
	CreateEmptyVolume(ctx context.Context, req *types.CreateEmptyVolumeRequest) (*types.CreateEmptyVolumeResponse, error)
}

// TargetLister lists registered targets
type TargetLister interface {
	List() ([]target.Target, error)
}

// JournalReader reads recorded operations, newest first
type JournalReader interface {
	List(limit int) ([]types.JournalEntry, error)
}

// Options configures a Server
type Options struct {
	Manager VolumeManager
	Targets TargetLister
	Journal JournalReader

	// Workers bounds asynchronous operations (default 8)
	Workers int

	// HTTPClient posts callback results (default: 30s timeout client)
	HTTPClient *http.Client
}

// Server is the agent HTTP API
type Server struct {
	manager VolumeManager
	targets TargetLister
	journal JournalReader
	client  *http.Client
	router  *mux.Router
	http    *http.Server
	sem     *semaphore.Weighted
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server and registers its routes
func NewServer(opts Options) (*Server, error) {
	if opts.Manager == nil {
		return nil, fmt.Errorf("volume manager is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: callbackTimeout}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		manager: opts.Manager,
		targets: opts.Targets,
		journal: opts.Journal,
		client:  client,
		router:  mux.NewRouter(),
		sem:     semaphore.NewWeighted(int64(opts.Workers)),
		logger:  log.WithComponent("api"),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/btrfs/init", operation(s, volume.OpInit, s.initRoot)).Methods(http.MethodPost)
	r.HandleFunc("/btrfs/image/sftp/download", operation(s, volume.OpDownload, s.manager.DownloadFromBackup)).Methods(http.MethodPost)
	r.HandleFunc("/btrfs/bits/checkifexists", operation(s, volume.OpCheckBits, s.manager.CheckBitsExistence)).Methods(http.MethodPost)
	r.HandleFunc("/btrfs/bits/delete", operation(s, volume.OpDeleteBits, s.manager.DeleteBits)).Methods(http.MethodPost)
	r.HandleFunc("/btrfs/volumes/createrootfromtemplate", operation(s, volume.OpCreateRoot, s.manager.CreateRootVolumeFromTemplate)).Methods(http.MethodPost)
	r.HandleFunc("/btrfs/volumes/createempty", operation(s, volume.OpCreateEmpty, s.manager.CreateEmptyVolume)).Methods(http.MethodPost)

	r.HandleFunc("/btrfs/targets", s.listTargets).Methods(http.MethodGet)
	r.HandleFunc("/btrfs/journal", s.listJournal).Methods(http.MethodGet)

	r.Handle("/health", metrics.HealthHandler()).Methods(http.MethodGet)
	r.Handle("/ready", metrics.ReadyHandler()).Methods(http.MethodGet)
	r.Handle("/live", metrics.LivenessHandler()).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on lis until Shutdown
func (s *Server) Serve(lis net.Listener) error {
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("API listening")
	if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start listens on addr and serves until Shutdown
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Shutdown cancels in-flight operations, stops the listener and waits for
// asynchronous workers to post their results
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Server) initRoot(ctx context.Context, req *types.InitRequest) (*types.InitResponse, error) {
	resp, err := s.manager.Init(ctx, req)
	if err == nil {
		metrics.UpdateComponent(metrics.ComponentRoot, true, req.RootFolderPath)
	}
	return resp, err
}

// failable is a response pointer that can carry an error
type failable[T any] interface {
	*T
	SetError(err error)
}

// operation adapts a manager method to an HTTP handler. The body is decoded
// before the request is acknowledged so malformed requests fail fast.
func operation[Req any, Resp any, P failable[Resp]](s *Server, op string, fn func(context.Context, *Req) (*Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := new(Req)
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			resp := &types.AgentResponse{}
			resp.SetError(types.Wrap(types.ErrInvalidArgument, err, "cannot decode %s request", op))
			writeJSON(w, http.StatusBadRequest, resp)
			return
		}

		run := func(ctx context.Context) any {
			resp, err := fn(ctx, req)
			if err != nil {
				failed := P(new(Resp))
				failed.SetError(err)
				return failed
			}
			return resp
		}

		callback := r.Header.Get(HeaderCallbackURL)
		if callback == "" {
			writeJSON(w, http.StatusOK, run(r.Context()))
			return
		}

		taskUUID := r.Header.Get(HeaderTaskUUID)
		if taskUUID == "" {
			taskUUID = uuid.NewString()
		}
		s.dispatch(op, callback, taskUUID, run)
		writeJSON(w, http.StatusOK, struct{}{})
	}
}

// dispatch runs an operation on the worker pool and posts the result
func (s *Server) dispatch(op, callback, taskUUID string, run func(context.Context) any) {
	logger := log.WithRequestID(s.logger, taskUUID).With().Str("operation", op).Logger()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			logger.Warn().Err(err).Msg("server shutting down, operation not started")
			return
		}
		resp := run(s.ctx)
		s.sem.Release(1)

		if err := s.postCallback(callback, taskUUID, resp); err != nil {
			logger.Error().Err(err).Str("callback", callback).Msg("failed to post operation result")
			return
		}
		logger.Debug().Str("callback", callback).Msg("operation result posted")
	}()
}

func (s *Server) postCallback(url, taskUUID string, resp any) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	// Results are delivered even while shutting down
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), callbackTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTaskUUID, taskUUID)

	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return fmt.Errorf("callback returned %s", res.Status)
	}
	return nil
}

func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	resp := &types.ListTargetsResponse{Targets: []types.TargetInfo{}}
	if s.targets == nil {
		resp.Success = true
		writeJSON(w, http.StatusOK, resp)
		return
	}

	targets, err := s.targets.List()
	if err != nil {
		resp.SetError(err)
		writeJSON(w, http.StatusOK, resp)
		return
	}
	for _, t := range targets {
		resp.Targets = append(resp.Targets, t.Info())
	}
	resp.Success = true
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listJournal(w http.ResponseWriter, r *http.Request) {
	resp := &types.ListJournalResponse{Entries: []types.JournalEntry{}}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			resp.SetError(types.Errorf(types.ErrInvalidArgument, "invalid limit %q", v))
			writeJSON(w, http.StatusBadRequest, resp)
			return
		}
		limit = n
	}

	if s.journal != nil {
		entries, err := s.journal.List(limit)
		if err != nil {
			resp.SetError(err)
			writeJSON(w, http.StatusOK, resp)
			return
		}
		if entries != nil {
			resp.Entries = entries
		}
	}
	resp.Success = true
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
