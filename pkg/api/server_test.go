package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/target"
	"github.com/cuemby/burrow/pkg/types"
)

type fakeManager struct {
	mu      sync.Mutex
	err     error
	block   chan struct{}
	started chan struct{}
	emptyRq []*types.CreateEmptyVolumeRequest
}

func (f *fakeManager) Init(ctx context.Context, req *types.InitRequest) (*types.InitResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	resp := &types.InitResponse{}
	resp.Success = true
	resp.SetCapacity(100, 60)
	return resp, nil
}

func (f *fakeManager) DownloadFromBackup(ctx context.Context, req *types.DownloadRequest) (*types.DownloadResponse, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, types.Wrap(types.ErrExternalToolFailure, ctx.Err(), "download interrupted")
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	resp := &types.DownloadResponse{}
	resp.Success = true
	return resp, nil
}

func (f *fakeManager) CheckBitsExistence(ctx context.Context, req *types.CheckBitsRequest) (*types.CheckBitsResponse, error) {
	return &types.CheckBitsResponse{AgentResponse: types.AgentResponse{Success: true}, IsExisting: req.Path == "/pool/a/a.img"}, nil
}

func (f *fakeManager) DeleteBits(ctx context.Context, req *types.DeleteBitsRequest) (*types.DeleteBitsResponse, error) {
	return nil, types.Errorf(types.ErrPreconditionFailed, "storage root is not initialized")
}

func (f *fakeManager) CreateRootVolumeFromTemplate(ctx context.Context, req *types.CreateRootVolumeRequest) (*types.CreateRootVolumeResponse, error) {
	return nil, types.Errorf(types.ErrNotFound, "cannot find template[%s] in cache", req.TemplatePathInCache)
}

func (f *fakeManager) CreateEmptyVolume(ctx context.Context, req *types.CreateEmptyVolumeRequest) (*types.CreateEmptyVolumeResponse, error) {
	f.mu.Lock()
	f.emptyRq = append(f.emptyRq, req)
	f.mu.Unlock()
	resp := &types.CreateEmptyVolumeResponse{IscsiPath: "iscsi://iqn.2026-10.org.zstack:" + req.VolumeUUID}
	resp.Success = true
	return resp, nil
}

type fakeTargets []target.Target

func (f fakeTargets) List() ([]target.Target, error) { return f, nil }

type fakeJournal struct {
	entries []types.JournalEntry
	limit   int
}

func (f *fakeJournal) List(limit int) ([]types.JournalEntry, error) {
	f.limit = limit
	return f.entries, nil
}

func newTestServer(t *testing.T, m *fakeManager, opts ...func(*Options)) *Server {
	t.Helper()
	o := Options{Manager: m}
	for _, fn := range opts {
		fn(&o)
	}
	s, err := NewServer(o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func do(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestNewServer_RequiresManager(t *testing.T) {
	_, err := NewServer(Options{})
	assert.Error(t, err)
}

func TestSyncOperation(t *testing.T) {
	s := newTestServer(t, &fakeManager{})

	w := do(t, s, http.MethodPost, "/btrfs/init", `{"rootFolderPath":"/pool"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	out := decode(t, w)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, float64(100), out["totalCapacity"])
	assert.Equal(t, float64(60), out["availableCapacity"])
}

func TestOperationFailureIsEnvelope(t *testing.T) {
	s := newTestServer(t, &fakeManager{})

	w := do(t, s, http.MethodPost, "/btrfs/volumes/createrootfromtemplate",
		`{"templatePathInCache":"/pool/t/t.img","installPath":"/pool/v/v.img","volumeUuid":"v"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	out := decode(t, w)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "NOT_FOUND", out["errorCode"])
	assert.Equal(t, "cannot find template[/pool/t/t.img] in cache", out["error"])
}

func TestBadBody(t *testing.T) {
	s := newTestServer(t, &fakeManager{})

	w := do(t, s, http.MethodPost, "/btrfs/volumes/createempty", `{"size": "ten"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	out := decode(t, w)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "INVALID_ARGUMENT", out["errorCode"])
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, &fakeManager{})
	w := do(t, s, http.MethodGet, "/btrfs/init", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestCheckBits(t *testing.T) {
	s := newTestServer(t, &fakeManager{})

	out := decode(t, do(t, s, http.MethodPost, "/btrfs/bits/checkifexists", `{"path":"/pool/a/a.img"}`, nil))
	assert.Equal(t, true, out["isExisting"])

	out = decode(t, do(t, s, http.MethodPost, "/btrfs/bits/checkifexists", `{"path":"/pool/b/b.img"}`, nil))
	assert.Equal(t, false, out["isExisting"])
}

type callbackSink struct {
	mu       sync.Mutex
	bodies   []string
	taskIDs  []string
	received chan struct{}
}

func newCallbackSink(t *testing.T) (*callbackSink, *httptest.Server) {
	sink := &callbackSink{received: make(chan struct{}, 10)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		sink.mu.Lock()
		sink.bodies = append(sink.bodies, string(body))
		sink.taskIDs = append(sink.taskIDs, r.Header.Get(HeaderTaskUUID))
		sink.mu.Unlock()
		sink.received <- struct{}{}
	}))
	t.Cleanup(srv.Close)
	return sink, srv
}

func (c *callbackSink) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.received:
	case <-time.After(5 * time.Second):
		t.Fatal("callback not received")
	}
}

func TestAsyncOperation(t *testing.T) {
	sink, srv := newCallbackSink(t)
	m := &fakeManager{}
	s := newTestServer(t, m)

	w := do(t, s, http.MethodPost, "/btrfs/volumes/createempty",
		`{"installPath":"/pool/v/v.img","volumeUuid":"v1","size":1024}`,
		map[string]string{HeaderCallbackURL: srv.URL, HeaderTaskUUID: "task-1"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, w.Body.String())

	sink.wait(t)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{"task-1"}, sink.taskIDs)

	var out types.CreateEmptyVolumeResponse
	require.NoError(t, json.Unmarshal([]byte(sink.bodies[0]), &out))
	assert.True(t, out.Success)
	assert.Equal(t, "iscsi://iqn.2026-10.org.zstack:v1", out.IscsiPath)
}

func TestAsyncOperation_GeneratesTaskUUID(t *testing.T) {
	sink, srv := newCallbackSink(t)
	s := newTestServer(t, &fakeManager{})

	do(t, s, http.MethodPost, "/btrfs/bits/delete", `{"installPath":"/pool/v/v.img"}`,
		map[string]string{HeaderCallbackURL: srv.URL})

	sink.wait(t)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.taskIDs[0], 36)
	assert.Contains(t, sink.bodies[0], `"errorCode":"PRECONDITION_FAILED"`)
}

func TestShutdownCancelsInflight(t *testing.T) {
	sink, srv := newCallbackSink(t)
	m := &fakeManager{block: make(chan struct{}), started: make(chan struct{})}
	s := newTestServer(t, m)

	do(t, s, http.MethodPost, "/btrfs/image/sftp/download", `{"hostname":"bs"}`,
		map[string]string{HeaderCallbackURL: srv.URL, HeaderTaskUUID: "task-2"})

	select {
	case <-m.started:
	case <-time.After(5 * time.Second):
		t.Fatal("operation did not start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	sink.wait(t)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Contains(t, sink.bodies[0], `"success":false`)
	assert.Contains(t, sink.bodies[0], "download interrupted")
}

func TestListTargets(t *testing.T) {
	s := newTestServer(t, &fakeManager{}, func(o *Options) {
		o.Targets = fakeTargets{{
			Name:         "iqn.2026-10.org.zstack:v1",
			VolumeUUID:   "v1",
			BackingStore: "/pool/v1/v1.img",
			ConfigPath:   "/etc/tgt/conf.d/v1.conf",
		}}
	})

	w := do(t, s, http.MethodGet, "/btrfs/targets", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var out types.ListTargetsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.True(t, out.Success)
	require.Len(t, out.Targets, 1)
	assert.Equal(t, "v1", out.Targets[0].VolumeUUID)
	assert.False(t, out.Targets[0].CHAP)
}

func TestListJournal(t *testing.T) {
	j := &fakeJournal{entries: []types.JournalEntry{{ID: "a", Operation: "deleteBits", Success: true}}}
	s := newTestServer(t, &fakeManager{}, func(o *Options) { o.Journal = j })

	w := do(t, s, http.MethodGet, "/btrfs/journal?limit=5", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, j.limit)

	var out types.ListJournalResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Entries, 1)
	assert.Equal(t, "deleteBits", out.Entries[0].Operation)

	w = do(t, s, http.MethodGet, "/btrfs/journal?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthRoutes(t *testing.T) {
	s := newTestServer(t, &fakeManager{})

	for _, path := range []string{"/health", "/live", "/metrics"} {
		w := do(t, s, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}
