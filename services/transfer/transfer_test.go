package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hpcjobs-controlplane/services/job"
	"hpcjobs-controlplane/services/system"
	"hpcjobs-controlplane/services/worker"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type archiverMock struct {
	objects map[string][]byte
	putErr  error
	removed []string
}

func newArchiverMock() *archiverMock {
	return &archiverMock{objects: make(map[string][]byte)}
}

func (m *archiverMock) Put(ctx context.Context, archivePath, name string, r io.Reader, size int64) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[path.Join(archivePath, name)] = data
	return nil
}

func (m *archiverMock) Remove(ctx context.Context, archivePath, name string) error {
	key := path.Join(archivePath, name)
	delete(m.objects, key)
	m.removed = append(m.removed, key)
	return nil
}

func TestInputSources(t *testing.T) {
	j := &job.Job{Inputs: []byte(`["https://data.example.org/a.dat", "https://data.example.org/b.dat"]`)}
	sources, err := inputSources(j)
	require.NoError(t, err)
	require.Equal(t, []string{"https://data.example.org/a.dat", "https://data.example.org/b.dat"}, sources)

	j = &job.Job{Inputs: []byte(`{"mesh": "https://data.example.org/a.dat", "grids": ["https://data.example.org/b.dat"]}`)}
	sources, err = inputSources(j)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"https://data.example.org/a.dat", "https://data.example.org/b.dat"}, sources)

	j = &job.Job{}
	sources, err = inputSources(j)
	require.NoError(t, err)
	require.Empty(t, sources)

	j = &job.Job{Inputs: []byte(`{"mesh": 42}`)}
	_, err = inputSources(j)
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	name, err := objectName("https://data.example.org/meshes/coarse.dat?token=abc")
	require.NoError(t, err)
	require.Equal(t, "coarse.dat", name)

	_, err = objectName("https://data.example.org/")
	require.Error(t, err)
}

func TestStagingAction_CopiesInputsToWorkPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("mesh data"))
	}))
	defer srv.Close()

	store := newArchiverMock()
	factory := newStagingAction(store, srv.Client())

	j := &job.Job{
		UUID:     "tenant-a.j1",
		WorkPath: "alice/job-1-wave-sim",
		Inputs:   []byte(`["` + srv.URL + `/mesh.dat"]`),
	}
	act := factory(j, &system.System{SystemID: "exec-1"})
	require.NoError(t, act.Run(context.Background()))

	require.Equal(t, []byte("mesh data"), store.objects["alice/job-1-wave-sim/mesh.dat"])
}

func TestStagingAction_MissingInputIsDependencyFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	factory := newStagingAction(newArchiverMock(), srv.Client())
	j := &job.Job{
		UUID:     "tenant-a.j1",
		WorkPath: "alice/job-1-wave-sim",
		Inputs:   []byte(`["` + srv.URL + `/gone.dat"]`),
	}

	err := factory(j, nil).Run(context.Background())
	require.ErrorIs(t, err, worker.ErrDependencyMissing)
}

func TestStagingAction_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	factory := newStagingAction(newArchiverMock(), srv.Client())
	j := &job.Job{
		UUID:     "tenant-a.j1",
		WorkPath: "alice/job-1-wave-sim",
		Inputs:   []byte(`["` + srv.URL + `/flaky.dat"]`),
	}

	err := factory(j, nil).Run(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, worker.ErrDependencyMissing)
}

func TestStagingAction_StoppedAbortsBetweenFiles(t *testing.T) {
	fetches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	factory := newStagingAction(newArchiverMock(), srv.Client())
	j := &job.Job{
		UUID:     "tenant-a.j1",
		WorkPath: "alice/job-1-wave-sim",
		Inputs:   []byte(`["` + srv.URL + `/a.dat", "` + srv.URL + `/b.dat"]`),
	}

	act := factory(j, nil)
	act.SetStopped(true)
	require.NoError(t, act.Run(context.Background()))
	require.Zero(t, fetches)
}

func TestCleaner_RemovesStagedInputs(t *testing.T) {
	store := newArchiverMock()
	store.objects["alice/job-1-wave-sim/mesh.dat"] = []byte("mesh data")

	c := newCleaner(store)
	j := &job.Job{
		WorkPath: "alice/job-1-wave-sim",
		Inputs:   []byte(`["https://data.example.org/mesh.dat"]`),
	}
	require.NoError(t, c.CleanUp(context.Background(), j))
	require.Empty(t, store.objects)
	require.Equal(t, []string{"alice/job-1-wave-sim/mesh.dat"}, store.removed)
}

func TestSubmissionAction_WritesManifestToInbox(t *testing.T) {
	store := newArchiverMock()
	factory := newSubmissionAction(store)

	j := &job.Job{
		UUID:       "tenant-a.j1",
		TenantID:   "tenant-a",
		Owner:      "alice",
		Name:       "wave sim",
		BatchQueue: "normal",
		NodeCount:  4,
		MaxRunTime: "12:00:00",
		WorkPath:   "alice/job-1-wave-sim",
		Parameters: []byte(`{"resolution": "fine"}`),
	}
	act := factory(j, &system.System{SystemID: "exec-1"})
	require.NoError(t, act.Run(context.Background()))

	raw, ok := store.objects["inbox/exec-1/job-tenant-a.j1.json"]
	require.True(t, ok)

	var m submitManifest
	require.NoError(t, json.Unmarshal(raw, &m))
	require.Equal(t, "tenant-a.j1", m.UUID)
	require.Equal(t, "normal", m.BatchQueue)
	require.Equal(t, int64(4), m.NodeCount)
	require.Equal(t, "alice/job-1-wave-sim", m.WorkPath)
	require.True(t, bytes.Contains(m.Parameters, []byte("fine")))
}

func TestSubmissionAction_NilSystemIsDependencyFailure(t *testing.T) {
	factory := newSubmissionAction(newArchiverMock())
	act := factory(&job.Job{UUID: "tenant-a.j1"}, nil)

	err := act.Run(context.Background())
	require.ErrorIs(t, err, worker.ErrDependencyMissing)
}

func TestArchiveAction_WritesManifest(t *testing.T) {
	store := newArchiverMock()
	factory := newArchiveAction(store)

	j := &job.Job{
		UUID:        "tenant-a.j1",
		TenantID:    "tenant-a",
		Owner:       "alice",
		WorkPath:    "alice/job-1-wave-sim",
		ArchivePath: "archive/alice/wave-sim",
	}
	act := factory(j, nil)
	require.NoError(t, act.Run(context.Background()))

	raw, ok := store.objects["archive/alice/wave-sim/job.json"]
	require.True(t, ok)

	var m archiveManifest
	require.NoError(t, json.Unmarshal(raw, &m))
	require.Equal(t, "tenant-a.j1", m.UUID)
	require.Equal(t, "alice/job-1-wave-sim", m.WorkPath)
	require.False(t, m.ArchivedAt.IsZero())
}

func TestArchiveAction_MissingArchivePath(t *testing.T) {
	factory := newArchiveAction(newArchiverMock())
	act := factory(&job.Job{UUID: "tenant-a.j1"}, nil)

	err := act.Run(context.Background())
	require.ErrorIs(t, err, worker.ErrDependencyMissing)
}
