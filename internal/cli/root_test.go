package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/drive-side-service/internal/models"
	"github.com/kjstillabower/drive-side-service/internal/repository"
	"github.com/kjstillabower/drive-side-service/internal/store"
)

type fakeRemote struct {
	countries []models.Country
	err       error
	calls     int
}

func (f *fakeRemote) FetchAll(ctx context.Context) ([]models.Country, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.Country(nil), f.countries...), nil
}

type trackingCloser struct{ closed bool }

func (c *trackingCloser) Close() error {
	c.closed = true
	return nil
}

type harness struct {
	store      *store.InMemoryStore
	remote     *fakeRemote
	closer     *trackingCloser
	opened     int
	failWrites error
}

// writeFailingStore rejects every InsertAll with err.
type writeFailingStore struct {
	*store.InMemoryStore
	err error
}

func (s *writeFailingStore) InsertAll(ctx context.Context, countries []models.Country) error {
	return s.err
}

func newHarness(remote ...models.Country) *harness {
	return &harness{
		store:  store.NewInMemoryStore(),
		remote: &fakeRemote{countries: remote},
		closer: &trackingCloser{},
	}
}

func (h *harness) open(ctx context.Context, opts *RootOptions, logger *zap.Logger) (Repository, io.Closer, error) {
	h.opened++
	var s store.Store = h.store
	if h.failWrites != nil {
		s = &writeFailingStore{InMemoryStore: h.store, err: h.failWrites}
	}
	return repository.NewCountryRepository(s, h.remote, repository.WithLogger(logger)), h.closer, nil
}

func run(t *testing.T, h *harness, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommandWithOpener(h.open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

var fixture = []models.Country{
	{Name: "Japan", DriveSide: models.DriveSideLeft},
	{Name: "Canada", DriveSide: models.DriveSideRight},
	{Name: "India", DriveSide: models.DriveSideLeft},
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"list", "side", "import", "refresh"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	h := newHarness(fixture...)
	_, err := run(t, h, "", "list", "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid format "xml"`)
	assert.Zero(t, h.opened, "repository must not be opened for bad flags")
}

func TestList_FillsEmptyStoreFromRemote(t *testing.T) {
	h := newHarness(fixture...)

	out, err := run(t, h, "", "list")
	require.NoError(t, err)

	var got []models.Country
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, fixture, got)
	assert.Equal(t, 1, h.remote.calls)
	assert.True(t, h.closer.closed)

	stored, err := h.store.GetAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fixture, stored)
}

func TestList_RemoteFailureRendersEmptyList(t *testing.T) {
	h := newHarness()
	h.remote.err = errors.New("connection refused")

	out, err := run(t, h, "", "list", "--format", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)
}

func TestList_Golden(t *testing.T) {
	g := goldie.New(t)
	for _, format := range []string{"json", "text"} {
		t.Run(format, func(t *testing.T) {
			h := newHarness(fixture...)
			out, err := run(t, h, "", "list", "--format", format)
			require.NoError(t, err)
			g.Assert(t, "list_"+format, []byte(out))
		})
	}
}

func TestSide_FiltersStoredCountries(t *testing.T) {
	h := newHarness(fixture...)
	require.NoError(t, h.store.InsertAll(context.Background(), fixture))

	out, err := run(t, h, "", "side", "left", "--format", "text")
	require.NoError(t, err)
	goldie.New(t).Assert(t, "side_left_text", []byte(out))
	assert.Zero(t, h.remote.calls)
}

func TestSide_InvalidSide(t *testing.T) {
	tests := []string{"middle", "LEFT", ""}
	for _, side := range tests {
		t.Run(side, func(t *testing.T) {
			h := newHarness(fixture...)
			_, err := run(t, h, "", "side", side)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Zero(t, h.opened)
		})
	}
}

func TestSide_RequiresOneArg(t *testing.T) {
	h := newHarness()
	_, err := run(t, h, "", "side")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestImport_FromFile(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.store.InsertAll(context.Background(), []models.Country{
		{Name: "India", DriveSide: models.DriveSideLeft},
	}))

	path := filepath.Join(t.TempDir(), "countries.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- name: India
  driveSide: right
- name: Japan
  driveSide: left
`), 0o644))

	out, err := run(t, h, "", "import", path)
	require.NoError(t, err)
	assert.Equal(t, "upserted 2 countries\n", out)

	stored, err := h.store.GetAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Country{
		{Name: "India", DriveSide: models.DriveSideRight},
		{Name: "Japan", DriveSide: models.DriveSideLeft},
	}, stored)
}

func TestImport_FromStdin(t *testing.T) {
	h := newHarness()
	_, err := run(t, h, `[{"name": "Canada", "driveSide": "right"}]`, "import", "-")
	require.NoError(t, err)

	stored, err := h.store.GetAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Country{{Name: "Canada", DriveSide: models.DriveSideRight}}, stored)
}

func TestImport_InvalidEntryWritesNothing(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
	}{
		{name: "unknown side", stdin: "- name: Japan\n  driveSide: left\n- name: Atlantis\n  driveSide: up\n"},
		{name: "empty name", stdin: "- name: \"\"\n  driveSide: left\n"},
		{name: "empty list", stdin: "[]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			_, err := run(t, h, tt.stdin, "import", "-")
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))

			stored, err := h.store.GetAll(context.Background())
			require.NoError(t, err)
			assert.Empty(t, stored)
		})
	}
}

func TestImport_StoreWriteFailure(t *testing.T) {
	h := newHarness()
	h.failWrites = errors.New("database is locked")
	_, err := run(t, h, "- name: Japan\n  driveSide: left\n", "import", "-")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorContains(t, err, "database is locked")
}

func TestImport_DuplicateNamesCountDistinct(t *testing.T) {
	h := newHarness()
	out, err := run(t, h, "- name: Malta\n  driveSide: right\n- name: Malta\n  driveSide: left\n", "import", "-")
	require.NoError(t, err)
	assert.Equal(t, "upserted 1 countries\n", out)

	stored, err := h.store.GetAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Country{{Name: "Malta", DriveSide: models.DriveSideLeft}}, stored)
}

func TestImport_BadInput(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{name: "missing file", args: []string{"import", filepath.Join(t.TempDir(), "nope.yaml")}},
		{name: "not a list", stdin: "name: Japan\n", args: []string{"import", "-"}},
		{name: "unknown field", stdin: "- name: Japan\n  side: left\n", args: []string{"import", "-"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			_, err := run(t, h, tt.stdin, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Zero(t, h.opened)
		})
	}
}

func TestRefresh(t *testing.T) {
	h := newHarness(fixture...)
	require.NoError(t, h.store.InsertAll(context.Background(), []models.Country{
		{Name: "Japan", DriveSide: models.DriveSideRight},
	}))

	out, err := run(t, h, "", "refresh", "--format", "json")
	require.NoError(t, err)
	goldie.New(t).Assert(t, "refresh_json", []byte(out))

	stored, err := h.store.GetAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fixture, stored)
}

func TestRefresh_RemoteError(t *testing.T) {
	h := newHarness()
	h.remote.err = errors.New("status 503")

	_, err := run(t, h, "", "refresh")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "status 503")
}

func TestOpenerError_IsStoreFailure(t *testing.T) {
	cmd := NewRootCommandWithOpener(func(ctx context.Context, opts *RootOptions, logger *zap.Logger) (Repository, io.Closer, error) {
		return nil, nil, errors.New("dial tcp 127.0.0.1:11211: connection refused")
	})
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"list"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestOpenFromConfig_ExitCodes(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("SQLITE_PATH", "")

	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o644))
	badStore := filepath.Join(dir, "bad-store.yaml")
	require.NoError(t, os.WriteFile(badStore, []byte("store:\n  backend: sqlite\n  sqlite:\n    path: "+filepath.Join(blocker, "countries.db")+"\n"), 0o644))

	badBackend := filepath.Join(dir, "bad-backend.yaml")
	require.NoError(t, os.WriteFile(badBackend, []byte("store:\n  backend: postgres\n"), 0o644))

	tests := []struct {
		name     string
		config   string
		wantCode int
	}{
		{name: "missing config file", config: filepath.Join(dir, "nope.yaml"), wantCode: ExitCommandError},
		{name: "invalid backend", config: badBackend, wantCode: ExitCommandError},
		{name: "store cannot open", config: badStore, wantCode: ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewRootCommand()
			cmd.SetOut(io.Discard)
			cmd.SetErr(io.Discard)
			cmd.SetArgs([]string{"list", "--config", tt.config})
			err := cmd.Execute()
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, GetExitCode(err), err.Error())
		})
	}
}

func TestOpenFromConfig_InMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: in_memory\n"), 0o644))
	t.Setenv("STORE_BACKEND", "")

	repo, closer, err := OpenFromConfig(context.Background(), &RootOptions{ConfigPath: path}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, repo)
	require.NoError(t, closer.Close())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))

	wrapped := WrapExitError(ExitFailure, "upsert", io.ErrUnexpectedEOF)
	assert.ErrorIs(t, wrapped, io.ErrUnexpectedEOF)
	assert.Equal(t, "upsert: unexpected EOF", wrapped.Error())
}
