package kmerge_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/davidvella/kmerge"
	"github.com/davidvella/kmerge/generate"
	"github.com/davidvella/kmerge/lineio"
	"github.com/davidvella/kmerge/manifest"
	"github.com/davidvella/kmerge/merge"
	"github.com/davidvella/kmerge/monitoring"
	"github.com/davidvella/kmerge/source"
	"github.com/davidvella/kmerge/storage/local"
	"github.com/davidvella/kmerge/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStorage = errors.New("its a me, error")

// MockStorage implements Storage for testing and counts open handles.
type MockStorage struct {
	files   map[string]string
	order   []string
	listErr error
	openErr map[string]error
	mu      sync.Mutex
	opened  int
	closed  int
}

func NewMockStorage() *MockStorage {
	return &MockStorage{
		files:   make(map[string]string),
		openErr: make(map[string]error),
	}
}

func (m *MockStorage) Add(name string, values ...int64) *MockStorage {
	var b []byte
	for _, v := range values {
		b = lineio.Append(b, v)
	}
	return m.AddRaw(name, string(b))
}

func (m *MockStorage) AddRaw(name, data string) *MockStorage {
	m.files[name] = data
	m.order = append(m.order, name)
	return m
}

func (m *MockStorage) List(_ context.Context) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return slices.Clone(m.order), nil
}

func (m *MockStorage) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if err := m.openErr[name]; err != nil {
		return nil, err
	}
	data, ok := m.files[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	m.mu.Lock()
	m.opened++
	m.mu.Unlock()
	return &mockReader{Reader: strings.NewReader(data), storage: m}, nil
}

func (m *MockStorage) Leaked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened - m.closed
}

type mockReader struct {
	io.Reader
	storage *MockStorage
}

func (r *mockReader) Close() error {
	r.storage.mu.Lock()
	r.storage.closed++
	r.storage.mu.Unlock()
	return nil
}

// MockOutput implements Output in memory.
type MockOutput struct {
	bytes.Buffer
	committed    bool
	aborted      bool
	errorCounter int
	counter      int
	commitErr    error
}

func (o *MockOutput) Write(p []byte) (int, error) {
	o.counter++
	if o.counter == o.errorCounter {
		return 0, errStorage
	}
	return o.Buffer.Write(p)
}

func (o *MockOutput) Commit() (bool, error) {
	if o.commitErr != nil {
		return o.Len() > 0, o.commitErr
	}
	o.committed = true
	return false, nil
}

func (o *MockOutput) Abort() (bool, error) {
	o.aborted = true
	return o.Len() > 0, nil
}

// MockLedger keeps every status a run passes through.
type MockLedger struct {
	runs []manifest.Run
	err  error
}

func (l *MockLedger) Put(run manifest.Run) error {
	if l.err != nil {
		return l.err
	}
	run.Sources = slices.Clone(run.Sources)
	l.runs = append(l.runs, run)
	return nil
}

func (l *MockLedger) statuses() []manifest.Status {
	var out []manifest.Status
	for _, r := range l.runs {
		out = append(out, r.Status)
	}
	return out
}

func TestRun(t *testing.T) {
	tests := []struct {
		name    string
		storage *MockStorage
		opts    []kmerge.Option
		want    string
	}{
		{
			name:    "three sources",
			storage: NewMockStorage().Add("a", 1, 4, 9).Add("b", 2, 2, 3).Add("c", 5),
			want:    "1\n2\n2\n3\n4\n5\n9\n",
		},
		{
			name:    "equal values interleave",
			storage: NewMockStorage().Add("a", 1, 1, 1, 1).Add("b", 1, 2, 2, 3),
			want:    "1\n1\n1\n1\n1\n2\n2\n3\n",
		},
		{
			name:    "heap selector",
			storage: NewMockStorage().Add("a", 1, 4, 9).Add("b", 2, 2, 3).Add("c", 5),
			opts:    []kmerge.Option{kmerge.WithSelector(merge.Heap)},
			want:    "1\n2\n2\n3\n4\n5\n9\n",
		},
		{
			name:    "explicit subset",
			storage: NewMockStorage().Add("a", 1, 4, 9).Add("b", 2, 2, 3).Add("c", 5),
			opts:    []kmerge.Option{kmerge.WithSources("c", "a")},
			want:    "1\n4\n5\n9\n",
		},
		{
			name:    "no sources",
			storage: NewMockStorage(),
			want:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &MockOutput{}
			ledger := &MockLedger{}
			opts := append([]kmerge.Option{kmerge.WithLedger(ledger), kmerge.WithOutputName("out")}, tt.opts...)

			res, err := kmerge.Run(context.Background(), tt.storage, out, opts...)
			require.NoError(t, err)

			assert.Equal(t, tt.want, out.String())
			assert.True(t, out.committed)
			assert.False(t, out.aborted)
			assert.False(t, res.Partial)
			assert.Equal(t, int64(strings.Count(tt.want, "\n")), res.Values)
			assert.Zero(t, tt.storage.Leaked())

			assert.Equal(t, []manifest.Status{manifest.StatusRunning, manifest.StatusComplete}, ledger.statuses())
			last := ledger.runs[len(ledger.runs)-1]
			assert.Equal(t, res.RunID, last.ID)
			assert.Equal(t, "out", last.Output)
			assert.Equal(t, res.Values, last.Values)
			assert.Equal(t, res.Sources, last.Sources)
		})
	}
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name        string
		storage     func() *MockStorage
		output      func() *MockOutput
		opts        []kmerge.Option
		check       func(t *testing.T, err error)
		wantPartial bool
		wantStatus  manifest.Status
	}{
		{
			name: "empty source",
			storage: func() *MockStorage {
				return NewMockStorage().Add("a", 1, 2).AddRaw("empty", "").Add("c", 3)
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, source.ErrEmptySource)
				assert.Contains(t, err.Error(), "empty")
			},
			wantStatus: manifest.StatusFailed,
		},
		{
			name: "malformed source",
			storage: func() *MockStorage {
				return NewMockStorage().Add("a", 1, 2).AddRaw("bad", "1\n2\n3.5\n")
			},
			check: func(t *testing.T, err error) {
				var malformed *source.MalformedSourceError
				require.ErrorAs(t, err, &malformed)
				assert.Equal(t, "bad", malformed.Source)
				assert.Equal(t, 3, malformed.Line)
			},
			wantStatus: manifest.StatusFailed,
		},
		{
			name: "unsorted source",
			storage: func() *MockStorage {
				return NewMockStorage().AddRaw("desc", "3\n2\n1\n")
			},
			check: func(t *testing.T, err error) {
				var unsorted *source.UnsortedSourceError
				assert.ErrorAs(t, err, &unsorted)
			},
			wantStatus: manifest.StatusFailed,
		},
		{
			name: "open error",
			storage: func() *MockStorage {
				m := NewMockStorage().Add("a", 1).Add("b", 2)
				m.openErr["b"] = errStorage
				return m
			},
			check: func(t *testing.T, err error) {
				var ioErr *source.IOError
				require.ErrorAs(t, err, &ioErr)
				assert.Equal(t, "open", ioErr.Op)
				assert.Equal(t, "b", ioErr.Source)
			},
			wantStatus: manifest.StatusFailed,
		},
		{
			name: "list error",
			storage: func() *MockStorage {
				m := NewMockStorage()
				m.listErr = errStorage
				return m
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, errStorage)
			},
		},
		{
			name: "write error after output reached destination",
			storage: func() *MockStorage {
				return NewMockStorage().Add("a", 1, 3, 5).Add("b", 2, 4, 6)
			},
			output: func() *MockOutput {
				return &MockOutput{errorCounter: 2}
			},
			// A 1-byte buffer pushes every line straight to the output.
			opts: []kmerge.Option{kmerge.WithBufferSize(1)},
			check: func(t *testing.T, err error) {
				var writeErr *merge.WriteError
				assert.ErrorAs(t, err, &writeErr)
			},
			wantPartial: true,
			wantStatus:  manifest.StatusInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := tt.storage()
			out := &MockOutput{}
			if tt.output != nil {
				out = tt.output()
			}
			ledger := &MockLedger{}
			opts := append([]kmerge.Option{kmerge.WithLedger(ledger)}, tt.opts...)

			res, err := kmerge.Run(context.Background(), storage, out, opts...)
			require.Error(t, err)
			tt.check(t, err)

			assert.True(t, out.aborted)
			assert.False(t, out.committed)
			assert.Equal(t, tt.wantPartial, res.Partial)
			assert.Zero(t, storage.Leaked())
			if tt.wantStatus != "" {
				assert.Equal(t, []manifest.Status{manifest.StatusRunning, tt.wantStatus}, ledger.statuses())
			}
		})
	}
}

func TestRun_CommitFailureAfterWrites(t *testing.T) {
	storage := NewMockStorage().Add("a", 1, 3).Add("b", 2)
	out := &MockOutput{commitErr: errStorage}
	ledger := &MockLedger{}

	res, err := kmerge.Run(context.Background(), storage, out, kmerge.WithLedger(ledger))
	require.ErrorIs(t, err, errStorage)

	assert.True(t, res.Partial)
	assert.False(t, out.committed)
	assert.Zero(t, storage.Leaked())
	assert.Equal(t, []manifest.Status{manifest.StatusRunning, manifest.StatusInvalid}, ledger.statuses())
}

type fakeRecorder struct {
	statuses []string
}

func (r *fakeRecorder) RecordRun(status string, _ int64, _ int, _ time.Duration) {
	r.statuses = append(r.statuses, status)
}

func TestRun_RecordsFailuresBeforeMerge(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	listFails := NewMockStorage()
	listFails.listErr = errStorage

	tests := []struct {
		name    string
		ctx     context.Context
		storage *MockStorage
		want    string
	}{
		{
			name:    "list error",
			ctx:     context.Background(),
			storage: listFails,
			want:    monitoring.StatusFailed,
		},
		{
			name:    "empty source",
			ctx:     context.Background(),
			storage: NewMockStorage().Add("a", 1).AddRaw("empty", ""),
			want:    monitoring.StatusFailed,
		},
		{
			name:    "malformed first line",
			ctx:     context.Background(),
			storage: NewMockStorage().AddRaw("bad", "x\n"),
			want:    monitoring.StatusFailed,
		},
		{
			name:    "canceled while opening",
			ctx:     canceled,
			storage: NewMockStorage().Add("a", 1),
			want:    monitoring.StatusCanceled,
		},
		{
			name:    "merge runs",
			ctx:     context.Background(),
			storage: NewMockStorage().Add("a", 1).Add("b", 2),
			want:    monitoring.StatusComplete,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			_, _ = kmerge.Run(tt.ctx, tt.storage, &MockOutput{}, kmerge.WithRecorder(rec))
			assert.Equal(t, []string{tt.want}, rec.statuses)
		})
	}
}

func TestRun_UnsortedWithoutCheck(t *testing.T) {
	storage := NewMockStorage().AddRaw("desc", "3\n2\n1\n")
	out := &MockOutput{}

	_, err := kmerge.Run(context.Background(), storage, out, kmerge.WithOrderCheck(false))
	require.NoError(t, err)
	assert.Equal(t, "3\n2\n1\n", out.String())
}

func TestRun_Canceled(t *testing.T) {
	storage := NewMockStorage().Add("a", 1, 2).Add("b", 3)
	out := &MockOutput{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := kmerge.Run(ctx, storage, out)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, out.aborted)
	assert.Zero(t, storage.Leaked())
}

func TestRun_LedgerError(t *testing.T) {
	storage := NewMockStorage().Add("a", 1)
	out := &MockOutput{}

	_, err := kmerge.Run(context.Background(), storage, out, kmerge.WithLedger(&MockLedger{err: errStorage}))
	assert.ErrorIs(t, err, errStorage)
	assert.True(t, out.aborted)
	assert.Zero(t, storage.Leaked())
}

func TestRun_LocalFiles(t *testing.T) {
	dir := t.TempDir()
	runs := filepath.Join(dir, "files")
	outPath := filepath.Join(dir, "output.txt")

	opts := generate.DefaultOptions()
	opts.Count = 25
	opts.MaxLen = 200
	opts.MaxValue = 1000
	paths, err := generate.Files(runs, opts)
	require.NoError(t, err)

	var want []int64
	for _, p := range paths {
		f, err := os.Open(p)
		require.NoError(t, err)
		want = append(want, lineio.ReadValues(f)...)
		require.NoError(t, f.Close())
	}
	slices.Sort(want)

	ledger, err := manifest.Open(manifest.Options{Path: filepath.Join(dir, "manifest")})
	require.NoError(t, err)
	defer ledger.Close()

	for _, sel := range []merge.Selector{merge.Linear, merge.Heap} {
		out, err := local.CreateOutput(outPath, true)
		require.NoError(t, err)

		res, err := kmerge.Run(context.Background(), local.NewLocalStorage(runs), out,
			kmerge.WithSelector(sel),
			kmerge.WithLedger(ledger),
			kmerge.WithOutputName(outPath),
		)
		require.NoError(t, err)
		assert.Equal(t, int64(len(want)), res.Values)

		f, err := os.Open(outPath)
		require.NoError(t, err)
		got := lineio.ReadValues(f)
		require.NoError(t, f.Close())
		assert.Equal(t, want, got)

		f, err = os.Open(outPath)
		require.NoError(t, err)
		report, err := verify.Sorted(f)
		require.NoError(t, f.Close())
		require.NoError(t, err)
		assert.Equal(t, int64(len(want)), report.Values)

		stored, err := ledger.Get(res.RunID)
		require.NoError(t, err)
		assert.Equal(t, manifest.StatusComplete, stored.Status)
		assert.Len(t, stored.Sources, opts.Count)
	}
}

func TestRun_LocalFilesFailureLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	runs := filepath.Join(dir, "files")
	require.NoError(t, os.Mkdir(runs, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(runs, "a.txt"), []byte("1\n2\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(runs, "b.txt"), []byte("1\noops\n"), 0o600))
	outPath := filepath.Join(dir, "output.txt")

	out, err := local.CreateOutput(outPath, true)
	require.NoError(t, err)

	res, err := kmerge.Run(context.Background(), local.NewLocalStorage(runs), out)
	require.Error(t, err)
	assert.False(t, res.Partial)

	_, err = os.Stat(outPath)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
