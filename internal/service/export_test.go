package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"debt-titles/internal/clients"
	"debt-titles/internal/domain"
	"debt-titles/internal/metrics"
	"debt-titles/internal/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type memoryStatusStore struct {
	mu     sync.Mutex
	kv     map[string]string
	sets   map[string]map[string]bool
	getErr error
}

func newMemoryStatusStore() *memoryStatusStore {
	return &memoryStatusStore{kv: map[string]string{}, sets: map[string]map[string]bool{}}
}

func (m *memoryStatusStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value.(string)
	return nil
}

func (m *memoryStatusStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.kv[key]
	if !ok {
		return "", clients.ErrCacheMiss
	}
	return v, nil
}

func (m *memoryStatusStore) SAdd(_ context.Context, key string, members ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sets[key] == nil {
		m.sets[key] = map[string]bool{}
	}
	for _, member := range members {
		m.sets[key][member.(string)] = true
	}
	return nil
}

func (m *memoryStatusStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for member := range m.sets[key] {
		out = append(out, member)
	}
	return out, nil
}

func (m *memoryStatusStore) SRem(_ context.Context, key string, members ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, member := range members {
		delete(m.sets[key], member.(string))
	}
	return nil
}

type memoryFileStore struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func (m *memoryFileStore) Put(_ context.Context, fileName string, data []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = map[string][]byte{}
	}
	m.files[fileName] = data
	return fileName, nil
}

func (m *memoryFileStore) URL(_ context.Context, key string) (string, error) {
	return "http://files.test/" + key, nil
}

type exportEvent struct {
	kind     string
	exportID string
	progress float64
}

type fakeExportNotifier struct {
	mu     sync.Mutex
	events []exportEvent
}

func (f *fakeExportNotifier) add(e exportEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeExportNotifier) NotifyExportProgress(_ context.Context, _ int64, exportID string, progress float64, _ string) error {
	f.add(exportEvent{"progress", exportID, progress})
	return nil
}

func (f *fakeExportNotifier) NotifyExportComplete(_ context.Context, _ int64, exportID, _, _ string) error {
	f.add(exportEvent{"complete", exportID, 100})
	return nil
}

func (f *fakeExportNotifier) NotifyExportFailed(_ context.Context, _ int64, exportID, _ string) error {
	f.add(exportEvent{"failed", exportID, 0})
	return nil
}

type exportFixture struct {
	svc      *ExportService
	titles   *DebtTitleService
	store    *memoryStatusStore
	files    *memoryFileStore
	notifier *fakeExportNotifier
	metrics  *metrics.Metrics
}

func newExportFixture(t *testing.T) *exportFixture {
	t.Helper()
	now := day(2024, 1, 16)
	m := metrics.New(prometheus.NewRegistry())
	titles := NewDebtTitleService(repository.NewMemoryDebtTitleRepository(), nil, m).
		WithClock(func() time.Time { return now })

	f := &exportFixture{
		titles:   titles,
		store:    newMemoryStatusStore(),
		files:    &memoryFileStore{},
		notifier: &fakeExportNotifier{},
		metrics:  m,
	}
	f.svc = NewExportService(titles, f.store, f.files, f.notifier, m, "exports:").
		WithClock(func() time.Time { return now })
	return f
}

func TestTitlesExport_WritesWorkbook(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()

	_, err := f.titles.Create(ctx, installmentInput("X-1"))
	require.NoError(t, err)
	_, err = f.titles.Create(ctx, bulletInput("X-2"))
	require.NoError(t, err)

	exportID, err := f.svc.StartTitlesExport(ctx, TitlesExportRequest{
		Fields: []string{"title_number", "debtor.document", "updated_value", "days_overdue"},
	}, 42)
	require.NoError(t, err)
	f.svc.Wait()

	status, err := f.svc.GetExport(ctx, exportID, 42)
	require.NoError(t, err)
	assert.Equal(t, 100.0, status["progress"])
	assert.Equal(t, "titles", status["type"])
	assert.Equal(t, "agora mesmo", status["created_at"])
	url, ok := status["file_url"].(*string)
	require.True(t, ok)
	require.NotNil(t, url)
	assert.Contains(t, *url, "http://files.test/titles_")

	require.Len(t, f.files.files, 1)
	var data []byte
	for _, b := range f.files.files {
		data = b
	}
	book, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer book.Close()

	rows, err := book.GetRows("Titles")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Número do título", "CPF/CNPJ", "Valor atualizado", "Dias em atraso"}, rows[0])
	assert.Equal(t, []string{"X-1", "529.982.247-25", "1095", "15"}, rows[1])
	assert.Equal(t, []string{"X-2", "529.982.247-25", "1035", "15"}, rows[2])

	f.notifier.mu.Lock()
	last := f.notifier.events[len(f.notifier.events)-1]
	f.notifier.mu.Unlock()
	assert.Equal(t, exportEvent{"complete", exportID, 100}, last)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ExportsFinished.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.ExportRowsGenerated))
}

func TestTitlesExport_FiltersByDocument(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()

	_, err := f.titles.Create(ctx, bulletInput("Y-1"))
	require.NoError(t, err)
	company := bulletInput("Y-2")
	company.DebtorDocument = "11222333000181"
	_, err = f.titles.Create(ctx, company)
	require.NoError(t, err)

	_, err = f.svc.StartTitlesExport(ctx, TitlesExportRequest{
		Fields:   []string{"title_number"},
		Document: "11222333000181",
	}, 1)
	require.NoError(t, err)
	f.svc.Wait()

	for _, data := range f.files.files {
		book, err := excelize.OpenReader(bytes.NewReader(data))
		require.NoError(t, err)
		rows, err := book.GetRows("Titles")
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"Número do título"}, {"Y-2"}}, rows)
		_ = book.Close()
	}
}

func TestTitlesExport_UnknownField(t *testing.T) {
	f := newExportFixture(t)

	_, err := f.svc.StartTitlesExport(context.Background(), TitlesExportRequest{Fields: []string{"nope"}}, 1)
	assert.True(t, domain.IsValidation(err))
}

func TestTitlesExport_StorageFailure(t *testing.T) {
	f := newExportFixture(t)
	f.files.err = errors.New("disk full")
	ctx := context.Background()

	exportID, err := f.svc.StartTitlesExport(ctx, TitlesExportRequest{}, 3)
	require.NoError(t, err)
	f.svc.Wait()

	status, err := f.svc.GetExport(ctx, exportID, 3)
	require.NoError(t, err)
	assert.Contains(t, status["error"], "disk full")
	assert.Nil(t, status["file_url"].(*string))

	f.notifier.mu.Lock()
	last := f.notifier.events[len(f.notifier.events)-1]
	f.notifier.mu.Unlock()
	assert.Equal(t, "failed", last.kind)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ExportsFinished.WithLabelValues("failed")))
}

func TestGetExports_OnlyOwnNewestFirst(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()

	clock := day(2024, 1, 16)
	f.svc.WithClock(func() time.Time { return clock })

	first, err := f.svc.StartTitlesExport(ctx, TitlesExportRequest{}, 5)
	require.NoError(t, err)
	f.svc.Wait()

	clock = clock.Add(2 * time.Hour)
	second, err := f.svc.StartTitlesExport(ctx, TitlesExportRequest{}, 5)
	require.NoError(t, err)
	_, err = f.svc.StartTitlesExport(ctx, TitlesExportRequest{}, 6)
	require.NoError(t, err)
	f.svc.Wait()

	exports, err := f.svc.GetExports(ctx, 5)
	require.NoError(t, err)
	require.Len(t, exports, 2)
	assert.Equal(t, second, exports[0]["id"])
	assert.Equal(t, first, exports[1]["id"])
	assert.Equal(t, "há 2 horas", exports[1]["created_at"])

	_, err = f.svc.GetExport(ctx, first, 6)
	assert.ErrorIs(t, err, ErrExportNotFound)
	_, err = f.svc.GetExport(ctx, "missing", 5)
	assert.ErrorIs(t, err, ErrExportNotFound)
}

func TestGetExports_PrunesExpired(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()

	exportID, err := f.svc.StartTitlesExport(ctx, TitlesExportRequest{}, 5)
	require.NoError(t, err)
	f.svc.Wait()

	f.store.mu.Lock()
	delete(f.store.kv, "exports:"+exportID)
	f.store.mu.Unlock()

	exports, err := f.svc.GetExports(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, exports)
	assert.Empty(t, f.store.sets[exportSetKey])
}

func TestGetExports_KeepsIndexOnStoreFailure(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()

	exportID, err := f.svc.StartTitlesExport(ctx, TitlesExportRequest{}, 5)
	require.NoError(t, err)
	f.svc.Wait()

	f.store.mu.Lock()
	f.store.getErr = errors.New("connection reset")
	f.store.mu.Unlock()

	_, err = f.svc.GetExports(ctx, 5)
	assert.ErrorContains(t, err, "connection reset")
	_, err = f.svc.GetExport(ctx, exportID, 5)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrExportNotFound)

	f.store.mu.Lock()
	f.store.getErr = nil
	f.store.mu.Unlock()

	exports, err := f.svc.GetExports(ctx, 5)
	require.NoError(t, err)
	require.Len(t, exports, 1)
	assert.Equal(t, exportID, exports[0]["id"])
}

func TestHumanizeAgo(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	cases := map[string]time.Duration{
		"agora mesmo":      30 * time.Second,
		"há 1 minuto":      time.Minute,
		"há 45 minutos":    45 * time.Minute,
		"há 1 hora":        90 * time.Minute,
		"há 3 dias":        72 * time.Hour,
		"10/04/2024 12:00": 30 * 24 * time.Hour,
	}
	for want, ago := range cases {
		assert.Equal(t, want, humanizeAgo(now.Add(-ago), now), want)
	}
	assert.Equal(t, "agora mesmo", humanizeAgo(now.Add(time.Minute), now))
}
