package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"debt-titles/internal/clients"
	"debt-titles/internal/metrics"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

// StatusStore keeps export statuses. Get reports a missing or expired key as clients.ErrCacheMiss.
type StatusStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	SAdd(ctx context.Context, key string, members ...any) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SRem(ctx context.Context, key string, members ...any) error
}

// FileStore is satisfied by the local storage client and the S3 client.
type FileStore interface {
	Put(ctx context.Context, fileName string, data []byte) (string, error)
	URL(ctx context.Context, key string) (string, error)
}

type ExportNotifier interface {
	NotifyExportProgress(ctx context.Context, userID int64, exportID string, progress float64, stage string) error
	NotifyExportComplete(ctx context.Context, userID int64, exportID, url, filename string) error
	NotifyExportFailed(ctx context.Context, userID int64, exportID, errMsg string) error
}

type TitleLister interface {
	List(ctx context.Context, document string, asOf time.Time) ([]TitleView, error)
}

var ErrExportNotFound = errors.New("export not found")

type ExportStatus struct {
	ID       string         `json:"id"`
	Key      string         `json:"key"`
	Type     string         `json:"type"`
	UserID   int64          `json:"user_id"`
	Filters  map[string]any `json:"filters"`
	Progress float64        `json:"progress"`
	FileURL  *string        `json:"file_url"`
	Error    string         `json:"error,omitempty"`
	Created  time.Time      `json:"created_at"`
}

// TitlesExportRequest selects columns and optionally narrows rows to one debtor.
type TitlesExportRequest struct {
	Fields   []string
	Document string
	AsOf     time.Time
}

const (
	exportSetKey    = "export_ids"
	exportTTL       = 20 * time.Minute
	exportChunkSize = 100
)

type ExportService struct {
	titles  TitleLister
	store   StatusStore
	files   FileStore
	ws      ExportNotifier
	metrics *metrics.Metrics
	prefix  string
	now     func() time.Time

	wg sync.WaitGroup
}

func NewExportService(titles TitleLister, store StatusStore, files FileStore, ws ExportNotifier, m *metrics.Metrics, prefix string) *ExportService {
	if prefix == "" {
		prefix = "exports:"
	}
	return &ExportService{
		titles:  titles,
		store:   store,
		files:   files,
		ws:      ws,
		metrics: m,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (s *ExportService) WithClock(now func() time.Time) *ExportService {
	s.now = now
	return s
}

// Wait blocks until every running export has finished.
func (s *ExportService) Wait() {
	s.wg.Wait()
}

func (s *ExportService) saveStatus(ctx context.Context, st *ExportStatus) error {
	if s.store == nil {
		return nil
	}

	data, err := json.Marshal(st)
	if err != nil {
		return err
	}

	if err := s.store.Set(ctx, st.Key, string(data), exportTTL); err != nil {
		return err
	}

	return s.store.SAdd(ctx, exportSetKey, st.Key)
}

// StartTitlesExport records a pending export and builds the file in the background.
func (s *ExportService) StartTitlesExport(ctx context.Context, req TitlesExportRequest, userID int64) (string, error) {
	if s.files == nil {
		return "", errors.New("export storage not configured")
	}

	fields := req.Fields
	if len(fields) == 0 {
		fields = defaultTitleFields
	}
	cols, err := selectTitleColumns(fields)
	if err != nil {
		return "", err
	}

	exportID := uuid.NewString()
	status := &ExportStatus{
		ID:       exportID,
		Key:      s.prefix + exportID,
		Type:     "titles",
		UserID:   userID,
		Filters:  titleFiltersMap(req, fields),
		Progress: 0,
		Created:  s.now(),
	}
	if err := s.saveStatus(ctx, status); err != nil {
		log.Printf("[EXPORT] save status %s: %v", exportID, err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runTitlesExport(context.Background(), status, req, cols)
	}()

	return exportID, nil
}

func (s *ExportService) progress(ctx context.Context, st *ExportStatus, progress float64, stage string) {
	st.Progress = progress
	if err := s.saveStatus(ctx, st); err != nil {
		log.Printf("[EXPORT] save status %s: %v", st.ID, err)
	}
	if s.ws != nil {
		_ = s.ws.NotifyExportProgress(ctx, st.UserID, st.ID, progress, stage)
	}
}

func (s *ExportService) fail(ctx context.Context, st *ExportStatus, err error) {
	log.Printf("[EXPORT] export %s failed: %v", st.ID, err)
	st.Error = err.Error()
	if serr := s.saveStatus(ctx, st); serr != nil {
		log.Printf("[EXPORT] save status %s: %v", st.ID, serr)
	}
	if s.ws != nil {
		_ = s.ws.NotifyExportFailed(ctx, st.UserID, st.ID, st.Error)
	}
	s.metrics.IncExportFinished(false)
}

func (s *ExportService) runTitlesExport(ctx context.Context, st *ExportStatus, req TitlesExportRequest, cols []TitleColumn) {
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}

	titles, err := s.titles.List(ctx, req.Document, asOf)
	if err != nil {
		s.fail(ctx, st, fmt.Errorf("list titles: %w", err))
		return
	}

	data, err := s.buildWorkbook(ctx, st, titles, cols)
	if err != nil {
		s.fail(ctx, st, err)
		return
	}
	s.metrics.AddExportRows(len(titles))

	fileName := fmt.Sprintf("titles_%s.xlsx", s.now().Format("20060102_150405"))

	s.progress(ctx, st, 95, "uploading")

	key, err := s.files.Put(ctx, fileName, data)
	if err != nil {
		s.fail(ctx, st, fmt.Errorf("store file: %w", err))
		return
	}
	url, err := s.files.URL(ctx, key)
	if err != nil {
		s.fail(ctx, st, fmt.Errorf("file url: %w", err))
		return
	}

	st.FileURL = &url
	s.progress(ctx, st, 100, "ready")
	if s.ws != nil {
		_ = s.ws.NotifyExportComplete(ctx, st.UserID, st.ID, url, fileName)
	}
	s.metrics.IncExportFinished(true)
	log.Printf("[EXPORT] export %s ready: %d rows", st.ID, len(titles))
}

func (s *ExportService) buildWorkbook(ctx context.Context, st *ExportStatus, titles []TitleView, cols []TitleColumn) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Titles"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, err
	}
	_ = f.SetDocProps(&excelize.DocProperties{
		Creator: fmt.Sprintf("user_%d", st.UserID),
	})

	for i, col := range cols {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, col.Header)
	}

	total := len(titles)
	for i, t := range titles {
		for colIdx, col := range cols {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, i+2)
			if err := f.SetCellValue(sheet, cell, col.Value(t)); err != nil {
				return nil, fmt.Errorf("write cell %s: %w", cell, err)
			}
		}

		if (i+1)%exportChunkSize == 0 || i == total-1 {
			// 100 is reserved for when the file url is ready
			progress := math.Min(math.Round(float64(i+1)/float64(total)*100), 90)
			s.progress(ctx, st, progress, "generating")
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// GetExports lists the user's exports, newest first.
func (s *ExportService) GetExports(ctx context.Context, userID int64) ([]map[string]any, error) {
	if s.store == nil {
		return nil, errors.New("status store not configured")
	}

	keys, err := s.store.SMembers(ctx, exportSetKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get export keys: %w", err)
	}

	var statuses []ExportStatus
	for _, key := range keys {
		data, err := s.store.Get(ctx, key)
		if errors.Is(err, clients.ErrCacheMiss) {
			// the status expired; drop it from the index
			_ = s.store.SRem(ctx, exportSetKey, key)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get export %s: %w", key, err)
		}

		var status ExportStatus
		if err := json.Unmarshal([]byte(data), &status); err != nil {
			continue
		}

		if status.UserID == userID {
			statuses = append(statuses, status)
		}
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Created.After(statuses[j].Created)
	})

	exports := make([]map[string]any, 0, len(statuses))
	for _, status := range statuses {
		exports = append(exports, s.exportMap(status))
	}
	return exports, nil
}

func (s *ExportService) GetExport(ctx context.Context, exportID string, userID int64) (map[string]any, error) {
	if s.store == nil {
		return nil, errors.New("status store not configured")
	}

	data, err := s.store.Get(ctx, s.prefix+exportID)
	if errors.Is(err, clients.ErrCacheMiss) {
		return nil, ErrExportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get export %s: %w", exportID, err)
	}

	var status ExportStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, fmt.Errorf("failed to parse export status: %w", err)
	}

	if status.UserID != userID {
		return nil, ErrExportNotFound
	}

	return s.exportMap(status), nil
}

func (s *ExportService) exportMap(status ExportStatus) map[string]any {
	m := map[string]any{
		"id":         status.ID,
		"key":        status.Key,
		"type":       status.Type,
		"user_id":    status.UserID,
		"progress":   status.Progress,
		"file_url":   status.FileURL,
		"filters":    status.Filters,
		"created_at": humanizeAgo(status.Created, s.now()),
	}
	if status.Error != "" {
		m["error"] = status.Error
	}
	return m
}

func humanizeAgo(t, now time.Time) string {
	if t.After(now) {
		return "agora mesmo"
	}

	minutes := int(now.Sub(t).Minutes())
	if minutes < 1 {
		return "agora mesmo"
	}
	if minutes < 60 {
		return fmt.Sprintf("há %d %s", minutes, ptPlural(minutes, "minuto", "minutos"))
	}
	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("há %d %s", hours, ptPlural(hours, "hora", "horas"))
	}
	days := hours / 24
	if days < 30 {
		return fmt.Sprintf("há %d %s", days, ptPlural(days, "dia", "dias"))
	}
	return t.Format("02/01/2006 15:04")
}

func ptPlural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func titleFiltersMap(req TitlesExportRequest, fields []string) map[string]any {
	m := map[string]any{
		"document": nil,
		"as_of":    nil,
		"fields":   fields,
	}
	if req.Document != "" {
		m["document"] = req.Document
	}
	if !req.AsOf.IsZero() {
		m["as_of"] = req.AsOf.Format(dateLayout)
	}
	return m
}
