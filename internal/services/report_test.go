package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/streetintel/streetintel-backend/internal/logger"
	"github.com/streetintel/streetintel-backend/internal/repos"
	"github.com/streetintel/streetintel-backend/internal/types"
)

// ---- fakes ----

type fakeRepo struct {
	mu      sync.Mutex
	nextID  uint
	reports map[uint]*types.Report
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{nextID: 1, reports: make(map[uint]*types.Report)}
}

func (f *fakeRepo) Create(ctx context.Context, tx *gorm.DB, report *types.Report) (*types.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	report.ReportID = f.nextID
	f.nextID++
	clone := *report
	f.reports[report.ReportID] = &clone
	return report, nil
}

func (f *fakeRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*types.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[id]
	if !ok {
		return nil, repos.ErrReportNotFound
	}
	clone := *r
	return &clone, nil
}

func (f *fakeRepo) List(ctx context.Context, tx *gorm.DB, filter repos.ReportListFilter) ([]*types.Report, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Report
	for _, r := range f.reports {
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		if filter.Danger != nil && (r.DangerLevel == nil || *r.DangerLevel != *filter.Danger) {
			continue
		}
		clone := *r
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReportID > out[j].ReportID })
	return out, int64(len(out)), nil
}

func (f *fakeRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uint, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[id]
	if !ok {
		return repos.ErrReportNotFound
	}
	for col, val := range updates {
		applyUpdate(r, col, val)
	}
	return nil
}

func applyUpdate(r *types.Report, col string, val interface{}) {
	switch col {
	case "defect_type":
		r.DefectType = asStringPtr(val)
	case "raw_class":
		r.RawClass = asStringPtr(val)
	case "ai_confidence":
		r.AIConfidence = asFloatPtr(val)
	case "danger_level":
		if s := asStringPtr(val); s != nil {
			tier := types.DangerLevel(*s)
			r.DangerLevel = &tier
		} else {
			r.DangerLevel = nil
		}
	case "danger_label":
		r.DangerLabel = asStringPtr(val)
	case "danger_priority":
		if val == nil {
			r.DangerPriority = nil
		} else if n, ok := val.(int); ok {
			r.DangerPriority = &n
		}
	case "severity":
		r.Severity = asStringPtr(val)
	case "bbox":
		if val == nil {
			r.BBox = nil
		} else if j, ok := val.(datatypes.JSON); ok {
			r.BBox = j
		}
	case "quality_score":
		r.QualityScore = asFloatPtr(val)
	case "status":
		if s, ok := val.(types.ReportStatus); ok {
			r.Status = s
		}
	case "description":
		if s, ok := val.(string); ok {
			r.Description = s
		}
	case "assigned_to":
		r.AssignedTo = asStringPtr(val)
	case "assigned_at":
		r.AssignedAt = asTimePtr(val)
	case "paused_from":
		if val == nil {
			r.PausedFrom = nil
		} else if s, ok := val.(types.ReportStatus); ok {
			r.PausedFrom = &s
		}
	case "completion_image_url":
		r.CompletionImageURL = asStringPtr(val)
	case "completion_notes":
		r.CompletionNotes = asStringPtr(val)
	case "completed_at":
		r.CompletedAt = asTimePtr(val)
	case "updated_at":
		if ts, ok := val.(time.Time); ok {
			r.UpdatedAt = ts
		}
	}
}

func asStringPtr(val interface{}) *string {
	switch v := val.(type) {
	case nil:
		return nil
	case string:
		return &v
	case *string:
		return v
	}
	return nil
}

func asFloatPtr(val interface{}) *float64 {
	switch v := val.(type) {
	case nil:
		return nil
	case float64:
		return &v
	case *float64:
		return v
	}
	return nil
}

func asTimePtr(val interface{}) *time.Time {
	if ts, ok := val.(time.Time); ok {
		return &ts
	}
	return nil
}

func (f *fakeRepo) ListScored(ctx context.Context, tx *gorm.DB, status *types.ReportStatus, danger *types.DangerLevel) ([]*types.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Report
	for _, r := range f.reports {
		if r.QualityScore == nil {
			continue
		}
		if status != nil && r.Status != *status {
			continue
		}
		if danger != nil && (r.DangerLevel == nil || *r.DangerLevel != *danger) {
			continue
		}
		clone := *r
		out = append(out, &clone)
	}
	return out, nil
}

func (f *fakeRepo) ListPendingDetection(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Report
	for _, r := range f.reports {
		if r.DefectType == nil && r.QualityScore == nil {
			clone := *r
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReportID < out[j].ReportID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) CountByStatus(ctx context.Context, tx *gorm.DB) (map[types.ReportStatus]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[types.ReportStatus]int64)
	for _, r := range f.reports {
		out[r.Status]++
	}
	return out, nil
}

func (f *fakeRepo) CountPendingDetection(ctx context.Context, tx *gorm.DB) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.reports {
		if r.DefectType == nil && r.QualityScore == nil {
			n++
		}
	}
	return n, nil
}

type fakeImages struct {
	mu    sync.Mutex
	next  int
	store map[string][]byte
}

func newFakeImages() *fakeImages {
	return &fakeImages{store: make(map[string][]byte)}
}

func (f *fakeImages) Save(ctx context.Context, data []byte, originalName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	key := fmt.Sprintf("img-%d.jpg", f.next)
	f.store[key] = data
	return key, nil
}

func (f *fakeImages) Load(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.store[key]
	if !ok {
		return nil, fmt.Errorf("image %s not found", key)
	}
	return data, nil
}

func (f *fakeImages) PublicURL(key string) string { return "/uploads/" + key }

type fakeDetector struct {
	mu       sync.Mutex
	delay    time.Duration
	failures int
	result   *types.DetectionResult
	calls    int
}

func (f *fakeDetector) Detect(ctx context.Context, image []byte, filename string) (*types.DetectionResult, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	delay := f.delay
	result := f.result
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, fmt.Errorf("%w: connection refused", ErrDetectorUnavailable)
	}
	if result == nil {
		return &types.DetectionResult{Confidence: 0.05}, nil
	}
	clone := *result
	return &clone, nil
}

func (f *fakeDetector) Health(ctx context.Context) error { return nil }

func (f *fakeDetector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ---- helpers ----

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func potholeResult(conf float64, ratio float64) *types.DetectionResult {
	tier := ClassifyDanger(conf, bboxForRatio(ratio))
	priority := tier.Priority()
	return &types.DetectionResult{
		DefectType:     strPtr("pothole"),
		RawClass:       strPtr("pothole"),
		Confidence:     conf,
		DangerLevel:    &tier,
		DangerPriority: &priority,
		BBox:           bboxForRatio(ratio),
		IsValid:        true,
	}
}

func validInput() CreateReportInput {
	return CreateReportInput{
		Image:     []byte("jpegdata"),
		Filename:  "road.jpg",
		Latitude:  floatPtr(17.385),
		Longitude: floatPtr(78.4867),
	}
}

func waitForAnalyzed(t *testing.T, repo repos.ReportRepo, id uint) *types.Report {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		r, err := repo.GetByID(context.Background(), nil, id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if r.QualityScore != nil {
			return r
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("report %d never enriched", id)
	return nil
}

func newTestService(t *testing.T, detector *fakeDetector) (ReportService, *fakeRepo, *fakeImages) {
	t.Helper()
	repo := newFakeRepo()
	images := newFakeImages()
	svc := NewReportService(nil, testLogger(t), repo, images, detector, nil, nil)
	return svc, repo, images
}

// ---- tests ----

func TestCreateReturnsPromptlyWithSlowDetector(t *testing.T) {
	detector := &fakeDetector{delay: 2 * time.Second, result: potholeResult(0.9, 0.1)}
	svc, _, _ := newTestService(t, detector)

	start := time.Now()
	report, err := svc.Create(context.Background(), validInput())
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("Create blocked on the detector: took %v", elapsed)
	}
	if report.Status != types.StatusUnassigned {
		t.Fatalf("new report status = %s, want unassigned", report.Status)
	}
	if report.QualityScore != nil || report.DefectType != nil {
		t.Fatalf("new report must have null detection fields, got score=%v defect=%v", report.QualityScore, report.DefectType)
	}
}

func TestEnrichmentConvergence(t *testing.T) {
	detector := &fakeDetector{result: potholeResult(0.9, 0.1)}
	svc, repo, _ := newTestService(t, detector)

	report, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	enriched := waitForAnalyzed(t, repo, report.ReportID)
	if enriched.DefectType == nil || enriched.AIConfidence == nil || enriched.DangerLevel == nil || enriched.QualityScore == nil {
		t.Fatalf("detection fields not filled together: %+v", enriched)
	}
	if *enriched.DefectType != "pothole" {
		t.Fatalf("defect_type = %q", *enriched.DefectType)
	}
	if *enriched.DangerLevel != types.DangerCritical {
		t.Fatalf("danger_level = %s, want critical", *enriched.DangerLevel)
	}
	// 10 - 6.0*0.9 - 1.5 (area ratio 0.10, no GPS penalty)
	if *enriched.QualityScore != 3.10 {
		t.Fatalf("quality_score = %v, want 3.10", *enriched.QualityScore)
	}
	if len(enriched.BBox) == 0 {
		t.Fatal("bbox not stored")
	}
}

func TestNoDefectMarksAnalyzedClean(t *testing.T) {
	detector := &fakeDetector{result: &types.DetectionResult{Confidence: 0.08}}
	svc, repo, _ := newTestService(t, detector)

	report, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	enriched := waitForAnalyzed(t, repo, report.ReportID)
	if enriched.DefectType != nil {
		t.Fatalf("clean report has defect_type %q", *enriched.DefectType)
	}
	if *enriched.QualityScore != 10.0 {
		t.Fatalf("clean report score = %v, want 10.0", *enriched.QualityScore)
	}
	if !enriched.Analyzed() {
		t.Fatal("clean report should read as analyzed")
	}
}

func TestEnrichmentFailureLeavesPendingAndReenrichRecovers(t *testing.T) {
	detector := &fakeDetector{failures: 1, result: potholeResult(0.6, 0.02)}
	svc, repo, _ := newTestService(t, detector)

	report, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Give the failing phase-B run time to finish.
	deadline := time.Now().Add(2 * time.Second)
	for detector.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	pending, err := repo.GetByID(context.Background(), nil, report.ReportID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if pending.QualityScore != nil {
		t.Fatal("failed enrichment must leave the report pending")
	}

	if err := svc.Reenrich(context.Background(), report.ReportID); err != nil {
		t.Fatalf("Reenrich: %v", err)
	}
	enriched := waitForAnalyzed(t, repo, report.ReportID)
	if enriched.DefectType == nil {
		t.Fatal("re-enrichment did not fill detection fields")
	}
}

func TestReenrichIdempotent(t *testing.T) {
	detector := &fakeDetector{result: potholeResult(0.7, 0.05)}
	svc, repo, _ := newTestService(t, detector)

	report, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	first := waitForAnalyzed(t, repo, report.ReportID)

	if err := svc.Reenrich(context.Background(), report.ReportID); err != nil {
		t.Fatalf("Reenrich: %v", err)
	}
	if err := svc.Reenrich(context.Background(), report.ReportID); err != nil {
		t.Fatalf("Reenrich again: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for detector.callCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	second, err := repo.GetByID(context.Background(), nil, report.ReportID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if *first.QualityScore != *second.QualityScore || *first.DefectType != *second.DefectType {
		t.Fatalf("re-enrichment changed the result: %v/%v vs %v/%v",
			*first.QualityScore, *first.DefectType, *second.QualityScore, *second.DefectType)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeDetector{})

	cases := []struct {
		name  string
		input CreateReportInput
	}{
		{"missing_image", CreateReportInput{Latitude: floatPtr(1), Longitude: floatPtr(1)}},
		{"missing_latitude", CreateReportInput{Image: []byte("x"), Longitude: floatPtr(1)}},
		{"missing_longitude", CreateReportInput{Image: []byte("x"), Latitude: floatPtr(1)}},
		{"latitude_out_of_range", CreateReportInput{Image: []byte("x"), Latitude: floatPtr(91), Longitude: floatPtr(1)}},
		{"longitude_out_of_range", CreateReportInput{Image: []byte("x"), Latitude: floatPtr(1), Longitude: floatPtr(-181)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tc.input); !errors.Is(err, ErrValidation) {
				t.Fatalf("want ErrValidation, got %v", err)
			}
		})
	}
}

func TestWorkflowTransitions(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeDetector{})
	ctx := context.Background()

	report, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := report.ReportID

	// Completing an unassigned report is not allowed.
	if _, err := svc.Complete(ctx, id, CompleteReportInput{Notes: "filled"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("complete from unassigned: want ErrInvalidTransition, got %v", err)
	}

	assigned, err := svc.Assign(ctx, id, "crew-7")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if assigned.Status != types.StatusAssigned || assigned.AssignedTo == nil || *assigned.AssignedTo != "crew-7" {
		t.Fatalf("assign result: %+v", assigned)
	}

	paused, err := svc.Pause(ctx, id)
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if paused.Status != types.StatusPaused {
		t.Fatalf("pause status = %s", paused.Status)
	}

	resumed, err := svc.Resume(ctx, id)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != types.StatusAssigned {
		t.Fatalf("resume restored %s, want assigned", resumed.Status)
	}

	completed, err := svc.Complete(ctx, id, CompleteReportInput{Notes: "patched"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completed.Status != types.StatusCompleted || completed.CompletedAt == nil {
		t.Fatalf("complete result: %+v", completed)
	}

	// Completed is terminal.
	if _, err := svc.Assign(ctx, id, "crew-8"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("assign after complete: want ErrInvalidTransition, got %v", err)
	}
	if _, err := svc.Pause(ctx, id); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pause after complete: want ErrInvalidTransition, got %v", err)
	}
}

func TestReenrichStuckSweep(t *testing.T) {
	detector := &fakeDetector{result: potholeResult(0.8, 0.04)}
	svc, repo, images := newTestService(t, detector)
	ctx := context.Background()

	// Two stuck reports, one with its image gone, plus one already analyzed.
	first, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitForAnalyzed(t, repo, first.ReportID)

	score := 10.0
	stuckA := &types.Report{StorageKey: "stuck-a.jpg", Latitude: 1, Longitude: 1, Status: types.StatusUnassigned}
	stuckB := &types.Report{StorageKey: "gone.jpg", Latitude: 2, Longitude: 2, Status: types.StatusUnassigned}
	analyzed := &types.Report{StorageKey: "done.jpg", Latitude: 3, Longitude: 3, Status: types.StatusUnassigned, QualityScore: &score}
	for _, r := range []*types.Report{stuckA, stuckB, analyzed} {
		if _, err := repo.Create(ctx, nil, r); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	images.store["stuck-a.jpg"] = []byte("jpegdata")

	summary, err := svc.ReenrichStuck(ctx, 0)
	if err != nil {
		t.Fatalf("ReenrichStuck: %v", err)
	}
	if summary.Scanned != 2 || summary.Enriched != 1 || summary.MissingImage != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	fixed, err := repo.GetByID(ctx, nil, stuckA.ReportID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fixed.QualityScore == nil {
		t.Fatal("sweep did not enrich the stuck report")
	}
}

func TestStats(t *testing.T) {
	detector := &fakeDetector{result: potholeResult(0.8, 0.04)}
	svc, repo, _ := newTestService(t, detector)
	ctx := context.Background()

	a, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitForAnalyzed(t, repo, a.ReportID)
	if _, err := svc.Assign(ctx, a.ReportID, "crew-1"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := svc.Create(ctx, validInput()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("total = %d, want 2", stats.Total)
	}
	if stats.ByStatus[types.StatusAssigned] != 1 || stats.ByStatus[types.StatusUnassigned] != 1 {
		t.Fatalf("by_status = %v", stats.ByStatus)
	}
}
