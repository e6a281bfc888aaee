package repos

import (
  "context"
  "errors"

  "gorm.io/gorm"

  "github.com/streetintel/streetintel-backend/internal/logger"
  "github.com/streetintel/streetintel-backend/internal/types"
)

var ErrReportNotFound = errors.New("report not found")

type ReportListFilter struct {
  Status *types.ReportStatus
  Danger *types.DangerLevel
  Limit  int
  Offset int
}

type ReportRepo interface {
  Create(ctx context.Context, tx *gorm.DB, report *types.Report) (*types.Report, error)
  GetByID(ctx context.Context, tx *gorm.DB, id uint) (*types.Report, error)
  List(ctx context.Context, tx *gorm.DB, filter ReportListFilter) ([]*types.Report, int64, error)

  // UpdateFields issues a single UPDATE for the given columns. Enrichment
  // writes its whole detection column set through one call so a report is
  // never externally visible half-analyzed.
  UpdateFields(ctx context.Context, tx *gorm.DB, id uint, updates map[string]interface{}) error

  // ListScored returns reports that have a quality score, for aggregation.
  ListScored(ctx context.Context, tx *gorm.DB, status *types.ReportStatus, danger *types.DangerLevel) ([]*types.Report, error)

  // ListPendingDetection returns reports whose enrichment never completed.
  ListPendingDetection(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Report, error)

  CountByStatus(ctx context.Context, tx *gorm.DB) (map[types.ReportStatus]int64, error)
  CountPendingDetection(ctx context.Context, tx *gorm.DB) (int64, error)
}

type reportRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewReportRepo(db *gorm.DB, baseLog *logger.Logger) ReportRepo {
  repoLog := baseLog.With("repo", "ReportRepo")
  return &reportRepo{db: db, log: repoLog}
}

func (r *reportRepo) Create(ctx context.Context, tx *gorm.DB, report *types.Report) (*types.Report, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if report == nil {
    return nil, errors.New("nil report")
  }
  if err := transaction.WithContext(ctx).Create(report).Error; err != nil {
    return nil, err
  }
  return report, nil
}

func (r *reportRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*types.Report, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var report types.Report
  err := transaction.WithContext(ctx).
    Where("report_id = ?", id).
    First(&report).Error
  if errors.Is(err, gorm.ErrRecordNotFound) {
    return nil, ErrReportNotFound
  }
  if err != nil {
    return nil, err
  }
  return &report, nil
}

func (r *reportRepo) List(ctx context.Context, tx *gorm.DB, filter ReportListFilter) ([]*types.Report, int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }

  q := transaction.WithContext(ctx).Model(&types.Report{})
  if filter.Status != nil {
    q = q.Where("status = ?", *filter.Status)
  }
  if filter.Danger != nil {
    q = q.Where("danger_level = ?", *filter.Danger)
  }

  var total int64
  if err := q.Count(&total).Error; err != nil {
    return nil, 0, err
  }

  if filter.Limit > 0 {
    q = q.Limit(filter.Limit)
  }
  if filter.Offset > 0 {
    q = q.Offset(filter.Offset)
  }

  var results []*types.Report
  if err := q.Order("created_at DESC").Find(&results).Error; err != nil {
    return nil, 0, err
  }
  return results, total, nil
}

func (r *reportRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uint, updates map[string]interface{}) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if len(updates) == 0 {
    return nil
  }
  res := transaction.WithContext(ctx).
    Model(&types.Report{}).
    Where("report_id = ?", id).
    Updates(updates)
  if res.Error != nil {
    return res.Error
  }
  if res.RowsAffected == 0 {
    return ErrReportNotFound
  }
  return nil
}

func (r *reportRepo) ListScored(ctx context.Context, tx *gorm.DB, status *types.ReportStatus, danger *types.DangerLevel) ([]*types.Report, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }

  q := transaction.WithContext(ctx).
    Model(&types.Report{}).
    Where("quality_score IS NOT NULL")
  if status != nil {
    q = q.Where("status = ?", *status)
  }
  if danger != nil {
    q = q.Where("danger_level = ?", *danger)
  }

  var results []*types.Report
  if err := q.Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (r *reportRepo) ListPendingDetection(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Report, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }

  q := transaction.WithContext(ctx).
    Model(&types.Report{}).
    Where("defect_type IS NULL AND quality_score IS NULL").
    Order("report_id ASC")
  if limit > 0 {
    q = q.Limit(limit)
  }

  var results []*types.Report
  if err := q.Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (r *reportRepo) CountByStatus(ctx context.Context, tx *gorm.DB) (map[types.ReportStatus]int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }

  type row struct {
    Status types.ReportStatus
    N      int64
  }
  var rows []row
  if err := transaction.WithContext(ctx).
    Model(&types.Report{}).
    Select("status, COUNT(*) AS n").
    Group("status").
    Scan(&rows).Error; err != nil {
    return nil, err
  }

  out := make(map[types.ReportStatus]int64, len(rows))
  for _, rw := range rows {
    out[rw.Status] = rw.N
  }
  return out, nil
}

func (r *reportRepo) CountPendingDetection(ctx context.Context, tx *gorm.DB) (int64, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var n int64
  if err := transaction.WithContext(ctx).
    Model(&types.Report{}).
    Where("defect_type IS NULL AND quality_score IS NULL").
    Count(&n).Error; err != nil {
    return 0, err
  }
  return n, nil
}
