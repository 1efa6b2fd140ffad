package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/multierr"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/songzhibin97/dolphin-sync/types"
)

// pgUniqueViolation is the SQLSTATE of a unique constraint violation.
const pgUniqueViolation = "23505"

type workflowDO struct {
	ID                 int64  `gorm:"primaryKey;autoIncrement:false"`
	EngineProjectCode  int64  `gorm:"not null;uniqueIndex:uidx_workflow_engine"`
	EngineWorkflowCode int64  `gorm:"not null;uniqueIndex:uidx_workflow_engine"`
	Name               string `gorm:"type:varchar(255) not null"`
	Description        string `gorm:"type:text"`
	GlobalParams       string `gorm:"type:text"`
	ReleaseState       string `gorm:"type:varchar(32)"`
	Schedule           string `gorm:"type:text"`
	CurrentVersionID   int64
	LastSyncStatus     string `gorm:"type:varchar(16)"`
	LastSyncError      string `gorm:"type:text"`
	LastSyncAt         time.Time
	CreatedAt          time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime:false"`
}

func (workflowDO) TableName() string { return "dsync_workflows" }

type taskDO struct {
	ID             int64  `gorm:"primaryKey;autoIncrement:false"`
	Name           string `gorm:"type:varchar(255) not null;uniqueIndex:uidx_task_name"`
	Code           string `gorm:"type:varchar(64) not null;uniqueIndex:uidx_task_code"`
	EngineTaskCode int64  `gorm:"not null;uniqueIndex:uidx_task_engine_code"`
	EngineName     string `gorm:"type:varchar(255)"`
	EngineVersion  int
	WorkflowID     int64  `gorm:"index:idx_task_workflow"`
	Kind           string `gorm:"type:varchar(32)"`
	SQL            string `gorm:"column:sql;type:text"`
	DataSourceID   int64
	DataSourceName string `gorm:"type:varchar(255)"`
	DataSourceKind string `gorm:"type:varchar(32)"`
	RetryTimes     int
	RetryInterval  int
	TimeoutMinutes int
	Priority       string    `gorm:"type:varchar(16)"`
	Description    string    `gorm:"type:text"`
	InputTableIDs  string    `gorm:"column:input_table_ids;type:text"`
	OutputTableIDs string    `gorm:"column:output_table_ids;type:text"`
	CreatedAt      time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime:false"`
}

func (taskDO) TableName() string { return "dsync_tasks" }

type dataSourceDO struct {
	ID                 int64  `gorm:"primaryKey;autoIncrement:false"`
	EngineDataSourceID int64  `gorm:"not null;uniqueIndex:uidx_data_source_engine"`
	Name               string `gorm:"type:varchar(255)"`
	Kind               string `gorm:"type:varchar(32)"`
	Dialect            string `gorm:"type:varchar(32)"`
}

func (dataSourceDO) TableName() string { return "dsync_data_sources" }

type edgeDO struct {
	WorkflowID int64 `gorm:"primaryKey;autoIncrement:false"`
	Upstream   int64 `gorm:"primaryKey;autoIncrement:false"`
	Downstream int64 `gorm:"primaryKey;autoIncrement:false"`
}

func (edgeDO) TableName() string { return "dsync_edges" }

type versionDO struct {
	ID                    int64 `gorm:"primaryKey;autoIncrement:false"`
	WorkflowID            int64 `gorm:"not null;uniqueIndex:uidx_version_no"`
	VersionNo             int   `gorm:"not null;uniqueIndex:uidx_version_no"`
	SchemaVersion         int
	Snapshot              string `gorm:"type:text"`
	SnapshotHash          string `gorm:"type:varchar(64)"`
	RollbackFromVersionID *int64
	RawPayload            string    `gorm:"type:text"`
	Operator              string    `gorm:"type:varchar(128)"`
	CreatedAt             time.Time `gorm:"autoCreateTime:false"`
}

func (versionDO) TableName() string { return "dsync_workflow_versions" }

type publishDO struct {
	ID         int64     `gorm:"primaryKey;autoIncrement:false"`
	WorkflowID int64     `gorm:"index:idx_publish_workflow"`
	VersionID  int64     `gorm:"not null"`
	Status     string    `gorm:"type:varchar(16)"`
	Operator   string    `gorm:"type:varchar(128)"`
	CreatedAt  time.Time `gorm:"autoCreateTime:false"`
}

func (publishDO) TableName() string { return "dsync_publish_records" }

type syncRecordDO struct {
	ID                 int64  `gorm:"primaryKey;autoIncrement:false"`
	RunID              string `gorm:"type:varchar(36);index:idx_sync_run"`
	WorkflowID         int64
	EngineProjectCode  int64  `gorm:"index:idx_sync_engine"`
	EngineWorkflowCode int64  `gorm:"index:idx_sync_engine"`
	IngestMode         string `gorm:"type:varchar(32)"`
	ParityStatus       string `gorm:"type:varchar(32)"`
	SnapshotHash       string `gorm:"type:varchar(64)"`
	DiffSummary        string `gorm:"type:text"`
	Status             string `gorm:"type:varchar(16)"`
	ErrorCode          string `gorm:"type:varchar(64)"`
	ErrorMessage       string `gorm:"type:text"`
	Operator           string `gorm:"type:varchar(128)"`
	VersionID          *int64
	RawPayload         string    `gorm:"type:text"`
	CreatedAt          time.Time `gorm:"autoCreateTime:false"`
}

func (syncRecordDO) TableName() string { return "dsync_sync_records" }

var models = []interface{}{
	&workflowDO{}, &taskDO{}, &dataSourceDO{}, &edgeDO{}, &versionDO{}, &publishDO{}, &syncRecordDO{},
}

// GormStore is a gorm-backed implementation of the Store interface.
type GormStore struct {
	gormOps
	closers []func() error
}

// gormOps implements Reader and Writer over a session or a transaction.
type gormOps struct {
	db *gorm.DB
}

// OpenSQLite opens a sqlite catalog, e.g. "file:dsync.db" or
// "file:test?mode=memory&cache=shared".
func OpenSQLite(dsn string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite catalog: %w", err)
	}
	return NewGormStore(db)
}

// OpenPostgres opens a postgres catalog through a pgx connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*GormStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	sqlDB := stdlib.OpenDBFromPool(pool)
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to open postgres catalog: %w", err)
	}
	store, err := NewGormStore(db)
	if err != nil {
		pool.Close()
		return nil, err
	}
	store.closers = append(store.closers, func() error {
		pool.Close()
		return nil
	})
	return store, nil
}

// NewGormStore migrates the catalog tables on db and wraps it.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("failed to migrate catalog: %w", err)
	}
	return newGormStore(db)
}

func newGormStore(db *gorm.DB) (*GormStore, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	return &GormStore{gormOps: gormOps{db: db}, closers: []func() error{sqlDB.Close}}, nil
}

// InTx runs fn inside a database transaction.
func (s *GormStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormOps{db: tx})
	})
}

// Close releases the database connections.
func (s *GormStore) Close() error {
	var err error
	for _, c := range s.closers {
		err = multierr.Append(err, c())
	}
	return err
}

// translate maps unique violations from either driver to ErrConstraintViolation.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrConstraintViolation, pgErr.Message)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrConstraintViolation, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key") {
		return fmt.Errorf("%w: %v", ErrConstraintViolation, err)
	}
	return err
}

// first loads one row; a missing row yields found == false.
func first(db *gorm.DB, dest interface{}, query string, args ...interface{}) (bool, error) {
	err := db.Where(query, args...).First(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func encodeIDs(ids []int64) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

func decodeIDs(s string) []int64 {
	out := []int64{}
	if s == "" {
		return out
	}
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func toWorkflowDO(wf types.LocalWorkflow) (workflowDO, error) {
	schedule, err := json.Marshal(wf.Schedule)
	if err != nil {
		return workflowDO{}, err
	}
	return workflowDO{
		ID:                 wf.ID,
		EngineProjectCode:  wf.EngineProjectCode,
		EngineWorkflowCode: wf.EngineWorkflowCode,
		Name:               wf.Name,
		Description:        wf.Description,
		GlobalParams:       wf.GlobalParams,
		ReleaseState:       wf.ReleaseState,
		Schedule:           string(schedule),
		CurrentVersionID:   wf.CurrentVersionID,
		LastSyncStatus:     wf.LastSyncStatus,
		LastSyncError:      wf.LastSyncError,
		LastSyncAt:         wf.LastSyncAt,
		CreatedAt:          wf.CreatedAt,
		UpdatedAt:          wf.UpdatedAt,
	}, nil
}

func (do workflowDO) toType() (types.LocalWorkflow, error) {
	wf := types.LocalWorkflow{
		ID:                 do.ID,
		EngineProjectCode:  do.EngineProjectCode,
		EngineWorkflowCode: do.EngineWorkflowCode,
		Name:               do.Name,
		Description:        do.Description,
		GlobalParams:       do.GlobalParams,
		ReleaseState:       do.ReleaseState,
		CurrentVersionID:   do.CurrentVersionID,
		LastSyncStatus:     do.LastSyncStatus,
		LastSyncError:      do.LastSyncError,
		LastSyncAt:         do.LastSyncAt,
		CreatedAt:          do.CreatedAt,
		UpdatedAt:          do.UpdatedAt,
	}
	if do.Schedule != "" {
		if err := json.Unmarshal([]byte(do.Schedule), &wf.Schedule); err != nil {
			return wf, fmt.Errorf("failed to decode schedule of workflow %d: %w", do.ID, err)
		}
	}
	return wf, nil
}

func toTaskDO(t types.LocalTask) taskDO {
	return taskDO{
		ID:             t.ID,
		Name:           t.Name,
		Code:           t.Code,
		EngineTaskCode: t.EngineTaskCode,
		EngineName:     t.EngineName,
		EngineVersion:  t.EngineVersion,
		WorkflowID:     t.WorkflowID,
		Kind:           string(t.Kind),
		SQL:            t.SQL,
		DataSourceID:   t.DataSourceID,
		DataSourceName: t.DataSourceName,
		DataSourceKind: t.DataSourceKind,
		RetryTimes:     t.RetryTimes,
		RetryInterval:  t.RetryInterval,
		TimeoutMinutes: t.TimeoutMinutes,
		Priority:       t.Priority,
		Description:    t.Description,
		InputTableIDs:  encodeIDs(t.InputTableIDs),
		OutputTableIDs: encodeIDs(t.OutputTableIDs),
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func (do taskDO) toType() types.LocalTask {
	return types.LocalTask{
		ID:             do.ID,
		Name:           do.Name,
		Code:           do.Code,
		EngineTaskCode: do.EngineTaskCode,
		EngineName:     do.EngineName,
		EngineVersion:  do.EngineVersion,
		WorkflowID:     do.WorkflowID,
		Kind:           types.NodeKind(do.Kind),
		SQL:            do.SQL,
		DataSourceID:   do.DataSourceID,
		DataSourceName: do.DataSourceName,
		DataSourceKind: do.DataSourceKind,
		RetryTimes:     do.RetryTimes,
		RetryInterval:  do.RetryInterval,
		TimeoutMinutes: do.TimeoutMinutes,
		Priority:       do.Priority,
		Description:    do.Description,
		InputTableIDs:  decodeIDs(do.InputTableIDs),
		OutputTableIDs: decodeIDs(do.OutputTableIDs),
		CreatedAt:      do.CreatedAt,
		UpdatedAt:      do.UpdatedAt,
	}
}

func (do versionDO) toType() types.WorkflowVersion {
	return types.WorkflowVersion{
		ID:                    do.ID,
		WorkflowID:            do.WorkflowID,
		VersionNo:             do.VersionNo,
		SchemaVersion:         do.SchemaVersion,
		Snapshot:              do.Snapshot,
		SnapshotHash:          do.SnapshotHash,
		RollbackFromVersionID: do.RollbackFromVersionID,
		RawPayload:            do.RawPayload,
		Operator:              do.Operator,
		CreatedAt:             do.CreatedAt,
	}
}

func (do syncRecordDO) toType() types.SyncRecord {
	return types.SyncRecord{
		ID:                 do.ID,
		RunID:              do.RunID,
		WorkflowID:         do.WorkflowID,
		EngineProjectCode:  do.EngineProjectCode,
		EngineWorkflowCode: do.EngineWorkflowCode,
		IngestMode:         types.IngestMode(do.IngestMode),
		ParityStatus:       types.ParityStatus(do.ParityStatus),
		SnapshotHash:       do.SnapshotHash,
		DiffSummary:        do.DiffSummary,
		Status:             do.Status,
		ErrorCode:          do.ErrorCode,
		ErrorMessage:       do.ErrorMessage,
		Operator:           do.Operator,
		VersionID:          do.VersionID,
		RawPayload:         do.RawPayload,
		CreatedAt:          do.CreatedAt,
	}
}

// GetWorkflow retrieves a workflow by ID.
func (o *gormOps) GetWorkflow(ctx context.Context, id int64) (types.LocalWorkflow, error) {
	var do workflowDO
	found, err := first(o.db.WithContext(ctx), &do, "id = ?", id)
	if err != nil {
		return types.LocalWorkflow{}, err
	}
	if !found {
		return types.LocalWorkflow{}, fmt.Errorf("%w: id=%d", ErrWorkflowNotFound, id)
	}
	return do.toType()
}

// FindWorkflow looks a workflow up by engine coordinates.
func (o *gormOps) FindWorkflow(ctx context.Context, projectCode, workflowCode int64) (*types.LocalWorkflow, error) {
	var do workflowDO
	found, err := first(o.db.WithContext(ctx), &do, "engine_project_code = ? AND engine_workflow_code = ?", projectCode, workflowCode)
	if err != nil || !found {
		return nil, err
	}
	wf, err := do.toType()
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func (o *gormOps) ListTasks(ctx context.Context, workflowID int64) ([]types.LocalTask, error) {
	var dos []taskDO
	if err := o.db.WithContext(ctx).Where("workflow_id = ?", workflowID).Order("engine_task_code").Find(&dos).Error; err != nil {
		return nil, err
	}
	out := make([]types.LocalTask, 0, len(dos))
	for _, do := range dos {
		out = append(out, do.toType())
	}
	return out, nil
}

func (o *gormOps) findTask(ctx context.Context, query string, arg interface{}) (*types.LocalTask, error) {
	var do taskDO
	found, err := first(o.db.WithContext(ctx), &do, query, arg)
	if err != nil || !found {
		return nil, err
	}
	t := do.toType()
	return &t, nil
}

func (o *gormOps) FindTaskByEngineCode(ctx context.Context, engineCode int64) (*types.LocalTask, error) {
	return o.findTask(ctx, "engine_task_code = ?", engineCode)
}

func (o *gormOps) FindTaskByName(ctx context.Context, name string) (*types.LocalTask, error) {
	return o.findTask(ctx, "name = ?", name)
}

func (o *gormOps) FindTaskByCode(ctx context.Context, code string) (*types.LocalTask, error) {
	return o.findTask(ctx, "code = ?", code)
}

func (o *gormOps) FindDataSource(ctx context.Context, engineID int64) (*types.DataSource, error) {
	var do dataSourceDO
	found, err := first(o.db.WithContext(ctx), &do, "engine_data_source_id = ?", engineID)
	if err != nil || !found {
		return nil, err
	}
	return &types.DataSource{
		ID:                 do.ID,
		EngineDataSourceID: do.EngineDataSourceID,
		Name:               do.Name,
		Kind:               do.Kind,
		Dialect:            do.Dialect,
	}, nil
}

func (o *gormOps) ListEdges(ctx context.Context, workflowID int64) ([]types.TaskEdge, error) {
	var dos []edgeDO
	if err := o.db.WithContext(ctx).Where("workflow_id = ?", workflowID).Order("upstream").Order("downstream").Find(&dos).Error; err != nil {
		return nil, err
	}
	out := make([]types.TaskEdge, 0, len(dos))
	for _, do := range dos {
		out = append(out, types.TaskEdge{Upstream: do.Upstream, Downstream: do.Downstream})
	}
	return out, nil
}

func (o *gormOps) GetVersion(ctx context.Context, id int64) (types.WorkflowVersion, error) {
	var do versionDO
	found, err := first(o.db.WithContext(ctx), &do, "id = ?", id)
	if err != nil {
		return types.WorkflowVersion{}, err
	}
	if !found {
		return types.WorkflowVersion{}, fmt.Errorf("%w: id=%d", ErrVersionNotFound, id)
	}
	return do.toType(), nil
}

func (o *gormOps) LatestVersion(ctx context.Context, workflowID int64) (*types.WorkflowVersion, error) {
	var do versionDO
	err := o.db.WithContext(ctx).Where("workflow_id = ?", workflowID).Order("version_no DESC").First(&do).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v := do.toType()
	return &v, nil
}

func (o *gormOps) ListVersions(ctx context.Context, workflowID int64) ([]types.WorkflowVersion, error) {
	var dos []versionDO
	if err := o.db.WithContext(ctx).Where("workflow_id = ?", workflowID).Order("version_no").Find(&dos).Error; err != nil {
		return nil, err
	}
	out := make([]types.WorkflowVersion, 0, len(dos))
	for _, do := range dos {
		out = append(out, do.toType())
	}
	return out, nil
}

func (o *gormOps) LatestPublish(ctx context.Context, workflowID int64) (*types.PublishRecord, error) {
	var do publishDO
	err := o.db.WithContext(ctx).
		Where("workflow_id = ? AND status = ?", workflowID, types.StatusSuccess).
		Order("created_at DESC").Order("id DESC").
		First(&do).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &types.PublishRecord{
		ID:         do.ID,
		WorkflowID: do.WorkflowID,
		VersionID:  do.VersionID,
		Status:     do.Status,
		Operator:   do.Operator,
		CreatedAt:  do.CreatedAt,
	}, nil
}

func (o *gormOps) ListSyncRecords(ctx context.Context, projectCode, workflowCode int64) ([]types.SyncRecord, error) {
	var dos []syncRecordDO
	if err := o.db.WithContext(ctx).
		Where("engine_project_code = ? AND engine_workflow_code = ?", projectCode, workflowCode).
		Order("created_at").Order("id").
		Find(&dos).Error; err != nil {
		return nil, err
	}
	out := make([]types.SyncRecord, 0, len(dos))
	for _, do := range dos {
		out = append(out, do.toType())
	}
	return out, nil
}

func (o *gormOps) SaveWorkflow(ctx context.Context, wf types.LocalWorkflow) error {
	do, err := toWorkflowDO(wf)
	if err != nil {
		return err
	}
	return translate(o.db.WithContext(ctx).Save(&do).Error)
}

func (o *gormOps) SaveTask(ctx context.Context, task types.LocalTask) error {
	do := toTaskDO(task)
	return translate(o.db.WithContext(ctx).Save(&do).Error)
}

func (o *gormOps) SaveDataSource(ctx context.Context, ds types.DataSource) error {
	do := dataSourceDO{
		ID:                 ds.ID,
		EngineDataSourceID: ds.EngineDataSourceID,
		Name:               ds.Name,
		Kind:               ds.Kind,
		Dialect:            ds.Dialect,
	}
	return translate(o.db.WithContext(ctx).Save(&do).Error)
}

func (o *gormOps) ReplaceEdges(ctx context.Context, workflowID int64, edges []types.TaskEdge) error {
	db := o.db.WithContext(ctx)
	if err := db.Where("workflow_id = ?", workflowID).Delete(&edgeDO{}).Error; err != nil {
		return err
	}
	if len(edges) == 0 {
		return nil
	}
	dos := make([]edgeDO, 0, len(edges))
	for _, e := range edges {
		dos = append(dos, edgeDO{WorkflowID: workflowID, Upstream: e.Upstream, Downstream: e.Downstream})
	}
	return translate(db.CreateInBatches(dos, 200).Error)
}

func (o *gormOps) InsertVersion(ctx context.Context, v types.WorkflowVersion) error {
	do := versionDO{
		ID:                    v.ID,
		WorkflowID:            v.WorkflowID,
		VersionNo:             v.VersionNo,
		SchemaVersion:         v.SchemaVersion,
		Snapshot:              v.Snapshot,
		SnapshotHash:          v.SnapshotHash,
		RollbackFromVersionID: v.RollbackFromVersionID,
		RawPayload:            v.RawPayload,
		Operator:              v.Operator,
		CreatedAt:             v.CreatedAt,
	}
	return translate(o.db.WithContext(ctx).Create(&do).Error)
}

func (o *gormOps) DeleteVersion(ctx context.Context, id int64) error {
	db := o.db.WithContext(ctx)
	res := db.Where("id = ?", id).Delete(&versionDO{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: id=%d", ErrVersionNotFound, id)
	}
	if err := db.Model(&versionDO{}).Where("rollback_from_version_id = ?", id).
		Update("rollback_from_version_id", gorm.Expr("NULL")).Error; err != nil {
		return err
	}
	return db.Model(&syncRecordDO{}).Where("version_id = ?", id).
		Update("version_id", gorm.Expr("NULL")).Error
}

func (o *gormOps) InsertSyncRecord(ctx context.Context, rec types.SyncRecord) error {
	do := syncRecordDO{
		ID:                 rec.ID,
		RunID:              rec.RunID,
		WorkflowID:         rec.WorkflowID,
		EngineProjectCode:  rec.EngineProjectCode,
		EngineWorkflowCode: rec.EngineWorkflowCode,
		IngestMode:         string(rec.IngestMode),
		ParityStatus:       string(rec.ParityStatus),
		SnapshotHash:       rec.SnapshotHash,
		DiffSummary:        rec.DiffSummary,
		Status:             rec.Status,
		ErrorCode:          rec.ErrorCode,
		ErrorMessage:       rec.ErrorMessage,
		Operator:           rec.Operator,
		VersionID:          rec.VersionID,
		RawPayload:         rec.RawPayload,
		CreatedAt:          rec.CreatedAt,
	}
	return translate(o.db.WithContext(ctx).Create(&do).Error)
}

func (o *gormOps) InsertPublishRecord(ctx context.Context, rec types.PublishRecord) error {
	do := publishDO{
		ID:         rec.ID,
		WorkflowID: rec.WorkflowID,
		VersionID:  rec.VersionID,
		Status:     rec.Status,
		Operator:   rec.Operator,
		CreatedAt:  rec.CreatedAt,
	}
	return translate(o.db.WithContext(ctx).Create(&do).Error)
}

// DB exposes the underlying connection pool.
func (s *GormStore) DB() (*sql.DB, error) {
	return s.db.DB()
}
