// Package gormstore implements the durable state store on Gorm + SQLite.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hedgepair/internal/store"
	"hedgepair/internal/store/model"
	"hedgepair/internal/types"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// GormStore implements store.Store.
type GormStore struct {
	db *gorm.DB
}

func New(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.PositionModel{},
		&model.HedgeRatioModel{},
		&model.OrderModel{},
		&model.FillModel{},
		&model.PairStateModel{},
		&model.SnapshotModel{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little parallelism for concurrent HTTP reads while
	// keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ store.Store = (*GormStore)(nil)

// --------------------- UnitOfWork -------------------------

type unitOfWork struct {
	tx   *gorm.DB
	done bool
}

func (s *GormStore) Begin(ctx context.Context) (store.UnitOfWork, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &unitOfWork{tx: tx}, nil
}

func (u *unitOfWork) Commit() error {
	if u.done {
		return nil
	}
	u.done = true
	return u.tx.Commit().Error
}

func (u *unitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	return u.tx.Rollback().Error
}

func (u *unitOfWork) Positions() store.PositionRepository { return &positionRepo{tx: u.tx} }
func (u *unitOfWork) Orders() store.OrderRepository       { return &orderRepo{tx: u.tx} }
func (u *unitOfWork) Ratios() store.RatioRepository       { return &ratioRepo{tx: u.tx} }
func (u *unitOfWork) Pairs() store.PairRepository         { return &pairRepo{tx: u.tx} }

// --------------------- Repositories -------------------------

type positionRepo struct{ tx *gorm.DB }

func (r *positionRepo) Get(pairID string, role types.PositionRole) (types.Position, bool, error) {
	var m model.PositionModel
	err := r.tx.Where("pair_id = ? AND role = ?", pairID, string(role)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Position{}, false, nil
	}
	if err != nil {
		return types.Position{}, false, err
	}
	return m.ToDomain(), true, nil
}

func (r *positionRepo) Upsert(pos types.Position) error {
	m := model.PositionModel{
		PairID:     pos.PairID,
		Role:       string(pos.Role),
		Instrument: pos.Instrument,
		Qty:        pos.Qty,
		AvgEntry:   pos.AvgEntry,
		OpenedAt:   pos.OpenedAt.Unix(),
		UpdatedAt:  time.Now().Unix(),
	}
	return r.tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "pair_id"}, {Name: "role"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"instrument", "qty", "avg_entry", "updated_at",
		}),
	}).Create(&m).Error
}

func (r *positionRepo) Delete(pairID string, role types.PositionRole) error {
	return r.tx.Where("pair_id = ? AND role = ?", pairID, string(role)).
		Delete(&model.PositionModel{}).Error
}

type orderRepo struct{ tx *gorm.DB }

func (r *orderRepo) Save(order types.Order) error {
	m := model.OrderFromDomain(order)
	m.UpdatedAt = time.Now().Unix()
	return r.tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "client_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"exchange_id", "filled_qty", "avg_fill", "status", "reason", "updated_at",
		}),
	}).Create(&m).Error
}

func (r *orderRepo) Find(clientID string) (types.Order, bool, error) {
	var m model.OrderModel
	err := r.tx.Where("client_id = ?", clientID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Order{}, false, nil
	}
	if err != nil {
		return types.Order{}, false, err
	}
	return m.ToDomain(), true, nil
}

type ratioRepo struct{ tx *gorm.DB }

func (r *ratioRepo) Save(ratio types.HedgeRatio) error {
	m := model.HedgeRatioModel{
		PairID:       ratio.PairID,
		Ratio:        ratio.Ratio,
		Trigger:      string(ratio.Trigger),
		RecomputedAt: ratio.RecomputedAt.Unix(),
	}
	return r.tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "pair_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"ratio", "trigger", "recomputed_at",
		}),
	}).Create(&m).Error
}

type pairRepo struct{ tx *gorm.DB }

func (r *pairRepo) Save(rec store.PairStateRecord) error {
	m := model.PairStateModel{
		PairID:        rec.PairID,
		State:         string(rec.State),
		InflightOrder: rec.InflightOrder,
		Halted:        rec.Halted,
		HaltReason:    rec.HaltReason,
		UpdatedAt:     time.Now().Unix(),
	}
	if rec.InflightIntent != nil {
		raw, err := json.Marshal(rec.InflightIntent)
		if err != nil {
			return fmt.Errorf("marshal inflight intent: %w", err)
		}
		m.InflightIntent = datatypes.JSON(raw)
	}
	return r.tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "pair_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"state", "inflight_order", "inflight_intent", "halted", "halt_reason", "updated_at",
		}),
	}).Create(&m).Error
}

func (r *pairRepo) Find(pairID string) (store.PairStateRecord, bool, error) {
	var m model.PairStateModel
	err := r.tx.Where("pair_id = ?", pairID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.PairStateRecord{}, false, nil
	}
	if err != nil {
		return store.PairStateRecord{}, false, err
	}
	return pairStateToRecord(m), true, nil
}

func pairStateToRecord(m model.PairStateModel) store.PairStateRecord {
	rec := store.PairStateRecord{
		PairID:        m.PairID,
		State:         types.PairState(m.State),
		InflightOrder: m.InflightOrder,
		Halted:        m.Halted,
		HaltReason:    m.HaltReason,
		UpdatedAt:     time.Unix(m.UpdatedAt, 0),
	}
	if len(m.InflightIntent) > 0 {
		var intent types.TradeIntent
		if err := json.Unmarshal(m.InflightIntent, &intent); err == nil && intent.ID != "" {
			rec.InflightIntent = &intent
		}
	}
	return rec
}

// --------------------- ApplyFill -------------------------

// ApplyFill commits the fill journal entry, the order snapshot and the
// position delta in one transaction. The (order, fill) unique key makes
// replay a position no-op.
func (s *GormStore) ApplyFill(ctx context.Context, order types.Order, fill types.Fill) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		journal := model.FillModel{
			OrderClientID: fill.OrderClientID,
			FillID:        fill.FillID,
			Instrument:    fill.Instrument,
			Qty:           fill.Qty,
			Price:         fill.Price,
			Fee:           fill.Fee,
			At:            fill.At.Unix(),
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_client_id"}, {Name: "fill_id"}},
			DoNothing: true,
		}).Create(&journal)
		if res.Error != nil {
			return res.Error
		}

		om := model.OrderFromDomain(order)
		om.UpdatedAt = time.Now().Unix()
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "client_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"exchange_id", "filled_qty", "avg_fill", "status", "reason", "updated_at",
			}),
		}).Create(&om).Error; err != nil {
			return err
		}

		if res.RowsAffected == 0 {
			// fill already journaled: replayed event, position untouched
			return nil
		}
		return applyPositionDelta(tx, order, fill)
	})
}

func applyPositionDelta(tx *gorm.DB, order types.Order, fill types.Fill) error {
	var pos model.PositionModel
	err := tx.Where("pair_id = ? AND role = ?", order.PairID, string(order.Role)).First(&pos).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		pos = model.PositionModel{
			PairID:     order.PairID,
			Role:       string(order.Role),
			Instrument: order.Instrument,
			Qty:        fill.Qty,
			AvgEntry:   fill.Price,
			OpenedAt:   fill.At.Unix(),
			UpdatedAt:  time.Now().Unix(),
		}
		return tx.Create(&pos).Error
	case err != nil:
		return err
	}

	newQty := pos.Qty + fill.Qty
	switch {
	case newQty == 0:
		return tx.Delete(&pos).Error
	case sameSign(pos.Qty, fill.Qty):
		// adding exposure: weight the entry price
		pos.AvgEntry = (pos.AvgEntry*absFloat(pos.Qty) + fill.Price*absFloat(fill.Qty)) /
			(absFloat(pos.Qty) + absFloat(fill.Qty))
		pos.Qty = newQty
	default:
		// reducing (or flipping) exposure: entry price carries over, or
		// resets when the position flips sign
		if !sameSign(pos.Qty, newQty) {
			pos.AvgEntry = fill.Price
			pos.OpenedAt = fill.At.Unix()
		}
		pos.Qty = newQty
	}
	pos.UpdatedAt = time.Now().Unix()
	return tx.Save(&pos).Error
}

func sameSign(a, b float64) bool {
	return (a >= 0) == (b >= 0)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// --------------------- Read side -------------------------

func (s *GormStore) Positions(ctx context.Context, pairID string) ([]types.Position, error) {
	var ms []model.PositionModel
	if err := s.db.WithContext(ctx).Where("pair_id = ?", pairID).Find(&ms).Error; err != nil {
		return nil, err
	}
	return positionsToDomain(ms), nil
}

func (s *GormStore) AllPositions(ctx context.Context) ([]types.Position, error) {
	var ms []model.PositionModel
	if err := s.db.WithContext(ctx).Find(&ms).Error; err != nil {
		return nil, err
	}
	return positionsToDomain(ms), nil
}

func positionsToDomain(ms []model.PositionModel) []types.Position {
	out := make([]types.Position, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ToDomain())
	}
	return out
}

func (s *GormStore) HedgeRatio(ctx context.Context, pairID string) (types.HedgeRatio, bool, error) {
	var m model.HedgeRatioModel
	err := s.db.WithContext(ctx).Where("pair_id = ?", pairID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.HedgeRatio{}, false, nil
	}
	if err != nil {
		return types.HedgeRatio{}, false, err
	}
	return m.ToDomain(), true, nil
}

func (s *GormStore) Order(ctx context.Context, clientID string) (types.Order, bool, error) {
	var m model.OrderModel
	err := s.db.WithContext(ctx).Where("client_id = ?", clientID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Order{}, false, nil
	}
	if err != nil {
		return types.Order{}, false, err
	}
	return m.ToDomain(), true, nil
}

func (s *GormStore) InflightOrders(ctx context.Context) ([]types.Order, error) {
	var ms []model.OrderModel
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{string(types.OrderPending), string(types.OrderPartiallyFilled)}).
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return ordersToDomain(ms), nil
}

func (s *GormStore) RecentOrders(ctx context.Context, limit int) ([]types.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	var ms []model.OrderModel
	err := s.db.WithContext(ctx).Order("updated_at DESC").Limit(limit).Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return ordersToDomain(ms), nil
}

func ordersToDomain(ms []model.OrderModel) []types.Order {
	out := make([]types.Order, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ToDomain())
	}
	return out
}

func (s *GormStore) PairState(ctx context.Context, pairID string) (store.PairStateRecord, bool, error) {
	var m model.PairStateModel
	err := s.db.WithContext(ctx).Where("pair_id = ?", pairID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.PairStateRecord{}, false, nil
	}
	if err != nil {
		return store.PairStateRecord{}, false, err
	}
	return pairStateToRecord(m), true, nil
}

func (s *GormStore) PairStates(ctx context.Context) ([]store.PairStateRecord, error) {
	var ms []model.PairStateModel
	if err := s.db.WithContext(ctx).Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]store.PairStateRecord, 0, len(ms))
	for _, m := range ms {
		out = append(out, pairStateToRecord(m))
	}
	return out, nil
}

func (s *GormStore) FeeTotal(ctx context.Context) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).Model(&model.FillModel{}).
		Select("COALESCE(SUM(fee), 0)").Scan(&total).Error
	return total, err
}

func (s *GormStore) FillFlowTotal(ctx context.Context) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).Model(&model.FillModel{}).
		Select("COALESCE(SUM(-qty * price), 0)").Scan(&total).Error
	return total, err
}

func (s *GormStore) ClosedTradeCount(ctx context.Context) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.OrderModel{}).
		Where("status = ?", string(types.OrderFilled)).
		Count(&count).Error
	return int(count), err
}

func (s *GormStore) AppendSnapshot(ctx context.Context, snap types.PerformanceSnapshot) error {
	m := model.SnapshotModel{
		At:            snap.At.Unix(),
		Trades:        snap.Trades,
		TotalValue:    snap.TotalValue,
		RealizedPnL:   snap.RealizedPnL,
		UnrealizedPnL: snap.UnrealizedPnL,
		Fees:          snap.Fees,
		ROE:           snap.ROE,
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *GormStore) Snapshots(ctx context.Context, limit int) ([]types.PerformanceSnapshot, error) {
	if limit <= 0 {
		limit = 500
	}
	var ms []model.SnapshotModel
	err := s.db.WithContext(ctx).Order("at DESC").Limit(limit).Find(&ms).Error
	if err != nil {
		return nil, err
	}
	// oldest first for charting
	out := make([]types.PerformanceSnapshot, len(ms))
	for i, m := range ms {
		out[len(ms)-1-i] = m.ToDomain()
	}
	return out, nil
}
