package service

import (
	"context"
	"errors"

	"github.com/dushixiang/kpimon/internal/kpierr"
	"github.com/dushixiang/kpimon/internal/models"
	"github.com/dushixiang/kpimon/internal/repo"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Transition 一次评估引起的事件变化
type Transition string

const (
	TransitionNone        Transition = "none"
	TransitionOpened      Transition = "opened"
	TransitionAlreadyOpen Transition = "already_open"
	TransitionResolved    Transition = "resolved"
)

// IncidentService 根据连续结果创建和关闭事件
type IncidentService struct {
	logger     *zap.Logger
	assignedTo string
}

func NewIncidentService(logger *zap.Logger, assignedTo string) *IncidentService {
	return &IncidentService{
		logger:     logger,
		assignedTo: assignedTo,
	}
}

// Apply 在调用方的连接上执行状态机，conn 必须与写入历史的连接相同
func (s *IncidentService) Apply(ctx context.Context, conn *gorm.DB, asset *models.Asset, indicator *models.Indicator, status models.VerdictStatus, streak int, now int64) (Transition, *models.Incident, error) {
	switch status {
	case models.StatusMiss:
		return s.onMiss(ctx, conn, asset, indicator, streak, now)
	case models.StatusHit:
		return s.onHit(ctx, conn, asset, indicator, streak, now)
	default:
		// skipped/error 不影响事件
		return TransitionNone, nil, nil
	}
}

func (s *IncidentService) onMiss(ctx context.Context, conn *gorm.DB, asset *models.Asset, indicator *models.Indicator, streak int, now int64) (Transition, *models.Incident, error) {
	full, err := streakOf(ctx, conn, asset.ID, indicator.ID, streak, models.StatusMiss)
	if err != nil || !full {
		return TransitionNone, nil, err
	}

	incidentRepo := repo.NewIncidentRepo(conn)
	open, err := incidentRepo.FindOpen(ctx, asset.ID, indicator.ID)
	if err != nil {
		return TransitionNone, nil, err
	}
	if open != nil {
		s.logger.Debug("事件已处于打开状态",
			zap.String("assetId", asset.ID),
			zap.String("indicatorId", indicator.ID),
			zap.String("incidentId", open.ID),
			zap.String("type", open.Type))
		return TransitionAlreadyOpen, open, nil
	}

	key := models.OpenKeyFor(asset.ID, indicator.ID)
	incident := &models.Incident{
		ID:          uuid.NewString(),
		AssetID:     asset.ID,
		IndicatorID: indicator.ID,
		Title:       indicator.Name + " - Breach",
		Description: indicator.Name + " - Auto Created Incident",
		Type:        models.IncidentTypeAuto,
		Severity:    indicator.Severity,
		Status:      models.IncidentStatusOpen,
		AssignedTo:  s.assignedTo,
		OpenKey:     &key,
		CreatedBy:   models.SystemUser,
		UpdatedBy:   models.SystemUser,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := repo.NewIncidentRepo(tx)
		if err := txRepo.Create(ctx, incident); err != nil {
			return err
		}
		return txRepo.AppendHistory(ctx, models.NewIncidentHistory(incident, models.SystemUser, now))
	})
	if errors.Is(err, kpierr.ErrStoreWriteConflict) {
		// 其他进程已经创建了同一个事件
		existing, findErr := incidentRepo.FindOpenAuto(ctx, asset.ID, indicator.ID)
		if findErr != nil {
			return TransitionNone, nil, findErr
		}
		s.logger.Info("事件已由其他实例创建",
			zap.String("assetId", asset.ID),
			zap.String("indicatorId", indicator.ID))
		return TransitionAlreadyOpen, existing, nil
	}
	if err != nil {
		s.logger.Error("创建事件失败",
			zap.String("assetId", asset.ID),
			zap.String("indicatorId", indicator.ID),
			zap.Error(err))
		return TransitionNone, nil, err
	}

	s.logger.Info("连续未达标，已创建事件",
		zap.String("assetId", asset.ID),
		zap.String("indicatorId", indicator.ID),
		zap.String("incidentId", incident.ID),
		zap.String("severity", string(incident.Severity)),
		zap.Int("streak", streak))
	return TransitionOpened, incident, nil
}

func (s *IncidentService) onHit(ctx context.Context, conn *gorm.DB, asset *models.Asset, indicator *models.Indicator, streak int, now int64) (Transition, *models.Incident, error) {
	full, err := streakOf(ctx, conn, asset.ID, indicator.ID, streak, models.StatusHit)
	if err != nil || !full {
		return TransitionNone, nil, err
	}

	// 只有自动事件会被关闭，手动事件由人工处理
	incident, err := repo.NewIncidentRepo(conn).FindOpenAuto(ctx, asset.ID, indicator.ID)
	if err != nil || incident == nil {
		return TransitionNone, nil, err
	}

	var resolved bool
	err = conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := repo.NewIncidentRepo(tx)
		ok, err := txRepo.Resolve(ctx, incident, models.SystemUser, now)
		if err != nil || !ok {
			return err
		}
		resolved = true
		return txRepo.AppendHistory(ctx, models.NewIncidentHistory(incident, models.SystemUser, now))
	})
	if err != nil {
		s.logger.Error("关闭事件失败",
			zap.String("incidentId", incident.ID),
			zap.Error(err))
		return TransitionNone, nil, err
	}
	if !resolved {
		return TransitionNone, nil, nil
	}

	s.logger.Info("连续达标，已自动关闭事件",
		zap.String("assetId", asset.ID),
		zap.String("indicatorId", indicator.ID),
		zap.String("incidentId", incident.ID),
		zap.Int("streak", streak))
	return TransitionResolved, incident, nil
}

// streakOf 最近 n 条有效结果是否全部为 status
func streakOf(ctx context.Context, conn *gorm.DB, assetID, indicatorID string, n int, status models.VerdictStatus) (bool, error) {
	if n <= 0 {
		n = 1
	}
	items, err := repo.NewResultRepo(conn).LastNResults(ctx, assetID, indicatorID, n)
	if err != nil {
		return false, err
	}
	if len(items) < n {
		return false, nil
	}
	for _, item := range items {
		if item.Status != status {
			return false, nil
		}
	}
	return true, nil
}
