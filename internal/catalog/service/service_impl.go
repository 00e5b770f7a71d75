package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/barva88/trauck/internal/cache"
	catalogdomain "github.com/barva88/trauck/internal/catalog/domain"
)

const lookupTTL = 30 * time.Second

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	plans *cache.TTLCache[snowflake.ID, catalogdomain.Plan]
	packs *cache.TTLCache[snowflake.ID, catalogdomain.CreditPack]
}

func NewService(p Params) catalogdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("catalog.service"),
		plans: cache.NewTTLCache[snowflake.ID, catalogdomain.Plan](),
		packs: cache.NewTTLCache[snowflake.ID, catalogdomain.CreditPack](),
	}
}

func (s *Service) GetPlan(ctx context.Context, id snowflake.ID) (*catalogdomain.Plan, error) {
	if cached, ok := s.plans.Get(id); ok {
		return &cached, nil
	}

	var plan catalogdomain.Plan
	if err := s.db.WithContext(ctx).First(&plan, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, catalogdomain.ErrPlanNotFound
		}
		return nil, err
	}

	s.plans.Set(id, plan, lookupTTL)
	return &plan, nil
}

func (s *Service) GetPack(ctx context.Context, id snowflake.ID) (*catalogdomain.CreditPack, error) {
	if cached, ok := s.packs.Get(id); ok {
		return &cached, nil
	}

	var pack catalogdomain.CreditPack
	if err := s.db.WithContext(ctx).First(&pack, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, catalogdomain.ErrPackNotFound
		}
		return nil, err
	}

	s.packs.Set(id, pack, lookupTTL)
	return &pack, nil
}

func (s *Service) ActivePlans(ctx context.Context) ([]catalogdomain.Plan, error) {
	var plans []catalogdomain.Plan
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("price_usd ASC").
		Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (s *Service) PlanBenefits(ctx context.Context, planID snowflake.ID) ([]catalogdomain.PlanBenefit, error) {
	var benefits []catalogdomain.PlanBenefit
	if err := s.db.WithContext(ctx).
		Where("plan_id = ?", planID).
		Order("sort_order ASC, id ASC").
		Find(&benefits).Error; err != nil {
		return nil, err
	}
	return benefits, nil
}
