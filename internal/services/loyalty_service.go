package services

import (
	"errors"
	"log"
	"math"
	"time"

	"loyalty-service/internal/models"
	"loyalty-service/pkg/common"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotRedeemable is returned by Redeem for any reward that is not
// owned, already redeemed, or expired. No mutation happens in that case.
var ErrNotRedeemable = NewBusinessLogicError("reward is not redeemable")

const freeItemExpiry = 30 * 24 * time.Hour

// LoyaltyService computes points, bonuses and tier transitions for
// persisted, unrewarded transactions and applies them atomically.
type LoyaltyService struct {
	DB *gorm.DB
}

func NewLoyaltyService(db *gorm.DB) *LoyaltyService {
	return &LoyaltyService{DB: db}
}

// PointsBreakdown is the deterministic result of the points math for
// one (amount, program, prior tier, campaigns) input.
type PointsBreakdown struct {
	BasePoints     float64 `json:"base_points"`
	TierMultiplier float64 `json:"tier_multiplier"`
	BonusPoints    int     `json:"bonus_points"`
	TotalPoints    int     `json:"total_points"`
}

// RewardOutcome describes what one processed transaction earned.
type RewardOutcome struct {
	TransactionId     int             `json:"transaction_id"`
	Breakdown         PointsBreakdown `json:"breakdown"`
	UpgradeBonus      int             `json:"upgrade_bonus"`
	TierBefore        string          `json:"tier_before"`
	TierAfter         string          `json:"tier_after"`
	VisitRewardIssued bool            `json:"visit_reward_issued"`
	Rewards           []models.Reward `json:"rewards"`
}

// ComputePoints runs the earning math with no storage access so it can
// be exercised directly: base points per program type, the tier
// multiplier from the tier held *before* the transaction, plus
// base*(multiplier-1) for each qualifying campaign.
func ComputePoints(program *models.LoyaltyProgram, tier string, amount float64, campaigns []models.Campaign) PointsBreakdown {
	base := basePoints(program, amount)
	mult := tierMultiplier(program, tier)

	bonus := 0.0
	for _, c := range campaigns {
		if c.Multiplier > 1 {
			bonus += base * (c.Multiplier - 1)
		}
	}

	return PointsBreakdown{
		BasePoints:     base,
		TierMultiplier: mult,
		BonusPoints:    int(math.Round(bonus)),
		TotalPoints:    int(math.Round(base*mult)) + int(math.Round(bonus)),
	}
}

func basePoints(program *models.LoyaltyProgram, amount float64) float64 {
	switch program.Type {
	case models.ProgramTypeVisits:
		return 1
	case models.ProgramTypeSpend:
		return amount / 100
	case models.ProgramTypeHybrid:
		return math.Max(1, amount*program.PointsPerUnit)
	default: // points
		return amount * program.PointsPerUnit
	}
}

func tierMultiplier(program *models.LoyaltyProgram, tier string) float64 {
	switch tier {
	case models.TierSilver:
		return program.SilverMultiplier
	case models.TierGold:
		return program.GoldMultiplier
	case models.TierPlatinum:
		return program.PlatinumMultiplier
	default:
		return 1.0
	}
}

// tierForPoints returns the highest tier whose threshold the lifetime
// balance has reached.
func tierForPoints(program *models.LoyaltyProgram, lifetime int) string {
	switch {
	case lifetime >= program.PlatinumThreshold:
		return models.TierPlatinum
	case lifetime >= program.GoldThreshold:
		return models.TierGold
	case lifetime >= program.SilverThreshold:
		return models.TierSilver
	default:
		return models.TierBronze
	}
}

func tierRank(tier string) int {
	switch tier {
	case models.TierSilver:
		return 1
	case models.TierGold:
		return 2
	case models.TierPlatinum:
		return 3
	default:
		return 0
	}
}

func tierUpgradeBonus(tier string) int {
	switch tier {
	case models.TierSilver:
		return 100
	case models.TierGold:
		return 250
	case models.TierPlatinum:
		return 500
	default:
		return 0
	}
}

func pointsToNextTier(program *models.LoyaltyProgram, tier string, lifetime int) int {
	var next int
	switch tier {
	case models.TierBronze:
		next = program.SilverThreshold
	case models.TierSilver:
		next = program.GoldThreshold
	case models.TierGold:
		next = program.PlatinumThreshold
	default:
		return 0
	}
	remaining := next - lifetime
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ProcessTransaction applies the rewards algorithm to one persisted
// transaction. Everything it touches (CustomerLoyalty, mirrored
// Customer fields, Rewards, the transaction's loyalty flags) commits in
// one unit of work; the CustomerLoyalty row is locked so concurrent
// processing for the same customer serializes instead of losing points.
//
// Returns (nil, nil) when there is nothing to award: already processed,
// no resolvable customer, no active program, or amount below the
// program's minimum spend. The transaction is still marked processed
// with zero points in those cases.
func (s *LoyaltyService) ProcessTransaction(trx *models.Transaction) (*RewardOutcome, error) {
	if trx == nil {
		return nil, NewValidationError("transaction is required")
	}

	var outcome *RewardOutcome
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var fresh models.Transaction
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&fresh, trx.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NewNotFoundError("transaction", trx.ID)
			}
			return err
		}
		if fresh.LoyaltyProcessed {
			return nil
		}
		if fresh.CustomerId == nil {
			return s.markProcessed(tx, fresh.ID, 0)
		}

		program, err := s.activeProgram(tx, fresh.MerchantId)
		if err != nil {
			return err
		}
		if program == nil || fresh.Amount < program.MinimumSpend {
			return s.markProcessed(tx, fresh.ID, 0)
		}

		loyalty, err := s.lockCustomerLoyalty(tx, *fresh.CustomerId, program.ID)
		if err != nil {
			return err
		}

		campaigns, err := s.activeCampaigns(tx, fresh.MerchantId, fresh.Amount, time.Now())
		if err != nil {
			return err
		}

		tierBefore := loyalty.CurrentTier
		breakdown := ComputePoints(program, tierBefore, fresh.Amount, campaigns)

		newLifetime := loyalty.LifetimePoints + breakdown.TotalPoints
		newTier := tierForPoints(program, newLifetime)
		if tierRank(newTier) < tierRank(tierBefore) {
			// Tiers never go down.
			newTier = tierBefore
		}

		txId := fresh.ID
		rewards := []models.Reward{{
			Reference:     uuid.New().String(),
			CustomerId:    *fresh.CustomerId,
			TransactionId: &txId,
			Type:          models.RewardTypePoints,
			PointsAwarded: breakdown.TotalPoints,
			Description:   "Points earned on payment " + fresh.ExternalReceiptId,
		}}

		upgradeBonus := 0
		if newTier != tierBefore {
			upgradeBonus = tierUpgradeBonus(newTier)
			rewards = append(rewards, models.Reward{
				Reference:     uuid.New().String(),
				CustomerId:    *fresh.CustomerId,
				TransactionId: &txId,
				Type:          models.RewardTypeTierUpgrade,
				PointsAwarded: upgradeBonus,
				Description:   "Tier upgrade to " + newTier,
			})
		}

		loyalty.CurrentPoints += breakdown.TotalPoints + upgradeBonus
		loyalty.LifetimePoints = newLifetime + upgradeBonus
		loyalty.CurrentTier = newTier

		visitReward := false
		if program.Type == models.ProgramTypeVisits || program.Type == models.ProgramTypeHybrid {
			loyalty.CurrentVisits++
			if program.VisitsRequired > 0 && loyalty.CurrentVisits >= program.VisitsRequired {
				expires := time.Now().Add(freeItemExpiry)
				rewards = append(rewards, models.Reward{
					Reference:     uuid.New().String(),
					CustomerId:    *fresh.CustomerId,
					TransactionId: &txId,
					Type:          models.RewardTypeFreeItem,
					Description:   "Free item for completing a visit cycle",
					ExpiresAt:     &expires,
				})
				loyalty.CurrentVisits = 0
				visitReward = true
			}
		}
		loyalty.PointsToNext = pointsToNextTier(program, loyalty.CurrentTier, loyalty.LifetimePoints)

		if err := tx.Save(loyalty).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Customer{}).Where("id = ?", *fresh.CustomerId).Updates(map[string]interface{}{
			"loyalty_points": loyalty.CurrentPoints,
			"loyalty_tier":   loyalty.CurrentTier,
		}).Error; err != nil {
			return err
		}
		for i := range rewards {
			if err := tx.Create(&rewards[i]).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&models.Transaction{}).Where("id = ?", fresh.ID).Updates(map[string]interface{}{
			"loyalty_processed":     true,
			"loyalty_points_earned": breakdown.TotalPoints,
		}).Error; err != nil {
			return err
		}

		outcome = &RewardOutcome{
			TransactionId:     fresh.ID,
			Breakdown:         breakdown,
			UpgradeBonus:      upgradeBonus,
			TierBefore:        tierBefore,
			TierAfter:         newTier,
			VisitRewardIssued: visitReward,
			Rewards:           rewards,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	trx.LoyaltyProcessed = true
	if outcome != nil {
		trx.LoyaltyPointsEarned = outcome.Breakdown.TotalPoints
	}
	return outcome, nil
}

// Redeem flips a reward to redeemed, once, for its owner, before its
// expiry. Everything else is ErrNotRedeemable with no mutation.
func (s *LoyaltyService) Redeem(rewardId, customerId int) (*models.Reward, error) {
	var redeemed models.Reward
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var reward models.Reward
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&reward, rewardId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NewNotFoundError("reward", rewardId)
			}
			return err
		}
		if reward.CustomerId != customerId || reward.IsRedeemed {
			return ErrNotRedeemable
		}
		if reward.ExpiresAt != nil && time.Now().After(*reward.ExpiresAt) {
			return ErrNotRedeemable
		}

		now := time.Now()
		if err := tx.Model(&models.Reward{}).Where("id = ?", reward.ID).Updates(map[string]interface{}{
			"is_redeemed": true,
			"redeemed_at": now,
		}).Error; err != nil {
			return err
		}
		reward.IsRedeemed = true
		reward.RedeemedAt = &now
		redeemed = reward
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &redeemed, nil
}

type ProgramDTO struct {
	Name               string   `json:"name"`
	Type               string   `json:"type"`
	PointsPerUnit      *float64 `json:"points_per_unit"`
	MinimumSpend       *float64 `json:"minimum_spend"`
	VisitsRequired     *int     `json:"visits_required"`
	SilverThreshold    *int     `json:"silver_threshold"`
	GoldThreshold      *int     `json:"gold_threshold"`
	PlatinumThreshold  *int     `json:"platinum_threshold"`
	SilverMultiplier   *float64 `json:"silver_multiplier"`
	GoldMultiplier     *float64 `json:"gold_multiplier"`
	PlatinumMultiplier *float64 `json:"platinum_multiplier"`
	Activate           bool     `json:"activate"`
}

// CreateProgram creates a program; when Activate is set, the previous
// active program is deactivated in the same unit of work so at most one
// is active per merchant.
func (s *LoyaltyService) CreateProgram(merchantId int, dto ProgramDTO) (*models.LoyaltyProgram, error) {
	if dto.Name == "" {
		return nil, NewValidationError("program name is required")
	}
	switch dto.Type {
	case models.ProgramTypePoints, models.ProgramTypeVisits, models.ProgramTypeSpend, models.ProgramTypeHybrid:
	default:
		return nil, NewValidationError("invalid program type %q", dto.Type)
	}

	program := models.LoyaltyProgram{
		MerchantId:         merchantId,
		Name:               dto.Name,
		Type:               dto.Type,
		PointsPerUnit:      1.0,
		VisitsRequired:     10,
		SilverThreshold:    1000,
		GoldThreshold:      5000,
		PlatinumThreshold:  15000,
		SilverMultiplier:   1.25,
		GoldMultiplier:     1.50,
		PlatinumMultiplier: 2.00,
		IsActive:           dto.Activate,
	}
	if dto.PointsPerUnit != nil {
		program.PointsPerUnit = *dto.PointsPerUnit
	}
	if dto.MinimumSpend != nil {
		program.MinimumSpend = *dto.MinimumSpend
	}
	if dto.VisitsRequired != nil {
		program.VisitsRequired = *dto.VisitsRequired
	}
	if dto.SilverThreshold != nil {
		program.SilverThreshold = *dto.SilverThreshold
	}
	if dto.GoldThreshold != nil {
		program.GoldThreshold = *dto.GoldThreshold
	}
	if dto.PlatinumThreshold != nil {
		program.PlatinumThreshold = *dto.PlatinumThreshold
	}
	if dto.SilverMultiplier != nil {
		program.SilverMultiplier = *dto.SilverMultiplier
	}
	if dto.GoldMultiplier != nil {
		program.GoldMultiplier = *dto.GoldMultiplier
	}
	if dto.PlatinumMultiplier != nil {
		program.PlatinumMultiplier = *dto.PlatinumMultiplier
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if program.IsActive {
			if err := tx.Model(&models.LoyaltyProgram{}).
				Where("merchant_id = ? AND is_active = ?", merchantId, true).
				Update("is_active", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(&program).Error
	})
	if err != nil {
		return nil, err
	}
	return &program, nil
}

func (s *LoyaltyService) GetActiveProgram(merchantId int) (*models.LoyaltyProgram, error) {
	program, err := s.activeProgram(s.DB, merchantId)
	if err != nil {
		return nil, err
	}
	if program == nil {
		return nil, NewNotFoundError("active loyalty program for merchant", merchantId)
	}
	return program, nil
}

type CampaignDTO struct {
	Name         string    `json:"name"`
	Multiplier   float64   `json:"multiplier"`
	MinimumSpend float64   `json:"minimum_spend"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
}

func (s *LoyaltyService) CreateCampaign(merchantId int, dto CampaignDTO) (*models.Campaign, error) {
	if dto.Name == "" {
		return nil, NewValidationError("campaign name is required")
	}
	if dto.Multiplier <= 1 {
		return nil, NewValidationError("campaign multiplier must exceed 1")
	}
	if !dto.EndsAt.After(dto.StartsAt) {
		return nil, NewValidationError("campaign end must be after its start")
	}

	campaign := models.Campaign{
		MerchantId:   merchantId,
		Name:         dto.Name,
		Type:         models.CampaignTypePointsMultiplier,
		Multiplier:   dto.Multiplier,
		MinimumSpend: dto.MinimumSpend,
		StartsAt:     dto.StartsAt,
		EndsAt:       dto.EndsAt,
		IsActive:     true,
	}
	if err := s.DB.Create(&campaign).Error; err != nil {
		return nil, err
	}
	return &campaign, nil
}

// CustomerLoyaltyView bundles the loyalty state the presentation layer
// shows for one customer.
type CustomerLoyaltyView struct {
	Customer models.Customer         `json:"customer"`
	Loyalty  *models.CustomerLoyalty `json:"loyalty"`
	Program  *models.LoyaltyProgram  `json:"program"`
}

func (s *LoyaltyService) CustomerStatus(customerId int) (*CustomerLoyaltyView, error) {
	var customer models.Customer
	if err := s.DB.First(&customer, customerId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError("customer", customerId)
		}
		return nil, err
	}

	view := CustomerLoyaltyView{Customer: customer}
	program, err := s.activeProgram(s.DB, customer.MerchantId)
	if err != nil {
		return nil, err
	}
	if program != nil {
		view.Program = program
		var loyalty models.CustomerLoyalty
		err := s.DB.Where("customer_id = ? AND program_id = ?", customerId, program.ID).First(&loyalty).Error
		if err == nil {
			view.Loyalty = &loyalty
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return &view, nil
}

func (s *LoyaltyService) ListRewards(customerId, page, limit int) (common.PaginationResult, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var total int64
	if err := s.DB.Model(&models.Reward{}).Where("customer_id = ?", customerId).Count(&total).Error; err != nil {
		return common.PaginationResult{}, err
	}

	var rewards []models.Reward
	err := s.DB.Where("customer_id = ?", customerId).
		Order("id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&rewards).Error
	if err != nil {
		return common.PaginationResult{}, err
	}
	return common.PaginateResponse(rewards, total, page, limit, ""), nil
}

// RetryUnprocessed sweeps transactions whose reward computation failed
// earlier and runs them again. Safe to repeat: processing is guarded by
// loyalty_processed under the row lock.
func (s *LoyaltyService) RetryUnprocessed() {
	cutoff := time.Now().Add(-10 * time.Minute)

	var pending []models.Transaction
	err := s.DB.Where("loyalty_processed = ? AND customer_id IS NOT NULL AND created_at < ?", false, cutoff).
		Order("id ASC").
		Limit(100).
		Find(&pending).Error
	if err != nil {
		log.Printf("Error loading unprocessed transactions: %v", err)
		return
	}

	for i := range pending {
		if _, err := s.ProcessTransaction(&pending[i]); err != nil {
			log.Printf("Loyalty retry failed for transaction %d: %v", pending[i].ID, err)
		}
	}
}

// StartScheduler runs the hourly retry sweep.
func (s *LoyaltyService) StartScheduler() {
	c := cron.New()
	_, err := c.AddFunc("0 * * * *", func() {
		log.Println("Running scheduled loyalty retry sweep...")
		s.RetryUnprocessed()
	})
	if err != nil {
		log.Printf("Error scheduling loyalty retry sweep: %v", err)
		return
	}
	c.Start()
	log.Println("LoyaltyService Scheduler started (Hourly)")
}

func (s *LoyaltyService) activeProgram(tx *gorm.DB, merchantId int) (*models.LoyaltyProgram, error) {
	var program models.LoyaltyProgram
	err := tx.Where("merchant_id = ? AND is_active = ?", merchantId, true).First(&program).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &program, nil
}

func (s *LoyaltyService) activeCampaigns(tx *gorm.DB, merchantId int, amount float64, now time.Time) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := tx.Where("merchant_id = ? AND type = ? AND is_active = ?", merchantId, models.CampaignTypePointsMultiplier, true).
		Where("minimum_spend <= ?", amount).
		Where("starts_at <= ? AND ends_at >= ?", now, now).
		Find(&campaigns).Error
	if err != nil {
		return nil, err
	}
	return campaigns, nil
}

// lockCustomerLoyalty loads the per-(customer, program) row under FOR
// UPDATE, creating it on first contact. A create race falls back to a
// locked re-read.
func (s *LoyaltyService) lockCustomerLoyalty(tx *gorm.DB, customerId, programId int) (*models.CustomerLoyalty, error) {
	var loyalty models.CustomerLoyalty
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("customer_id = ? AND program_id = ?", customerId, programId).
		First(&loyalty).Error
	if err == nil {
		return &loyalty, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	loyalty = models.CustomerLoyalty{
		CustomerId:  customerId,
		ProgramId:   programId,
		CurrentTier: models.TierBronze,
	}
	if err := tx.Create(&loyalty).Error; err != nil {
		if isDuplicateKeyError(err) {
			var winner models.CustomerLoyalty
			if ferr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("customer_id = ? AND program_id = ?", customerId, programId).
				First(&winner).Error; ferr == nil {
				return &winner, nil
			}
		}
		return nil, err
	}
	return &loyalty, nil
}

func (s *LoyaltyService) markProcessed(tx *gorm.DB, transactionId, points int) error {
	return tx.Model(&models.Transaction{}).Where("id = ?", transactionId).Updates(map[string]interface{}{
		"loyalty_processed":     true,
		"loyalty_points_earned": points,
	}).Error
}
