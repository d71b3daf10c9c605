package services

import (
	"testing"
	"time"

	"loyalty-service/internal/models"

	"github.com/stretchr/testify/assert"
)

func pointsProgram() *models.LoyaltyProgram {
	return &models.LoyaltyProgram{
		Type:               models.ProgramTypePoints,
		PointsPerUnit:      1.0,
		SilverThreshold:    1000,
		GoldThreshold:      5000,
		PlatinumThreshold:  15000,
		SilverMultiplier:   1.25,
		GoldMultiplier:     1.50,
		PlatinumMultiplier: 2.00,
	}
}

func TestComputePointsBase(t *testing.T) {
	program := pointsProgram()

	b := ComputePoints(program, models.TierBronze, 100, nil)
	assert.Equal(t, 100.0, b.BasePoints)
	assert.Equal(t, 100, b.TotalPoints)
	assert.Equal(t, 0, b.BonusPoints)

	program.PointsPerUnit = 0.5
	b = ComputePoints(program, models.TierBronze, 100, nil)
	assert.Equal(t, 50, b.TotalPoints)
}

func TestComputePointsProgramTypes(t *testing.T) {
	program := pointsProgram()

	program.Type = models.ProgramTypeVisits
	assert.Equal(t, 1, ComputePoints(program, models.TierBronze, 9999, nil).TotalPoints)

	program.Type = models.ProgramTypeSpend
	assert.Equal(t, 3, ComputePoints(program, models.TierBronze, 300, nil).TotalPoints)

	// Hybrid floors at one point however small the payment.
	program.Type = models.ProgramTypeHybrid
	assert.Equal(t, 1, ComputePoints(program, models.TierBronze, 0.5, nil).TotalPoints)
	assert.Equal(t, 200, ComputePoints(program, models.TierBronze, 200, nil).TotalPoints)
}

func TestComputePointsTierMultiplier(t *testing.T) {
	program := pointsProgram()

	assert.Equal(t, 125, ComputePoints(program, models.TierSilver, 100, nil).TotalPoints)
	assert.Equal(t, 150, ComputePoints(program, models.TierGold, 100, nil).TotalPoints)
	assert.Equal(t, 200, ComputePoints(program, models.TierPlatinum, 100, nil).TotalPoints)
	assert.Equal(t, 100, ComputePoints(program, "unknown", 100, nil).TotalPoints)
}

func TestComputePointsCampaignBonus(t *testing.T) {
	program := pointsProgram()
	campaigns := []models.Campaign{
		{Multiplier: 2.0},
		{Multiplier: 1.5},
	}

	// Bonuses are base*(multiplier-1) each, on top of the tier-adjusted
	// base: 100 + (100*1.0 + 100*0.5) = 250.
	b := ComputePoints(program, models.TierBronze, 100, campaigns)
	assert.Equal(t, 150, b.BonusPoints)
	assert.Equal(t, 250, b.TotalPoints)

	// A multiplier at or below 1 contributes nothing.
	b = ComputePoints(program, models.TierBronze, 100, []models.Campaign{{Multiplier: 1.0}})
	assert.Equal(t, 0, b.BonusPoints)
}

func TestTierForPoints(t *testing.T) {
	program := pointsProgram()

	assert.Equal(t, models.TierBronze, tierForPoints(program, 999))
	assert.Equal(t, models.TierSilver, tierForPoints(program, 1000))
	assert.Equal(t, models.TierSilver, tierForPoints(program, 4999))
	assert.Equal(t, models.TierGold, tierForPoints(program, 5000))
	assert.Equal(t, models.TierPlatinum, tierForPoints(program, 15000))
}

func TestPointsToNextTier(t *testing.T) {
	program := pointsProgram()

	assert.Equal(t, 600, pointsToNextTier(program, models.TierBronze, 400))
	assert.Equal(t, 3000, pointsToNextTier(program, models.TierSilver, 2000))
	assert.Equal(t, 0, pointsToNextTier(program, models.TierPlatinum, 20000))
}

func TestCreateCampaignValidation(t *testing.T) {
	svc := NewLoyaltyService(nil)

	_, err := svc.CreateCampaign(1, CampaignDTO{Name: "", Multiplier: 2})
	assert.Error(t, err)

	_, err = svc.CreateCampaign(1, CampaignDTO{Name: "Weekend", Multiplier: 1.0,
		StartsAt: time.Now(), EndsAt: time.Now().Add(time.Hour)})
	assert.Error(t, err)

	_, err = svc.CreateCampaign(1, CampaignDTO{Name: "Weekend", Multiplier: 2.0,
		StartsAt: time.Now(), EndsAt: time.Now().Add(-time.Hour)})
	assert.Error(t, err)
}

func seedCustomerAndProgram(t *testing.T, merchantId int, programType string) (*models.Customer, *models.LoyaltyProgram) {
	t.Helper()
	customer := models.Customer{MerchantId: merchantId, Phone: "254712345678", LoyaltyTier: models.TierBronze}
	if err := testDB.Create(&customer).Error; err != nil {
		t.Fatalf("seeding customer: %v", err)
	}
	program := models.LoyaltyProgram{
		MerchantId:         merchantId,
		Name:               "Test Program",
		Type:               programType,
		PointsPerUnit:      1.0,
		VisitsRequired:     10,
		SilverThreshold:    1000,
		GoldThreshold:      5000,
		PlatinumThreshold:  15000,
		SilverMultiplier:   1.25,
		GoldMultiplier:     1.50,
		PlatinumMultiplier: 2.00,
		IsActive:           true,
	}
	if err := testDB.Create(&program).Error; err != nil {
		t.Fatalf("seeding program: %v", err)
	}
	return &customer, &program
}

func seedTransaction(t *testing.T, merchantId int, customerId *int, receipt string, amount float64) *models.Transaction {
	t.Helper()
	trx := models.Transaction{
		MerchantId:        merchantId,
		CustomerId:        customerId,
		ExternalReceiptId: receipt,
		Amount:            amount,
		CustomerPhone:     "254712345678",
		Source:            "webhook",
		TransactionDate:   time.Now(),
	}
	if err := testDB.Create(&trx).Error; err != nil {
		t.Fatalf("seeding transaction: %v", err)
	}
	return &trx
}

func TestProcessTransactionAwardsPoints(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := NewLoyaltyService(testDB)
	customer, program := seedCustomerAndProgram(t, 1, models.ProgramTypePoints)
	trx := seedTransaction(t, 1, &customer.ID, "RKT0001", 100)

	outcome, err := svc.ProcessTransaction(trx)
	assert.NoError(t, err)
	assert.NotNil(t, outcome)
	assert.Equal(t, 100, outcome.Breakdown.TotalPoints)
	assert.Equal(t, models.TierBronze, outcome.TierAfter)

	var loyalty models.CustomerLoyalty
	assert.NoError(t, testDB.Where("customer_id = ? AND program_id = ?", customer.ID, program.ID).First(&loyalty).Error)
	assert.Equal(t, 100, loyalty.CurrentPoints)
	assert.Equal(t, 100, loyalty.LifetimePoints)

	var fresh models.Transaction
	testDB.First(&fresh, trx.ID)
	assert.True(t, fresh.LoyaltyProcessed)
	assert.Equal(t, 100, fresh.LoyaltyPointsEarned)

	var mirrored models.Customer
	testDB.First(&mirrored, customer.ID)
	assert.Equal(t, 100, mirrored.LoyaltyPoints)

	// Reprocessing the same transaction awards nothing.
	outcome, err = svc.ProcessTransaction(trx)
	assert.NoError(t, err)
	assert.Nil(t, outcome)

	var rewardCount int64
	testDB.Model(&models.Reward{}).Where("customer_id = ?", customer.ID).Count(&rewardCount)
	assert.Equal(t, int64(1), rewardCount)
}

func TestProcessTransactionTierUpgrade(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := NewLoyaltyService(testDB)
	customer, program := seedCustomerAndProgram(t, 1, models.ProgramTypePoints)
	testDB.Create(&models.CustomerLoyalty{
		CustomerId:     customer.ID,
		ProgramId:      program.ID,
		CurrentPoints:  900,
		LifetimePoints: 900,
		CurrentTier:    models.TierBronze,
	})
	trx := seedTransaction(t, 1, &customer.ID, "RKT0002", 150)

	outcome, err := svc.ProcessTransaction(trx)
	assert.NoError(t, err)
	assert.NotNil(t, outcome)
	assert.Equal(t, models.TierBronze, outcome.TierBefore)
	assert.Equal(t, models.TierSilver, outcome.TierAfter)
	assert.Equal(t, 100, outcome.UpgradeBonus)
	// Earning uses the bronze multiplier; silver only applies from the
	// next transaction on.
	assert.Equal(t, 150, outcome.Breakdown.TotalPoints)

	var loyalty models.CustomerLoyalty
	testDB.Where("customer_id = ? AND program_id = ?", customer.ID, program.ID).First(&loyalty)
	assert.Equal(t, 900+150+100, loyalty.CurrentPoints)
	assert.Equal(t, 900+150+100, loyalty.LifetimePoints)
	assert.Equal(t, models.TierSilver, loyalty.CurrentTier)

	var upgrades int64
	testDB.Model(&models.Reward{}).
		Where("customer_id = ? AND type = ?", customer.ID, models.RewardTypeTierUpgrade).
		Count(&upgrades)
	assert.Equal(t, int64(1), upgrades)
}

func TestProcessTransactionBelowMinimumSpend(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := NewLoyaltyService(testDB)
	customer, program := seedCustomerAndProgram(t, 1, models.ProgramTypePoints)
	testDB.Model(program).Update("minimum_spend", 500)
	trx := seedTransaction(t, 1, &customer.ID, "RKT0003", 100)

	outcome, err := svc.ProcessTransaction(trx)
	assert.NoError(t, err)
	assert.Nil(t, outcome)

	var fresh models.Transaction
	testDB.First(&fresh, trx.ID)
	assert.True(t, fresh.LoyaltyProcessed)
	assert.Equal(t, 0, fresh.LoyaltyPointsEarned)

	var rewardCount int64
	testDB.Model(&models.Reward{}).Where("customer_id = ?", customer.ID).Count(&rewardCount)
	assert.Equal(t, int64(0), rewardCount)
}

func TestProcessTransactionNoActiveProgram(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := NewLoyaltyService(testDB)
	customer := models.Customer{MerchantId: 1, Phone: "254712345678"}
	testDB.Create(&customer)
	trx := seedTransaction(t, 1, &customer.ID, "RKT0004", 100)

	outcome, err := svc.ProcessTransaction(trx)
	assert.NoError(t, err)
	assert.Nil(t, outcome)

	var fresh models.Transaction
	testDB.First(&fresh, trx.ID)
	assert.True(t, fresh.LoyaltyProcessed)
}

func TestProcessTransactionVisitCycle(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := NewLoyaltyService(testDB)
	customer, program := seedCustomerAndProgram(t, 1, models.ProgramTypeVisits)
	testDB.Model(program).Update("visits_required", 2)
	testDB.Create(&models.CustomerLoyalty{
		CustomerId:    customer.ID,
		ProgramId:     program.ID,
		CurrentVisits: 1,
		CurrentTier:   models.TierBronze,
	})
	trx := seedTransaction(t, 1, &customer.ID, "RKT0005", 100)

	outcome, err := svc.ProcessTransaction(trx)
	assert.NoError(t, err)
	assert.NotNil(t, outcome)
	assert.True(t, outcome.VisitRewardIssued)

	var loyalty models.CustomerLoyalty
	testDB.Where("customer_id = ? AND program_id = ?", customer.ID, program.ID).First(&loyalty)
	assert.Equal(t, 0, loyalty.CurrentVisits)

	var freeItem models.Reward
	err = testDB.Where("customer_id = ? AND type = ?", customer.ID, models.RewardTypeFreeItem).First(&freeItem).Error
	assert.NoError(t, err)
	assert.NotNil(t, freeItem.ExpiresAt)
}

func TestRedeem(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := NewLoyaltyService(testDB)
	customer := models.Customer{MerchantId: 1, Phone: "254712345678"}
	testDB.Create(&customer)
	reward := models.Reward{
		Reference:  "ref-redeem-1",
		CustomerId: customer.ID,
		Type:       models.RewardTypeFreeItem,
	}
	testDB.Create(&reward)

	// Wrong owner.
	_, err := svc.Redeem(reward.ID, customer.ID+1)
	assert.ErrorIs(t, err, ErrNotRedeemable)

	redeemed, err := svc.Redeem(reward.ID, customer.ID)
	assert.NoError(t, err)
	assert.True(t, redeemed.IsRedeemed)
	assert.NotNil(t, redeemed.RedeemedAt)

	// Redemption is one-way.
	_, err = svc.Redeem(reward.ID, customer.ID)
	assert.ErrorIs(t, err, ErrNotRedeemable)
}

func TestRedeemExpired(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := NewLoyaltyService(testDB)
	customer := models.Customer{MerchantId: 1, Phone: "254712345678"}
	testDB.Create(&customer)
	expired := time.Now().Add(-time.Hour)
	reward := models.Reward{
		Reference:  "ref-expired-1",
		CustomerId: customer.ID,
		Type:       models.RewardTypeFreeItem,
		ExpiresAt:  &expired,
	}
	testDB.Create(&reward)

	_, err := svc.Redeem(reward.ID, customer.ID)
	assert.ErrorIs(t, err, ErrNotRedeemable)
}

func TestCreateProgramActivationIsExclusive(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := NewLoyaltyService(testDB)
	first, err := svc.CreateProgram(1, ProgramDTO{Name: "First", Type: models.ProgramTypePoints, Activate: true})
	assert.NoError(t, err)
	assert.True(t, first.IsActive)

	second, err := svc.CreateProgram(1, ProgramDTO{Name: "Second", Type: models.ProgramTypeSpend, Activate: true})
	assert.NoError(t, err)
	assert.True(t, second.IsActive)

	var refreshed models.LoyaltyProgram
	testDB.First(&refreshed, first.ID)
	assert.False(t, refreshed.IsActive)

	active, err := svc.GetActiveProgram(1)
	assert.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
}

func TestCreateProgramDefaults(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	svc := NewLoyaltyService(testDB)
	program, err := svc.CreateProgram(1, ProgramDTO{
		Name:          "Custom",
		Type:          models.ProgramTypePoints,
		PointsPerUnit: floatPtr(2.5),
	})
	assert.NoError(t, err)
	assert.Equal(t, 2.5, program.PointsPerUnit)
	assert.Equal(t, 1000, program.SilverThreshold)
	assert.Equal(t, 1.25, program.SilverMultiplier)

	_, err = svc.CreateProgram(1, ProgramDTO{Name: "Bad", Type: "lottery"})
	assert.Error(t, err)
}
