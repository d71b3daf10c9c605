package handlers

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"

	"loyalty-service/internal/models"
	"loyalty-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NOTE: these tests require a running MySQL instance and skip when
// DATABASE_URL is not set.

var testDB *gorm.DB

func setup() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Println("Skipping DB tests: DATABASE_URL not set")
		return
	}

	var err error
	testDB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		return
	}

	testDB.AutoMigrate(
		&models.Channel{},
		&models.Customer{},
		&models.Transaction{},
		&models.LoyaltyProgram{},
		&models.CustomerLoyalty{},
		&models.Reward{},
		&models.WebhookLog{},
	)
}

func cleanup() {
	if testDB != nil {
		testDB.Exec("DELETE FROM rewards")
		testDB.Exec("DELETE FROM customer_loyalties")
		testDB.Exec("DELETE FROM transactions")
		testDB.Exec("DELETE FROM customers")
		testDB.Exec("DELETE FROM webhook_logs")
		testDB.Exec("DELETE FROM channels")
	}
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	setup()
	code := m.Run()
	os.Exit(code)
}

func newWebhookRouter(t *testing.T) *gin.Engine {
	t.Helper()
	vault, err := services.NewVault(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("NewVault failed: %v", err)
	}
	channels := services.NewChannelService(testDB, vault, services.NewMpesaClientFactory(services.NewTokenCache()))
	loyalty := services.NewLoyaltyService(testDB)
	ingestion := services.NewIngestionService(testDB, channels, loyalty, nil)
	handler := NewWebhookHandler(channels, ingestion, nil)

	r := gin.New()
	r.POST("/webhooks/c2b/:channelId/validation", handler.Validation)
	r.POST("/webhooks/c2b/:channelId/confirmation", handler.Confirmation)
	return r
}

func seedWebhookChannel(t *testing.T, environment, token string) *models.Channel {
	t.Helper()
	channel := models.Channel{
		MerchantId:   1,
		Shortcode:    "600300",
		Type:         models.ChannelTypePaybill,
		Environment:  environment,
		WebhookToken: token,
		Status:       models.ChannelStatusActive,
	}
	if err := testDB.Create(&channel).Error; err != nil {
		t.Fatalf("seeding channel: %v", err)
	}
	return &channel
}

func postWebhook(r *gin.Engine, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func confirmationBody(receipt string) string {
	payload := map[string]string{
		"TransactionType":   "Pay Bill",
		"TransID":           receipt,
		"TransTime":         "20260830140311",
		"TransAmount":       "100.00",
		"BusinessShortCode": "600300",
		"BillRefNumber":     "LOYALTY",
		"MSISDN":            "254712345678",
		"FirstName":         "Jane",
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

func TestConfirmationProcessesInline(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	r := newWebhookRouter(t)
	channel := seedWebhookChannel(t, models.EnvironmentSandbox, "")

	w := postWebhook(r, "/webhooks/c2b/"+strconv.Itoa(channel.ID)+"/confirmation", confirmationBody("RKT900"), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var ack services.ConfirmationAck
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.Equal(t, 0, ack.ResultCode)
	assert.Equal(t, "Success", ack.ResultDesc)

	var trx models.Transaction
	assert.NoError(t, testDB.Where("external_receipt_id = ?", "RKT900").First(&trx).Error)
}

func TestConfirmationAcksMalformedBody(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	r := newWebhookRouter(t)
	channel := seedWebhookChannel(t, models.EnvironmentSandbox, "")

	w := postWebhook(r, "/webhooks/c2b/"+strconv.Itoa(channel.ID)+"/confirmation", "{this is not json", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var ack services.ConfirmationAck
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.Equal(t, 0, ack.ResultCode)
	assert.Equal(t, "Success", ack.ResultDesc)

	// The delivery is traceable, but nothing was ingested.
	var logs int64
	testDB.Model(&models.WebhookLog{}).
		Where("channel_id = ? AND request_type = ? AND status = ?", channel.ID, "confirmation", 0).
		Count(&logs)
	assert.Equal(t, int64(1), logs)

	var trxCount int64
	testDB.Model(&models.Transaction{}).Count(&trxCount)
	assert.Equal(t, int64(0), trxCount)
}

func TestConfirmationUnknownChannel(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	r := newWebhookRouter(t)

	w := postWebhook(r, "/webhooks/c2b/99999/confirmation", confirmationBody("RKT901"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var envelope map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, false, envelope["success"])
}

func TestWebhookTokenEnforcedInProduction(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	r := newWebhookRouter(t)
	channel := seedWebhookChannel(t, models.EnvironmentProduction, "secret-token")
	path := "/webhooks/c2b/" + strconv.Itoa(channel.ID) + "/confirmation"

	w := postWebhook(r, path, confirmationBody("RKT902"), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postWebhook(r, path, confirmationBody("RKT902"), map[string]string{"X-Webhook-Token": "secret-token"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestValidationRejectsMissingBillRef(t *testing.T) {
	if testDB == nil {
		t.Skip("Database not configured")
	}
	defer cleanup()

	r := newWebhookRouter(t)
	channel := seedWebhookChannel(t, models.EnvironmentSandbox, "")

	body := `{"TransID":"RKT903","TransAmount":"100.00","MSISDN":"254712345678","BillRefNumber":""}`
	w := postWebhook(r, "/webhooks/c2b/"+strconv.Itoa(channel.ID)+"/validation", body, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp services.ValidationResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "C2B00012", resp.ResultCode)
	assert.Equal(t, "Rejected", resp.ResultDesc)
}
