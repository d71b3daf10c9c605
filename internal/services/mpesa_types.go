package services

import "time"

// Wire shapes for the mobile-money network's C2B API surface.

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type RegisterURLsRequest struct {
	ShortCode       string `json:"ShortCode"`
	ResponseType    string `json:"ResponseType"`
	ConfirmationURL string `json:"ConfirmationURL"`
	ValidationURL   string `json:"ValidationURL"`
}

type RegisterURLsResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	ConversationID      string `json:"ConversationID,omitempty"`
}

type SimulateRequest struct {
	ShortCode     string `json:"ShortCode"`
	CommandID     string `json:"CommandID"`
	Amount        string `json:"Amount"`
	Msisdn        string `json:"Msisdn"`
	BillRefNumber string `json:"BillRefNumber"`
}

type SimulateResponse struct {
	ResponseCode            string `json:"ResponseCode"`
	ResponseDescription     string `json:"ResponseDescription"`
	ConversationID          string `json:"ConversationID,omitempty"`
	OriginatorCoversationID string `json:"OriginatorCoversationID,omitempty"`
}

// HistoricalPayment is one settled payment from the paged history API.
// Timestamps arrive in calendar form ("2006-01-02 15:04:05"), unlike
// the compact webhook format.
type HistoricalPayment struct {
	ReceiptId     string `json:"TransID"`
	TransactionId string `json:"ConversationID"`
	Amount        string `json:"TransAmount"`
	Msisdn        string `json:"MSISDN"`
	BillRefNumber string `json:"BillRefNumber"`
	FirstName     string `json:"FirstName"`
	MiddleName    string `json:"MiddleName"`
	LastName      string `json:"LastName"`
	PaidAt        string `json:"TransactionDate"`
}

type TransactionPage struct {
	Payments []HistoricalPayment `json:"Payments"`
	Page     int                 `json:"Page"`
	PerPage  int                 `json:"PerPage"`
	Total    int                 `json:"Total"`
}

// PollWindow bounds one history fetch.
type PollWindow struct {
	From time.Time
	To   time.Time
}
