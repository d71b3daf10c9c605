package worker

import (
	"encoding/json"

	"loyalty-service/internal/consumers"

	"github.com/hibiken/asynq"
)

// Task Types. The loyalty and channel-sync producers live in
// internal/services, which cannot import this package, so they carry
// their own copies of those two strings.
const (
	TypeC2BConfirmation = "c2b-confirmation"
	TypeLoyaltyProcess  = "loyalty-process"
	TypeChannelSync     = "channel-sync"
)

func NewC2BConfirmationTask(payload consumers.ConfirmationDTO) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeC2BConfirmation, data), nil
}
