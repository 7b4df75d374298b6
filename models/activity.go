package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/nimbusgrid/hosting_backend/config"
)

// Activity is an append-only audit entry attached to a user and optionally
// a server. Created, never mutated or deleted.
type Activity struct {
	ID        int            `gorm:"primary_key" json:"id"`
	UserId    int            `gorm:"index;not null" json:"user_id"`
	ServerId  *int           `gorm:"index" json:"server_id"`
	Action    ActivityAction `gorm:"size:20;not null;index" json:"action"`
	Params    []byte         `gorm:"type:json" json:"params"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

type NewActivity struct {
	UserId   int
	ServerId *int
	Action   ActivityAction
	Params   map[string]interface{}
}

func CreateActivity(ctx context.Context, input NewActivity) (*Activity, error) {
	db := config.GetDB()

	var params []byte
	if input.Params != nil {
		b, err := json.Marshal(input.Params)
		if err != nil {
			return nil, err
		}
		params = b
	}

	activity := Activity{
		UserId:   input.UserId,
		ServerId: input.ServerId,
		Action:   input.Action,
		Params:   params,
	}
	if err := db.WithContext(ctx).Create(&activity).Error; err != nil {
		return nil, err
	}
	return &activity, nil
}
