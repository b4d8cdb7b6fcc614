package domain

import (
	"time"
)

// Game 表示可充值的游戏条目，由管理员维护。
type Game struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name      string    `json:"name" gorm:"type:varchar(128)"`
	Slug      string    `json:"slug" gorm:"type:varchar(128);uniqueIndex"`
	IconURL   string    `json:"iconUrl" gorm:"type:varchar(512)"`
	CoinHint  int64     `json:"coinHint"` // 推荐充值金币数，仅作展示
	IsActive  bool      `json:"isActive" gorm:"default:true"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GameUsername 用户在某游戏内的账号名，充值发货时使用。
type GameUsername struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID    string    `json:"userId" gorm:"type:varchar(36);index"`
	GameID    string    `json:"gameId" gorm:"type:varchar(36);index"`
	Username  string    `json:"username" gorm:"type:varchar(128)"`
	CreatedAt time.Time `json:"createdAt"`
}
