package domain

import "time"

// AccountRole 账号角色
type AccountRole string

const (
	RoleDeveloper AccountRole = "developer"
	RoleAdmin     AccountRole = "admin"
)

// Account 表示可登录控制台的开发者账号
type Account struct {
	ID           string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email        string      `json:"email" gorm:"uniqueIndex;type:varchar(255);not null"`
	Name         string      `json:"name,omitempty" gorm:"type:varchar(100)"`
	PasswordHash string      `json:"-" gorm:"type:varchar(255)"` // 不返回给前端
	Role         AccountRole `json:"role" gorm:"type:varchar(20);default:'developer';index"`
	IsActive     bool        `json:"isActive" gorm:"default:true"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	LastLoginAt  *time.Time  `json:"lastLoginAt,omitempty"`
}

// IsAdmin 判断账号是否为管理员
func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}
