package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// StringList 以 JSON 数组形式存入单列的字符串切片。
type StringList []string

// Value 实现 driver.Valuer。
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner。
func (l *StringList) Scan(src interface{}) error {
	if src == nil {
		*l = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return errors.New("unsupported type for StringList")
	}
}

// HeaderMap 以 JSON 对象形式存入单列的头部映射，键为小写头部名。
type HeaderMap map[string]string

// Value 实现 driver.Valuer。
func (h HeaderMap) Value() (driver.Value, error) {
	if h == nil {
		return "{}", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner。
func (h *HeaderMap) Scan(src interface{}) error {
	if src == nil {
		*h = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, h)
	case string:
		return json.Unmarshal([]byte(v), h)
	default:
		return errors.New("unsupported type for HeaderMap")
	}
}

// Message 表示一封已入库的入站邮件。
// Subject、BodyText 和 BodyHTML 为指针类型：nil 表示原始邮件中该部分缺失，
// 与空字符串（存在但为空）区分开。
type Message struct {
	ID         string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ProjectID  string     `json:"projectId" gorm:"type:varchar(36);index;not null"`
	From       string     `json:"from" gorm:"type:varchar(255)"`
	Recipients StringList `json:"to" gorm:"type:text"`
	Subject    *string    `json:"subject" gorm:"type:varchar(998)"`
	BodyText   *string    `json:"text" gorm:"type:text"`
	BodyHTML   *string    `json:"html" gorm:"type:text"`
	Headers    HeaderMap  `json:"headers,omitempty" gorm:"type:text"`
	RawSize    int64      `json:"rawSize"`
	IsRead     bool       `json:"isRead" gorm:"default:false;index"`
	ReceivedAt time.Time  `json:"receivedAt" gorm:"index"`
	CreatedAt  time.Time  `json:"createdAt"`
	// 附件元数据，与邮件同事务写入
	Attachments []*Attachment `json:"attachments,omitempty" gorm:"foreignKey:MessageID"`
}
