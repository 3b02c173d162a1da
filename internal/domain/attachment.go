package domain

// Attachment 表示邮件附件的元数据。附件内容不存数据库，
// 由 StoragePath 指向的落盘文件承载。
type Attachment struct {
	ID          string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MessageID   string `json:"messageId" gorm:"type:varchar(36);index;not null"`
	Filename    string `json:"filename" gorm:"type:varchar(255)"`
	ContentType string `json:"contentType" gorm:"type:varchar(100)"`
	Size        int64  `json:"size"`
	StoragePath string `json:"-" gorm:"uniqueIndex;type:varchar(500)"` // 相对于附件根目录
	Content     []byte `json:"-" gorm:"-"`                             // 投递期间暂存内容，入库前写盘
}
