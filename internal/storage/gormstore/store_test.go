package gormstore

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"devinbox/backend/internal/domain"
	"devinbox/backend/internal/storage"
)

// newMockStore 用 sqlmock 连接构造存储实例，跳过建表迁移，
// 专门用来断言写路径实际发出的 SQL。
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	return &Store{db: db}, mock
}

func TestCreateMessageWithAttachmentsLocking(t *testing.T) {
	t.Run("事务内对项目行加共享锁", func(t *testing.T) {
		store, mock := newMockStore(t)

		// 项目行复查必须带行锁，否则并发删除项目会在
		// READ COMMITTED 下留下指向已删项目的邮件记录。
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "projects" WHERE id = \$1 .* FOR SHARE`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		err := store.CreateMessageWithAttachments(&domain.Message{
			ID:        "msg-1",
			ProjectID: "proj-1",
		})
		assert.ErrorIs(t, err, storage.ErrProjectNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
