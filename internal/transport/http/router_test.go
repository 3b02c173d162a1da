package httptransport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"devinbox/backend/internal/auth"
	jwtpkg "devinbox/backend/internal/auth/jwt"
	"devinbox/backend/internal/blob"
	"devinbox/backend/internal/config"
	"devinbox/backend/internal/service"
	"devinbox/backend/internal/storage/memory"
)

const testBaseDomain = "in.example.dev"

type testEnv struct {
	router   *gin.Engine
	store    *memory.Store
	messages *service.MessageService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	blobs, err := blob.NewStore(t.TempDir())
	require.NoError(t, err)

	manager := jwtpkg.NewManager(
		"unit-test-secret-with-enough-length!", "devinbox",
		15*time.Minute, 168*time.Hour,
	)
	authService := auth.NewService(store, manager, store, zap.NewNop())
	projectService := service.NewProjectService(store, blobs, zap.NewNop())
	messageService := service.NewMessageService(store, blobs, zap.NewNop())

	cfg := &config.Config{
		SMTP: config.SMTPConfig{BaseDomain: testBaseDomain},
		CORS: config.CORSConfig{AllowedOrigins: []string{"*"}},
	}

	router := NewRouter(RouterDependencies{
		Config:         cfg,
		ProjectService: projectService,
		MessageService: messageService,
		AuthService:    authService,
		Logger:         zap.NewNop(),
	})

	return &testEnv{router: router, store: store, messages: messageService}
}

// do 发起一次 JSON 请求，token 为空时不带 Authorization 头。
func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp struct {
		Code int                    `json:"code"`
		Msg  string                 `json:"msg"`
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}

// setupAdmin 完成系统初始化并返回访问令牌。
func (e *testEnv) setupAdmin(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/auth/setup", "", gin.H{
		"email":    "admin@example.com",
		"name":     "Admin",
		"password": "correct-horse-battery",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	token, _ := data["accessToken"].(string)
	require.NotEmpty(t, token)
	return token
}

// createProject 通过接口创建项目并返回项目 ID。
func (e *testEnv) createProject(t *testing.T, token, name, slug string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/projects", token, gin.H{
		"name": name,
		"slug": slug,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	id, _ := data["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestAuthRoutes(t *testing.T) {
	env := newTestEnv(t)

	t.Run("初始化前状态为待安装", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/v1/auth/setup", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		data := decodeData(t, rec)
		assert.Equal(t, true, data["needsSetup"])
	})

	token := env.setupAdmin(t)

	t.Run("初始化后状态翻转且重复安装被拒", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/v1/auth/setup", "", nil)
		data := decodeData(t, rec)
		assert.Equal(t, false, data["needsSetup"])

		rec = env.do(t, http.MethodPost, "/v1/auth/setup", "", gin.H{
			"email":    "other@example.com",
			"password": "another-password-123",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("登录成功返回令牌和账号信息", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{
			"email":    "admin@example.com",
			"password": "correct-horse-battery",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		data := decodeData(t, rec)
		assert.NotEmpty(t, data["accessToken"])
		assert.NotEmpty(t, data["refreshToken"])
		account, _ := data["account"].(map[string]interface{})
		require.NotNil(t, account)
		assert.Equal(t, "admin@example.com", account["email"])
		assert.Equal(t, "admin", account["role"])
	})

	t.Run("密码错误返回 401", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{
			"email":    "admin@example.com",
			"password": "wrong-password-here",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("me 返回当前账号", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/v1/auth/me", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		data := decodeData(t, rec)
		assert.Equal(t, "admin@example.com", data["email"])
	})

	t.Run("未带令牌访问受保护路由返回 401", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/v1/auth/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("退出后令牌立即失效", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/auth/logout", token, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = env.do(t, http.MethodGet, "/v1/auth/me", token, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRefreshRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/auth/setup", "", gin.H{
		"email":    "admin@example.com",
		"password": "correct-horse-battery",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	data := decodeData(t, rec)
	refreshToken, _ := data["refreshToken"].(string)
	require.NotEmpty(t, refreshToken)

	t.Run("刷新令牌换取新的访问令牌", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/auth/refresh", "", gin.H{
			"refreshToken": refreshToken,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		data := decodeData(t, rec)
		accessToken, _ := data["accessToken"].(string)
		require.NotEmpty(t, accessToken)

		rec = env.do(t, http.MethodGet, "/v1/auth/me", accessToken, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("非法刷新令牌返回 401", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/auth/refresh", "", gin.H{
			"refreshToken": "not-a-real-token",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestProjectRoutes(t *testing.T) {
	env := newTestEnv(t)
	token := env.setupAdmin(t)

	t.Run("未认证访问返回 401", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/v1/projects", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("创建项目返回收件地址", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/projects", token, gin.H{
			"name": "Checkout API",
			"slug": "checkout",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		data := decodeData(t, rec)
		assert.Equal(t, "checkout", data["slug"])
		assert.Equal(t, "anything@checkout."+testBaseDomain, data["inboxAddress"])
	})

	t.Run("别名冲突返回 409", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/projects", token, gin.H{
			"name": "Another",
			"slug": "checkout",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("非法别名返回 400", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/projects", token, gin.H{
			"name": "Bad",
			"slug": "-leading-dash",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("更新项目名称", func(t *testing.T) {
		id := env.createProject(t, token, "Staging", "staging")

		rec := env.do(t, http.MethodPatch, "/v1/projects/"+id, token, gin.H{
			"name": "Staging v2",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		data := decodeData(t, rec)
		assert.Equal(t, "Staging v2", data["name"])
	})

	t.Run("删除后访问返回 404", func(t *testing.T) {
		id := env.createProject(t, token, "Ephemeral", "ephemeral")

		rec := env.do(t, http.MethodDelete, "/v1/projects/"+id, token, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = env.do(t, http.MethodGet, "/v1/projects/"+id, token, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("不存在的项目返回 404", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/v1/projects/no-such-id", token, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

const rawTestMail = "From: Billing <billing@shop.example>\r\n" +
	"To: order@checkout." + testBaseDomain + "\r\n" +
	"Subject: Your receipt\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"frontier\"\r\n" +
	"\r\n" +
	"--frontier\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Thanks for your order.\r\n" +
	"--frontier\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"receipt.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjQKJSBmYWtl\r\n" +
	"--frontier--\r\n"

func TestMessageRoutes(t *testing.T) {
	env := newTestEnv(t)
	token := env.setupAdmin(t)
	projectID := env.createProject(t, token, "Checkout", "checkout")

	project, err := env.store.GetProject(projectID)
	require.NoError(t, err)

	ingested, err := env.messages.Ingest(service.IngestInput{
		Project: project,
		From:    "billing@shop.example",
		Raw:     []byte(rawTestMail),
	})
	require.NoError(t, err)

	emailsPath := fmt.Sprintf("/v1/projects/%s/emails", projectID)

	t.Run("列表返回摘要和分页信息", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, emailsPath+"?limit=10&offset=0", token, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		data := decodeData(t, rec)
		assert.EqualValues(t, 1, data["total"])
		assert.EqualValues(t, 10, data["limit"])
		assert.EqualValues(t, 0, data["offset"])

		list, _ := data["emails"].([]interface{})
		require.Len(t, list, 1)
		first, _ := list[0].(map[string]interface{})
		assert.Equal(t, "Your receipt", first["subject"])
		assert.EqualValues(t, 1, first["attachmentCount"])
		// 摘要不携带正文
		_, hasBody := first["text"]
		assert.False(t, hasBody)
	})

	t.Run("项目详情包含邮件计数", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/v1/projects/"+projectID, token, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		data := decodeData(t, rec)
		assert.EqualValues(t, 1, data["emailCount"])
		assert.EqualValues(t, 1, data["unreadCount"])
	})

	t.Run("详情包含正文和附件元数据", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, emailsPath+"/"+ingested.ID, token, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		data := decodeData(t, rec)
		assert.Equal(t, "Thanks for your order.", data["text"])

		attachments, _ := data["attachments"].([]interface{})
		require.Len(t, attachments, 1)
		info, _ := attachments[0].(map[string]interface{})
		assert.Equal(t, "receipt.pdf", info["filename"])
		assert.Equal(t, "application/pdf", info["contentType"])
	})

	t.Run("设置已读状态幂等", func(t *testing.T) {
		rec := env.do(t, http.MethodPatch, emailsPath+"/"+ingested.ID+"/read", token, gin.H{"isRead": true})
		require.Equal(t, http.StatusNoContent, rec.Code)

		// 重复设置同一值仍然成功
		rec = env.do(t, http.MethodPatch, emailsPath+"/"+ingested.ID+"/read", token, gin.H{"isRead": true})
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = env.do(t, http.MethodGet, emailsPath+"/"+ingested.ID, token, nil)
		data := decodeData(t, rec)
		assert.Equal(t, true, data["isRead"])

		rec = env.do(t, http.MethodPatch, emailsPath+"/"+ingested.ID+"/read", token, gin.H{"isRead": false})
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = env.do(t, http.MethodGet, emailsPath+"/"+ingested.ID, token, nil)
		data = decodeData(t, rec)
		assert.Equal(t, false, data["isRead"])
	})

	t.Run("下载附件返回原始内容", func(t *testing.T) {
		require.Len(t, ingested.Attachments, 1)
		attachmentID := ingested.Attachments[0].ID

		rec := env.do(t, http.MethodGet,
			emailsPath+"/"+ingested.ID+"/attachments/"+attachmentID, token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "receipt.pdf")
		assert.Equal(t, []byte("%PDF-1.4\n% fake"), rec.Body.Bytes())
	})

	t.Run("不存在的附件返回 404", func(t *testing.T) {
		rec := env.do(t, http.MethodGet,
			emailsPath+"/"+ingested.ID+"/attachments/no-such-attachment", token, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("删除邮件后详情返回 404", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, emailsPath+"/"+ingested.ID, token, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = env.do(t, http.MethodGet, emailsPath+"/"+ingested.ID, token, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
