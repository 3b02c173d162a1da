package mailparse

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlainText(t *testing.T) {
	raw := strings.Join([]string{
		"From: sender@example.com",
		"To: hello@checkout.in.example.dev",
		"Subject: Welcome",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Hello there",
	}, "\r\n")

	parsed, err := Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "sender@example.com", parsed.From)
	assert.Equal(t, []string{"hello@checkout.in.example.dev"}, parsed.Recipients)
	require.NotNil(t, parsed.Subject)
	assert.Equal(t, "Welcome", *parsed.Subject)
	require.NotNil(t, parsed.Text)
	assert.Equal(t, "Hello there", *parsed.Text)
	assert.Nil(t, parsed.HTML)
	assert.Empty(t, parsed.Attachments)
	assert.Equal(t, int64(len(raw)), parsed.RawSize)
}

func TestParseHTMLOnly(t *testing.T) {
	raw := strings.Join([]string{
		"From: sender@example.com",
		"To: hello@checkout.in.example.dev",
		"Subject: Rich",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>Hello</p>",
	}, "\r\n")

	parsed, err := Parse([]byte(raw))
	require.NoError(t, err)

	assert.Nil(t, parsed.Text)
	require.NotNil(t, parsed.HTML)
	assert.Equal(t, "<p>Hello</p>", *parsed.HTML)
}

func TestParseMultipartAlternative(t *testing.T) {
	raw := strings.Join([]string{
		"From: sender@example.com",
		"To: hello@checkout.in.example.dev",
		"Subject: Both",
		"MIME-Version: 1.0",
		"Content-Type: multipart/alternative; boundary=BOUNDARY",
		"",
		"--BOUNDARY",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"plain body",
		"--BOUNDARY",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<b>html body</b>",
		"--BOUNDARY--",
		"",
	}, "\r\n")

	parsed, err := Parse([]byte(raw))
	require.NoError(t, err)

	require.NotNil(t, parsed.Text)
	assert.Equal(t, "plain body", *parsed.Text)
	require.NotNil(t, parsed.HTML)
	assert.Equal(t, "<b>html body</b>", *parsed.HTML)
}

func TestParseAttachment(t *testing.T) {
	content := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a}
	encoded := base64.StdEncoding.EncodeToString(content)

	raw := strings.Join([]string{
		"From: sender@example.com",
		"To: hello@checkout.in.example.dev",
		"Subject: With attachment",
		"MIME-Version: 1.0",
		"Content-Type: multipart/mixed; boundary=BOUNDARY",
		"",
		"--BOUNDARY",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"see attached",
		"--BOUNDARY",
		"Content-Type: image/png",
		"Content-Transfer-Encoding: base64",
		`Content-Disposition: attachment; filename="logo.png"`,
		"",
		encoded,
		"--BOUNDARY--",
		"",
	}, "\r\n")

	parsed, err := Parse([]byte(raw))
	require.NoError(t, err)

	require.NotNil(t, parsed.Text)
	assert.Equal(t, "see attached", *parsed.Text)
	require.Len(t, parsed.Attachments, 1)

	att := parsed.Attachments[0]
	assert.NotEmpty(t, att.ID)
	assert.Equal(t, "logo.png", att.Filename)
	assert.Equal(t, "image/png", att.ContentType)
	assert.Equal(t, int64(len(content)), att.Size)
	assert.Equal(t, content, att.Content)
}

func TestParseSubjectAbsence(t *testing.T) {
	t.Run("缺少 Subject 头时为 nil", func(t *testing.T) {
		raw := "From: a@example.com\r\nTo: b@p.in.example.dev\r\n\r\nbody"
		parsed, err := Parse([]byte(raw))
		require.NoError(t, err)
		assert.Nil(t, parsed.Subject)
	})

	t.Run("Subject 头存在但为空时保留空字符串", func(t *testing.T) {
		raw := "From: a@example.com\r\nTo: b@p.in.example.dev\r\nSubject: \r\n\r\nbody"
		parsed, err := Parse([]byte(raw))
		require.NoError(t, err)
		require.NotNil(t, parsed.Subject)
		assert.Equal(t, "", *parsed.Subject)
	})
}

func TestParseRecipients(t *testing.T) {
	t.Run("汇总 To 和 Cc", func(t *testing.T) {
		raw := strings.Join([]string{
			"From: a@example.com",
			"To: first@p.in.example.dev, second@p.in.example.dev",
			"Cc: third@q.in.example.dev",
			"Subject: multi",
			"",
			"body",
		}, "\r\n")

		parsed, err := Parse([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, []string{
			"first@p.in.example.dev",
			"second@p.in.example.dev",
			"third@q.in.example.dev",
		}, parsed.Recipients)
	})

	t.Run("没有收件头时为空列表", func(t *testing.T) {
		raw := "From: a@example.com\r\nSubject: none\r\n\r\nbody"
		parsed, err := Parse([]byte(raw))
		require.NoError(t, err)
		assert.Empty(t, parsed.Recipients)
	})
}

func TestParseQuotedPrintableBody(t *testing.T) {
	raw := strings.Join([]string{
		"From: a@example.com",
		"To: b@p.in.example.dev",
		"Subject: qp",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"caf=C3=A9",
	}, "\r\n")

	parsed, err := Parse([]byte(raw))
	require.NoError(t, err)
	require.NotNil(t, parsed.Text)
	assert.Equal(t, "café", *parsed.Text)
}

func TestParseEncodedSubject(t *testing.T) {
	raw := strings.Join([]string{
		"From: a@example.com",
		"To: b@p.in.example.dev",
		"Subject: =?UTF-8?B?5L2g5aW9?=",
		"",
		"body",
	}, "\r\n")

	parsed, err := Parse([]byte(raw))
	require.NoError(t, err)
	require.NotNil(t, parsed.Subject)
	assert.Equal(t, "你好", *parsed.Subject)
}

func TestParseMalformed(t *testing.T) {
	t.Run("multipart 缺少 boundary", func(t *testing.T) {
		raw := strings.Join([]string{
			"From: a@example.com",
			"To: b@p.in.example.dev",
			"Content-Type: multipart/mixed",
			"",
			"body",
		}, "\r\n")

		parsed, err := Parse([]byte(raw))
		assert.Error(t, err)
		assert.Nil(t, parsed)
	})

	t.Run("头区损坏", func(t *testing.T) {
		parsed, err := Parse([]byte("not a mail message at all"))
		assert.Error(t, err)
		assert.Nil(t, parsed)
	})
}

func TestParseHeadersFlattened(t *testing.T) {
	raw := strings.Join([]string{
		"From: a@example.com",
		"To: b@p.in.example.dev",
		"Subject: hi",
		"X-Custom: custom-value",
		"",
		"body",
	}, "\r\n")

	parsed, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "custom-value", parsed.Headers["x-custom"])
	assert.Equal(t, "hi", parsed.Headers["subject"])
}
