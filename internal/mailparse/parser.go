package mailparse

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"

	"devinbox/backend/internal/domain"
)

// ParsedEmail 表示解析后的邮件内容。
// Subject、Text 和 HTML 为指针类型：nil 表示原始邮件中该部分缺失。
// 头部存在但内容为空时指向空字符串，两种情况在入库后依然可区分。
type ParsedEmail struct {
	Subject     *string
	From        string
	Recipients  []string
	Headers     domain.HeaderMap
	Text        *string
	HTML        *string
	RawSize     int64
	Attachments []*domain.Attachment
}

// Parse 解析原始邮件字节流，提取头部、正文和附件。
// 头区无法解析或 multipart 结构损坏时返回错误，调用方应视为投递失败。
func Parse(rawEmail []byte) (*ParsedEmail, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(rawEmail))
	if err != nil {
		return nil, fmt.Errorf("parse mail: %w", err)
	}

	parsed := &ParsedEmail{
		From:        decodeHeader(msg.Header.Get("From")),
		Recipients:  parseRecipients(msg.Header),
		Headers:     flattenHeaders(msg.Header),
		RawSize:     int64(len(rawEmail)),
		Attachments: make([]*domain.Attachment, 0),
	}

	// Subject 头不存在和存在但为空是两回事
	if values, ok := msg.Header["Subject"]; ok && len(values) > 0 {
		subject := decodeHeader(values[0])
		parsed.Subject = &subject
	}

	contentType := msg.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// 没有 Content-Type 或解析失败，当作纯文本处理
		body, _ := io.ReadAll(msg.Body)
		text := string(body)
		parsed.Text = &text
		return parsed, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message without boundary")
		}

		mr := multipart.NewReader(msg.Body, boundary)
		if err := parseMultipart(mr, parsed); err != nil {
			return nil, fmt.Errorf("parse multipart: %w", err)
		}
	} else {
		body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"), params["charset"])
		if err != nil {
			return nil, fmt.Errorf("decode body: %w", err)
		}

		if strings.HasPrefix(mediaType, "text/html") {
			parsed.HTML = &body
		} else {
			parsed.Text = &body
		}
	}

	return parsed, nil
}

// parseRecipients 汇总 To 和 Cc 头里的全部收件地址。
// 地址列表解析失败时退回原始头内容，保证记录不丢。
func parseRecipients(header mail.Header) []string {
	out := make([]string, 0, 2)
	for _, key := range []string{"To", "Cc"} {
		value := header.Get(key)
		if value == "" {
			continue
		}
		addrs, err := header.AddressList(key)
		if err != nil {
			out = append(out, decodeHeader(value))
			continue
		}
		for _, a := range addrs {
			out = append(out, strings.ToLower(a.Address))
		}
	}
	return out
}

// flattenHeaders 把头部压平为小写键的单值映射，同名头只保留第一个。
func flattenHeaders(header mail.Header) domain.HeaderMap {
	out := make(domain.HeaderMap, len(header))
	for key, values := range header {
		if len(values) == 0 {
			continue
		}
		out[strings.ToLower(key)] = decodeHeader(values[0])
	}
	return out
}

// parseMultipart 递归解析多部分邮件。
func parseMultipart(mr *multipart.Reader, parsed *ParsedEmail) error {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		contentType := part.Header.Get("Content-Type")
		mediaType, params, err := mime.ParseMediaType(contentType)
		if err != nil {
			mediaType = "text/plain"
		}

		// 检查是否是附件
		disposition := part.Header.Get("Content-Disposition")
		if disposition != "" {
			dispType, dispParams, _ := mime.ParseMediaType(disposition)
			if dispType == "attachment" || dispType == "inline" {
				filename := dispParams["filename"]
				if filename == "" {
					filename = params["name"]
				}
				if filename == "" {
					filename = "unnamed"
				}
				filename = decodeHeader(filename)

				content, err := io.ReadAll(part)
				if err != nil {
					continue
				}

				// 附件内容按传输编码还原为原始字节
				transferEncoding := strings.ToLower(part.Header.Get("Content-Transfer-Encoding"))
				if transferEncoding == "base64" {
					decoded, err := base64.StdEncoding.DecodeString(string(content))
					if err == nil {
						content = decoded
					}
				} else if transferEncoding == "quoted-printable" {
					decoded, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(content)))
					if err == nil {
						content = decoded
					}
				}

				attachment := &domain.Attachment{
					ID:          uuid.NewString(),
					Filename:    filename,
					ContentType: mediaType,
					Size:        int64(len(content)),
					Content:     content,
				}
				parsed.Attachments = append(parsed.Attachments, attachment)
				continue
			}
		}

		// 处理嵌套的 multipart
		if strings.HasPrefix(mediaType, "multipart/") {
			boundary := params["boundary"]
			if boundary != "" {
				nestedReader := multipart.NewReader(part, boundary)
				if err := parseMultipart(nestedReader, parsed); err != nil {
					return err
				}
			}
			continue
		}

		// 处理文本内容，同类型只保留第一个部分
		body, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"), params["charset"])
		if err != nil {
			continue
		}

		if strings.HasPrefix(mediaType, "text/html") {
			if parsed.HTML == nil {
				parsed.HTML = &body
			}
		} else if strings.HasPrefix(mediaType, "text/plain") {
			if parsed.Text == nil {
				parsed.Text = &body
			}
		}
	}

	return nil
}

// decodeBody 根据编码方式解码邮件体。
func decodeBody(reader io.Reader, transferEncoding string, charset string) (string, error) {
	transferEncoding = strings.ToLower(strings.TrimSpace(transferEncoding))

	var decoded io.Reader = reader

	switch transferEncoding {
	case "base64":
		decoded = base64.NewDecoder(base64.StdEncoding, reader)
	case "quoted-printable":
		decoded = quotedprintable.NewReader(reader)
	case "7bit", "8bit", "binary", "":
		// 不需要解码
		decoded = reader
	default:
		// 未知编码，尝试直接读取
		decoded = reader
	}

	body, err := io.ReadAll(decoded)
	if err != nil {
		return "", err
	}

	// 字符集转换
	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset != "" && charset != "utf-8" && charset != "us-ascii" {
		if enc := getCharsetEncoding(charset); enc != nil {
			decoder := enc.NewDecoder()
			converted, _, err := transform.Bytes(decoder, body)
			if err == nil {
				body = converted
			}
		}
	}

	return string(body), nil
}

// decodeHeader 解码 RFC 2047 编码的头部值，解码失败时返回原值。
func decodeHeader(value string) string {
	if value == "" {
		return value
	}
	decoder := &mime.WordDecoder{
		CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
			enc := getCharsetEncoding(strings.ToLower(charset))
			if enc == nil {
				return nil, fmt.Errorf("unsupported charset: %s", charset)
			}
			return transform.NewReader(input, enc.NewDecoder()), nil
		},
	}
	decoded, err := decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

// getCharsetEncoding 根据字符集名称返回编码器
func getCharsetEncoding(charset string) encoding.Encoding {
	switch charset {
	case "gb2312", "gbk", "gb18030":
		return simplifiedchinese.GBK
	case "big5":
		return traditionalchinese.Big5
	case "iso-2022-jp", "shift_jis", "euc-jp":
		return japanese.ShiftJIS
	case "euc-kr", "ks_c_5601-1987":
		return korean.EUCKR
	default:
		return nil
	}
}
