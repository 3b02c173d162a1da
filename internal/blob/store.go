package blob

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

var (
	// ErrNotFound 落盘文件不存在
	ErrNotFound = errors.New("blob not found")
	// ErrUnsafePath 相对路径试图逃出根目录
	ErrUnsafePath = errors.New("unsafe blob path")
)

// Store 附件落盘存储。所有文件平铺在根目录下，
// 文件名由写入时间、随机段和清洗后的原始文件名拼成，天然避免撞名。
type Store struct {
	root string
}

// NewStore 创建附件存储实例。
// 启动时创建根目录并做一次写探测，根目录不可写直接返回错误，
// 避免服务带着一个必然失败的存储后端上线。
func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("blob root must not be empty")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve blob root: %w", err)
	}

	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}

	// 写探测
	probe := filepath.Join(abs, ".write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return nil, fmt.Errorf("blob root is not writable: %w", err)
	}
	_ = os.Remove(probe)

	return &Store{root: abs}, nil
}

// Root 返回附件根目录的绝对路径。
func (s *Store) Root() string {
	return s.root
}

// Save 把附件内容写入根目录，返回相对于根目录的存储路径。
// 先写临时文件再原子重命名，失败时磁盘上不会留下半截文件。
func (s *Store) Save(filename string, content []byte) (string, error) {
	name := fmt.Sprintf("%d-%s-%s",
		time.Now().UnixNano(),
		uuid.NewString()[:8],
		sanitizeFilename(filename),
	)
	target := filepath.Join(s.root, name)

	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("finalize blob: %w", err)
	}

	return name, nil
}

// Open 按相对路径打开附件内容，供下载接口流式读取。
func (s *Store) Open(relPath string) (io.ReadCloser, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

// Read 按相对路径读取附件全部内容。
func (s *Store) Read(relPath string) ([]byte, error) {
	f, err := s.Open(relPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Remove 删除附件文件。文件已不存在时不算错误。
func (s *Store) Remove(relPath string) error {
	full, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

// Walk 遍历根目录下的所有附件文件，供清扫任务比对。
// 回调收到相对路径和文件修改时间，返回错误则中止遍历。
func (s *Store) Walk(fn func(relPath string, modTime time.Time) error) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		// 跳过尚未完成重命名的临时文件
		if strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		return fn(rel, info.ModTime())
	})
}

// resolve 把相对路径还原为根目录下的绝对路径，拒绝任何逃出根目录的路径。
func (s *Store) resolve(relPath string) (string, error) {
	if relPath == "" {
		return "", ErrUnsafePath
	}
	full := filepath.Join(s.root, relPath)
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", ErrUnsafePath
	}
	return full, nil
}

// sanitizeFilename 清理文件名，确保可以安全落盘。
func sanitizeFilename(filename string) string {
	// 移除路径部分
	filename = filepath.Base(filename)

	// 替换路径分隔符等危险字符
	for _, char := range []string{"<", ">", ":", "\"", "|", "?", "*", "\\", "/", "\x00"} {
		filename = strings.ReplaceAll(filename, char, "_")
	}

	// 移除控制字符
	filename = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, filename)

	// 限制长度，保留扩展名
	filename = limitLength(filename, 200)

	filename = strings.Trim(filename, " .")
	if filename == "" {
		filename = "unnamed"
	}

	return filename
}

// limitLength 限制文件名长度，尽量保留扩展名。
func limitLength(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	ext := filepath.Ext(s)
	nameWithoutExt := strings.TrimSuffix(s, ext)

	availableLen := maxLen - len(ext)
	if availableLen <= 0 {
		return ext
	}

	return nameWithoutExt[:availableLen] + ext
}
