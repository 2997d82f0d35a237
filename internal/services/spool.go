package services

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Upload 上传的文件
type Upload struct {
	FieldName   string
	Filename    string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// UploadedFile 落盘后的文件信息，作为训练接口的返回数据
type UploadedFile struct {
	FieldName    string `json:"fieldname"`
	OriginalName string `json:"originalname"`
	Encoding     string `json:"encoding"`
	MimeType     string `json:"mimetype"`
	Destination  string `json:"destination"`
	Filename     string `json:"filename"`
	Path         string `json:"path"`
	Size         int64  `json:"size"`
}

// spooler 将上传内容暂存到上传目录
type spooler struct {
	dir string
	now func() time.Time
}

func newSpooler(dir string) *spooler {
	if dir == "" {
		dir = "./uploads"
	}
	return &spooler{dir: strings.TrimSuffix(dir, "/"), now: time.Now}
}

// storedName <原文件名>-<毫秒时间戳><扩展名>
func (sp *spooler) storedName(original string) string {
	base := filepath.Base(original)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return fmt.Sprintf("%s-%d%s", name, sp.now().UnixMilli(), ext)
}

// locator 向量记录中使用的来源定位符
func (sp *spooler) locator(name string) string {
	return sp.dir + "/" + name
}

func (sp *spooler) ensureDir() error {
	if err := os.MkdirAll(sp.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}
	return nil
}

func (sp *spooler) save(u Upload) (*UploadedFile, error) {
	if err := sp.ensureDir(); err != nil {
		return nil, err
	}

	name := sp.storedName(u.Filename)
	path := sp.locator(name)
	size, err := sp.write(path, u.Reader)
	if err != nil {
		return nil, err
	}

	return &UploadedFile{
		FieldName:    u.FieldName,
		OriginalName: u.Filename,
		Encoding:     "7bit",
		MimeType:     u.ContentType,
		Destination:  sp.dir,
		Filename:     name,
		Path:         path,
		Size:         size,
	}, nil
}

func (sp *spooler) write(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}
	size, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return size, nil
}

// remove 删除暂存文件，失败只记录日志
func (sp *spooler) remove(path string, log *zap.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("File deletion error", zap.String("path", path), zap.Error(err))
	}
}
