// Package blob хранит загруженные обложки в локальной файловой системе.
// Загрузки попадают во временный каталог и переносятся в постоянный, когда на них ссылается пост.
package blob

import (
	"context"
	"errors"
	"fmt"
	"hash/crc64"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("image not found")
	ErrTooLarge = errors.New("image too large")
	ErrNotImage = errors.New("not an image")
	ErrBadID    = errors.New("bad image id")
)

const partitions = 100

// Meta описывает сохраненное изображение
type Meta struct {
	ID          string
	ContentType string
	Size        int64
	Committed   bool
}

// FileSystem хранит изображения в Location, временные загрузки в Staging.
// Идентификаторы имеют вид user/uuid.
type FileSystem struct {
	Location string
	Staging  string
	MaxSize  int64
	BaseURL  string

	crc *crc64.Table
}

func NewFileSystem(location, staging string, maxSize int64, baseURL string) *FileSystem {
	return &FileSystem{
		Location: location,
		Staging:  staging,
		MaxSize:  maxSize,
		BaseURL:  strings.TrimSuffix(baseURL, "/"),
		crc:      crc64.MakeTable(crc64.ECMA),
	}
}

// Save пишет загрузку во временный каталог и возвращает ее id
func (f *FileSystem) Save(_ context.Context, userID, contentType string, r io.Reader) (string, error) {
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return "", fmt.Errorf("%w: content type %q", ErrNotImage, contentType)
	}
	if userID == "" || strings.ContainsAny(userID, `/\`) || userID == "." || userID == ".." {
		return "", fmt.Errorf("%w: user %q", ErrBadID, userID)
	}

	data, err := io.ReadAll(io.LimitReader(r, f.MaxSize+1))
	if err != nil {
		return "", fmt.Errorf("can't read image: %w", err)
	}
	if int64(len(data)) > f.MaxSize {
		return "", fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, f.MaxSize)
	}
	if detected := http.DetectContentType(data); !strings.HasPrefix(detected, "image/") {
		return "", fmt.Errorf("%w: detected %q", ErrNotImage, detected)
	}

	id := path.Join(userID, uuid.New().String())
	dst := f.location(f.Staging, id)
	if err = os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return "", fmt.Errorf("can't make image directory: %w", err)
	}
	if err = os.WriteFile(dst, data, 0o600); err != nil {
		return "", fmt.Errorf("can't write image file: %w", err)
	}

	log.Printf("[DEBUG] file %s saved for image %s, size=%d", dst, id, len(data))
	return id, nil
}

// Commit переносит изображение в постоянный каталог. Повторный вызов ничего не делает
func (f *FileSystem) Commit(_ context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	staging, perm := f.location(f.Staging, id), f.location(f.Location, id)
	if _, err := os.Stat(perm); err == nil {
		return nil
	}
	if _, err := os.Stat(staging); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	log.Printf("[DEBUG] commit image %s", id)
	if err := os.MkdirAll(filepath.Dir(perm), 0o700); err != nil {
		return fmt.Errorf("can't make image directory: %w", err)
	}
	if err := os.Rename(staging, perm); err != nil {
		return fmt.Errorf("failed to commit image %s: %w", id, err)
	}
	return nil
}

// Load открывает изображение, сначала из постоянного каталога, затем из временного.
// Закрывает reader вызывающий.
func (f *FileSystem) Load(_ context.Context, id string) (io.ReadCloser, Meta, error) {
	if err := validID(id); err != nil {
		return nil, Meta{}, err
	}

	file, committed := f.location(f.Location, id), true
	st, err := os.Stat(file)
	if err != nil {
		file, committed = f.location(f.Staging, id), false
		if st, err = os.Stat(file); err != nil {
			return nil, Meta{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
	}

	fh, err := os.Open(file)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("can't load image %s: %w", id, err)
	}

	head := make([]byte, 512)
	n, _ := io.ReadFull(fh, head)
	if _, err = fh.Seek(0, io.SeekStart); err != nil {
		_ = fh.Close()
		return nil, Meta{}, fmt.Errorf("can't rewind image %s: %w", id, err)
	}

	return fh, Meta{
		ID:          id,
		ContentType: http.DetectContentType(head[:n]),
		Size:        st.Size(),
		Committed:   committed,
	}, nil
}

// Exists сообщает, есть ли изображение в любом из каталогов
func (f *FileSystem) Exists(_ context.Context, id string) bool {
	if validID(id) != nil {
		return false
	}
	for _, base := range []string{f.Location, f.Staging} {
		if _, err := os.Stat(f.location(base, id)); err == nil {
			return true
		}
	}
	return false
}

// Cleanup удаляет временные загрузки старше ttl
func (f *FileSystem) Cleanup(_ context.Context, ttl time.Duration) error {
	if _, err := os.Stat(f.Staging); os.IsNotExist(err) {
		return nil
	}

	err := filepath.Walk(f.Staging, func(fpath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if age := time.Since(info.ModTime()); age > ttl {
			log.Printf("[INFO] remove staging image %s, age %v", fpath, age)
			rmErr := os.Remove(fpath)
			_ = os.Remove(filepath.Dir(fpath)) // succeeds only for an empty partition
			return rmErr
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cleanup images: %w", err)
	}
	return nil
}

// URL возвращает публичный адрес изображения
func (f *FileSystem) URL(id string) string {
	return f.BaseURL + "/images/" + id
}

// location переводит user/uuid в base/user/partition/uuid, раскладывая файлы по подкаталогам
func (f *FileSystem) location(base, id string) string {
	user, file, _ := strings.Cut(id, "/")
	partition := crc64.Checksum([]byte(id), f.crc) % partitions
	return filepath.Join(base, user, fmt.Sprintf("%02d", partition), file)
}

func validID(id string) error {
	user, file, ok := strings.Cut(id, "/")
	if !ok || user == "" || user == "." || user == ".." || strings.ContainsAny(user+file, `/\`) {
		return fmt.Errorf("%w: %q", ErrBadID, id)
	}
	if _, err := uuid.Parse(file); err != nil {
		return fmt.Errorf("%w: %q", ErrBadID, id)
	}
	return nil
}
