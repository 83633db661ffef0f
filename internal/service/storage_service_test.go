package service

import (
	"coder_edu_progress/internal/config"
	"coder_edu_progress/internal/model"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_UploadAndDelete(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certificates")
	svc := NewStorageService(&config.Config{Storage: config.StorageConfig{Type: "local", LocalPath: dir}})

	body := "hello"
	url, err := svc.Upload(context.Background(), "1/abc.txt", strings.NewReader(body), int64(len(body)), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "/certificates/1/abc.txt", url)

	data, err := os.ReadFile(filepath.Join(dir, "1", "abc.txt"))
	require.NoError(t, err)
	assert.Equal(t, body, string(data))

	require.NoError(t, svc.Delete(context.Background(), "1/abc.txt"))
	_, err = os.Stat(filepath.Join(dir, "1", "abc.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestStorageURLs(t *testing.T) {
	local := &LocalStorageProvider{Config: &config.StorageConfig{LocalPath: "data/certs", PublicURL: "https://cdn.example.com/"}}
	assert.Equal(t, "https://cdn.example.com/1/a.txt", local.GetURL("1/a.txt"))

	minioProvider := &MinioStorageProvider{Config: &config.StorageConfig{MinioBucket: "certs"}}
	assert.Equal(t, "/certs/1/a.txt", minioProvider.GetURL("1/a.txt"))

	ossProvider := &OSSStorageProvider{Config: &config.StorageConfig{OSSBucket: "certs", OSSEndpoint: "oss-cn-hangzhou.aliyuncs.com"}}
	assert.Equal(t, "https://certs.oss-cn-hangzhou.aliyuncs.com/1/a.txt", ossProvider.GetURL("1/a.txt"))
	ossProvider.Config.PublicURL = "https://cdn.example.com"
	assert.Equal(t, "https://cdn.example.com/1/a.txt", ossProvider.GetURL("1/a.txt"))
}

func TestNewStorageService_SelectsProviderByType(t *testing.T) {
	svc := NewStorageService(&config.Config{Storage: config.StorageConfig{
		Type:         "oss",
		OSSEndpoint:  "oss-cn-hangzhou.aliyuncs.com",
		OSSAccessKey: "id",
		OSSSecretKey: "secret",
		OSSBucket:    "certs",
	}})
	provider, ok := svc.Provider.(*OSSStorageProvider)
	require.True(t, ok)
	assert.NotNil(t, provider.Client)

	svc = NewStorageService(&config.Config{Storage: config.StorageConfig{
		Type:          "minio",
		MinioEndpoint: "127.0.0.1:9000",
		MinioBucket:   "certs",
	}})
	assert.IsType(t, &MinioStorageProvider{}, svc.Provider)

	svc = NewStorageService(&config.Config{Storage: config.StorageConfig{Type: "local", LocalPath: t.TempDir()}})
	assert.IsType(t, &LocalStorageProvider{}, svc.Provider)
}

func TestRenderCertificate(t *testing.T) {
	cert := &model.Certificate{
		UserID:            1,
		CourseID:          10,
		CertificateNumber: "abc",
		IssuedAt:          time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	doc := string(renderCertificate(cert, model.CourseProgressSummary{CompletedLessons: 4, TotalLessons: 4, TimeSpentSeconds: 90}))

	assert.Contains(t, doc, "Certificate No.: abc")
	assert.Contains(t, doc, "Lessons completed: 4/4")
	assert.Contains(t, doc, "Time spent: 1m30s")
	assert.Contains(t, doc, "2026-03-01T09:00:00Z")
}
