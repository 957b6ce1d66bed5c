package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mcs-iot/internal/models"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectInfo 云端对象
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore S3 兼容对象存储
type ObjectStore interface {
	Upload(ctx context.Context, key, path, contentType string) error
	Size(ctx context.Context, key string) (int64, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Remove(ctx context.Context, key string) error
}

// StoreFactory 按归档配置创建对象存储（配置可在运行时修改，每次归档重新创建）
type StoreFactory func(cfg models.ArchiveConfig) (ObjectStore, error)

// Endpoint 根据提供商解析 S3 端点，返回 host 与是否使用 TLS
func Endpoint(cfg models.ArchiveConfig) (string, bool, error) {
	secure := true
	if cfg.UseSSL != nil {
		secure = *cfg.UseSSL
	}

	// 自定义端点优先
	if cfg.Endpoint != "" {
		host := cfg.Endpoint
		switch {
		case strings.HasPrefix(host, "https://"):
			host, secure = strings.TrimPrefix(host, "https://"), true
		case strings.HasPrefix(host, "http://"):
			host, secure = strings.TrimPrefix(host, "http://"), false
		}
		return strings.TrimSuffix(host, "/"), secure, nil
	}

	switch cfg.Provider {
	case models.ProviderCloudflare, "":
		if cfg.AccountID == "" {
			return "", false, fmt.Errorf("cloudflare r2 requires account_id")
		}
		return cfg.AccountID + ".r2.cloudflarestorage.com", secure, nil
	case models.ProviderTencent:
		if cfg.Region == "" {
			return "", false, fmt.Errorf("tencent cos requires region")
		}
		return "cos." + cfg.Region + ".myqcloud.com", secure, nil
	case models.ProviderAlibaba:
		if cfg.Region == "" {
			return "", false, fmt.Errorf("alibaba oss requires region")
		}
		return cfg.Region + ".aliyuncs.com", secure, nil
	case models.ProviderMinIO:
		return "", false, fmt.Errorf("minio requires endpoint")
	default:
		return "", false, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}

// MinioStore 基于 minio-go 的对象存储
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore 创建对象存储客户端
func NewMinioStore(cfg models.ArchiveConfig) (ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is not configured")
	}
	host, secure, err := Endpoint(cfg)
	if err != nil {
		return nil, err
	}

	region := cfg.Region
	if cfg.Provider == models.ProviderCloudflare || cfg.Provider == "" {
		region = "auto"
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// Upload 上传本地文件
func (m *MinioStore) Upload(ctx context.Context, key, path, contentType string) error {
	_, err := m.client.FPutObject(ctx, m.bucket, key, path, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Size 云端对象大小
func (m *MinioStore) Size(ctx context.Context, key string) (int64, error) {
	info, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return info.Size, nil
}

// List 列出前缀下的对象；提前返回时取消 ctx，结束 minio 的列举协程
func (m *MinioStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var objects []ObjectInfo
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return objects, fmt.Errorf("failed to list objects: %w", obj.Err)
		}
		objects = append(objects, ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
	}
	return objects, nil
}

// Remove 删除对象
func (m *MinioStore) Remove(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}
