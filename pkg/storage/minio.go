package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioProvider struct {
	client *minio.Client
	bucket string
}

func NewMinioProvider(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioProvider, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, err
	}

	// 自动建桶
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket %s: %w", bucket, err)
		}
	}

	return &MinioProvider{client: client, bucket: bucket}, nil
}

func objectName(name string) string {
	// 对象 Key 统一使用 "/" 分隔
	return strings.TrimPrefix(strings.ReplaceAll(name, "\\", "/"), "/")
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func (m *MinioProvider) Save(name string, data io.Reader) error {
	// 历史快照体积很小，读入内存后带长度上传，避免 -1 时的分片缓冲
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	_, err = m.client.PutObject(context.Background(), m.bucket, objectName(name), bytes.NewReader(buf), int64(len(buf)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

func (m *MinioProvider) Get(name string) (io.ReadCloser, error) {
	ctx := context.Background()
	key := objectName(name)

	// GetObject 是惰性的，先 Stat 才能区分 "不存在" 和其它错误
	if _, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, err
	}
	return m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
}

func (m *MinioProvider) Delete(name string) error {
	return m.client.RemoveObject(context.Background(), m.bucket, objectName(name), minio.RemoveObjectOptions{})
}
