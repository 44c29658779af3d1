package s3

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mwantia/fsmirror/data"
	"github.com/mwantia/fsmirror/storage"
)

// S3Storage exposes an S3 bucket as a storage backend.
//
// Directories are virtual: they exist as key prefixes only. Their
// physical mtime is the latest mtime among their direct children, since
// S3 keeps no timestamp for a bare prefix.
type S3Storage struct {
	client     *minio.Client
	bucketName string
	prefix     string
}

type S3StorageConfig struct {
	// Endpoint of the S3 compatible server (host:port)
	Endpoint string

	// Bucket that backs this storage
	Bucket string

	// Prefix below which all objects live (optional)
	Prefix string

	AccessKey string
	SecretKey string
	UseSSL    bool
}

func NewS3Storage(config *S3StorageConfig) (*S3Storage, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	return &S3Storage{
		client:     client,
		bucketName: config.Bucket,
		prefix:     strings.Trim(config.Prefix, "/"),
	}, nil
}

// Name returns the identifier name defined for this storage
func (*S3Storage) Name() string {
	return "s3"
}

// Open is part of the lifecycle behaviour and gets called when opening this storage.
func (ss *S3Storage) Open(ctx context.Context) error {
	exists, err := ss.client.BucketExists(ctx, ss.bucketName)
	if err != nil {
		return fmt.Errorf("%w: %v", data.ErrStorageUnreachable, err)
	}

	if !exists {
		return data.ErrOpenFailed
	}

	return nil
}

// Close is part of the lifecycle behaviour and gets called when closing this storage.
func (ss *S3Storage) Close(ctx context.Context) error {
	return nil
}

// buildKey joins the configured prefix with the relative path.
func (ss *S3Storage) buildKey(path string) string {
	if ss.prefix == "" {
		return path
	}
	if path == "" {
		return ss.prefix
	}

	return ss.prefix + "/" + path
}

func (ss *S3Storage) Stat(ctx context.Context, path string) (*storage.FileInfo, error) {
	if path == "" {
		return ss.statPrefix(ctx, path)
	}

	objInfo, err := ss.client.StatObject(ctx, ss.bucketName, ss.buildKey(path), minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			// Not an object, may still be a virtual directory prefix
			return ss.statPrefix(ctx, path)
		}

		return nil, err
	}

	contentType := data.ContentType(objInfo.ContentType)
	if contentType == "" {
		contentType = data.ContentTypeForPath(path)
	}

	return &storage.FileInfo{
		Path:        path,
		Type:        data.TypeFile,
		Size:        objInfo.Size,
		MTime:       objInfo.LastModified,
		ContentType: contentType,
	}, nil
}

// statPrefix resolves a virtual directory by probing its key prefix.
func (ss *S3Storage) statPrefix(ctx context.Context, path string) (*storage.FileInfo, error) {
	prefix := ss.buildKey(path)
	if prefix != "" {
		prefix += "/"
	}

	var latest time.Time
	found := path == ""

	objects := ss.client.ListObjects(ctx, ss.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for objInfo := range objects {
		if objInfo.Err != nil {
			return nil, objInfo.Err
		}

		found = true
		if objInfo.LastModified.After(latest) {
			latest = objInfo.LastModified
		}
	}

	if !found {
		return nil, data.ErrNotExist
	}

	return &storage.FileInfo{
		Path:        path,
		Type:        data.TypeDirectory,
		MTime:       latest,
		ContentType: data.ContentTypeDirectory,
	}, nil
}

func (ss *S3Storage) FileMTime(ctx context.Context, path string) (time.Time, error) {
	info, err := ss.Stat(ctx, path)
	if err != nil {
		return time.Time{}, err
	}

	return info.MTime, nil
}

func (ss *S3Storage) ContentType(ctx context.Context, path string) (data.ContentType, error) {
	info, err := ss.Stat(ctx, path)
	if err != nil {
		return "", err
	}

	return info.ContentType, nil
}

func (ss *S3Storage) List(ctx context.Context, path string) ([]*storage.FileInfo, error) {
	prefix := ss.buildKey(path)
	if prefix != "" {
		prefix += "/"
	}

	var children []*storage.FileInfo

	objects := ss.client.ListObjects(ctx, ss.bucketName, minio.ListObjectsOptions{
		Prefix: prefix,
	})
	for objInfo := range objects {
		if objInfo.Err != nil {
			return nil, objInfo.Err
		}

		// Non-recursive listing returns direct objects plus common
		// prefixes; prefixes carry a trailing slash.
		isPrefix := strings.HasSuffix(objInfo.Key, "/")
		key := strings.TrimSuffix(strings.TrimPrefix(objInfo.Key, prefix), "/")
		if key == "" || strings.Contains(key, "/") {
			continue
		}

		childPath := data.JoinPath(path, key)
		if isPrefix {
			info, err := ss.statPrefix(ctx, childPath)
			if err != nil {
				return nil, err
			}
			children = append(children, info)
			continue
		}

		contentType := data.ContentType(objInfo.ContentType)
		if contentType == "" {
			contentType = data.ContentTypeForPath(childPath)
		}

		children = append(children, &storage.FileInfo{
			Path:        childPath,
			Type:        data.TypeFile,
			Size:        objInfo.Size,
			MTime:       objInfo.LastModified,
			ContentType: contentType,
		})
	}

	return children, nil
}
