package server

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"

	"ephemeral-drop/internal/sessions"
)

// Mirror copies session files to object storage under <id>/<name>. It is
// best-effort: the local store stays authoritative and every failure is
// returned for logging only.
type Mirror struct {
	client  *minio.Client
	bucket  string
	breaker *CircuitBreaker
}

// NewMirror wraps client; calls go through breaker.
func NewMirror(client *minio.Client, bucket string, breaker *CircuitBreaker) *Mirror {
	return &Mirror{client: client, bucket: bucket, breaker: breaker}
}

// Bucket returns the mirror bucket name.
func (m *Mirror) Bucket() string {
	return m.bucket
}

func objectKey(id, name string) string {
	return path.Join(id, name)
}

// PutSession uploads every listed file of session id.
func (m *Mirror) PutSession(ctx context.Context, store *sessions.Store, id string, files []sessions.FileInfo) error {
	var errs []error
	for _, fi := range files {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		err := m.breaker.Execute(func() error {
			return m.putFile(ctx, store, id, fi.Name)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", fi.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Mirror) putFile(ctx context.Context, store *sessions.Store, id, name string) error {
	f, info, err := store.OpenFile(id, name)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = m.client.PutObject(ctx, m.bucket, objectKey(id, name), f, info.Size(),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	return err
}

// RemoveSession deletes every object under the session prefix.
func (m *Mirror) RemoveSession(ctx context.Context, id string) error {
	return m.breaker.Execute(func() error {
		listed := m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
			Prefix:    id + "/",
			Recursive: true,
		})

		listErr := make(chan error, 1)
		toRemove := make(chan minio.ObjectInfo)
		go func() {
			defer close(toRemove)
			var lerr error
			defer func() { listErr <- lerr }()
			for obj := range listed {
				if obj.Err != nil {
					lerr = obj.Err
					continue
				}
				select {
				case toRemove <- obj:
				case <-ctx.Done():
					lerr = ctx.Err()
					return
				}
			}
		}()

		var errs []error
		for rerr := range m.client.RemoveObjects(ctx, m.bucket, toRemove, minio.RemoveObjectsOptions{}) {
			errs = append(errs, fmt.Errorf("%s: %w", rerr.ObjectName, rerr.Err))
		}
		if err := <-listErr; err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
}

// SessionIDs lists the session prefixes present in the bucket.
func (m *Mirror) SessionIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ids []string
	err := m.breaker.Execute(func() error {
		for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{}) {
			if obj.Err != nil {
				return obj.Err
			}
			if id, ok := strings.CutSuffix(obj.Key, "/"); ok && id != "" {
				ids = append(ids, id)
			}
		}
		return nil
	})
	return ids, err
}

// Ping reports whether the bucket is reachable.
func (m *Mirror) Ping(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket does not exist: %s", m.bucket)
	}
	return nil
}
