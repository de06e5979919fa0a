// Package storage syncs the session list to an S3-compatible bucket
// (Cloudflare R2 or any S3 endpoint) as a single JSON object.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"

	"github.com/chatflow-app/chatflow/internal/store"
)

// sessionsObjectKey is the fixed object name holding the session list.
const sessionsObjectKey = "sessions.json"

// Credentials identifies one bucket.
type Credentials struct {
	Endpoint        string `json:"endpoint"`
	Bucket          string `json:"bucket"`
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
}

// Complete reports whether the credentials can construct a client.
func (c Credentials) Complete() bool {
	return strings.TrimSpace(c.Endpoint) != "" &&
		strings.TrimSpace(c.AccessKeyID) != "" &&
		strings.TrimSpace(c.SecretAccessKey) != ""
}

// sessionsDocument is the object's JSON layout.
type sessionsDocument struct {
	Sessions []store.Session `json:"sessions"`
}

// Client reads and writes the sessions object in one bucket.
type Client struct {
	mc     *minio.Client
	bucket string
}

// NewClient builds a client for the given credentials. The endpoint may
// carry an http(s) scheme; TLS is assumed unless the scheme says otherwise.
func NewClient(creds Credentials) (*Client, error) {
	if !creds.Complete() {
		return nil, fmt.Errorf("storage credentials are incomplete")
	}

	endpoint := creds.Endpoint
	secure := true
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse storage endpoint: %w", err)
		}
		secure = parsed.Scheme != "http"
		endpoint = parsed.Host
	}

	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(creds.AccessKeyID, creds.SecretAccessKey, ""),
		Secure: secure,
		Region: "auto",
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Client{mc: mc, bucket: creds.Bucket}, nil
}

// LoadSessions fetches the sessions object. A missing object yields an
// empty list, not an error, so first-time sync works transparently.
func (c *Client) LoadSessions(ctx context.Context) ([]store.Session, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, sessionsObjectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get sessions object: %w", err)
	}
	defer func() {
		if errClose := obj.Close(); errClose != nil {
			log.Errorf("failed to close sessions object: %v", errClose)
		}
	}()

	data, errRead := io.ReadAll(obj)
	if errRead != nil {
		resp := minio.ToErrorResponse(errRead)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return []store.Session{}, nil
		}
		return nil, fmt.Errorf("read sessions object: %w", errRead)
	}

	var doc sessionsDocument
	if errUnmarshal := json.Unmarshal(data, &doc); errUnmarshal != nil {
		return nil, fmt.Errorf("parse sessions object: %w", errUnmarshal)
	}
	if doc.Sessions == nil {
		doc.Sessions = []store.Session{}
	}
	return doc.Sessions, nil
}

// SaveSessions overwrites the sessions object with the given list.
func (c *Client) SaveSessions(ctx context.Context, sessions []store.Session) error {
	data, err := json.Marshal(sessionsDocument{Sessions: sessions})
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}
	_, err = c.mc.PutObject(ctx, c.bucket, sessionsObjectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put sessions object: %w", err)
	}
	return nil
}
