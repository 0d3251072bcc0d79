package avatar

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
)

var (
	pngHeader  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	jpegHeader = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")
	webpHeader = []byte("RIFF\x24\x00\x00\x00WEBPVP8 ")
)

type recordingPutter struct {
	bucket, key string
	opts        minio.PutObjectOptions
	body        []byte
	err         error
}

func (r *recordingPutter) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if r.err != nil {
		return minio.UploadInfo{}, r.err
	}
	r.bucket, r.key, r.opts = bucketName, objectName, opts
	r.body, _ = io.ReadAll(reader)
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: objectSize}, nil
}

func TestDetect(t *testing.T) {
	cases := []struct {
		name    string
		data    []byte
		want    string
		wantErr error
	}{
		{name: "png", data: pngHeader, want: "image/png"},
		{name: "jpeg", data: jpegHeader, want: "image/jpeg"},
		{name: "webp", data: webpHeader, want: "image/webp"},
		{name: "gif rejected", data: []byte("GIF89a......"), wantErr: ErrUnsupportedType},
		{name: "text rejected", data: []byte("hello"), wantErr: ErrUnsupportedType},
		{name: "empty", data: nil, wantErr: ErrEmpty},
		{name: "too large", data: append(append([]byte{}, pngHeader...), make([]byte, MaxBytes)...), wantErr: ErrTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Detect(tc.data)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("content type = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestUploadBuildsKeyAndURL(t *testing.T) {
	putter := &recordingPutter{}
	s := newStore(putter, Config{Endpoint: "minio:9000", Bucket: "avatars-bucket"})

	url, err := s.Upload(context.Background(), "user-1", pngHeader)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if putter.bucket != "avatars-bucket" {
		t.Errorf("bucket = %q", putter.bucket)
	}
	if !strings.HasPrefix(putter.key, "avatars/user-1/") || !strings.HasSuffix(putter.key, ".png") {
		t.Errorf("key = %q", putter.key)
	}
	if putter.opts.ContentType != "image/png" {
		t.Errorf("content type = %q", putter.opts.ContentType)
	}
	if !bytes.Equal(putter.body, pngHeader) {
		t.Error("uploaded body differs from input")
	}
	if url != "http://minio:9000/avatars-bucket/"+putter.key {
		t.Errorf("url = %q", url)
	}
}

func TestUploadUsesPublicURL(t *testing.T) {
	putter := &recordingPutter{}
	s := newStore(putter, Config{Endpoint: "minio:9000", Bucket: "b", UseSSL: true, PublicURL: "https://cdn.example.com/"})

	url, err := s.Upload(context.Background(), "user-1", webpHeader)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if url != "https://cdn.example.com/"+putter.key {
		t.Errorf("url = %q", url)
	}
}

func TestUploadWrapsStorageErrors(t *testing.T) {
	storageErr := errors.New("bucket is read-only")
	s := newStore(&recordingPutter{err: storageErr}, Config{Endpoint: "minio:9000", Bucket: "b"})

	if _, err := s.Upload(context.Background(), "user-1", jpegHeader); !errors.Is(err, storageErr) {
		t.Fatalf("err = %v, want wrapped storage error", err)
	}
}
