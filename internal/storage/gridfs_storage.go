package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"kostfinder/internal/config"
)

// ImageBucketName is the GridFS bucket images are kept in.
const ImageBucketName = "images"

// gridFSStorage keeps images inside MongoDB and serves them through the API.
type gridFSStorage struct {
	bucket  *gridfs.Bucket
	baseURL string
}

// NewGridFSStorage creates a GridFS-backed image store. URLs point at
// <baseURL>/v1/image/<id>.
func NewGridFSStorage(database *mongo.Database, baseURL string) (IImageStore, error) {
	bucket, err := gridfs.NewBucket(database, options.GridFSBucket().SetName(ImageBucketName))
	if err != nil {
		return nil, fmt.Errorf("failed to open GridFS bucket: %w", err)
	}
	return &gridFSStorage{bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *gridFSStorage) Provider() string { return config.ImageProviderGridFS }

func (s *gridFSStorage) publicURL(key string) string {
	return s.baseURL + "/v1/image/" + key
}

func contentTypeMetadata(contentType string) *options.UploadOptions {
	return options.GridFSUpload().SetMetadata(bson.D{{Key: "content_type", Value: contentType}})
}

// Upload streams r into a new GridFS file.
func (s *gridFSStorage) Upload(ctx context.Context, filename, contentType string, r io.Reader) (*UploadResult, error) {
	id := primitive.NewObjectID()
	stream, err := s.bucket.OpenUploadStreamWithID(id, SanitizeFilename(filename), contentTypeMetadata(contentType))
	if err != nil {
		return nil, fmt.Errorf("failed to open GridFS upload stream: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetWriteDeadline(deadline)
	}
	if _, err := io.Copy(stream, r); err != nil {
		_ = stream.Abort()
		return nil, fmt.Errorf("failed to write image to GridFS: %w", err)
	}
	if err := stream.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish GridFS upload: %w", err)
	}
	key := id.Hex()
	return &UploadResult{URL: s.publicURL(key), Key: key}, nil
}

// Open returns the stored bytes and the content type recorded at upload.
func (s *gridFSStorage) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	id, err := primitive.ObjectIDFromHex(key)
	if err != nil {
		return nil, "", ErrImageNotFound
	}
	stream, err := s.bucket.OpenDownloadStream(id)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, "", ErrImageNotFound
		}
		return nil, "", fmt.Errorf("failed to open GridFS file %s: %w", key, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetReadDeadline(deadline)
	}

	contentType := "application/octet-stream"
	if file := stream.GetFile(); file != nil && file.Metadata != nil {
		if ct, ok := file.Metadata.Lookup("content_type").StringValueOK(); ok {
			contentType = ct
		}
	}
	return stream, contentType, nil
}

// gridFile is a stored GridFS file held in memory.
type gridFile struct {
	name        string
	contentType string
	data        []byte
}

// fileSwapper is the bucket surface Replace needs.
type fileSwapper interface {
	read(ctx context.Context, id primitive.ObjectID) (*gridFile, error)
	remove(ctx context.Context, id primitive.ObjectID) error
	write(ctx context.Context, id primitive.ObjectID, f *gridFile) error
}

// Replace swaps the file content while keeping its id, so URLs stay valid.
func (s *gridFSStorage) Replace(ctx context.Context, key, contentType string, data []byte) error {
	id, err := primitive.ObjectIDFromHex(key)
	if err != nil {
		return ErrImageNotFound
	}
	return swapFile(ctx, s, id, contentType, data)
}

// swapFile rewrites the file under id. GridFS files are immutable, so the old
// file is removed first; if the new content cannot be written the original is
// written back and the write error is returned.
func swapFile(ctx context.Context, fs fileSwapper, id primitive.ObjectID, contentType string, data []byte) error {
	original, err := fs.read(ctx, id)
	if err != nil {
		return err
	}
	if err := fs.remove(ctx, id); err != nil {
		return err
	}
	writeErr := fs.write(ctx, id, &gridFile{name: original.name, contentType: contentType, data: data})
	if writeErr == nil {
		return nil
	}
	if err := fs.write(ctx, id, original); err != nil {
		return fmt.Errorf("failed to rewrite GridFS file %s (%v) and to restore it: %w", id.Hex(), writeErr, err)
	}
	return fmt.Errorf("failed to rewrite GridFS file %s: %w", id.Hex(), writeErr)
}

func (s *gridFSStorage) read(ctx context.Context, id primitive.ObjectID) (*gridFile, error) {
	rc, contentType, err := s.Open(ctx, id.Hex())
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	f := &gridFile{name: "image", contentType: contentType}
	if stream, ok := rc.(*gridfs.DownloadStream); ok {
		if file := stream.GetFile(); file != nil && file.Name != "" {
			f.name = file.Name
		}
	}
	if f.data, err = io.ReadAll(rc); err != nil {
		return nil, fmt.Errorf("failed to read GridFS file %s: %w", id.Hex(), err)
	}
	return f, nil
}

func (s *gridFSStorage) remove(ctx context.Context, id primitive.ObjectID) error {
	if err := s.bucket.DeleteContext(ctx, id); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return ErrImageNotFound
		}
		return fmt.Errorf("failed to delete GridFS file %s: %w", id.Hex(), err)
	}
	return nil
}

func (s *gridFSStorage) write(ctx context.Context, id primitive.ObjectID, f *gridFile) error {
	stream, err := s.bucket.OpenUploadStreamWithID(id, f.name, contentTypeMetadata(f.contentType))
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetWriteDeadline(deadline)
	}
	if _, err := stream.Write(f.data); err != nil {
		_ = stream.Abort()
		return err
	}
	return stream.Close()
}
