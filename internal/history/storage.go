package history

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Storage is the random-access byte store a tile file is built on. It
// is deliberately narrow: a tile file only ever appends, seeks, and
// rewrites its header at offset 0.
type Storage interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	// Append writes p at the current end of the store and returns the
	// offset it was written at.
	Append(p []byte) (offset int64, err error)
	Size() (int64, error)
	Close() error
}

// LocalStorage is a Storage backed by a single local file, opened for
// both reading and writing.
type LocalStorage struct {
	f *os.File
}

// OpenLocalStorage opens (creating if needed) path as a LocalStorage.
func OpenLocalStorage(path string) (*LocalStorage, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &LocalStorage{f: f}, nil
}

func (s *LocalStorage) ReadAt(p []byte, off int64) (int, error)  { return s.f.ReadAt(p, off) }
func (s *LocalStorage) WriteAt(p []byte, off int64) (int, error) { return s.f.WriteAt(p, off) }

func (s *LocalStorage) Append(p []byte) (int64, error) {
	off, err := s.f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := s.f.Write(p); err != nil {
		return 0, err
	}
	return off, nil
}

func (s *LocalStorage) Size() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *LocalStorage) Close() error { return s.f.Close() }

// S3Object is the minimal surface LocalStorage's S3 counterpart needs
// from an S3 client; satisfied by *s3store.Client from pkg/s3store,
// which wraps an aws-sdk-go-v2 *s3.Client.
type S3Object interface {
	GetObjectRange(ctx context.Context, bucket, key string, start, end int64) ([]byte, error)
	PutObject(ctx context.Context, bucket, key string, body []byte) error
	HeadObjectSize(ctx context.Context, bucket, key string) (int64, error)
}

// S3Storage is a Storage over a single S3 object. S3 has no in-place
// write API, so writes accumulate in a local spill file and the object
// is only materialised on Close; reads before the first Close fall
// back to that spill file, and reads after open (of a pre-existing
// object) use ranged GETs so the whole object is never pulled down
// just to serve one tile.
type S3Storage struct {
	client     S3Object
	bucket     string
	key        string
	spill      *os.File
	haveRemote bool
}

// OpenS3Storage opens, or prepares to create, the object at
// bucket/key. existing should be true when the object is already
// present (open_existing), false when starting a fresh build.
func OpenS3Storage(client S3Object, bucket, key string, existing bool) (*S3Storage, error) {
	spill, err := os.CreateTemp("", "tilefile-*.spill")
	if err != nil {
		return nil, err
	}
	return &S3Storage{client: client, bucket: bucket, key: key, spill: spill, haveRemote: existing}, nil
}

func (s *S3Storage) ReadAt(p []byte, off int64) (int, error) {
	if n, err := s.spill.ReadAt(p, off); err == nil || n == len(p) {
		return n, err
	}
	if !s.haveRemote {
		return 0, fmt.Errorf("%w: short read and no remote object to fall back to", ErrCorrupt)
	}
	buf, err := s.client.GetObjectRange(context.Background(), s.bucket, s.key, off, off+int64(len(p))-1)
	if err != nil {
		return 0, err
	}
	n := copy(p, buf)
	return n, nil
}

func (s *S3Storage) WriteAt(p []byte, off int64) (int, error) { return s.spill.WriteAt(p, off) }

func (s *S3Storage) Append(p []byte) (int64, error) {
	off, err := s.spill.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := s.spill.Write(p); err != nil {
		return 0, err
	}
	return off, nil
}

func (s *S3Storage) Size() (int64, error) {
	info, err := s.spill.Stat()
	if err != nil {
		return 0, err
	}
	if info.Size() > 0 {
		return info.Size(), nil
	}
	if s.haveRemote {
		return s.client.HeadObjectSize(context.Background(), s.bucket, s.key)
	}
	return 0, nil
}

// Close uploads the spill file's full contents as the object and
// removes the local spill.
func (s *S3Storage) Close() error {
	defer os.Remove(s.spill.Name())
	defer s.spill.Close()

	if _, err := s.spill.Seek(0, io.SeekStart); err != nil {
		return err
	}
	body, err := io.ReadAll(s.spill)
	if err != nil {
		return err
	}
	if len(body) == 0 && s.haveRemote {
		return nil
	}
	return s.client.PutObject(context.Background(), s.bucket, s.key, body)
}
