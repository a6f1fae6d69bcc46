package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/litp/platform/pkg/domain"
	"github.com/litp/platform/pkg/errs"
)

// Memory is an in-process Store used by tests and local development.
// It implements the full capability contract including multipart
// writes (buffered in memory) and presigning (a synthetic, locally
// verifiable URL — no external service involved).
type Memory struct {
	container string
	mu        sync.RWMutex
	objects   map[string]*memObject
	seq       int64
	inflight  map[string]bool
}

type memObject struct {
	body         []byte
	contentType  string
	metadata     map[string]string
	eTag         string
	lastModified time.Time
}

// NewMemory creates an empty in-memory object store scoped to container.
func NewMemory(container string) *Memory {
	return &Memory{
		container: container,
		objects:   make(map[string]*memObject),
		inflight:  make(map[string]bool),
	}
}

func (m *Memory) nextETag() string {
	m.seq++
	return fmt.Sprintf("etag-%d", m.seq)
}

func (m *Memory) List(_ context.Context, prefix string) ([]domain.ObjectRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.ObjectRef
	for key, obj := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, m.refLocked(key, obj))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) refLocked(key string, obj *memObject) domain.ObjectRef {
	return domain.ObjectRef{
		Container:    m.container,
		Key:          key,
		Size:         int64(len(obj.body)),
		ETag:         obj.eTag,
		LastModified: obj.lastModified,
	}
}

func (m *Memory) ListPage(ctx context.Context, prefix string, size int, token string) ([]domain.ObjectRef, string, error) {
	if size <= 0 || size > 1000 {
		return nil, "", errs.New(errs.InputInvalid, "page size must be between 1 and 1000")
	}
	all, err := m.List(ctx, prefix)
	if err != nil {
		return nil, "", err
	}

	start := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil {
			return nil, "", errs.New(errs.InputInvalid, "invalid page token")
		}
		start = n
	}
	if start > len(all) {
		start = len(all)
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}

	page := all[start:end]
	next := ""
	if end < len(all) {
		next = strconv.Itoa(end)
	}
	return page, next, nil
}

func (m *Memory) GetMetadata(_ context.Context, key string) (ObjectMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return ObjectMetadata{}, errs.Newf(errs.NotFound, "object %q not found", key)
	}
	return ObjectMetadata{
		Size:         int64(len(obj.body)),
		ContentType:  obj.contentType,
		ETag:         obj.eTag,
		LastModified: obj.lastModified,
		UserMetadata: copyMap(obj.metadata),
	}, nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *Memory) OpenRead(_ context.Context, key string) (ReadStream, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.Newf(errs.NotFound, "object %q not found", key)
	}
	return &memReadStream{r: bytes.NewReader(obj.body)}, nil
}

type memReadStream struct{ r *bytes.Reader }

func (s *memReadStream) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s *memReadStream) Close() error               { return nil }

func (m *Memory) OpenWrite(_ context.Context, key, contentType string, metadata map[string]string, _ int64) (WriteStream, error) {
	m.mu.Lock()
	if m.inflight[key] {
		// last-writer-wins per §4.1: allow it, but note it in the
		// stream so the previous writer's Close still lands its bytes
		// (undefined ordering policy, as specified).
	}
	m.inflight[key] = true
	m.mu.Unlock()

	return &memWriteStream{
		store:       m,
		key:         key,
		contentType: contentType,
		metadata:    metadata,
		buf:         &bytes.Buffer{},
	}, nil
}

type memWriteStream struct {
	store       *Memory
	key         string
	contentType string
	metadata    map[string]string
	buf         *bytes.Buffer
	closed      bool
}

func (w *memWriteStream) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *memWriteStream) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	delete(w.store.inflight, w.key)
	w.store.objects[w.key] = &memObject{
		body:         append([]byte(nil), w.buf.Bytes()...),
		contentType:  w.contentType,
		metadata:     copyMap(w.metadata),
		eTag:         w.store.nextETag(),
		lastModified: time.Now().UTC(),
	}
	return nil
}

func (w *memWriteStream) Abort(_ context.Context) error {
	w.closed = true
	w.store.mu.Lock()
	delete(w.store.inflight, w.key)
	w.store.mu.Unlock()
	return nil
}

func (m *Memory) Upload(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) error {
	w, err := m.OpenWrite(ctx, key, contentType, metadata, 0)
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Abort(ctx)
		return err
	}
	return w.Close()
}

func (m *Memory) SetMetadata(_ context.Context, key string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return errs.Newf(errs.NotFound, "object %q not found", key)
	}
	obj.metadata = copyMap(metadata)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) ClearDown(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := make([]string, 0, len(m.objects))
	for key := range m.objects {
		deleted = append(deleted, key)
	}
	sort.Strings(deleted)
	m.objects = make(map[string]*memObject)
	return deleted, nil
}

func (m *Memory) Presign(key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	expires := time.Now().UTC().Add(ttl).Unix()
	return fmt.Sprintf("memory://%s/%s?expires=%d", m.container, key, expires), nil
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ Store = (*Memory)(nil)
