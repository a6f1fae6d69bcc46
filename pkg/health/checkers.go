package health

import (
	"context"
	"fmt"
	"time"

	"github.com/litp/platform/pkg/docstore"
	"github.com/litp/platform/pkg/domain"
	"github.com/litp/platform/pkg/objectstore"
)

// DocStoreChecker reports whether a DocumentStore answers a cheap,
// read-only query. Grounded on the teacher's TCPChecker shape (dial,
// time it, convert an error into an unhealthy Result) applied to a
// Count call instead of a socket connect.
type DocStoreChecker struct {
	name       string
	store      docstore.Store
	collection string
}

// NewDocStoreChecker builds a checker that counts documents in
// collection — any fixed, always-present collection works; the count
// itself is discarded.
func NewDocStoreChecker(name string, store docstore.Store, collection string) *DocStoreChecker {
	return &DocStoreChecker{name: name, store: store, collection: collection}
}

func (c *DocStoreChecker) Name() string { return c.name }

func (c *DocStoreChecker) Check(ctx context.Context) Result {
	start := time.Now()
	_, err := c.store.Count(ctx, c.collection, docstore.Filter{})
	result := Result{CheckedAt: start, Duration: time.Since(start)}
	if err != nil {
		result.Message = fmt.Sprintf("document store unreachable: %v", err)
		return result
	}
	result.Healthy = true
	return result
}

// ObjectStoreChecker reports whether an ObjectStore answers a
// metadata-only listing call.
type ObjectStoreChecker struct {
	name   string
	reader objectstore.Reader
}

// NewObjectStoreChecker builds a checker that lists the store's root
// prefix; the listing itself is discarded.
func NewObjectStoreChecker(name string, reader objectstore.Reader) *ObjectStoreChecker {
	return &ObjectStoreChecker{name: name, reader: reader}
}

func (c *ObjectStoreChecker) Name() string { return c.name }

func (c *ObjectStoreChecker) Check(ctx context.Context) Result {
	start := time.Now()
	_, err := c.reader.List(ctx, "")
	result := Result{CheckedAt: start, Duration: time.Since(start)}
	if err != nil {
		result.Message = fmt.Sprintf("object store unreachable: %v", err)
		return result
	}
	result.Healthy = true
	return result
}

// StaleOperationsChecker reports unhealthy if any operation document in
// collection has been Running for longer than Threshold — a stuck
// import or cleanse analysis that never reached a terminal status
// (e.g. a crashed process that held its lock past the lease, or a
// background goroutine that panicked before persisting Failed).
type StaleOperationsChecker struct {
	name       string
	store      docstore.Store
	collection string
	threshold  time.Duration
	now        func() time.Time
}

// NewStaleOperationsChecker builds a checker over an operations
// collection (cleanse_analysis_operations or import_reports), flagging
// any document with status Running/Started whose started_at is older
// than threshold.
func NewStaleOperationsChecker(name string, store docstore.Store, collection string, threshold time.Duration) *StaleOperationsChecker {
	return &StaleOperationsChecker{name: name, store: store, collection: collection, threshold: threshold, now: func() time.Time { return time.Now().UTC() }}
}

func (c *StaleOperationsChecker) Name() string { return c.name }

func (c *StaleOperationsChecker) Check(ctx context.Context) Result {
	start := time.Now()
	result := Result{CheckedAt: start}
	cutoff := c.now().Add(-c.threshold)

	for _, status := range []domain.RunStatus{domain.StatusStarted, domain.StatusRunning} {
		docs, err := c.store.Find(ctx, c.collection, docstore.Filter{"status": string(status)}, docstore.SortSpec{"started_at": 1}, 0, 1)
		result.Duration = time.Since(start)
		if err != nil {
			result.Message = fmt.Sprintf("operations collection unreachable: %v", err)
			return result
		}
		if len(docs) == 0 {
			continue
		}
		startedAt, _ := docs[0]["started_at"].(time.Time)
		if startedAt.Before(cutoff) {
			result.Message = fmt.Sprintf("operation %v has been %s since %s", docs[0]["_id"], status, startedAt)
			return result
		}
	}

	result.Healthy = true
	result.Duration = time.Since(start)
	return result
}
