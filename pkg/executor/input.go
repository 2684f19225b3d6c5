package executor

// Item is the payload of one job: the executor only needs a stable key to
// file failures under.
type Item interface {
	ErrorKey() string
}

// WorkerInput is one unit of transfer work. Index is the item's position in
// the merged entry stream and doubles as the manifest cache key; Size is
// duplicated out of the entry for progress weighting.
type WorkerInput struct {
	Index int
	Entry Item
	Size  int64
}

func (in *WorkerInput) ErrorKey() string {
	if in.Entry == nil {
		return ""
	}
	return in.Entry.ErrorKey()
}

// WorkerOutput aggregates what a worker (or the whole job) accomplished.
// Outputs combine associatively via Add so per-worker partials fold into one
// summary in any order.
type WorkerOutput struct {
	Retries          int
	Size             int64
	SizeTransferred  int64
	Count            int64
	CountTransferred int64
}

// Add folds other into o.
func (o *WorkerOutput) Add(other *WorkerOutput) {
	if other == nil {
		return
	}
	o.Retries += other.Retries
	o.Size += other.Size
	o.SizeTransferred += other.SizeTransferred
	o.Count += other.Count
	o.CountTransferred += other.CountTransferred
}

// InputIterator is the lazy job stream consumed by RunJob. It is pulled by
// a single coordinator goroutine, so implementations need not be
// thread-safe.
type InputIterator interface {
	Next() bool
	Err() error
	Get() *WorkerInput
}
