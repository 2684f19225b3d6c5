package dataset

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/zhengshuai-xiao/DSync/pkg/executor"
)

// OperationSummary is the immutable outcome record every operation returns,
// even on partial failure.
type OperationSummary struct {
	StartTime time.Time
	EndTime   time.Time
	Retries   int
	Failures  []string
}

// ElapsedTime uses the current time while the operation is still running.
func (s *OperationSummary) ElapsedTime() time.Duration {
	end := s.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartTime)
}

// TransferSummary extends OperationSummary with byte/object counters folded
// from the executor's final job context.
type TransferSummary struct {
	OperationSummary
	Size             int64
	SizeTransferred  int64
	Count            int64
	CountTransferred int64
}

func newTransferSummary(jc *executor.JobContext) *TransferSummary {
	s := &TransferSummary{
		OperationSummary: OperationSummary{
			StartTime: jc.StartTime,
			EndTime:   jc.EndTime,
		},
	}
	if jc.Output != nil {
		s.Retries = jc.Output.Retries
		s.Size = jc.Output.Size
		s.SizeTransferred = jc.Output.SizeTransferred
		s.Count = jc.Output.Count
		s.CountTransferred = jc.Output.CountTransferred
	}
	for _, err := range jc.Errors {
		s.Failures = append(s.Failures, err.Error())
	}
	return s
}

// Log writes the one-line operation report.
func (s *TransferSummary) Log(op string) {
	logger.Infof("%s done: %d/%d objects, %s/%s transferred, %d retries, %d failures, elapsed %v",
		op,
		s.CountTransferred, s.Count,
		humanize.IBytes(uint64(s.SizeTransferred)), humanize.IBytes(uint64(s.Size)),
		s.Retries, len(s.Failures), s.ElapsedTime().Round(time.Millisecond))
	for _, f := range s.Failures {
		logger.Warnf("%s failure: %s", op, f)
	}
}
