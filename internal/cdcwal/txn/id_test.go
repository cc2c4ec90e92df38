package txn_test

import (
	"errors"
	"math"
	"sync"
	"testing"

	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/cdcwal/internal/cdcwal/txn"
)

func TestNewCounterAllocatorRejectsZero(t *testing.T) {
	a, err := txn.NewCounterAllocator(0)
	tst.AssertTrue(t, errors.Is(err, txn.ErrInvalidTxnID), "expected ErrInvalidTxnID")
	tst.AssertTrue(t, a == nil, "expected nil allocator")
}

func TestCounterAllocatorSequence(t *testing.T) {
	a, err := txn.NewCounterAllocator(5)
	tst.RequireNoError(t, err)

	tst.RequireDeepEqual(t, a.Peek(), uint64(5))
	for want := uint64(5); want < 8; want++ {
		got, err := a.Next()
		tst.RequireNoError(t, err)
		tst.RequireDeepEqual(t, got, want)
	}
	tst.RequireDeepEqual(t, a.Peek(), uint64(8))
}

func TestCounterAllocatorSetNext(t *testing.T) {
	a, err := txn.NewCounterAllocator(10)
	tst.RequireNoError(t, err)

	tst.RequireNoError(t, a.SetNext(10))
	tst.RequireNoError(t, a.SetNext(20))
	tst.RequireDeepEqual(t, a.Peek(), uint64(20))

	err = a.SetNext(19)
	tst.AssertTrue(t, errors.Is(err, txn.ErrTxnIDRegression), "expected regression error")
	var ie *txn.TxnIDError
	tst.AssertTrue(t, errors.As(err, &ie), "expected TxnIDError")
	tst.RequireDeepEqual(t, ie.Want, uint64(20))

	tst.AssertTrue(t, errors.Is(a.SetNext(0), txn.ErrInvalidTxnID), "expected invalid id")
}

func TestCounterAllocatorOverflow(t *testing.T) {
	a, err := txn.NewCounterAllocator(math.MaxUint64 - 1)
	tst.RequireNoError(t, err)

	id, err := a.Next()
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, id, uint64(math.MaxUint64-1))

	_, err = a.Next()
	tst.AssertTrue(t, errors.Is(err, txn.ErrTxnIDOverflow), "expected overflow")
}

func TestCounterAllocatorConcurrentUnique(t *testing.T) {
	a, err := txn.NewCounterAllocator(1)
	tst.RequireNoError(t, err)

	const workers, perWorker = 10, 100
	var (
		mu   sync.Mutex
		seen = make(map[uint64]bool, workers*perWorker)
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				id, err := a.Next()
				if err != nil {
					t.Errorf("next: %v", err)
					return
				}
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	tst.RequireDeepEqual(t, len(seen), workers*perWorker)
	tst.RequireDeepEqual(t, a.Peek(), uint64(workers*perWorker+1))
}
