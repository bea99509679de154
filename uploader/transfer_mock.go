package uploader

import (
	"context"
	"errors"
	"sync"
)

/**
Catalog that answers from maps. Storage elements not listed in Writable are treated as writable
*/
type CatalogMock struct {
	Replicas       map[string][]string
	Writable       map[string]bool
	WritableChecks []string
	mutex          sync.Mutex
}

func NewCatalogMock() *CatalogMock {
	return &CatalogMock{
		Replicas: make(map[string][]string),
		Writable: make(map[string]bool),
	}
}

func (c *CatalogMock) ListReplicas(lfn string) ([]string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]string{}, c.Replicas[lfn]...), nil
}

func (c *CatalogMock) CheckWritable(se string) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.WritableChecks = append(c.WritableChecks, se)
	writable, known := c.Writable[se]
	if !known {
		return true, nil
	}
	return writable, nil
}

func (c *CatalogMock) addReplica(lfn string, se string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for _, existing := range c.Replicas[lfn] {
		if existing == se {
			return
		}
	}
	c.Replicas[lfn] = append(c.Replicas[lfn], se)
}

func (c *CatalogMock) removeReplica(lfn string, se string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	updated := make([]string, 0)
	for _, existing := range c.Replicas[lfn] {
		if existing != se {
			updated = append(updated, existing)
		}
	}
	c.Replicas[lfn] = updated
}

type TransferCall struct {
	Operation string
	LFN       string
	SE        string
}

/**
Transfer that records every call. Storage elements in PutErrors/ReplicateErrors fail with that error, those in
FailureReasons "succeed" with that failure reason set. Successful calls are registered in Catalog if it is set
*/
type TransferMock struct {
	Catalog         *CatalogMock
	PutErrors       map[string]error
	FailureReasons  map[string]string
	ReplicateErrors map[string]error
	Calls           []TransferCall
	mutex           sync.Mutex
}

func NewTransferMock(catalog *CatalogMock) *TransferMock {
	return &TransferMock{
		Catalog:         catalog,
		PutErrors:       make(map[string]error),
		FailureReasons:  make(map[string]string),
		ReplicateErrors: make(map[string]error),
	}
}

func (t *TransferMock) record(op string, lfn string, se string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.Calls = append(t.Calls, TransferCall{Operation: op, LFN: lfn, SE: se})
}

func (t *TransferMock) CallsFor(op string) []TransferCall {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	rtn := make([]TransferCall, 0)
	for _, c := range t.Calls {
		if c.Operation == op {
			rtn = append(rtn, c)
		}
	}
	return rtn
}

func (t *TransferMock) Put(ctx context.Context, localPath string, lfn string, se string, force bool) (*PutResult, error) {
	t.record("put", lfn, se)
	if err, haveErr := t.PutErrors[se]; haveErr {
		return nil, err
	}
	if reason, haveReason := t.FailureReasons[se]; haveReason {
		return &PutResult{FailureReason: reason}, nil
	}
	if !force {
		return nil, errors.New("mock transfer only supports forced puts")
	}
	if t.Catalog != nil {
		t.Catalog.addReplica(lfn, se)
	}
	return &PutResult{Locations: []string{se}}, nil
}

func (t *TransferMock) Replicate(ctx context.Context, lfn string, se string) error {
	t.record("replicate", lfn, se)
	if err, haveErr := t.ReplicateErrors[se]; haveErr {
		return err
	}
	if t.Catalog != nil {
		t.Catalog.addReplica(lfn, se)
	}
	return nil
}

func (t *TransferMock) RemoveReplica(lfn string, se string) error {
	t.record("remove", lfn, se)
	if t.Catalog != nil {
		t.Catalog.removeReplica(lfn, se)
	}
	return nil
}
