package connector

import (
	"sync/atomic"
	"time"

	"tapeflow/models"
)

type atomicState struct {
	v atomic.Int32
}

func (a *atomicState) store(s models.ConnectionState) { a.v.Store(int32(s)) }

func (a *atomicState) load() models.ConnectionState { return models.ConnectionState(a.v.Load()) }

type atomicTime struct {
	nanos atomic.Int64
}

func (a *atomicTime) store(t time.Time) { a.nanos.Store(t.UnixNano()) }

func (a *atomicTime) load() time.Time {
	n := a.nanos.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
