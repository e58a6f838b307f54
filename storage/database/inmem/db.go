package inmemdb

import (
	"sync"

	"github.com/trezcool/masomo-focus/core/monitor"
)

type (
	DB struct {
		session *sessionTable
	}

	sessionTable struct {
		sync.RWMutex
		table      map[string]*monitor.Record
		violations map[string][]monitor.Violation
	}
)

func Open() *DB {
	return &DB{
		session: &sessionTable{
			table:      make(map[string]*monitor.Record),
			violations: make(map[string][]monitor.Violation),
		},
	}
}
