package inmemdb

import (
	"testing"

	"github.com/trezcool/masomo-focus/tests"
)

func TestSessionRepository(t *testing.T) {
	testutil.TestRepository(t, NewSessionRepository(Open()))
}
