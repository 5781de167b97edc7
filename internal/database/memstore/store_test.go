package memstore_test

import (
	"testing"

	"attendance/internal/database/memstore"
	"attendance/internal/database/storetest"
	"attendance/pkg/interfaces"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) interfaces.Store {
		return memstore.New()
	})
}
