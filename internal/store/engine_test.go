package store_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/serhiybutz/docindexer/internal/store"
	"github.com/serhiybutz/docindexer/internal/store/storetest"
)

func TestSQLiteEngine(t *testing.T) {
	suite.Run(t, &storetest.Suite{Backend: store.BackendSQLite})
}

func TestBleveEngine(t *testing.T) {
	suite.Run(t, &storetest.Suite{Backend: store.BackendBleve})
}
