package memory

import (
	"testing"

	"github.com/Zerofisher/pcapcatalog/pkg/store"
	"github.com/Zerofisher/pcapcatalog/pkg/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}
