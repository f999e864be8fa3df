package all

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCatalog(t *testing.T) {
	c := NewCatalog()

	for _, ref := range []string{"core.constant", "core.fail", "state.set", "strings.upper", "json.query", "json.set", "js.run"} {
		assert.True(t, c.Has(ref), ref)
	}
	assert.Contains(t, c.ByCategory("strings"), "strings.title")
}
