package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortChain(t *testing.T) {
	order, err := Sort(
		[]string{"deploy", "verify", "publish-proxy-image", "publish-backend-image"},
		map[string][]string{
			"deploy":                {"publish-proxy-image"},
			"publish-proxy-image":   {"publish-backend-image"},
			"publish-backend-image": {"verify"},
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"verify", "publish-backend-image", "publish-proxy-image", "deploy"}, order)
}

func TestSortTieBreaksByDeclaration(t *testing.T) {
	order, err := Sort([]string{"c", "a", "b"}, map[string][]string{"b": {"c"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, order)
}

func TestSortErrors(t *testing.T) {
	_, err := Sort([]string{"a", "b"}, map[string][]string{"a": {"b"}, "b": {"a"}})
	assert.ErrorIs(t, err, ErrCycle)

	_, err = Sort([]string{"a"}, map[string][]string{"a": {"a"}})
	assert.ErrorIs(t, err, ErrCycle)

	_, err = Sort([]string{"a"}, map[string][]string{"a": {"z"}})
	assert.ErrorIs(t, err, ErrUnknownDependency)

	_, err = Sort([]string{"a", "a"}, nil)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestDependsOn(t *testing.T) {
	deps := map[string][]string{"proxy": {"node"}, "node": {"db"}}
	assert.True(t, DependsOn(deps, "proxy", "db"))
	assert.True(t, DependsOn(deps, "proxy", "node"))
	assert.False(t, DependsOn(deps, "db", "proxy"))
	assert.False(t, DependsOn(deps, "node", "node"))
}
