package milvus

import (
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassageIndex(t *testing.T) {
	idx, err := passageIndex()
	require.NoError(t, err)

	assert.Equal(t, entity.IvfFlat, idx.IndexType())
	assert.Contains(t, idx.Params()["params"], "1024")
	assert.Equal(t, string(entity.IP), idx.Params()["metric_type"])
}

func TestPassageSearchParam(t *testing.T) {
	sp, err := passageSearchParam()
	require.NoError(t, err)

	assert.Equal(t, 16, sp.Params()["nprobe"])
}
