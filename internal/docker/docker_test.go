package docker

import (
	"io"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseURL(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"unix:///var/run/docker.sock": "unix:///var/run/docker.sock",
		"robot.local":                 "tcp://robot.local:2375",
		"robot.local:2376":            "tcp://robot.local:2376",
		"tcp://10.0.0.5":              "tcp://10.0.0.5:2375",
	}
	for in, want := range cases {
		assert.Equal(t, want, BaseURL(in, "2375"), in)
	}
}

func TestStatsDecoderStream(t *testing.T) {
	t.Parallel()
	body := `{"cpu_stats":{"cpu_usage":{"total_usage":200,"percpu_usage":[1,2]},"system_cpu_usage":1000},
	"memory_stats":{"usage":300,"limit":1000,"stats":{"cache":100}},
	"blkio_stats":{"io_service_bytes_recursive":[{"op":"Read","value":5},{"op":"Write","value":7},{"op":"read","value":1}]}}
	{"cpu_stats":{"online_cpus":4}}`
	s := NewStatsDecoder(io.NopCloser(strings.NewReader(body)))
	defer s.Close()

	first, err := s.Next()
	require.NoError(t, err)
	assert.EqualValues(t, 200, first.CPUStats.CPUUsage.TotalUsage)
	assert.EqualValues(t, 2, first.CPUStats.CPUs())
	assert.EqualValues(t, 200, first.MemoryStats.UsedBytes())
	r, w := first.BlkioStats.IOBytes()
	assert.EqualValues(t, 6, r)
	assert.EqualValues(t, 7, w)

	second, err := s.Next()
	require.NoError(t, err)
	assert.EqualValues(t, 4, second.CPUStats.CPUs())

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestUsedBytesSaturates(t *testing.T) {
	t.Parallel()
	m := MemoryStats{Usage: 10, Stats: map[string]uint64{"cache": 20}}
	assert.EqualValues(t, 0, m.UsedBytes())
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsNotFound(errors.New("boom")))
	assert.True(t, IsNotFound(errors.Wrap(ErrNotFound, "container abc")))
	assert.True(t, IsNotFound(errors.Mark(errors.New("no such container"), ErrNotFound)))
}
