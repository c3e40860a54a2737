package logsink_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/CZERTAINLY/batchdl/internal/logsink"
	"github.com/stretchr/testify/require"
)

func lines(from, to int) []string {
	ret := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		ret = append(ret, fmt.Sprintf("line %d", i))
	}
	return ret
}

func TestSink(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		s := logsink.New(0)
		require.Equal(t, logsink.DefaultCap, s.Cap())
		require.Empty(t, s.Lines())
	})

	t.Run("keeps last 50 of 60", func(t *testing.T) {
		s := logsink.New(50)
		for _, line := range lines(0, 60) {
			s.Append(line)
		}
		require.Equal(t, 50, s.Len())
		require.Equal(t, lines(10, 60), s.Lines())
	})

	t.Run("batch append over capacity", func(t *testing.T) {
		s := logsink.New(5)
		s.Append(lines(0, 3)...)
		s.Append(lines(3, 12)...)
		require.Equal(t, lines(7, 12), s.Lines())
	})

	t.Run("under capacity", func(t *testing.T) {
		s := logsink.New(5)
		s.Append("a", "b")
		s.Append("c")
		require.Equal(t, []string{"a", "b", "c"}, s.Lines())
	})

	t.Run("reset", func(t *testing.T) {
		s := logsink.New(5)
		s.Append(lines(0, 4)...)
		s.Reset()
		require.Empty(t, s.Lines())
		s.Append("fresh")
		require.Equal(t, []string{"fresh"}, s.Lines())
	})

	t.Run("snapshot is stable", func(t *testing.T) {
		s := logsink.New(3)
		s.Append("a", "b", "c")
		snap := s.Lines()
		s.Append("d")
		require.Equal(t, []string{"a", "b", "c"}, snap)
		require.Equal(t, []string{"b", "c", "d"}, s.Lines())
	})
}

func TestSinkConcurrentReaders(t *testing.T) {
	t.Parallel()
	s := logsink.New(50)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Go(func() {
			for {
				select {
				case <-stop:
					return
				default:
				}
				got := s.Lines()
				require.LessOrEqual(t, len(got), 50)
				// lines are appended in order, so a snapshot is always a
				// contiguous ascending run
				for i := 1; i < len(got); i++ {
					var prev, cur int
					_, err := fmt.Sscanf(got[i-1], "line %d", &prev)
					require.NoError(t, err)
					_, err = fmt.Sscanf(got[i], "line %d", &cur)
					require.NoError(t, err)
					require.Equal(t, prev+1, cur)
				}
			}
		})
	}

	for _, line := range lines(0, 1000) {
		s.Append(line)
	}
	close(stop)
	wg.Wait()
	require.Equal(t, lines(950, 1000), s.Lines())
}
