package util

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueuePushDrainFIFO(t *testing.T) {
	q := NewQueue[int]()
	q.Push(1)
	q.Push(2)
	q.Push(3)
	assert.Equal(t, 3, q.Len())

	items := q.Drain()
	assert.Equal(t, []int{1, 2, 3}, items)
	assert.Equal(t, 0, q.Len())
}

func TestQueueDrainEmptyReturnsNil(t *testing.T) {
	q := NewQueue[func()]()
	assert.Nil(t, q.Drain())
}

func TestQueueConcurrentPush(t *testing.T) {
	q := NewQueue[int]()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			q.Push(v)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 100, q.Len())
	assert.Len(t, q.Drain(), 100)
}
