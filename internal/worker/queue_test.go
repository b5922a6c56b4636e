package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bandrt/bandrt/internal/bjob"
)

func TestFifoQueueOrderingAndFront(t *testing.T) {
	q := &fifoQueue{}
	a, b, c := bjob.New(0), bjob.New(0), bjob.New(0)

	q.push(a, false)
	q.push(b, false)
	assert.Equal(t, a, q.peek())

	q.push(c, true)
	assert.Equal(t, c, q.peek())
	assert.Equal(t, 3, q.len())
	assert.True(t, q.readyToEnqueue())

	assert.Equal(t, []*bjob.Job{c, a, b}, q.all())
	assert.Equal(t, c, q.pop())
	assert.Equal(t, a, q.pop())
	assert.Equal(t, 1, q.len())
}

func TestSingleSlotQueueRejectsSecondJob(t *testing.T) {
	q := &singleSlotQueue{}
	assert.True(t, q.readyToEnqueue())
	assert.Nil(t, q.peek())

	a := bjob.New(0)
	q.push(a, false)
	assert.False(t, q.readyToEnqueue())
	assert.Equal(t, 1, q.len())
	assert.Equal(t, []*bjob.Job{a}, q.all())

	assert.Equal(t, a, q.pop())
	assert.True(t, q.readyToEnqueue())
	assert.Equal(t, 0, q.len())
	assert.Nil(t, q.all())
}
