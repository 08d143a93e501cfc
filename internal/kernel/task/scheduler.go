package task

import "github.com/tinyrange/rvos/internal/kernel/excl"

// readyQueue is the process-wide ready FIFO, guarded the same way every
// other kernel singleton is (spec §4.8, §9 "Global mutable singletons").
var readyQueue = excl.New(([]*TaskControlBlock)(nil))

// AddTask pushes task onto the tail of the ready queue.
func AddTask(t *TaskControlBlock) {
	q, release := readyQueue.Exclusive()
	defer release()
	*q = append(*q, t)
}

// FetchTask pops the task at the head of the ready queue, or nil if
// empty — strict FIFO order (spec §4.8, §5 "Ordering").
func FetchTask() *TaskControlBlock {
	q, release := readyQueue.Exclusive()
	defer release()
	if len(*q) == 0 {
		return nil
	}
	t := (*q)[0]
	*q = (*q)[1:]
	return t
}

// ResetReadyQueueForTest empties the ready queue; test isolation only.
func ResetReadyQueueForTest() {
	q, release := readyQueue.Exclusive()
	defer release()
	*q = nil
}
