package task

import (
	"weak"

	"github.com/tinyrange/rvos/internal/hw/riscv"
	"github.com/tinyrange/rvos/internal/kernel/excl"
	"github.com/tinyrange/rvos/internal/kernel/mm"
	"github.com/tinyrange/rvos/internal/kernel/trap"
)

// Status is one of {Ready, Running, Zombie} (spec §3 "Task status").
type Status int

const (
	StatusReady Status = iota
	StatusRunning
	StatusZombie
)

// tcbInner holds every field of a TaskControlBlock that changes after
// construction, guarded by a single exclusive-access cell (spec §3 "TCB"
// mutable fields).
//
// TrapContext's authoritative value lives here as a plain Go struct
// rather than as bytes inside the task's trap-context physical frame:
// nothing in this hosted model executes raw loads/stores against guest
// memory the way __alltraps/__restore do, so there is no reader of those
// bytes. The frame is still allocated and mapped (TrapContextPPN,
// installed by mm.FromELF) so every page-table invariant in spec §8
// continues to hold; trap.Gate reads and writes the struct directly in
// place of the trampoline's load/store sequence.
type tcbInner struct {
	MemorySet      *mm.MemorySet
	TrapContextPPN mm.PhysPageNum
	BaseSize       uint64
	TaskContext    trap.TaskContext
	Status         Status
	TrapContext    *trap.TrapContext
	Parent         weak.Pointer[TaskControlBlock]
	Children       []*TaskControlBlock
	ExitCode       int32
}

// TaskControlBlock is per-process kernel state: pid, kernel stack,
// address space, trap context, and the parent/child graph (spec §3 "TCB").
type TaskControlBlock struct {
	Pid         *PidHandle
	KernelStack *KernelStack

	inner *excl.Cell[tcbInner]
}

// NewTaskControlBlock builds the very first task for an ELF image: its
// address space, pid, kernel stack, and the initial trap context that
// makes the first restore land at the ELF entry with sp = user stack top
// (spec §4.7 TaskControlBlock::new).
func NewTaskControlBlock(mem *riscv.PhysMemory, alloc *mm.FrameAllocator, trampolinePPN mm.PhysPageNum, kernelSet *mm.MemorySet, elfData []byte) (*TaskControlBlock, error) {
	ms, userSP, entry, err := mm.FromELF(mem, alloc, trampolinePPN, elfData)
	if err != nil {
		return nil, err
	}
	trapCxPTE, ok := ms.Translate(mm.TrapContextVPN())
	if !ok {
		panic("task: from_elf did not map the trap-context page")
	}

	pid := AllocPid()
	kstack := NewKernelStack(kernelSet, pid.Pid())

	tc := trap.AppInitContext(uint64(entry), uint64(userSP), kernelSet.Token(), uint64(kstack.Top()), 0)

	return &TaskControlBlock{
		Pid:         pid,
		KernelStack: kstack,
		inner: excl.New(tcbInner{
			MemorySet:      ms,
			TrapContextPPN: trapCxPTE.PPN(),
			BaseSize:       uint64(userSP),
			TaskContext:    trap.GotoTrapReturn(uint64(kstack.Top())),
			Status:         StatusReady,
			TrapContext:    tc,
		}),
	}, nil
}

// Fork clones t's user address space page-for-page into a new task,
// allocates it a fresh pid and kernel stack, and copies the parent's
// trap context into the child's — overwriting the child's a0 (x[10])
// with 0 so its next syscall return reads as the child branch, while the
// parent's trap context (and hence its own pending syscall return) is
// left untouched (spec §4.7 fork).
func (t *TaskControlBlock) Fork(mem *riscv.PhysMemory, alloc *mm.FrameAllocator, trampolinePPN mm.PhysPageNum, kernelSet *mm.MemorySet) *TaskControlBlock {
	parent, release := t.inner.Exclusive()

	ms := mm.FromExistedUserSpace(mem, alloc, trampolinePPN, parent.MemorySet)
	trapCxPTE, ok := ms.Translate(mm.TrapContextVPN())
	if !ok {
		panic("task: from_existed_user_space did not map the trap-context page")
	}

	pid := AllocPid()
	kstack := NewKernelStack(kernelSet, pid.Pid())

	childTC := *parent.TrapContext
	childTC.KernelSp = uint64(kstack.Top())
	childTC.X[10] = 0

	child := &TaskControlBlock{
		Pid:         pid,
		KernelStack: kstack,
		inner: excl.New(tcbInner{
			MemorySet:      ms,
			TrapContextPPN: trapCxPTE.PPN(),
			BaseSize:       parent.BaseSize,
			TaskContext:    trap.GotoTrapReturn(uint64(kstack.Top())),
			Status:         StatusReady,
			TrapContext:    &childTC,
			Parent:         weak.Make(t),
		}),
	}
	parent.Children = append(parent.Children, child)
	release()
	return child
}

// Exec replaces t's address space with a fresh image built from elfData,
// preserving pid, kernel stack, and the parent/child graph (spec §4.7
// exec).
func (t *TaskControlBlock) Exec(mem *riscv.PhysMemory, alloc *mm.FrameAllocator, trampolinePPN mm.PhysPageNum, kernelSet *mm.MemorySet, elfData []byte) error {
	ms, userSP, entry, err := mm.FromELF(mem, alloc, trampolinePPN, elfData)
	if err != nil {
		return err
	}
	trapCxPTE, ok := ms.Translate(mm.TrapContextVPN())
	if !ok {
		panic("task: from_elf did not map the trap-context page")
	}

	inner, release := t.inner.Exclusive()
	defer release()
	old := inner.MemorySet
	inner.MemorySet = ms
	inner.TrapContextPPN = trapCxPTE.PPN()
	inner.BaseSize = uint64(userSP)
	inner.TrapContext = trap.AppInitContext(uint64(entry), uint64(userSP), kernelSet.Token(), uint64(t.KernelStack.Top()), 0)
	old.RecycleDataPages()
	return nil
}

// Exit marks t a zombie holding code, re-homes its children to initproc,
// and releases its user-memory frames (spec §4.7 exit). Resources are
// fully released only once the parent's waitpid removes the last strong
// reference to t.
func (t *TaskControlBlock) Exit(code int32, initproc *TaskControlBlock) {
	inner, release := t.inner.Exclusive()
	inner.Status = StatusZombie
	inner.ExitCode = code
	children := inner.Children
	inner.Children = nil
	inner.MemorySet.RecycleDataPages()
	release()

	for _, c := range children {
		c.setParent(initproc)
		initproc.addChild(c)
	}
}

func (t *TaskControlBlock) setParent(parent *TaskControlBlock) {
	inner, release := t.inner.Exclusive()
	defer release()
	inner.Parent = weak.Make(parent)
}

func (t *TaskControlBlock) addChild(child *TaskControlBlock) {
	inner, release := t.inner.Exclusive()
	defer release()
	inner.Children = append(inner.Children, child)
}

// PidValue returns the pid this task holds.
func (t *TaskControlBlock) PidValue() uint64 { return t.Pid.Pid() }

// Parent resolves t's weak parent reference, or nil if the parent has
// already been fully released.
func (t *TaskControlBlock) Parent() *TaskControlBlock {
	inner, release := t.inner.Exclusive()
	defer release()
	return inner.Parent.Value()
}

// Status returns the task's current status.
func (t *TaskControlBlock) Status() Status {
	inner, release := t.inner.Exclusive()
	defer release()
	return inner.Status
}

// SetStatus updates the task's status; used by the scheduler on
// suspend/resume transitions.
func (t *TaskControlBlock) SetStatus(s Status) {
	inner, release := t.inner.Exclusive()
	defer release()
	inner.Status = s
}

// ExitCode returns the code stored by Exit; only meaningful once Status
// is StatusZombie.
func (t *TaskControlBlock) ExitCode() int32 {
	inner, release := t.inner.Exclusive()
	defer release()
	return inner.ExitCode
}

// Children returns a snapshot of t's current strong child references.
func (t *TaskControlBlock) Children() []*TaskControlBlock {
	inner, release := t.inner.Exclusive()
	defer release()
	out := make([]*TaskControlBlock, len(inner.Children))
	copy(out, inner.Children)
	return out
}

// RemoveChild drops child from t's child list (waitpid reaping it).
func (t *TaskControlBlock) RemoveChild(child *TaskControlBlock) {
	inner, release := t.inner.Exclusive()
	defer release()
	for i, c := range inner.Children {
		if c == child {
			inner.Children = append(inner.Children[:i], inner.Children[i+1:]...)
			return
		}
	}
}

// Release returns t's pid and tears down its kernel stack. Go has no
// destructors to run when the last strong reference to a TCB is dropped
// (spec §4.7 "Resources fully released only when the parent's waitpid
// removes the last strong reference"), so the caller that performs that
// removal — waitpid's reaping path — calls Release immediately
// afterward, the hosted-model stand-in for PidHandle/KernelStack's Drop
// firing once the TCB itself goes out of scope.
func (t *TaskControlBlock) Release() {
	t.KernelStack.Release()
	t.Pid.Release()
}

// BaseSize returns the user stack's top VA — equivalently, the size in
// bytes of t's user address space from VA 0 up to that top (spec §3
// "base_size").
func (t *TaskControlBlock) BaseSize() uint64 {
	inner, release := t.inner.Exclusive()
	defer release()
	return inner.BaseSize
}

// Token returns the satp word for t's current address space.
func (t *TaskControlBlock) Token() uint64 {
	inner, release := t.inner.Exclusive()
	defer release()
	return inner.MemorySet.Token()
}

// TrapContext returns t's live trap-context value (see tcbInner's doc
// comment on why it is not serialized into guest physical memory).
func (t *TaskControlBlock) TrapContext() *trap.TrapContext {
	inner, release := t.inner.Exclusive()
	defer release()
	return inner.TrapContext
}

// TaskContext returns a pointer to t's callee-saved switch frame.
func (t *TaskControlBlock) TaskContext() *trap.TaskContext {
	inner, release := t.inner.Exclusive()
	defer release()
	return &inner.TaskContext
}
