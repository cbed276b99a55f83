package container

// UndoLog records inverse steps for container mutations so a failed merge
// batch can be rolled back. A nil *UndoLog discards everything pushed to it.
type UndoLog struct {
	steps []func()
}

func (u *UndoLog) Push(step func()) {
	if u == nil {
		return
	}
	u.steps = append(u.steps, step)
}

// Rollback runs the recorded steps newest first.
func (u *UndoLog) Rollback() {
	if u == nil {
		return
	}
	for i := len(u.steps) - 1; i >= 0; i-- {
		u.steps[i]()
	}
	u.steps = nil
}

func (u *UndoLog) Commit() {
	if u == nil {
		return
	}
	u.steps = nil
}

func (u *UndoLog) Len() int {
	if u == nil {
		return 0
	}
	return len(u.steps)
}
