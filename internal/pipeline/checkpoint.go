package pipeline

// CheckpointPolicy decides when the store is written during a run. The end of a run always
// writes.
type CheckpointPolicy struct {
	// Every writes once this many records have completed since the last write. 0 disables.
	Every int
	// EachChunk writes after every scheduler chunk.
	EachChunk bool
}

// Checkpointer counts completed records and persists the store per its policy.
type Checkpointer struct {
	save   func() error
	policy CheckpointPolicy

	sinceLast int
	written   int
	onWrite   func()
}

func NewCheckpointer(save func() error, policy CheckpointPolicy) *Checkpointer {
	if policy.Every < 0 {
		policy.Every = 0
	}
	return &Checkpointer{save: save, policy: policy}
}

// OnWrite registers a callback run after every successful write.
func (c *Checkpointer) OnWrite(fn func()) {
	c.onWrite = fn
}

// Advance records n newly completed records at the end of a chunk and writes if due.
func (c *Checkpointer) Advance(n int) (bool, error) {
	c.sinceLast += n
	due := c.policy.EachChunk && c.sinceLast > 0
	if c.policy.Every > 0 && c.sinceLast >= c.policy.Every {
		due = true
	}
	if !due {
		return false, nil
	}
	return true, c.write()
}

// Final writes unconditionally.
func (c *Checkpointer) Final() error {
	return c.write()
}

// Written is the number of successful writes so far.
func (c *Checkpointer) Written() int {
	return c.written
}

func (c *Checkpointer) write() error {
	if err := c.save(); err != nil {
		return err
	}
	c.sinceLast = 0
	c.written++
	if c.onWrite != nil {
		c.onWrite()
	}
	return nil
}
