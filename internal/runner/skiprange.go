package runner

// skipCompactor coalesces consecutive skipped row numbers so a run over
// a mostly-processed dataset logs one line per contiguous block instead
// of one per record. Flush is called with the inclusive block bounds.
type skipCompactor struct {
	active bool
	first  int
	last   int
	flush  func(first, last int)
}

func newSkipCompactor(flush func(first, last int)) *skipCompactor {
	return &skipCompactor{flush: flush}
}

// Add extends the current block or flushes it and starts a new one.
func (c *skipCompactor) Add(row int) {
	if c.active && row == c.last+1 {
		c.last = row
		return
	}
	c.Flush()
	c.active = true
	c.first = row
	c.last = row
}

// Flush emits the pending block, if any. Call once after the loop.
func (c *skipCompactor) Flush() {
	if !c.active {
		return
	}
	c.flush(c.first, c.last)
	c.active = false
}
