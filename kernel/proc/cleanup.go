package proc

// Cleanup runs a list of release functions unless ownership of them is
// handed on with Release. Functions run last-added first.
//
//	cu := makeCleanup(func() { free(a) })
//	defer cu.Clean()
//	... more allocation, cu.Add(...) ...
//	keep := cu.Release()
type Cleanup struct {
	cleaners []func()
}

func makeCleanup(f func()) Cleanup {
	return Cleanup{cleaners: []func(){f}}
}

// Add appends f to the list.
func (c *Cleanup) Add(f func()) {
	c.cleaners = append(c.cleaners, f)
}

// Clean runs every function and empties the list.
func (c *Cleanup) Clean() {
	for i := len(c.cleaners) - 1; i >= 0; i-- {
		c.cleaners[i]()
	}
	c.cleaners = nil
}

// Release empties the list and returns a function that runs what it held.
func (c *Cleanup) Release() func() {
	old := c.cleaners
	c.cleaners = nil
	return func() {
		l := Cleanup{cleaners: old}
		l.Clean()
	}
}
