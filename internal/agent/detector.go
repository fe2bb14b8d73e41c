package agent

// DuplicateDetector spots a model calling the same tool with the same
// arguments over and over. Arguments are compared as literal strings, so
// {"a":1,"b":2} and {"b":2,"a":1} are different calls.
//
// A detector belongs to one run and is not safe for concurrent use.
type DuplicateDetector struct {
	enabled   bool
	threshold int

	lastTool string
	lastArgs string
	count    int
	seen     bool
}

func NewDuplicateDetector(enabled bool, threshold int) *DuplicateDetector {
	return &DuplicateDetector{enabled: enabled, threshold: threshold}
}

// Observe records a call and reports whether it completes a loop. It must be
// called before the call is dispatched.
func (d *DuplicateDetector) Observe(tool, args string) bool {
	if !d.enabled {
		return false
	}

	if d.seen && tool == d.lastTool && args == d.lastArgs {
		d.count++
	} else {
		d.lastTool = tool
		d.lastArgs = args
		d.count = 0
		d.seen = true
	}

	return d.threshold > 0 && d.count >= d.threshold
}

// Count is the number of consecutive repeats of the current baseline
func (d *DuplicateDetector) Count() int {
	return d.count
}

func (d *DuplicateDetector) Reset() {
	d.lastTool = ""
	d.lastArgs = ""
	d.count = 0
	d.seen = false
}
