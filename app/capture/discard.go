package capture

// DiscardSink captures nothing. Used when a console is attached and shows the output already.
type DiscardSink struct{}

// Start does nothing
func (d *DiscardSink) Start() error { return nil }

// Stop does nothing
func (d *DiscardSink) Stop() error { return nil }

// Output always empty
func (d *DiscardSink) Output() string { return "" }

func (d *DiscardSink) String() string { return "discard" }
