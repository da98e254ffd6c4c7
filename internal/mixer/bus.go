package mixer

// Bus is the shared chain every pad trigger feeds:
// gain nodes -> limiter -> master gain -> destination.
type Bus struct {
	inputs  map[*GainNode]struct{}
	limiter *Limiter
	master  Param
}

func newBus(cfg LimiterConfig, sampleRate int) (*Bus, error) {
	lim, err := NewLimiter(cfg, sampleRate)
	if err != nil {
		return nil, err
	}
	return &Bus{
		inputs:  make(map[*GainNode]struct{}),
		limiter: lim,
		master:  Param{value: 1},
	}, nil
}

func (b *Bus) process(left, right []float32, frame int64) {
	b.limiter.Process(left, right)
	for i := range left {
		g := float32(b.master.valueAt(frame + int64(i)))
		left[i] *= g
		right[i] *= g
	}
}

// BusStatus describes the master bus for status displays.
type BusStatus struct {
	Available   bool    `json:"available"`
	Inputs      int     `json:"inputs"`
	ReductionDB float64 `json:"reduction_db"`
	MasterGain  float64 `json:"master_gain"`
}

// BusStatus reports the bus state without forcing it to be built.
func (c *Context) BusStatus() BusStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bus == nil {
		return BusStatus{}
	}
	return BusStatus{
		Available:   true,
		Inputs:      len(c.bus.inputs),
		ReductionDB: c.bus.limiter.Reduction(),
		MasterGain:  c.bus.master.value,
	}
}

// SetMasterGain sets the bus output level. It builds the bus if needed.
func (c *Context) SetMasterGain(v float64) error {
	bus, err := c.Bus()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	bus.master = Param{value: v}
	return nil
}
