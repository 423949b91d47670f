package playback

// startPresentTicker begins present-cadence ticks if they are not already
// running. Re-entering a state that needs the ticker never reconfigures a
// live one.
func (m *Manager) startPresentTicker() {
	if m.presentTicker != nil {
		return
	}
	m.presentTicker = m.clock.NewTicker(m.opts.presentInterval)
	m.presentC = m.presentTicker.C()
}

func (m *Manager) stopPresentTicker() {
	if m.presentTicker == nil {
		return
	}
	m.presentTicker.Stop()
	m.presentTicker = nil
	m.presentC = nil
}
