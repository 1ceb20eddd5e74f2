package checkpoint

func SetAfterSnapshot(m *Manager, fn func()) {
	m.afterSnapshot = fn
}
