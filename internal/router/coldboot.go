package router

import "sync/atomic"

// ColdBoot 是冷启动模式开关。并发切换时以最后一次写入为准。
type ColdBoot struct {
	active atomic.Bool
}

// Enter 打开冷启动模式。
func (c *ColdBoot) Enter() {
	c.active.Store(true)
}

// Exit 关闭冷启动模式，并返回此前是否处于冷启动。
func (c *ColdBoot) Exit() bool {
	return c.active.Swap(false)
}

// Active 返回当前状态。
func (c *ColdBoot) Active() bool {
	return c.active.Load()
}
