// Package notify 把内容更新消息广播给所有已连接的客户端。
package notify

import (
	"sync"

	"github.com/gammazero/channelqueue"
	"github.com/google/uuid"
)

// CommandUpdateFound 表示某个导航页面在网络上有了新版本。
const CommandUpdateFound = "UPDATE_FOUND"

// Message 是发送给客户端的结构化消息。
type Message struct {
	Command string `json:"command"`
	URL     string `json:"url"`
}

// Broadcaster 为每个订阅者维护一个无界队列，Broadcast 永不阻塞。
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string]chan<- Message
	closed bool
}

// NewBroadcaster 创建空的广播器。
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]chan<- Message)}
}

// Subscribe 注册一个订阅者，返回其 ID、只读通道以及取消函数。
// 取消后通道会在排空剩余消息后关闭。
func (b *Broadcaster) Subscribe() (string, <-chan Message, func()) {
	cq := channelqueue.New[Message](-1)
	id := uuid.NewString()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(cq.In())
		return id, cq.Out(), func() {}
	}
	b.subs[id] = cq.In()
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { b.remove(id) })
	}
	return id, cq.Out(), cancel
}

// Broadcast 把消息投递到所有订阅者的队列，返回投递数量。
func (b *Broadcaster) Broadcast(msg Message) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, in := range b.subs {
		in <- msg
	}
	return len(b.subs)
}

// Count 返回当前订阅者数量。
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close 关闭全部订阅，之后的 Subscribe 立即得到已关闭的通道。
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, in := range b.subs {
		close(in)
		delete(b.subs, id)
	}
}

func (b *Broadcaster) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if in, ok := b.subs[id]; ok {
		close(in)
		delete(b.subs, id)
	}
}
