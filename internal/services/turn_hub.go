// internal/services/turn_hub.go
package services

import (
	"sync"

	"github.com/sumanurawat/storyboarder/internal/models"
)

// subscriberBuffer 每个订阅通道的缓冲大小
const subscriberBuffer = 10

// TurnUpdate 一轮对话的状态推送
type TurnUpdate struct {
	ProjectID     string           `json:"projectId"`
	Status        TurnStatus       `json:"status"`
	StreamingText string           `json:"streamingText"`
	Document      *models.Document `json:"document,omitempty"`
}

// turnHub 向订阅者广播 TurnUpdate
type turnHub struct {
	mutex       sync.Mutex
	subscribers map[<-chan TurnUpdate]chan TurnUpdate
}

func newTurnHub() *turnHub {
	return &turnHub{subscribers: make(map[<-chan TurnUpdate]chan TurnUpdate)}
}

func (h *turnHub) subscribe() <-chan TurnUpdate {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	ch := make(chan TurnUpdate, subscriberBuffer)
	h.subscribers[ch] = ch
	return ch
}

func (h *turnHub) unsubscribe(ch <-chan TurnUpdate) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if sub, ok := h.subscribers[ch]; ok {
		delete(h.subscribers, ch)
		close(sub)
	}
}

// publish 非阻塞发送；携带文档的更新在通道已满时挤掉最旧的一条
func (h *turnHub) publish(update TurnUpdate) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, sub := range h.subscribers {
		select {
		case sub <- update:
			continue
		default:
		}
		if update.Document == nil {
			continue
		}
		select {
		case <-sub:
		default:
		}
		select {
		case sub <- update:
		default:
		}
	}
}

func (h *turnHub) count() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.subscribers)
}

func (h *turnHub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for key, sub := range h.subscribers {
		delete(h.subscribers, key)
		close(sub)
	}
}
