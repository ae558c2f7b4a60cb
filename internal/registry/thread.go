package registry

import (
	"sort"

	"sudooom.storefront/internal/model"
)

// Thread 当前打开会话的消息列表（按时间正序）
type Thread struct {
	CounterpartID string          `json:"counterpartId"`
	Messages      []model.Message `json:"messages"`
}

type thread struct {
	counterpartID string
	viewerID      string
	msgs          []model.Message
}

func newThread(counterpartID, viewerID string) *thread {
	return &thread{counterpartID: counterpartID, viewerID: viewerID}
}

// upsert 合并一条消息，返回列表是否变化
// 匹配顺序：服务端 id -> clientMsgId -> 同内容的最早未确认本地消息
func (t *thread) upsert(msg model.Message) bool {
	if msg.ID != "" {
		for _, m := range t.msgs {
			if m.ID == msg.ID {
				return false
			}
		}
	}

	if msg.ClientMsgID != "" {
		for i, m := range t.msgs {
			if m.ClientMsgID == msg.ClientMsgID {
				t.replace(i, msg)
				return true
			}
		}
	}

	// 后端未回传 clientMsgId 时按内容匹配自己的乐观消息
	if msg.ID != "" && msg.SenderID == t.viewerID {
		for i, m := range t.msgs {
			if m.ID == "" && m.State != model.StateConfirmed && m.SenderID == t.viewerID && m.Content == msg.Content {
				t.replace(i, msg)
				return true
			}
		}
	}

	t.msgs = append(t.msgs, msg)
	t.sort()
	return true
}

func (t *thread) replace(i int, msg model.Message) {
	if msg.ClientMsgID == "" {
		msg.ClientMsgID = t.msgs[i].ClientMsgID
	}
	t.msgs[i] = msg
	t.sort()
}

// markFailed 将未确认的本地消息标记为失败
func (t *thread) markFailed(clientMsgID string) bool {
	for i, m := range t.msgs {
		if m.ClientMsgID == clientMsgID && m.State == model.StatePending {
			t.msgs[i].State = model.StateFailed
			return true
		}
	}
	return false
}

func (t *thread) sort() {
	sort.SliceStable(t.msgs, func(i, j int) bool {
		return t.msgs[i].CreatedAt.Before(t.msgs[j].CreatedAt)
	})
}

func (t *thread) snapshot() Thread {
	msgs := make([]model.Message, len(t.msgs))
	copy(msgs, t.msgs)
	return Thread{CounterpartID: t.counterpartID, Messages: msgs}
}
